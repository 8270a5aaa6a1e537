package validation

import (
	"encoding/json"

	"github.com/xeipuuv/gojsonschema"

	x402gate "github.com/mark3labs/x402-gate"
)

// paymentPayloadSchema constrains the decoded X-PAYMENT JSON before typed
// unmarshaling dispatches on the authorization variant.
const paymentPayloadSchema = `{
  "type": "object",
  "required": ["x402Version", "scheme", "network", "payload"],
  "properties": {
    "x402Version": {"type": "integer", "minimum": 1},
    "scheme": {"type": "string", "minLength": 1},
    "network": {"type": "string", "minLength": 1},
    "payload": {
      "type": "object",
      "required": ["authorizationType"],
      "properties": {
        "authorizationType": {
          "type": "string",
          "enum": ["permit", "eip3009", "permit2"]
        },
        "signature": {"type": "string", "minLength": 1}
      }
    }
  }
}`

// paymentRequirementsSchema constrains the requirements the server emits in a
// 402 body. The builder re-validates its output against this before returning.
const paymentRequirementsSchema = `{
  "type": "object",
  "required": ["scheme", "network", "maxAmountRequired", "asset", "payTo", "paymentType", "maxTimeoutSeconds"],
  "properties": {
    "scheme": {"type": "string", "enum": ["exact"]},
    "network": {"type": "string", "minLength": 1},
    "maxAmountRequired": {"type": "string", "pattern": "^[0-9]+$"},
    "asset": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
    "payTo": {"type": "string", "minLength": 1},
    "paymentType": {"type": "string", "enum": ["permit", "eip3009", "permit2"]},
    "maxTimeoutSeconds": {"type": "integer", "minimum": 1},
    "resource": {"type": "string"},
    "description": {"type": "string"},
    "mimeType": {"type": "string"}
  }
}`

var (
	payloadSchema      = mustCompileSchema(paymentPayloadSchema)
	requirementsSchema = mustCompileSchema(paymentRequirementsSchema)
)

func mustCompileSchema(source string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		panic("validation: bad schema: " + err.Error())
	}
	return schema
}

// CheckPayloadJSON validates raw decoded X-PAYMENT JSON against the payment
// payload schema. It returns the violations, or nil when the document passes.
func CheckPayloadJSON(data []byte) []string {
	return check(payloadSchema, data)
}

// CheckRequirements validates an assembled requirement against the emitted
// requirements schema. It returns the violations, or nil when it passes.
func CheckRequirements(req x402gate.PaymentRequirements) []string {
	data, err := json.Marshal(req)
	if err != nil {
		return []string{err.Error()}
	}
	return check(requirementsSchema, data)
}

func check(schema *gojsonschema.Schema, data []byte) []string {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return []string{err.Error()}
	}
	if result.Valid() {
		return nil
	}
	issues := make([]string, 0, len(result.Errors()))
	for _, resultError := range result.Errors() {
		issues = append(issues, resultError.String())
	}
	return issues
}

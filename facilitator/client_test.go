package facilitator

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	x402gate "github.com/mark3labs/x402-gate"
	"github.com/mark3labs/x402-gate/retry"
)

func samplePayload() x402gate.PaymentPayload {
	return x402gate.PaymentPayload{
		X402Version: 1,
		Scheme:      x402gate.SchemeExact,
		Network:     x402gate.NetworkBSC,
		Payload: x402gate.AuthorizationPayload{
			Type: x402gate.PaymentTypePermit,
			Permit: &x402gate.PermitAuthorization{
				Owner:     "0x1111111111111111111111111111111111111111",
				Spender:   "0x2222222222222222222222222222222222222222",
				Value:     "1000",
				Nonce:     "0",
				Deadline:  "1999999999",
				Signature: "0xabcdef",
			},
		},
	}
}

func sampleRequirements() x402gate.PaymentRequirements {
	return x402gate.PaymentRequirements{
		Scheme:            x402gate.SchemeExact,
		Network:           x402gate.NetworkBSC,
		MaxAmountRequired: "1000",
		Asset:             "0x3333333333333333333333333333333333333333",
		PayTo:             "0x4444444444444444444444444444444444444444",
		PaymentType:       x402gate.PaymentTypePermit,
		MaxTimeoutSeconds: 300,
	}
}

func TestVerify(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(x402gate.VerifyResult{Success: true, Payer: "0xPAYER"})
	}))
	defer ts.Close()

	client := NewClient(Config{BaseURL: ts.URL, APIKey: "secret-key"})
	result, err := client.Verify(context.Background(), samplePayload(), sampleRequirements())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !result.Success || result.Payer != "0xPAYER" {
		t.Errorf("result = %+v, want success with payer", result)
	}
	if gotAuth != "Bearer secret-key" {
		t.Errorf("Authorization = %q, want Bearer secret-key", gotAuth)
	}
	if gotBody["x402Version"] != float64(1) {
		t.Errorf("request x402Version = %v, want 1", gotBody["x402Version"])
	}
	if _, ok := gotBody["paymentPayload"]; !ok {
		t.Error("request missing paymentPayload")
	}
	if _, ok := gotBody["paymentRequirements"]; !ok {
		t.Error("request missing paymentRequirements")
	}
}

func TestVerifyFailureBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(x402gate.VerifyResult{Success: false, Error: "invalid_signature"})
	}))
	defer ts.Close()

	client := NewClient(Config{BaseURL: ts.URL})
	result, err := client.Verify(context.Background(), samplePayload(), sampleRequirements())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if result.Success {
		t.Error("Success = true, want false")
	}
	if result.Reason() != "invalid_signature" {
		t.Errorf("Reason() = %q, want invalid_signature", result.Reason())
	}
}

func TestVerifyRejectsNonResultErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"unauthorized"}`))
	}))
	defer ts.Close()

	client := NewClient(Config{BaseURL: ts.URL})
	result, err := client.Verify(context.Background(), samplePayload(), sampleRequirements())
	if err != nil {
		t.Fatalf("Verify() error = %v, want structured failure", err)
	}
	if result.Success {
		t.Error("Success = true, want false on auth failure")
	}
	if result.Error != x402gate.ErrFacilitatorUnavailable.Error() {
		t.Errorf("Error = %q, want facilitator unavailable", result.Error)
	}
	if !strings.Contains(result.ErrorMessage, "status 401") {
		t.Errorf("ErrorMessage = %q, want the 401 status surfaced", result.ErrorMessage)
	}
}

func TestVerifyTransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	ts.Close() // refuse connections

	client := NewClient(Config{BaseURL: ts.URL})
	result, err := client.Verify(context.Background(), samplePayload(), sampleRequirements())
	if err != nil {
		t.Fatalf("Verify() error = %v, want structured failure", err)
	}
	if result.Success {
		t.Error("Success = true, want false on transport failure")
	}
	if result.Error != x402gate.ErrFacilitatorUnavailable.Error() {
		t.Errorf("Error = %q, want facilitator unavailable", result.Error)
	}
}

func TestSettleSendsWaitUntil(t *testing.T) {
	var gotBody map[string]interface{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/settle" {
			t.Errorf("path = %s, want /settle", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(x402gate.SettleResult{
			Success: true, Transaction: "0xTX", Network: x402gate.NetworkBSC,
		})
	}))
	defer ts.Close()

	client := NewClient(Config{BaseURL: ts.URL})
	result, err := client.Settle(context.Background(), samplePayload(), sampleRequirements(), "")
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if !result.Success || result.Transaction != "0xTX" {
		t.Errorf("result = %+v, want settled tx", result)
	}
	if gotBody["waitUntil"] != string(x402gate.WaitConfirmed) {
		t.Errorf("waitUntil = %v, want confirmed", gotBody["waitUntil"])
	}
}

func TestSupported(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/supported" {
			t.Errorf("path = %s, want /supported", r.URL.Path)
		}
		if got := r.URL.Query().Get("chainId"); got != "56" {
			t.Errorf("chainId = %q, want 56", got)
		}
		if got := r.URL.Query().Get("tokenAddress"); got != "0x3333333333333333333333333333333333333333" {
			t.Errorf("tokenAddress = %q", got)
		}
		_ = json.NewEncoder(w).Encode(x402gate.SupportedResponse{
			Kinds: []x402gate.SupportedKind{{
				X402Version: 1,
				Scheme:      x402gate.SchemeExact,
				Network:     x402gate.NetworkBSC,
			}},
		})
	}))
	defer ts.Close()

	client := NewClient(Config{BaseURL: ts.URL})
	result, err := client.Supported(context.Background(), big.NewInt(56), "0x3333333333333333333333333333333333333333")
	if err != nil {
		t.Fatalf("Supported() error = %v", err)
	}
	if len(result.Kinds) != 1 || result.Kinds[0].Network != x402gate.NetworkBSC {
		t.Errorf("Kinds = %+v, want one bsc entry", result.Kinds)
	}
}

func TestSupportedNetworkFailureReturnsEmpty(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	ts.Close()

	client := NewClient(Config{
		BaseURL: ts.URL,
		RetryPolicy: retry.Policy{
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   1.0,
		},
	})
	result, err := client.Supported(context.Background(), big.NewInt(56), "")
	if err != nil {
		t.Fatalf("Supported() error = %v, want empty-kinds fallback", err)
	}
	if len(result.Kinds) != 0 {
		t.Errorf("Kinds = %+v, want empty", result.Kinds)
	}
}

// Package server wires the x402 payment pipeline: it owns the token
// detector and facilitator client, builds payment requirements, and runs the
// parse, verify, settle stages that decide whether a request is admitted.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	x402gate "github.com/mark3labs/x402-gate"
	"github.com/mark3labs/x402-gate/detect"
	"github.com/mark3labs/x402-gate/rpc"
	"github.com/mark3labs/x402-gate/validation"
)

// base64JSONPrefix is tolerated at the front of an X-PAYMENT value.
const base64JSONPrefix = "data:application/json;base64,"

// Config configures a payment Server.
type Config struct {
	// RPCClient performs the chain reads token detection needs. Required.
	RPCClient rpc.Client

	// Facilitator verifies and settles payments. Required.
	Facilitator x402gate.Facilitator

	// Network overrides chain-id based network resolution when set.
	Network string

	Logger *slog.Logger
}

// Server is the x402 payment server core. It is safe for concurrent use; the
// detector cache is its only mutable state.
type Server struct {
	rpcClient   rpc.Client
	facilitator x402gate.Facilitator
	detector    *detect.Detector
	network     string
	logger      *slog.Logger
}

// New creates a Server and its token detector.
func New(cfg Config) (*Server, error) {
	if cfg.RPCClient == nil {
		return nil, fmt.Errorf("rpc client is required")
	}
	if cfg.Facilitator == nil {
		return nil, fmt.Errorf("facilitator is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		rpcClient:   cfg.RPCClient,
		facilitator: cfg.Facilitator,
		detector:    detect.New(cfg.RPCClient, logger),
		network:     cfg.Network,
		logger:      logger,
	}, nil
}

// Detector exposes the server's token detector for warm-up and maintenance.
func (s *Server) Detector() *detect.Detector {
	return s.detector
}

// Process runs the parse, verify, settle pipeline for one request. The
// returned result carries the HTTP status to write and, on failure, the
// structured 402/500 body. It never returns an error; failures are values.
func (s *Server) Process(ctx context.Context, paymentHeader string, requirements x402gate.PaymentRequirements) x402gate.ProcessResult {
	payload, failure := s.parse(paymentHeader, requirements)
	if failure != nil {
		return *failure
	}

	verify, err := s.facilitator.Verify(ctx, payload, requirements)
	if err != nil {
		return fail(x402gate.StageVerify, http.StatusPaymentRequired, err.Error(), requirements)
	}
	if !verify.Success {
		s.logger.Info("payment verification rejected", "network", payload.Network, "reason", verify.Reason())
		return fail(x402gate.StageVerify, http.StatusPaymentRequired, verify.Reason(), requirements)
	}
	if verify.Payer == "" {
		return fail(x402gate.StageVerify, http.StatusPaymentRequired, x402gate.ErrPayerNotFound.Error(), requirements)
	}

	settle, err := s.facilitator.Settle(ctx, payload, requirements, x402gate.WaitConfirmed)
	if err != nil {
		return fail(x402gate.StageSettle, http.StatusInternalServerError, err.Error(), requirements)
	}
	if !settle.Success {
		s.logger.Error("payment settlement failed", "network", payload.Network, "reason", settle.Reason())
		return fail(x402gate.StageSettle, http.StatusInternalServerError, settle.Reason(), requirements)
	}

	s.logger.Info("payment settled",
		"network", payload.Network, "payer", verify.Payer, "tx", settle.Transaction)
	return x402gate.ProcessResult{
		Success: true,
		Status:  http.StatusOK,
		Payer:   verify.Payer,
		TxHash:  settle.Transaction,
	}
}

// parse decodes and validates the X-PAYMENT header. A nil failure means the
// payload is well-formed and coupled with the server's expected requirements.
func (s *Server) parse(header string, requirements x402gate.PaymentRequirements) (x402gate.PaymentPayload, *x402gate.ProcessResult) {
	var payload x402gate.PaymentPayload

	if header == "" {
		failure := fail(x402gate.StageParse, http.StatusPaymentRequired,
			x402gate.ErrMissingPaymentHeader.Error(), requirements)
		return payload, &failure
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, base64JSONPrefix))
	if err != nil {
		failure := invalidHeader(requirements, "invalid base64 encoding")
		return payload, &failure
	}

	if issues := validation.CheckPayloadJSON(raw); len(issues) > 0 {
		failure := invalidHeader(requirements, strings.Join(issues, "; "))
		return payload, &failure
	}

	if err := json.Unmarshal(raw, &payload); err != nil {
		failure := invalidHeader(requirements, err.Error())
		return payload, &failure
	}

	if err := validation.ValidatePayload(payload); err != nil {
		failure := invalidHeader(requirements, err.Error())
		return payload, &failure
	}

	return payload, nil
}

func invalidHeader(requirements x402gate.PaymentRequirements, reason string) x402gate.ProcessResult {
	message := x402gate.ErrInvalidPaymentHeader.Error()
	if reason != "" {
		message += ": " + reason
	}
	return fail(x402gate.StageParse, http.StatusPaymentRequired, message, requirements)
}

func fail(stage x402gate.Stage, status int, message string, requirements x402gate.PaymentRequirements) x402gate.ProcessResult {
	return x402gate.ProcessResult{
		Success: false,
		Status:  status,
		Response: &x402gate.PaymentRequiredResponse{
			X402Version: x402gate.ProtocolVersion,
			Accepts:     []x402gate.PaymentRequirements{requirements},
			Error:       message,
			ErrorStage:  stage,
		},
	}
}

// Challenge builds the bare 402 body served when a request arrives with no
// payment at all.
func Challenge(requirements x402gate.PaymentRequirements) *x402gate.PaymentRequiredResponse {
	return &x402gate.PaymentRequiredResponse{
		X402Version: x402gate.ProtocolVersion,
		Accepts:     []x402gate.PaymentRequirements{requirements},
	}
}

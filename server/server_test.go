package server

import (
	"context"
	"encoding/base64"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	x402gate "github.com/mark3labs/x402-gate"
	"github.com/mark3labs/x402-gate/encoding"
)

// fakeRPC implements rpc.Client over in-memory maps.
type fakeRPC struct {
	mu           sync.Mutex
	chainID      *big.Int
	code         map[common.Address][]byte
	readContract func(addr common.Address, fn string, args ...interface{}) ([]interface{}, error)
	calls        int
}

func (f *fakeRPC) count() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeRPC) GetCode(_ context.Context, address common.Address) ([]byte, error) {
	f.count()
	return f.code[address], nil
}

func (f *fakeRPC) GetStorageAt(context.Context, common.Address, common.Hash) ([]byte, error) {
	f.count()
	return make([]byte, 32), nil
}

func (f *fakeRPC) ReadContract(_ context.Context, address common.Address, _ string, fn string, args ...interface{}) ([]interface{}, error) {
	f.count()
	if f.readContract == nil {
		return nil, errors.New("execution reverted")
	}
	return f.readContract(address, fn, args...)
}

func (f *fakeRPC) ChainID(context.Context) (*big.Int, error) {
	f.count()
	return f.chainID, nil
}

// stubFacilitator returns scripted results and records call counts.
type stubFacilitator struct {
	verifyResult   *x402gate.VerifyResult
	verifyErr      error
	settleResult   *x402gate.SettleResult
	settleErr      error
	supported      *x402gate.SupportedResponse
	supportedErr   error
	verifyCalls    int
	settleCalls    int
	supportedCalls int
}

func (s *stubFacilitator) Verify(context.Context, x402gate.PaymentPayload, x402gate.PaymentRequirements) (*x402gate.VerifyResult, error) {
	s.verifyCalls++
	return s.verifyResult, s.verifyErr
}

func (s *stubFacilitator) Settle(context.Context, x402gate.PaymentPayload, x402gate.PaymentRequirements, x402gate.WaitUntil) (*x402gate.SettleResult, error) {
	s.settleCalls++
	return s.settleResult, s.settleErr
}

func (s *stubFacilitator) Supported(context.Context, *big.Int, string) (*x402gate.SupportedResponse, error) {
	s.supportedCalls++
	if s.supported == nil && s.supportedErr == nil {
		return &x402gate.SupportedResponse{}, nil
	}
	return s.supported, s.supportedErr
}

func newTestServer(t *testing.T, facilitator x402gate.Facilitator) *Server {
	t.Helper()
	srv, err := New(Config{
		RPCClient:   &fakeRPC{chainID: big.NewInt(56)},
		Facilitator: facilitator,
		Network:     x402gate.NetworkBSC,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func testRequirements() x402gate.PaymentRequirements {
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

func validHeader(t *testing.T) string {
	t.Helper()
	header, err := encoding.EncodePayment(x402gate.PaymentPayload{
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
	})
	if err != nil {
		t.Fatalf("EncodePayment() error = %v", err)
	}
	return header
}

func assertFailure(t *testing.T, result x402gate.ProcessResult, status int, stage x402gate.Stage, errSubstring string) {
	t.Helper()
	if result.Success {
		t.Fatal("Success = true, want failure")
	}
	if result.Status != status {
		t.Errorf("Status = %d, want %d", result.Status, status)
	}
	if result.Response == nil {
		t.Fatal("Response = nil, want structured body")
	}
	if result.Response.X402Version != 1 {
		t.Errorf("X402Version = %d, want 1", result.Response.X402Version)
	}
	if result.Response.ErrorStage != stage {
		t.Errorf("ErrorStage = %q, want %q", result.Response.ErrorStage, stage)
	}
	if !strings.Contains(result.Response.Error, errSubstring) {
		t.Errorf("Error = %q, want substring %q", result.Response.Error, errSubstring)
	}
	if len(result.Response.Accepts) != 1 {
		t.Errorf("Accepts has %d entries, want 1", len(result.Response.Accepts))
	}
}

func TestProcessMissingHeader(t *testing.T) {
	facilitator := &stubFacilitator{}
	srv := newTestServer(t, facilitator)

	result := srv.Process(context.Background(), "", testRequirements())

	assertFailure(t, result, http.StatusPaymentRequired, x402gate.StageParse, "missing_payment_header")
	if facilitator.verifyCalls != 0 {
		t.Errorf("verify calls = %d, want 0", facilitator.verifyCalls)
	}
}

func TestProcessParseFailures(t *testing.T) {
	tests := []struct {
		name   string
		header string
		detail string
	}{
		{"invalid base64", "!!!not-base64!!!", "invalid base64"},
		{"schema violation", base64.StdEncoding.EncodeToString([]byte(`{"x402Version":1}`)), "invalid_payment_header"},
		{"unknown authorization", base64.StdEncoding.EncodeToString([]byte(
			`{"x402Version":1,"scheme":"exact","network":"bsc","payload":{"authorizationType":"barter"}}`)), "invalid_payment_header"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facilitator := &stubFacilitator{}
			srv := newTestServer(t, facilitator)

			result := srv.Process(context.Background(), tt.header, testRequirements())

			assertFailure(t, result, http.StatusPaymentRequired, x402gate.StageParse, tt.detail)
			if facilitator.verifyCalls != 0 {
				t.Errorf("verify calls = %d, want 0", facilitator.verifyCalls)
			}
		})
	}
}

func TestProcessVerifyRejected(t *testing.T) {
	facilitator := &stubFacilitator{
		verifyResult: &x402gate.VerifyResult{Success: false, Error: "invalid_signature"},
	}
	srv := newTestServer(t, facilitator)

	result := srv.Process(context.Background(), validHeader(t), testRequirements())

	assertFailure(t, result, http.StatusPaymentRequired, x402gate.StageVerify, "invalid_signature")
	if facilitator.settleCalls != 0 {
		t.Errorf("settle calls = %d, want 0 after verify failure", facilitator.settleCalls)
	}
}

func TestProcessVerifyMissingPayer(t *testing.T) {
	facilitator := &stubFacilitator{
		verifyResult: &x402gate.VerifyResult{Success: true},
	}
	srv := newTestServer(t, facilitator)

	result := srv.Process(context.Background(), validHeader(t), testRequirements())

	assertFailure(t, result, http.StatusPaymentRequired, x402gate.StageVerify, "Payer address not found")
}

func TestProcessSettleFailed(t *testing.T) {
	facilitator := &stubFacilitator{
		verifyResult: &x402gate.VerifyResult{Success: true, Payer: "0xPAYER"},
		settleResult: &x402gate.SettleResult{Success: false, Error: "insufficient_gas"},
	}
	srv := newTestServer(t, facilitator)

	result := srv.Process(context.Background(), validHeader(t), testRequirements())

	assertFailure(t, result, http.StatusInternalServerError, x402gate.StageSettle, "insufficient_gas")
	if facilitator.verifyCalls != 1 || facilitator.settleCalls != 1 {
		t.Errorf("calls = verify %d settle %d, want 1/1", facilitator.verifyCalls, facilitator.settleCalls)
	}
}

func TestProcessHappyPath(t *testing.T) {
	facilitator := &stubFacilitator{
		verifyResult: &x402gate.VerifyResult{Success: true, Payer: "0xPAYER"},
		settleResult: &x402gate.SettleResult{Success: true, Transaction: "0xTX", Network: x402gate.NetworkBSC},
	}
	srv := newTestServer(t, facilitator)

	result := srv.Process(context.Background(), validHeader(t), testRequirements())

	if !result.Success {
		t.Fatalf("Success = false, response = %+v", result.Response)
	}
	if result.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200", result.Status)
	}
	if result.Payer != "0xPAYER" || result.TxHash != "0xTX" {
		t.Errorf("result = payer %q tx %q, want 0xPAYER/0xTX", result.Payer, result.TxHash)
	}
	if result.Response != nil {
		t.Errorf("Response = %+v, want nil on success", result.Response)
	}
}

func TestProcessDataPrefixHeader(t *testing.T) {
	facilitator := &stubFacilitator{
		verifyResult: &x402gate.VerifyResult{Success: true, Payer: "0xPAYER"},
		settleResult: &x402gate.SettleResult{Success: true, Transaction: "0xTX"},
	}
	srv := newTestServer(t, facilitator)

	header := "data:application/json;base64," + validHeader(t)
	result := srv.Process(context.Background(), header, testRequirements())

	if !result.Success {
		t.Fatalf("Success = false with data prefix, response = %+v", result.Response)
	}
}

func TestChallenge(t *testing.T) {
	requirements := testRequirements()
	response := Challenge(requirements)
	if response.X402Version != 1 || len(response.Accepts) != 1 {
		t.Errorf("Challenge() = %+v, want version 1 with one requirement", response)
	}
	if response.Error != "" || response.ErrorStage != "" {
		t.Errorf("Challenge() carries error fields: %+v", response)
	}
}

package gin

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	x402gate "github.com/mark3labs/x402-gate"
	"github.com/mark3labs/x402-gate/encoding"
	httpx402 "github.com/mark3labs/x402-gate/http"
	"github.com/mark3labs/x402-gate/server"
)

type fakeRPC struct{ chainID *big.Int }

func (f *fakeRPC) GetCode(context.Context, common.Address) ([]byte, error) { return nil, nil }

func (f *fakeRPC) GetStorageAt(context.Context, common.Address, common.Hash) ([]byte, error) {
	return make([]byte, 32), nil
}

func (f *fakeRPC) ReadContract(context.Context, common.Address, string, string, ...interface{}) ([]interface{}, error) {
	return nil, errors.New("execution reverted")
}

func (f *fakeRPC) ChainID(context.Context) (*big.Int, error) { return f.chainID, nil }

type stubFacilitator struct {
	verifyResult *x402gate.VerifyResult
	settleResult *x402gate.SettleResult
}

func (s *stubFacilitator) Verify(context.Context, x402gate.PaymentPayload, x402gate.PaymentRequirements) (*x402gate.VerifyResult, error) {
	return s.verifyResult, nil
}

func (s *stubFacilitator) Settle(context.Context, x402gate.PaymentPayload, x402gate.PaymentRequirements, x402gate.WaitUntil) (*x402gate.SettleResult, error) {
	return s.settleResult, nil
}

func (s *stubFacilitator) Supported(context.Context, *big.Int, string) (*x402gate.SupportedResponse, error) {
	return &x402gate.SupportedResponse{}, nil
}

func newRouter(t *testing.T, facilitator x402gate.Facilitator) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv, err := server.New(server.Config{
		RPCClient:   &fakeRPC{chainID: big.NewInt(56)},
		Facilitator: facilitator,
	})
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}

	router := gin.New()
	router.Use(NewMiddleware(&httpx402.Config{
		Server: srv,
		Resolver: httpx402.StaticResolver{Config: server.RequirementsConfig{
			Asset:             "0x8d0D000Ee44948FC98c9B98A4FA4921476f08B0d",
			MaxAmountRequired: "1000",
			PayTo:             "0x4444444444444444444444444444444444444444",
			Network:           x402gate.NetworkBSC,
		}},
	}))
	router.GET("/premium", func(c *gin.Context) {
		value, exists := c.Get(PaymentKey)
		if !exists {
			t.Error("handler ran without payment in gin context")
			c.Status(http.StatusInternalServerError)
			return
		}
		payment := value.(*httpx402.Payment)
		c.String(http.StatusOK, "paid by "+payment.Payer)
	})
	return router
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

func TestGinMiddlewareMissingPayment(t *testing.T) {
	router := newRouter(t, &stubFacilitator{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/premium", nil))

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	var body x402gate.PaymentRequiredResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response body is not JSON: %v", err)
	}
	if body.Error != "missing_payment_header" {
		t.Errorf("Error = %q, want missing_payment_header", body.Error)
	}
}

func TestGinMiddlewareHappyPath(t *testing.T) {
	router := newRouter(t, &stubFacilitator{
		verifyResult: &x402gate.VerifyResult{Success: true, Payer: "0xPAYER"},
		settleResult: &x402gate.SettleResult{Success: true, Transaction: "0xTX", Network: x402gate.NetworkBSC},
	})

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set("X-PAYMENT", validHeader(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "paid by 0xPAYER" {
		t.Errorf("body = %q, want handler output", rec.Body.String())
	}
	if rec.Header().Get("X-PAYMENT-RESPONSE") == "" {
		t.Error("X-PAYMENT-RESPONSE header missing")
	}
}

func TestGinMiddlewareVerifyRejected(t *testing.T) {
	router := newRouter(t, &stubFacilitator{
		verifyResult: &x402gate.VerifyResult{Success: false, Error: "invalid_signature"},
	})

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set("X-PAYMENT", validHeader(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	var body x402gate.PaymentRequiredResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response body is not JSON: %v", err)
	}
	if body.ErrorStage != x402gate.StageVerify || body.Error != "invalid_signature" {
		t.Errorf("body = %+v, want verify rejection", body)
	}
}

func TestGinMiddlewareCancelledRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv, err := server.New(server.Config{
		RPCClient: &fakeRPC{chainID: big.NewInt(56)},
		Facilitator: &stubFacilitator{
			verifyResult: &x402gate.VerifyResult{Success: true, Payer: "0xPAYER"},
			settleResult: &x402gate.SettleResult{Success: true, Transaction: "0xTX", Network: x402gate.NetworkBSC},
		},
	})
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}

	called := false
	router := gin.New()
	router.Use(NewMiddleware(&httpx402.Config{
		Server: srv,
		Resolver: httpx402.StaticResolver{Config: server.RequirementsConfig{
			Asset:             "0x8d0D000Ee44948FC98c9B98A4FA4921476f08B0d",
			MaxAmountRequired: "1000",
			PayTo:             "0x4444444444444444444444444444444444444444",
			Network:           x402gate.NetworkBSC,
		}},
	}))
	router.GET("/premium", func(c *gin.Context) {
		called = true
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/premium", nil).WithContext(ctx)
	req.Header.Set("X-PAYMENT", validHeader(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if called {
		t.Error("handler ran on a cancelled request")
	}
	if rec.Header().Get("X-PAYMENT-RESPONSE") != "" {
		t.Error("X-PAYMENT-RESPONSE set on a cancelled request")
	}
}

func TestGinMiddlewareOptionsBypass(t *testing.T) {
	router := newRouter(t, &stubFacilitator{})
	router.OPTIONS("/premium", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/premium", nil))

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204 bypassing the gate", rec.Code)
	}
}

package services

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/javajoker/hotspot-billing/internal/gateway"
	"github.com/javajoker/hotspot-billing/internal/models"
)

type fakeAdapter struct {
	mu         sync.Mutex
	kind       models.GatewayKind
	verify     *gateway.VerifyResult
	verifyErr  error
	initErr    error
	verifies   int
	initiated  []gateway.InitiateRequest
	nextTokens []string
}

func (a *fakeAdapter) Kind() models.GatewayKind { return a.kind }

func (a *fakeAdapter) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initErr != nil {
		return nil, a.initErr
	}
	a.initiated = append(a.initiated, req)
	token := "ws_CO_" + uuid.NewString()
	if len(a.nextTokens) > 0 {
		token, a.nextTokens = a.nextTokens[0], a.nextTokens[1:]
	}
	return &gateway.InitiateResult{
		CorrelationToken:  token,
		MerchantRequestID: "mr-" + token,
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

func (a *fakeAdapter) VerifyStatus(ctx context.Context, token string) (*gateway.VerifyResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.verifies++
	if a.verifyErr != nil {
		return nil, &gateway.VerificationError{Gateway: a.kind, Token: token, Err: a.verifyErr}
	}
	if a.verify == nil {
		return &gateway.VerifyResult{State: gateway.StatePending}, nil
	}
	v := *a.verify
	return &v, nil
}

func (a *fakeAdapter) ParseCallback(body []byte, header http.Header) (*gateway.CallbackOutcome, error) {
	return nil, errors.New("not used")
}

func (a *fakeAdapter) setVerify(v *gateway.VerifyResult, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.verify = v
	a.verifyErr = err
}

func (a *fakeAdapter) verifyCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.verifies
}

type fakeGateways struct {
	adapter *fakeAdapter
	err     error
}

func newFakeGateways() *fakeGateways {
	return &fakeGateways{adapter: &fakeAdapter{kind: models.GatewayMpesaSTK}}
}

func (g *fakeGateways) ActiveKind(ctx context.Context, resellerID uint) (models.GatewayKind, error) {
	return g.adapter.kind, nil
}

func (g *fakeGateways) Adapter(ctx context.Context, resellerID uint, kind models.GatewayKind) (gateway.Adapter, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.adapter, nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	notices   []VoucherNotice
	exhausted []*models.Transaction
}

func (n *fakeNotifier) SendVoucher(ctx context.Context, notice VoucherNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

func (n *fakeNotifier) AlertVoucherExhaustion(ctx context.Context, txn *models.Transaction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.exhausted = append(n.exhausted, txn)
}

func (n *fakeNotifier) sent() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

func (n *fakeNotifier) alerts() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.exhausted)
}

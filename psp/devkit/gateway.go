// Package devkit provides a deterministic in-memory payment gateway for
// local development and tests. Every operation succeeds unless a failure was
// scripted beforehand, and all calls are recorded for inspection.
package devkit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-settlement/core"
)

const DefaultProviderID = "devkit"

type Gateway struct {
	mu sync.Mutex

	providerID string
	sequence   int

	failIntents   int
	failRefunds   int
	failTransfers map[string]int

	intents   []core.PSPIntentRequest
	transfers []core.PSPTransferRequest
	refunds   []core.PSPRefundRequest

	transfersByKey map[string]core.PSPTransferResult
}

type Option func(*Gateway)

func WithProviderID(id string) Option {
	return func(g *Gateway) {
		trimmed := strings.ToLower(strings.TrimSpace(id))
		if trimmed != "" {
			g.providerID = trimmed
		}
	}
}

func New(options ...Option) *Gateway {
	gateway := &Gateway{
		providerID:     DefaultProviderID,
		failTransfers:  map[string]int{},
		transfersByKey: map[string]core.PSPTransferResult{},
	}
	for _, option := range options {
		if option != nil {
			option(gateway)
		}
	}
	return gateway
}

func (g *Gateway) ProviderID() string {
	if g == nil {
		return DefaultProviderID
	}
	return g.providerID
}

// FailNextIntents scripts the next n CreateIntent calls to fail.
func (g *Gateway) FailNextIntents(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failIntents = n
}

// FailNextRefunds scripts the next n Refund calls to fail.
func (g *Gateway) FailNextRefunds(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failRefunds = n
}

// FailTransfersFor scripts the next n transfers to the recipient to fail.
func (g *Gateway) FailTransfersFor(recipientID string, n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failTransfers[strings.TrimSpace(recipientID)] = n
}

func (g *Gateway) CreateIntent(ctx context.Context, req core.PSPIntentRequest) (core.PSPIntentResult, error) {
	if err := ctx.Err(); err != nil {
		return core.PSPIntentResult{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.intents = append(g.intents, req)
	if g.failIntents > 0 {
		g.failIntents--
		return core.PSPIntentResult{}, fmt.Errorf("devkit: scripted intent failure")
	}
	g.sequence++
	intentID := fmt.Sprintf("%s_pi_%06d", g.providerID, g.sequence)
	return core.PSPIntentResult{
		ProviderIntentID: intentID,
		ClientSecret:     intentID + "_secret",
	}, nil
}

// CaptureAndTransfer is idempotent on the request's idempotency key: a
// repeated call returns the first result instead of minting a new transfer.
func (g *Gateway) CaptureAndTransfer(ctx context.Context, req core.PSPTransferRequest) (core.PSPTransferResult, error) {
	if err := ctx.Err(); err != nil {
		return core.PSPTransferResult{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.transfers = append(g.transfers, req)
	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		if previous, seen := g.transfersByKey[key]; seen {
			return previous, nil
		}
	}
	recipient := strings.TrimSpace(req.RecipientID)
	if remaining := g.failTransfers[recipient]; remaining > 0 {
		g.failTransfers[recipient] = remaining - 1
		return core.PSPTransferResult{}, fmt.Errorf("devkit: scripted transfer failure for recipient %s", recipient)
	}
	g.sequence++
	result := core.PSPTransferResult{
		ProviderTransferID: fmt.Sprintf("%s_tr_%06d", g.providerID, g.sequence),
		Status:             "paid",
	}
	if key != "" {
		g.transfersByKey[key] = result
	}
	return result, nil
}

func (g *Gateway) Refund(ctx context.Context, req core.PSPRefundRequest) (core.PSPRefundResult, error) {
	if err := ctx.Err(); err != nil {
		return core.PSPRefundResult{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.refunds = append(g.refunds, req)
	if g.failRefunds > 0 {
		g.failRefunds--
		return core.PSPRefundResult{}, fmt.Errorf("devkit: scripted refund failure")
	}
	g.sequence++
	return core.PSPRefundResult{
		ProviderRefundID: fmt.Sprintf("%s_rf_%06d", g.providerID, g.sequence),
		Status:           "refunded",
	}, nil
}

// Intents returns a copy of every recorded intent request.
func (g *Gateway) Intents() []core.PSPIntentRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]core.PSPIntentRequest(nil), g.intents...)
}

// Transfers returns a copy of every recorded transfer request, including
// idempotent replays.
func (g *Gateway) Transfers() []core.PSPTransferRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]core.PSPTransferRequest(nil), g.transfers...)
}

// Refunds returns a copy of every recorded refund request.
func (g *Gateway) Refunds() []core.PSPRefundRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]core.PSPRefundRequest(nil), g.refunds...)
}

var _ core.PSPGateway = (*Gateway)(nil)

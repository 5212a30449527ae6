package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-settlement/core"
)

const (
	DeliveryStatusPending    = "pending"
	DeliveryStatusProcessing = "processing"
	DeliveryStatusProcessed  = "processed"
	DeliveryStatusRetryReady = "retry_ready"
	DeliveryStatusDead       = "dead"
)

// Request is one raw inbound provider webhook before any parsing.
type Request struct {
	ProviderID string
	Body       []byte
	Headers    map[string]string
	Metadata   map[string]any
}

// Result is the transport-facing outcome of processing one delivery.
type Result struct {
	Accepted   bool
	StatusCode int
	Reconcile  core.ReconcileResult
	Metadata   map[string]any
}

// DeliveryRecord tracks one provider delivery through the dedupe ledger.
type DeliveryRecord struct {
	ID            string
	ClaimID       string
	ProviderID    string
	DeliveryID    string
	Status        string
	Attempts      int
	NextAttemptAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeliveryLedger dedupes provider deliveries by (provider id, delivery id).
// Claim returns claimed=false when the delivery is already processed or held
// by another worker; the caller then acknowledges without side effects.
type DeliveryLedger interface {
	Claim(
		ctx context.Context,
		providerID string,
		deliveryID string,
		payload []byte,
		lease time.Duration,
	) (DeliveryRecord, bool, error)
	Get(ctx context.Context, providerID string, deliveryID string) (DeliveryRecord, error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) error
}

// Verifier authenticates the raw request before anything is parsed.
type Verifier interface {
	Verify(ctx context.Context, req Request) error
}

// EventDecoder turns a verified raw request into the normalized provider
// event the engine reconciles.
type EventDecoder func(req Request) (core.ProviderEvent, error)

type DeliveryIDExtractor func(req Request) (string, error)

type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialRetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

func (p ExponentialRetryPolicy) NextDelay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = 30 * time.Second
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

// Reconciler is the engine capability the processor drives.
type Reconciler interface {
	ApplyProviderEvent(ctx context.Context, event core.ProviderEvent) (core.ReconcileResult, error)
}

// Processor is the inbound webhook pipeline: verify, dedupe, decode,
// reconcile. Retryable failures are recorded in the ledger with a backoff
// schedule; permanent failures complete the delivery so the provider stops
// retrying a payload that will never parse.
type Processor struct {
	Verifier    Verifier
	Ledger      DeliveryLedger
	Reconciler  Reconciler
	Decode      EventDecoder
	ExtractID   DeliveryIDExtractor
	RetryPolicy RetryPolicy
	ClaimLease  time.Duration
	MaxAttempts int
	Now         func() time.Time
}

func NewProcessor(verifier Verifier, ledger DeliveryLedger, reconciler Reconciler) *Processor {
	return &Processor{
		Verifier:    verifier,
		Ledger:      ledger,
		Reconciler:  reconciler,
		Decode:      DefaultEventDecoder,
		ExtractID:   DefaultDeliveryIDExtractor,
		RetryPolicy: ExponentialRetryPolicy{},
		ClaimLease:  30 * time.Second,
		MaxAttempts: 8,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if p == nil || p.Reconciler == nil || p.Ledger == nil {
		return Result{}, fmt.Errorf("webhooks: processor requires reconciler and ledger")
	}

	providerID := strings.ToLower(strings.TrimSpace(req.ProviderID))
	if providerID == "" {
		return Result{}, fmt.Errorf("webhooks: provider id is required")
	}
	req.ProviderID = providerID

	if p.Verifier != nil {
		if err := p.Verifier.Verify(ctx, req); err != nil {
			return Result{
				Accepted:   false,
				StatusCode: http.StatusUnauthorized,
				Metadata: map[string]any{
					"provider_id": providerID,
					"rejected":    true,
				},
			}, err
		}
	}

	extractor := p.ExtractID
	if extractor == nil {
		extractor = DefaultDeliveryIDExtractor
	}
	deliveryID, err := extractor(req)
	if err != nil {
		return Result{}, err
	}

	delivery, claimed, err := p.Ledger.Claim(ctx, providerID, deliveryID, req.Body, p.claimLease())
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		return Result{
			Accepted:   true,
			StatusCode: http.StatusOK,
			Metadata: map[string]any{
				"provider_id": providerID,
				"delivery_id": delivery.DeliveryID,
				"status":      delivery.Status,
				"deduped":     true,
			},
		}, nil
	}

	decode := p.Decode
	if decode == nil {
		decode = DefaultEventDecoder
	}
	event, err := decode(req)
	if err != nil {
		// A payload that does not parse never will; completing the claim
		// stops the provider's retry loop.
		if markErr := p.Ledger.Complete(ctx, delivery.ClaimID); markErr != nil {
			return Result{}, markErr
		}
		return Result{
			Accepted:   false,
			StatusCode: http.StatusBadRequest,
			Metadata: map[string]any{
				"provider_id": providerID,
				"delivery_id": deliveryID,
			},
		}, err
	}
	event.ProviderID = providerID
	event.DeliveryID = deliveryID

	reconciled, err := p.Reconciler.ApplyProviderEvent(ctx, event)
	if err != nil {
		if permanentReconcileError(err) {
			if markErr := p.Ledger.Complete(ctx, delivery.ClaimID); markErr != nil {
				return Result{}, markErr
			}
			return Result{
				Accepted:   false,
				StatusCode: reconcileStatusCode(err),
				Metadata: map[string]any{
					"provider_id": providerID,
					"delivery_id": deliveryID,
				},
			}, err
		}
		nextAttemptAt := p.now().Add(p.retryPolicy().NextDelay(delivery.Attempts))
		_ = p.Ledger.Fail(ctx, delivery.ClaimID, err, nextAttemptAt, p.maxAttempts())
		return Result{}, err
	}

	if err := p.Ledger.Complete(ctx, delivery.ClaimID); err != nil {
		return Result{}, err
	}
	return Result{
		Accepted:   true,
		StatusCode: http.StatusOK,
		Reconcile:  reconciled,
		Metadata: map[string]any{
			"provider_id": providerID,
			"delivery_id": deliveryID,
			"duplicate":   reconciled.Duplicate,
		},
	}, nil
}

// permanentReconcileError reports failures no retry can fix: a payload
// without a correlation id, or a state conflict the provider cannot resolve
// by redelivering.
func permanentReconcileError(err error) bool {
	return errors.Is(err, core.ErrCorrelationMissing) ||
		errors.Is(err, core.ErrEscrowAlreadyActive) ||
		errors.Is(err, core.ErrInvalidMilestoneStatusTransition)
}

func reconcileStatusCode(err error) int {
	switch {
	case errors.Is(err, core.ErrCorrelationMissing):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrEscrowAlreadyActive),
		errors.Is(err, core.ErrInvalidMilestoneStatusTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// DefaultEventDecoder parses the generic provider payload shape: a type, an
// object id and a correlation field carrying the transaction id.
func DefaultEventDecoder(req Request) (core.ProviderEvent, error) {
	var payload struct {
		Type   string `json:"type"`
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
		CorrelationID string         `json:"correlation_id"`
		OccurredAt    time.Time      `json:"occurred_at"`
		Data          map[string]any `json:"data"`
	}
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return core.ProviderEvent{}, fmt.Errorf("webhooks: payload is not valid json: %w", err)
	}
	if strings.TrimSpace(payload.Type) == "" {
		return core.ProviderEvent{}, fmt.Errorf("webhooks: payload carries no event type")
	}
	return core.ProviderEvent{
		Type:             strings.TrimSpace(payload.Type),
		ProviderObjectID: strings.TrimSpace(payload.Object.ID),
		CorrelationID:    strings.TrimSpace(payload.CorrelationID),
		OccurredAt:       payload.OccurredAt,
		Raw:              payload.Data,
	}, nil
}

func DefaultDeliveryIDExtractor(req Request) (string, error) {
	if req.Metadata != nil {
		if value := strings.TrimSpace(fmt.Sprint(req.Metadata["delivery_id"])); value != "" && value != "<nil>" {
			return value, nil
		}
	}
	if req.Headers != nil {
		if value := headerValue(req.Headers, "x-delivery-id"); value != "" {
			return value, nil
		}
		if value := headerValue(req.Headers, "x-webhook-id"); value != "" {
			return value, nil
		}
	}
	return "", fmt.Errorf("webhooks: delivery id is required for dedupe")
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Processor) retryPolicy() RetryPolicy {
	if p != nil && p.RetryPolicy != nil {
		return p.RetryPolicy
	}
	return ExponentialRetryPolicy{}
}

func (p *Processor) claimLease() time.Duration {
	if p != nil && p.ClaimLease > 0 {
		return p.ClaimLease
	}
	return 30 * time.Second
}

func (p *Processor) maxAttempts() int {
	if p != nil && p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 8
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

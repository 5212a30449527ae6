package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/goliatone/go-settlement/core"
)

type fakeLedger struct {
	claimed      bool
	claimRecord  DeliveryRecord
	claimErr     error
	claimCalls   int
	completed    []string
	failedClaims []string
	failCause    error
	nextAttempt  time.Time
	maxAttempts  int
}

func (l *fakeLedger) Claim(_ context.Context, providerID string, deliveryID string, _ []byte, _ time.Duration) (DeliveryRecord, bool, error) {
	l.claimCalls++
	if l.claimErr != nil {
		return DeliveryRecord{}, false, l.claimErr
	}
	record := l.claimRecord
	if record.DeliveryID == "" {
		record.DeliveryID = deliveryID
	}
	if record.ProviderID == "" {
		record.ProviderID = providerID
	}
	if record.ClaimID == "" {
		record.ClaimID = "claim-1"
	}
	return record, l.claimed, nil
}

func (l *fakeLedger) Get(context.Context, string, string) (DeliveryRecord, error) {
	return DeliveryRecord{}, fmt.Errorf("webhooks: not implemented")
}

func (l *fakeLedger) Complete(_ context.Context, claimID string) error {
	l.completed = append(l.completed, claimID)
	return nil
}

func (l *fakeLedger) Fail(_ context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) error {
	l.failedClaims = append(l.failedClaims, claimID)
	l.failCause = cause
	l.nextAttempt = nextAttemptAt
	l.maxAttempts = maxAttempts
	return nil
}

type fakeReconciler struct {
	result core.ReconcileResult
	err    error
	events []core.ProviderEvent
}

func (r *fakeReconciler) ApplyProviderEvent(_ context.Context, event core.ProviderEvent) (core.ReconcileResult, error) {
	r.events = append(r.events, event)
	if r.err != nil {
		return core.ReconcileResult{}, r.err
	}
	return r.result, nil
}

func newTestProcessor(ledger *fakeLedger, reconciler *fakeReconciler) *Processor {
	processor := NewProcessor(PermissiveVerifier{}, ledger, reconciler)
	processor.Now = func() time.Time {
		return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	}
	return processor
}

func paymentRequest(deliveryID string) Request {
	return Request{
		ProviderID: "DevPSP",
		Body: []byte(`{
			"type": "payment.succeeded",
			"object": {"id": "devpsp_pi_1"},
			"correlation_id": "tx-1"
		}`),
		Headers: map[string]string{"X-Delivery-Id": deliveryID},
	}
}

func TestProcess_ReconcilesAndCompletes(t *testing.T) {
	ledger := &fakeLedger{claimed: true}
	reconciler := &fakeReconciler{result: core.ReconcileResult{EscrowID: "escrow-1"}}
	processor := newTestProcessor(ledger, reconciler)

	result, err := processor.Process(context.Background(), paymentRequest("dlv-1"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !result.Accepted || result.StatusCode != http.StatusOK {
		t.Fatalf("expected accepted 200, got %+v", result)
	}
	if result.Reconcile.EscrowID != "escrow-1" {
		t.Fatalf("expected reconcile result surfaced, got %+v", result.Reconcile)
	}
	if len(ledger.completed) != 1 || ledger.completed[0] != "claim-1" {
		t.Fatalf("expected claim completed, got %v", ledger.completed)
	}

	// The decoded event carries the normalized provider and delivery ids.
	if len(reconciler.events) != 1 {
		t.Fatalf("expected one reconcile, got %d", len(reconciler.events))
	}
	event := reconciler.events[0]
	if event.ProviderID != "devpsp" || event.DeliveryID != "dlv-1" {
		t.Fatalf("expected normalized ids, got %q / %q", event.ProviderID, event.DeliveryID)
	}
	if event.Type != "payment.succeeded" || event.CorrelationID != "tx-1" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestProcess_DuplicateDeliveryAcknowledgedWithoutReconcile(t *testing.T) {
	ledger := &fakeLedger{claimed: false, claimRecord: DeliveryRecord{Status: DeliveryStatusProcessed}}
	reconciler := &fakeReconciler{}
	processor := newTestProcessor(ledger, reconciler)

	result, err := processor.Process(context.Background(), paymentRequest("dlv-1"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !result.Accepted || result.StatusCode != http.StatusOK {
		t.Fatalf("expected accepted 200, got %+v", result)
	}
	if deduped, _ := result.Metadata["deduped"].(bool); !deduped {
		t.Fatalf("expected deduped metadata, got %v", result.Metadata)
	}
	if len(reconciler.events) != 0 {
		t.Fatalf("expected no reconcile for deduped delivery")
	}
	if len(ledger.completed) != 0 {
		t.Fatalf("expected no completion for deduped delivery")
	}
}

type rejectingVerifier struct{}

func (rejectingVerifier) Verify(context.Context, Request) error {
	return fmt.Errorf("webhooks: signature verification failed")
}

func TestProcess_RejectedSignatureNeverTouchesLedger(t *testing.T) {
	ledger := &fakeLedger{claimed: true}
	processor := newTestProcessor(ledger, &fakeReconciler{})
	processor.Verifier = rejectingVerifier{}

	result, err := processor.Process(context.Background(), paymentRequest("dlv-1"))
	if err == nil {
		t.Fatalf("expected verification error")
	}
	if result.Accepted || result.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected rejected 401, got %+v", result)
	}
	if ledger.claimCalls != 0 {
		t.Fatalf("expected no claim for rejected delivery")
	}
}

func TestProcess_UndecodablePayloadCompletedPermanently(t *testing.T) {
	ledger := &fakeLedger{claimed: true}
	reconciler := &fakeReconciler{}
	processor := newTestProcessor(ledger, reconciler)

	req := paymentRequest("dlv-1")
	req.Body = []byte("this was never json")

	result, err := processor.Process(context.Background(), req)
	if err == nil {
		t.Fatalf("expected decode error")
	}
	if result.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", result.StatusCode)
	}
	// Completing the claim stops the provider's retry loop for a payload
	// that will never parse.
	if len(ledger.completed) != 1 {
		t.Fatalf("expected claim completed, got %v", ledger.completed)
	}
	if len(reconciler.events) != 0 {
		t.Fatalf("expected no reconcile for undecodable payload")
	}
}

func TestProcess_PermanentConflictCompletes(t *testing.T) {
	ledger := &fakeLedger{claimed: true}
	reconciler := &fakeReconciler{
		err: fmt.Errorf("%w: milestone m-1", core.ErrEscrowAlreadyActive),
	}
	processor := newTestProcessor(ledger, reconciler)

	result, err := processor.Process(context.Background(), paymentRequest("dlv-1"))
	if !errors.Is(err, core.ErrEscrowAlreadyActive) {
		t.Fatalf("expected conflict surfaced, got %v", err)
	}
	if result.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", result.StatusCode)
	}
	if len(ledger.completed) != 1 {
		t.Fatalf("expected claim completed for permanent failure")
	}
	if len(ledger.failedClaims) != 0 {
		t.Fatalf("expected no retry schedule for permanent failure")
	}
}

func TestProcess_MissingCorrelationCompletesWith400(t *testing.T) {
	ledger := &fakeLedger{claimed: true}
	reconciler := &fakeReconciler{err: core.ErrCorrelationMissing}
	processor := newTestProcessor(ledger, reconciler)

	result, err := processor.Process(context.Background(), paymentRequest("dlv-1"))
	if !errors.Is(err, core.ErrCorrelationMissing) {
		t.Fatalf("expected correlation error surfaced, got %v", err)
	}
	if result.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", result.StatusCode)
	}
	if len(ledger.completed) != 1 {
		t.Fatalf("expected claim completed")
	}
}

func TestProcess_TransientFailureSchedulesRetry(t *testing.T) {
	ledger := &fakeLedger{claimed: true, claimRecord: DeliveryRecord{ClaimID: "claim-9", Attempts: 2}}
	reconciler := &fakeReconciler{err: fmt.Errorf("store unavailable")}
	processor := newTestProcessor(ledger, reconciler)
	processor.RetryPolicy = ExponentialRetryPolicy{Initial: time.Second, Max: time.Minute}

	_, err := processor.Process(context.Background(), paymentRequest("dlv-1"))
	if err == nil {
		t.Fatalf("expected transient failure surfaced")
	}
	if len(ledger.completed) != 0 {
		t.Fatalf("expected claim not completed")
	}
	if len(ledger.failedClaims) != 1 || ledger.failedClaims[0] != "claim-9" {
		t.Fatalf("expected failure recorded, got %v", ledger.failedClaims)
	}
	// Attempt 2 retries after 2s.
	wantNext := processor.Now().Add(2 * time.Second)
	if !ledger.nextAttempt.Equal(wantNext) {
		t.Fatalf("expected next attempt %s, got %s", wantNext, ledger.nextAttempt)
	}
	if ledger.maxAttempts != processor.MaxAttempts {
		t.Fatalf("expected max attempts %d, got %d", processor.MaxAttempts, ledger.maxAttempts)
	}
}

func TestProcess_RequiresDeliveryID(t *testing.T) {
	processor := newTestProcessor(&fakeLedger{claimed: true}, &fakeReconciler{})

	req := paymentRequest("dlv-1")
	req.Headers = nil

	if _, err := processor.Process(context.Background(), req); err == nil {
		t.Fatalf("expected missing delivery id rejection")
	}
}

func TestProcess_DeliveryIDFromMetadata(t *testing.T) {
	ledger := &fakeLedger{claimed: true}
	processor := newTestProcessor(ledger, &fakeReconciler{})

	req := paymentRequest("ignored")
	req.Headers = nil
	req.Metadata = map[string]any{"delivery_id": "meta-dlv-7"}

	result, err := processor.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Metadata["delivery_id"] != "meta-dlv-7" {
		t.Fatalf("expected metadata delivery id, got %v", result.Metadata)
	}
}

func TestExponentialRetryPolicy_DoublesUpToMax(t *testing.T) {
	policy := ExponentialRetryPolicy{Initial: time.Second, Max: 10 * time.Second}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{12, 10 * time.Second},
	}
	for _, tc := range cases {
		if got := policy.NextDelay(tc.attempt); got != tc.want {
			t.Fatalf("attempt %d: expected %s, got %s", tc.attempt, tc.want, got)
		}
	}
}

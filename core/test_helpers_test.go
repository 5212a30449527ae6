package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

var errProviderDown = errors.New("provider unavailable")

type memMilestoneStore struct {
	mu   sync.Mutex
	rows map[string]Milestone
}

func newMemMilestoneStore() *memMilestoneStore {
	return &memMilestoneStore{rows: map[string]Milestone{}}
}

func (s *memMilestoneStore) Create(_ context.Context, milestone Milestone) (Milestone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[milestone.ID] = milestone
	return milestone, nil
}

func (s *memMilestoneStore) Get(_ context.Context, id string) (Milestone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	milestone, ok := s.rows[id]
	if !ok {
		return Milestone{}, fmt.Errorf("%w: id %q", ErrMilestoneNotFound, id)
	}
	return milestone, nil
}

func (s *memMilestoneStore) Update(_ context.Context, milestone Milestone, expectedVersion int) (Milestone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.rows[milestone.ID]
	if !ok {
		return Milestone{}, fmt.Errorf("%w: id %q", ErrMilestoneNotFound, milestone.ID)
	}
	if current.Version != expectedVersion {
		return Milestone{}, fmt.Errorf("%w: milestone %s at version %d, expected %d",
			ErrStaleVersion, milestone.ID, current.Version, expectedVersion)
	}
	milestone.Version = expectedVersion + 1
	s.rows[milestone.ID] = milestone
	return milestone, nil
}

type memEscrowStore struct {
	mu    sync.Mutex
	rows  map[string]Escrow
	order []string
}

func newMemEscrowStore() *memEscrowStore {
	return &memEscrowStore{rows: map[string]Escrow{}}
}

func (s *memEscrowStore) Create(_ context.Context, escrow Escrow) (Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		existing := s.rows[id]
		if existing.MilestoneID == escrow.MilestoneID && existing.Status.Active() {
			return Escrow{}, fmt.Errorf("%w: milestone %s", ErrEscrowAlreadyActive, escrow.MilestoneID)
		}
	}
	s.rows[escrow.ID] = escrow
	s.order = append(s.order, escrow.ID)
	return escrow, nil
}

func (s *memEscrowStore) Get(_ context.Context, id string) (Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	escrow, ok := s.rows[id]
	if !ok {
		return Escrow{}, fmt.Errorf("%w: id %q", ErrEscrowNotFound, id)
	}
	return escrow, nil
}

func (s *memEscrowStore) FindActiveByMilestone(_ context.Context, milestoneID string) (Escrow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		escrow := s.rows[id]
		if escrow.MilestoneID == milestoneID && escrow.Status.Active() {
			return escrow, true, nil
		}
	}
	return Escrow{}, false, nil
}

func (s *memEscrowStore) UpdateStatusIf(_ context.Context, id string, from []EscrowStatus, to EscrowStatus) (Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	escrow, ok := s.rows[id]
	if !ok {
		return Escrow{}, fmt.Errorf("%w: id %q", ErrEscrowNotFound, id)
	}
	matched := false
	for _, status := range from {
		if escrow.Status == status {
			matched = true
			break
		}
	}
	if !matched {
		return Escrow{}, fmt.Errorf("%w: escrow %s is %s, not %v",
			ErrInvalidEscrowStatusTransition, id, escrow.Status, from)
	}
	escrow.Status = to
	escrow.UpdatedAt = time.Now().UTC()
	s.rows[id] = escrow
	return escrow, nil
}

type memTransactionStore struct {
	mu   sync.Mutex
	rows map[string]Transaction
}

func newMemTransactionStore() *memTransactionStore {
	return &memTransactionStore{rows: map[string]Transaction{}}
}

func (s *memTransactionStore) Create(_ context.Context, tx Transaction) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[tx.ID] = tx
	return tx, nil
}

func (s *memTransactionStore) Get(_ context.Context, id string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.rows[id]
	if !ok {
		return Transaction{}, fmt.Errorf("%w: id %q", ErrTransactionNotFound, id)
	}
	return tx, nil
}

func (s *memTransactionStore) GetByProviderIntent(_ context.Context, providerID string, providerIntentID string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.rows {
		if tx.ProviderID == providerID && tx.ProviderPaymentIntentID == providerIntentID {
			return tx, nil
		}
	}
	return Transaction{}, fmt.Errorf("%w: provider %s intent %s", ErrTransactionNotFound, providerID, providerIntentID)
}

func (s *memTransactionStore) MarkTerminalIf(_ context.Context, id string, to TransactionStatus, reason string) (Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.rows[id]
	if !ok {
		return Transaction{}, false, fmt.Errorf("%w: id %q", ErrTransactionNotFound, id)
	}
	if tx.Status.Terminal() {
		return tx, false, nil
	}
	tx.Status = to
	tx.FailureReason = reason
	tx.UpdatedAt = time.Now().UTC()
	s.rows[id] = tx
	return tx, true, nil
}

type memPayoutStore struct {
	mu       sync.Mutex
	batches  map[string]PayoutBatch
	byEscrow map[string]string
}

func newMemPayoutStore() *memPayoutStore {
	return &memPayoutStore{batches: map[string]PayoutBatch{}, byEscrow: map[string]string{}}
}

func (s *memPayoutStore) CreateBatch(_ context.Context, batch PayoutBatch) (PayoutBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEscrow[batch.EscrowID]; exists {
		return PayoutBatch{}, fmt.Errorf("%w: escrow %s", ErrAlreadyScheduled, batch.EscrowID)
	}
	s.batches[batch.ID] = clonePayoutBatch(batch)
	s.byEscrow[batch.EscrowID] = batch.ID
	return batch, nil
}

func (s *memPayoutStore) GetBatch(_ context.Context, id string) (PayoutBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return PayoutBatch{}, fmt.Errorf("%w: id %q", ErrPayoutBatchNotFound, id)
	}
	return clonePayoutBatch(batch), nil
}

func (s *memPayoutStore) GetBatchByEscrow(_ context.Context, escrowID string) (PayoutBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEscrow[escrowID]
	if !ok {
		return PayoutBatch{}, fmt.Errorf("%w: escrow %q", ErrPayoutBatchNotFound, escrowID)
	}
	return clonePayoutBatch(s.batches[id]), nil
}

func (s *memPayoutStore) UpdateBatchStatusIf(_ context.Context, id string, from []PayoutBatchStatus, to PayoutBatchStatus) (PayoutBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return PayoutBatch{}, fmt.Errorf("%w: id %q", ErrPayoutBatchNotFound, id)
	}
	matched := false
	for _, status := range from {
		if batch.Status == status {
			matched = true
			break
		}
	}
	if !matched {
		return PayoutBatch{}, fmt.Errorf("%w: batch %s is %s, not %v",
			ErrInvalidPayoutBatchStatusTransition, id, batch.Status, from)
	}
	batch.Status = to
	batch.UpdatedAt = time.Now().UTC()
	s.batches[id] = batch
	return clonePayoutBatch(batch), nil
}

func (s *memPayoutStore) UpdateItem(_ context.Context, item PayoutItem) (PayoutItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[item.BatchID]
	if !ok {
		return PayoutItem{}, fmt.Errorf("%w: batch %q", ErrPayoutBatchNotFound, item.BatchID)
	}
	for i := range batch.Items {
		if batch.Items[i].ID == item.ID {
			batch.Items[i] = item
			s.batches[item.BatchID] = batch
			return item, nil
		}
	}
	return PayoutItem{}, fmt.Errorf("%w: item %q", ErrPayoutBatchNotFound, item.ID)
}

func (s *memPayoutStore) ListItems(_ context.Context, batchID string) ([]PayoutItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("%w: id %q", ErrPayoutBatchNotFound, batchID)
	}
	items := make([]PayoutItem, len(batch.Items))
	copy(items, batch.Items)
	return items, nil
}

func clonePayoutBatch(batch PayoutBatch) PayoutBatch {
	items := make([]PayoutItem, len(batch.Items))
	copy(items, batch.Items)
	batch.Items = items
	return batch
}

type memSplitStore struct {
	mu   sync.Mutex
	rows map[string][]RevenueSplit
}

func newMemSplitStore() *memSplitStore {
	return &memSplitStore{rows: map[string][]RevenueSplit{}}
}

func (s *memSplitStore) Replace(_ context.Context, projectID string, splits []RevenueSplit) ([]RevenueSplit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	replaced := make([]RevenueSplit, len(splits))
	copy(replaced, splits)
	s.rows[projectID] = replaced
	return replaced, nil
}

func (s *memSplitStore) ListActive(_ context.Context, projectID string) ([]RevenueSplit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	splits := make([]RevenueSplit, len(s.rows[projectID]))
	copy(splits, s.rows[projectID])
	return splits, nil
}

type memJobStore struct {
	mu    sync.Mutex
	rows  map[string]Job
	order []string
}

func newMemJobStore() *memJobStore {
	return &memJobStore{rows: map[string]Job{}}
}

func (s *memJobStore) Enqueue(_ context.Context, job Job) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = JobStatusQueued
	}
	s.rows[job.ID] = job
	s.order = append(s.order, job.ID)
	return job, nil
}

func (s *memJobStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.rows[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: id %q", ErrJobNotFound, id)
	}
	return job, nil
}

func (s *memJobStore) Lease(_ context.Context, jobType string, now time.Time, leaseUntil time.Time, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var leased []Job
	for _, id := range s.order {
		if len(leased) >= limit {
			break
		}
		job := s.rows[id]
		if job.Type != jobType {
			continue
		}
		runnable := false
		switch job.Status {
		case JobStatusQueued:
			runnable = job.NextRunAt == nil || !job.NextRunAt.After(now)
		case JobStatusLeased:
			runnable = job.LeaseExpiresAt != nil && !job.LeaseExpiresAt.After(now)
		}
		if !runnable {
			continue
		}
		until := leaseUntil
		job.Status = JobStatusLeased
		job.LeaseExpiresAt = &until
		job.UpdatedAt = now
		s.rows[id] = job
		leased = append(leased, job)
	}
	return leased, nil
}

func (s *memJobStore) MarkSucceeded(_ context.Context, id string) error {
	return s.finalize(id, JobStatusSucceeded, "")
}

func (s *memJobStore) MoveToDLQ(_ context.Context, id string, lastError string) error {
	return s.finalize(id, JobStatusDLQ, lastError)
}

func (s *memJobStore) finalize(id string, to JobStatus, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("%w: id %q", ErrJobNotFound, id)
	}
	if job.Status != JobStatusLeased {
		return fmt.Errorf("%w: job %s is not leased", ErrInvalidJobStatusTransition, id)
	}
	job.Status = to
	job.LastError = lastError
	job.LeaseExpiresAt = nil
	job.UpdatedAt = time.Now().UTC()
	s.rows[id] = job
	return nil
}

func (s *memJobStore) Requeue(_ context.Context, id string, attempts int, nextRunAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("%w: id %q", ErrJobNotFound, id)
	}
	if job.Status != JobStatusLeased {
		return fmt.Errorf("%w: job %s is not leased", ErrInvalidJobStatusTransition, id)
	}
	job.Status = JobStatusQueued
	job.Attempts = attempts
	job.NextRunAt = &nextRunAt
	job.LeaseExpiresAt = nil
	job.LastError = lastError
	job.UpdatedAt = time.Now().UTC()
	s.rows[id] = job
	return nil
}

func (s *memJobStore) RequeueFromDLQ(_ context.Context, id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.rows[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: id %q", ErrJobNotFound, id)
	}
	if job.Status != JobStatusDLQ {
		return Job{}, fmt.Errorf("%w: job %s is %s, not dlq", ErrInvalidJobStatusTransition, id, job.Status)
	}
	job.Status = JobStatusQueued
	job.Attempts = 0
	job.NextRunAt = nil
	job.LastError = ""
	job.UpdatedAt = time.Now().UTC()
	s.rows[id] = job
	return job, nil
}

// stubMembership answers membership checks from static sets; the owner is
// always a member.
type stubMembership struct {
	owner   string
	members map[string]bool
	err     error
}

func (s *stubMembership) IsMember(_ context.Context, _ string, actorID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return actorID == s.owner || s.members[actorID], nil
}

func (s *stubMembership) IsOwner(_ context.Context, _ string, actorID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return actorID == s.owner, nil
}

type fakeGateway struct {
	mu            sync.Mutex
	id            string
	sequence      int
	intentErr     error
	refundErr     error
	transferFails map[string]int
	intents       []PSPIntentRequest
	refunds       []PSPRefundRequest
	transferCalls []PSPTransferRequest
	transfersByKey map[string]PSPTransferResult
}

func newFakeGateway(id string) *fakeGateway {
	return &fakeGateway{
		id:             id,
		transferFails:  map[string]int{},
		transfersByKey: map[string]PSPTransferResult{},
	}
}

func (g *fakeGateway) ProviderID() string { return g.id }

func (g *fakeGateway) CreateIntent(_ context.Context, req PSPIntentRequest) (PSPIntentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.intentErr != nil {
		return PSPIntentResult{}, g.intentErr
	}
	g.sequence++
	g.intents = append(g.intents, req)
	return PSPIntentResult{
		ProviderIntentID: fmt.Sprintf("%s_pi_%d", g.id, g.sequence),
		ClientSecret:     fmt.Sprintf("%s_secret_%d", g.id, g.sequence),
	}, nil
}

func (g *fakeGateway) CaptureAndTransfer(_ context.Context, req PSPTransferRequest) (PSPTransferResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transferCalls = append(g.transferCalls, req)
	if result, ok := g.transfersByKey[req.IdempotencyKey]; ok {
		return result, nil
	}
	if remaining := g.transferFails[req.RecipientID]; remaining > 0 {
		g.transferFails[req.RecipientID] = remaining - 1
		return PSPTransferResult{}, fmt.Errorf("provider rejected transfer to %s", req.RecipientID)
	}
	g.sequence++
	result := PSPTransferResult{
		ProviderTransferID: fmt.Sprintf("%s_tr_%d", g.id, g.sequence),
		Status:             "paid",
	}
	g.transfersByKey[req.IdempotencyKey] = result
	return result, nil
}

func (g *fakeGateway) Refund(_ context.Context, req PSPRefundRequest) (PSPRefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return PSPRefundResult{}, g.refundErr
	}
	g.sequence++
	g.refunds = append(g.refunds, req)
	return PSPRefundResult{
		ProviderRefundID: fmt.Sprintf("%s_rf_%d", g.id, g.sequence),
		Status:           "refunded",
	}, nil
}

type capturedSignal struct {
	jobID   string
	jobType string
}

type capturingQueue struct {
	mu      sync.Mutex
	signals []capturedSignal
}

func (q *capturingQueue) Enqueue(_ context.Context, jobID string, jobType string, _ map[string]any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.signals = append(q.signals, capturedSignal{jobID: jobID, jobType: jobType})
	return nil
}

type capturingEvents struct {
	mu     sync.Mutex
	events []SettlementEvent
}

func (p *capturingEvents) Publish(_ context.Context, event SettlementEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturingEvents) named(name string) []SettlementEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var matched []SettlementEvent
	for _, event := range p.events {
		if event.Name == name {
			matched = append(matched, event)
		}
	}
	return matched
}

type capturedNotice struct {
	recipientID string
	kind        string
}

type capturingNotifier struct {
	mu      sync.Mutex
	notices []capturedNotice
}

func (n *capturingNotifier) Notify(_ context.Context, recipientID string, kind string, _ map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, capturedNotice{recipientID: recipientID, kind: kind})
	return nil
}

const (
	testOwner    = "owner-1"
	testMember   = "member-1"
	testProvider = "devpsp"
)

type engineFixture struct {
	engine       *Engine
	milestones   *memMilestoneStore
	escrows      *memEscrowStore
	transactions *memTransactionStore
	payouts      *memPayoutStore
	splitRows    *memSplitStore
	jobRows      *memJobStore
	gateway      *fakeGateway
	membership   *stubMembership
	queue        *capturingQueue
	events       *capturingEvents
	notifier     *capturingNotifier
}

func newTestEngine(t *testing.T, extra ...Option) *engineFixture {
	t.Helper()
	fixture := &engineFixture{
		milestones:   newMemMilestoneStore(),
		escrows:      newMemEscrowStore(),
		transactions: newMemTransactionStore(),
		payouts:      newMemPayoutStore(),
		splitRows:    newMemSplitStore(),
		jobRows:      newMemJobStore(),
		gateway:      newFakeGateway(testProvider),
		membership:   &stubMembership{owner: testOwner, members: map[string]bool{testMember: true}},
		queue:        &capturingQueue{},
		events:       &capturingEvents{},
		notifier:     &capturingNotifier{},
	}

	options := []Option{
		WithMilestoneStore(fixture.milestones),
		WithEscrowStore(fixture.escrows),
		WithTransactionStore(fixture.transactions),
		WithPayoutStore(fixture.payouts),
		WithSplitStore(fixture.splitRows),
		WithJobStore(fixture.jobRows),
		WithGateway(fixture.gateway),
		WithMembershipResolver(fixture.membership),
		WithJobQueuePort(fixture.queue),
		WithEventPublisherPort(fixture.events),
		WithNotificationPort(fixture.notifier),
	}
	options = append(options, extra...)

	engine, err := NewEngine(DefaultConfig(), options...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	fixture.engine = engine
	return fixture
}

// seedFundedMilestone walks a milestone through intent creation and webhook
// reconciliation so it carries a locked escrow.
func (f *engineFixture) seedFundedMilestone(t *testing.T, amount int64) (Milestone, Escrow) {
	t.Helper()
	ctx := context.Background()

	milestone, err := f.engine.CreateMilestone(ctx, Actor{ID: testOwner}, CreateMilestoneInput{
		ProjectID: "project-1",
		Title:     "design handoff",
		Amount:    amount,
		Currency:  "USD",
	})
	if err != nil {
		t.Fatalf("create milestone: %v", err)
	}

	intent, err := f.engine.CreateIntent(ctx, Actor{ID: testMember}, CreateIntentInput{
		ProjectID:   milestone.ProjectID,
		MilestoneID: milestone.ID,
		ProviderID:  testProvider,
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	result, err := f.engine.ApplyProviderEvent(ctx, ProviderEvent{
		ProviderID:       testProvider,
		Type:             ProviderEventPaymentSucceeded,
		ProviderObjectID: intent.ProviderIntentID,
		CorrelationID:    intent.Transaction.ID,
	})
	if err != nil {
		t.Fatalf("apply provider event: %v", err)
	}
	if result.EscrowID == "" {
		t.Fatalf("expected escrow to open on successful payment")
	}

	milestone, err = f.engine.GetMilestone(ctx, milestone.ID)
	if err != nil {
		t.Fatalf("get milestone: %v", err)
	}
	escrow, err := f.engine.GetEscrow(ctx, result.EscrowID)
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	return milestone, escrow
}

func (f *engineFixture) seedSplits(t *testing.T, inputs ...SplitInput) {
	t.Helper()
	if _, err := f.engine.ReplaceSplits(context.Background(), Actor{ID: testOwner}, "project-1", inputs); err != nil {
		t.Fatalf("replace splits: %v", err)
	}
}

func assertTextCode(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %q error, got nil", want)
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected mapped error envelope, got %v", err)
	}
	if rich.TextCode != want {
		t.Fatalf("expected %q text code, got %q (%v)", want, rich.TextCode, err)
	}
}

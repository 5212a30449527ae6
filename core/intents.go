package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CreateIntent issues a payment intent at the provider for a pending
// milestone and records the transaction the webhook will later reconcile.
// The transaction id travels to the provider as the correlation id.
func (e *Engine) CreateIntent(ctx context.Context, actor Actor, input CreateIntentInput) (CreateIntentResult, error) {
	startedAt := e.now()
	fields := map[string]any{
		"project_id":   input.ProjectID,
		"milestone_id": input.MilestoneID,
		"provider_id":  input.ProviderID,
		"actor_id":     actor.ID,
	}

	result, err := e.createIntent(ctx, actor, input, fields)
	e.observeOperation(ctx, startedAt, "intent_create", err, fields)
	if err != nil {
		return CreateIntentResult{}, e.mapError(err)
	}
	return result, nil
}

func (e *Engine) createIntent(ctx context.Context, actor Actor, input CreateIntentInput, fields map[string]any) (CreateIntentResult, error) {
	milestone, err := e.milestoneStore.Get(ctx, input.MilestoneID)
	if err != nil {
		return CreateIntentResult{}, err
	}
	if err := e.requireMember(ctx, milestone.ProjectID, actor); err != nil {
		return CreateIntentResult{}, err
	}
	if milestone.Status != MilestoneStatusPending {
		return CreateIntentResult{}, fmt.Errorf("%w: milestone %s is %s",
			ErrAlreadyProcessed, milestone.ID, milestone.Status)
	}

	amount := input.Amount
	if amount == 0 {
		amount = milestone.Amount
	}
	currency := input.Currency
	if currency == "" {
		currency = milestone.Currency
	}
	money := NewMoney(amount, currency)
	if !money.IsPositive() {
		return CreateIntentResult{}, fmt.Errorf("%w: amount must be positive", ErrInvalidMoney)
	}
	if money.Amount != milestone.Amount || money.Currency != milestone.Currency {
		return CreateIntentResult{}, fmt.Errorf(
			"core: intent %s does not match milestone amount %d %s",
			money, milestone.Amount, milestone.Currency,
		)
	}

	gateway, err := e.gateway(input.ProviderID)
	if err != nil {
		return CreateIntentResult{}, err
	}

	txID := uuid.NewString()
	intent, err := gateway.CreateIntent(ctx, PSPIntentRequest{
		Amount:        money.Amount,
		Currency:      money.Currency,
		CorrelationID: txID,
		Metadata:      input.Metadata,
	})
	if err != nil {
		return CreateIntentResult{}, fmt.Errorf("core: provider intent failed: %w", err)
	}
	fields["provider_intent_id"] = intent.ProviderIntentID

	now := e.now()
	tx, err := e.transactionStore.Create(ctx, Transaction{
		ID:                      txID,
		ProjectID:               milestone.ProjectID,
		MilestoneID:             milestone.ID,
		Amount:                  money.Amount,
		Currency:                money.Currency,
		ProviderID:              strings.ToLower(strings.TrimSpace(input.ProviderID)),
		ProviderPaymentIntentID: intent.ProviderIntentID,
		Status:                  TransactionStatusCreated,
		CreatedAt:               now,
		UpdatedAt:               now,
	})
	if err != nil {
		return CreateIntentResult{}, err
	}

	return CreateIntentResult{
		Transaction:      tx,
		ProviderIntentID: intent.ProviderIntentID,
		ClientSecret:     intent.ClientSecret,
		CheckoutURL:      intent.CheckoutURL,
	}, nil
}

// GetTransaction returns one transaction by id.
func (e *Engine) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	if strings.TrimSpace(id) == "" {
		return Transaction{}, e.mapError(fmt.Errorf("%w: empty transaction id", ErrTransactionNotFound))
	}
	tx, err := e.transactionStore.Get(ctx, id)
	if err != nil {
		return Transaction{}, e.mapError(err)
	}
	return tx, nil
}

package query

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-settlement/core"
)

func TestGetMilestoneQuery_NilReaderReturnsRichError(t *testing.T) {
	var q *GetMilestoneQuery
	_, err := q.Query(context.Background(), GetMilestoneMessage{MilestoneID: "ms_1"})
	if err == nil {
		t.Fatalf("expected query dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
	if rich.TextCode != core.SettlementErrorInternal {
		t.Fatalf("expected %q text code, got %q", core.SettlementErrorInternal, rich.TextCode)
	}
}

func TestCalculateSplitQuery_NilReaderReturnsRichError(t *testing.T) {
	var q *CalculateSplitQuery
	_, err := q.Query(context.Background(), CalculateSplitMessage{Amount: 100, Currency: "USD"})
	if err == nil {
		t.Fatalf("expected query dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
}

package command

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-settlement/core"
)

func TestCreateMilestoneCommand_NilServiceReturnsRichError(t *testing.T) {
	var cmd *CreateMilestoneCommand
	err := cmd.Execute(context.Background(), CreateMilestoneMessage{})
	if err == nil {
		t.Fatalf("expected command dependency error")
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

func TestExecutePayoutBatchCommand_NilServiceReturnsRichError(t *testing.T) {
	var cmd *ExecutePayoutBatchCommand
	err := cmd.Execute(context.Background(), ExecutePayoutBatchMessage{BatchID: "batch_1"})
	if err == nil {
		t.Fatalf("expected command dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
}

package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	SettlementErrorBadInput             = "SETTLEMENT_BAD_INPUT"
	SettlementErrorSplitInvalid         = "SETTLEMENT_SPLIT_INVALID"
	SettlementErrorNotFound             = "SETTLEMENT_NOT_FOUND"
	SettlementErrorConflict             = "SETTLEMENT_CONFLICT"
	SettlementErrorAlreadyProcessed     = "SETTLEMENT_ALREADY_PROCESSED"
	SettlementErrorNotFunded            = "SETTLEMENT_NOT_FUNDED"
	SettlementErrorPermissionDenied     = "SETTLEMENT_PERMISSION_DENIED"
	SettlementErrorCorrelationMissing   = "SETTLEMENT_CORRELATION_MISSING"
	SettlementErrorJobTypeNotFound      = "SETTLEMENT_JOB_TYPE_NOT_FOUND"
	SettlementErrorSchemaValidation     = "SETTLEMENT_JOB_SCHEMA_INVALID"
	SettlementErrorConservationViolated = "SETTLEMENT_CONSERVATION_VIOLATED"
	SettlementErrorInternal             = "SETTLEMENT_INTERNAL_ERROR"
)

var (
	// ErrAlreadyProcessed marks a state transition that already happened;
	// the aggregate is unchanged by the failed call.
	ErrAlreadyProcessed = errors.New("core: already processed")
	// ErrEscrowAlreadyActive guards the one-active-escrow-per-milestone
	// invariant.
	ErrEscrowAlreadyActive = errors.New("core: escrow already active for milestone")
	// ErrNotFunded rejects an approval on a milestone without active escrow.
	ErrNotFunded = errors.New("core: milestone has no active escrow")
	// ErrAlreadyScheduled rejects a second payout schedule for an escrow.
	ErrAlreadyScheduled = errors.New("core: payout batch already scheduled for escrow")
	// ErrCorrelationMissing rejects webhook events without a correlation id.
	ErrCorrelationMissing = errors.New("core: webhook event carries no correlation id")
	// ErrPermissionDenied rejects an actor that fails the delegated
	// membership or ownership check.
	ErrPermissionDenied = errors.New("core: actor is not allowed to perform this operation")
	// ErrJobTypeNotFound rejects a job whose type has no registered
	// definition.
	ErrJobTypeNotFound = errors.New("core: job type not registered")
	// ErrJobSchemaInvalid rejects a job payload that fails the registered
	// type's schema.
	ErrJobSchemaInvalid = errors.New("core: job payload schema validation failed")
	// ErrStaleVersion marks a compare-and-swap write that lost against a
	// concurrent update.
	ErrStaleVersion = errors.New("core: aggregate version is stale")
)

func settlementErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureSettlementErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrConservationViolated):
		return wrapSettlementError(err, goerrors.CategoryInternal, SettlementErrorConservationViolated).
			WithSeverity(goerrors.SeverityCritical)
	case errors.Is(err, ErrPercentageModelRequired), errors.Is(err, ErrSplitSumInvalid):
		return wrapSettlementError(err, goerrors.CategoryValidation, SettlementErrorSplitInvalid)
	case errors.Is(err, ErrNoRecipients):
		return wrapSettlementError(err, goerrors.CategoryValidation, SettlementErrorSplitInvalid)
	case errors.Is(err, ErrCorrelationMissing):
		return wrapSettlementError(err, goerrors.CategoryBadInput, SettlementErrorCorrelationMissing)
	case errors.Is(err, ErrAlreadyProcessed):
		return wrapSettlementError(err, goerrors.CategoryConflict, SettlementErrorAlreadyProcessed)
	case errors.Is(err, ErrEscrowAlreadyActive), errors.Is(err, ErrAlreadyScheduled), errors.Is(err, ErrStaleVersion):
		return wrapSettlementError(err, goerrors.CategoryConflict, SettlementErrorConflict)
	case errors.Is(err, ErrNotFunded):
		return wrapSettlementError(err, goerrors.CategoryConflict, SettlementErrorNotFunded)
	case errors.Is(err, ErrPermissionDenied):
		return wrapSettlementError(err, goerrors.CategoryAuthz, SettlementErrorPermissionDenied)
	case errors.Is(err, ErrJobTypeNotFound):
		return wrapSettlementError(err, goerrors.CategoryNotFound, SettlementErrorJobTypeNotFound)
	case errors.Is(err, ErrJobSchemaInvalid):
		return wrapSettlementError(err, goerrors.CategoryValidation, SettlementErrorSchemaValidation)
	case errors.Is(err, ErrMilestoneNotFound),
		errors.Is(err, ErrEscrowNotFound),
		errors.Is(err, ErrTransactionNotFound),
		errors.Is(err, ErrPayoutBatchNotFound),
		errors.Is(err, ErrJobNotFound):
		return wrapSettlementError(err, goerrors.CategoryNotFound, SettlementErrorNotFound)
	case errors.Is(err, ErrInvalidMilestoneStatusTransition),
		errors.Is(err, ErrInvalidEscrowStatusTransition),
		errors.Is(err, ErrInvalidTransactionStatusTransition),
		errors.Is(err, ErrInvalidPayoutBatchStatusTransition),
		errors.Is(err, ErrInvalidPayoutItemStatusTransition),
		errors.Is(err, ErrInvalidJobStatusTransition):
		return wrapSettlementError(err, goerrors.CategoryConflict, SettlementErrorConflict)
	case errors.Is(err, ErrInvalidMoney):
		return wrapSettlementError(err, goerrors.CategoryBadInput, SettlementErrorBadInput)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not found"):
		return wrapSettlementError(err, goerrors.CategoryNotFound, SettlementErrorNotFound)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "out of range"):
		return wrapSettlementError(err, goerrors.CategoryBadInput, SettlementErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureSettlementErrorEnvelope(mapped)
}

// wrapSettlementError keeps the source chain intact so callers can still
// classify with errors.Is after the envelope is applied.
func wrapSettlementError(err error, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureSettlementErrorEnvelope(
		goerrors.Wrap(err, category, err.Error()).
			WithTextCode(textCode),
	)
}

func ensureSettlementErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = settlementHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultSettlementTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultSettlementTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return SettlementErrorBadInput
	case goerrors.CategoryNotFound:
		return SettlementErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return SettlementErrorPermissionDenied
	case goerrors.CategoryConflict:
		return SettlementErrorConflict
	default:
		return SettlementErrorInternal
	}
}

func settlementHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

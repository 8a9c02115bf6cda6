package model

import "errors"

var (
	// Account errors
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountExists      = errors.New("account number already exists")
	ErrAccountNotActive   = errors.New("account is not active")
	ErrInvalidAccountType = errors.New("invalid account type: must be checking or savings")
	ErrInvalidCurrency    = errors.New("invalid currency: must be an ISO 4217 code")

	// Ledger errors
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrInsufficientBlockedFunds = errors.New("insufficient blocked funds")
	ErrSameAccount              = errors.New("source and destination accounts must be different")
	ErrCurrencyMismatch         = errors.New("currency mismatch between accounts")
	ErrUnknownTransactionType   = errors.New("unknown transaction type")
	ErrJournalMismatch          = errors.New("journal does not reproduce account balance")
	ErrIdempotencyConflict      = errors.New("idempotency key was already used for a different operation")

	// State machine errors
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrApplicationNotFound = errors.New("ipo application not found")
	ErrInvestmentNotFound  = errors.New("investment not found")
	ErrOverSell            = errors.New("shares sold exceed shares held")

	// Approval errors
	ErrDuplicatePendingRequest = errors.New("a pending modification request already exists for this target")
	ErrRequestNotPending       = errors.New("modification request is not pending")
	ErrRequestNotFound         = errors.New("modification request not found")
	ErrUnauthorized            = errors.New("actor is not allowed to perform this action")
	ErrInvalidChange           = errors.New("invalid requested changes")
	ErrStaleRequest            = errors.New("target changed since the request was proposed")
	ErrUnknownTarget           = errors.New("unknown target model")

	// Infrastructure errors
	ErrStorageUnavailable = errors.New("storage unavailable")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrAccountNotFound, "AccountNotFound"},
	{ErrAccountExists, "AccountExists"},
	{ErrAccountNotActive, "AccountNotActive"},
	{ErrInvalidAccountType, "InvalidAccountType"},
	{ErrInvalidCurrency, "InvalidCurrency"},
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrInsufficientBlockedFunds, "InsufficientBlockedFunds"},
	{ErrSameAccount, "SameAccount"},
	{ErrCurrencyMismatch, "CurrencyMismatch"},
	{ErrUnknownTransactionType, "UnknownTransactionType"},
	{ErrJournalMismatch, "JournalMismatch"},
	{ErrIdempotencyConflict, "IdempotencyConflict"},
	{ErrInvalidTransition, "InvalidTransition"},
	{ErrInvalidQuantity, "InvalidQuantity"},
	{ErrApplicationNotFound, "ApplicationNotFound"},
	{ErrInvestmentNotFound, "InvestmentNotFound"},
	{ErrOverSell, "OverSell"},
	{ErrDuplicatePendingRequest, "DuplicatePendingRequest"},
	{ErrRequestNotPending, "RequestNotPending"},
	{ErrRequestNotFound, "RequestNotFound"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrInvalidChange, "InvalidChange"},
	{ErrStaleRequest, "StaleRequest"},
	{ErrUnknownTarget, "UnknownTarget"},
	{ErrStorageUnavailable, "StorageUnavailable"},
}

// Code returns the stable error kind for err, "Internal" for unknown errors
// and "" for nil.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "Internal"
}

// IsDomainError reports whether err is a business rule rejection rather
// than an infrastructure failure
func IsDomainError(err error) bool {
	if err == nil || errors.Is(err, ErrStorageUnavailable) {
		return false
	}
	return Code(err) != "Internal"
}

// IsNotFound reports whether err means the addressed entity does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrApplicationNotFound) ||
		errors.Is(err, ErrInvestmentNotFound) ||
		errors.Is(err, ErrRequestNotFound)
}

package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestTransactionTypeValid(t *testing.T) {
	for _, tt := range TransactionTypes {
		if !tt.Valid() {
			t.Errorf("%s.Valid() = false, want true", tt)
		}
	}
	if TransactionType("refund").Valid() {
		t.Error("refund.Valid() = true, want false")
	}
}

func TestTransactionSignedAmount(t *testing.T) {
	tests := []struct {
		entry EntryType
		want  string
	}{
		{EntryTypeCredit, "25.5"},
		{EntryTypeDebit, "-25.5"},
		{EntryTypeMemo, "0"},
	}

	for _, tt := range tests {
		t.Run(string(tt.entry), func(t *testing.T) {
			tx := Transaction{EntryType: tt.entry, Amount: decimal.RequireFromString("25.50")}
			got := tx.SignedAmount()
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("SignedAmount() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCreateTransferRequestValidate(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	tests := []struct {
		name    string
		req     CreateTransferRequest
		wantErr error
	}{
		{
			name:    "valid",
			req:     CreateTransferRequest{FromAccountID: a, ToAccountID: b, Amount: decimal.NewFromInt(10)},
			wantErr: nil,
		},
		{
			name:    "same account",
			req:     CreateTransferRequest{FromAccountID: a, ToAccountID: a, Amount: decimal.NewFromInt(10)},
			wantErr: ErrSameAccount,
		},
		{
			name:    "zero amount",
			req:     CreateTransferRequest{FromAccountID: a, ToAccountID: b},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			req:     CreateTransferRequest{FromAccountID: a, ToAccountID: b, Amount: decimal.NewFromInt(-1)},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "missing source",
			req:     CreateTransferRequest{ToAccountID: b, Amount: decimal.NewFromInt(1)},
			wantErr: ErrAccountNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.req.Validate(); err != tt.wantErr {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrInsufficientFunds, "InsufficientFunds"},
		{fmt.Errorf("failed to hold: %w", ErrInsufficientBlockedFunds), "InsufficientBlockedFunds"},
		{fmt.Errorf("%w: %w", ErrStorageUnavailable, errors.New("conn reset")), "StorageUnavailable"},
		{errors.New("boom"), "Internal"},
	}

	for _, tt := range tests {
		if got := Code(tt.err); got != tt.want {
			t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestIsDomainError(t *testing.T) {
	if !IsDomainError(ErrOverSell) {
		t.Error("IsDomainError(ErrOverSell) = false, want true")
	}
	if IsDomainError(fmt.Errorf("%w: timeout", ErrStorageUnavailable)) {
		t.Error("IsDomainError(ErrStorageUnavailable) = true, want false")
	}
	if IsDomainError(errors.New("boom")) {
		t.Error("IsDomainError(unknown) = true, want false")
	}
}

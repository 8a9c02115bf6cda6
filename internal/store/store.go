// Package store defines the persistence contracts shared by the ledger,
// IPO, profit and approval packages. Implementations live in
// internal/repository (PostgreSQL) and internal/repository/memory.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/simonkvalheim/hm9-backoffice/internal/model"
)

// Store opens units of work and serves committed reads
type Store interface {
	Reader

	// RunInTx runs fn inside one atomic unit. Locks taken through tx are
	// held until fn returns; the unit commits when fn returns nil and
	// rolls back otherwise.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Reader serves committed state without taking locks
type Reader interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*model.Account, error)
	GetAccountByNumber(ctx context.Context, accountNumber string) (*model.Account, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]model.Transaction, error)

	GetModificationRequest(ctx context.Context, id uuid.UUID) (*model.ModificationRequest, error)
	ListModificationRequests(ctx context.Context, filter model.ModificationFilter) ([]model.ModificationRequest, error)

	GetIPOApplication(ctx context.Context, id uuid.UUID) (*model.IPOApplication, error)

	GetInvestment(ctx context.Context, id uuid.UUID) (*model.Investment, error)
	ListProfitDistributions(ctx context.Context, investmentID uuid.UUID) ([]model.ProfitDistribution, error)
}

// Tx is a unit of work. Every *ForUpdate call takes an exclusive lock on
// the row that is released when the unit ends.
type Tx interface {
	AccountTx
	JournalTx
	ModificationTx
	IPOTx
	InvestmentTx
}

// AccountTx covers account rows
type AccountTx interface {
	GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*model.Account, error)
	CreateAccount(ctx context.Context, account *model.Account) error
	SaveAccount(ctx context.Context, account *model.Account) error
}

// JournalTx appends to the immutable transaction journal. The store assigns
// Sequence when the row is written.
type JournalTx interface {
	AppendTransaction(ctx context.Context, tx *model.Transaction) error
	// FindTransactionsByIdempotencyKey returns the rows written under key in
	// sequence order, including rows staged by this unit
	FindTransactionsByIdempotencyKey(ctx context.Context, key string) ([]model.Transaction, error)
}

// ModificationTx covers modification requests
type ModificationTx interface {
	GetModificationRequestForUpdate(ctx context.Context, id uuid.UUID) (*model.ModificationRequest, error)
	// LockTarget serialises proposals and decisions on one target
	LockTarget(ctx context.Context, targetModel model.TargetModel, targetID uuid.UUID) error
	HasPendingModification(ctx context.Context, targetModel model.TargetModel, targetID uuid.UUID) (bool, error)
	CreateModificationRequest(ctx context.Context, req *model.ModificationRequest) error
	SaveModificationRequest(ctx context.Context, req *model.ModificationRequest) error
}

// IPOTx covers IPO applications
type IPOTx interface {
	GetIPOApplicationForUpdate(ctx context.Context, id uuid.UUID) (*model.IPOApplication, error)
	CreateIPOApplication(ctx context.Context, app *model.IPOApplication) error
	SaveIPOApplication(ctx context.Context, app *model.IPOApplication) error
	DeleteIPOApplication(ctx context.Context, id uuid.UUID) error
}

// InvestmentTx covers investments and their distributions
type InvestmentTx interface {
	GetInvestmentForUpdate(ctx context.Context, id uuid.UUID) (*model.Investment, error)
	CreateInvestment(ctx context.Context, inv *model.Investment) error
	SaveInvestment(ctx context.Context, inv *model.Investment) error
	CreateProfitDistribution(ctx context.Context, dist *model.ProfitDistribution) error
}

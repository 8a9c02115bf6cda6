package approval

import (
	"slices"

	"github.com/simonkvalheim/hm9-backoffice/internal/model"
)

// Policy decides who writes directly and which changes need a second pair of eyes
type Policy struct {
	// DirectWriters may apply protected changes without review
	DirectWriters []model.Role
	// Reviewers may approve or reject pending requests
	Reviewers []model.Role
	// Protected lists the change types per target that makers must propose
	Protected map[model.TargetModel][]model.ChangeType
}

// DefaultPolicy protects account and IPO updates and deletes. Ledger
// operations are protected only when protectLedger is set.
func DefaultPolicy(protectLedger bool) Policy {
	p := Policy{
		DirectWriters: []model.Role{model.RoleSuperAdmin, model.RoleAdmin},
		Reviewers:     []model.Role{model.RoleSuperAdmin, model.RoleAdmin, model.RoleChecker},
		Protected: map[model.TargetModel][]model.ChangeType{
			model.TargetAccount:        {model.ChangeTypeUpdate, model.ChangeTypeDelete},
			model.TargetIPOApplication: {model.ChangeTypeUpdate, model.ChangeTypeDelete},
		},
	}
	if protectLedger {
		p.Protected[model.TargetLedgerOperation] = []model.ChangeType{model.ChangeTypeCreate}
	}
	return p
}

// IsProtected reports whether changeType on target must go through review
func (p Policy) IsProtected(target model.TargetModel, changeType model.ChangeType) bool {
	return slices.Contains(p.Protected[target], changeType)
}

// CanWriteDirect reports whether role bypasses review
func (p Policy) CanWriteDirect(role model.Role) bool {
	return slices.Contains(p.DirectWriters, role)
}

// CanReview reports whether role may decide pending requests
func (p Policy) CanReview(role model.Role) bool {
	return slices.Contains(p.Reviewers, role)
}

// Direct reports whether role's change applies immediately
func (p Policy) Direct(role model.Role, target model.TargetModel, changeType model.ChangeType) bool {
	return !p.IsProtected(target, changeType) || p.CanWriteDirect(role)
}

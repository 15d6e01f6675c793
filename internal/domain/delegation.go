package domain

// Delegation scopes bound what an admin may do while acting as an affiliate.
const (
	ScopeRead               = "read"
	ScopeOrdersCreate       = "orders:create"
	ScopeWithdrawalsRequest = "withdrawals:request"
)

// DelegationScopes lists every capability a delegation token may carry.
var DelegationScopes = []string{ScopeRead, ScopeOrdersCreate, ScopeWithdrawalsRequest}

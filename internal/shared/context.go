package shared

import "context"

// Scope carries the actor and tenant selection for a request. It replaces
// ambient client-side selection state: every service call receives the
// company/franchise scope explicitly through context.
type Scope struct {
	ActorID     int64
	CompanyID   int64
	FranchiseID int64
}

type scopeContextKey struct{}

// ContextWithScope stores the request scope in context.
func ContextWithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFromContext extracts the request scope from context.
func ScopeFromContext(ctx context.Context) Scope {
	scope, _ := ctx.Value(scopeContextKey{}).(Scope)
	return scope
}

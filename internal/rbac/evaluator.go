package rbac

// Evaluator answers permission and role questions against the static table.
// Both checks are pure functions of (role, table): no I/O, safe to call
// from any number of goroutines.
type Evaluator struct{}

// NewEvaluator returns the evaluator. The role table is package state built
// at init; the evaluator exists so callers depend on an explicit value
// rather than package functions.
func NewEvaluator() *Evaluator { return &Evaluator{} }

// RequirePermissions checks every required permission against the role and
// returns the missing ones in the order required. Empty result means allowed.
func (e *Evaluator) RequirePermissions(role Role, required ...Permission) []Permission {
	var missing []Permission
	for _, perm := range required {
		if !HasPermission(role, perm) {
			missing = append(missing, perm)
		}
	}
	return missing
}

// RequireRole reports whether the role is one of the allowed roles.
func (e *Evaluator) RequireRole(role Role, allowed ...Role) bool {
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}

// Package rbac holds the static role model. Permissions are granted to
// roles, identities are granted roles via their token; the table is built
// once at process start and never mutated.
package rbac

// Permission is a fixed resource:action capability.
type Permission string

const (
	PermWeatherRead    Permission = "weather:read"
	PermContactsRead   Permission = "contacts:read"
	PermTelemetryWrite Permission = "telemetry:write"
	PermTelemetryRead  Permission = "telemetry:read"
	PermConfigRead     Permission = "config:read"
	PermConfigWrite    Permission = "config:write"
	PermAuditRead      Permission = "audit:read"
)

// Role names a fixed set of permissions.
type Role string

const (
	RoleAircraftStandard Role = "aircraft_standard"
	RoleAircraftPremium  Role = "aircraft_premium"
	RoleGroundControl    Role = "ground_control"
	RoleMaintenance      Role = "maintenance"
	RoleAdmin            Role = "admin"
)

// DefaultRole is applied when a token carries no role or an unknown one.
// Least privilege: never map the unknown to elevated access.
const DefaultRole = RoleAircraftStandard

// rolePermissions is the complete role model. Every role has at least one
// permission; the map is read-only after init.
var rolePermissions = map[Role]map[Permission]struct{}{
	RoleAircraftStandard: permSet(
		PermWeatherRead,
		PermTelemetryWrite,
	),
	RoleAircraftPremium: permSet(
		PermWeatherRead,
		PermContactsRead,
		PermTelemetryWrite,
	),
	RoleGroundControl: permSet(
		PermWeatherRead,
		PermContactsRead,
		PermTelemetryRead,
	),
	RoleMaintenance: permSet(
		PermWeatherRead,
		PermTelemetryWrite,
		PermTelemetryRead,
		PermConfigRead,
	),
	RoleAdmin: permSet(
		PermWeatherRead,
		PermContactsRead,
		PermTelemetryWrite,
		PermTelemetryRead,
		PermConfigRead,
		PermConfigWrite,
		PermAuditRead,
	),
}

func permSet(perms ...Permission) map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// RoleFromString maps a token role claim onto the model, falling back to
// DefaultRole for empty or unknown values.
func RoleFromString(role string) Role {
	r := Role(role)
	if _, ok := rolePermissions[r]; !ok {
		return DefaultRole
	}
	return r
}

// PermissionsFor returns the permissions granted to a role. Unknown roles
// resolve through DefaultRole.
func PermissionsFor(role Role) []Permission {
	set, ok := rolePermissions[role]
	if !ok {
		set = rolePermissions[DefaultRole]
	}
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}

// HasPermission reports whether the role grants the permission.
func HasPermission(role Role, perm Permission) bool {
	set, ok := rolePermissions[role]
	if !ok {
		set = rolePermissions[DefaultRole]
	}
	_, ok = set[perm]
	return ok
}

package auth

import (
	"github.com/damio-kids/admin-console/internal/domain"
)

// HasPermission reports whether the profile grants permission. The superuser
// role holds every permission.
func HasPermission(profile *domain.AdminProfile, permission string) bool {
	if profile == nil {
		return false
	}
	if profile.Role == domain.SuperuserRole {
		return true
	}
	for _, p := range profile.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// HasRole reports whether the profile's role is one of allowed.
func HasRole(profile *domain.AdminProfile, allowed ...domain.AdminRole) bool {
	if profile == nil {
		return false
	}
	allowedSet := make(map[domain.AdminRole]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}
	_, ok := allowedSet[profile.Role]
	return ok
}

// MissingPermissions returns the required permissions the profile lacks, in order.
func MissingPermissions(profile *domain.AdminProfile, required []string) []string {
	var missing []string
	for _, perm := range required {
		if !HasPermission(profile, perm) {
			missing = append(missing, perm)
		}
	}
	return missing
}

package dto

import (
	"strings"

	"github.com/damio-kids/admin-console/internal/domain"
)

// LoginRequest is accepted as a form post or JSON.
type LoginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	From     string `json:"from" form:"from"`
}

// Normalize trims the email.
func (r *LoginRequest) Normalize() {
	r.Email = strings.TrimSpace(r.Email)
}

// ProfileUpdateRequest patches the cached profile after the admin edited it.
type ProfileUpdateRequest struct {
	FirstName   *string `json:"firstName"`
	LastName    *string `json:"lastName"`
	Email       *string `json:"email"`
	ProfileIcon *string `json:"profileIcon"`
}

// Patch converts the request to a domain patch. Role and permissions are
// never taken from the browser.
func (r ProfileUpdateRequest) Patch() domain.ProfilePatch {
	return domain.ProfilePatch{
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Email:       r.Email,
		ProfileIcon: r.ProfileIcon,
	}
}

package domain

import "encoding/json"

// AdminRole enumerates console operator roles.
type AdminRole string

const (
	RoleSuperAdmin AdminRole = "super_admin"
	RoleAdmin      AdminRole = "admin"
	RoleModerator  AdminRole = "moderator"
)

// SuperuserRole implicitly holds every permission.
const SuperuserRole = RoleSuperAdmin

// Permissions issued by the backend and required by console views.
const (
	PermReadProducts    = "read_products"
	PermWriteProducts   = "write_products"
	PermReadOrders      = "read_orders"
	PermWriteOrders     = "write_orders"
	PermReadCategories  = "read_categories"
	PermWriteCategories = "write_categories"
	PermReadUsers       = "read_users"
	PermWriteUsers      = "write_users"
	PermReadAnalytics   = "read_analytics"
	PermManageSettings  = "manage_settings"
)

// Valid reports whether r is one of the known roles.
func (r AdminRole) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleModerator:
		return true
	}
	return false
}

// AdminProfile is the signed-in administrator's identity and authorization data.
type AdminProfile struct {
	ID          string    `json:"id"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	Email       string    `json:"email"`
	Role        AdminRole `json:"role"`
	Permissions []string  `json:"permissions"`
	ProfileIcon string    `json:"profileIcon,omitempty"`
	LastLogin   string    `json:"lastLogin,omitempty"`
}

// UnmarshalJSON accepts the backend's "_id" as an alias for "id".
func (p *AdminProfile) UnmarshalJSON(data []byte) error {
	type plain AdminProfile
	aux := struct {
		*plain
		MongoID string `json:"_id"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = aux.MongoID
	}
	return nil
}

// FullName joins first and last name.
func (p *AdminProfile) FullName() string {
	if p == nil {
		return ""
	}
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// Clone returns a deep copy.
func (p *AdminProfile) Clone() *AdminProfile {
	if p == nil {
		return nil
	}
	out := *p
	if p.Permissions != nil {
		out.Permissions = append([]string(nil), p.Permissions...)
	}
	return &out
}

// ProfilePatch carries a partial profile; nil fields are left unchanged.
type ProfilePatch struct {
	FirstName   *string
	LastName    *string
	Email       *string
	ProfileIcon *string
	Role        *AdminRole
	Permissions []string
}

// Empty reports whether the patch changes nothing.
func (pp ProfilePatch) Empty() bool {
	return pp.FirstName == nil && pp.LastName == nil && pp.Email == nil &&
		pp.ProfileIcon == nil && pp.Role == nil && pp.Permissions == nil
}

// Merge returns a copy of p with the patch applied.
func (p *AdminProfile) Merge(patch ProfilePatch) *AdminProfile {
	out := p.Clone()
	if out == nil {
		out = &AdminProfile{}
	}
	if patch.FirstName != nil {
		out.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		out.LastName = *patch.LastName
	}
	if patch.Email != nil {
		out.Email = *patch.Email
	}
	if patch.ProfileIcon != nil {
		out.ProfileIcon = *patch.ProfileIcon
	}
	if patch.Role != nil {
		out.Role = *patch.Role
	}
	if patch.Permissions != nil {
		out.Permissions = append([]string(nil), patch.Permissions...)
	}
	return out
}

package auth

import (
	"slices"
)

// Roles understood by the API.
const (
	RoleCashier = "cashier"
	RoleAdmin   = "admin"
)

// Terminal is a point-of-sale station allowed to request NCFs.
type Terminal struct {
	ID         string   `mapstructure:"id" json:"id"`
	Name       string   `mapstructure:"name" json:"name"`
	SecretHash string   `mapstructure:"secret_hash" json:"-"`
	Roles      []string `mapstructure:"roles" json:"roles"`
	Disabled   bool     `mapstructure:"disabled" json:"disabled"`
}

// HasRole reports whether the terminal was granted role.
func (t Terminal) HasRole(role string) bool {
	return slices.Contains(t.Roles, role)
}

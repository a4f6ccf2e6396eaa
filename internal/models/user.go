package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownRole is returned when a role string does not match any known role.
var ErrUnknownRole = errors.New("unknown role")

// Role is the closed set of console roles.
type Role int

const (
	RoleNone Role = iota
	RoleAdmin
	RoleDataEngineer
	RoleDataAnalyst
	RoleViewer
)

// Roles lists every assignable role.
var Roles = []Role{RoleAdmin, RoleDataEngineer, RoleDataAnalyst, RoleViewer}

// String returns the wire name of the role.
func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleDataEngineer:
		return "data_engineer"
	case RoleDataAnalyst:
		return "data_analyst"
	case RoleViewer:
		return "viewer"
	case RoleNone:
		return ""
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// ParseRole converts a wire name (case-insensitive) to a Role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return RoleAdmin, nil
	case "data_engineer", "engineer":
		return RoleDataEngineer, nil
	case "data_analyst", "analyst":
		return RoleDataAnalyst, nil
	case "viewer":
		return RoleViewer, nil
	}
	return RoleNone, fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// User is the console identity. Values are never mutated in place; a changed
// user is a new value.
type User struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	Role        Role       `json:"role"`
	IsActive    bool       `json:"isActive"`
	MFAEnabled  bool       `json:"mfaEnabled"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	LastLoginAt *time.Time `json:"lastLogin,omitempty"`
}

// DisplayName returns "First Last", falling back to the username.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// UnmarshalJSON decodes a user, treating a missing isActive as active so
// API payloads agree with users decoded from token claims.
func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	aux := struct {
		*plain
		IsActive *bool `json:"isActive"`
	}{plain: (*plain)(u)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	u.IsActive = true
	if aux.IsActive != nil {
		u.IsActive = *aux.IsActive
	}
	return nil
}

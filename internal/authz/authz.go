package authz

import (
	"fmt"
	"slices"
	"strings"

	"github.com/wolfeidau/pipeline-console/internal/models"
)

// Permission represents an authorized console action.
type Permission int

const (
	PermPipelinesView Permission = iota + 1
	PermPipelinesRun
	PermPipelinesManage
	PermQualityView
	PermQualityManage
	PermHealingView
	PermHealingApprove
	PermHealingConfigure
	PermAlertsView
	PermAlertsAcknowledge
	PermAdminUsers
	PermAdminSettings
)

// AllPermissions lists every permission in declaration order.
var AllPermissions = []Permission{
	PermPipelinesView,
	PermPipelinesRun,
	PermPipelinesManage,
	PermQualityView,
	PermQualityManage,
	PermHealingView,
	PermHealingApprove,
	PermHealingConfigure,
	PermAlertsView,
	PermAlertsAcknowledge,
	PermAdminUsers,
	PermAdminSettings,
}

func (p Permission) String() string {
	switch p {
	case PermPipelinesView:
		return "pipelines:view"
	case PermPipelinesRun:
		return "pipelines:run"
	case PermPipelinesManage:
		return "pipelines:manage"
	case PermQualityView:
		return "quality:view"
	case PermQualityManage:
		return "quality:manage"
	case PermHealingView:
		return "healing:view"
	case PermHealingApprove:
		return "healing:approve"
	case PermHealingConfigure:
		return "healing:configure"
	case PermAlertsView:
		return "alerts:view"
	case PermAlertsAcknowledge:
		return "alerts:acknowledge"
	case PermAdminUsers:
		return "admin:users"
	case PermAdminSettings:
		return "admin:settings"
	}
	return fmt.Sprintf("permission(%d)", int(p))
}

// ParsePermission converts a permission name such as "pipelines:view".
func ParsePermission(s string) (Permission, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, p := range AllPermissions {
		if p.String() == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown permission %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Permission) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Permission) UnmarshalText(text []byte) error {
	perm, err := ParsePermission(string(text))
	if err != nil {
		return err
	}
	*p = perm
	return nil
}

// PermissionSet is an immutable-by-convention set of permissions.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from perms.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Has reports whether p is in the set.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// List returns the permissions sorted in declaration order.
func (s PermissionSet) List() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Strings returns the sorted permission names.
func (s PermissionSet) Strings() []string {
	perms := s.List()
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = p.String()
	}
	return out
}

// rolePermissions maps non-admin roles to their permissions. Admin is not
// listed; it is handled by the admin rule in HasPermission.
var rolePermissions = map[models.Role][]Permission{
	models.RoleDataEngineer: {
		PermPipelinesView,
		PermPipelinesRun,
		PermPipelinesManage,
		PermQualityView,
		PermQualityManage,
		PermHealingView,
		PermHealingApprove,
		PermHealingConfigure,
		PermAlertsView,
		PermAlertsAcknowledge,
	},
	models.RoleDataAnalyst: {
		PermPipelinesView,
		PermQualityView,
		PermHealingView,
		PermAlertsView,
		PermAlertsAcknowledge,
	},
	models.RoleViewer: {
		PermPipelinesView,
		PermQualityView,
		PermHealingView,
		PermAlertsView,
	},
}

// PermissionsForRole returns the permission set for role. Admin gets every
// permission.
func PermissionsForRole(role models.Role) PermissionSet {
	switch role {
	case models.RoleAdmin:
		return NewPermissionSet(AllPermissions...)
	case models.RoleDataEngineer, models.RoleDataAnalyst, models.RoleViewer:
		return NewPermissionSet(rolePermissions[role]...)
	case models.RoleNone:
	}
	return NewPermissionSet()
}

// PermissionsForUser returns the effective permissions of user. Admins hold
// everything; nil and inactive non-admin users have none.
func PermissionsForUser(user *models.User) PermissionSet {
	if user == nil {
		return NewPermissionSet()
	}
	if IsAdmin(user) {
		return PermissionsForRole(models.RoleAdmin)
	}
	if !user.IsActive {
		return NewPermissionSet()
	}
	return PermissionsForRole(user.Role)
}

// HasPermission checks if user holds perm. The admin rule is evaluated
// before anything else.
func HasPermission(user *models.User, perm Permission) bool {
	if IsAdmin(user) {
		return true
	}
	if user == nil || !user.IsActive {
		return false
	}
	return slices.Contains(rolePermissions[user.Role], perm)
}

// HasRole checks if user has exactly role.
func HasRole(user *models.User, role models.Role) bool {
	if user == nil {
		return false
	}
	return user.Role == role
}

// IsAdmin checks if user is an administrator.
func IsAdmin(user *models.User) bool {
	return HasRole(user, models.RoleAdmin)
}

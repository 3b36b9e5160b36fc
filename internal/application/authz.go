package application

// Role is the staff role carried by a Principal.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleTrainer   Role = "trainer"
	RoleFrontDesk Role = "front_desk"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTrainer, RoleFrontDesk:
		return true
	}
	return false
}

// Action is a capability checked before a service performs work.
type Action string

const (
	ActionManageSchedules  Action = "manage_schedules"
	ActionManageCatalog    Action = "manage_catalog"
	ActionManageEnrollment Action = "manage_enrollment"
	ActionMarkAttendance   Action = "mark_attendance"
	ActionViewSchedules    Action = "view_schedules"
)

var permissions = map[Action][]Role{
	ActionManageSchedules:  {RoleAdmin},
	ActionManageCatalog:    {RoleAdmin},
	ActionManageEnrollment: {RoleAdmin, RoleTrainer, RoleFrontDesk},
	ActionMarkAttendance:   {RoleAdmin, RoleTrainer},
	ActionViewSchedules:    {RoleAdmin, RoleTrainer, RoleFrontDesk},
}

// Can reports whether principal may perform action. Anonymous principals can
// do nothing.
func Can(principal Principal, action Action) bool {
	if principal.StaffID == "" {
		return false
	}
	for _, role := range permissions[action] {
		if principal.Role == role {
			return true
		}
	}
	return false
}

func authorize(principal Principal, action Action) error {
	if !Can(principal, action) {
		return ErrUnauthorized
	}
	return nil
}

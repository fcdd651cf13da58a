package rbac

type Role string
type Action string

const (
	RoleViewer     Role = "viewer"
	RoleOperator   Role = "operator"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

const (
	// ActionRead lists catalogs, sheets and exports.
	ActionRead Action = "read"
	// ActionInspect prepares and submits departure sheets.
	ActionInspect Action = "inspect"
	// ActionAmend changes a submitted sheet.
	ActionAmend Action = "amend"
	ActionAdmin Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleSupervisor:
		return action == ActionRead || action == ActionInspect || action == ActionAmend
	case RoleOperator:
		return action == ActionRead || action == ActionInspect
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleOperator, RoleSupervisor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

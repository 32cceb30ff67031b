package rbac

type Role string
type Action string

const (
	RoleMember  Role = "member"
	RoleOfficer Role = "officer"
	RoleAdmin   Role = "admin"
)

const (
	ActionRead       Action = "read"
	ActionVote       Action = "vote"
	ActionPropose    Action = "propose"
	ActionAttendance Action = "attendance"
	ActionAdmin      Action = "admin"
)

// Can reports chapter-wide permissions. Proposer and committee chair checks
// are made per proposal by the service.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleOfficer:
		return action == ActionRead || action == ActionVote || action == ActionPropose || action == ActionAttendance
	case RoleMember:
		return action == ActionRead || action == ActionVote || action == ActionPropose
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleOfficer, RoleAdmin:
		return Role(role)
	default:
		return RoleMember
	}
}

// Package authz decides whether a caller may perform an action. Decisions are
// a pure function of the caller, the action and the target state handed in;
// nothing here touches storage.
package authz

import (
	"blacksheep/internal/model"
)

// Identity is the authenticated caller, passed explicitly into every
// component call.
type Identity struct {
	UserID   uint       `json:"user_id"`
	Username string     `json:"username"`
	Role     model.Role `json:"role"`
}

// IdentityOf builds the Identity for a stored user.
func IdentityOf(u *model.User) Identity {
	return Identity{UserID: u.ID, Username: u.Username, Role: u.Role}
}

// IsAdmin reports whether the caller holds the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == model.RoleAdmin
}

// Action names an operation subject to authorization.
type Action string

const (
	ActionReadProfile    Action = "read_profile"
	ActionReadUsage      Action = "read_usage"
	ActionChangePassword Action = "change_password"
	ActionRegenerateKey  Action = "regenerate_api_key"
	ActionListUsers      Action = "list_users"
	ActionCreateUser     Action = "create_user"
	ActionDeleteUser     Action = "delete_user"
	ActionSetRole        Action = "set_role"
	ActionCreateModel    Action = "create_model"
	ActionDeleteModel    Action = "delete_model"
	ActionSetGrant       Action = "set_grant"
	ActionSetUsageLimit  Action = "set_usage_limit"
	ActionResetUsage     Action = "reset_usage"
	ActionCallModel      Action = "call_model"
)

// Target describes the resource an action applies to. Only the fields
// relevant to the action are consulted.
type Target struct {
	// UserID is the subject user for user-scoped actions.
	UserID uint
	// Level is the caller's access level on the model for ActionCallModel.
	Level model.AccessLevel
	// UsageCount and UsageLimit are the caller's ledger state for ActionCallModel.
	UsageCount int64
	UsageLimit int64
}

// Deny reasons.
const (
	ReasonNotAdmin        = "admin role required"
	ReasonNotOwner        = "only the owner or an admin may do this"
	ReasonNotSelf         = "only the owner may do this"
	ReasonInsufficient    = "access level below call"
	ReasonUsageExhausted  = "usage limit exhausted"
	ReasonUnknownAction   = "unknown action"
	ReasonSelfDeleteAdmin = "admins cannot delete themselves"
)

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed bool
	Reason  string
}

// Err converts a denial into the matching sentinel error, or nil if allowed.
func (d Decision) Err() error {
	switch {
	case d.Allowed:
		return nil
	case d.Reason == ReasonUsageExhausted:
		return model.ErrLimitExceeded
	default:
		return model.ErrForbidden
	}
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// Authorize applies the access policy.
func Authorize(caller Identity, action Action, target Target) Decision {
	switch action {
	case ActionReadProfile, ActionReadUsage, ActionRegenerateKey:
		if caller.UserID == target.UserID || caller.IsAdmin() {
			return allow()
		}
		return deny(ReasonNotOwner)

	case ActionChangePassword:
		if caller.UserID == target.UserID {
			return allow()
		}
		return deny(ReasonNotSelf)

	case ActionDeleteUser:
		if !caller.IsAdmin() {
			return deny(ReasonNotAdmin)
		}
		if caller.UserID == target.UserID {
			return deny(ReasonSelfDeleteAdmin)
		}
		return allow()

	case ActionListUsers, ActionCreateUser, ActionSetRole,
		ActionCreateModel, ActionDeleteModel,
		ActionSetGrant, ActionSetUsageLimit, ActionResetUsage:
		if caller.IsAdmin() {
			return allow()
		}
		return deny(ReasonNotAdmin)

	case ActionCallModel:
		if !target.Level.AtLeast(model.AccessCall) {
			return deny(ReasonInsufficient)
		}
		if target.UsageCount >= target.UsageLimit {
			return deny(ReasonUsageExhausted)
		}
		return allow()
	}
	return deny(ReasonUnknownAction)
}

// Check is Authorize followed by Decision.Err.
func Check(caller Identity, action Action, target Target) error {
	return Authorize(caller, action, target).Err()
}

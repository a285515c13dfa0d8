package models

type PermissionLevel string

const (
	LevelNone  PermissionLevel = "none"
	LevelRead  PermissionLevel = "read"
	LevelEdit  PermissionLevel = "edit"
	LevelOwner PermissionLevel = "owner"
)

// rank gives the total order none < read < edit < owner. Unknown values rank
// below none so a corrupted level never grants anything.
func (l PermissionLevel) rank() int {
	switch l {
	case LevelNone:
		return 0
	case LevelRead:
		return 1
	case LevelEdit:
		return 2
	case LevelOwner:
		return 3
	}
	return -1
}

func (l PermissionLevel) Valid() bool {
	return l.rank() >= 0
}

func (l PermissionLevel) AtLeast(min PermissionLevel) bool {
	return l.rank() >= min.rank() && l.rank() >= 0
}

type Action string

const (
	ActionView   Action = "view"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionShare  Action = "share"
)

// RequiredLevel maps an action to the minimum level that allows it. Delete and
// share are owner-only.
func (a Action) RequiredLevel() PermissionLevel {
	switch a {
	case ActionView:
		return LevelRead
	case ActionEdit:
		return LevelEdit
	case ActionDelete, ActionShare:
		return LevelOwner
	}
	return LevelOwner
}

// Grant is a stored (task, user, level) row. The creator's owner level is
// implicit and never stored, so persisted grants are only ever read or edit.
type Grant struct {
	TaskID string          `json:"taskId" bson:"taskId"`
	UserID string          `json:"userId" bson:"userId"`
	Level  PermissionLevel `json:"level" bson:"level"`
}

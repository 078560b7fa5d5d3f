package edelta

import (
	"fmt"
)

type (
	// LockKind is the persistence intent recorded for an object in a unit of work.
	LockKind int

	// Action is what happened to an object or collection item between two snapshots.
	Action int
)

const (
	LockNone LockKind = iota
	LockInsert
	LockUpdate
	LockDelete

	lockKindCount = iota
)

const (
	Added Action = iota + 1
	Removed
	Changed
)

// CanUpgradeTo reports whether a lock of kind k may be replaced by next.
// Update→Delete is the only legal edge; Insert is terminal.
func (k LockKind) CanUpgradeTo(next LockKind) bool {
	return k == LockUpdate && next == LockDelete
}

func (k LockKind) Action() Action {
	switch k {
	case LockInsert:
		return Added
	case LockDelete:
		return Removed
	case LockUpdate:
		return Changed
	default:
		return 0
	}
}

func (k LockKind) String() string {
	switch k {
	case LockNone:
		return "none"
	case LockInsert:
		return "insert"
	case LockUpdate:
		return "update"
	case LockDelete:
		return "delete"
	default:
		return fmt.Sprintf("invalid lock kind %d", int(k))
	}
}

func (a Action) String() string {
	switch a {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Changed:
		return "changed"
	default:
		return fmt.Sprintf("invalid action %d", int(a))
	}
}

func ParseAction(s string) (Action, error) {
	switch s {
	case "added":
		return Added, nil
	case "removed":
		return Removed, nil
	case "changed":
		return Changed, nil
	default:
		return 0, fmt.Errorf("invalid action %q", s)
	}
}

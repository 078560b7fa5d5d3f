package edelta

import "testing"

func TestLockKind_CanUpgradeTo(t *testing.T) {
	kinds := []LockKind{LockInsert, LockUpdate, LockDelete}
	for _, from := range kinds {
		for _, to := range kinds {
			e := from == LockUpdate && to == LockDelete
			if a := from.CanUpgradeTo(to); a != e {
				t.Errorf("%v.CanUpgradeTo(%v) = %v, wanted %v", from, to, a, e)
			}
		}
	}
}

func TestLockKind_Action(t *testing.T) {
	deepEqual(t, LockInsert.Action(), Added)
	deepEqual(t, LockUpdate.Action(), Changed)
	deepEqual(t, LockDelete.Action(), Removed)
	deepEqual(t, LockNone.Action(), Action(0))
	deepEqual(t, LockKind(99).String(), "invalid lock kind 99")
}

func TestParseAction(t *testing.T) {
	for _, a := range []Action{Added, Removed, Changed} {
		p, err := ParseAction(a.String())
		if err != nil || p != a {
			t.Errorf("ParseAction(%q) = %v, %v", a.String(), p, err)
		}
	}
	if _, err := ParseAction("deleted"); err == nil {
		t.Errorf("ParseAction(deleted) succeeded")
	}
	deepEqual(t, Action(7).String(), "invalid action 7")
}

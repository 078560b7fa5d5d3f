package edelta

import (
	"testing"
)

func TestMetrics_nil(t *testing.T) {
	var m *Metrics
	m.unitBegun()
	m.lockAdded(LockUpdate)
	m.unitCompleted(1, 1)
	s := m.Snapshot()
	deepEqual(t, s.UnitsBegun, uint64(0))
	if s.Locks != nil {
		t.Errorf("Locks = %v, wanted nil", s.Locks)
	}
}

func TestMetrics_Snapshot(t *testing.T) {
	m := &Metrics{}
	m.unitBegun()
	m.unitBegun()
	m.unitCompleted(3, 2)
	m.unitDiscarded()
	m.lockAdded(LockInsert)
	m.lockAdded(LockUpdate)
	m.lockAdded(LockUpdate)
	m.lockUpgraded()
	m.orphanFound()

	deepEqual(t, m.Snapshot(), MetricsSnapshot{
		UnitsBegun:     2,
		UnitsCompleted: 1,
		UnitsDiscarded: 1,
		Locks:          map[LockKind]uint64{LockInsert: 1, LockUpdate: 2, LockDelete: 0},
		Upgrades:       1,
		Orphans:        1,
		Deltas:         3,
		AuditEntries:   2,
	})
}

func TestDumpFlags_Contains(t *testing.T) {
	if !DumpDeltas.Contains(DumpDeltas) || DumpDeltas.Contains(DumpIDs) {
		t.Fatalf("DumpFlags.Contains returned unexpected results")
	}
	if !DumpAll.Contains(DumpClean | DumpIDs) {
		t.Fatalf("DumpAll does not contain DumpClean|DumpIDs")
	}
}

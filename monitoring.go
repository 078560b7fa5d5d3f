package edelta

import (
	"sync/atomic"
)

// Metrics counts unit-of-work activity. One Metrics may be shared by any
// number of units of work; a nil *Metrics counts nothing.
type Metrics struct {
	UnitsBegun     atomic.Uint64
	UnitsCompleted atomic.Uint64
	UnitsDiscarded atomic.Uint64
	UnitsFailed    atomic.Uint64
	Locks          [lockKindCount]atomic.Uint64
	Upgrades       atomic.Uint64
	Orphans        atomic.Uint64
	Deltas         atomic.Uint64
	AuditEntries   atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	UnitsBegun     uint64
	UnitsCompleted uint64
	UnitsDiscarded uint64
	UnitsFailed    uint64
	Locks          map[LockKind]uint64
	Upgrades       uint64
	Orphans        uint64
	Deltas         uint64
	AuditEntries   uint64
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	s := MetricsSnapshot{
		UnitsBegun:     m.UnitsBegun.Load(),
		UnitsCompleted: m.UnitsCompleted.Load(),
		UnitsDiscarded: m.UnitsDiscarded.Load(),
		UnitsFailed:    m.UnitsFailed.Load(),
		Locks:          make(map[LockKind]uint64, lockKindCount-1),
		Upgrades:       m.Upgrades.Load(),
		Orphans:        m.Orphans.Load(),
		Deltas:         m.Deltas.Load(),
		AuditEntries:   m.AuditEntries.Load(),
	}
	for k := LockInsert; k < lockKindCount; k++ {
		s.Locks[k] = m.Locks[k].Load()
	}
	return s
}

func (m *Metrics) unitBegun() {
	if m != nil {
		m.UnitsBegun.Add(1)
	}
}

func (m *Metrics) unitCompleted(deltas, entries int) {
	if m != nil {
		m.UnitsCompleted.Add(1)
		m.Deltas.Add(uint64(deltas))
		m.AuditEntries.Add(uint64(entries))
	}
}

func (m *Metrics) unitDiscarded() {
	if m != nil {
		m.UnitsDiscarded.Add(1)
	}
}

func (m *Metrics) unitFailed() {
	if m != nil {
		m.UnitsFailed.Add(1)
	}
}

func (m *Metrics) lockAdded(kind LockKind) {
	if m != nil {
		m.Locks[kind].Add(1)
	}
}

func (m *Metrics) lockUpgraded() {
	if m != nil {
		m.Upgrades.Add(1)
	}
}

func (m *Metrics) orphanFound() {
	if m != nil {
		m.Orphans.Add(1)
	}
}

package promstats_test

import (
	"strings"
	"testing"

	"github.com/andreyvit/edelta"
	"github.com/andreyvit/edelta/promstats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector(t *testing.T) {
	m := &edelta.Metrics{}
	m.UnitsBegun.Add(3)
	m.UnitsCompleted.Add(1)
	m.UnitsFailed.Add(2)
	m.Locks[edelta.LockUpdate].Add(5)
	m.Locks[edelta.LockDelete].Add(1)
	m.Upgrades.Add(2)
	m.Orphans.Add(1)
	m.Deltas.Add(7)
	m.AuditEntries.Add(4)

	c := promstats.NewCollector("edelta", m)
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("** Register: %v", err)
	}
	if n := testutil.CollectAndCount(c); n != 11 {
		t.Errorf("CollectAndCount = %d, wanted 11", n)
	}

	const expected = `
# HELP edelta_uow_locks_total Entity locks taken, by kind.
# TYPE edelta_uow_locks_total counter
edelta_uow_locks_total{kind="delete"} 1
edelta_uow_locks_total{kind="insert"} 0
edelta_uow_locks_total{kind="update"} 5
# HELP edelta_uow_orphans_total Orphaned children deleted on completion.
# TYPE edelta_uow_orphans_total counter
edelta_uow_orphans_total 1
# HELP edelta_uow_units_total Units of work by outcome.
# TYPE edelta_uow_units_total counter
edelta_uow_units_total{outcome="begun"} 3
edelta_uow_units_total{outcome="completed"} 1
edelta_uow_units_total{outcome="discarded"} 0
edelta_uow_units_total{outcome="failed"} 2
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"edelta_uow_locks_total", "edelta_uow_orphans_total", "edelta_uow_units_total")
	if err != nil {
		t.Errorf("** %v", err)
	}

	m.Deltas.Add(1)
	const deltas = `
# HELP edelta_uow_deltas_total Object deltas produced by completed units of work.
# TYPE edelta_uow_deltas_total counter
edelta_uow_deltas_total 8
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(deltas), "edelta_uow_deltas_total"); err != nil {
		t.Errorf("** %v", err)
	}
}

func TestCollector_nilMetrics(t *testing.T) {
	c := promstats.NewCollector("", nil)
	if n := testutil.CollectAndCount(c, "uow_lock_upgrades_total"); n != 1 {
		t.Errorf("CollectAndCount = %d, wanted 1", n)
	}
	const expected = `
# HELP uow_lock_upgrades_total Update locks upgraded to delete.
# TYPE uow_lock_upgrades_total counter
uow_lock_upgrades_total 0
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected), "uow_lock_upgrades_total"); err != nil {
		t.Errorf("** %v", err)
	}
}

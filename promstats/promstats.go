// Package promstats exports unit-of-work counters to Prometheus.
package promstats

import (
	"github.com/andreyvit/edelta"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector reads an *edelta.Metrics on every scrape.
type Collector struct {
	metrics *edelta.Metrics

	units        *prometheus.Desc
	locks        *prometheus.Desc
	upgrades     *prometheus.Desc
	orphans      *prometheus.Desc
	deltas       *prometheus.Desc
	auditEntries *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

var lockKinds = []edelta.LockKind{edelta.LockInsert, edelta.LockUpdate, edelta.LockDelete}

func NewCollector(namespace string, m *edelta.Metrics) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "uow", name), help, labels, nil)
	}
	return &Collector{
		metrics:      m,
		units:        desc("units_total", "Units of work by outcome.", "outcome"),
		locks:        desc("locks_total", "Entity locks taken, by kind.", "kind"),
		upgrades:     desc("lock_upgrades_total", "Update locks upgraded to delete."),
		orphans:      desc("orphans_total", "Orphaned children deleted on completion."),
		deltas:       desc("deltas_total", "Object deltas produced by completed units of work."),
		auditEntries: desc("audit_entries_total", "Audit entries produced by completed units of work."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.units
	ch <- c.locks
	ch <- c.upgrades
	ch <- c.orphans
	ch <- c.deltas
	ch <- c.auditEntries
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.metrics.Snapshot()
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	counter(c.units, s.UnitsBegun, "begun")
	counter(c.units, s.UnitsCompleted, "completed")
	counter(c.units, s.UnitsDiscarded, "discarded")
	counter(c.units, s.UnitsFailed, "failed")
	for _, k := range lockKinds {
		counter(c.locks, s.Locks[k], k.String())
	}
	counter(c.upgrades, s.Upgrades)
	counter(c.orphans, s.Orphans)
	counter(c.deltas, s.Deltas)
	counter(c.auditEntries, s.AuditEntries)
}

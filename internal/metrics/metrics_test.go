package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "," + lp.GetName() + "=" + lp.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New("test")
	if err := c.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	c.Start(OpPull)(nil)
	c.Start(OpCommit)(errors.New("boom"))
	c.RowsRead(7)
	c.RowsAffected(3)
	c.CommitShape(5, 2)
	c.StatementFailed()
	c.StatementFailed()

	got := gather(t, reg)
	checks := map[string]float64{
		"test_operations_total,operation=pull,status=success":  1,
		"test_operations_total,operation=commit,status=error":  1,
		"test_active_operations,operation=pull":                0,
		"test_rows_total,direction=read":                       7,
		"test_rows_total,direction=written":                    3,
		"test_commit_batch_size":                               1,
		"test_commit_passes":                                   1,
		"test_statement_failures_total":                        2,
		"test_operation_duration_seconds,operation=commit":     1,
	}
	for key, want := range checks {
		if got[key] != want {
			t.Errorf("%s = %v, want %v", key, got[key], want)
		}
	}
}

func TestCollectorDoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := New("dup").Register(reg); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := New("dup").Register(reg); err == nil {
		t.Error("expected error registering the same metric names twice")
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.Start(OpPull)(nil)
	c.RowsRead(1)
	c.RowsAffected(1)
	c.CommitShape(1, 1)
	c.StatementFailed()
}

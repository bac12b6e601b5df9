package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SessionsActive.Set(3)
	m.SyntaxInstalls.WithLabelValues("l", "full").Inc()
	m.DocApplyRejected.WithLabelValues("version_mismatch").Add(2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	var found bool
	for _, f := range families {
		if f.GetName() == "loomd_sessions_active" {
			found = true
			if len(f.Metric) != 1 || f.Metric[0].GetGauge().GetValue() != 3 {
				t.Fatalf("unexpected sessions_active metric: %+v", f)
			}
		}
	}
	if !found {
		t.Fatalf("expected loomd_sessions_active to be registered")
	}
}

func TestDocApplyRejectedLabelsByReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.DocApplyRejected.WithLabelValues("version_mismatch").Inc()
	m.DocApplyRejected.WithLabelValues("not_owner").Inc()
	m.DocApplyRejected.WithLabelValues("not_owner").Inc()

	var metric dto.Metric
	if err := m.DocApplyRejected.WithLabelValues("not_owner").Write(&metric); err != nil {
		t.Fatalf("write: %v", err)
	}
	if metric.GetCounter().GetValue() != 2 {
		t.Fatalf("expected not_owner counter to be 2, got %v", metric.GetCounter().GetValue())
	}
}

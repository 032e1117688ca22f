package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestLedgerDriftAggregatesPerLocationType(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	// two drifted records at the same location type land on one series
	metrics.AddLedgerDrift("COMPANY", 1)
	metrics.AddLedgerDrift("COMPANY", 1)
	metrics.AddLedgerDrift("FRANCHISE", 1)
	metrics.AddLedgerDrift("COMPANY", 0)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != "tradewind_ledger_drift_total" {
			continue
		}
		if len(family.GetMetric()) != 2 {
			t.Fatalf("expected one series per location type, got %d", len(family.GetMetric()))
		}
		for _, metric := range family.GetMetric() {
			labels := metric.GetLabel()
			if len(labels) != 1 || labels[0].GetName() != "location_type" {
				t.Fatalf("expected only the location_type label, got %v", labels)
			}
			if labels[0].GetValue() == "COMPANY" && metric.GetCounter().GetValue() != 2 {
				t.Fatalf("expected COMPANY drift 2, got %f", metric.GetCounter().GetValue())
			}
		}
		return
	}
	t.Fatal("tradewind_ledger_drift_total not gathered")
}

func TestTrackerRecordsFailure(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	jobErr := errors.New("boom")
	if got := metrics.Track("reorder_scan").End(jobErr); got != jobErr {
		t.Fatalf("tracker must return the job error untouched, got %v", got)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var sawFailure bool
	for _, family := range families {
		if family.GetName() == "tradewind_jobs_failures_total" {
			for _, metric := range family.GetMetric() {
				if metric.GetCounter().GetValue() == 1 {
					sawFailure = true
				}
			}
		}
	}
	if !sawFailure {
		t.Fatal("expected one recorded failure for reorder_scan")
	}
}

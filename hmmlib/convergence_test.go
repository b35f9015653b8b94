package hmmlib

import "testing"

func TestConvergenceMonitorStopsOnTolerance(t *testing.T) {
	m := NewConvergenceMonitor(100, 0.5, false, nil)
	m.Report(-100)
	if m.Converged() {
		t.Fatalf("converged after one report")
	}
	m.Report(-99.9)
	if !m.Converged() {
		t.Fatalf("expected convergence once delta < tol")
	}
}

func TestConvergenceMonitorStopsOnMaxIter(t *testing.T) {
	m := NewConvergenceMonitor(2, 1e-12, false, nil)
	m.Report(-100)
	if m.Converged() {
		t.Fatalf("converged before reaching NIter")
	}
	m.Report(-90)
	if !m.Converged() {
		t.Fatalf("expected convergence at NIter reports regardless of delta")
	}
}

func TestConvergenceMonitorHistoryCappedAtTwo(t *testing.T) {
	m := NewConvergenceMonitor(10, 1e-6, false, nil)
	m.Report(-3)
	m.Report(-2)
	m.Report(-1)
	h := m.History()
	if len(h) != 2 {
		t.Fatalf("History length = %d, want 2", len(h))
	}
	if h[0] != -2 || h[1] != -1 {
		t.Fatalf("History = %v, want [-2 -1]", h)
	}
}

func TestConvergenceMonitorIterCounts(t *testing.T) {
	m := NewConvergenceMonitor(10, 1e-6, false, nil)
	m.Report(-3)
	m.Report(-2)
	if m.Iter() != 2 {
		t.Fatalf("Iter() = %d, want 2", m.Iter())
	}
}

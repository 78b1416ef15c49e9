package observability

import (
	"fmt"
	"testing"
	"time"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	for _, ms := range []float64{500, 700, 900} {
		w.observe("text", ms)
	}
	w.observe("skills", 45)
	w.count("image_failed")
	w.count("image_failed")
	w.count("  ")

	snap := w.snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 2 {
		t.Fatalf("len(Stages) = %d, want 2", len(snap.Stages))
	}
	skills, text := snap.Stages[0], snap.Stages[1]
	if skills.Stage != "skills" || text.Stage != "text" {
		t.Fatalf("stages = %q,%q, want sorted skills,text", skills.Stage, text.Stage)
	}
	if text.Samples != 3 || text.LastMS != 900 || text.P50MS != 700 {
		t.Fatalf("text stats = %+v", text)
	}
	if text.P95MS <= 700 || text.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", text.P95MS)
	}
	if text.BudgetP95MS != 8000 || text.OverBudget {
		t.Fatalf("text budget = %.0f over=%v, want 8000 within budget", text.BudgetP95MS, text.OverBudget)
	}
	if !skills.OverBudget {
		t.Fatalf("skills at 45ms should exceed its 20ms budget: %+v", skills)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0] != (Indicator{Name: "image_failed", Count: 2}) {
		t.Fatalf("Indicators = %+v, want image_failed x2", snap.Indicators)
	}
}

func TestStageWindowFilter(t *testing.T) {
	w := newStageWindow(4)
	w.observe("classify", 10)
	w.observe("media", 20)
	w.observe("mirror", 30)

	snap := w.snapshot("media", "unknown")
	if len(snap.Stages) != 1 || snap.Stages[0].Stage != "media" {
		t.Fatalf("filtered stages = %+v, want only media", snap.Stages)
	}
}

func TestStageWindowRingOverwritesOldest(t *testing.T) {
	w := newStageWindow(2)
	w.observe("mirror", 10)
	w.observe("mirror", 20)
	w.observe("mirror", 30)
	w.observe("mirror", -1)

	st := w.snapshot().Stages[0]
	if st.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", st.Samples)
	}
	if st.AvgMS != 25 {
		t.Fatalf("AvgMS = %.2f, want 25", st.AvgMS)
	}
}

func TestStageWindowReset(t *testing.T) {
	w := newStageWindow(4)
	w.observe("text", 1)
	w.count("skill_hit")
	w.reset()
	snap := w.snapshot()
	if len(snap.Stages) != 0 || len(snap.Indicators) != 0 {
		t.Fatalf("snapshot after reset = %+v, want empty", snap)
	}
}

func TestInterpolate(t *testing.T) {
	samples := []float64{10, 20, 30, 40}
	cases := map[float64]float64{0: 10, 0.5: 25, 1: 40, 2: 40}
	for q, want := range cases {
		if got := interpolate(samples, q); got != want {
			t.Fatalf("interpolate(%v) = %v, want %v", q, got, want)
		}
	}
	if got := interpolate(nil, 0.5); got != 0 {
		t.Fatalf("interpolate(nil) = %v, want 0", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTurnStage("text", time.Second)
	m.ObserveTurnIndicator("skill_hit")
	m.ObserveCapability("text", "ok", time.Second)
	m.ResetTurnStages()
	if snap := m.SnapshotTurnStages(); len(snap.Stages) != 0 {
		t.Fatalf("nil metrics snapshot should be empty, got %+v", snap)
	}
}

func TestMetricsRecordsStages(t *testing.T) {
	m := NewMetrics(fmt.Sprintf("mnemo_obs_test_%d", time.Now().UnixNano()))
	m.ObserveTurnStage("turn_total", 1500*time.Millisecond)
	m.ObserveTurnStage("text", 20*time.Millisecond)

	snap := m.SnapshotTurnStages("turn_total")
	if len(snap.Stages) != 1 || snap.Stages[0].Stage != "turn_total" {
		t.Fatalf("Stages = %+v, want one turn_total entry", snap.Stages)
	}
	if snap.Stages[0].LastMS != 1500 {
		t.Fatalf("LastMS = %.2f, want 1500", snap.Stages[0].LastMS)
	}
}

package observability

import (
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// stageBudgetsMS are the p95 latency budgets for the card pipeline stages.
// Stages without a budget report zero.
var stageBudgetsMS = map[string]float64{
	"classify":   1500,
	"skills":     20,
	"text":       8000,
	"media":      20000,
	"mirror":     2000,
	"turn_total": 30000,
}

// StageStats summarizes the recent latency samples of one pipeline stage.
type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	BudgetP95MS float64 `json:"budget_p95_ms,omitempty"`
	OverBudget  bool    `json:"over_budget,omitempty"`
}

// Indicator counts a discrete turn outcome such as a failed image part.
type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// stageWindow keeps the last N samples per stage in a ring.
type stageWindow struct {
	mu         sync.Mutex
	size       int
	rings      map[string]*sampleRing
	indicators map[string]int
}

type sampleRing struct {
	buf  []float64
	pos  int
	full bool
	last float64
}

func (r *sampleRing) push(v float64) {
	r.buf[r.pos] = v
	r.last = v
	r.pos = (r.pos + 1) % len(r.buf)
	if r.pos == 0 {
		r.full = true
	}
}

func (r *sampleRing) sorted() []float64 {
	n := r.pos
	if r.full {
		n = len(r.buf)
	}
	out := slices.Clone(r.buf[:n])
	slices.Sort(out)
	return out
}

func newStageWindow(size int) *stageWindow {
	if size <= 0 {
		size = 256
	}
	return &stageWindow{
		size:       size,
		rings:      make(map[string]*sampleRing),
		indicators: make(map[string]int),
	}
}

func (w *stageWindow) observe(stage string, ms float64) {
	stage = strings.TrimSpace(stage)
	if stage == "" || ms < 0 || math.IsNaN(ms) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	ring := w.rings[stage]
	if ring == nil {
		ring = &sampleRing{buf: make([]float64, w.size)}
		w.rings[stage] = ring
	}
	ring.push(ms)
}

func (w *stageWindow) count(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	w.indicators[name]++
	w.mu.Unlock()
}

func (w *stageWindow) reset() {
	w.mu.Lock()
	clear(w.rings)
	clear(w.indicators)
	w.mu.Unlock()
}

// snapshot summarizes every stage, or only the named ones when filter is
// non-empty. Indicators are always included.
func (w *stageWindow) snapshot(filter ...string) StageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      []StageStats{},
	}
	for _, stage := range sortedKeys(w.rings) {
		if len(filter) > 0 && !slices.Contains(filter, stage) {
			continue
		}
		ring := w.rings[stage]
		samples := ring.sorted()
		if len(samples) == 0 {
			continue
		}
		var sum float64
		for _, v := range samples {
			sum += v
		}
		st := StageStats{
			Stage:       stage,
			Samples:     len(samples),
			LastMS:      round2(ring.last),
			AvgMS:       round2(sum / float64(len(samples))),
			P50MS:       round2(interpolate(samples, 0.50)),
			P95MS:       round2(interpolate(samples, 0.95)),
			P99MS:       round2(interpolate(samples, 0.99)),
			BudgetP95MS: stageBudgetsMS[stage],
		}
		st.OverBudget = st.BudgetP95MS > 0 && st.P95MS > st.BudgetP95MS
		snap.Stages = append(snap.Stages, st)
	}
	for _, name := range sortedKeys(w.indicators) {
		if n := w.indicators[name]; n > 0 {
			snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: n})
		}
	}
	return snap
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// interpolate returns the q-quantile of sorted using linear interpolation
// between closest ranks.
func interpolate(sorted []float64, q float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

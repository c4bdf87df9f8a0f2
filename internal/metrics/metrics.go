// Package metrics keeps in-process latency quantiles and counters for the
// resize pipeline. Values are exposed through the /-/stats diagnostics route.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// 记录的操作名，/-/stats 输出按此聚合。
const (
	OpCacheRead   = "cache_read"
	OpTransform   = "transform"
	OpPersist     = "persist"
	OpFetch       = "fetch_or_build"
	OpSourceList  = "source_list"
	OpPassthrough = "passthrough"
)

// Tracker 以 DDSketch 记录各操作耗时（毫秒），并维护缓存命中计数。
type Tracker struct {
	mu               sync.Mutex
	sketches         map[string]*ddsketch.DDSketch
	relativeAccuracy float64

	hits      atomic.Int64
	misses    atomic.Int64
	shared    atomic.Int64
	evictions atomic.Int64
	failures  atomic.Int64
}

// NewTracker 创建 Tracker，relativeAccuracy 例如 0.01 表示 1% 误差。
func NewTracker(relativeAccuracy float64) *Tracker {
	if relativeAccuracy <= 0 || relativeAccuracy >= 1 {
		relativeAccuracy = 0.01
	}
	return &Tracker{
		sketches:         make(map[string]*ddsketch.DDSketch),
		relativeAccuracy: relativeAccuracy,
	}
}

// Observe 记录一次操作耗时；nil Tracker 安全忽略。
func (t *Tracker) Observe(operation string, d time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	sketch, ok := t.sketches[operation]
	if !ok {
		var err error
		sketch, err = ddsketch.LogUnboundedDenseDDSketch(t.relativeAccuracy)
		if err != nil {
			sketch, _ = ddsketch.NewDefaultDDSketch(t.relativeAccuracy)
		}
		t.sketches[operation] = sketch
	}
	_ = sketch.Add(float64(d.Microseconds()) / 1000.0)
}

// Time 执行 fn 并记录耗时，返回 fn 的错误。
func (t *Tracker) Time(operation string, fn func() error) error {
	started := time.Now()
	err := fn()
	t.Observe(operation, time.Since(started))
	return err
}

// Hit/Miss/Shared/Evicted/Failed 更新计数器。
func (t *Tracker) Hit() {
	if t != nil {
		t.hits.Add(1)
	}
}

func (t *Tracker) Miss() {
	if t != nil {
		t.misses.Add(1)
	}
}

func (t *Tracker) Shared() {
	if t != nil {
		t.shared.Add(1)
	}
}

func (t *Tracker) Evicted(n int) {
	if t != nil {
		t.evictions.Add(int64(n))
	}
}

func (t *Tracker) Failed() {
	if t != nil {
		t.failures.Add(1)
	}
}

// Stats 是单个操作的耗时摘要，单位毫秒。
type Stats struct {
	Operation string  `json:"operation"`
	Count     int64   `json:"count"`
	Min       float64 `json:"min_ms"`
	P50       float64 `json:"p50_ms"`
	P90       float64 `json:"p90_ms"`
	P99       float64 `json:"p99_ms"`
	Max       float64 `json:"max_ms"`
}

// Counters 汇总缓存命中情况。
type Counters struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Shared    int64 `json:"shared"`
	Evictions int64 `json:"evictions"`
	Failures  int64 `json:"failures"`
}

// Snapshot 是 /-/stats 的完整输出。
type Snapshot struct {
	Counters   Counters `json:"counters"`
	Operations []Stats  `json:"operations"`
}

// Snapshot 返回当前计数与按操作名排序的耗时摘要。
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	snap := Snapshot{
		Counters: Counters{
			Hits:      t.hits.Load(),
			Misses:    t.misses.Load(),
			Shared:    t.shared.Load(),
			Evictions: t.evictions.Load(),
			Failures:  t.failures.Load(),
		},
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for operation, sketch := range t.sketches {
		snap.Operations = append(snap.Operations, summarize(operation, sketch))
	}
	sort.Slice(snap.Operations, func(i, j int) bool {
		return snap.Operations[i].Operation < snap.Operations[j].Operation
	})
	return snap
}

func summarize(operation string, sketch *ddsketch.DDSketch) Stats {
	count := int64(sketch.GetCount())
	if count == 0 {
		return Stats{Operation: operation}
	}
	minV, _ := sketch.GetMinValue()
	maxV, _ := sketch.GetMaxValue()
	p50, _ := sketch.GetValueAtQuantile(0.50)
	p90, _ := sketch.GetValueAtQuantile(0.90)
	p99, _ := sketch.GetValueAtQuantile(0.99)
	return Stats{
		Operation: operation,
		Count:     count,
		Min:       minV,
		P50:       p50,
		P90:       p90,
		P99:       p99,
		Max:       maxV,
	}
}

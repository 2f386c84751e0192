// Package telemetry records every capability-router call into a bounded
// in-memory ring and exposes aggregate stats for the ops surface. The
// recorder is an injected component: main constructs exactly one and hands
// it to the router, so tests can build isolated instances.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vnmchuo/botfleet/internal/pricing"
)

// DefaultCapacity is the ring size used when none is configured.
const DefaultCapacity = 200

// Kind identifies the abstract capability a router call served.
type Kind string

const (
	KindCaption Kind = "caption"
	KindImage   Kind = "image"
	KindVideo   Kind = "video"
	KindVision  Kind = "vision"
)

// nullIsFailure reports whether an empty result counts as a failed call for
// this capability. Image and video absence is a real outcome that must show
// up in failure rates; an empty caption is just an empty caption.
func nullIsFailure(k Kind) bool {
	return k == KindImage || k == KindVideo
}

// Call describes one capability attempt before it runs.
type Call struct {
	Kind           Kind
	Provider       string
	Model          string
	BotID          string
	Tier           string
	BudgetEnforced bool
}

// Entry is the immutable record of one finished capability attempt.
type Entry struct {
	Kind           Kind      `json:"kind"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	BotID          string    `json:"bot_id,omitempty"`
	Tier           string    `json:"tier"`
	DurationMs     int64     `json:"duration_ms"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
	CostCents      int64     `json:"cost_cents"`
	BudgetEnforced bool      `json:"budget_enforced"`
	At             time.Time `json:"at"`
}

// ProviderStats aggregates outcomes for a single provider.
type ProviderStats struct {
	Calls         int   `json:"calls"`
	Failures      int   `json:"failures"`
	AvgDurationMs int64 `json:"avg_duration_ms"`
}

// Stats is the aggregate view returned to the ops surface.
type Stats struct {
	TotalCalls     int                      `json:"total_calls"`
	Successes      int                      `json:"successes"`
	Failures       int                      `json:"failures"`
	AvgDurationMs  int64                    `json:"avg_duration_ms"`
	TotalCostCents int64                    `json:"total_cost_cents"`
	Providers      map[string]ProviderStats `json:"providers"`
	Recent         []Entry                  `json:"recent"`
}

// Recorder wraps capability calls with timing, outcome classification and
// cost attribution. Appends are O(1) into a fixed ring; aggregate counters
// run over the process lifetime, not just the ring window.
type Recorder struct {
	costs  pricing.Table
	logger *slog.Logger

	// observer runs after each append, outside the lock. main attaches the
	// spend ledger and the durable usage log here; the router itself never
	// mutates spend state.
	observer func(context.Context, Entry)

	mu      sync.Mutex
	ring    []Entry
	next    int
	filled  int
	totals  totals
	byProv  map[string]*providerTotals
}

type totals struct {
	calls      int
	successes  int
	costCents  int64
	durationMs int64
}

type providerTotals struct {
	calls      int
	failures   int
	durationMs int64
}

// NewRecorder builds a recorder with the given ring capacity and cost table.
// A nil logger falls back to slog.Default().
func NewRecorder(capacity int, costs pricing.Table, logger *slog.Logger) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		costs:  costs,
		logger: logger,
		ring:   make([]Entry, capacity),
		byProv: make(map[string]*providerTotals),
	}
}

// WithObserver registers a callback invoked once per recorded entry.
func (r *Recorder) WithObserver(fn func(context.Context, Entry)) *Recorder {
	r.observer = fn
	return r
}

// Track executes fn, measures it, and records exactly one entry. Errors are
// returned unchanged; panics are recorded as failures and re-raised. For
// image and video calls an empty result is recorded as a failure with a
// "provider returned null" marker even though fn returned no error.
func (r *Recorder) Track(ctx context.Context, call Call, fn func(context.Context) (string, error)) (string, error) {
	ctx, span := otel.Tracer("botfleet/router").Start(ctx, "capability."+string(call.Kind))
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", call.Provider),
		attribute.String("model", call.Model),
		attribute.String("bot_id", call.BotID),
		attribute.String("tier", call.Tier),
	)

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.record(ctx, call, time.Since(start), "", fmt.Errorf("panic: %v", rec))
			panic(rec)
		}
	}()

	result, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
	}
	r.record(ctx, call, time.Since(start), result, err)
	return result, err
}

func (r *Recorder) record(ctx context.Context, call Call, dur time.Duration, result string, err error) {
	entry := Entry{
		Kind:           call.Kind,
		Provider:       call.Provider,
		Model:          call.Model,
		BotID:          call.BotID,
		Tier:           call.Tier,
		DurationMs:     dur.Milliseconds(),
		BudgetEnforced: call.BudgetEnforced,
		At:             time.Now().UTC(),
	}

	switch {
	case err != nil:
		entry.Error = err.Error()
	case result == "" && nullIsFailure(call.Kind):
		entry.Error = "provider returned null"
	default:
		entry.Success = true
		entry.CostCents = r.costs.CostFor(call.Model)
	}

	r.append(entry)

	r.logger.LogAttrs(ctx, levelFor(entry), "capability call",
		slog.String("capability", string(entry.Kind)),
		slog.String("provider", entry.Provider),
		slog.String("model", entry.Model),
		slog.String("bot_id", entry.BotID),
		slog.Bool("success", entry.Success),
		slog.Int64("duration_ms", entry.DurationMs),
		slog.Int64("cost_cents", entry.CostCents),
		slog.Bool("budget_enforced", entry.BudgetEnforced),
		slog.String("error", entry.Error),
	)

	if r.observer != nil {
		r.observer(ctx, entry)
	}
}

func levelFor(e Entry) slog.Level {
	if e.Success {
		return slog.LevelInfo
	}
	return slog.LevelWarn
}

func (r *Recorder) append(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ring[r.next] = e
	r.next = (r.next + 1) % len(r.ring)
	if r.filled < len(r.ring) {
		r.filled++
	}

	r.totals.calls++
	r.totals.durationMs += e.DurationMs
	r.totals.costCents += e.CostCents
	if e.Success {
		r.totals.successes++
	}

	pt := r.byProv[e.Provider]
	if pt == nil {
		pt = &providerTotals{}
		r.byProv[e.Provider] = pt
	}
	pt.calls++
	pt.durationMs += e.DurationMs
	if !e.Success {
		pt.failures++
	}
}

// Recent returns up to n of the most recent entries, oldest first.
func (r *Recorder) Recent(n int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recentLocked(n)
}

func (r *Recorder) recentLocked(n int) []Entry {
	if n > r.filled {
		n = r.filled
	}
	out := make([]Entry, 0, n)
	start := r.next - n
	if start < 0 {
		start += len(r.ring)
	}
	for i := 0; i < n; i++ {
		out = append(out, r.ring[(start+i)%len(r.ring)])
	}
	return out
}

// Len reports how many entries the ring currently holds.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filled
}

// Stats aggregates lifetime counters plus the 20 most recent entries.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{
		TotalCalls:     r.totals.calls,
		Successes:      r.totals.successes,
		Failures:       r.totals.calls - r.totals.successes,
		TotalCostCents: r.totals.costCents,
		Providers:      make(map[string]ProviderStats, len(r.byProv)),
		Recent:         r.recentLocked(20),
	}
	if r.totals.calls > 0 {
		s.AvgDurationMs = r.totals.durationMs / int64(r.totals.calls)
	}
	for name, pt := range r.byProv {
		ps := ProviderStats{Calls: pt.calls, Failures: pt.failures}
		if pt.calls > 0 {
			ps.AvgDurationMs = pt.durationMs / int64(pt.calls)
		}
		s.Providers[name] = ps
	}
	return s
}

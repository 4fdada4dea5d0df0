// Package usage implements the per-credential token and cost ledger for the
// session gateway.
package usage

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tinge-app/tinge/internal/domain/models"
	"github.com/tinge-app/tinge/internal/metrics"
)

// ReasonTokenLimitExceeded is returned by CanMakeRequest when a credential
// has consumed its full token budget.
const ReasonTokenLimitExceeded = "token_limit_exceeded"

// NearLimitFraction is the usage share at which a credential is flagged as
// approaching its limit.
const NearLimitFraction = 0.8

type entry struct {
	limit           uint64
	estimatedTokens uint64
	actualTokens    uint64
	inputTokens     uint64
	outputTokens    uint64
	textIn          uint64
	audioIn         uint64
	textOut         uint64
	audioOut        uint64
	estimatedCost   float64
	actualCost      float64
	createdAt       time.Time
	lastActivity    time.Time
	requestCount    uint64
	conversationActive bool
}

// Options configures an Accountant.
type Options struct {
	DefaultLimit  uint64
	Enabled       bool
	SweepInterval time.Duration
	ExpireAfter   time.Duration
	Clock         clock.Clock
}

// Stats aggregates the ledger across all credentials.
type Stats struct {
	ActiveKeys           int     `json:"activeKeys"`
	ConversationsActive  int     `json:"conversationsActive"`
	TotalEstimatedTokens uint64  `json:"totalEstimatedTokens"`
	TotalActualTokens    uint64  `json:"totalActualTokens"`
	TotalCost            float64 `json:"totalCost"`
	LimitEnabled         bool    `json:"limitEnabled"`
	DefaultLimit         uint64  `json:"defaultLimit"`
}

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Accountant keeps one cumulative token and cost ledger entry per ephemeral
// credential. All methods are safe for concurrent use by HTTP handlers.
type Accountant struct {
	mu      sync.RWMutex
	entries map[string]*entry

	defaultLimit  uint64
	enabled       bool
	sweepInterval time.Duration
	expireAfter   time.Duration

	clk    clock.Clock
	ticker *clock.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewAccountant creates the ledger and starts the expiry sweep.
func NewAccountant(opts Options) *Accountant {
	if opts.DefaultLimit == 0 {
		opts.DefaultLimit = 15000
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = 15 * time.Minute
	}
	if opts.ExpireAfter == 0 {
		opts.ExpireAfter = time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	a := &Accountant{
		entries:       make(map[string]*entry),
		defaultLimit:  opts.DefaultLimit,
		enabled:       opts.Enabled,
		sweepInterval: opts.SweepInterval,
		expireAfter:   opts.ExpireAfter,
		clk:           opts.Clock,
		done:          make(chan struct{}),
	}

	a.ticker = a.clk.Ticker(a.sweepInterval)
	a.wg.Add(1)
	go a.sweepLoop()

	return a
}

// Close stops the expiry sweep.
func (a *Accountant) Close() {
	close(a.done)
	a.ticker.Stop()
	a.wg.Wait()
}

func (a *Accountant) sweepLoop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			return
		case <-a.ticker.C:
			removed := a.Sweep()
			if removed > 0 {
				slog.Info("accountant: swept expired credentials", "removed", removed)
			}
		}
	}
}

// Sweep removes entries that have been inactive for longer than the expiry
// window and have no active conversation. Returns the number removed.
func (a *Accountant) Sweep() int {
	cutoff := a.clk.Now().Add(-a.expireAfter)

	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for key, e := range a.entries {
		if !e.conversationActive && e.lastActivity.Before(cutoff) {
			delete(a.entries, key)
			removed++
		}
	}
	if removed > 0 {
		metrics.CredentialsActive.Set(float64(len(a.entries)))
	}
	return removed
}

// Initialize creates a ledger entry for key, or returns the existing one.
// A zero limit selects the accountant's default.
func (a *Accountant) Initialize(key string, limit uint64) models.UsageSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	if e, ok := a.entries[key]; ok {
		return a.snapshot(e)
	}

	if limit == 0 {
		limit = a.defaultLimit
	}
	now := a.clk.Now()
	e := &entry{
		limit:        limit,
		createdAt:    now,
		lastActivity: now,
	}
	a.entries[key] = e
	metrics.CredentialsActive.Set(float64(len(a.entries)))
	return a.snapshot(e)
}

// Get returns the snapshot for key, or false when the key is unknown.
func (a *Accountant) Get(key string) (models.UsageSnapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	e, ok := a.entries[key]
	if !ok {
		return models.UsageSnapshot{}, false
	}
	return a.snapshot(e), true
}

// ApplyEstimate adds delta to the estimated token count for key. Returns
// false when tracking is disabled or the key is unknown.
func (a *Accountant) ApplyEstimate(key string, delta uint64) (models.UsageSnapshot, bool) {
	if !a.enabled {
		return models.UsageSnapshot{}, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[key]
	if !ok {
		return models.UsageSnapshot{}, false
	}

	e.estimatedTokens += delta
	e.estimatedCost = float64(e.estimatedTokens) * estimatePricePerToken
	e.lastActivity = a.clk.Now()
	e.requestCount++
	return a.snapshot(e), true
}

// ApplyActual overwrites the actual counters with the cumulative session
// totals from the upstream report and discards the estimate.
func (a *Accountant) ApplyActual(key string, report models.UsageReport) (models.UsageSnapshot, bool) {
	if !a.enabled {
		return models.UsageSnapshot{}, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[key]
	if !ok {
		return models.UsageSnapshot{}, false
	}

	prevActual := e.actualTokens

	e.inputTokens = report.InputTokens
	e.outputTokens = report.OutputTokens
	if report.TotalTokens > 0 {
		e.actualTokens = report.TotalTokens
	} else {
		e.actualTokens = report.InputTokens + report.OutputTokens
	}
	e.textIn = report.InputTokenDetails.TextTokens
	e.audioIn = report.InputTokenDetails.AudioTokens
	e.textOut = report.OutputTokenDetails.TextTokens
	e.audioOut = report.OutputTokenDetails.AudioTokens

	// The estimate only bridges the gap until upstream reports; once an
	// actual total arrives it is authoritative.
	e.estimatedTokens = 0
	e.estimatedCost = 0
	e.actualCost = CostOf(report)
	e.lastActivity = a.clk.Now()
	e.requestCount++

	if e.actualTokens > prevActual {
		metrics.TokensActualTotal.Add(float64(e.actualTokens - prevActual))
	}
	return a.snapshot(e), true
}

// CanMakeRequest reports whether key may issue another model request.
func (a *Accountant) CanMakeRequest(key string) Decision {
	if !a.enabled {
		return Decision{Allowed: true}
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	e, ok := a.entries[key]
	if !ok {
		return Decision{Allowed: true}
	}
	if currentTokens(e) >= e.limit {
		metrics.TokenLimitRejections.Inc()
		return Decision{Allowed: false, Reason: ReasonTokenLimitExceeded}
	}
	return Decision{Allowed: true}
}

// SetConversationActive marks whether a realtime conversation is currently
// attached to key; active conversations are exempt from the expiry sweep.
func (a *Accountant) SetConversationActive(key string, active bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[key]
	if !ok {
		return false
	}
	e.conversationActive = active
	e.lastActivity = a.clk.Now()
	return true
}

// Reset zeroes all counters for key while preserving its limit.
func (a *Accountant) Reset(key string) (models.UsageSnapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[key]
	if !ok {
		return models.UsageSnapshot{}, false
	}

	limit := e.limit
	createdAt := e.createdAt
	*e = entry{
		limit:        limit,
		createdAt:    createdAt,
		lastActivity: a.clk.Now(),
	}
	return a.snapshot(e), true
}

// Stats aggregates across all ledger entries.
func (a *Accountant) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Stats{
		ActiveKeys:   len(a.entries),
		LimitEnabled: a.enabled,
		DefaultLimit: a.defaultLimit,
	}
	for _, e := range a.entries {
		s.TotalEstimatedTokens += e.estimatedTokens
		s.TotalActualTokens += e.actualTokens
		s.TotalCost += e.actualCost + e.estimatedCost
		if e.conversationActive {
			s.ConversationsActive++
		}
	}
	return s
}

func currentTokens(e *entry) uint64 {
	if e.actualTokens > e.estimatedTokens {
		return e.actualTokens
	}
	return e.estimatedTokens
}

// snapshot computes the derived fields. Callers must hold at least a read lock.
func (a *Accountant) snapshot(e *entry) models.UsageSnapshot {
	current := currentTokens(e)
	remaining := uint64(0)
	if current < e.limit {
		remaining = e.limit - current
	}
	percent := 0.0
	if e.limit > 0 {
		percent = float64(current) / float64(e.limit) * 100
	}
	return models.UsageSnapshot{
		Limit:              e.limit,
		EstimatedTokens:    e.estimatedTokens,
		ActualTokens:       e.actualTokens,
		InputTokens:        e.inputTokens,
		OutputTokens:       e.outputTokens,
		TextInTokens:       e.textIn,
		AudioInTokens:      e.audioIn,
		TextOutTokens:      e.textOut,
		AudioOutTokens:     e.audioOut,
		EstimatedCost:      e.estimatedCost,
		ActualCost:         e.actualCost,
		CurrentTokens:      current,
		RemainingTokens:    remaining,
		UsagePercent:       percent,
		IsNearLimit:        e.limit > 0 && float64(current) >= float64(e.limit)*NearLimitFraction,
		IsAtLimit:          current >= e.limit,
		RequestCount:       e.requestCount,
		CreatedAt:          e.createdAt.UnixMilli(),
		LastActivity:       e.lastActivity.UnixMilli(),
		ConversationActive: e.conversationActive,
	}
}

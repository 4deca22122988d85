// Package health implements the source availability probe described in
// spec §6.3: a pollable, first-class component tracking per-source
// liveness, rather than a passive status() call computed on demand.
//
// It is grounded on the teacher's HealthTracker: a per-source ping loop
// coordinated across orchestrator nodes via a Pulse distributed ticker
// (only one node pings a given source at a time) and a Pulse replicated
// map holding the last observation, so every node answers status(id)
// identically regardless of which node performed the last ping.
package health

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"goa.design/pulse/pool"
	"goa.design/pulse/rmap"

	"github.com/queryorch/orchestrator/internal/model"
	"github.com/queryorch/orchestrator/internal/telemetry"
)

// Status is the availability of a source, per spec §6.3.
type Status string

const (
	StatusOnline   Status = "online"
	StatusDegraded Status = "degraded"
	StatusOffline  Status = "offline"
	StatusUnknown  Status = "unknown"
)

// Report is the result of the availability probe for one source.
type Report struct {
	Status        Status
	LastChecked   time.Time
	ResponseTime  time.Duration
	Error         string
}

// Pinger tests a single source and reports whether the test failed; the
// tracker measures how long the call took. It is typically an adapter's Test capability (spec §4.2); kept as a narrow
// function type so the health package does not depend on internal/adapter.
type Pinger func(ctx context.Context, source model.Source) error

type (
	// Tracker runs a distributed ping loop per source and answers
	// status(source_id) from a shared, replicated last-observation map.
	Tracker interface {
		// Status returns the current availability report for a source.
		// Unregistered or never-pinged sources report StatusUnknown.
		Status(sourceID string) Report
		// StartPingLoop registers a source for health tracking across all
		// nodes sharing this tracker's replicated maps.
		StartPingLoop(ctx context.Context, source model.Source) error
		// StopPingLoop unregisters a source from health tracking.
		StopPingLoop(ctx context.Context, sourceID string)
		// Close stops all ping loops and releases resources.
		Close() error
	}

	// Option configures optional tracker settings.
	Option func(*options)

	options struct {
		pingInterval        time.Duration
		degradedThreshold   time.Duration
		missedPingThreshold int
		logger              telemetry.Logger
	}

	tracker struct {
		pinger              Pinger
		healthMap           *rmap.Map
		registryMap         *rmap.Map
		poolNode            *pool.Node
		pingInterval        time.Duration
		degradedThreshold   time.Duration
		offlineThreshold    time.Duration
		logger              telemetry.Logger

		sourcesMu sync.RWMutex
		sources   map[string]model.Source

		mu      sync.Mutex
		tickers map[string]*pool.Ticker
		cancels map[string]context.CancelFunc

		closeOnce sync.Once
		closeCh   chan struct{}
	}
)

const (
	// DefaultPingInterval is the default interval between availability probes.
	DefaultPingInterval = 10 * time.Second
	// DefaultMissedPingThreshold is the number of missed pings tolerated
	// before a source is reported offline.
	DefaultMissedPingThreshold = 3

	healthKeyPrefix   = "sourcereg:health:"
	registryKeyPrefix = "sourcereg:sources:"
)

// WithPingInterval sets the interval between availability probes.
func WithPingInterval(d time.Duration) Option { return func(o *options) { o.pingInterval = d } }

// WithMissedPingThreshold sets how many missed pings mark a source offline.
func WithMissedPingThreshold(n int) Option {
	return func(o *options) { o.missedPingThreshold = n }
}

// WithDegradedThreshold sets the response-time above which a responding
// source is reported degraded rather than online.
func WithDegradedThreshold(d time.Duration) Option {
	return func(o *options) { o.degradedThreshold = d }
}

// WithLogger sets the tracker's diagnostic logger.
func WithLogger(l telemetry.Logger) Option { return func(o *options) { o.logger = l } }

// NewTracker constructs a Tracker. healthMap stores the last-observation
// per source; registryMap tracks which sources are registered for cross-
// node coordination; node creates the distributed ticker. pinger performs
// the actual liveness check against a source (typically the adapter's Test
// capability).
func NewTracker(pinger Pinger, healthMap, registryMap *rmap.Map, node *pool.Node, opts ...Option) (Tracker, error) {
	if pinger == nil {
		return nil, fmt.Errorf("pinger is required")
	}
	if healthMap == nil || registryMap == nil || node == nil {
		return nil, fmt.Errorf("healthMap, registryMap, and pool node are all required for distributed health tracking")
	}

	o := &options{
		pingInterval:        DefaultPingInterval,
		missedPingThreshold: DefaultMissedPingThreshold,
		degradedThreshold:   500 * time.Millisecond,
		logger:              telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}

	registryEvents := registryMap.Subscribe()

	t := &tracker{
		pinger:            pinger,
		healthMap:         healthMap,
		registryMap:       registryMap,
		poolNode:          node,
		pingInterval:      o.pingInterval,
		degradedThreshold: o.degradedThreshold,
		offlineThreshold:  time.Duration(o.missedPingThreshold+1) * o.pingInterval,
		logger:            o.logger,
		sources:           make(map[string]model.Source),
		tickers:           make(map[string]*pool.Ticker),
		cancels:           make(map[string]context.CancelFunc),
		closeCh:           make(chan struct{}),
	}

	go t.watchRegistryChanges(registryEvents)

	return t, nil
}

func (t *tracker) StartPingLoop(ctx context.Context, source model.Source) error {
	t.sourcesMu.Lock()
	t.sources[source.ID] = source
	t.sourcesMu.Unlock()

	key := registryKeyPrefix + source.ID
	if _, err := t.registryMap.Set(ctx, key, strconv.FormatInt(time.Now().UnixNano(), 10)); err != nil {
		return fmt.Errorf("register source %q: %w", source.ID, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if cancel, ok := t.cancels[source.ID]; ok {
		cancel()
		delete(t.cancels, source.ID)
	}
	if ticker, ok := t.tickers[source.ID]; ok {
		ticker.Close()
		delete(t.tickers, source.ID)
	}
	return t.startLocalTickerLocked(source.ID)
}

func (t *tracker) StopPingLoop(ctx context.Context, sourceID string) {
	if _, err := t.registryMap.Delete(ctx, registryKeyPrefix+sourceID); err != nil {
		t.logger.Error(ctx, "unregister source failed", "source_id", sourceID, "err", err)
	}
	if _, err := t.healthMap.Delete(ctx, healthKeyPrefix+sourceID); err != nil {
		t.logger.Error(ctx, "delete source health failed", "source_id", sourceID, "err", err)
	}
	t.mu.Lock()
	if cancel, ok := t.cancels[sourceID]; ok {
		cancel()
		delete(t.cancels, sourceID)
	}
	if ticker, ok := t.tickers[sourceID]; ok {
		ticker.Stop()
		delete(t.tickers, sourceID)
	}
	t.mu.Unlock()

	t.sourcesMu.Lock()
	delete(t.sources, sourceID)
	t.sourcesMu.Unlock()
}

func (t *tracker) Status(sourceID string) Report {
	val, ok := t.healthMap.Get(healthKeyPrefix + sourceID)
	if !ok {
		return Report{Status: StatusUnknown}
	}
	parts := strings.SplitN(val, "|", 3)
	if len(parts) != 3 {
		return Report{Status: StatusUnknown}
	}
	tsNano, err1 := strconv.ParseInt(parts[0], 10, 64)
	rtMicros, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return Report{Status: StatusUnknown}
	}
	lastChecked := time.Unix(0, tsNano)
	rt := time.Duration(rtMicros) * time.Microsecond
	errMsg := parts[2]
	if errMsg == "-" {
		errMsg = ""
	}

	age := time.Since(lastChecked)
	status := StatusOnline
	switch {
	case age > t.offlineThreshold || errMsg != "":
		status = StatusOffline
	case rt > t.degradedThreshold:
		status = StatusDegraded
	}
	return Report{Status: status, LastChecked: lastChecked, ResponseTime: rt, Error: errMsg}
}

func (t *tracker) Close() error {
	t.closeOnce.Do(func() {
		close(t.closeCh)
		t.mu.Lock()
		defer t.mu.Unlock()
		for _, cancel := range t.cancels {
			cancel()
		}
		for _, ticker := range t.tickers {
			ticker.Close()
		}
		t.tickers = make(map[string]*pool.Ticker)
		t.cancels = make(map[string]context.CancelFunc)
	})
	return nil
}

func (t *tracker) watchRegistryChanges(events <-chan rmap.EventKind) {
	defer t.registryMap.Unsubscribe(events)
	for {
		select {
		case <-t.closeCh:
			return
		case <-events:
			t.syncWithRegistry()
		}
	}
}

func (t *tracker) syncWithRegistry() {
	registered := make(map[string]bool)
	for _, key := range t.registryMap.Keys() {
		if id := strings.TrimPrefix(key, registryKeyPrefix); id != key {
			registered[id] = true
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range registered {
		if _, ok := t.tickers[id]; !ok {
			if err := t.startLocalTickerLocked(id); err != nil {
				t.logger.Error(context.Background(), "start ticker failed", "source_id", id, "err", err)
			}
		}
	}
	for id := range t.tickers {
		if !registered[id] {
			if cancel, ok := t.cancels[id]; ok {
				cancel()
				delete(t.cancels, id)
			}
			t.tickers[id].Stop()
			delete(t.tickers, id)
		}
	}
}

func (t *tracker) startLocalTickerLocked(sourceID string) error {
	if _, ok := t.tickers[sourceID]; ok {
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	ticker, err := t.poolNode.NewTicker(loopCtx, "sourcereg:ping:"+sourceID, t.pingInterval)
	if err != nil {
		cancel()
		return fmt.Errorf("create distributed ticker: %w", err)
	}
	t.tickers[sourceID] = ticker
	t.cancels[sourceID] = cancel
	go t.runPingLoop(loopCtx, sourceID, ticker)
	return nil
}

func (t *tracker) runPingLoop(ctx context.Context, sourceID string, ticker *pool.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.probe(ctx, sourceID)
		}
	}
}

func (t *tracker) probe(ctx context.Context, sourceID string) {
	t.sourcesMu.RLock()
	source, ok := t.sources[sourceID]
	t.sourcesMu.RUnlock()
	if !ok {
		return
	}

	start := time.Now()
	err := t.pinger(ctx, source)
	rt := time.Since(start)

	errField := "-"
	if err != nil {
		errField = err.Error()
		t.logger.Warn(ctx, "source probe failed", "source_id", sourceID, "err", err)
	}
	val := fmt.Sprintf("%d|%d|%s", time.Now().UnixNano(), rt.Microseconds(), errField)
	if _, err := t.healthMap.Set(ctx, healthKeyPrefix+sourceID, val); err != nil {
		t.logger.Error(ctx, "record source health failed", "source_id", sourceID, "err", err)
	}
}

// Package guard owns the live policy state of a host. Persistent rules are
// shared by every session and saved through a store; session rules belong to
// one session key and are never shared. The guard applies policy commands and
// answers the evaluation entry points the host calls before running a shell
// command.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/cmdguard/internal/config"
	"github.com/haasonsaas/cmdguard/internal/hooks"
	"github.com/haasonsaas/cmdguard/internal/observability"
	"github.com/haasonsaas/cmdguard/internal/policy"
	"github.com/haasonsaas/cmdguard/internal/store"
)

// ErrInvalidPrefix is returned by policy commands whose argument does not
// name a command after normalization.
var ErrInvalidPrefix = policy.ErrInvalidPrefix

// SaveError reports a persistent mutation whose save failed. The in-memory
// change has been reverted when this error is returned.
type SaveError struct {
	Op     string
	Prefix string
	Err    error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("%s %q: could not save rules, change reverted: %v", e.Op, e.Prefix, e.Err)
}

func (e *SaveError) Unwrap() error {
	return e.Err
}

// Options configures a Guard.
type Options struct {
	// Store persists the persistent layer. Nil keeps rules in memory only.
	Store store.Store

	Notifier Notifier
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer

	// DefaultBlocked seeds the persistent block set when storage is absent
	// or unreadable. Nil means config.DefaultBlockedPrefixes.
	DefaultBlocked []string

	// Hooks, when set, receives policy.changed events after mutations.
	Hooks *hooks.Registry
}

// Guard serializes access to the persistent rule sets and the session rule
// sets of every open session.
type Guard struct {
	mu         sync.Mutex
	persistent policy.Layer
	sessions   map[string]policy.Layer

	store          store.Store
	notifier       Notifier
	logger         *slog.Logger
	metrics        *observability.Metrics
	tracer         *observability.Tracer
	defaultBlocked []string
	hooks          *hooks.Registry
}

// New creates a guard with empty session rules and the default persistent
// rules. Call StartSession to load persistent rules from the store.
func New(opts Options) *Guard {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	defaults := opts.DefaultBlocked
	if defaults == nil {
		defaults = config.DefaultBlockedPrefixes
	}

	g := &Guard{
		store:          opts.Store,
		notifier:       notifier,
		logger:         logger.With("component", "guard"),
		metrics:        opts.Metrics,
		tracer:         opts.Tracer,
		defaultBlocked: append([]string(nil), defaults...),
		hooks:          opts.Hooks,
	}
	g.persistent = g.defaultLayer()
	g.sessions = make(map[string]policy.Layer)
	g.publishCountsLocked()
	return g
}

// StartSession reloads the persistent rules and clears the session rules of
// sessionKey. Other sessions keep their rules. Storage problems are reported
// through the notifier, never returned.
func (g *Guard) StartSession(ctx context.Context, sessionKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	_ = g.loadPersistentLocked(ctx)
	g.sessions[sessionKey] = policy.NewLayer()
	g.publishCountsLocked()
	g.logger.Info("session started",
		"session_key", sessionKey,
		"persistent_blocked", g.persistent.Block.Len(),
		"persistent_permitted", g.persistent.Permit.Len())
}

// EndSession drops the session rules of sessionKey. It reports whether the
// session was known.
func (g *Guard) EndSession(ctx context.Context, sessionKey string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, ok := g.sessions[sessionKey]
	delete(g.sessions, sessionKey)
	g.publishCountsLocked()
	if ok {
		g.logger.Info("session ended", "session_key", sessionKey)
	}
	return ok
}

// Sessions returns the keys of known sessions, sorted.
func (g *Guard) Sessions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	keys := make([]string, 0, len(g.sessions))
	for key := range g.sessions {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ReloadPersistent reloads the persistent rules without touching session
// rules. The returned error has already been reported through the notifier.
func (g *Guard) ReloadPersistent(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	err := g.loadPersistentLocked(ctx)
	g.publishCountsLocked()
	return err
}

// State returns a copy of the rule sets that apply to sessionKey.
func (g *Guard) State(sessionKey string) policy.State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked(sessionKey).Clone()
}

// stateLocked pairs the session layer of sessionKey with the persistent
// layer. An unknown session has no session rules.
func (g *Guard) stateLocked(sessionKey string) policy.State {
	session, ok := g.sessions[sessionKey]
	if !ok {
		session = policy.NewLayer()
	}
	return policy.State{Session: session, Persistent: g.persistent}
}

// sessionLocked returns the session layer of sessionKey, creating it.
func (g *Guard) sessionLocked(sessionKey string) policy.Layer {
	session, ok := g.sessions[sessionKey]
	if !ok {
		session = policy.NewLayer()
		g.sessions[sessionKey] = session
	}
	return session
}

// StoreDescription names the backing store, or "memory".
func (g *Guard) StoreDescription() string {
	if g.store == nil {
		return "memory"
	}
	return g.store.Describe()
}

func (g *Guard) defaultLayer() policy.Layer {
	return policy.Layer{
		Block:  policy.NewRuleSet(g.defaultBlocked...),
		Permit: policy.NewRuleSet(),
	}
}

// loadPersistentLocked replaces the persistent layer from the store. Absent
// storage is initialized with the defaults; unreadable storage falls back to
// the defaults and is reported as a warning.
func (g *Guard) loadPersistentLocked(ctx context.Context) error {
	if g.store == nil {
		return nil
	}

	rules, err := g.loadRules(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.persistent = g.defaultLayer()
		if err := g.saveLocked(ctx); err != nil {
			g.notifier.Notify(ctx, fmt.Sprintf("cmdguard: could not initialize rules at %s: %v", g.store.Describe(), err), LevelWarning)
			return err
		}
		g.logger.Info("initialized rule storage with defaults", "store", g.store.Describe())
		return nil
	case err != nil:
		g.persistent = g.defaultLayer()
		g.notifier.Notify(ctx, fmt.Sprintf("cmdguard: failed to load rules from %s, using defaults: %v", g.store.Describe(), err), LevelWarning)
		return err
	}

	g.persistent = policy.Layer{
		Block:  policy.NewRuleSet(rules.Blocked...),
		Permit: policy.NewRuleSet(rules.Permitted...),
	}
	return nil
}

func (g *Guard) loadRules(ctx context.Context) (*store.Rules, error) {
	ctx, span := g.tracer.TraceStoreOperation(ctx, "load", g.store.Describe())
	defer span.End()

	start := time.Now()
	rules, err := g.store.Load(ctx)
	status := "success"
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
		g.tracer.RecordError(span, err)
	}
	g.metrics.RecordStoreOperation("load", status, time.Since(start))
	return rules, err
}

// saveLocked writes the persistent layer to the store.
func (g *Guard) saveLocked(ctx context.Context) error {
	if g.store == nil {
		return nil
	}

	ctx, span := g.tracer.TraceStoreOperation(ctx, "save", g.store.Describe())
	defer span.End()

	start := time.Now()
	err := g.store.Save(ctx, &store.Rules{
		Blocked:   g.persistent.Block.Prefixes(),
		Permitted: g.persistent.Permit.Prefixes(),
	})
	status := "success"
	if err != nil {
		status = "error"
		g.tracer.RecordError(span, err)
	}
	g.metrics.RecordStoreOperation("save", status, time.Since(start))
	return err
}

// publishCountsLocked sets the rule gauges. Session counts are summed over
// all sessions.
func (g *Guard) publishCountsLocked() {
	var blocked, permitted int
	for _, session := range g.sessions {
		blocked += session.Block.Len()
		permitted += session.Permit.Len()
	}
	g.metrics.SetRuleCount(string(policy.LayerSession), "block", blocked)
	g.metrics.SetRuleCount(string(policy.LayerSession), "permit", permitted)
	g.metrics.SetRuleCount(string(policy.LayerPersistent), "block", g.persistent.Block.Len())
	g.metrics.SetRuleCount(string(policy.LayerPersistent), "permit", g.persistent.Permit.Len())
}

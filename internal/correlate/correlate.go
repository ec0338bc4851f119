// Package correlate groups alerts that share entities inside a sliding
// time window into correlation sets. The entity→set index is the only
// shared mutable structure on the ingestion hot path, so lookups and
// merges are serialized per entity key via striped locks rather than a
// single global lock; alerts touching disjoint entities correlate
// concurrently.
package correlate

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/score"
)

const stripeCount = 64

// Set is a group of alerts linked by shared entities. A set accepts new
// members until its newest member is older than the window; after that it
// is frozen: still queryable for decisions, but never merged again.
type Set struct {
	ID           string     `json:"id"`
	AlertIDs     []string   `json:"alert_ids"`
	EntityKeys   []string   `json:"entity_keys"`
	Version      uint64     `json:"version"`
	NewestMember time.Time  `json:"newest_member"`
	Tier         score.Tier `json:"tier"`
	Frozen       bool       `json:"frozen"`
}

// Size returns the number of member alerts.
func (s *Set) Size() int { return len(s.AlertIDs) }

func (s *Set) clone() *Set {
	cp := *s
	cp.AlertIDs = append([]string(nil), s.AlertIDs...)
	cp.EntityKeys = append([]string(nil), s.EntityKeys...)
	return &cp
}

// Engine owns all correlation set mutation. Other components receive
// copies and communicate through events, never by mutating sets directly.
type Engine struct {
	window    time.Duration
	retention time.Duration
	logger    log.Logger
	metrics   *Metrics

	stripes [stripeCount]sync.Mutex

	// mu guards the map headers only; merge serialization is the job of
	// the stripes above.
	mu    sync.RWMutex
	index map[string]string // entity key -> set ID
	sets  map[string]*Set
}

// NewEngine creates a correlation engine. A nil metrics disables
// instrumentation (tests); retention must be >= window.
func NewEngine(window, retention time.Duration, logger log.Logger, m *Metrics) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		window:    window,
		retention: retention,
		logger:    logger,
		metrics:   m,
		index:     make(map[string]string),
		sets:      make(map[string]*Set),
	}
}

// Correlate assigns the alert to a correlation set: joining the lowest-ID
// active set sharing an entity, unioning multiple matched sets, or
// creating a new singleton. Returns a copy of the resulting set.
//
// Mutual exclusion must cover every set the alert can touch, not just the
// alert's own entity keys: a union re-points the index for all of the
// losing sets' keys. The stripe set is therefore grown until it covers
// the incoming keys plus every matched set's entity keys, re-resolving
// the matches after each re-acquisition since a concurrent merge may have
// changed them in between.
func (e *Engine) Correlate(ctx context.Context, a *alert.Alert, tier score.Tier, now time.Time) *Set {
	keys := entityKeys(a)

	held := stripesFor(keys)
	unlock := e.lockStripes(held)
	defer func() { unlock() }()

	var matched []*Set
	for {
		var matchedKeys []string
		matched, matchedKeys = e.activeSetsFor(keys, now)
		need := stripesFor(append(matchedKeys, keys...))
		if coveredBy(need, held) {
			break
		}
		unlock()
		held = need
		unlock = e.lockStripes(held)
	}

	var target *Set
	switch {
	case len(matched) == 0:
		target = e.newSet(a, keys, tier, now)
		if e.metrics != nil {
			e.metrics.SetsCreated.Inc()
		}
	case len(matched) == 1:
		target = matched[0]
	default:
		target = e.union(matched)
		if e.metrics != nil {
			e.metrics.SetsMerged.Add(float64(len(matched) - 1))
		}
		e.logger.Info(ctx, "correlation sets merged",
			"winner", target.ID,
			"merged", len(matched)-1,
			"alert_id", a.ID,
		)
	}

	e.join(target, a, keys, tier, now)

	if e.metrics != nil {
		e.metrics.SetSize.Observe(float64(target.Size()))
	}

	// The held stripes exclude concurrent correlation of this set, but the
	// sweep flips Frozen under mu alone.
	e.mu.RLock()
	cp := target.clone()
	e.mu.RUnlock()
	return cp
}

// Get returns a copy of a set by ID for the decision stage and API reads.
func (e *Engine) Get(id string) (*Set, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sets[id]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// Run sweeps frozen and expired sets until ctx is cancelled
// (aegisflux-style window GC).
func (e *Engine) Run(ctx context.Context, sweepEvery time.Duration) {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.sweep(now)
		}
	}
}

// sweep freezes sets past the window and drops sets past retention.
func (e *Engine) sweep(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	frozen, dropped := 0, 0
	for id, s := range e.sets {
		age := now.Sub(s.NewestMember)
		if !s.Frozen && age > e.window {
			s.Frozen = true
			frozen++
		}
		if age > e.retention {
			for _, k := range s.EntityKeys {
				if e.index[k] == id {
					delete(e.index, k)
				}
			}
			delete(e.sets, id)
			dropped++
		}
	}

	if e.metrics != nil {
		e.metrics.SetsFrozen.Add(float64(frozen))
		e.metrics.SetsExpired.Add(float64(dropped))
		e.metrics.ActiveSets.Set(float64(len(e.sets)))
	}
}

// stripesFor maps entity keys to their lock stripes, deduplicated and
// sorted ascending so acquisition order is total and deadlock-free.
func stripesFor(keys []string) []int {
	seen := map[int]struct{}{}
	var ids []int
	for _, k := range keys {
		id := stripeFor(k)
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// lockStripes acquires the given stripes in ascending order and returns
// the matching unlocker.
func (e *Engine) lockStripes(ids []int) func() {
	for _, id := range ids {
		e.stripes[id].Lock()
	}
	return func() {
		for i := len(ids) - 1; i >= 0; i-- {
			e.stripes[ids[i]].Unlock()
		}
	}
}

// coveredBy reports whether every stripe in need is present in held.
// Both slices are sorted ascending.
func coveredBy(need, held []int) bool {
	i := 0
	for _, n := range need {
		for i < len(held) && held[i] < n {
			i++
		}
		if i >= len(held) || held[i] != n {
			return false
		}
	}
	return true
}

func stripeFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % stripeCount)
}

// activeSetsFor returns the distinct non-frozen sets indexed under the
// keys, ordered by set ID ascending (lowest ID is the merge winner), and
// the union of those sets' entity keys, collected under the same lock so
// the caller can extend its stripe coverage to the whole match.
func (e *Engine) activeSetsFor(keys []string, now time.Time) ([]*Set, []string) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	seen := map[string]struct{}{}
	var out []*Set
	var setKeys []string
	for _, k := range keys {
		id, ok := e.index[k]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		s, ok := e.sets[id]
		if !ok {
			continue
		}
		// Expiry is checked lazily here; the sweep marks Frozen for readers.
		if s.Frozen || now.Sub(s.NewestMember) > e.window {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, s)
		setKeys = append(setKeys, s.EntityKeys...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, setKeys
}

func (e *Engine) newSet(a *alert.Alert, keys []string, tier score.Tier, now time.Time) *Set {
	s := &Set{
		ID:           ulid.Make().String(),
		NewestMember: now,
		Tier:         tier,
	}
	e.mu.Lock()
	e.sets[s.ID] = s
	e.mu.Unlock()
	return s
}

// union merges all matched sets into the lowest-ID one. Callers hold the
// stripe locks for every entity key involved.
func (e *Engine) union(matched []*Set) *Set {
	winner := matched[0]

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, loser := range matched[1:] {
		winner.AlertIDs = append(winner.AlertIDs, loser.AlertIDs...)
		for _, k := range loser.EntityKeys {
			winner.EntityKeys = appendUnique(winner.EntityKeys, k)
			e.index[k] = winner.ID
		}
		if loser.NewestMember.After(winner.NewestMember) {
			winner.NewestMember = loser.NewestMember
		}
		winner.Tier = score.Max(winner.Tier, loser.Tier)
		delete(e.sets, loser.ID)
	}
	winner.Version++
	return winner
}

// join adds the alert to the target set and indexes its entity keys.
func (e *Engine) join(s *Set, a *alert.Alert, keys []string, tier score.Tier, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s.AlertIDs = appendUnique(s.AlertIDs, a.ID)
	for _, k := range keys {
		s.EntityKeys = appendUnique(s.EntityKeys, k)
		e.index[k] = s.ID
	}
	if now.After(s.NewestMember) {
		s.NewestMember = now
	}
	s.Tier = score.Max(s.Tier, tier)
	s.Version++
}

func entityKeys(a *alert.Alert) []string {
	seen := map[string]struct{}{}
	var keys []string
	for _, e := range a.Entities {
		k := e.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

func appendUnique(slice []string, v string) []string {
	for _, s := range slice {
		if s == v {
			return slice
		}
	}
	return append(slice, v)
}

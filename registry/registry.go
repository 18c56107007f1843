// Package registry implements the Node Registry: an in-memory directory of
// live nodes with lease renewal, label/capability queries, and a TTL
// sweeper, plus the Registry Service that bridges Bus node-lifecycle
// events into it.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/aiteam/mindbus/core"
)

// HealthState is the registry's own liveness judgment about an entry,
// distinct from the passport's self-reported Phase.
type HealthState string

const (
	HealthAlive    HealthState = "alive"
	HealthNotReady HealthState = "not_ready"
	HealthOffline  HealthState = "offline"
)

// EventKind discriminates the callback hooks NodeRegistry fires.
type EventKind string

const (
	EventRegistered   EventKind = "registered"
	EventDeregistered EventKind = "deregistered"
	EventUnhealthy    EventKind = "unhealthy"
)

// entry is the registry's internal record for one node.
type entry struct {
	passport     core.NodePassport
	lastSeen     time.Time
	health       HealthState
	registeredAt time.Time
}

// Callback is invoked outside the registry's lock whenever an event of the
// subscribed kind occurs.
type Callback func(passport core.NodePassport, reason string)

// Config tunes the sweeper's timing. TTLSeconds must be at least twice
// HeartbeatIntervalSeconds (checked by whoever builds the Config; the
// registry itself does not second-guess it at runtime).
type Config struct {
	HeartbeatIntervalSeconds int
	TTLSeconds               int
	CleanupIntervalSeconds   int
}

// NodeRegistry is the in-memory, single-locked directory of live nodes.
// All mutating access is serialized by mu; callbacks fire after the
// lock is released.
type NodeRegistry struct {
	mu      sync.Mutex
	entries map[string]*entry // uid -> entry
	names   map[string]string // name -> uid, for the duplicate-name check
	cfg     Config
	logger  core.Logger

	callbacksMu sync.RWMutex
	callbacks   map[EventKind][]Callback

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a NodeRegistry. Call Start to begin the TTL sweeper.
func New(cfg Config, logger core.Logger) *NodeRegistry {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &NodeRegistry{
		entries:   make(map[string]*entry),
		names:     make(map[string]string),
		cfg:       cfg,
		logger:    logger,
		callbacks: make(map[EventKind][]Callback),
	}
}

// Watch registers a callback fired whenever kind occurs. Matches the
// shape of the Python registry's on_node_registered/on_node_deregistered/
// on_node_unhealthy hooks.
func (r *NodeRegistry) Watch(kind EventKind, cb Callback) {
	r.callbacksMu.Lock()
	defer r.callbacksMu.Unlock()
	r.callbacks[kind] = append(r.callbacks[kind], cb)
}

func (r *NodeRegistry) fire(kind EventKind, passport core.NodePassport, reason string) {
	r.callbacksMu.RLock()
	cbs := append([]Callback(nil), r.callbacks[kind]...)
	r.callbacksMu.RUnlock()
	for _, cb := range cbs {
		cb(passport, reason)
	}
}

// Register inserts passport as a new, alive entry. It rejects a second
// registration under the same uid or the same name: uid and name are
// each unique across the live registry.
func (r *NodeRegistry) Register(passport core.NodePassport) error {
	uid := passport.Metadata.UID
	name := passport.Metadata.Name

	r.mu.Lock()
	if _, exists := r.entries[uid]; exists {
		r.mu.Unlock()
		return core.NewFrameworkError("NodeRegistry.Register", "already_exists", core.ErrAlreadyRegistered)
	}
	if existingUID, exists := r.names[name]; exists && existingUID != uid {
		r.mu.Unlock()
		return core.NewFrameworkError("NodeRegistry.Register", "already_exists", core.ErrAlreadyRegistered)
	}

	now := time.Now()
	passport.Status.Lease.RenewTime = now
	e := &entry{
		passport:     passport,
		lastSeen:     now,
		health:       HealthAlive,
		registeredAt: now,
	}
	r.entries[uid] = e
	r.names[name] = uid
	r.mu.Unlock()

	r.logger.Info("node registered", map[string]interface{}{"uid": uid, "name": name})
	r.fire(EventRegistered, passport, "")
	return nil
}

// UpdateHeartbeat bumps last_seen, restores health to alive, and renews the
// passport's lease. An unknown uid is logged and ignored, not an error.
func (r *NodeRegistry) UpdateHeartbeat(uid string) {
	r.mu.Lock()
	e, exists := r.entries[uid]
	if !exists {
		r.mu.Unlock()
		r.logger.Warn("heartbeat for unknown node", map[string]interface{}{"uid": uid})
		return
	}
	now := time.Now()
	e.lastSeen = now
	e.health = HealthAlive
	e.passport.Status.Lease.RenewTime = now
	r.mu.Unlock()
}

// Deregister removes uid's entry and fires the deregistered callback.
func (r *NodeRegistry) Deregister(uid, reason string) bool {
	r.mu.Lock()
	e, exists := r.entries[uid]
	if !exists {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, uid)
	delete(r.names, e.passport.Metadata.Name)
	r.mu.Unlock()

	r.logger.Info("node deregistered", map[string]interface{}{"uid": uid, "reason": reason})
	r.fire(EventDeregistered, e.passport, reason)
	return true
}

// FindOptions filters a registry query. Zero-value NodeType/Capability
// mean "no constraint"; a nil Selector means "no label constraint".
type FindOptions struct {
	Selector     map[string]string
	NodeType     core.NodeType
	Capability   string
	OnlyHealthy  bool
}

// Find returns the entries matching opts, AND-composed across node_type,
// capability, and selector, ordered by registered_at ascending (FIFO
// tie-break).
func (r *NodeRegistry) Find(opts FindOptions) []core.NodePassport {
	r.mu.Lock()
	defer r.mu.Unlock()

	type candidate struct {
		passport     core.NodePassport
		registeredAt time.Time
	}
	var matches []candidate

	for _, e := range r.entries {
		if opts.OnlyHealthy && e.health != HealthAlive {
			continue
		}
		if opts.NodeType != "" && e.passport.Metadata.NodeType != opts.NodeType {
			continue
		}
		if opts.Capability != "" && !e.passport.HasCapability(opts.Capability) {
			continue
		}
		if len(opts.Selector) > 0 && !e.passport.MatchesLabels(opts.Selector) {
			continue
		}
		matches = append(matches, candidate{passport: e.passport, registeredAt: e.registeredAt})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].registeredAt.Before(matches[j].registeredAt)
	})

	out := make([]core.NodePassport, len(matches))
	for i, m := range matches {
		out[i] = m.passport
	}
	return out
}

// FindByCapability is the common case used by the Orchestrator's dispatch:
// the first (FIFO) healthy node offering action.
func (r *NodeRegistry) FindByCapability(action string) (core.NodePassport, bool) {
	matches := r.Find(FindOptions{Capability: action, OnlyHealthy: true})
	if len(matches) == 0 {
		return core.NodePassport{}, false
	}
	return matches[0], true
}

// Stats reports total/alive/not_ready counts and a per-type breakdown,
// mirroring node_registry.py's get_stats().
func (r *NodeRegistry) Stats() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := len(r.entries)
	alive := 0
	notReady := 0
	byType := make(map[string]int)

	for _, e := range r.entries {
		switch e.health {
		case HealthAlive:
			alive++
		case HealthNotReady:
			notReady++
		}
		byType[string(e.passport.Metadata.NodeType)]++
	}

	return map[string]interface{}{
		"total_nodes":    total,
		"alive_nodes":    alive,
		"not_ready_nodes": notReady,
		"nodes_by_type":  byType,
	}
}

// Start launches the background TTL sweeper. Stop must be called to halt
// it.
func (r *NodeRegistry) Start() {
	r.stopCh = make(chan struct{})
	r.wg.Add(1)
	go r.sweepLoop()
}

// Stop halts the sweeper and waits for it to exit.
func (r *NodeRegistry) Stop() {
	if r.stopCh == nil {
		return
	}
	close(r.stopCh)
	r.wg.Wait()
}

func (r *NodeRegistry) sweepLoop() {
	defer r.wg.Done()
	interval := time.Duration(r.cfg.CleanupIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep demotes entries past ttl/2 to not_ready and evicts entries past
// the full ttl, firing the unhealthy callback on eviction.
func (r *NodeRegistry) sweep() {
	ttl := time.Duration(r.cfg.TTLSeconds) * time.Second
	now := time.Now()

	var evicted []core.NodePassport

	r.mu.Lock()
	for uid, e := range r.entries {
		age := now.Sub(e.lastSeen)
		if age > ttl {
			evicted = append(evicted, e.passport)
			delete(r.entries, uid)
			delete(r.names, e.passport.Metadata.Name)
		} else if age > ttl/2 && e.health == HealthAlive {
			e.health = HealthNotReady
		}
	}
	r.mu.Unlock()

	for _, passport := range evicted {
		r.logger.Warn("node evicted on ttl expiry", map[string]interface{}{"uid": passport.Metadata.UID})
		r.fire(EventUnhealthy, passport, "ttl_expired")
		r.fire(EventDeregistered, passport, "ttl_expired")
	}
}

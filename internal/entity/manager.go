package entity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Logger defines the logging interface used by the Manager.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Default tuning values applied when ManagerOptions leaves them zero.
const (
	DefaultScanInterval         = 30 * time.Second
	DefaultUpdateTimeout        = 10 * time.Second
	DefaultMaxConcurrentUpdates = 8

	// projectTimeout bounds the persistence write when a projection is
	// triggered outside a caller-supplied context (coordinator
	// listeners, poll loop).
	projectTimeout = 5 * time.Second
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Domain is the entity domain this manager owns (sensor, switch, ...).
	// Required; must be a lowercase slug.
	Domain string

	// Repository persists entity records across restarts. Optional.
	Repository Repository

	// Sink receives state projections after every update. Optional.
	Sink StateSink

	// Logger receives lifecycle and failure logs. Optional.
	Logger Logger

	// ScanInterval is the default polling cadence for ShouldPoll
	// entities without their own. Defaults to DefaultScanInterval.
	ScanInterval time.Duration

	// UpdateTimeout bounds a single entity update.
	// Defaults to DefaultUpdateTimeout.
	UpdateTimeout time.Duration

	// MaxConcurrentUpdates bounds how many entity updates run at once
	// within one poll cycle. Defaults to DefaultMaxConcurrentUpdates.
	MaxConcurrentUpdates int
}

// registered couples an entity with its assigned ID and bookkeeping.
type registered struct {
	entityID string
	entity   Entity
	desc     Description

	// lastPoll is touched only by the poll loop, under the manager lock.
	lastPoll time.Time

	// removeListener detaches the coordinator subscription, if any.
	removeListener func()
}

// Snapshot is a point-in-time view of one registered entity, safe to
// hand to API handlers and other readers.
type Snapshot struct {
	EntityID    string      `json:"entity_id"`
	Description Description `json:"-"`
	Name        string      `json:"name"`
	Available   bool        `json:"available"`
	State       State       `json:"state"`
}

// Manager owns the lifecycle of all entities in one domain: ID
// assignment, registration, periodic polling, state projection, and
// removal.
//
// All public methods are thread-safe.
type Manager struct {
	domain        string
	repo          Repository
	sink          StateSink
	logger        Logger
	scanInterval  time.Duration
	updateTimeout time.Duration
	sem           *semaphore.Weighted

	mu       sync.RWMutex
	entities map[string]*registered // by entity ID
	byUnique map[string]string      // unique ID -> entity ID
	running  bool
	stopped  bool
	stopCh   chan struct{}

	// wg tracks in-flight update goroutines for shutdown.
	wg sync.WaitGroup
}

// NewManager creates a lifecycle manager for one domain.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if err := ValidateDomain(opts.Domain); err != nil {
		return nil, err
	}

	scan := opts.ScanInterval
	if scan <= 0 {
		scan = DefaultScanInterval
	}
	timeout := opts.UpdateTimeout
	if timeout <= 0 {
		timeout = DefaultUpdateTimeout
	}
	maxConcurrent := opts.MaxConcurrentUpdates
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentUpdates
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Manager{
		domain:        opts.Domain,
		repo:          opts.Repository,
		sink:          opts.Sink,
		logger:        logger,
		scanInterval:  scan,
		updateTimeout: timeout,
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
		entities:      make(map[string]*registered),
		byUnique:      make(map[string]string),
		stopCh:        make(chan struct{}),
	}, nil
}

// Domain returns the domain this manager owns.
func (m *Manager) Domain() string {
	return m.domain
}

// AddEntities registers a batch of entities.
//
// Entities with an invalid description or a unique ID already claimed
// in this domain are dropped; the rest of the batch still registers.
// With updateBeforeAdd set, each entity's first update runs before it
// becomes visible, and an entity whose first update fails is dropped.
//
// The returned error aggregates all per-entity drops; a nil error
// means every entity registered.
func (m *Manager) AddEntities(ctx context.Context, entities []Entity, updateBeforeAdd bool) error {
	// First updates run concurrently through the same bounded pool the
	// poll loop uses; the whole cohort is awaited before any entity
	// becomes visible. Registration itself stays sequential so entity
	// ID assignment is deterministic in batch order.
	updateErrs := make([]error, len(entities))
	if updateBeforeAdd {
		var wg sync.WaitGroup
		for i, e := range entities {
			if ValidateDescription(e.Description()) != nil {
				continue // reported during registration
			}
			if err := m.sem.Acquire(ctx, 1); err != nil {
				updateErrs[i] = err
				continue
			}
			wg.Add(1)
			go func(i int, e Entity) {
				defer wg.Done()
				defer m.sem.Release(1)
				updateErrs[i] = m.guardedUpdate(ctx, e)
			}(i, e)
		}
		wg.Wait()
	}

	var errs []error
	for i, e := range entities {
		if updateErrs[i] != nil {
			desc := e.Description()
			m.logger.Warn("entity dropped, first update failed",
				"domain", m.domain, "unique_id", desc.UniqueID, "error", updateErrs[i])
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrUpdateFailed, desc.UniqueID, updateErrs[i]))
			continue
		}
		if err := m.addEntity(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// guardedUpdate runs one entity update with the manager timeout,
// converting a panic into an error so a single bad entity never takes
// the process down. Every update path goes through here.
func (m *Manager) guardedUpdate(ctx context.Context, e Entity) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("update panicked: %v", r)
		}
	}()

	uctx, cancel := context.WithTimeout(ctx, m.updateTimeout)
	defer cancel()
	return e.Update(uctx)
}

// addEntity validates and registers one entity.
func (m *Manager) addEntity(ctx context.Context, e Entity) error {
	desc := e.Description()
	if err := ValidateDescription(desc); err != nil {
		m.logger.Warn("entity rejected", "domain", m.domain, "unique_id", desc.UniqueID, "error", err)
		return err
	}

	m.mu.RLock()
	_, dup := m.byUnique[desc.UniqueID]
	stopped := m.stopped
	m.mu.RUnlock()
	if stopped {
		return ErrManagerStopped
	}
	if dup {
		m.logger.Warn("entity rejected", "domain", m.domain, "unique_id", desc.UniqueID, "error", ErrDuplicateUniqueID)
		return fmt.Errorf("%w: %s", ErrDuplicateUniqueID, desc.UniqueID)
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrManagerStopped
	}
	if _, dup := m.byUnique[desc.UniqueID]; dup {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateUniqueID, desc.UniqueID)
	}

	entityID := m.assignEntityID(ctx, desc)
	reg := &registered{
		entityID: entityID,
		entity:   e,
		desc:     desc,
		lastPoll: time.Now(),
	}
	m.entities[entityID] = reg
	m.byUnique[desc.UniqueID] = entityID

	if cb, ok := e.(CoordinatorBound); ok && cb.Coordinator() != nil {
		reg.removeListener = cb.Coordinator().AddListener(func() {
			m.project(reg)
		})
	}
	m.mu.Unlock()

	if m.repo != nil {
		st := e.State().Clone()
		if err := ValidateState(st); err != nil {
			m.logger.Warn("entity state rejected",
				"entity_id", entityID, "keys", len(st), "error", err)
			st = nil
		}
		rec := &Record{
			EntityID:  entityID,
			Domain:    m.domain,
			UniqueID:  desc.UniqueID,
			Name:      desc.Name,
			Available: e.Available(),
			State:     st,
		}
		if err := m.repo.Save(ctx, rec); err != nil {
			// Registration stands; persistence catches up on the next
			// state write.
			m.logger.Warn("entity persist failed", "entity_id", entityID, "error", err)
		}
	}

	m.project(reg)

	m.logger.Info("entity added",
		"entity_id", entityID,
		"unique_id", desc.UniqueID,
		"should_poll", desc.ShouldPoll)
	return nil
}

// assignEntityID produces a stable, unique entity ID. A persisted
// record for the same unique ID wins so IDs survive restarts;
// otherwise the name slug is used, with _2, _3 suffixes on collision.
// Caller holds the write lock.
func (m *Manager) assignEntityID(ctx context.Context, desc Description) string {
	if m.repo != nil {
		if rec, err := m.repo.GetByUniqueID(ctx, m.domain, desc.UniqueID); err == nil {
			if _, taken := m.entities[rec.EntityID]; !taken {
				return rec.EntityID
			}
		}
	}

	slug := Slugify(desc.Name)
	if slug == "" {
		slug = Slugify(desc.UniqueID)
	}
	if slug == "" {
		slug = "unnamed"
	}

	candidate := m.domain + "." + slug
	for i := 2; ; i++ {
		if _, taken := m.entities[candidate]; !taken {
			return candidate
		}
		candidate = fmt.Sprintf("%s.%s_%d", m.domain, slug, i)
	}
}

// RemoveEntity unregisters an entity, detaches its coordinator
// subscription, deletes its record, and announces the removal.
// Removing an unknown entity ID is a no-op.
func (m *Manager) RemoveEntity(ctx context.Context, entityID string) error {
	m.mu.Lock()
	reg, ok := m.entities[entityID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.entities, entityID)
	delete(m.byUnique, reg.desc.UniqueID)
	m.mu.Unlock()

	if reg.removeListener != nil {
		reg.removeListener()
	}

	if m.repo != nil {
		if err := m.repo.Delete(ctx, entityID); err != nil {
			m.logger.Warn("entity record delete failed", "entity_id", entityID, "error", err)
		}
	}
	if m.sink != nil {
		m.sink.EntityRemoved(entityID, m.domain)
	}

	m.logger.Info("entity removed", "entity_id", entityID)
	return nil
}

// Entities returns a snapshot of all registered entities.
func (m *Manager) Entities() []Snapshot {
	m.mu.RLock()
	regs := make([]*registered, 0, len(m.entities))
	for _, reg := range m.entities {
		regs = append(regs, reg)
	}
	m.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(regs))
	for _, reg := range regs {
		snaps = append(snaps, snapshotOf(reg))
	}
	return snaps
}

// Get returns a snapshot of one entity by ID.
func (m *Manager) Get(entityID string) (Snapshot, bool) {
	m.mu.RLock()
	reg, ok := m.entities[entityID]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(reg), true
}

// Len returns the number of registered entities.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entities)
}

// UpdateEntity runs one immediate update for a single entity and
// projects the result. Returns ErrEntityNotFound for unknown IDs.
func (m *Manager) UpdateEntity(ctx context.Context, entityID string) error {
	m.mu.RLock()
	reg, ok := m.entities[entityID]
	m.mu.RUnlock()
	if !ok {
		return ErrEntityNotFound
	}

	err := m.guardedUpdate(ctx, reg.entity)
	m.project(reg)
	return err
}

// snapshotOf reads an entity's current projection.
func snapshotOf(reg *registered) Snapshot {
	return Snapshot{
		EntityID:    reg.entityID,
		Description: reg.desc,
		Name:        reg.desc.Name,
		Available:   reg.entity.Available(),
		State:       reg.entity.State().Clone(),
	}
}

// Start launches the periodic poll loop. It is a no-op if the loop is
// already running, and returns ErrManagerStopped after Shutdown.
//
// Each cycle updates every due ShouldPoll entity concurrently, bounded
// by MaxConcurrentUpdates. One entity failing or panicking never
// affects the others.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrManagerStopped
	}
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	stop := m.stopCh
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.pollLoop(ctx, stop)
	}()
	return nil
}

// pollLoop runs update cycles at the manager cadence until stopped.
func (m *Manager) pollLoop(ctx context.Context, stop <-chan struct{}) {
	m.logger.Debug("entity polling started",
		"domain", m.domain,
		"interval", m.scanInterval.String())

	ticker := time.NewTicker(m.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.pollCycle(ctx)
		}
	}
}

// pollCycle updates every due entity once and waits for the cycle to
// finish, so cycles never overlap.
func (m *Manager) pollCycle(ctx context.Context) {
	now := time.Now()

	m.mu.Lock()
	var due []*registered
	for _, reg := range m.entities {
		if !reg.desc.ShouldPoll {
			continue
		}
		interval := reg.desc.ScanInterval
		if interval <= 0 {
			interval = m.scanInterval
		}
		if now.Sub(reg.lastPoll) >= interval {
			reg.lastPoll = now
			due = append(due, reg)
		}
	}
	m.mu.Unlock()

	if len(due) == 0 {
		return
	}

	var cycle sync.WaitGroup
	for _, reg := range due {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			break
		}
		cycle.Add(1)
		m.wg.Add(1)
		go func(reg *registered) {
			defer m.wg.Done()
			defer cycle.Done()
			defer m.sem.Release(1)
			m.updateOne(ctx, reg)
		}(reg)
	}
	cycle.Wait()
}

// updateOne runs a single entity update with timeout, panic isolation,
// and projection of the outcome.
func (m *Manager) updateOne(ctx context.Context, reg *registered) {
	if err := m.guardedUpdate(ctx, reg.entity); err != nil {
		m.logger.Warn("entity update failed",
			"entity_id", reg.entityID, "error", err)
	}

	m.project(reg)
}

// project writes the entity's current state to the repository and the
// sink. Called after every update and on coordinator notifications.
// Oversized state maps are rejected; the last good projection stands.
func (m *Manager) project(reg *registered) {
	st := reg.entity.State().Clone()
	available := reg.entity.Available()

	if err := ValidateState(st); err != nil {
		m.logger.Warn("entity state rejected",
			"entity_id", reg.entityID, "keys", len(st), "error", err)
		return
	}

	if m.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), projectTimeout)
		if err := m.repo.UpdateState(ctx, reg.entityID, st, available); err != nil && !errors.Is(err, ErrEntityNotFound) {
			m.logger.Warn("entity state persist failed",
				"entity_id", reg.entityID, "error", err)
		}
		cancel()
	}

	if m.sink != nil {
		m.sink.EntityState(reg.entityID, m.domain, st, available)
	}
}

// Shutdown stops the poll loop, waits for in-flight updates, and
// detaches all coordinator subscriptions. Idempotent.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.stopCh)
	listeners := make([]func(), 0, len(m.entities))
	for _, reg := range m.entities {
		if reg.removeListener != nil {
			listeners = append(listeners, reg.removeListener)
		}
	}
	m.mu.Unlock()

	for _, remove := range listeners {
		remove()
	}
	m.wg.Wait()

	m.logger.Debug("entity manager shut down", "domain", m.domain)
}

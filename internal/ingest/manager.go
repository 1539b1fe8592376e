package ingest

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/embedview/server/internal/jobstore"
	"github.com/embedview/server/internal/store"
)

// ErrPageInFlight is returned when an ingestion for the same context/page is
// already outstanding. Downstream state is always fully rebuilt, so a retry
// after completion is harmless; a concurrent duplicate is not.
var ErrPageInFlight = errors.New("ingest: page already in flight")

// Target is the per-context consumer of merge batches (the view service).
// BuildMerge may be slow and runs on the worker goroutine; ApplyMerge must be
// atomic with respect to the target's readers.
type Target interface {
	BuildMerge(page *RawPage, projections []RawProjection, opts Options) (*store.Merge, Stats, error)
	ApplyMerge(m *store.Merge)
}

// ManagerConfig contains configuration for the ingest manager.
type ManagerConfig struct {
	MaxConcurrent int    // worker goroutines (default 1)
	QueueSize     int    // pending job capacity (default 100)
	SQLitePath    string // path to the job journal database
	RetentionDays int    // days to keep finished jobs (default 7)
	CleanupPeriod time.Duration
}

type pendingJob struct {
	context     store.Context
	page        *RawPage
	projections []RawProjection
	opts        Options
	flightKey   string
}

// Manager runs page normalization off the serving path: pages queue up, a
// worker builds the merge against the current snapshot, and the target
// applies it atomically. Jobs for one context run build+apply serially even
// with multiple workers: a merge built against a stale snapshot would
// overwrite the reverse-index contributions of a concurrently applied page.
// Job status is journaled in SQLite.
type Manager struct {
	cfg      ManagerConfig
	jobs     *jobstore.Store
	targets  map[store.Context]Target
	ctxLocks map[store.Context]*sync.Mutex

	queue    chan string
	mu       sync.Mutex
	pending  map[string]*pendingJob
	inflight map[string]struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager creates an ingest manager with SQLite job journaling.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = 1 * time.Hour
	}

	jobs, err := jobstore.NewStore(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:      cfg,
		jobs:     jobs,
		targets:  make(map[store.Context]Target),
		ctxLocks: make(map[store.Context]*sync.Mutex),
		queue:    make(chan string, cfg.QueueSize),
		pending:  make(map[string]*pendingJob),
		inflight: make(map[string]struct{}),
		stopCh:   make(chan struct{}),
	}, nil
}

// RegisterTarget wires a context's view service as the consumer of its
// merges. Must be called before Start.
func (m *Manager) RegisterTarget(ctx store.Context, t Target) {
	m.targets[ctx] = t
	m.ctxLocks[ctx] = &sync.Mutex{}
}

// Start starts the worker goroutines and the cleanup ticker. Jobs left over
// from a previous run are marked failed; their payloads were never persisted.
func (m *Manager) Start() {
	if err := m.jobs.MarkUnfinishedAsFailed("server restarted"); err != nil {
		log.Printf("[Ingest] failed to mark unfinished jobs as failed: %v", err)
	}

	for i := 0; i < m.cfg.MaxConcurrent; i++ {
		m.wg.Add(1)
		go m.worker()
	}

	go m.cleaner()
}

// Stop stops all workers gracefully.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		close(m.queue)
		m.wg.Wait()
		m.jobs.Close()
	})
}

// Submit queues a page for background ingestion. A second submission for the
// same context/page while one is outstanding is refused with ErrPageInFlight.
func (m *Manager) Submit(ctx store.Context, page *RawPage, projections []RawProjection, opts Options) (*jobstore.Job, error) {
	if _, ok := m.targets[ctx]; !ok {
		return nil, fmt.Errorf("ingest: no target for context %q", ctx)
	}

	pageNum := 0
	var flightKey string
	if page != nil {
		pageNum = page.Page
		flightKey = fmt.Sprintf("%s|%d", ctx, pageNum)
	} else {
		// Projection-only submissions carry no page number; keying them all on
		// page 0 would make distinct payloads conflict.
		flightKey = fmt.Sprintf("%s|proj|%x", ctx, projectionDigest(projections))
	}

	m.mu.Lock()
	if _, busy := m.inflight[flightKey]; busy {
		m.mu.Unlock()
		return nil, ErrPageInFlight
	}
	m.inflight[flightKey] = struct{}{}
	m.mu.Unlock()

	id := generateJobID()
	job := &jobstore.Job{
		ID:        id,
		Context:   string(ctx),
		Page:      pageNum,
		Status:    jobstore.JobStatusQueued,
		CreatedAt: time.Now(),
	}
	if err := m.jobs.CreateJob(job); err != nil {
		m.clearFlight(flightKey)
		return nil, err
	}

	m.mu.Lock()
	m.pending[id] = &pendingJob{
		context:     ctx,
		page:        page,
		projections: projections,
		opts:        opts,
		flightKey:   flightKey,
	}
	m.mu.Unlock()

	select {
	case m.queue <- id:
	default:
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		m.clearFlight(flightKey)
		m.jobs.UpdateJobFinished(id, jobstore.JobStatusFailed, "ingest queue is full; try again later", 0, 0, 0)
		return nil, errors.New("ingest: queue is full")
	}

	return job, nil
}

// Job returns the journaled state of a job.
func (m *Manager) Job(id string) *jobstore.Job {
	job, err := m.jobs.GetJob(id)
	if err != nil {
		log.Printf("[Ingest] error getting job %s: %v", id, err)
		return nil
	}
	return job
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for jobID := range m.queue {
		m.runJob(jobID)
	}
}

func (m *Manager) runJob(jobID string) {
	m.mu.Lock()
	p := m.pending[jobID]
	delete(m.pending, jobID)
	m.mu.Unlock()
	if p == nil {
		return
	}
	defer m.clearFlight(p.flightKey)

	if err := m.jobs.UpdateJobStarted(jobID); err != nil {
		log.Printf("[Ingest] failed to mark job %s started: %v", jobID, err)
		return
	}

	// Build and apply under the context lock so a second worker cannot build
	// against the pre-apply snapshot and clobber this page's reverse-index
	// merge.
	lock := m.ctxLocks[p.context]
	lock.Lock()
	defer lock.Unlock()

	target := m.targets[p.context]
	merge, stats, err := target.BuildMerge(p.page, p.projections, p.opts)
	if err != nil {
		log.Printf("[Ingest] job %s failed: %v", jobID, err)
		m.jobs.UpdateJobFinished(jobID, jobstore.JobStatusFailed, err.Error(), 0, 0, 0)
		return
	}

	target.ApplyMerge(merge)
	m.jobs.UpdateJobFinished(jobID, jobstore.JobStatusCompleted, "", stats.Records, stats.Projections, stats.Stubs)
}

func (m *Manager) clearFlight(key string) {
	m.mu.Lock()
	delete(m.inflight, key)
	m.mu.Unlock()
}

func (m *Manager) cleaner() {
	ticker := time.NewTicker(m.cfg.CleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			deleted, err := m.jobs.DeleteExpiredJobs(m.cfg.RetentionDays)
			if err != nil {
				log.Printf("[Ingest] cleanup error: %v", err)
			} else if deleted > 0 {
				log.Printf("[Ingest] cleaned up %d expired jobs", deleted)
			}
		}
	}
}

// projectionDigest fingerprints a standalone projection payload for in-flight
// dedup. Identical payloads submitted concurrently still conflict; distinct
// ones do not.
func projectionDigest(projs []RawProjection) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for i := range projs {
		binary.LittleEndian.PutUint64(buf[:], uint64(projs[i].ID))
		h.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], uint64(projs[i].RecordID))
		h.Write(buf[:])
	}
	return h.Sum64()
}

func generateJobID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is unheard of; a timestamp id keeps jobs moving.
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

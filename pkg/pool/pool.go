// SPDX-License-Identifier: Apache-2.0

// Package pool implements the fixed-size table worker pool (spec §4.4): a
// FIFO task queue of catalog entries, N workers that run until the pool is
// drained, and the counters the cycle scheduler reports on. Workers hold
// no lake connection of their own; each task uses whatever lake handle its
// Process callback was built with.
package pool

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lakesync/lakesync/pkg/catalog"
	"github.com/lakesync/lakesync/pkg/logging"
)

// ErrClosed is returned by Submit once the pool has started draining.
var ErrClosed = errors.New("pool: closed")

// Process is the per-table unit of work a worker runs (normally the
// scheduler's callback, which opens a fresh source adapter and runs an
// orchestrator built over the scheduler's one shared lake *sql.DB).
type Process func(ctx context.Context, entry *catalog.Entry) error

// taskIDKey is the context key under which a task's id is stashed so
// Process and anything it calls (the CDC consumer's batch logging, in
// particular) can correlate their own logging back to the submission
// that triggered them.
type taskIDKey struct{}

// TaskID returns the id the pool generated when the task running under
// ctx was submitted, or "" if ctx didn't come from a pool worker.
func TaskID(ctx context.Context) string {
	id, _ := ctx.Value(taskIDKey{}).(string)
	return id
}

// task pairs a submitted catalog entry with the id it was assigned at
// submission time.
type task struct {
	entry *catalog.Entry
	id    string
}

// Pool is a fixed-size table worker pool with a single FIFO task queue.
type Pool struct {
	tasks     chan task
	process   Process
	logger    logging.Logger
	leasePool *pgxpool.Pool

	ctx    context.Context
	cancel context.CancelFunc

	wg         sync.WaitGroup
	closeTasks sync.Once
	closed     atomic.Bool

	completedTasks atomic.Int64
	failedTasks    atomic.Int64
	activeWorkers  atomic.Int64
	pendingTasks   atomic.Int64
}

// New starts workers workers (minimum 1) reading from a queue of depth
// queueSize, and returns the running Pool. parent governs the whole pool's
// lifetime; cancelling it has the same effect as Shutdown. leasePool, if
// non-nil, is used to take a per-table Postgres advisory lock around each
// task (see acquireLease) so two Scheduler processes sharing one catalog
// never run the same table concurrently; nil disables leasing, which unit
// tests that don't stand up a lake connection rely on.
func New(parent context.Context, workers, queueSize int, process Process, logger logging.Logger, leasePool *pgxpool.Pool) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(parent)
	p := &Pool{
		tasks:     make(chan task, queueSize),
		process:   process,
		logger:    logger,
		leasePool: leasePool,
		ctx:       ctx,
		cancel:    cancel,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.runWorker()
	}
	return p
}

func (p *Pool) runWorker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			p.pendingTasks.Add(-1)

			release, acquired, err := p.acquireLease(p.ctx, t.entry)
			if err != nil {
				p.failedTasks.Add(1)
				p.logger.LogTableError(t.entry.SchemaName, t.entry.TableName, err)
				continue
			}
			if !acquired {
				p.logger.Warn("pool: table lease held elsewhere, skipping this cycle",
					"schema", t.entry.SchemaName, "table", t.entry.TableName, "task_id", t.id)
				continue
			}

			p.activeWorkers.Add(1)
			taskCtx := context.WithValue(p.ctx, taskIDKey{}, t.id)
			err = p.process(taskCtx, t.entry)
			p.activeWorkers.Add(-1)
			release()

			if err != nil {
				p.failedTasks.Add(1)
				p.logger.LogTableError(t.entry.SchemaName, t.entry.TableName, err)
			} else {
				p.completedTasks.Add(1)
			}
		}
	}
}

// acquireLease takes a session-level Postgres advisory lock scoped to
// entry's (schema, table, engine) key before a worker processes it. A
// session-level lock must be taken and released on the very same backend
// connection, so this acquires one dedicated connection from leasePool
// for the lease's lifetime rather than running lock/unlock as two
// independent pool statements. If leasePool is nil, leasing is disabled
// and every task is treated as acquired.
func (p *Pool) acquireLease(ctx context.Context, entry *catalog.Entry) (release func(), acquired bool, err error) {
	if p.leasePool == nil {
		return func() {}, true, nil
	}

	conn, err := p.leasePool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}

	id := tableLockID(entry)
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", id).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, err
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	release = func() {
		_, _ = conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", id)
		conn.Release()
	}
	return release, true, nil
}

// tableLockID derives a stable advisory lock key from entry's identity.
// pg_advisory_lock takes a bigint; fnv-1a's 64-bit hash truncated to a
// signed int64 is a fine fit, collisions are inconsequential here since a
// false-shared lock only ever over-serialises, it never under-serialises.
func tableLockID(entry *catalog.Entry) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(entry.Key()))
	return int64(h.Sum64())
}

// Submit enqueues entry, blocking the caller once the queue is full — the
// backpressure the scheduler relies on (spec §4.4). Each submission is
// stamped with a fresh task id so a table's worth of logging across the
// pool, the orchestrator, and the CDC consumer can be correlated back to
// one submission even when several cycles for the same table overlap in
// the logs.
func (p *Pool) Submit(entry *catalog.Entry) error {
	if p.closed.Load() {
		return ErrClosed
	}

	t := task{entry: entry, id: uuid.NewString()}

	p.pendingTasks.Add(1)
	select {
	case p.tasks <- t:
		return nil
	case <-p.ctx.Done():
		p.pendingTasks.Add(-1)
		return ErrClosed
	}
}

// WaitForCompletion closes the task queue and blocks until every accepted
// task has terminated, successfully or with a logged failure.
func (p *Pool) WaitForCompletion() {
	p.closeTasks.Do(func() {
		p.closed.Store(true)
		close(p.tasks)
	})
	p.wg.Wait()
}

// Shutdown is idempotent: it unblocks every queue consumer and submitter
// immediately rather than waiting for in-flight tasks to drain on their
// own, then joins the workers.
func (p *Pool) Shutdown() {
	p.closed.Store(true)
	p.cancel()
	p.wg.Wait()
}

func (p *Pool) CompletedTasks() int64 { return p.completedTasks.Load() }
func (p *Pool) FailedTasks() int64    { return p.failedTasks.Load() }
func (p *Pool) ActiveWorkers() int64  { return p.activeWorkers.Load() }
func (p *Pool) PendingTasks() int64   { return p.pendingTasks.Load() }

// priorityRank orders catalog statuses FULL_LOAD > RESET > LISTENING_CHANGES
// > everything else, per spec §4.4.
func priorityRank(status catalog.Status) int {
	switch status {
	case catalog.StatusFullLoad:
		return 0
	case catalog.StatusReset:
		return 1
	case catalog.StatusListeningChanges:
		return 2
	default:
		return 3
	}
}

// SortByPriority orders entries by priorityRank, breaking ties by
// (schema_name, table_name) as spec §4.4 requires ("ordering within a
// class is catalog order"). Sorts in place and returns entries.
func SortByPriority(entries []*catalog.Entry) []*catalog.Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		ri, rj := priorityRank(entries[i].Status), priorityRank(entries[j].Status)
		if ri != rj {
			return ri < rj
		}
		if entries[i].SchemaName != entries[j].SchemaName {
			return entries[i].SchemaName < entries[j].SchemaName
		}
		return entries[i].TableName < entries[j].TableName
	})
	return entries
}

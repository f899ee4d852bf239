// SPDX-License-Identifier: Apache-2.0

// Package scheduler implements the periodic cycle driver (spec §4
// overview, C9): for each engine, it asks the catalog for active tables,
// sorts them by priority, and submits them to that engine's table worker
// pool. One Scheduler instance keeps one pool per engine; each cycle drains
// that pool and replaces it with a fresh one. Run drives cycles on a fixed
// interval until its context is cancelled.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lakesync/lakesync/pkg/catalog"
	"github.com/lakesync/lakesync/pkg/cdc"
	"github.com/lakesync/lakesync/pkg/config"
	"github.com/lakesync/lakesync/pkg/db"
	"github.com/lakesync/lakesync/pkg/logging"
	"github.com/lakesync/lakesync/pkg/orchestrator"
	"github.com/lakesync/lakesync/pkg/pool"
	"github.com/lakesync/lakesync/pkg/source"
	"github.com/lakesync/lakesync/pkg/writer"
)

// engines is the fixed set of engines the scheduler dispatches table work
// for, one pool each. MongoDB shares the same pool/submission machinery
// as the SQL engines; process routes it to orchestrator.RunMongo instead
// of the SQL adapter path (spec §4.2).
var engines = []catalog.Engine{
	catalog.EnginePostgreSQL,
	catalog.EngineMariaDB,
	catalog.EngineMSSQL,
	catalog.EngineOracle,
	catalog.EngineMongoDB,
}

// Scheduler drives repeated cycles against one catalog, one pool per
// engine.
type Scheduler struct {
	catalog *catalog.Store
	cfg     config.Config
	logger  logging.Logger

	lake   *db.RDB
	leases *pgxpool.Pool
	pools  map[catalog.Engine]*pool.Pool
}

// New opens the lake connection the writer and orchestrator share across
// every table worker, a separate pgxpool sized to MaxWorkers for the
// per-worker advisory-lock leases each table worker pool takes around a
// table (pool.acquireLease), and builds one pool per engine.
func New(ctx context.Context, catalogStore *catalog.Store, cfg config.Config, logger logging.Logger) (*Scheduler, error) {
	lake, err := db.Open(ctx, cfg.LakeURL, cfg.StatementTimeout())
	if err != nil {
		return nil, fmt.Errorf("scheduler: opening lake connection: %w", err)
	}

	leases, err := newLeasePool(ctx, cfg)
	if err != nil {
		lake.Close()
		return nil, fmt.Errorf("scheduler: opening lease pool: %w", err)
	}

	s := &Scheduler{catalog: catalogStore, cfg: cfg, logger: logger, lake: lake, leases: leases, pools: map[catalog.Engine]*pool.Pool{}}

	for _, engine := range engines {
		s.pools[engine] = pool.New(ctx, cfg.MaxWorkers, cfg.MaxQueueSize, s.process, logger, s.leases)
	}
	return s, nil
}

// newLeasePool builds a pgxpool capped at one connection per table worker,
// since every acquireLease call in flight holds its own dedicated
// connection for the duration of one table's cycle (spec SPEC_FULL §B
// "lake connection pool per worker").
func newLeasePool(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.LakeURL)
	if err != nil {
		return nil, err
	}
	pcfg.MaxConns = int32(cfg.MaxWorkers)
	if pcfg.MaxConns < 1 {
		pcfg.MaxConns = 1
	}
	return pgxpool.NewWithConfig(ctx, pcfg)
}

// RunOnce executes exactly one cycle across every engine and waits for
// every submitted table to finish, the way a one-shot CLI invocation
// needs (spec SPEC_FULL §A.2 "cmd/lakesync once").
func (s *Scheduler) RunOnce(ctx context.Context) error {
	for _, engine := range engines {
		if err := s.submitCycle(ctx, engine); err != nil {
			return err
		}
	}
	return nil
}

// Run drives repeated cycles on interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.RunOnce(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				return err
			}
		}
	}
}

// Shutdown tears down every engine pool, the lease pool, and the shared
// lake connection.
func (s *Scheduler) Shutdown() {
	for _, p := range s.pools {
		p.Shutdown()
	}
	s.leases.Close()
	if err := s.lake.Close(); err != nil {
		s.logger.Warn("scheduler: closing lake connection", "error", err.Error())
	}
}

func (s *Scheduler) submitCycle(ctx context.Context, engine catalog.Engine) error {
	entries, err := s.catalog.ActiveTables(ctx, engine)
	if err != nil {
		return fmt.Errorf("scheduler: listing active tables for %s: %w", engine, err)
	}
	if len(entries) == 0 {
		return nil
	}

	eligible := len(entries)
	entries = prepareCycle(entries, s.cfg.MaxTablesPerCycle)
	if len(entries) < eligible {
		s.logger.Warn("scheduler: capping cycle submission", "engine", string(engine),
			"eligible", eligible, "max_tables_per_cycle", s.cfg.MaxTablesPerCycle)
	}

	s.logger.LogCycleStart(string(engine), len(entries))

	p := s.pools[engine]
	for _, entry := range entries {
		if err := p.Submit(entry); err != nil {
			return fmt.Errorf("scheduler: submitting %s: %w", entry.Key(), err)
		}
	}
	p.WaitForCompletion()

	s.logger.LogCycleComplete(string(engine), len(entries))

	// Replace the drained pool with a fresh one so the next cycle can
	// submit again; WaitForCompletion closes the task queue permanently.
	s.pools[engine] = pool.New(ctx, s.cfg.MaxWorkers, s.cfg.MaxQueueSize, s.process, s.logger, s.leases)
	return nil
}

// prepareCycle sorts entries by priority and caps the submission count at
// maxPerCycle (0 = unbounded), the pure decision spec §9 describes.
func prepareCycle(entries []*catalog.Entry, maxPerCycle int) []*catalog.Entry {
	sorted := pool.SortByPriority(entries)
	if maxPerCycle > 0 && len(sorted) > maxPerCycle {
		return sorted[:maxPerCycle]
	}
	return sorted
}

// process is the pool.Process callback invoked once per submitted table.
// It owns the table's source connection for the duration of one call and
// routes to the CDC consumer, the Mongo document cycle, or the SQL
// orchestrator depending on the table's engine, pagination strategy, and
// lifecycle status. A source that cannot be opened or does not answer
// TestConnection leaves the table with status ERROR.
func (s *Scheduler) process(ctx context.Context, entry *catalog.Entry) error {
	w := writer.New(s.lake.RawConn(), s.logger, s.cfg)
	orch := orchestrator.New(s.catalog, s.lake.RawConn(), w, s.logger, s.cfg)

	markError := func(err error) error {
		_ = s.catalog.UpdateStatus(ctx, entry, catalog.StatusError)
		return err
	}

	if entry.DBEngine == catalog.EngineMongoDB {
		adapter, ok := source.NewDocument(entry.DBEngine)
		if !ok {
			return fmt.Errorf("scheduler: no document adapter registered for engine %s", entry.DBEngine)
		}
		if err := adapter.Open(ctx, entry.ConnectionString); err != nil {
			return markError(fmt.Errorf("scheduler: opening source for %s: %w", entry.Key(), err))
		}
		defer adapter.Close()

		if err := adapter.TestConnection(ctx); err != nil {
			return markError(fmt.Errorf("scheduler: probing source for %s: %w", entry.Key(), err))
		}
		return orch.RunMongo(ctx, entry, adapter)
	}

	adapter, ok := source.New(entry.DBEngine)
	if !ok {
		return fmt.Errorf("scheduler: no adapter registered for engine %s", entry.DBEngine)
	}
	if err := adapter.Open(ctx, entry.ConnectionString); err != nil {
		return markError(fmt.Errorf("scheduler: opening source for %s: %w", entry.Key(), err))
	}
	defer adapter.Close()

	if err := adapter.TestConnection(ctx); err != nil {
		return markError(fmt.Errorf("scheduler: probing source for %s: %w", entry.Key(), err))
	}

	if entry.PKStrategy == catalog.StrategyCDC && entry.Status == catalog.StatusListeningChanges {
		consumer := cdc.New(orch, w, s.catalog, s.logger, s.cfg.ChunkSize)
		return consumer.Run(ctx, entry, adapter)
	}

	return orch.Run(ctx, entry, adapter)
}

// SPDX-License-Identifier: Apache-2.0

// Package pipeline implements the three-stage parallel chunk pipeline used
// by the per-table orchestrator for large tables (spec §4.5): a single
// fetcher feeds bounded raw and prepared queues that K preparers and K
// inserters drain concurrently. The package only provides the generic
// fan-out/fan-in machinery and backpressure; the orchestrator supplies the
// cursor logic, normalization, and writer calls as closures.
package pipeline

import (
	"context"
	"sync"
	"time"
)

// DataChunk is one page of raw rows out of the source (spec §3.3).
type DataChunk struct {
	Rows    [][]string
	ChunkNo int
	Schema  string
	Table   string
	IsLast  bool
}

// PreparedBatch is a normalised, assembled row batch ready for the writer
// (spec §3.3).
type PreparedBatch struct {
	Rows     [][]any
	RowCount int
	ChunkNo  int
	Schema   string
	Table    string
}

// ProcessedResult is the terminal outcome of one chunk (spec §3.3).
type ProcessedResult struct {
	ChunkNo       int
	Schema        string
	Table         string
	RowsProcessed int
	OK            bool
	Err           error
}

// Config tunes the pipeline's fan-out width and backpressure behaviour
// (spec §4.5).
type Config struct {
	Preparers     int
	Inserters     int
	QueueSize     int
	RetryInterval time.Duration
	RetryBudget   time.Duration
}

// DefaultConfig mirrors spec §4.5's design defaults.
func DefaultConfig() Config {
	return Config{
		Preparers:     4,
		Inserters:     4,
		QueueSize:     10,
		RetryInterval: 100 * time.Millisecond,
		RetryBudget:   5 * time.Second,
	}
}

// PrepareFunc turns one raw chunk into a PreparedBatch (C3 + statement
// assembly).
type PrepareFunc func(ctx context.Context, chunk DataChunk) (PreparedBatch, error)

// InsertFunc runs the C4 error-recovery path against one prepared batch.
type InsertFunc func(ctx context.Context, batch PreparedBatch) ProcessedResult

// FetchFunc drives the source-side cursor loop, pushing every chunk
// through push before returning. push applies backpressure and returns
// false if the chunk was dropped after exhausting the retry budget — the
// fetcher should stop immediately when that happens.
type FetchFunc func(ctx context.Context, push func(DataChunk) bool)

// Run drives the pipeline to completion and returns every chunk's terminal
// ProcessedResult, in no particular order — ordering is not preserved
// between preparers and inserters (spec §4.5); callers that need a safe
// cursor-advance point must sort by ChunkNo and find the longest
// contiguous-from-zero run of successes themselves.
func Run(ctx context.Context, cfg Config, fetch FetchFunc, prepare PrepareFunc, insert InsertFunc) []ProcessedResult {
	if cfg.Preparers < 1 {
		cfg.Preparers = 1
	}
	if cfg.Inserters < 1 {
		cfg.Inserters = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}

	raw := make(chan DataChunk, cfg.QueueSize)
	prepared := make(chan PreparedBatch, cfg.QueueSize)
	results := make(chan ProcessedResult, cfg.QueueSize)

	go func() {
		fetch(ctx, func(c DataChunk) bool {
			return boundedSend(ctx, raw, c, cfg)
		})
		for i := 0; i < cfg.Preparers; i++ {
			raw <- DataChunk{IsLast: true}
		}
	}()

	var prepWG sync.WaitGroup
	prepWG.Add(cfg.Preparers)
	for i := 0; i < cfg.Preparers; i++ {
		go func() {
			defer prepWG.Done()
			for chunk := range raw {
				if chunk.IsLast {
					return
				}
				batch, err := prepare(ctx, chunk)
				if err != nil {
					results <- ProcessedResult{ChunkNo: chunk.ChunkNo, Schema: chunk.Schema, Table: chunk.Table, OK: false, Err: err}
					continue
				}
				prepared <- batch
			}
		}()
	}

	go func() {
		prepWG.Wait()
		for i := 0; i < cfg.Inserters; i++ {
			prepared <- PreparedBatch{RowCount: 0}
		}
	}()

	var insWG sync.WaitGroup
	insWG.Add(cfg.Inserters)
	for i := 0; i < cfg.Inserters; i++ {
		go func() {
			defer insWG.Done()
			for batch := range prepared {
				if batch.RowCount == 0 {
					return
				}
				results <- insert(ctx, batch)
			}
		}()
	}

	go func() {
		insWG.Wait()
		close(results)
	}()

	var collected []ProcessedResult
	for r := range results {
		collected = append(collected, r)
	}
	return collected
}

// boundedSend tries a non-blocking send, then retries on RetryInterval
// until RetryBudget elapses, then gives up (spec §4.5: "sleep briefly...
// retry for a bounded period before dropping the chunk").
func boundedSend[T any](ctx context.Context, ch chan T, val T, cfg Config) bool {
	deadline := time.Now().Add(cfg.RetryBudget)

	for {
		select {
		case ch <- val:
			return true
		case <-ctx.Done():
			return false
		default:
		}

		if time.Now().After(deadline) {
			return false
		}

		timer := time.NewTimer(cfg.RetryInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false
		}
	}
}

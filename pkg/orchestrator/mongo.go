// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lakesync/lakesync/pkg/catalog"
	"github.com/lakesync/lakesync/pkg/normalize"
	"github.com/lakesync/lakesync/pkg/source"
)

// mongoReloadInterval bounds how often a MongoDB collection may be
// truncated and reloaded: only FULL_LOAD is meaningful for a document
// source, so repeating it on every cycle would mean a full collection
// scan every poll (spec §4.2).
const mongoReloadInterval = 24 * time.Hour

// mongoSampleSize bounds how many documents DiscoverFields inspects to
// build the collection's flattened column shape.
const mongoSampleSize = 100

// RunMongo executes the simplified cycle for a MongoDB collection: there
// is no PK/OFFSET pagination and no CDC stream for a document source, so
// every cycle is either a full truncate-and-reload or a no-op, throttled
// to at most one reload per mongoReloadInterval (spec §4.2).
func (o *Orchestrator) RunMongo(ctx context.Context, entry *catalog.Entry, adapter source.DocumentAdapter) error {
	fresh := entry.Status == catalog.StatusFullLoad || entry.Status == catalog.StatusReset
	if !fresh && !entry.LastSyncTime.IsZero() && time.Since(entry.LastSyncTime) < mongoReloadInterval {
		return nil
	}

	cols, err := adapter.DiscoverFields(ctx, entry.SchemaName, entry.TableName, mongoSampleSize)
	if err != nil {
		return o.fail(ctx, entry, fmt.Errorf("discovering fields for %s: %w", entry.Key(), err))
	}

	if err := o.truncateLake(ctx, entry.SchemaName, entry.TableName); err != nil {
		return o.fail(ctx, entry, err)
	}
	if err := o.catalog.ResetForTruncate(ctx, entry); err != nil {
		return o.fail(ctx, entry, err)
	}

	lakeCols := lowerAll(columnNames(cols))
	chunkSize := o.cfg.ChunkSize

	var lastID string
	total := 0
	for {
		docs, ferr := adapter.FetchDocuments(ctx, entry.SchemaName, entry.TableName, lastID, chunkSize)
		if ferr != nil {
			return o.fail(ctx, entry, fmt.Errorf("fetching documents for %s: %w", entry.Key(), ferr))
		}
		if len(docs) == 0 {
			break
		}

		batch := make([][]any, len(docs))
		for i, d := range docs {
			vals, verr := mongoRowValues(entry.DBEngine, d, cols)
			if verr != nil {
				return o.fail(ctx, entry, fmt.Errorf("mapping document %s for %s: %w", d.ID, entry.Key(), verr))
			}
			batch[i] = vals
		}

		if _, werr := o.writer.BulkInsert(ctx, entry.SchemaName, entry.TableName, lakeCols, batch); werr != nil {
			return o.fail(ctx, entry, werr)
		}

		total += len(docs)
		lastID = docs[len(docs)-1].ID

		if len(docs) < chunkSize {
			break
		}
	}

	o.logger.LogTableComplete(entry.SchemaName, entry.TableName, string(catalog.StatusListeningChanges), int64(total))
	return o.catalog.UpdateCursor(ctx, entry, catalog.StatusListeningChanges, "")
}

// mongoRowValues maps a Document onto cols positionally, the same
// convention mongo.Adapter.DiscoverFields builds: column 0 is the
// document id, the last column is the catch-all JSON blob (doc.Extra plus
// any scalar field outside the sampled columns), and everything between is
// a sampled scalar field. Values still flow through
// normalize.Value so a missing or mistyped field degrades the same way an
// absent SQL cell would.
func mongoRowValues(engine catalog.Engine, doc source.Document, cols []source.Column) ([]any, error) {
	sampled := make(map[string]bool, len(cols))
	for _, c := range cols {
		sampled[c.Name] = true
	}

	vals := make([]any, len(cols))
	for i, c := range cols {
		var raw string
		switch {
		case i == 0:
			raw = doc.ID
		case i == len(cols)-1:
			extra := make(map[string]any, len(doc.Extra))
			for k, v := range doc.Extra {
				extra[k] = v
			}
			for k, v := range doc.Fields {
				if !sampled[k] {
					extra[k] = v
				}
			}
			if len(extra) > 0 {
				b, err := json.Marshal(extra)
				if err != nil {
					return nil, fmt.Errorf("marshalling extra fields: %w", err)
				}
				raw = string(b)
			}
		default:
			raw = doc.Fields[c.Name]
		}
		vals[i] = normalize.Value(engine, raw, c)
	}
	return vals, nil
}

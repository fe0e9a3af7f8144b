// Package audit keeps a bbolt journal of reconcile runs that touched the cloud.
package audit

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/yairfalse/tagsweep/internal/engine"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

// Bucket names in bbolt
var (
	bucketRuns  = []byte("runs")
	bucketIndex = []byte("index")
	bucketMeta  = []byte("meta")
	keyRevision = []byte("revision")
)

// ErrRunNotFound is returned by Get for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// Summary is the list view of one journaled run.
type Summary struct {
	Revision  uint64                  `json:"revision"`
	RunID     string                  `json:"run_id"`
	Provider  string                  `json:"provider"`
	Kind      resource.Kind           `json:"kind"`
	StartedAt time.Time               `json:"started_at"`
	Counts    resource.OutcomeSummary `json:"counts"`
}

// Journal is an append-only store of reconcile results.
type Journal struct {
	mu sync.Mutex
	db *bbolt.DB
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open audit journal: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketIndex, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Journal{db: db}, nil
}

// Close closes the journal.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append stores run under the next revision.
func (j *Journal) Append(_ context.Context, run *engine.ReconcileResult) error {
	value, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	return j.db.Update(func(tx *bbolt.Tx) error {
		index := tx.Bucket(bucketIndex)
		if index.Get([]byte(run.RunID)) != nil {
			return fmt.Errorf("run %s already journaled", run.RunID)
		}

		meta := tx.Bucket(bucketMeta)
		rev := uint64(1)
		if v := meta.Get(keyRevision); v != nil {
			rev = binary.BigEndian.Uint64(v) + 1
		}
		key := revisionKey(rev)

		if err := tx.Bucket(bucketRuns).Put(key, value); err != nil {
			return err
		}
		if err := index.Put([]byte(run.RunID), key); err != nil {
			return err
		}
		return meta.Put(keyRevision, key)
	})
}

// Get returns the run with id.
func (j *Journal) Get(runID string) (*engine.ReconcileResult, error) {
	var run engine.ReconcileResult
	err := j.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket(bucketIndex).Get([]byte(runID))
		if key == nil {
			return fmt.Errorf("%s: %w", runID, ErrRunNotFound)
		}
		return json.Unmarshal(tx.Bucket(bucketRuns).Get(key), &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// List returns up to limit runs, newest first. limit <= 0 returns all.
func (j *Journal) List(limit int) ([]Summary, error) {
	var out []Summary
	err := j.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var run engine.ReconcileResult
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("decode revision %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, summarize(binary.BigEndian.Uint64(k), &run))
		}
		return nil
	})
	return out, err
}

func summarize(rev uint64, run *engine.ReconcileResult) Summary {
	var counts resource.OutcomeSummary
	for _, s := range run.Summary() {
		counts.Succeeded += s.Succeeded
		counts.Failed += s.Failed
		counts.Skipped += s.Skipped
		counts.Protected += s.Protected
	}
	return Summary{
		Revision:  rev,
		RunID:     run.RunID,
		Provider:  run.Provider,
		Kind:      run.Kind,
		StartedAt: run.StartedAt,
		Counts:    counts,
	}
}

func revisionKey(rev uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, rev)
	return key
}

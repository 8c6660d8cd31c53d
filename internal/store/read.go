package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/botloom/internal/ir"
)

// Run is one journaled runtime session.
type Run struct {
	ID             string
	Label          string
	RuntimeVersion string
	IRVersion      string
	Batches        int
}

// Input is one journaled input.
type Input struct {
	Seq     int64
	Kind    InputKind
	Payload string
}

// Delta decodes a delta input.
func (in Input) Delta() (ir.Delta, error) {
	if in.Kind != InputDelta {
		return nil, fmt.Errorf("input %d is a %s, not a delta", in.Seq, in.Kind)
	}
	var d ir.Delta
	if err := json.Unmarshal([]byte(in.Payload), &d); err != nil {
		return nil, fmt.Errorf("input %d: %w", in.Seq, err)
	}
	return d, nil
}

// Shout decodes a shout input.
func (in Input) Shout() (ShoutInput, error) {
	if in.Kind != InputShout {
		return ShoutInput{}, fmt.Errorf("input %d is a %s, not a shout", in.Seq, in.Kind)
	}
	var s ShoutInput
	if err := unmarshalJSON(in.Payload, &s); err != nil {
		return ShoutInput{}, fmt.Errorf("input %d: %w", in.Seq, err)
	}
	return s, nil
}

// Actions decodes a process input.
func (in Input) Actions() ([]ir.Action, error) {
	if in.Kind != InputProcess {
		return nil, fmt.Errorf("input %d is a %s, not a process", in.Seq, in.Kind)
	}
	return decodeActions(in.Payload)
}

// BatchRecord is one journaled batch.
type BatchRecord struct {
	Seq      int64
	Digest   string
	Actions  []ir.Action
	Rejected []ir.Action
}

// StateRecord is one journaled reconciliation result.
type StateRecord struct {
	Seq     int64
	Version int64
	Added   []string
	Removed []string
	Updated []string
	// State is the raw JSON of the result's state map.
	State string
}

// Runs returns every run with its batch count, oldest first.
func (j *Journal) Runs(ctx context.Context) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT r.id, r.label, r.runtime_version, r.ir_version, COUNT(b.seq)
		FROM runs r
		LEFT JOIN batches b ON b.run_id = r.id
		GROUP BY r.id
		ORDER BY r.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Label, &r.RuntimeVersion, &r.IRVersion, &r.Batches); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// LatestRun returns the id of the most recent run.
// Returns sql.ErrNoRows if the journal is empty.
func (j *Journal) LatestRun(ctx context.Context) (string, error) {
	var id string
	err := j.db.QueryRowContext(ctx, `
		SELECT id FROM runs ORDER BY id COLLATE BINARY DESC LIMIT 1
	`).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ReadInputs returns a run's inputs in arrival order.
func (j *Journal) ReadInputs(ctx context.Context, runID string) ([]Input, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, kind, payload
		FROM inputs
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query inputs: %w", err)
	}
	defer rows.Close()

	inputs := []Input{}
	for rows.Next() {
		var in Input
		var kind string
		if err := rows.Scan(&in.Seq, &kind, &in.Payload); err != nil {
			return nil, fmt.Errorf("scan input: %w", err)
		}
		in.Kind = InputKind(kind)
		inputs = append(inputs, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inputs: %w", err)
	}
	return inputs, nil
}

// ReadBatches returns a run's batches in emission order.
func (j *Journal) ReadBatches(ctx context.Context, runID string) ([]BatchRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, digest, actions, rejected
		FROM batches
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	batches := []BatchRecord{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, nil
}

// ReadBatch retrieves one batch of a run.
// Returns sql.ErrNoRows if not found.
func (j *Journal) ReadBatch(ctx context.Context, runID string, seq int64) (BatchRecord, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT seq, digest, actions, rejected
		FROM batches
		WHERE run_id = ? AND seq = ?
	`, runID, seq)
	return scanBatch(row)
}

// ReadStates returns a run's reconciliation results in order.
func (j *Journal) ReadStates(ctx context.Context, runID string) ([]StateRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, version, added, removed, updated, state
		FROM reconciliations
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query reconciliations: %w", err)
	}
	defer rows.Close()

	states := []StateRecord{}
	for rows.Next() {
		var r StateRecord
		var added, removed, updated string
		if err := rows.Scan(&r.Seq, &r.Version, &added, &removed, &updated, &r.State); err != nil {
			return nil, fmt.Errorf("scan reconciliation: %w", err)
		}
		for _, col := range []struct {
			data string
			dst  *[]string
		}{{added, &r.Added}, {removed, &r.Removed}, {updated, &r.Updated}} {
			if err := unmarshalJSON(col.data, col.dst); err != nil {
				return nil, fmt.Errorf("reconciliation %d: %w", r.Seq, err)
			}
		}
		states = append(states, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reconciliations: %w", err)
	}
	return states, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (BatchRecord, error) {
	var b BatchRecord
	var actions, rejected string
	if err := row.Scan(&b.Seq, &b.Digest, &actions, &rejected); err != nil {
		if err == sql.ErrNoRows {
			return b, err
		}
		return b, fmt.Errorf("scan batch: %w", err)
	}

	var err error
	if b.Actions, err = decodeActions(actions); err != nil {
		return b, fmt.Errorf("batch %d: %w", b.Seq, err)
	}
	if b.Rejected, err = decodeActions(rejected); err != nil {
		return b, fmt.Errorf("batch %d rejected: %w", b.Seq, err)
	}
	return b, nil
}

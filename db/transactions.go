package db

import (
	"database/sql"
	"fmt"
	"time"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Sample is one tick of one fan.
type Sample struct {
	TakenAt     time.Time
	Fan         int
	FanName     string
	Temperature int
	Step        int
	Speed       int
	RPM         int
	Written     bool
}

// ApplyRecord is the outcome of programming a config into the EC.
type ApplyRecord struct {
	AppliedAt time.Time
	Model     string
	Author    string
	Writes    int
	OK        bool
	Error     string
}

type Event struct {
	At     time.Time
	Kind   string
	Detail string
}

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

// InsertSamples stores one tick's samples in a single transaction.
func InsertSamples(db *sql.DB, samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	for _, s := range samples {
		_, err = tx.Exec(`INSERT INTO samples (taken_at, fan, fan_name, temperature, step, speed, rpm, written) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			s.TakenAt.UTC().Format(timeLayout), s.Fan, s.FanName, s.Temperature, s.Step, s.Speed, s.RPM, s.Written)
		if err != nil {
			RollbackTransaction(tx)
			return fmt.Errorf("insert sample for fan %d: %w", s.Fan, err)
		}
	}
	return CommitTransaction(tx)
}

func InsertApply(db *sql.DB, a ApplyRecord) error {
	var errText sql.NullString
	if a.Error != "" {
		errText = sql.NullString{String: a.Error, Valid: true}
	}
	_, err := db.Exec(`INSERT INTO applies (applied_at, model, author, writes, ok, error) VALUES (?, ?, ?, ?, ?, ?)`,
		a.AppliedAt.UTC().Format(timeLayout), a.Model, a.Author, a.Writes, a.OK, errText)
	if err != nil {
		return fmt.Errorf("insert apply: %w", err)
	}
	return nil
}

func InsertEvent(db *sql.DB, e Event) error {
	_, err := db.Exec(`INSERT INTO events (at, kind, detail) VALUES (?, ?, ?)`,
		e.At.UTC().Format(timeLayout), e.Kind, e.Detail)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// PruneBefore deletes samples and events older than cutoff. Apply records
// are kept.
func PruneBefore(db *sql.DB, cutoff time.Time) (int64, error) {
	ts := cutoff.UTC().Format(timeLayout)

	tx, err := StartTransaction(db)
	if err != nil {
		return 0, err
	}
	res, err := tx.Exec(`DELETE FROM samples WHERE taken_at < ?`, ts)
	if err != nil {
		RollbackTransaction(tx)
		return 0, fmt.Errorf("prune samples: %w", err)
	}
	n, _ := res.RowsAffected()
	if _, err := tx.Exec(`DELETE FROM events WHERE at < ?`, ts); err != nil {
		RollbackTransaction(tx)
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return n, CommitTransaction(tx)
}

// Recorder adapts a database handle to the controller's history hooks.
type Recorder struct {
	DB  *sql.DB
	Now func() time.Time
}

func (r *Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Recorder) RecordSamples(samples []Sample) error {
	return InsertSamples(r.DB, samples)
}

func (r *Recorder) RecordApply(a ApplyRecord) error {
	if a.AppliedAt.IsZero() {
		a.AppliedAt = r.now()
	}
	return InsertApply(r.DB, a)
}

func (r *Recorder) RecordEvent(kind, detail string) error {
	return InsertEvent(r.DB, Event{At: r.now(), Kind: kind, Detail: detail})
}

package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RecentSamples returns up to limit samples for fan, newest first.
func RecentSamples(db *sql.DB, fan int, limit int) ([]Sample, error) {
	rows, err := db.Query(`SELECT taken_at, fan, fan_name, temperature, step, speed, rpm, written FROM samples WHERE fan = ? ORDER BY id DESC LIMIT ?`, fan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var s Sample
		var takenAt string
		if err := rows.Scan(&takenAt, &s.Fan, &s.FanName, &s.Temperature, &s.Step, &s.Speed, &s.RPM, &s.Written); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		s.TakenAt, _ = time.Parse(timeLayout, takenAt)
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// LastApply returns the most recent apply record, or nil when none exists.
func LastApply(db *sql.DB) (*ApplyRecord, error) {
	var a ApplyRecord
	var appliedAt string
	var errText sql.NullString
	err := db.QueryRow(`SELECT applied_at, model, author, writes, ok, error FROM applies ORDER BY id DESC LIMIT 1`).
		Scan(&appliedAt, &a.Model, &a.Author, &a.Writes, &a.OK, &errText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last apply: %w", err)
	}
	a.AppliedAt, _ = time.Parse(timeLayout, appliedAt)
	a.Error = errText.String
	return &a, nil
}

// WriteCount is the number of tick samples that produced a register write
// since the given time.
func WriteCount(db *sql.DB, fan int, since time.Time) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM samples WHERE fan = ? AND written = TRUE AND taken_at >= ?`,
		fan, since.UTC().Format(timeLayout)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count writes: %w", err)
	}
	return n, nil
}

func RecentEvents(db *sql.DB, limit int) ([]Event, error) {
	rows, err := db.Query(`SELECT at, kind, detail FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var at string
		if err := rows.Scan(&at, &e.Kind, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.At, _ = time.Parse(timeLayout, at)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package profiling accumulates per-function call counts and wall
// time for a traced run, persisted to SQLite. The debug engine feeds
// it from call and return trace events.
package profiling

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Sample is one function's aggregated profile.
type Sample struct {
	File     string
	Function string
	Calls    int
	Total    time.Duration
}

// Store aggregates samples and persists them.
type Store struct {
	db      *sql.DB
	samples map[string]*Sample
	open    []openCall
	clock   func() time.Time
}

type openCall struct {
	key   string
	start time.Time
}

// Config contains profile store configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// New opens or creates a profile database.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes, so only 1 connection
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{
		db:      db,
		samples: make(map[string]*Sample),
		clock:   cfg.Clock,
	}
	if s.clock == nil {
		s.clock = time.Now
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	migration := `CREATE TABLE IF NOT EXISTS samples (
		file TEXT NOT NULL,
		function TEXT NOT NULL,
		calls INTEGER NOT NULL DEFAULT 0,
		total_ns INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (file, function)
	)`
	if _, err := s.db.ExecContext(ctx, migration); err != nil {
		return fmt.Errorf("failed to execute migration: %w", err)
	}
	return nil
}

func key(file, function string) string {
	return file + "\x00" + function
}

// Enter records entry into a function.
func (s *Store) Enter(file, function string) {
	s.open = append(s.open, openCall{key: key(file, function), start: s.clock()})
	sample, ok := s.samples[key(file, function)]
	if !ok {
		sample = &Sample{File: file, Function: function}
		s.samples[key(file, function)] = sample
	}
	sample.Calls++
}

// Exit records return from the innermost open call. Unbalanced exits
// are ignored.
func (s *Store) Exit() {
	if len(s.open) == 0 {
		return
	}
	call := s.open[len(s.open)-1]
	s.open = s.open[:len(s.open)-1]
	if sample, ok := s.samples[call.key]; ok {
		sample.Total += s.clock().Sub(call.start)
	}
}

// Save flushes aggregated samples into the database and resets the
// in-memory state. Calls still open are charged up to now.
func (s *Store) Save(ctx context.Context) error {
	now := s.clock()
	for _, call := range s.open {
		if sample, ok := s.samples[call.key]; ok {
			sample.Total += now.Sub(call.start)
		}
	}
	s.open = nil

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO samples (file, function, calls, total_ns) VALUES (?, ?, ?, ?)
		ON CONFLICT(file, function)
		DO UPDATE SET calls = calls + excluded.calls, total_ns = total_ns + excluded.total_ns`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, sample := range s.samples {
		if _, err := stmt.ExecContext(ctx, sample.File, sample.Function, sample.Calls, sample.Total.Nanoseconds()); err != nil {
			return fmt.Errorf("failed to save sample %s: %w", sample.Function, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.samples = make(map[string]*Sample)
	return nil
}

// Erase drops all persisted and in-memory profile data.
func (s *Store) Erase(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM samples"); err != nil {
		return fmt.Errorf("failed to erase profile data: %w", err)
	}
	s.samples = make(map[string]*Sample)
	s.open = nil
	return nil
}

// Samples reads back the persisted profile, heaviest first.
func (s *Store) Samples(ctx context.Context) ([]Sample, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT file, function, calls, total_ns FROM samples ORDER BY total_ns DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var sample Sample
		var ns int64
		if err := rows.Scan(&sample.File, &sample.Function, &sample.Calls, &ns); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		sample.Total = time.Duration(ns)
		out = append(out, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return out, nil
}

// Close flushes pending samples and closes the database.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Save(ctx); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

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

// Package coverage records which source lines a program run executed.
// Hits are counted in memory and flushed to a SQLite file, so repeated
// runs accumulate into the same database unless erased.
package coverage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

// Store accumulates line hits and persists them.
type Store struct {
	db   *sql.DB
	hits map[string]map[int]int
}

// Config contains coverage store configuration.
type Config struct {
	// Path is the database file path.
	Path string
}

// New opens or creates a coverage database.
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

	s := &Store{db: db, hits: make(map[string]map[int]int)}

	if err := s.configurePragmas(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS line_hits (
			file TEXT NOT NULL,
			line INTEGER NOT NULL,
			hits INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (file, line)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_line_hits_file ON line_hits(file)`,
	}
	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

// Record counts one execution of file:line. It never touches the
// database; call Save to persist.
func (s *Store) Record(file string, line int) {
	lines, ok := s.hits[file]
	if !ok {
		lines = make(map[int]int)
		s.hits[file] = lines
	}
	lines[line]++
}

// Save flushes the in-memory counts into the database, adding to any
// counts from earlier runs, and resets the in-memory state.
func (s *Store) Save(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO line_hits (file, line, hits) VALUES (?, ?, ?)
		ON CONFLICT(file, line) DO UPDATE SET hits = hits + excluded.hits`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for file, lines := range s.hits {
		for line, count := range lines {
			if _, err := stmt.ExecContext(ctx, file, line, count); err != nil {
				return fmt.Errorf("failed to save hit %s:%d: %w", file, line, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.hits = make(map[string]map[int]int)
	return nil
}

// Erase drops all persisted and in-memory coverage data.
func (s *Store) Erase(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM line_hits"); err != nil {
		return fmt.Errorf("failed to erase coverage data: %w", err)
	}
	s.hits = make(map[string]map[int]int)
	return nil
}

// Lines reports the covered lines of a file, sorted, including counts
// not yet saved.
func (s *Store) Lines(ctx context.Context, file string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT line FROM line_hits WHERE file = ? AND hits > 0", file)
	if err != nil {
		return nil, fmt.Errorf("failed to query coverage: %w", err)
	}
	defer rows.Close()

	seen := make(map[int]struct{})
	for rows.Next() {
		var line int
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		seen[line] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	for line := range s.hits[file] {
		seen[line] = struct{}{}
	}

	lines := make([]int, 0, len(seen))
	for line := range seen {
		lines = append(lines, line)
	}
	sort.Ints(lines)
	return lines, nil
}

// Close flushes pending counts and closes the database.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Save(ctx); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

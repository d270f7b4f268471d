package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists patient snapshots to the patients table.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps an existing pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Save implements Persister. The whole board is rewritten; the list is
// small and the write path is rare.
func (s *PGStore) Save(ctx context.Context, patients []*Patient) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM patients`); err != nil {
		return fmt.Errorf("clear patients: %w", err)
	}
	for _, p := range patients {
		snapshot, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal patient %s: %w", p.ID, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO patients (id, snapshot, updated_at) VALUES ($1, $2, now())`,
			p.ID, snapshot,
		); err != nil {
			return fmt.Errorf("insert patient %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load implements Persister.
func (s *PGStore) Load(ctx context.Context) ([]*Patient, error) {
	rows, err := s.pool.Query(ctx, `SELECT snapshot FROM patients`)
	if err != nil {
		return nil, fmt.Errorf("query patients: %w", err)
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		var snapshot []byte
		if err := rows.Scan(&snapshot); err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		var p Patient
		if err := json.Unmarshal(snapshot, &p); err != nil {
			return nil, fmt.Errorf("unmarshal patient: %w", err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patients: %w", err)
	}
	return out, nil
}

// MemStore is an in-memory Persister for tests and transportless runs.
type MemStore struct {
	mu       sync.Mutex
	saved    []*Patient
	saveErr  error
	loadErr  error
	saves    int
}

// NewMemStore creates an empty in-memory persister.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// FailWith makes subsequent calls fail, for exercising swallow paths.
func (s *MemStore) FailWith(saveErr, loadErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = saveErr
	s.loadErr = loadErr
}

// Save implements Persister.
func (s *MemStore) Save(ctx context.Context, patients []*Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = make([]*Patient, len(patients))
	for i, p := range patients {
		s.saved[i] = p.Clone()
	}
	s.saves++
	return nil
}

// Load implements Persister.
func (s *MemStore) Load(ctx context.Context) ([]*Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make([]*Patient, len(s.saved))
	for i, p := range s.saved {
		out[i] = p.Clone()
	}
	return out, nil
}

// Saved returns the last saved snapshot list.
func (s *MemStore) Saved() []*Patient {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Patient, len(s.saved))
	for i, p := range s.saved {
		out[i] = p.Clone()
	}
	return out
}

// SaveCount returns how many successful saves occurred.
func (s *MemStore) SaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

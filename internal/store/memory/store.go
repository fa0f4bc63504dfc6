// Package memory is an in-process game store for tests and single-node runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gokatarajesh/codeduel/internal/game"
)

type sessionKey struct {
	gameID uuid.UUID
	userID uuid.UUID
}

// Store keeps games and sessions behind a single mutex. Records are deep-copied
// on the way in and out.
type Store struct {
	mu       sync.Mutex
	games    map[uuid.UUID]*game.Game
	sessions map[sessionKey]*game.PlayerSession
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		games:    make(map[uuid.UUID]*game.Game),
		sessions: make(map[sessionKey]*game.PlayerSession),
	}
}

func (s *Store) InsertGame(_ context.Context, g *game.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.games[g.ID]; ok {
		return fmt.Errorf("insert game %s: %w", g.ID, game.ErrConflict)
	}
	s.games[g.ID] = clone(g)
	return nil
}

func (s *Store) GetGame(_ context.Context, id uuid.UUID) (*game.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[id]
	if !ok {
		return nil, fmt.Errorf("game %s: %w", id, game.ErrNotFound)
	}
	return clone(g), nil
}

func (s *Store) UpdateGame(_ context.Context, id uuid.UUID, fn func(g *game.Game) error) (*game.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.games[id]
	if !ok {
		return nil, fmt.Errorf("game %s: %w", id, game.ErrNotFound)
	}
	next := clone(cur)
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Version = cur.Version + 1
	s.games[id] = next
	return clone(next), nil
}

func (s *Store) RecentWaitingGames(_ context.Context, limit int) ([]game.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []game.Game
	for _, g := range s.games {
		if g.State == game.StateWaiting {
			out = append(out, *clone(g))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) InsertSession(_ context.Context, ps *game.PlayerSession, check func(g game.Game) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[ps.GameID]
	if !ok {
		return fmt.Errorf("game %s: %w", ps.GameID, game.ErrNotFound)
	}
	if check != nil {
		if err := check(*clone(g)); err != nil {
			return err
		}
	}
	key := sessionKey{ps.GameID, ps.UserID}
	if _, ok := s.sessions[key]; ok {
		return fmt.Errorf("session %s/%s: %w", ps.GameID, ps.UserID, game.ErrConflict)
	}
	s.sessions[key] = clone(ps)
	return nil
}

func (s *Store) GetSession(_ context.Context, gameID, userID uuid.UUID) (*game.PlayerSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.sessions[sessionKey{gameID, userID}]
	if !ok {
		return nil, fmt.Errorf("session %s/%s: %w", gameID, userID, game.ErrNotFound)
	}
	return clone(ps), nil
}

func (s *Store) UpdateSession(_ context.Context, gameID, userID uuid.UUID, fn func(g game.Game, ps *game.PlayerSession) error) (*game.PlayerSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey{gameID, userID}
	cur, ok := s.sessions[key]
	if !ok {
		return nil, fmt.Errorf("session %s/%s: %w", gameID, userID, game.ErrNotFound)
	}
	g, ok := s.games[gameID]
	if !ok {
		return nil, fmt.Errorf("game %s: %w", gameID, game.ErrNotFound)
	}

	next := clone(cur)
	if err := fn(*clone(g), next); err != nil {
		return nil, err
	}
	next.Version = cur.Version + 1
	s.sessions[key] = next
	return clone(next), nil
}

func (s *Store) DeleteSession(_ context.Context, gameID, userID uuid.UUID, check func(g game.Game) error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey{gameID, userID}
	if _, ok := s.sessions[key]; !ok {
		return false, fmt.Errorf("session %s/%s: %w", gameID, userID, game.ErrNotFound)
	}
	if check != nil {
		g, ok := s.games[gameID]
		if !ok {
			return false, fmt.Errorf("game %s: %w", gameID, game.ErrNotFound)
		}
		if err := check(*clone(g)); err != nil {
			return false, err
		}
	}
	delete(s.sessions, key)

	for k := range s.sessions {
		if k.gameID == gameID {
			return false, nil
		}
	}
	delete(s.games, gameID)
	return true, nil
}

func (s *Store) LatestSession(_ context.Context, userID uuid.UUID) (*game.PlayerSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *game.PlayerSession
	for k, ps := range s.sessions {
		if k.userID != userID {
			continue
		}
		if latest == nil || ps.JoinedAt.After(latest.JoinedAt) {
			latest = ps
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("sessions for %s: %w", userID, game.ErrNotFound)
	}
	return clone(latest), nil
}

// Locker is a process-local game.Locker with expiring keys.
type Locker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

// NewLocker creates an empty locker.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]time.Time), clock: time.Now}
}

func (l *Locker) Lock(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, fmt.Errorf("lock %s: %w", key, game.ErrConflict)
	}
	exp := now.Add(ttl)
	l.held[key] = exp

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.held[key]; ok && cur.Equal(exp) {
			delete(l.held, key)
		}
	}, nil
}

// clone deep-copies a record through its JSON form, which is also how the
// Redis store persists it.
func clone[T any](v *T) *T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("memory: marshal %T: %v", v, err))
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("memory: unmarshal %T: %v", v, err))
	}
	return out
}

var (
	_ game.Store  = (*Store)(nil)
	_ game.Locker = (*Locker)(nil)
)

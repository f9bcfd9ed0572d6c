package file

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"tg-quiz-bot/internal/domain"
)

// Ledger is the file-backed cumulative score store. The whole board lives in
// memory as an ordered slice (insertion order is the tie-breaker) and is
// rewritten to disk on every credit via write-temp-then-rename, so a crash
// mid-write never truncates the previous state.
type Ledger struct {
	path string
	log  zerolog.Logger

	mu      sync.RWMutex
	entries []domain.LeaderboardEntry
}

// NewLedger loads the stored board from path. An unreadable or corrupt file
// yields an empty board, logged, never fatal.
func NewLedger(path string, log zerolog.Logger) *Ledger {
	l := &Ledger{path: path, log: log}
	l.entries = l.loadAll()
	return l
}

func (l *Ledger) loadAll() []domain.LeaderboardEntry {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.log.Warn().Err(err).Str("path", l.path).Msg("ledger unreadable, starting empty")
		}
		return nil
	}
	var entries []domain.LeaderboardEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		l.log.Warn().Err(err).Str("path", l.path).Msg("ledger corrupt, starting empty")
		return nil
	}
	return entries
}

// Credit adds points to name and persists the full board synchronously.
// Non-positive points are ignored.
func (l *Ledger) Credit(name string, points int) error {
	if points <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	found := false
	for i := range l.entries {
		if l.entries[i].Name == name {
			l.entries[i].Score += points
			found = true
			break
		}
	}
	if !found {
		l.entries = append(l.entries, domain.LeaderboardEntry{Name: name, Score: points})
	}
	return l.persistLocked()
}

// Top returns up to n entries by score descending. The sort is stable, so
// equal scores keep their insertion order. The ledger itself is not mutated.
func (l *Ledger) Top(n int) []domain.LeaderboardEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	sorted := make([]domain.LeaderboardEntry, len(l.entries))
	copy(sorted, l.entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

func (l *Ledger) persistLocked() error {
	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".ledger-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), l.path)
}

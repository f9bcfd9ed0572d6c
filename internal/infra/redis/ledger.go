// Package redis implements the score ledger on a Redis instance, mirroring
// the file ledger's single-document format so the two stores are
// interchangeable.
package redis

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-quiz-bot/internal/domain"
)

const ledgerKey = "quiz:leaderboard"

// Ledger keeps the authoritative board in memory (this process is the single
// writer) and persists the full JSON document to Redis after each credit.
type Ledger struct {
	client *redis.Client
	log    zerolog.Logger

	mu      sync.RWMutex
	entries []domain.LeaderboardEntry
}

// NewLedger loads the stored board. Any read or decode failure yields an
// empty board, logged, never fatal.
func NewLedger(ctx context.Context, client *redis.Client, log zerolog.Logger) *Ledger {
	l := &Ledger{client: client, log: log}
	l.entries = l.loadAll(ctx)
	return l
}

func (l *Ledger) loadAll(ctx context.Context) []domain.LeaderboardEntry {
	data, err := l.client.Get(ctx, ledgerKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			l.log.Warn().Err(err).Msg("ledger unreadable, starting empty")
		}
		return nil
	}
	var entries []domain.LeaderboardEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		l.log.Warn().Err(err).Msg("ledger corrupt, starting empty")
		return nil
	}
	return entries
}

// Credit adds points to name and persists the board. Non-positive points are
// ignored.
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

	data, err := json.Marshal(l.entries)
	if err != nil {
		return err
	}
	return l.client.Set(context.Background(), ledgerKey, data, 0).Err()
}

// Top returns up to n entries by score descending, stable on ties.
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

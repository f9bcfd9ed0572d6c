package app

import (
	"sync"
	"time"

	"tg-quiz-bot/internal/domain"
)

// ScoreLedger is the durable cumulative score store (file, Redis).
type ScoreLedger interface {
	// Credit adds points to the named player and persists the ledger.
	// Non-positive points are ignored.
	Credit(name string, points int) error
	// Top returns up to n entries sorted by score descending, ties kept in
	// insertion order. Must not mutate the ledger.
	Top(n int) []domain.LeaderboardEntry
}

// LeaderboardFeed wraps a ScoreLedger with a subscription fan-out so the ops
// endpoint can stream scoreboard changes as they happen.
type LeaderboardFeed struct {
	ledger ScoreLedger
	now    func() time.Time

	mu          sync.Mutex
	subscribers map[chan domain.Leaderboard]struct{}
}

func NewLeaderboardFeed(ledger ScoreLedger) *LeaderboardFeed {
	return &LeaderboardFeed{
		ledger:      ledger,
		now:         time.Now,
		subscribers: make(map[chan domain.Leaderboard]struct{}),
	}
}

// Credit records points and broadcasts the updated board. A persistence
// failure is returned to the caller but the broadcast still happens: the
// in-memory score moved, and subscribers should see it.
func (f *LeaderboardFeed) Credit(name string, points int) error {
	err := f.ledger.Credit(name, points)
	f.broadcast()
	return err
}

// Top proxies the ledger's read-only view.
func (f *LeaderboardFeed) Top(n int) []domain.LeaderboardEntry {
	return f.ledger.Top(n)
}

// Subscribe returns a channel receiving the current board immediately and an
// update after every credit. The caller must invoke cancel to avoid leaks.
func (f *LeaderboardFeed) Subscribe() (<-chan domain.Leaderboard, func()) {
	ch := make(chan domain.Leaderboard, 8)

	f.mu.Lock()
	f.subscribers[ch] = struct{}{}
	f.mu.Unlock()

	ch <- f.snapshot()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subscribers[ch]; ok {
			delete(f.subscribers, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

func (f *LeaderboardFeed) broadcast() {
	board := f.snapshot()

	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subscribers {
		select {
		case ch <- board:
		default:
			// drop the stale update so a slow subscriber never blocks scoring
			select {
			case <-ch:
			default:
			}
			ch <- board
		}
	}
}

func (f *LeaderboardFeed) snapshot() domain.Leaderboard {
	return domain.Leaderboard{
		Entries:   f.ledger.Top(topSnapshotSize),
		UpdatedAt: f.now(),
	}
}

const topSnapshotSize = 10

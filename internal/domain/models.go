package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Difficulty is one of the three recognized quiz difficulty tiers.
// The canonical tokens are the Russian labels shown to users.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Лёгкий"
	DifficultyMedium Difficulty = "Средний"
	DifficultyHard   Difficulty = "Сложный"
)

// MixCategory is the pseudo-category that samples across all real categories.
const MixCategory = "Случайный микс"

// Difficulties returns the recognized tiers in ascending order.
func Difficulties() []Difficulty {
	return []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}
}

// ParseDifficulty matches user or source text against the canonical tokens.
// Comparison is case-insensitive and treats е/ё as equal, so the "Легкий"
// spelling variant still parses as DifficultyEasy.
func ParseDifficulty(s string) (Difficulty, bool) {
	norm := normalizeToken(s)
	for _, d := range Difficulties() {
		if norm == normalizeToken(string(d)) {
			return d, true
		}
	}
	return "", false
}

func normalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, "ё", "е")
}

// Timeout returns how long a user has to answer a question of this tier.
// Unrecognized tiers get the medium timeout.
func (d Difficulty) Timeout() time.Duration {
	switch d {
	case DifficultyEasy:
		return 10 * time.Second
	case DifficultyHard:
		return 30 * time.Second
	default:
		return 20 * time.Second
	}
}

// Question is a single multiple-choice question. Immutable once loaded.
type Question struct {
	Text       string     `json:"question"`
	Options    []string   `json:"options"`
	Answer     string     `json:"answer"`
	Category   string     `json:"category"`
	Difficulty Difficulty `json:"difficulty"`
}

// Validate checks the invariants every loader must enforce before a record
// enters a QuestionSet.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: empty question text", ErrDataMalformed)
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("%w: need at least 2 options, got %d", ErrDataMalformed, len(q.Options))
	}
	seen := make(map[string]struct{}, len(q.Options))
	answerFound := false
	for _, opt := range q.Options {
		if _, dup := seen[opt]; dup {
			return fmt.Errorf("%w: duplicate option %q", ErrDataMalformed, opt)
		}
		seen[opt] = struct{}{}
		if opt == q.Answer {
			answerFound = true
		}
	}
	if !answerFound {
		return fmt.Errorf("%w: answer %q is not one of the options", ErrDataMalformed, q.Answer)
	}
	return nil
}

// QuestionSet groups questions by category. Read-only after load.
type QuestionSet map[string][]Question

// Categories lists the category names in sorted order.
func (s QuestionSet) Categories() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Total counts questions across all categories.
func (s QuestionSet) Total() int {
	n := 0
	for _, qs := range s {
		n += len(qs)
	}
	return n
}

// LeaderboardEntry is one row of the cumulative scoreboard.
type LeaderboardEntry struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// Leaderboard is a snapshot of the scoreboard for streaming to subscribers.
type Leaderboard struct {
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

package app

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"tg-quiz-bot/internal/domain"
)

// QuestionLoader fetches the full question set from a backing store
// (JSON files, Postgres, a published spreadsheet).
type QuestionLoader interface {
	LoadQuestions(ctx context.Context) (domain.QuestionSet, error)
}

// MixRange bounds the sample size of the random-mix pseudo-category.
type MixRange struct {
	Min int
	Max int
}

// DefaultMixRange matches the configured sampling window of the bot.
var DefaultMixRange = MixRange{Min: 8, Max: 15}

// QuestionRepository caches the loaded set with TTL to avoid repeated source
// hits and answers the engine's filtered/sampled selections.
type QuestionRepository struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu     sync.RWMutex
	rnd    *rand.Rand
	cached domain.QuestionSet
	expiry time.Time
}

func NewQuestionRepository(loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Load returns the cached question set, reloading through the loader once the
// TTL has expired. Concurrent expirations collapse into one loader call.
func (r *QuestionRepository) Load(ctx context.Context) (domain.QuestionSet, error) {
	now := r.clock()

	r.mu.RLock()
	if r.cached != nil && r.expiry.After(now) {
		set := r.cached
		r.mu.RUnlock()
		return set, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do("questions", func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if r.cached != nil && r.expiry.After(now) {
			set := r.cached
			r.mu.RUnlock()
			return set, nil
		}
		r.mu.RUnlock()

		set, err := r.loader.LoadQuestions(ctx)
		if err != nil {
			return nil, err
		}

		ttl := r.ttlWithJitter()
		r.mu.Lock()
		r.cached = set
		r.expiry = now.Add(ttl)
		r.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(domain.QuestionSet), nil
}

// Categories lists the selectable categories, with the random mix appended
// when there is anything to sample from.
func (r *QuestionRepository) Categories(ctx context.Context) ([]string, error) {
	set, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}
	names := set.Categories()
	if set.Total() > 0 {
		names = append(names, domain.MixCategory)
	}
	return names, nil
}

// Select filters the named category down to questions of exactly the given
// difficulty. An empty result means the quiz cannot start.
func (r *QuestionRepository) Select(ctx context.Context, category string, difficulty domain.Difficulty) ([]domain.Question, error) {
	set, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.Question
	for _, q := range set[category] {
		if q.Difficulty == difficulty {
			out = append(out, q)
		}
	}
	return out, nil
}

// SelectMix draws a shuffled sample from the union of all categories. The
// sample length is chosen uniformly within mix, and no source question is
// drawn twice.
func (r *QuestionRepository) SelectMix(ctx context.Context, mix MixRange) ([]domain.Question, error) {
	set, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}

	pool := make([]domain.Question, 0, set.Total())
	for _, qs := range set {
		pool = append(pool, qs...)
	}
	if len(pool) == 0 {
		return nil, nil
	}

	r.mu.Lock()
	r.rnd.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	size := mix.Min
	if mix.Max > mix.Min {
		size += r.rnd.Intn(mix.Max - mix.Min + 1)
	}
	r.mu.Unlock()

	if size <= 0 || size > len(pool) {
		size = len(pool)
	}
	return pool[:size], nil
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread reload spikes
	jitterMax := int64(r.ttl) / 10
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

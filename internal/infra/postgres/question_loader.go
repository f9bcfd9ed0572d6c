// Package postgres loads question records stored as JSONB rows.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"tg-quiz-bot/internal/domain"
)

// QuestionLoader reads every row of the questions table and groups the valid
// records by category. Invalid records are dropped and logged, so one bad row
// never poisons the whole set.
type QuestionLoader struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewQuestionLoader(pool *pgxpool.Pool, log zerolog.Logger) *QuestionLoader {
	return &QuestionLoader{pool: pool, log: log}
}

func (l *QuestionLoader) LoadQuestions(ctx context.Context) (domain.QuestionSet, error) {
	rows, err := l.pool.Query(ctx, `SELECT data FROM questions`)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	set := make(domain.QuestionSet)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		var q domain.Question
		if err := json.Unmarshal(raw, &q); err != nil {
			l.log.Warn().Err(err).Msg("dropping undecodable question row")
			continue
		}
		if d, ok := domain.ParseDifficulty(string(q.Difficulty)); ok {
			q.Difficulty = d
		}
		if err := q.Validate(); err != nil {
			l.log.Warn().Err(err).Str("question", q.Text).Msg("dropping invalid question row")
			continue
		}
		set[q.Category] = append(set[q.Category], q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	return set, nil
}

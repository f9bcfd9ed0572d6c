// Package file implements the question provider and score ledger backed by
// local files: one JSON file per question category, and a single JSON ledger
// rewritten atomically on every credit.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"tg-quiz-bot/internal/domain"
)

// QuestionLoader reads <category>.json files from a directory. Each file
// holds a JSON array of question records; the category name is the file name
// without extension.
type QuestionLoader struct {
	dir string
	log zerolog.Logger
}

func NewQuestionLoader(dir string, log zerolog.Logger) *QuestionLoader {
	return &QuestionLoader{dir: dir, log: log}
}

// LoadQuestions builds the question set. A missing directory, an unreadable
// file or a malformed record never aborts the whole load: the affected
// category simply comes out empty (or thinner) and the problem is logged, so
// partial data stays usable.
func (l *QuestionLoader) LoadQuestions(_ context.Context) (domain.QuestionSet, error) {
	set := make(domain.QuestionSet)

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.log.Warn().Str("dir", l.dir).Msg("questions directory missing, starting with empty set")
			return set, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		category := strings.TrimSuffix(entry.Name(), ".json")
		questions, err := l.loadCategory(filepath.Join(l.dir, entry.Name()), category)
		if err != nil {
			l.log.Warn().Err(err).Str("category", category).Msg("skipping unreadable category file")
			set[category] = nil
			continue
		}
		set[category] = questions
	}
	return set, nil
}

func (l *QuestionLoader) loadCategory(path, category string) ([]domain.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var records []domain.Question
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}

	questions := make([]domain.Question, 0, len(records))
	for _, q := range records {
		q.Category = category
		if q.Difficulty != "" {
			if d, ok := domain.ParseDifficulty(string(q.Difficulty)); ok {
				q.Difficulty = d
			}
		}
		if err := q.Validate(); err != nil {
			l.log.Warn().Err(err).Str("category", category).Str("question", q.Text).Msg("dropping invalid question record")
			continue
		}
		questions = append(questions, q)
	}
	return questions, nil
}

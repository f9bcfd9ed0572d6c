// Package sheets loads questions from a spreadsheet published as CSV
// (e.g. a Google Sheet export URL).
package sheets

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tg-quiz-bot/internal/domain"
)

// QuestionLoader fetches a CSV document whose header row names the columns:
// question, option1..optionN, answer, category, difficulty.
type QuestionLoader struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

func NewQuestionLoader(url string, log zerolog.Logger) *QuestionLoader {
	return &QuestionLoader{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log,
	}
}

// LoadQuestions downloads and parses the sheet. A transport or authorization
// failure is returned as ErrDataUnavailable (startup treats a failing initial
// load as fatal); individual malformed rows are dropped and logged.
func (l *QuestionLoader) LoadQuestions(ctx context.Context) (domain.QuestionSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDataUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", domain.ErrDataUnavailable, resp.StatusCode)
	}

	reader := csv.NewReader(resp.Body)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDataMalformed, err)
	}
	if len(rows) == 0 {
		return domain.QuestionSet{}, nil
	}

	cols := indexColumns(rows[0])
	set := make(domain.QuestionSet)
	for _, row := range rows[1:] {
		q, err := cols.parseRow(row)
		if err != nil {
			l.log.Warn().Err(err).Msg("dropping invalid sheet row")
			continue
		}
		set[q.Category] = append(set[q.Category], q)
	}
	return set, nil
}

type columnIndex struct {
	question   int
	answer     int
	category   int
	difficulty int
	options    []int
}

func indexColumns(header []string) columnIndex {
	idx := columnIndex{question: -1, answer: -1, category: -1, difficulty: -1}
	for i, name := range header {
		switch name := strings.ToLower(strings.TrimSpace(name)); {
		case name == "question":
			idx.question = i
		case name == "answer":
			idx.answer = i
		case name == "category":
			idx.category = i
		case name == "difficulty":
			idx.difficulty = i
		case strings.HasPrefix(name, "option"):
			idx.options = append(idx.options, i)
		}
	}
	return idx
}

func (c columnIndex) parseRow(row []string) (domain.Question, error) {
	field := func(i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	q := domain.Question{
		Text:     field(c.question),
		Answer:   field(c.answer),
		Category: field(c.category),
	}
	for _, i := range c.options {
		if opt := field(i); opt != "" {
			q.Options = append(q.Options, opt)
		}
	}
	if d, ok := domain.ParseDifficulty(field(c.difficulty)); ok {
		q.Difficulty = d
	} else {
		q.Difficulty = domain.DifficultyMedium
	}
	if q.Category == "" {
		return domain.Question{}, fmt.Errorf("%w: row without category", domain.ErrDataMalformed)
	}
	if err := q.Validate(); err != nil {
		return domain.Question{}, err
	}
	return q, nil
}

package domain

import "errors"

var (
	// ErrDataUnavailable indicates the question backing source is missing or unreachable.
	ErrDataUnavailable = errors.New("question source unavailable")
	// ErrDataMalformed indicates a question record violates the Question invariants.
	ErrDataMalformed = errors.New("question data malformed")
	// ErrNoQuestions is returned when a selection yields nothing to quiz on.
	ErrNoQuestions = errors.New("no questions available")
	// ErrUnknownCategory is returned when a chosen category is not in the loaded set.
	ErrUnknownCategory = errors.New("unknown category")
	// ErrUnknownDifficulty is returned when text does not parse as a difficulty tier.
	ErrUnknownDifficulty = errors.New("unknown difficulty")
)

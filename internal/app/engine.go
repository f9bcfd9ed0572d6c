package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"tg-quiz-bot/internal/domain"
)

// Sender delivers outbound messages to a chat. When options are present the
// transport renders them as a constrained multiple-choice keyboard. Delivery
// is fire-and-forget: failures are logged by the transport, never surfaced
// back into the state machine.
type Sender interface {
	Send(chatID int64, text string, options []string)
}

type phase int

const (
	phaseAwaitingCategory phase = iota
	phaseAwaitingDifficulty
	phaseAwaitingAnswer
)

// session holds the per-chat quiz progress. It exists only between quiz
// start and completion/stop, and is exclusively owned by the engine.
type session struct {
	name       string
	phase      phase
	category   string
	difficulty domain.Difficulty
	questions  []domain.Question
	index      int
	score      int
	timer      TimerHandle
}

// chatState serializes all events for one chat: commands, free text and
// timer firings all take the same per-chat mutex, so at most one transition
// is applied to the session at any instant. Different chats proceed
// independently, which keeps a slow send or ledger persist from stalling
// anyone else.
type chatState struct {
	mu   sync.Mutex
	sess *session
}

// Engine is the quiz session state machine. It consumes inbound chat events,
// drives the timer controller and emits prompts through the sender.
type Engine struct {
	repo   *QuestionRepository
	board  *LeaderboardFeed
	sender Sender
	timers Timers
	mix    MixRange
	log    zerolog.Logger

	mu    sync.Mutex
	chats map[int64]*chatState
}

// Option customizes engine construction.
type Option func(*Engine)

// WithTimers substitutes the timer controller; tests inject a manual one.
func WithTimers(t Timers) Option {
	return func(e *Engine) { e.timers = t }
}

// WithMixRange overrides the random-mix sample window.
func WithMixRange(mix MixRange) Option {
	return func(e *Engine) { e.mix = mix }
}

// WithLogger attaches a structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func NewEngine(repo *QuestionRepository, board *LeaderboardFeed, sender Sender, opts ...Option) *Engine {
	e := &Engine{
		repo:   repo,
		board:  board,
		sender: sender,
		mix:    DefaultMixRange,
		log:    zerolog.Nop(),
		chats:  make(map[int64]*chatState),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.timers == nil {
		e.timers = NewTimerController(e.OnTimeout)
	}
	return e
}

func (e *Engine) chat(chatID int64) *chatState {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.chats[chatID]
	if !ok {
		cs = &chatState{}
		e.chats[chatID] = cs
	}
	return cs
}

// StartQuiz destroys any prior session for the chat and prompts for a
// category.
func (e *Engine) StartQuiz(ctx context.Context, chatID int64, name string) {
	cs := e.chat(chatID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	e.destroyLocked(chatID, cs)

	categories, err := e.repo.Categories(ctx)
	if err != nil || len(categories) == 0 {
		if err != nil {
			e.log.Error().Err(err).Int64("chat_id", chatID).Msg("question load failed")
		}
		e.sender.Send(chatID, msgNoQuestions, nil)
		return
	}

	cs.sess = &session{name: name, phase: phaseAwaitingCategory}
	e.sender.Send(chatID, msgChooseCategory, categories)
}

// HandleText routes free text to whichever prompt is outstanding. Text in an
// idle chat gets the start hint; text that matches no expected choice
// re-prompts without changing state.
func (e *Engine) HandleText(ctx context.Context, chatID int64, name, text string) {
	cs := e.chat(chatID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.sess == nil {
		e.sender.Send(chatID, msgStartHint, nil)
		return
	}
	cs.sess.name = name

	switch cs.sess.phase {
	case phaseAwaitingCategory:
		e.chooseCategoryLocked(ctx, chatID, cs, text)
	case phaseAwaitingDifficulty:
		e.chooseDifficultyLocked(ctx, chatID, cs, text)
	case phaseAwaitingAnswer:
		e.submitAnswerLocked(chatID, cs, text)
	}
}

// Stop cancels the session unconditionally. The ledger is never touched.
func (e *Engine) Stop(chatID int64) {
	cs := e.chat(chatID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.sess == nil {
		e.sender.Send(chatID, msgNothingToStop, nil)
		return
	}
	e.destroyLocked(chatID, cs)
	e.sender.Send(chatID, msgStopped, nil)
}

// ShowLeaderboard is read-only and valid in any state.
func (e *Engine) ShowLeaderboard(chatID int64) {
	e.sender.Send(chatID, leaderboardText(e.board.Top(topSnapshotSize)), nil)
}

// OnTimeout is the timer controller's re-entry point. A handle that no
// longer matches the armed one means the user answered first (or the session
// ended); the firing is silently discarded.
func (e *Engine) OnTimeout(chatID int64, handle TimerHandle) {
	cs := e.chat(chatID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	sess := cs.sess
	if sess == nil || sess.phase != phaseAwaitingAnswer || sess.timer != handle {
		return
	}

	q := sess.questions[sess.index]
	e.sender.Send(chatID, fmt.Sprintf(msgTimeUp, q.Answer), nil)
	e.advanceLocked(chatID, cs)
}

func (e *Engine) chooseCategoryLocked(ctx context.Context, chatID int64, cs *chatState, text string) {
	categories, err := e.repo.Categories(ctx)
	if err != nil {
		e.log.Error().Err(err).Int64("chat_id", chatID).Msg("question load failed")
		e.sender.Send(chatID, msgNoQuestions, nil)
		return
	}

	text = strings.TrimSpace(text)
	if !containsString(categories, text) {
		e.sender.Send(chatID, msgUnknownCategory, categories)
		return
	}

	if text == domain.MixCategory {
		questions, err := e.repo.SelectMix(ctx, e.mix)
		if err != nil {
			e.log.Error().Err(err).Int64("chat_id", chatID).Msg("mix selection failed")
		}
		e.beginLocked(chatID, cs, questions)
		return
	}

	cs.sess.category = text
	cs.sess.phase = phaseAwaitingDifficulty
	e.sender.Send(chatID, msgChooseDifficulty, difficultyOptions())
}

func (e *Engine) chooseDifficultyLocked(ctx context.Context, chatID int64, cs *chatState, text string) {
	difficulty, ok := domain.ParseDifficulty(text)
	if !ok {
		e.sender.Send(chatID, msgUnknownDifficulty, difficultyOptions())
		return
	}

	questions, err := e.repo.Select(ctx, cs.sess.category, difficulty)
	if err != nil {
		e.log.Error().Err(err).Int64("chat_id", chatID).Msg("question selection failed")
	}
	cs.sess.difficulty = difficulty
	e.beginLocked(chatID, cs, questions)
}

// beginLocked enters AwaitingAnswer at question 0, or reports an empty
// selection and returns the chat to idle.
func (e *Engine) beginLocked(chatID int64, cs *chatState, questions []domain.Question) {
	if len(questions) == 0 {
		cs.sess = nil
		e.sender.Send(chatID, msgNoQuestions, nil)
		return
	}
	cs.sess.questions = questions
	cs.sess.index = 0
	cs.sess.score = 0
	cs.sess.phase = phaseAwaitingAnswer
	e.askLocked(chatID, cs)
}

func (e *Engine) submitAnswerLocked(chatID int64, cs *chatState, text string) {
	sess := cs.sess
	e.timers.Cancel(chatID, sess.timer)

	q := sess.questions[sess.index]
	if text == q.Answer {
		sess.score++
		e.sender.Send(chatID, msgCorrect, nil)
	} else {
		e.sender.Send(chatID, fmt.Sprintf(msgWrong, q.Answer), nil)
	}
	e.advanceLocked(chatID, cs)
}

func (e *Engine) advanceLocked(chatID int64, cs *chatState) {
	sess := cs.sess
	sess.index++
	if sess.index < len(sess.questions) {
		e.askLocked(chatID, cs)
		return
	}
	e.finishLocked(chatID, cs)
}

func (e *Engine) askLocked(chatID int64, cs *chatState) {
	sess := cs.sess
	q := sess.questions[sess.index]
	sess.timer = e.timers.Arm(chatID, q.Difficulty)
	text := fmt.Sprintf(msgQuestion, sess.index+1, len(sess.questions), q.Text)
	e.sender.Send(chatID, text, q.Options)
}

func (e *Engine) finishLocked(chatID int64, cs *chatState) {
	sess := cs.sess
	cs.sess = nil

	if err := e.board.Credit(sess.name, sess.score); err != nil {
		// the session outcome is still reported even if persistence failed
		e.log.Error().Err(err).Str("name", sess.name).Msg("ledger credit failed")
	}

	percentage := sess.score * 100 / len(sess.questions)
	var tier string
	switch {
	case percentage >= 80:
		tier = msgTierBest
	case percentage >= 50:
		tier = msgTierGood
	default:
		tier = msgTierTryAgain
	}

	var b strings.Builder
	fmt.Fprintf(&b, msgFinished, sess.score, len(sess.questions))
	b.WriteString("\n")
	b.WriteString(tier)
	b.WriteString("\n\n")
	b.WriteString(leaderboardText(e.board.Top(topSnapshotSize)))
	e.sender.Send(chatID, b.String(), nil)
}

// destroyLocked drops the session and its armed timer, if any.
func (e *Engine) destroyLocked(chatID int64, cs *chatState) {
	if cs.sess == nil {
		return
	}
	e.timers.Cancel(chatID, cs.sess.timer)
	cs.sess = nil
}

func difficultyOptions() []string {
	tiers := domain.Difficulties()
	out := make([]string, len(tiers))
	for i, d := range tiers {
		out[i] = string(d)
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func leaderboardText(entries []domain.LeaderboardEntry) string {
	if len(entries) == 0 {
		return msgLeaderboardEmpty
	}
	var b strings.Builder
	b.WriteString(msgLeaderboardHeader)
	for i, entry := range entries {
		medal := "🔸"
		switch i {
		case 0:
			medal = "🥇"
		case 1:
			medal = "🥈"
		case 2:
			medal = "🥉"
		}
		fmt.Fprintf(&b, "\n%s %d. %s — %d", medal, i+1, entry.Name, entry.Score)
	}
	return b.String()
}

const (
	msgStartHint         = "Сначала напиши /quiz, чтобы начать викторину."
	msgChooseCategory    = "Выбери категорию:"
	msgUnknownCategory   = "Такой категории нет. Выбери категорию с клавиатуры:"
	msgChooseDifficulty  = "Выбери сложность:"
	msgUnknownDifficulty = "Такой сложности нет. Выбери одну из трёх:"
	msgNoQuestions       = "Нет вопросов для этого выбора. Попробуй ещё раз: /quiz"
	msgQuestion          = "❓ Вопрос %d/%d\n\n%s"
	msgCorrect           = "✅ Правильно!"
	msgWrong             = "❌ Неверно. Правильный ответ: %s"
	msgTimeUp            = "⏰ Время вышло! Правильный ответ: %s"
	msgFinished          = "🏁 Игра окончена! Твой счёт: %d/%d"
	msgTierBest          = "🏆 Отличный результат!"
	msgTierGood          = "👍 Хороший результат!"
	msgTierTryAgain      = "Не расстраивайся, в следующий раз получится лучше!"
	msgStopped           = "Викторина остановлена. Счёт не сохранён."
	msgNothingToStop     = "Нет активной викторины. Напиши /quiz, чтобы начать."
	msgLeaderboardEmpty  = "🏆 Пока никто не играл. Будь первым!"
	msgLeaderboardHeader = "🏆 Топ игроков:"
)

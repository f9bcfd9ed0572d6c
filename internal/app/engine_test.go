package app_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tg-quiz-bot/internal/app"
	"tg-quiz-bot/internal/domain"
)

type sentMessage struct {
	chatID  int64
	text    string
	options []string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (s *fakeSender) Send(chatID int64, text string, options []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{chatID: chatID, text: text, options: options})
}

func (s *fakeSender) last(t *testing.T) sentMessage {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		t.Fatal("no messages sent")
	}
	return s.sent[len(s.sent)-1]
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type armedRecord struct {
	handle     app.TimerHandle
	difficulty domain.Difficulty
}

// fakeTimers records armed deadlines and lets tests fire them by hand.
type fakeTimers struct {
	mu    sync.Mutex
	next  app.TimerHandle
	armed map[int64]armedRecord
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{armed: make(map[int64]armedRecord)}
}

func (f *fakeTimers) Arm(chatID int64, difficulty domain.Difficulty) app.TimerHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.armed[chatID] = armedRecord{handle: f.next, difficulty: difficulty}
	return f.next
}

func (f *fakeTimers) Cancel(chatID int64, handle app.TimerHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.armed[chatID]; ok && cur.handle == handle {
		delete(f.armed, chatID)
	}
}

func (f *fakeTimers) current(t *testing.T, chatID int64) armedRecord {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.armed[chatID]
	if !ok {
		t.Fatalf("no armed timer for chat %d", chatID)
	}
	return rec
}

func (f *fakeTimers) armedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.armed)
}

type staticLoader struct {
	set domain.QuestionSet
	err error
}

func (l staticLoader) LoadQuestions(context.Context) (domain.QuestionSet, error) {
	return l.set, l.err
}

// memLedger is an in-memory ScoreLedger for engine tests.
type memLedger struct {
	mu      sync.Mutex
	entries []domain.LeaderboardEntry
	failErr error
}

func (l *memLedger) Credit(name string, points int) error {
	if points <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].Name == name {
			l.entries[i].Score += points
			return l.failErr
		}
	}
	l.entries = append(l.entries, domain.LeaderboardEntry{Name: name, Score: points})
	return l.failErr
}

func (l *memLedger) Top(n int) []domain.LeaderboardEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	sorted := make([]domain.LeaderboardEntry, len(l.entries))
	copy(sorted, l.entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

func networkingSet() domain.QuestionSet {
	return domain.QuestionSet{
		"Networking": {
			{
				Text:       "Какой порт у HTTPS?",
				Options:    []string{"443", "80", "22"},
				Answer:     "443",
				Category:   "Networking",
				Difficulty: domain.DifficultyEasy,
			},
			{
				Text:       "Что означает DNS?",
				Options:    []string{"Domain Name System", "Data Network Service"},
				Answer:     "Domain Name System",
				Category:   "Networking",
				Difficulty: domain.DifficultyEasy,
			},
			{
				Text:       "Сколько уровней в модели OSI?",
				Options:    []string{"5", "7"},
				Answer:     "7",
				Category:   "Networking",
				Difficulty: domain.DifficultyHard,
			},
		},
	}
}

type engineFixture struct {
	engine *app.Engine
	sender *fakeSender
	timers *fakeTimers
	ledger *memLedger
}

func newEngineFixture(set domain.QuestionSet, opts ...app.Option) *engineFixture {
	sender := &fakeSender{}
	timers := newFakeTimers()
	ledger := &memLedger{}
	repo := app.NewQuestionRepository(staticLoader{set: set}, time.Minute)
	feed := app.NewLeaderboardFeed(ledger)
	opts = append([]app.Option{app.WithTimers(timers)}, opts...)
	engine := app.NewEngine(repo, feed, sender, opts...)
	return &engineFixture{engine: engine, sender: sender, timers: timers, ledger: ledger}
}

const chatID = int64(42)

func (f *engineFixture) startToAnswering(t *testing.T, category, difficulty string) {
	t.Helper()
	ctx := context.Background()
	f.engine.StartQuiz(ctx, chatID, "Alice")
	f.engine.HandleText(ctx, chatID, "Alice", category)
	if difficulty != "" {
		f.engine.HandleText(ctx, chatID, "Alice", difficulty)
	}
}

func TestFullQuizCompletion(t *testing.T) {
	f := newEngineFixture(networkingSet())
	ctx := context.Background()

	f.engine.StartQuiz(ctx, chatID, "Alice")
	prompt := f.sender.last(t)
	require.Equal(t, "Выбери категорию:", prompt.text)
	require.Contains(t, prompt.options, "Networking")
	require.Contains(t, prompt.options, domain.MixCategory)

	f.engine.HandleText(ctx, chatID, "Alice", "Networking")
	prompt = f.sender.last(t)
	require.Equal(t, "Выбери сложность:", prompt.text)
	require.Equal(t, []string{"Лёгкий", "Средний", "Сложный"}, prompt.options)

	f.engine.HandleText(ctx, chatID, "Alice", "Лёгкий")
	question := f.sender.last(t)
	require.Contains(t, question.text, "Вопрос 1/2")
	require.Len(t, question.options, 3)
	require.Equal(t, 1, f.timers.armedCount())

	// both answers correct
	f.engine.HandleText(ctx, chatID, "Alice", "443")
	require.Contains(t, f.sender.last(t).text, "Вопрос 2/2")
	f.engine.HandleText(ctx, chatID, "Alice", "Domain Name System")

	final := f.sender.last(t)
	require.Contains(t, final.text, "2/2")
	require.Contains(t, final.text, "Отличный результат")
	require.Contains(t, final.text, "Alice")

	require.Equal(t, []domain.LeaderboardEntry{{Name: "Alice", Score: 2}}, f.ledger.Top(10))

	// session destroyed: free text now gets the start hint
	f.engine.HandleText(ctx, chatID, "Alice", "443")
	require.Contains(t, f.sender.last(t).text, "/quiz")
}

func TestWrongAnswerRevealsCorrectOne(t *testing.T) {
	f := newEngineFixture(networkingSet())
	f.startToAnswering(t, "Networking", "Лёгкий")
	ctx := context.Background()

	f.engine.HandleText(ctx, chatID, "Alice", "80")
	require.Contains(t, f.sender.sentText(1), "443")

	f.engine.HandleText(ctx, chatID, "Alice", "Data Network Service")
	final := f.sender.last(t)
	require.Contains(t, final.text, "0/2")
	require.Empty(t, f.ledger.Top(10), "score of zero must not touch the ledger")
}

func TestTimeoutAdvancesWithoutScore(t *testing.T) {
	f := newEngineFixture(networkingSet())
	f.startToAnswering(t, "Networking", "Сложный")

	rec := f.timers.current(t, chatID)
	require.Equal(t, domain.DifficultyHard, rec.difficulty)

	f.engine.OnTimeout(chatID, rec.handle)
	final := f.sender.last(t)
	require.Contains(t, final.text, "0/1")
	require.Empty(t, f.ledger.Top(10))

	timeoutMsg := f.sender.sentText(1)
	require.Contains(t, timeoutMsg, "Время вышло")
	require.Contains(t, timeoutMsg, "7")
}

func TestStaleTimeoutIsDiscarded(t *testing.T) {
	f := newEngineFixture(networkingSet())
	f.startToAnswering(t, "Networking", "Лёгкий")
	ctx := context.Background()

	stale := f.timers.current(t, chatID).handle
	f.engine.HandleText(ctx, chatID, "Alice", "443") // answer wins the race

	before := f.sender.count()
	f.engine.OnTimeout(chatID, stale)
	require.Equal(t, before, f.sender.count(), "stale firing must be a silent no-op")

	// the session is still on question 2 with a fresh timer
	require.NotEqual(t, stale, f.timers.current(t, chatID).handle)
}

func TestTimeoutAfterSessionEndIsDiscarded(t *testing.T) {
	f := newEngineFixture(networkingSet())
	f.startToAnswering(t, "Networking", "Лёгкий")

	handle := f.timers.current(t, chatID).handle
	f.engine.Stop(chatID)

	before := f.sender.count()
	f.engine.OnTimeout(chatID, handle)
	require.Equal(t, before, f.sender.count())
}

func TestStopDestroysSessionWithoutCredit(t *testing.T) {
	f := newEngineFixture(networkingSet())
	f.startToAnswering(t, "Networking", "Лёгкий")
	ctx := context.Background()

	f.engine.HandleText(ctx, chatID, "Alice", "443") // one point on the board
	f.engine.Stop(chatID)
	require.Contains(t, f.sender.last(t).text, "остановлена")
	require.Empty(t, f.ledger.Top(10))
	require.Equal(t, 0, f.timers.armedCount(), "stop must disarm the timer")

	// a fresh start is unaffected by the aborted run
	f.startToAnswering(t, "Networking", "Лёгкий")
	require.Contains(t, f.sender.last(t).text, "Вопрос 1/2")
}

func TestUnknownCategoryReprompts(t *testing.T) {
	f := newEngineFixture(networkingSet())
	ctx := context.Background()

	f.engine.StartQuiz(ctx, chatID, "Alice")
	f.engine.HandleText(ctx, chatID, "Alice", "Кулинария")
	prompt := f.sender.last(t)
	require.Contains(t, prompt.text, "Такой категории нет")
	require.Contains(t, prompt.options, "Networking")

	// state unchanged: a valid category still works
	f.engine.HandleText(ctx, chatID, "Alice", "Networking")
	require.Equal(t, "Выбери сложность:", f.sender.last(t).text)
}

func TestUnknownDifficultyReprompts(t *testing.T) {
	f := newEngineFixture(networkingSet())
	ctx := context.Background()

	f.engine.StartQuiz(ctx, chatID, "Alice")
	f.engine.HandleText(ctx, chatID, "Alice", "Networking")
	f.engine.HandleText(ctx, chatID, "Alice", "Невозможный")
	prompt := f.sender.last(t)
	require.Contains(t, prompt.text, "Такой сложности нет")
	require.Equal(t, []string{"Лёгкий", "Средний", "Сложный"}, prompt.options)

	// the е/ё spelling variant is accepted
	f.engine.HandleText(ctx, chatID, "Alice", "Легкий")
	require.Contains(t, f.sender.last(t).text, "Вопрос 1/2")
}

func TestEmptySelectionReportsNoQuestions(t *testing.T) {
	f := newEngineFixture(networkingSet())
	ctx := context.Background()

	f.engine.StartQuiz(ctx, chatID, "Alice")
	f.engine.HandleText(ctx, chatID, "Alice", "Networking")
	f.engine.HandleText(ctx, chatID, "Alice", "Средний") // no medium questions exist
	require.Contains(t, f.sender.last(t).text, "Нет вопросов")

	// session destroyed, chat is idle again
	f.engine.HandleText(ctx, chatID, "Alice", "443")
	require.Contains(t, f.sender.last(t).text, "/quiz")
}

func TestRandomMixSkipsDifficulty(t *testing.T) {
	set := domain.QuestionSet{}
	for c := 0; c < 3; c++ {
		category := fmt.Sprintf("Категория %d", c)
		for i := 0; i < 10; i++ {
			set[category] = append(set[category], domain.Question{
				Text:       fmt.Sprintf("%s вопрос %d", category, i),
				Options:    []string{"да", "нет"},
				Answer:     "да",
				Category:   category,
				Difficulty: domain.DifficultyMedium,
			})
		}
	}
	f := newEngineFixture(set, app.WithMixRange(app.MixRange{Min: 3, Max: 5}))
	ctx := context.Background()

	f.engine.StartQuiz(ctx, chatID, "Alice")
	f.engine.HandleText(ctx, chatID, "Alice", domain.MixCategory)

	question := f.sender.last(t)
	require.Regexp(t, `Вопрос 1/[3-5]`, question.text)
	require.Equal(t, 1, f.timers.armedCount())
}

func TestRestartReplacesSession(t *testing.T) {
	f := newEngineFixture(networkingSet())
	f.startToAnswering(t, "Networking", "Лёгкий")
	ctx := context.Background()

	old := f.timers.current(t, chatID).handle
	f.engine.StartQuiz(ctx, chatID, "Alice")

	require.Equal(t, 0, f.timers.armedCount(), "prior timer must be cancelled")
	require.Equal(t, "Выбери категорию:", f.sender.last(t).text)

	before := f.sender.count()
	f.engine.OnTimeout(chatID, old)
	require.Equal(t, before, f.sender.count())
}

func TestIdleTextGetsStartHint(t *testing.T) {
	f := newEngineFixture(networkingSet())
	f.engine.HandleText(context.Background(), chatID, "Alice", "привет")
	require.Contains(t, f.sender.last(t).text, "/quiz")
}

func TestLedgerFailureStillReportsResult(t *testing.T) {
	f := newEngineFixture(networkingSet())
	f.ledger.failErr = fmt.Errorf("disk full")
	f.startToAnswering(t, "Networking", "Лёгкий")
	ctx := context.Background()

	f.engine.HandleText(ctx, chatID, "Alice", "443")
	f.engine.HandleText(ctx, chatID, "Alice", "Domain Name System")
	require.Contains(t, f.sender.last(t).text, "2/2")
}

func TestShowLeaderboard(t *testing.T) {
	f := newEngineFixture(networkingSet())
	require.NoError(t, f.ledger.Credit("Bob", 5))
	require.NoError(t, f.ledger.Credit("Alice", 3))

	f.engine.ShowLeaderboard(chatID)
	text := f.sender.last(t).text
	require.Contains(t, text, "Топ игроков")
	require.Less(t, strings.Index(text, "Bob"), strings.Index(text, "Alice"))
}

func TestLoadFailureSurfacesAsNoQuestions(t *testing.T) {
	sender := &fakeSender{}
	repo := app.NewQuestionRepository(staticLoader{err: domain.ErrDataUnavailable}, time.Minute)
	engine := app.NewEngine(repo, app.NewLeaderboardFeed(&memLedger{}), sender, app.WithTimers(newFakeTimers()))

	engine.StartQuiz(context.Background(), chatID, "Alice")
	require.Contains(t, sender.last(t).text, "Нет вопросов")
}

// sentText returns the text of the n-th message counted from the end
// (1 = the one before last).
func (s *fakeSender) sentText(fromEnd int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1-fromEnd].text
}

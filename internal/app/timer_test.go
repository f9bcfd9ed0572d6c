package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tg-quiz-bot/internal/domain"
)

type firing struct {
	chatID int64
	handle TimerHandle
}

func newTestController(d time.Duration) (*TimerController, chan firing) {
	fired := make(chan firing, 8)
	c := NewTimerController(func(chatID int64, handle TimerHandle) {
		fired <- firing{chatID: chatID, handle: handle}
	})
	c.timeoutFor = func(domain.Difficulty) time.Duration { return d }
	return c, fired
}

func TestTimerFiresOnce(t *testing.T) {
	c, fired := newTestController(10 * time.Millisecond)

	handle := c.Arm(1, domain.DifficultyEasy)

	select {
	case f := <-fired:
		require.Equal(t, int64(1), f.chatID)
		require.Equal(t, handle, f.handle)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}

	select {
	case <-fired:
		t.Fatal("timer fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	c, fired := newTestController(20 * time.Millisecond)

	handle := c.Arm(1, domain.DifficultyEasy)
	c.Cancel(1, handle)

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	c, fired := newTestController(10 * time.Millisecond)

	handle := c.Arm(1, domain.DifficultyEasy)
	c.Cancel(1, handle)
	c.Cancel(1, handle) // second cancel is a no-op
	c.Cancel(2, handle) // unknown chat is a no-op too

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(50 * time.Millisecond):
	}

	// cancelling after a fire must also be harmless
	h2 := c.Arm(1, domain.DifficultyEasy)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	c.Cancel(1, h2)
}

func TestRearmReplacesExistingTimer(t *testing.T) {
	c, fired := newTestController(20 * time.Millisecond)

	h1 := c.Arm(1, domain.DifficultyEasy)
	h2 := c.Arm(1, domain.DifficultyEasy)
	require.NotEqual(t, h1, h2)

	// at most one armed timer per chat: only the second may fire
	select {
	case f := <-fired:
		require.Equal(t, h2, f.handle)
	case <-time.After(time.Second):
		t.Fatal("replacement timer never fired")
	}
	select {
	case <-fired:
		t.Fatal("replaced timer fired as well")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChatsFireIndependently(t *testing.T) {
	c, fired := newTestController(10 * time.Millisecond)

	h1 := c.Arm(1, domain.DifficultyEasy)
	h2 := c.Arm(2, domain.DifficultyEasy)

	got := make(map[int64]TimerHandle)
	for i := 0; i < 2; i++ {
		select {
		case f := <-fired:
			got[f.chatID] = f.handle
		case <-time.After(time.Second):
			t.Fatal("missing firing")
		}
	}
	require.Equal(t, h1, got[1])
	require.Equal(t, h2, got[2])
}

func TestTimeoutDurationsFollowDifficulty(t *testing.T) {
	c := NewTimerController(func(int64, TimerHandle) {})
	require.Equal(t, 10*time.Second, c.timeoutFor(domain.DifficultyEasy))
	require.Equal(t, 20*time.Second, c.timeoutFor(domain.DifficultyMedium))
	require.Equal(t, 30*time.Second, c.timeoutFor(domain.DifficultyHard))
	require.Equal(t, 20*time.Second, c.timeoutFor(domain.Difficulty("непонятный")))
}

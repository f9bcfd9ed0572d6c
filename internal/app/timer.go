package app

import (
	"sync"
	"time"

	"tg-quiz-bot/internal/domain"
)

// TimerHandle identifies one armed timer instance. A later Arm for the same
// chat produces a different handle, which is how stale firings are detected.
type TimerHandle uint64

// Timers schedules the per-question answer deadline for each chat.
type Timers interface {
	// Arm schedules a single-shot deadline derived from the question's
	// difficulty, cancelling any timer already armed for the chat.
	Arm(chatID int64, difficulty domain.Difficulty) TimerHandle
	// Cancel stops the timer if it is still the armed one. Idempotent:
	// cancelling a fired or replaced handle is a no-op.
	Cancel(chatID int64, handle TimerHandle)
}

// TimerController is the production Timers implementation backed by
// time.AfterFunc. The fired callback re-enters the engine as just another
// inbound event; cancellation only prevents future firings, so a firing that
// already ran still reaches the engine and is discarded there by handle check.
type TimerController struct {
	fire       func(chatID int64, handle TimerHandle)
	timeoutFor func(domain.Difficulty) time.Duration

	mu    sync.Mutex
	next  uint64
	armed map[int64]armedTimer
}

type armedTimer struct {
	handle TimerHandle
	timer  *time.Timer
}

// NewTimerController builds a controller that invokes fire when a deadline
// elapses without being cancelled.
func NewTimerController(fire func(chatID int64, handle TimerHandle)) *TimerController {
	return &TimerController{
		fire:       fire,
		timeoutFor: domain.Difficulty.Timeout,
		armed:      make(map[int64]armedTimer),
	}
}

func (c *TimerController) Arm(chatID int64, difficulty domain.Difficulty) TimerHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.armed[chatID]; ok {
		prev.timer.Stop()
		delete(c.armed, chatID)
	}

	c.next++
	handle := TimerHandle(c.next)
	c.armed[chatID] = armedTimer{
		handle: handle,
		timer: time.AfterFunc(c.timeoutFor(difficulty), func() {
			c.fired(chatID, handle)
			c.fire(chatID, handle)
		}),
	}
	return handle
}

func (c *TimerController) Cancel(chatID int64, handle TimerHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.armed[chatID]
	if !ok || cur.handle != handle {
		return
	}
	cur.timer.Stop()
	delete(c.armed, chatID)
}

func (c *TimerController) fired(chatID int64, handle TimerHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.armed[chatID]; ok && cur.handle == handle {
		delete(c.armed, chatID)
	}
}

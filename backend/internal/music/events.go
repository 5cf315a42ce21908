package music

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Event identifies a playback lifecycle event dispatched by the transport.
type Event int

const (
	// TrackStarted fires when a track begins playing.
	TrackStarted Event = iota
	// TrackFinished fires when a track plays to completion.
	TrackFinished
	// TrackSkipped fires when a track is skipped by a user.
	TrackSkipped
)

func (e Event) String() string {
	switch e {
	case TrackStarted:
		return "track_started"
	case TrackFinished:
		return "track_finished"
	case TrackSkipped:
		return "track_skipped"
	default:
		return "unknown"
	}
}

// Handler processes one playback event. Handlers must be idempotent: the
// transport may redeliver an event after a reconnect.
type Handler func(ctx context.Context, bot *Bot, track Track)

// Bus dispatches playback events to registered handlers. Registration is
// explicit so wiring and teardown stay testable. Each handler runs
// fault-isolated: a panic is logged and never reaches the playback loop.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Event][]Handler
	logger   *zap.Logger
}

// NewBus creates an empty event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[Event][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event.
func (b *Bus) Subscribe(e Event, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[e] = append(b.handlers[e], h)
}

// Publish invokes every handler registered for the event, in registration
// order, on the calling goroutine.
func (b *Bus) Publish(ctx context.Context, e Event, bot *Bot, track Track) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[e]))
	copy(handlers, b.handlers[e])
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(ctx, e, h, bot, track)
	}
}

func (b *Bus) invoke(ctx context.Context, e Event, h Handler, bot *Bot, track Track) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.Stringer("event", e),
				zap.String("guild_id", bot.GuildID),
				zap.Any("panic", r),
			)
		}
	}()
	h(ctx, bot, track)
}

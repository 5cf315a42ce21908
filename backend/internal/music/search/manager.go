package search

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cadence/backend/internal/music"
)

// Request describes one resolve call.
type Request struct {
	Query     string
	Requester string
	Preferred string // engine name to try first; empty means the configured primary
}

// Manager runs the resolve state machine: the preferred engine with bounded
// retries, then a fixed-order fallback cascade. Attempts are strictly
// sequential. Parallel fan-out would let a slow secondary race an
// already-successful primary and would double-hit per-backend rate limits.
type Manager struct {
	engines        []Engine
	fallbackOrder  []Engine
	classifier     *Classifier
	logger         *zap.Logger
	maxRetries     int
	retryDelay     time.Duration
	attemptTimeout time.Duration
	totalTimeout   time.Duration
	sleep          func(ctx context.Context, d time.Duration) bool
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	MaxRetries     int           // same-engine attempts, default 3
	RetryDelay     time.Duration // base backoff, scaled linearly per attempt, default 1s
	AttemptTimeout time.Duration // per fallback attempt, default 5s
	TotalTimeout   time.Duration // whole resolve call, default 15s
}

// NewManager creates a manager over the given engines. The first engine is
// the default primary. The fallback cascade visits every other engine,
// non-YouTube engines first: YouTube-specific metadata-parsing faults are the
// dominant failure mode, so when the primary is broken its siblings usually
// are too.
func NewManager(engines []Engine, classifier *Classifier, logger *zap.Logger, opts ManagerOptions) *Manager {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 5 * time.Second
	}
	if opts.TotalTimeout <= 0 {
		opts.TotalTimeout = 15 * time.Second
	}

	m := &Manager{
		engines:        engines,
		classifier:     classifier,
		logger:         logger,
		maxRetries:     opts.MaxRetries,
		retryDelay:     opts.RetryDelay,
		attemptTimeout: opts.AttemptTimeout,
		totalTimeout:   opts.TotalTimeout,
		sleep:          sleepCtx,
	}
	m.fallbackOrder = orderFallbacks(engines)
	return m
}

// orderFallbacks partitions engines into non-YouTube then YouTube-family,
// preserving relative order within each group.
func orderFallbacks(engines []Engine) []Engine {
	var others, youtube []Engine
	for _, e := range engines {
		if isYouTubeFamily(e) {
			youtube = append(youtube, e)
		} else {
			others = append(others, e)
		}
	}
	return append(others, youtube...)
}

func isYouTubeFamily(e Engine) bool {
	type family interface{ YouTubeFamily() bool }
	if f, ok := e.(family); ok {
		return f.YouTubeFamily()
	}
	return false
}

func (m *Manager) engineByName(name string) Engine {
	for _, e := range m.engines {
		if e.Name() == name {
			return e
		}
	}
	return nil
}

// Resolve runs the state machine for one query. It never returns an error;
// failures are folded into the Outcome with a user-facing message.
func (m *Manager) Resolve(ctx context.Context, req Request) Outcome {
	requestID := uuid.NewString()
	log := m.logger.With(
		zap.String("request_id", requestID),
		zap.String("query", req.Query),
	)

	primary := m.engineByName(req.Preferred)
	if primary == nil {
		if len(m.engines) == 0 {
			return Outcome{Status: StatusFailed, RequestID: requestID, Message: "no search engines configured"}
		}
		primary = m.engines[0]
	}

	ctx, cancel := context.WithTimeout(ctx, m.totalTimeout)
	defer cancel()

	opts := Options{Requester: req.Requester}
	attempts := 0
	var lastErr error

	// Primary engine with bounded same-engine retries.
	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return m.timedOut(requestID, attempts, log)
		}
		attempts++
		tracks, err := m.attempt(ctx, primary, req.Query, opts, 0)
		if err == nil && len(tracks) > 0 {
			log.Info("search resolved",
				zap.String("engine", primary.Name()),
				zap.Int("attempts", attempts),
				zap.Int("results", len(tracks)),
			)
			return Outcome{Status: StatusSucceeded, Tracks: tracks, Engine: primary.Name(), Attempts: attempts, RequestID: requestID}
		}
		if err == nil {
			// Backend answered with nothing; its siblings may know better.
			break
		}

		lastErr = err
		class := m.classifier.Classify(err)
		log.Warn("search attempt failed",
			zap.String("engine", primary.Name()),
			zap.Int("attempt", attempt),
			zap.Bool("parser_fault", class.ParserFault),
			zap.Bool("retryable", class.RetrySameEngine),
			zap.Error(err),
		)

		if class.ParserFault {
			// A schema fault will fail identically on retry.
			break
		}
		if !class.RetrySameEngine {
			if class.Cascade {
				break
			}
			// Unrecognized failure: give up rather than risk an
			// infinite-seeming retry loop against an unknown condition.
			return Outcome{
				Status:    StatusFailed,
				Attempts:  attempts,
				RequestID: requestID,
				Message:   "search failed, please try again",
			}
		}
		if attempt < m.maxRetries {
			if !m.sleep(ctx, m.retryDelay*time.Duration(attempt)) {
				return m.timedOut(requestID, attempts, log)
			}
		}
	}

	// Fallback cascade, fixed order, one attempt each.
	for _, engine := range m.fallbackOrder {
		if engine == primary {
			continue
		}
		if ctx.Err() != nil {
			return m.timedOut(requestID, attempts, log)
		}
		attempts++
		tracks, err := m.attempt(ctx, engine, req.Query, opts, m.attemptTimeout)
		if err == nil && len(tracks) > 0 {
			log.Info("search resolved via fallback",
				zap.String("engine", engine.Name()),
				zap.Int("attempts", attempts),
				zap.Int("results", len(tracks)),
			)
			return Outcome{Status: StatusSucceeded, Tracks: tracks, Engine: engine.Name(), Attempts: attempts, RequestID: requestID}
		}
		if err != nil {
			lastErr = err
			log.Warn("fallback engine failed",
				zap.String("engine", engine.Name()),
				zap.Error(err),
			)
		}
	}

	if ctx.Err() != nil {
		return m.timedOut(requestID, attempts, log)
	}

	message := "no results found for your search"
	if lastErr != nil {
		message = failureMessage(m.classifier.Classify(lastErr))
	}
	log.Warn("search exhausted all engines", zap.Int("attempts", attempts), zap.Error(lastErr))
	return Outcome{Status: StatusFailed, Attempts: attempts, RequestID: requestID, Message: message}
}

// attempt runs one engine call. With a non-zero timeout the call gets its own
// deadline independent of the overall budget. The engine runs on a separate
// goroutine writing to a buffered channel, so a late response to an abandoned
// attempt is discarded instead of leaking the goroutine forever.
func (m *Manager) attempt(ctx context.Context, engine Engine, query string, opts Options, timeout time.Duration) ([]music.Track, error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		tracks []music.Track
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		tracks, err := engine.Search(attemptCtx, query, opts)
		ch <- result{tracks, err}
	}()

	select {
	case r := <-ch:
		return r.tracks, r.err
	case <-attemptCtx.Done():
		return nil, attemptCtx.Err()
	}
}

func (m *Manager) timedOut(requestID string, attempts int, log *zap.Logger) Outcome {
	log.Warn("search timed out", zap.Int("attempts", attempts), zap.Duration("budget", m.totalTimeout))
	return Outcome{
		Status:    StatusFailed,
		Attempts:  attempts,
		RequestID: requestID,
		Message:   "search timed out, please try again",
	}
}

func failureMessage(class Classification) string {
	switch {
	case class.ParserFault:
		return "the search backend returned an unreadable response, please try again later"
	case class.RetrySameEngine:
		return "the search backend is not responding, please try again"
	default:
		return "search failed, please try again"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

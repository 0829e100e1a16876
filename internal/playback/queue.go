package playback

import (
	"context"
	"sync"

	"github.com/lucianHymer/speech-coach/internal/logger"
	"github.com/lucianHymer/speech-coach/internal/metrics"
)

// Player plays one response clip and returns when it finishes, fails or
// ctx is cancelled
type Player interface {
	Play(ctx context.Context, ref string) error
}

// Queue plays references strictly one after another in arrival order.
// A failed item is logged and skipped.
type Queue struct {
	player  Player
	logger  *logger.ContextLogger
	metrics *metrics.Metrics

	mu      sync.Mutex
	items   []string
	current string
	playing bool
	gen     uint64
	cancel  context.CancelFunc
	done    chan struct{} // closed when the last drain goroutine exits
}

// NewQueue creates an empty queue
func NewQueue(player Player, log *logger.Logger, m *metrics.Metrics) *Queue {
	if log == nil {
		log = logger.Discard()
	}
	done := make(chan struct{})
	close(done)

	return &Queue{
		player:  player,
		logger:  log.With("playback"),
		metrics: m,
		done:    done,
	}
}

// Enqueue appends ref and starts draining if idle. It never blocks on playback.
func (q *Queue) Enqueue(ref string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, ref)
	q.metrics.SetPlaybackQueued(len(q.items))
	q.logger.Debug("Queued %s (%d waiting)", ref, len(q.items))

	if q.playing {
		return
	}
	q.playing = true

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel

	prev := q.done
	done := make(chan struct{})
	q.done = done

	go q.drain(ctx, q.gen, prev, done)
}

func (q *Queue) drain(ctx context.Context, gen uint64, prev <-chan struct{}, done chan struct{}) {
	defer close(done)

	// A drain from before the last Stop may still be unwinding
	<-prev

	for {
		q.mu.Lock()
		if gen != q.gen || len(q.items) == 0 {
			if gen == q.gen {
				q.playing = false
				q.current = ""
			}
			q.mu.Unlock()
			return
		}
		ref := q.items[0]
		q.items = q.items[1:]
		q.current = ref
		q.metrics.SetPlaybackQueued(len(q.items))
		q.mu.Unlock()

		err := q.player.Play(ctx, ref)
		if ctx.Err() != nil {
			q.logger.Debug("Playback of %s interrupted", ref)
			continue
		}
		q.metrics.RecordPlayback(err)
		if err != nil {
			q.logger.Warn("Failed to play %s: %v", ref, err)
			continue
		}
		q.logger.Debug("Finished %s", ref)
	}
}

// Stop clears pending items and interrupts the current one.
// Idempotent and safe to call from a Player.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := len(q.items)
	q.items = nil
	q.current = ""
	q.playing = false
	q.gen++
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
	q.metrics.SetPlaybackQueued(0)

	if dropped > 0 {
		q.logger.Info("Playback stopped, dropped %d queued clips", dropped)
	}
}

// Playing reports whether an item is being played or about to be
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Current returns the reference being played, if any
func (q *Queue) Current() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// Len returns the number of items waiting behind the current one
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

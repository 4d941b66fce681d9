package infinity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/time/rate"

	"github.com/orneryd/boutinf/pkg/logging"
	"github.com/orneryd/boutinf/pkg/message"
)

// ErrMuxClosed is returned by Submit after Close.
var ErrMuxClosed = errors.New("infinity: mux closed")

// SeeFunc indexes one message.
type SeeFunc func(ctx context.Context, msg message.Message) error

// MuxOptions configure a Mux.
type MuxOptions struct {
	// Workers is the number of goroutines seeing messages. Default 4.
	Workers int
	// QueueSize bounds the messages waiting across all workers. Default 1024.
	QueueSize int
	// RatePerSecond caps Submit; zero means unlimited.
	RatePerSecond float64
	// Retries is how many times a failed message is tried again. Default 3;
	// negative disables retries.
	Retries int
	Logger  *logging.Logger
}

// MuxStats describes the ingestion pool.
type MuxStats struct {
	Workers   int           `json:"workers"`
	Pending   int64         `json:"pending"`
	Processed uint64        `json:"processed"`
	Failed    uint64        `json:"failed"`
	Retried   uint64        `json:"retried"`
	AvgTime   time.Duration `json:"avg_time"`
}

type task struct {
	ctx     context.Context
	msg     message.Message
	who     []string
	attempt int
}

// Mux sees messages in the background.
//
// Messages of the same bout always land on the same worker, so they are seen
// in submission order. With a single worker the whole stream is ordered.
type Mux struct {
	see     SeeFunc
	opts    MuxOptions
	log     *logging.Logger
	limiter *rate.Limiter

	queues []chan task
	wg     sync.WaitGroup

	mu     sync.RWMutex // guards closed against sends
	closed bool

	wmu     sync.Mutex
	waiting map[string]*atomic.Int64

	pending   atomic.Int64
	processed atomic.Uint64
	failed    atomic.Uint64
	retried   atomic.Uint64
	avgNanos  atomic.Int64
}

// NewMux starts the workers.
func NewMux(see SeeFunc, opts MuxOptions) *Mux {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	} else if opts.Retries == 0 {
		opts.Retries = 3
	}
	m := &Mux{
		see:     see,
		opts:    opts,
		log:     logging.OrNoop(opts.Logger).WithComponent("mux"),
		queues:  make([]chan task, opts.Workers),
		waiting: make(map[string]*atomic.Int64),
	}
	if opts.RatePerSecond > 0 {
		burst := int(opts.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	depth := opts.QueueSize / opts.Workers
	if depth < 1 {
		depth = 1
	}
	for i := range m.queues {
		m.queues[i] = make(chan task, depth)
		m.wg.Add(1)
		go m.worker(m.queues[i])
	}
	return m
}

// Submit queues msg. It blocks while the worker's queue is full or the rate
// limit is exceeded, until ctx is done.
func (m *Mux) Submit(ctx context.Context, msg message.Message) error {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("infinity: submit %d: %w", msg.ID, err)
		}
	}
	t := task{ctx: context.WithoutCancel(ctx), msg: msg, who: dependants(msg)}
	return m.enqueue(ctx, t)
}

func (m *Mux) enqueue(ctx context.Context, t task) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrMuxClosed
	}
	if t.attempt == 0 {
		m.pending.Add(1)
		m.track(t.who, 1)
	}
	select {
	case m.queues[m.shard(t.msg)] <- t:
		return nil
	case <-ctx.Done():
		if t.attempt == 0 {
			m.pending.Add(-1)
			m.track(t.who, -1)
		}
		return fmt.Errorf("infinity: submit %d: %w", t.msg.ID, ctx.Err())
	}
}

func (m *Mux) shard(msg message.Message) int {
	key := msg.Bout.ID
	if key == 0 {
		key = msg.ID
	}
	var buf [20]byte
	h := xxhash.Sum64(strconv.AppendUint(buf[:0], key, 10))
	return int(h % uint64(len(m.queues)))
}

// dependants are the identities waiting for msg to be indexed.
func dependants(msg message.Message) []string {
	who := make([]string, 0, len(msg.Bout.Participants)+1)
	if msg.Author != "" {
		who = append(who, msg.Author)
	}
	for _, p := range msg.Bout.Participants {
		if p != "" && p != msg.Author {
			who = append(who, p)
		}
	}
	return who
}

func (m *Mux) track(who []string, delta int64) {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	for _, w := range who {
		c, ok := m.waiting[w]
		if !ok {
			if delta < 0 {
				continue
			}
			c = new(atomic.Int64)
			m.waiting[w] = c
		}
		if c.Add(delta) <= 0 {
			delete(m.waiting, w)
		}
	}
}

func (m *Mux) worker(queue chan task) {
	defer m.wg.Done()
	for t := range queue {
		m.run(t)
	}
}

func (m *Mux) run(t task) {
	start := time.Now()
	err := m.see(t.ctx, t.msg)
	m.observe(time.Since(start))

	if err != nil && t.attempt < m.opts.Retries {
		t.attempt++
		m.retried.Add(1)
		m.log.Warn("message resubmitted",
			"msg", t.msg.ID,
			"attempt", t.attempt,
			"error", err,
		)
		// Re-queue without blocking the worker on its own queue.
		select {
		case m.queues[m.shard(t.msg)] <- t:
			return
		default:
			err = fmt.Errorf("queue full on retry: %w", err)
		}
	}
	if err != nil {
		m.failed.Add(1)
		m.log.Error("message dropped",
			"msg", t.msg.ID,
			"attempts", t.attempt+1,
			"error", err,
		)
	} else {
		m.processed.Add(1)
	}
	m.track(t.who, -1)
	m.pending.Add(-1)
}

// observe keeps an exponential moving average of task durations.
func (m *Mux) observe(d time.Duration) {
	for {
		old := m.avgNanos.Load()
		next := int64(d)
		if old != 0 {
			next = old + (int64(d)-old)/8
		}
		if m.avgNanos.CompareAndSwap(old, next) {
			return
		}
	}
}

// Pending is how many submitted messages are not seen yet.
func (m *Mux) Pending() int64 { return m.pending.Load() }

// ETA estimates how long until every message involving who is indexed. It
// is zero when nothing involving who is waiting.
func (m *Mux) ETA(who string) time.Duration {
	m.wmu.Lock()
	c, ok := m.waiting[who]
	m.wmu.Unlock()
	if !ok || c.Load() <= 0 {
		return 0
	}
	return time.Duration(m.pending.Load()*m.avgNanos.Load()) / time.Duration(len(m.queues))
}

// Drain waits until every submitted message has been seen.
func (m *Mux) Drain(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for m.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("infinity: drain with %d pending: %w", m.pending.Load(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// Stats returns pool counters.
func (m *Mux) Stats() MuxStats {
	return MuxStats{
		Workers:   len(m.queues),
		Pending:   m.pending.Load(),
		Processed: m.processed.Load(),
		Failed:    m.failed.Load(),
		Retried:   m.retried.Load(),
		AvgTime:   time.Duration(m.avgNanos.Load()),
	}
}

func (m *Mux) String() string {
	s := m.Stats()
	return fmt.Sprintf("%d workers, %d waiting, %d seen, %d failed, %s avg",
		s.Workers, s.Pending, s.Processed, s.Failed, s.AvgTime)
}

// Close stops accepting messages and waits for the queued ones.
func (m *Mux) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	// retries may still be queued by workers; let them drain first
	for m.pending.Load() > 0 {
		time.Sleep(time.Millisecond)
	}
	for _, q := range m.queues {
		close(q)
	}
	m.wg.Wait()
	m.log.Info("mux stopped",
		"processed", m.processed.Load(),
		"failed", m.failed.Load(),
	)
}

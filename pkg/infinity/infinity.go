// Package infinity is the message index engine: it owns the ray, the triple
// store, the motors and the query builder, ingests messages in the
// background and answers paged queries.
//
// Example:
//
//	cfg, _ := config.Load("")
//	inf, err := infinity.Open(cfg, logging.New("info", "text", nil))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inf.Close()
//
//	inf.See(ctx, msg)
//	page, err := inf.Messages(ctx, "(talks-with 'urn:test:jeff')", 0, 0)
package infinity

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/orneryd/boutinf/pkg/cache"
	"github.com/orneryd/boutinf/pkg/config"
	"github.com/orneryd/boutinf/pkg/logging"
	"github.com/orneryd/boutinf/pkg/message"
	"github.com/orneryd/boutinf/pkg/motor"
	"github.com/orneryd/boutinf/pkg/pool"
	"github.com/orneryd/boutinf/pkg/query"
	"github.com/orneryd/boutinf/pkg/ray"
	"github.com/orneryd/boutinf/pkg/snapshot"
	"github.com/orneryd/boutinf/pkg/triples"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("infinity: closed")

// Stats is a snapshot of engine counters.
type Stats struct {
	Ray           ray.Stats     `json:"ray"`
	Mux           MuxStats      `json:"mux"`
	Cache         cache.Stats   `json:"cache"`
	Triples       triples.Stats `json:"triples"`
	MotorFailures uint64        `json:"motor_failures"`
}

// Infinity is the engine.
type Infinity struct {
	cfg *config.Config
	log *logging.Logger

	store        *triples.Store
	ray          *ray.Ray
	motors       *motor.Set
	participants *motor.Participants
	builder      *query.Builder
	mux          *Mux
	metrics      *metrics

	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// Open builds an engine from cfg. The ray lives under <data_dir>/ray and
// the triple store under <data_dir>/triples.
func Open(cfg *config.Config, log *logging.Logger) (*Infinity, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("infinity: config: %w", err)
	}
	log = logging.OrNoop(log)
	pool.Configure(pool.PoolConfig{Enabled: cfg.Memory.PoolEnabled, MaxSize: 4096})

	dir, err := snapshot.EnsureDirectory(filepath.Join(cfg.Storage.DataDir, "ray"))
	if err != nil {
		return nil, fmt.Errorf("infinity: %w", err)
	}

	topts := triples.Options{
		InMemory:       cfg.Storage.InMemoryTriples,
		SyncWrites:     cfg.Storage.SyncWrites,
		Logger:         log.Badger(),
		BlockCacheSize: cfg.Storage.BlockCacheBytes,
	}
	if !topts.InMemory {
		topts.DataDir = filepath.Join(cfg.Storage.DataDir, "triples")
	}
	store, err := triples.Open(topts)
	if err != nil {
		return nil, fmt.Errorf("infinity: %w", err)
	}

	r, err := ray.Open(dir, ray.Options{
		LatticeRebuild: cfg.Index.LatticeRebuild,
		SnapshotKeep:   cfg.Index.SnapshotKeep,
		Logger:         log,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("infinity: %w", err)
	}

	inf := &Infinity{cfg: cfg, log: log.WithComponent("infinity"), store: store, ray: r}
	if err := inf.registerMotors(log); err != nil {
		r.Close()
		store.Close()
		return nil, fmt.Errorf("infinity: %w", err)
	}
	inf.builder = query.NewBuilder(r, inf.motors, query.BuilderOptions{
		CacheSize: cfg.Query.CacheSize,
		CacheTTL:  cfg.Query.CacheTTL,
		Logger:    log,
	})
	inf.mux = NewMux(inf.see, MuxOptions{
		Workers:       cfg.Ingest.Workers,
		QueueSize:     cfg.Ingest.QueueSize,
		RatePerSecond: cfg.Ingest.RatePerSecond,
		Logger:        log,
	})
	inf.metrics = newMetrics(inf.mux)
	inf.motors.OnFailure = func(name string) {
		inf.metrics.motorFailures.WithLabelValues(name).Inc()
	}

	ctx, cancel := context.WithCancel(context.Background())
	inf.stop = cancel
	if cfg.Index.FlushInterval > 0 {
		inf.wg.Add(1)
		go inf.flusher(ctx, cfg.Index.FlushInterval)
	}

	inf.log.Info("engine opened", "config", cfg.String(), "ids", r.Len())
	return inf, nil
}

// registerMotors installs the motors in the order they resolve operators.
func (i *Infinity) registerMotors(log *logging.Logger) error {
	i.motors = motor.NewSet(log)
	vars, err := motor.NewVars(i.ray)
	if err != nil {
		return err
	}
	texts, err := motor.NewTexts(i.ray)
	if err != nil {
		return err
	}
	participants, err := motor.NewParticipants(i.store)
	if err != nil {
		return err
	}
	i.participants = participants
	bundles, err := motor.NewBundles(i.ray, i.store)
	if err != nil {
		return err
	}
	for _, m := range []motor.Motor{vars, texts, motor.NewXML(i.store), participants, bundles} {
		if err := i.motors.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// Register adds a motor after the built-in ones.
func (i *Infinity) Register(m motor.Motor) error {
	if i.closed.Load() {
		return ErrClosed
	}
	return i.motors.Register(m)
}

// See queues msg for indexing. It returns once the message is queued; use
// Drain to wait until it is searchable.
func (i *Infinity) See(ctx context.Context, msg message.Message) error {
	if i.closed.Load() {
		return ErrClosed
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return i.mux.Submit(ctx, msg)
}

// see runs on a mux worker.
func (i *Infinity) see(ctx context.Context, msg message.Message) error {
	if _, err := i.ray.Msg(msg.ID); err != nil {
		return err
	}
	i.motors.SeeAll(ctx, msg)
	i.metrics.ingested.Inc()
	return nil
}

// Drain waits until every queued message is indexed.
func (i *Infinity) Drain(ctx context.Context) error {
	return i.mux.Drain(ctx)
}

// ETA estimates how long until the messages involving who are indexed.
func (i *Infinity) ETA(who string) time.Duration {
	return i.mux.ETA(who)
}

// Bout returns the bout a message belongs to.
func (i *Infinity) Bout(id uint64) (uint64, error) {
	return i.participants.Bout(id)
}

// Flush writes a snapshot of the ray.
func (i *Infinity) Flush(ctx context.Context) error {
	if i.closed.Load() {
		return ErrClosed
	}
	return i.flush(ctx)
}

func (i *Infinity) flush(ctx context.Context) error {
	start := time.Now()
	err := i.ray.Flush(ctx)
	i.metrics.flushLatency.WithLabelValues(status(err)).Observe(time.Since(start).Seconds())
	return err
}

func (i *Infinity) flusher(ctx context.Context, every time.Duration) {
	defer i.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := i.flush(ctx); err != nil {
				i.log.Error("periodic flush failed", "error", err)
			}
		}
	}
}

// Registry exposes the engine metrics.
func (i *Infinity) Registry() *prometheus.Registry { return i.metrics.registry }

// Stats returns engine counters.
func (i *Infinity) Stats() Stats {
	return Stats{
		Ray:           i.ray.Stats(),
		Mux:           i.mux.Stats(),
		Cache:         i.builder.CacheStats(),
		Triples:       i.store.Stats(),
		MotorFailures: i.motors.Failures(),
	}
}

// Statistics is a human-readable report of the ray, the ingestion pool and
// every motor.
func (i *Infinity) Statistics() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ray: %s\n", i.ray)
	fmt.Fprintf(&sb, "mux: %s\n", i.mux)
	c := i.builder.CacheStats()
	fmt.Fprintf(&sb, "cache: %d/%d queries, %.1f%% hits\n", c.Size, c.MaxSize, c.HitRate)
	sb.WriteString(i.motors.Statistics())
	return sb.String()
}

// Close drains the queue, flushes the ray and releases every resource. It
// keeps releasing after a failure and returns the joined errors.
func (i *Infinity) Close() error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	i.stop()
	i.wg.Wait()
	i.mux.Close()

	var errs []error
	if err := i.motors.Close(); err != nil {
		errs = append(errs, err)
	}
	start := time.Now()
	err := i.ray.Close()
	i.metrics.flushLatency.WithLabelValues(status(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		errs = append(errs, err)
	}
	if err := i.store.Close(); err != nil {
		errs = append(errs, err)
	}
	err = errors.Join(errs...)
	i.log.Info("engine closed", "error", err)
	return err
}

// Package prefetch keeps the playback lookahead window synthesized ahead of
// the cursor. A small worker pool pulls sentence requests, publishes results
// into the clip cache, and drops work the moment its key leaves the window.
package prefetch

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/internal/cache"
	"github.com/dgnsrekt/readaloud/internal/synth"
)

// Request names one sentence the window needs synthesized.
type Request struct {
	Key  cache.Key
	Text string
}

// Failure reports a request that exhausted its retries.
type Failure struct {
	Key cache.Key
	Err error
}

// Config tunes the worker pool and the retry policy. Every transient
// failure is retried once; invalid voices are not retried at all.
type Config struct {
	Workers        int
	RetryDelay     time.Duration
	RateLimitDelay time.Duration
}

// DefaultConfig returns two workers with a half second retry backoff and a
// longer pause after rate limiting.
func DefaultConfig() Config {
	return Config{
		Workers:        2,
		RetryDelay:     500 * time.Millisecond,
		RateLimitDelay: 2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Workers < 1 {
		c.Workers = def.Workers
	}
	if c.Workers > 8 {
		c.Workers = 8
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.RateLimitDelay <= 0 {
		c.RateLimitDelay = def.RateLimitDelay
	}
	return c
}

type job struct {
	ctx  context.Context
	seq  uint64
	key  cache.Key
	text string
}

type flight struct {
	cancel context.CancelFunc
	seq    uint64
}

// Prefetcher schedules synthesis for window requests with bounded
// concurrency. At most one request is in flight per key; cancelled work
// never publishes into the cache.
type Prefetcher struct {
	client synth.Client
	cache  *cache.Cache
	cfg    Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	jobs     chan job
	failures chan Failure

	mu       sync.Mutex
	inflight map[cache.Key]flight
	nextSeq  uint64
}

// New starts cfg.Workers workers against client, publishing into c.
func New(client synth.Client, c *cache.Cache, cfg Config) *Prefetcher {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	p := &Prefetcher{
		client:   client,
		cache:    c,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(chan job, 64),
		failures: make(chan Failure, 8),
		inflight: make(map[cache.Key]flight),
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Refill reconciles scheduled work with the desired window: in-flight
// requests whose key left the window are cancelled, missing entries are
// scheduled. Requests already pending, ready or failed are left alone.
func (p *Prefetcher) Refill(window []Request) {
	want := make(map[cache.Key]struct{}, len(window))
	for _, r := range window {
		want[r.Key] = struct{}{}
	}

	p.mu.Lock()
	for key, fl := range p.inflight {
		if _, ok := want[key]; !ok {
			fl.cancel()
			delete(p.inflight, key)
		}
	}
	p.mu.Unlock()

	for _, r := range window {
		if !p.cache.MarkPending(r.Key) {
			continue
		}

		jobCtx, cancel := context.WithCancel(p.ctx)
		p.mu.Lock()
		p.nextSeq++
		seq := p.nextSeq
		p.inflight[r.Key] = flight{cancel: cancel, seq: seq}
		p.mu.Unlock()

		select {
		case p.jobs <- job{ctx: jobCtx, seq: seq, key: r.Key, text: r.Text}:
		default:
			// The queue is far larger than any window; overflowing it
			// means the pool is wedged. Fail the clip so playback skips
			// instead of waiting forever.
			log.Warn("prefetch queue full, failing request", "page", r.Key.Page, "sentence", r.Key.Sentence)
			cancel()
			p.release(r.Key, seq)
			p.cache.MarkFailed(r.Key)
		}
	}
}

// Cancel cancels in-flight synthesis for the given keys, if any.
func (p *Prefetcher) Cancel(keys []cache.Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range keys {
		if fl, ok := p.inflight[k]; ok {
			fl.cancel()
			delete(p.inflight, k)
		}
	}
}

// CancelAll cancels every in-flight request.
func (p *Prefetcher) CancelAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, fl := range p.inflight {
		fl.cancel()
		delete(p.inflight, k)
	}
}

// Failures returns final failures, one per request that exhausted its
// retries. The channel is buffered; unread failures beyond the buffer are
// dropped.
func (p *Prefetcher) Failures() <-chan Failure {
	return p.failures
}

// Close cancels all work and waits for the workers to exit.
func (p *Prefetcher) Close() {
	p.cancel()
	p.CancelAll()
	p.wg.Wait()
}

func (p *Prefetcher) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case j := <-p.jobs:
			p.synthesize(j)
		}
	}
}

func (p *Prefetcher) synthesize(j job) {
	defer p.release(j.key, j.seq)

	if j.ctx.Err() != nil {
		return
	}

	res, err := p.client.Synthesize(j.ctx, j.text, j.key.Voice)
	if err != nil && j.ctx.Err() == nil {
		if delay, retry := p.retryDelay(err); retry {
			log.Debug("retrying synthesis",
				"page", j.key.Page, "sentence", j.key.Sentence, "delay", delay, "err", err)
			select {
			case <-j.ctx.Done():
				return
			case <-time.After(delay):
			}
			res, err = p.client.Synthesize(j.ctx, j.text, j.key.Voice)
		}
	}

	// Cancelled work never publishes.
	if j.ctx.Err() != nil {
		return
	}

	if err != nil {
		log.Warn("synthesis failed", "page", j.key.Page, "sentence", j.key.Sentence, "err", err)
		p.cache.MarkFailed(j.key)
		select {
		case p.failures <- Failure{Key: j.key, Err: err}:
		default:
			log.Debug("failure channel full, dropping report")
		}
		return
	}

	p.cache.Put(j.key, res.Audio, res.Duration)
}

// retryDelay returns the backoff before the single retry, or false when the
// error is not retryable.
func (p *Prefetcher) retryDelay(err error) (time.Duration, bool) {
	switch synth.KindOf(err) {
	case synth.KindNetwork, synth.KindUnknown:
		return p.cfg.RetryDelay, true
	case synth.KindRateLimited:
		return p.cfg.RateLimitDelay, true
	default:
		return 0, false
	}
}

// release clears the inflight entry for key if it still belongs to this
// attempt. A newer flight for the same key is left alone.
func (p *Prefetcher) release(key cache.Key, seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fl, ok := p.inflight[key]; ok && fl.seq == seq {
		delete(p.inflight, key)
	}
}

package engine

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/khangdo/janus/internal/llm"
	"github.com/khangdo/janus/internal/storage"
	"github.com/khangdo/janus/pkg/types"
)

// originalPromptLimit caps how much of the triggering prompt is carried in
// each extracted document's metadata.
const originalPromptLimit = 100

// ExtractionEvent describes a completed extraction job. It is published to
// the optional listener after the assistant turn is logged and the facts
// are stored.
type ExtractionEvent struct {
	TurnID      int64
	FactsStored int
}

// ExtractionConfig sizes the queue and worker pool.
type ExtractionConfig struct {
	QueueSize       int
	NumWorkers      int
	MaxRetries      int
	ShutdownTimeout time.Duration
}

// DefaultExtractionConfig returns the pipeline sizing used when none is
// configured.
func DefaultExtractionConfig() ExtractionConfig {
	return ExtractionConfig{
		QueueSize:       100,
		NumWorkers:      2,
		MaxRetries:      3,
		ShutdownTimeout: 30 * time.Second,
	}
}

type extractionJob struct {
	Prompt       string
	ResponseText string
	Attempt      int

	// Once the assistant turn is appended the id is recorded here so a
	// retried job never logs the turn twice.
	turnID     int64
	turnLogged bool
}

// ExtractionPipeline runs fact extraction detached from the chat request:
// a bounded job queue drained by worker goroutines. Each job logs the
// assistant turn, decomposes the exchange into facts, and stores each fact
// as its own semantic document. Delivery is at least once; every failure
// is logged, none ever reaches a chat caller.
type ExtractionPipeline struct {
	config    ExtractionConfig
	log       storage.ConversationLog
	store     storage.SemanticStore
	generator llm.TextGenerator

	queue        chan *extractionJob
	drain        chan struct{}
	wg           sync.WaitGroup
	started      atomic.Bool
	closing      atomic.Bool
	shutdownOnce sync.Once

	// onComplete, when set, receives an event after every finished job.
	onComplete func(ExtractionEvent)

	now         func() time.Time
	backoffUnit time.Duration
}

// NewExtractionPipeline creates a pipeline over the given stores and
// generator. Call Start before enqueueing work.
func NewExtractionPipeline(cfg ExtractionConfig, convLog storage.ConversationLog, store storage.SemanticStore, generator llm.TextGenerator) *ExtractionPipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultExtractionConfig().QueueSize
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = DefaultExtractionConfig().NumWorkers
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultExtractionConfig().ShutdownTimeout
	}
	return &ExtractionPipeline{
		config:      cfg,
		log:         convLog,
		store:       store,
		generator:   generator,
		queue:       make(chan *extractionJob, cfg.QueueSize),
		drain:       make(chan struct{}),
		now:         time.Now,
		backoffUnit: 100 * time.Millisecond,
	}
}

// OnComplete registers the completion listener. Must be called before
// Start.
func (p *ExtractionPipeline) OnComplete(fn func(ExtractionEvent)) {
	p.onComplete = fn
}

// Start launches the worker pool.
func (p *ExtractionPipeline) Start(_ context.Context) {
	p.started.Store(true)
	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	log.Printf("engine: started %d extraction workers", p.config.NumWorkers)
}

// Enqueue submits a finished exchange for extraction. It never blocks:
// when the queue is full or the pipeline is shutting down the job is
// dropped with a log line and false is returned.
func (p *ExtractionPipeline) Enqueue(prompt, responseText string) bool {
	if !p.started.Load() || p.closing.Load() {
		return false
	}
	job := &extractionJob{Prompt: prompt, ResponseText: responseText}
	select {
	case p.queue <- job:
		return true
	default:
		log.Printf("engine: extraction queue full (size=%d), dropping job", p.config.QueueSize)
		return false
	}
}

// QueueDepth reports the number of jobs waiting in the queue.
func (p *ExtractionPipeline) QueueDepth() int {
	return len(p.queue)
}

// Shutdown stops accepting work and waits for the workers to drain the
// queue, up to the configured timeout or the context deadline. Jobs
// already accepted keep their full retry budget during the drain; the
// queue channel itself stays open so a late requeue can never panic.
// Safe to call more than once.
func (p *ExtractionPipeline) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.closing.Store(true)
		close(p.drain)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("engine: all extraction workers finished")
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		log.Printf("engine: shutdown timeout, %d extraction jobs dropped", len(p.queue))
		return nil
	case <-ctx.Done():
		log.Printf("engine: shutdown cancelled, %d extraction jobs dropped", len(p.queue))
		return ctx.Err()
	}
}

func (p *ExtractionPipeline) worker(workerID int) {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.queue:
			p.process(workerID, job)
		case <-p.drain:
			// Shutdown has begun: finish what is queued, including jobs
			// requeued by our own retries, then exit.
			for {
				select {
				case job := <-p.queue:
					p.process(workerID, job)
				default:
					return
				}
			}
		}
	}
}

// process runs one extraction job under a background context so in-flight
// work survives request cancellation and queue drain.
func (p *ExtractionPipeline) process(workerID int, job *extractionJob) {
	ctx := context.Background()

	if job.Attempt > 0 {
		// Quadratic backoff to ease write contention between retries.
		time.Sleep(time.Duration(job.Attempt*job.Attempt) * p.backoffUnit)
	}

	if !job.turnLogged {
		turnID, err := p.log.Append(ctx, job.ResponseText, types.RoleAssistant, nil)
		if err != nil {
			log.Printf("engine: worker %d failed to log assistant turn: %v", workerID, err)
			p.requeue(job)
			return
		}
		job.turnID = turnID
		job.turnLogged = true
	}

	raw, err := p.generator.Complete(ctx, llm.FactExtractionPrompt(job.Prompt, job.ResponseText))
	if err != nil {
		log.Printf("engine: worker %d fact extraction failed for turn %d: %v", workerID, job.turnID, err)
		p.requeue(job)
		return
	}

	facts := llm.ParseFactList(raw)
	stored := 0
	for i, fact := range facts {
		metadata := types.DocumentMetadata{
			CreatedAt:      p.now(),
			SourceType:     "conversation",
			ExtractedIndex: i + 1,
			OriginalPrompt: truncateText(job.Prompt, originalPromptLimit),
		}
		if _, err := p.store.Add(ctx, fact, metadata); err != nil {
			// Each fact writes in isolation; a failed one never blocks
			// its siblings.
			log.Printf("engine: worker %d failed to store fact %d for turn %d: %v", workerID, i+1, job.turnID, err)
			continue
		}
		stored++
	}

	log.Printf("engine: worker %d extracted %d/%d facts for turn %d", workerID, stored, len(facts), job.turnID)

	if p.onComplete != nil {
		p.onComplete(ExtractionEvent{TurnID: job.turnID, FactsStored: stored})
	}
}

// requeue puts a failed job back on the queue unless retries are
// exhausted. Requeued jobs are still drained during shutdown, so an
// accepted job keeps its full retry budget.
func (p *ExtractionPipeline) requeue(job *extractionJob) bool {
	if job.Attempt >= p.config.MaxRetries {
		log.Printf("engine: max retries (%d) exceeded for extraction of turn %d, giving up", p.config.MaxRetries, job.turnID)
		return false
	}
	job.Attempt++

	select {
	case p.queue <- job:
		log.Printf("engine: requeued extraction job for turn %d (attempt %d/%d)", job.turnID, job.Attempt, p.config.MaxRetries)
		return true
	case <-time.After(10 * time.Millisecond):
		log.Printf("engine: failed to requeue extraction job for turn %d, queue full", job.turnID)
		return false
	}
}

func truncateText(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

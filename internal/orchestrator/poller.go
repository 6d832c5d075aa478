package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/submission-intake/internal/mailbox"
	"github.com/sells-group/submission-intake/internal/metrics"
	"github.com/sells-group/submission-intake/internal/model"
	"github.com/sells-group/submission-intake/internal/notify"
	"github.com/sells-group/submission-intake/internal/resilience"
)

// Processor is the part of the Orchestrator the poller drives.
type Processor interface {
	Ingest(ctx context.Context, id string, raw []byte) (*model.Message, bool, error)
	ProcessMessage(ctx context.Context, id string) (*Outcome, error)
}

// Deduper filters ids already handed to the poller.
type Deduper interface {
	IsNew(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// DeadLetterer records messages whose retries are exhausted.
type DeadLetterer interface {
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
}

// PollerConfig tunes the poller queue and per-message retry.
type PollerConfig struct {
	QueueSize    int
	MessagePause time.Duration
	Retry        resilience.RetryConfig
}

// DefaultPollerConfig queues up to 100 ids, pauses 500ms between messages and
// retries a failed message three times from a 1s base capped at 10s.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		QueueSize:    100,
		MessagePause: 500 * time.Millisecond,
		Retry:        resilience.FromRetryConfig(3, time.Second, 10*time.Second),
	}
}

// PollResult is the outcome of PollOnce.
type PollResult struct {
	NewEmailsFound int `json:"new_emails_found"`
	Processed      int `json:"processed"`
}

// Poller moves mailbox ids through a FIFO queue one message at a time. The
// queue is shared by every PollOnce call; only one drain runs at a time and
// ids enqueued during a drain are picked up by it.
type Poller struct {
	source   mailbox.Source
	proc     Processor
	dlq      DeadLetterer
	dedup    Deduper
	notifier notify.Notifier
	cfg      PollerConfig

	queue chan string
	token chan struct{}
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a Poller. dedup and notifier may be nil.
func NewPoller(source mailbox.Source, proc Processor, dlq DeadLetterer, dedup Deduper, notifier notify.Notifier, cfg PollerConfig) *Poller {
	def := DefaultPollerConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MessagePause < 0 {
		cfg.MessagePause = 0
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = def.Retry
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Poller{
		source:   source,
		proc:     proc,
		dlq:      dlq,
		dedup:    dedup,
		notifier: notifier,
		cfg:      cfg,
		queue:    make(chan string, cfg.QueueSize),
		token:    make(chan struct{}, 1),
		sleep:    resilience.Sleep,
	}
}

// PollOnce lists candidate ids, queues the new ones and drains the queue
// unless another drain is already running, in which case that drain picks
// them up and Processed is zero.
func (p *Poller) PollOnce(ctx context.Context) (*PollResult, error) {
	ids, err := p.source.ListCandidateIdentifiers(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "poller: list candidates")
	}

	res := &PollResult{}
	for _, id := range ids {
		if p.dedup != nil {
			isNew, err := p.dedup.IsNew(ctx, id)
			if err != nil {
				zap.L().Warn("poller: dedup check failed, queueing anyway", zap.String("message_id", id), zap.Error(err))
			} else if !isNew {
				continue
			}
		}
		if p.enqueue(ctx, id) {
			res.NewEmailsFound++
		}
	}
	if len(ids) > 0 {
		zap.L().Info("poller: listed mailbox",
			zap.Int("candidates", len(ids)),
			zap.Int("queued", res.NewEmailsFound),
		)
	}

	res.Processed = p.Drain(ctx)
	return res, nil
}

func (p *Poller) enqueue(ctx context.Context, id string) bool {
	select {
	case p.queue <- id:
		metrics.PollQueueDepth.Inc()
		return true
	default:
		zap.L().Warn("poller: queue full, dropping id until next poll", zap.String("message_id", id))
		if p.dedup != nil {
			if err := p.dedup.Forget(ctx, id); err != nil {
				zap.L().Warn("poller: dedup forget failed", zap.String("message_id", id), zap.Error(err))
			}
		}
		return false
	}
}

// Drain processes queued ids until the queue is empty and returns how many
// succeeded. It returns zero at once if another drain holds the queue.
func (p *Poller) Drain(ctx context.Context) int {
	n := 0
	for {
		select {
		case p.token <- struct{}{}:
		default:
			return n
		}
		n += p.drainQueue(ctx)
		<-p.token

		// An id queued while the token was held but after the queue looked
		// empty would otherwise wait for the next poll.
		if len(p.queue) == 0 || ctx.Err() != nil {
			return n
		}
	}
}

func (p *Poller) drainQueue(ctx context.Context) int {
	n := 0
	first := true
	for ctx.Err() == nil {
		var id string
		select {
		case id = <-p.queue:
			metrics.PollQueueDepth.Dec()
		default:
			return n
		}
		if !first {
			if err := p.sleep(ctx, p.cfg.MessagePause); err != nil {
				return n
			}
		}
		first = false
		if p.handle(ctx, id) {
			n++
		}
	}
	return n
}

// handle runs one id with retry. Exhausted retries go to the dead letter
// queue and the drain moves on.
func (p *Poller) handle(ctx context.Context, id string) bool {
	log := zap.L().With(zap.String("message_id", id))

	retry := p.cfg.Retry
	retry.ShouldRetry = func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	retry.OnRetry = resilience.RetryLogger("poller", "process message")

	attempts := 0
	stage := ""
	out, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*Outcome, error) {
		attempts++
		var out *Outcome
		var err error
		stage, out, err = p.processOne(ctx, id)
		return out, err
	})
	if err == nil {
		log.Info("poller: message handled",
			zap.Bool("processed", out.Processed),
			zap.String("reason", out.Reason),
			zap.Int64("submission_number", out.SubmissionNumber),
		)
		return true
	}
	if ctx.Err() != nil {
		log.Warn("poller: stopped while handling message", zap.Error(err))
		return false
	}

	log.Error("poller: giving up on message",
		zap.String("stage", stage),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	metrics.MessagesProcessed.WithLabelValues("dead_letter").Inc()

	now := time.Now().UTC()
	entry := resilience.DLQEntry{
		ID:           uuid.NewString(),
		MessageID:    id,
		Error:        err.Error(),
		ErrorType:    resilience.ClassifyError(err),
		Stage:        stage,
		RetryCount:   attempts - 1,
		MaxRetries:   retry.MaxAttempts - 1,
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if p.dlq != nil {
		if dlqErr := p.dlq.EnqueueDLQ(ctx, entry); dlqErr != nil {
			log.Error("poller: failed to dead-letter message", zap.Error(dlqErr))
		}
	}
	if notifyErr := p.notifier.DeadLettered(ctx, id, attempts, err); notifyErr != nil {
		log.Warn("poller: failed to send alert", zap.Error(notifyErr))
	}
	return false
}

// processOne fetches, stores, marks seen and processes id, reporting the
// stage it reached.
func (p *Poller) processOne(ctx context.Context, id string) (string, *Outcome, error) {
	raw, err := p.source.FetchRawMessage(ctx, id)
	if err != nil {
		return "fetch", nil, err
	}
	if _, _, err := p.proc.Ingest(ctx, id, raw); err != nil {
		return "ingest", nil, err
	}
	if err := p.source.MarkSeen(ctx, id); err != nil {
		return "mark_seen", nil, err
	}
	out, err := p.proc.ProcessMessage(ctx, id)
	if err != nil {
		return "process", nil, err
	}
	return "process", out, nil
}

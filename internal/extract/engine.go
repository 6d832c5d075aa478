// Package extract fills the target schema one field at a time by asking the
// model about each flattened leaf, in bounded concurrent batches.
package extract

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/submission-intake/internal/metrics"
	"github.com/sells-group/submission-intake/internal/model"
	"github.com/sells-group/submission-intake/internal/resilience"
	"github.com/sells-group/submission-intake/internal/schema"
	"github.com/sells-group/submission-intake/pkg/anthropic"
)

// Config tunes batching, pacing and retry of field requests.
type Config struct {
	Model           string
	MaxTokens       int64
	BatchSize       int
	BatchPause      time.Duration
	Cooldown        time.Duration
	MaxSectionChars int
	Retry           resilience.RetryConfig
}

// DefaultConfig returns 5-field batches, a 1s pause between batches, a 5s
// cool-down after rate-limit exhaustion and three retries from a 1s base.
func DefaultConfig() Config {
	retry := resilience.FromRetryConfig(3, time.Second, 30*time.Second)
	return Config{
		Model:           "claude-haiku-4-5-20251001",
		MaxTokens:       1024,
		BatchSize:       5,
		BatchPause:      time.Second,
		Cooldown:        5 * time.Second,
		MaxSectionChars: 200_000,
		Retry:           retry,
	}
}

// Input is everything known about one message at extraction time.
type Input struct {
	MessageID string
	Email     model.Email
	Documents []Document
}

// Result is the merged output of one extraction run.
type Result struct {
	Data        map[string]any
	Records     []model.ExtractionRecord
	Fallback    bool
	RateLimited int
	Usage       anthropic.TokenUsage
}

// Engine runs field extraction against a schema and field registry.
type Engine struct {
	client anthropic.Client
	schema *schema.Schema
	fields *model.FieldRegistry
	cfg    Config
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates an Engine. Zero values in cfg take DefaultConfig values.
func New(client anthropic.Client, s *schema.Schema, fields *model.FieldRegistry, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxSectionChars <= 0 {
		cfg.MaxSectionChars = def.MaxSectionChars
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = def.Retry
	}
	return &Engine{
		client: client,
		schema: s,
		fields: fields,
		cfg:    cfg,
		sleep:  resilience.Sleep,
	}
}

type fieldOutcome int

const (
	outcomeFound fieldOutcome = iota
	outcomeNull
	outcomeFailed
	outcomeRateLimited
)

func (o fieldOutcome) String() string {
	switch o {
	case outcomeFound:
		return "found"
	case outcomeNull:
		return "null"
	case outcomeRateLimited:
		return "rate_limited"
	default:
		return "failed"
	}
}

// Extract requests every flattened schema field. Per-field failures yield
// null records; only authentication failures and context cancellation
// abort the run.
func (e *Engine) Extract(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	defer func() { metrics.ExtractionDuration.Observe(time.Since(start).Seconds()) }()

	log := zap.L().With(zap.String("message_id", in.MessageID))

	fields := e.schema.Flatten()
	ectx := BuildContext(in.Email, in.Documents, e.cfg.MaxSectionChars)
	system := anthropic.BuildCachedSystemBlocks(systemInstructions, ectx.Text)
	present := ectx.Labels()

	records := make([]model.ExtractionRecord, len(fields))
	var (
		usage     anthropic.TokenUsage
		usageMu   sync.Mutex
		exhausted int
	)

	for lo := 0; lo < len(fields); lo += e.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "extract: cancelled")
		}
		hi := min(lo+e.cfg.BatchSize, len(fields))
		var batchLimited atomic.Int32

		g, gCtx := errgroup.WithContext(ctx)
		for i := lo; i < hi; i++ {
			g.Go(func() error {
				rec, outcome, u, err := e.extractField(gCtx, in.MessageID, fields[i], system, present)
				if err != nil {
					return err
				}
				records[i] = rec
				usageMu.Lock()
				usage.Add(u)
				usageMu.Unlock()
				metrics.FieldExtractions.WithLabelValues(outcome.String()).Inc()
				if outcome == outcomeRateLimited {
					batchLimited.Add(1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		limited := int(batchLimited.Load())
		exhausted += limited
		if hi == len(fields) {
			break
		}

		pause := e.cfg.BatchPause
		if limited > 0 {
			pause = e.cfg.Cooldown
			metrics.BatchCooldowns.Inc()
			log.Warn("extract: batch exhausted rate-limit retries, cooling down",
				zap.Int("batch_start", lo),
				zap.Int("rate_limited_fields", limited),
				zap.Duration("cooldown", pause),
			)
		}
		if err := e.sleep(ctx, pause); err != nil {
			return nil, eris.Wrap(err, "extract: pause between batches")
		}
	}

	res := &Result{Records: records, RateLimited: exhausted, Usage: usage}

	if exhausted > 0 {
		filled := applyFallback(records, fields, ectx)
		res.Fallback = true
		log.Warn("extract: applied deterministic fallback after rate-limit exhaustion",
			zap.Int("rate_limited_fields", exhausted),
			zap.Int("fallback_filled", filled),
		)
	}

	res.Data = Merge(records)
	usage.LogCost(e.cfg.Model, in.MessageID)
	return res, nil
}

// extractField asks for one field with rate-limit retry. The returned error
// is non-nil only for conditions that must abort the whole run.
func (e *Engine) extractField(ctx context.Context, messageID string, f schema.Field, system []anthropic.SystemBlock, present []string) (model.ExtractionRecord, fieldOutcome, anthropic.TokenUsage, error) {
	rec := model.ExtractionRecord{
		MessageID: messageID,
		FieldPath: f.Path,
		FieldName: f.Name,
		Source:    string(model.DocOther),
		CreatedAt: time.Now().UTC(),
	}

	temp := 0.0
	req := anthropic.MessageRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		System:      system,
		Messages:    []anthropic.Message{{Role: "user", Content: buildFieldPrompt(f, e.fields.ByName(f.Name), present)}},
		Temperature: &temp,
	}

	retry := e.cfg.Retry
	retry.ShouldRetry = anthropic.IsRateLimit
	retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.RateLimitRetries.Inc()
		zap.L().Debug("extract: rate limited, retrying field",
			zap.String("message_id", messageID),
			zap.String("field_path", f.Path),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.client.CreateMessage(ctx, req)
	})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return rec, outcomeFailed, anthropic.TokenUsage{}, eris.Wrap(ctx.Err(), "extract: cancelled")
	case anthropic.IsAuth(err):
		return rec, outcomeFailed, anthropic.TokenUsage{}, eris.Wrapf(err, "extract: field %s", f.Path)
	case anthropic.IsRateLimit(err) || anthropic.IsQuota(err):
		rec.Reasoning = "rate limit retries exhausted: " + err.Error()
		return rec, outcomeRateLimited, anthropic.TokenUsage{}, nil
	default:
		zap.L().Warn("extract: field request failed",
			zap.String("message_id", messageID),
			zap.String("field_path", f.Path),
			zap.Error(err),
		)
		rec.Reasoning = "extraction failed: " + err.Error()
		return rec, outcomeFailed, anthropic.TokenUsage{}, nil
	}

	ans, perr := parseFieldAnswer(resp.Text())
	if perr != nil {
		zap.L().Warn("extract: unparseable field answer",
			zap.String("message_id", messageID),
			zap.String("field_path", f.Path),
			zap.Error(perr),
		)
		rec.Reasoning = "unparseable model response"
		return rec, outcomeFailed, resp.Usage, nil
	}

	rec.FieldValue = ans.Value
	rec.Source = ans.Source
	rec.EvidenceSnippet = ans.Evidence
	rec.Reasoning = ans.Reasoning
	if ans.Value == nil {
		return rec, outcomeNull, resp.Usage, nil
	}
	return rec, outcomeFound, resp.Usage, nil
}

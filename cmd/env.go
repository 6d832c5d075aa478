package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/submission-intake/internal/blob"
	"github.com/sells-group/submission-intake/internal/config"
	"github.com/sells-group/submission-intake/internal/doctext"
	"github.com/sells-group/submission-intake/internal/events"
	"github.com/sells-group/submission-intake/internal/extract"
	"github.com/sells-group/submission-intake/internal/mailbox"
	"github.com/sells-group/submission-intake/internal/msgraph"
	"github.com/sells-group/submission-intake/internal/notify"
	"github.com/sells-group/submission-intake/internal/ocr"
	"github.com/sells-group/submission-intake/internal/orchestrator"
	"github.com/sells-group/submission-intake/internal/registry"
	"github.com/sells-group/submission-intake/internal/reply"
	"github.com/sells-group/submission-intake/internal/resilience"
	"github.com/sells-group/submission-intake/internal/schema"
	"github.com/sells-group/submission-intake/internal/store"
	anthropicpkg "github.com/sells-group/submission-intake/pkg/anthropic"
)

// intakeEnv holds everything the serve, poll and process commands share.
type intakeEnv struct {
	Store        store.Store
	Orchestrator *orchestrator.Orchestrator
	Poller       *orchestrator.Poller // nil without mailbox credentials

	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (e *intakeEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func (e *intakeEnv) onClose(fn func()) {
	e.closers = append(e.closers, fn)
}

// initEnv validates config for mode and wires the store, blob store,
// extraction engine, mailbox and notifiers. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*intakeEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &intakeEnv{}
	ok := false
	defer func() {
		if !ok {
			env.Close()
		}
	}()

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env.Store = st
	env.onClose(func() { _ = st.Close() })

	if err := st.Migrate(ctx); err != nil {
		return nil, eris.Wrap(err, "migrate store")
	}

	blobs, err := initBlob(ctx, cfg.Blob)
	if err != nil {
		return nil, err
	}

	engine, err := initExtractor(ctx)
	if err != nil {
		return nil, err
	}

	pdf, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		return nil, eris.Wrap(err, "init ocr")
	}

	deps := orchestrator.Deps{
		Store:     st,
		Blobs:     blobs,
		Parser:    doctext.New(pdf),
		Extractor: engine,
		Sender:    reply.LogSender{},
		Events:    events.Nop{},
		Notifier:  notify.Nop{},
		Mailbox:   cfg.Mailbox.Address,
	}

	var graph *msgraph.Client
	if cfg.Mailbox.ClientID != "" {
		graph = msgraph.NewClient(ctx, msgraph.Credentials{
			TenantID:     cfg.Mailbox.TenantID,
			ClientID:     cfg.Mailbox.ClientID,
			ClientSecret: cfg.Mailbox.ClientSecret,
			TokenURL:     cfg.Mailbox.TokenURL,
		}, cfg.Mailbox.GraphBaseURL)
		deps.Sender = reply.NewGraphSender(graph, cfg.Mailbox.Address)
	} else {
		zap.L().Warn("mailbox credentials not configured; replies will be logged only")
	}

	if cfg.NATS.URL != "" {
		pub, err := events.Connect(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return nil, err
		}
		env.onClose(func() { _ = pub.Close() })
		deps.Events = pub
	}

	if cfg.Slack.Token != "" && cfg.Slack.Channel != "" {
		deps.Notifier = notify.NewSlack(cfg.Slack.Token, cfg.Slack.Channel)
	}

	env.Orchestrator = orchestrator.New(deps)

	if graph != nil {
		var dedup orchestrator.Deduper
		if cfg.Redis.URL != "" {
			filter, rdb, err := mailbox.NewDedupFilterFromURL(cfg.Redis.URL,
				time.Duration(cfg.Redis.DedupTTLHours)*time.Hour, cfg.Redis.DedupPrefix)
			if err != nil {
				return nil, err
			}
			env.onClose(func() { _ = rdb.Close() })
			dedup = filter
		}
		source := mailbox.NewGraphSource(graph, cfg.Mailbox.Address, cfg.Mailbox.Folder, cfg.Mailbox.MaxMessages)
		env.Poller = orchestrator.NewPoller(source, env.Orchestrator, st, dedup, deps.Notifier, pollerConfig(cfg.Poller))
	}

	ok = true
	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "intake.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initBlob(ctx context.Context, c config.BlobConfig) (blob.Store, error) {
	switch c.Driver {
	case "", "local":
		return blob.NewLocal(c.LocalDir)
	case "minio", "s3":
		s, err := blob.NewMinio(blob.MinioConfig{
			Endpoint:  c.Endpoint,
			AccessKey: c.AccessKey,
			SecretKey: c.SecretKey,
			Bucket:    c.Bucket,
			Region:    c.Region,
			UseSSL:    c.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("unsupported blob driver: %s", c.Driver)
	}
}

func initExtractor(ctx context.Context) (*extract.Engine, error) {
	var (
		s   *schema.Schema
		err error
	)
	if cfg.Schema.Path != "" {
		s, err = schema.Load(cfg.Schema.Path)
	} else {
		s, err = schema.Default()
	}
	if err != nil {
		return nil, eris.Wrap(err, "load field schema")
	}

	fields, err := registry.Load(ctx, registry.Options{
		NotionToken: cfg.Notion.Token,
		NotionDBID:  cfg.Notion.FieldDB,
		FixturePath: cfg.Schema.FieldsPath,
	})
	if err != nil {
		return nil, eris.Wrap(err, "load field definitions")
	}

	client := anthropicpkg.NewClient(cfg.Anthropic.Key,
		anthropicpkg.WithBaseURL(cfg.Anthropic.BaseURL),
		anthropicpkg.WithRateLimit(cfg.Anthropic.RequestsPerSecond, cfg.Extraction.BatchSize),
	)

	return extract.New(client, s, fields, extractionConfig(cfg)), nil
}

func extractionConfig(c *config.Config) extract.Config {
	return extract.Config{
		Model:           c.Anthropic.Model,
		MaxTokens:       c.Anthropic.MaxTokens,
		BatchSize:       c.Extraction.BatchSize,
		BatchPause:      c.Extraction.BatchPause(),
		Cooldown:        c.Extraction.Cooldown(),
		MaxSectionChars: c.Extraction.MaxSectionChars,
		Retry: resilience.FromRetryConfig(c.Extraction.MaxRetries,
			time.Duration(c.Extraction.RetryBaseMS)*time.Millisecond,
			time.Duration(c.Extraction.RetryMaxSecs)*time.Second),
	}
}

func pollerConfig(c config.PollerConfig) orchestrator.PollerConfig {
	return orchestrator.PollerConfig{
		QueueSize:    c.QueueSize,
		MessagePause: time.Duration(c.MessagePauseMS) * time.Millisecond,
		Retry: resilience.FromRetryConfig(c.MaxRetries,
			time.Duration(c.RetryBaseMS)*time.Millisecond,
			time.Duration(c.RetryMaxSecs)*time.Second),
	}
}

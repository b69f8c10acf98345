package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/dshills/questforge/campaign"
	"github.com/dshills/questforge/graph"
	"github.com/dshills/questforge/graph/degrade"
	"github.com/dshills/questforge/graph/emit"
	"github.com/dshills/questforge/graph/model"
	"github.com/dshills/questforge/graph/model/anthropic"
	"github.com/dshills/questforge/graph/model/google"
	"github.com/dshills/questforge/graph/model/openai"
	"github.com/dshills/questforge/graph/store"
	"github.com/dshills/questforge/graph/tool"
	"github.com/dshills/questforge/internal/config"
	"github.com/dshills/questforge/internal/logging"
	"github.com/dshills/questforge/internal/telemetry"
)

const serviceName = "questforge"

// app holds the process-wide components every subcommand shares.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	svc      *campaign.Service
	registry *prometheus.Registry

	closers []func(context.Context) error
}

// newApp loads configuration and assembles the campaign service.
func newApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logging.New(cfg.LogLevel), registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	tracer, shutdown, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdown)

	st, err := a.openStore()
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	deps := a.deps()

	emitters := emit.MultiEmitter{emit.NewOTelEmitter(tracer)}
	if cfg.LogEvents {
		emitters = append(emitters, emit.NewLogEmitter(a.logger))
	}
	costs := graph.NewCostTracker()
	engine, err := campaign.NewEngine(st, deps,
		graph.WithMaxSteps(cfg.Engine.MaxSteps),
		graph.WithDefaultNodeTimeout(cfg.Engine.NodeTimeout),
		graph.WithInterruptAfter(cfg.Engine.InterruptAfter...),
		graph.WithEmitter(emitters),
		graph.WithMetrics(graph.NewPrometheusMetrics(a.registry)),
		graph.WithCostTracker(costs),
		graph.WithEventBuffer(cfg.Engine.EventBuffer),
	)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("build engine: %w", err)
	}
	a.svc = campaign.NewService(engine, st, deps, campaign.WithServiceCostTracker(costs))
	return a, nil
}

func (a *app) openStore() (store.Store[campaign.State], error) {
	sc := a.cfg.Store
	switch sc.Backend {
	case config.BackendSQLite:
		st, err := store.NewSQLiteStore[campaign.State](sc.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		a.closeWith(st)
		return st, nil
	case config.BackendMySQL:
		st, err := store.NewMySQLStore[campaign.State](sc.DSN)
		if err != nil {
			return nil, fmt.Errorf("open mysql store: %w", err)
		}
		a.closeWith(st)
		return st, nil
	case config.BackendRedis:
		var opts []store.RedisOption
		if sc.RedisPrefix != "" {
			opts = append(opts, store.WithRedisPrefix(sc.RedisPrefix))
		}
		if sc.RedisTTL > 0 {
			opts = append(opts, store.WithRedisTTL(sc.RedisTTL))
		}
		st := store.NewRedisStore[campaign.State](sc.RedisAddr, sc.RedisPassword, sc.RedisDB, opts...)
		a.closeWith(st)
		return st, nil
	default:
		a.logger.Warn("using in-memory store; campaigns are lost on exit")
		return store.NewMemStore[campaign.State](), nil
	}
}

func (a *app) closeWith(c io.Closer) {
	a.closers = append(a.closers, func(context.Context) error { return c.Close() })
}

func (a *app) deps() *campaign.Deps {
	mc := a.cfg.Model
	if mc.APIKey == "" {
		a.logger.Warn("model.api_key is empty; generation calls will fail", "provider", mc.Provider)
	}
	text := chatModel(mc, false)

	d := &campaign.Deps{
		Chat: chatModel(mc, true),
		Text: text,
		Policy: degrade.Policy{
			MaxAttempts: a.cfg.Degrade.MaxAttempts,
			Delay:       a.cfg.Degrade.Delay,
			Timeout:     a.cfg.Degrade.Timeout,
			Logger:      a.logger,
		},
		ImageCooldown: a.cfg.Degrade.ImageCooldown,
		MaxLookups:    a.cfg.Engine.MaxLookups,
		Logger:        a.logger,
	}

	imageKey := mc.ImageAPIKey
	if imageKey == "" && mc.Provider == config.ProviderOpenAI {
		imageKey = mc.APIKey
	}
	if imageKey != "" {
		var opts []openai.Option
		if mc.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(mc.BaseURL))
		}
		d.Images = openai.NewImageModel(imageKey, mc.Image, opts...)
	} else {
		a.logger.Info("no image API key; portraits use placeholders")
	}

	if a.cfg.Search.Endpoint != "" {
		d.Search = tool.NewSearchTool(a.cfg.Search.Endpoint)
	}
	if a.cfg.Search.AllowFetch {
		d.Tools = append(d.Tools, tool.NewHTTPTool())
	}
	if strings.EqualFold(mc.Classifier, "model") {
		d.Classifier = campaign.ModelClassifier{Model: text}
	}
	return d
}

// chatModel builds the configured provider's chat model. jsonMode asks the
// provider for JSON-only replies, which the generation steps rely on and free
// text must avoid. Anthropic has no such mode and ignores it.
func chatModel(mc config.ModelConfig, jsonMode bool) model.ChatModel {
	switch mc.Provider {
	case config.ProviderAnthropic:
		return anthropic.NewChatModel(mc.APIKey, mc.Chat)
	case config.ProviderGoogle:
		var opts []google.Option
		if jsonMode {
			opts = append(opts, google.WithJSONMode())
		}
		return google.NewChatModel(mc.APIKey, mc.Chat, opts...)
	default:
		var opts []openai.Option
		if jsonMode {
			opts = append(opts, openai.WithJSONMode())
		}
		if mc.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(mc.BaseURL))
		}
		return openai.NewChatModel(mc.APIKey, mc.Chat, opts...)
	}
}

// Close releases the store and flushes traces.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	return errors.Join(errs...)
}

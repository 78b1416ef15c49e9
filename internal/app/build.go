package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/mnemo/internal/capability"
	"github.com/ent0n29/mnemo/internal/config"
	"github.com/ent0n29/mnemo/internal/httpapi"
	"github.com/ent0n29/mnemo/internal/intent"
	"github.com/ent0n29/mnemo/internal/observability"
	"github.com/ent0n29/mnemo/internal/orchestrator"
	"github.com/ent0n29/mnemo/internal/session"
	"github.com/ent0n29/mnemo/internal/skills"
	"github.com/ent0n29/mnemo/internal/storage"
)

// stateRetention bounds how long a session's card survives in the state
// store after its last commit.
const stateRetention = 7 * 24 * time.Hour

type BuildResult struct {
	Config       config.Config
	Logger       *zap.Logger
	API          *httpapi.Server
	Sessions     *session.Manager
	Orchestrator *orchestrator.Orchestrator
	Storage      *storage.Manager
	Skills       *skills.Catalog
	Metrics      *observability.Metrics

	// tracker is non-nil when skills.watch is on; Start runs it.
	tracker *skills.ChangeTracker

	// Cleanup should be called on shutdown to release external resources (state store, DB pools, watchers).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	metrics := observability.NewMetrics(cfg.App.MetricsNamespace)

	caps, err := capability.NewSet(cfg, metrics)
	if err != nil {
		return nil, fmt.Errorf("capability init failed: %w", err)
	}

	classifier, err := buildClassifier(cfg, caps, logger)
	if err != nil {
		return nil, err
	}
	router := intent.NewRouter(classifier, intent.RouterConfig{
		AllowStrongAggressive: cfg.Safety.AllowStrongAggressive,
		SkipImageForEasyWords: cfg.Features.SkipImageForEasyWords,
	}, logger)

	catalogOpts := []skills.CatalogOption{
		skills.WithTTL(cfg.Skills.TTL),
		skills.WithMinScore(cfg.Skills.MinScore),
		skills.WithLogger(logger),
		skills.WithMetrics(metrics),
	}
	var tracker *skills.ChangeTracker
	if cfg.Skills.Watch {
		tracker, err = skills.NewChangeTracker(cfg.Skills.Dir, logger)
		if err != nil {
			// Polling by TTL still works without the watcher.
			logger.Warn("skills watcher unavailable", zap.String("dir", cfg.Skills.Dir), zap.Error(err))
		} else {
			catalogOpts = append(catalogOpts, skills.WithChangeTracker(tracker))
		}
	}
	catalog := skills.NewCatalog(skills.DirSource{Root: cfg.Skills.Dir}, catalogOpts...)

	states, err := session.NewStateStore(ctx, cfg.Sessions.StoreURL, stateRetention)
	if err != nil {
		if tracker != nil {
			_ = tracker.Close()
		}
		return nil, fmt.Errorf("session state store init failed: %w", err)
	}

	sessions := session.NewManager(cfg.App.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.ObserveSessionEvent("expired")
		metrics.SetActiveSessions(sessions.ActiveCount())
		logger.Debug("session expired", zap.String("session_id", s.ID))
	})

	store := storage.NewManager(storage.FromConfig(cfg.Storage),
		storage.WithLogger(logger),
		storage.WithMetrics(metrics),
		storage.WithLocalMediaRoots(cfg.Audio.OutputDir, cfg.Image.OutputDir),
	)

	orch, err := orchestrator.New(orchestrator.Deps{
		Router:       router,
		Capabilities: caps,
		Skills:       catalog,
		Sessions:     sessions,
		States:       states,
		Storage:      store,
		Logger:       logger,
		Metrics:      metrics,
	}, orchestrator.ConfigFrom(cfg))
	if err != nil {
		_ = states.Close()
		_ = store.Close()
		if tracker != nil {
			_ = tracker.Close()
		}
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	api := httpapi.New(cfg, sessions, orch, store, metrics, logger)

	cleanup := func() error {
		orch.Wait()
		var errs []error
		if tracker != nil {
			errs = append(errs, tracker.Close())
		}
		errs = append(errs, store.Close(), states.Close())
		_ = logger.Sync()
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:       cfg,
		Logger:       logger,
		API:          api,
		Sessions:     sessions,
		Orchestrator: orch,
		Storage:      store,
		Skills:       catalog,
		Metrics:      metrics,
		tracker:      tracker,
		Cleanup:      cleanup,
	}, nil
}

// Start launches the background loops: the session janitor and, when
// enabled, the skills directory watcher. They stop with ctx.
func (b *BuildResult) Start(ctx context.Context) {
	b.Sessions.StartJanitor(ctx, janitorInterval(b.Config.App.SessionInactivityTimeout))
	if b.tracker != nil {
		go b.tracker.Run(ctx)
	}
	if err := b.Skills.Refresh(ctx); err != nil {
		b.Logger.Warn("initial skills load failed", zap.String("dir", b.Config.Skills.Dir), zap.Error(err))
	}
}

func janitorInterval(inactivity time.Duration) time.Duration {
	interval := inactivity / 4
	if interval < time.Second {
		return time.Second
	}
	if interval > time.Minute {
		return time.Minute
	}
	return interval
}

// buildClassifier maps classifier.mode onto an implementation. auto uses
// the LLM classifier with rules as fallback when a real text backend is
// configured, and rules alone otherwise.
func buildClassifier(cfg config.Config, caps *capability.Set, logger *zap.Logger) (intent.Classifier, error) {
	rules := intent.NewRuleClassifier()
	switch cfg.Classifier.Mode {
	case "rules":
		return rules, nil
	case "llm":
		return intent.NewLLMClassifier(caps), nil
	case "", "auto":
		if _, mock := caps.Text.(*capability.MockText); mock {
			return rules, nil
		}
		return intent.NewFallbackClassifier(intent.NewLLMClassifier(caps), rules, logger), nil
	default:
		return nil, fmt.Errorf("unknown classifier mode %q", cfg.Classifier.Mode)
	}
}

// Package wiring assembles the process-level singletons (catalog, secrets
// vault, event bus) and per-settings Processor/JobRunner/Executor trios
// that both genimagefactoryctl and genimagefactory-web construct from the
// same Config. It exists so the two binaries don't duplicate the provider
// credential resolution and stage-assembly logic.
package wiring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/ascensum/genimagefactory/internal/catalog"
	"github.com/ascensum/genimagefactory/internal/config"
	"github.com/ascensum/genimagefactory/internal/eventbus"
	"github.com/ascensum/genimagefactory/internal/jobrunner"
	"github.com/ascensum/genimagefactory/internal/logging"
	"github.com/ascensum/genimagefactory/internal/pipeline"
	"github.com/ascensum/genimagefactory/internal/processor"
	"github.com/ascensum/genimagefactory/internal/providers"
	"github.com/ascensum/genimagefactory/internal/retry"
	"github.com/ascensum/genimagefactory/internal/secrets"
)

// ErrCredentialNotConfigured is returned when a Settings document names a
// provider (via APIKeys or a processing flag) whose credential the vault
// doesn't have. Callers map this to whatever exit code or HTTP status
// fits their transport.
var ErrCredentialNotConfigured = errors.New("required credential not configured")

// App bundles the singletons every job-control entry point needs: the
// catalog, the secrets vault, and the event bus. A Processor's provider
// stages are fixed at construction, so App additionally builds one
// Processor (and its JobRunner/Executor) per Settings document a caller
// supplies, rather than holding a single shared one.
type App struct {
	Cfg    *config.Config
	Logger *slog.Logger
	Cat    *catalog.Catalog
	Vault  *secrets.Vault
	Bus    *eventbus.Bus
}

// Build loads configuration and opens the catalog, event bus, and secrets
// vault. The returned cleanup func must run (via defer) before the
// process exits, whatever the outcome.
func Build(ctx context.Context, configPath string) (*App, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Log)

	catalogPath := filepath.Join(cfg.DataDir.Root, "catalog.sqlite")
	cat, err := catalog.Open(ctx, catalogPath, logger, catalog.NewMetrics("genimagefactory"))
	if err != nil {
		return nil, nil, fmt.Errorf("open catalog: %w", err)
	}

	vault := secrets.New(cat, logger)

	bus := eventbus.New(logger, eventbus.NewMetrics("genimagefactory"))
	bus.Start(ctx)

	a := &App{Cfg: cfg, Logger: logger, Cat: cat, Vault: vault, Bus: bus}
	cleanup := func() {
		cat.Close()
	}
	return a, cleanup, nil
}

// BuildProcessor resolves the provider credentials settings names through
// the vault and assembles a Processor bound to them. Stages settings
// doesn't enable (removeBg, quality check, metadata) are left nil, as
// processor.Stages documents.
func (a *App) BuildProcessor(ctx context.Context, settings config.Settings) (*processor.Processor, error) {
	width := a.Cfg.Worker.MaxPoolSize
	if width <= 0 {
		width = 1
	}

	genClient, err := a.resolveGenerateClient(ctx, settings, width)
	if err != nil {
		return nil, err
	}

	stages := processor.Stages{
		Generate:        pipeline.NewGenerateStage(genClient),
		Download:        pipeline.NewDownloadStage(genClient, settings.FilePaths.TempDirectory),
		TrimTransparent: pipeline.NewTrimTransparentStage(),
		Enhance:         pipeline.NewEnhanceStage(),
		Convert:         pipeline.NewConvertStage(),
	}

	if settings.Processing.RemoveBg {
		removeBgClient, err := a.resolveRemoveBgClient(ctx, width)
		if err != nil {
			return nil, err
		}
		stages.RemoveBg = pipeline.NewRemoveBackgroundStage(removeBgClient)
	}

	if settings.AI.RunQualityCheck || settings.AI.RunMetadataGen {
		vision, err := a.resolveVisionClient(ctx, width)
		if err != nil {
			return nil, err
		}
		if settings.AI.RunQualityCheck {
			stages.QualityCheck = pipeline.NewQualityCheckStage(vision)
		}
		if settings.AI.RunMetadataGen {
			stages.Metadata = pipeline.NewMetadataStage(vision)
		}
	}

	return processor.New(stages, a.Cat, a.Bus, a.Logger), nil
}

func (a *App) resolveGenerateClient(ctx context.Context, settings config.Settings, width int) (providers.GenerateClient, error) {
	switch {
	case settings.APIKeys.PiAPI:
		key, err := a.requireKey(ctx, "piapi", "default")
		if err != nil {
			return nil, err
		}
		return providers.NewPiAPIClient(a.Cfg.Providers.PiAPIBaseURL, key, width, a.Logger), nil
	case settings.APIKeys.Runware:
		key, err := a.requireKey(ctx, "runware", "default")
		if err != nil {
			return nil, err
		}
		return providers.NewRunwareClient(a.Cfg.Providers.RunwareBaseURL, key, width, a.Logger), nil
	default:
		key, err := a.requireKey(ctx, "openai", "default")
		if err != nil {
			return nil, err
		}
		return providers.NewOpenAIImageClient(a.Cfg.Providers.OpenAIBaseURL, key, width, a.Logger), nil
	}
}

func (a *App) resolveRemoveBgClient(ctx context.Context, width int) (providers.RemoveBgClient, error) {
	key, err := a.requireKey(ctx, "removeBg", "default")
	if err != nil {
		return nil, err
	}
	return providers.NewRemoveBgClient(a.Cfg.Providers.RemoveBgBaseURL, key, width, a.Cfg.Providers.RemoveBgTimeout, a.Logger), nil
}

// visionClient is the combined QC+metadata surface the shared OpenAI
// vision client satisfies; providers.NewOpenAIVisionClient's concrete
// return type is unexported, so callers outside that package only ever
// hold it through this pair of interfaces.
type visionClient interface {
	providers.QualityCheckClient
	providers.MetadataClient
}

func (a *App) resolveVisionClient(ctx context.Context, width int) (visionClient, error) {
	key, err := a.requireKey(ctx, "openai", "default")
	if err != nil {
		return nil, err
	}
	return providers.NewOpenAIVisionClient(a.Cfg.Providers.OpenAIVisionBaseURL, key, width, a.Logger), nil
}

func (a *App) requireKey(ctx context.Context, service, account string) (string, error) {
	value, _, found, err := a.Vault.Get(ctx, service, account)
	if err != nil {
		return "", fmt.Errorf("resolve %s credential: %w", service, err)
	}
	if !found || value == "" {
		return "", fmt.Errorf("%w: %s", ErrCredentialNotConfigured, service)
	}
	return value, nil
}

// BuildPlaceholderProcessor assembles a minimal Processor from whatever
// openai credential happens to be configured, or none at all. It exists
// for callers like the admin HTTP surface that need a non-nil
// JobRunner/Executor pair to construct an Adapter but never start a job
// through it with settings of their own choosing — that stays with a
// real job process (genimagefactoryctl run, or the desktop UI), each
// bound to the actual Settings a user picked. Do not use this Processor
// to run real jobs.
func (a *App) BuildPlaceholderProcessor(ctx context.Context) *processor.Processor {
	width := a.Cfg.Worker.MaxPoolSize
	if width <= 0 {
		width = 1
	}
	key, _, _, _ := a.Vault.Get(ctx, "openai", "default")
	genClient := providers.NewOpenAIImageClient(a.Cfg.Providers.OpenAIBaseURL, key, width, a.Logger)
	stages := processor.Stages{
		Generate:        pipeline.NewGenerateStage(genClient),
		Download:        pipeline.NewDownloadStage(genClient, ""),
		TrimTransparent: pipeline.NewTrimTransparentStage(),
		Enhance:         pipeline.NewEnhanceStage(),
		Convert:         pipeline.NewConvertStage(),
	}
	return processor.New(stages, a.Cat, a.Bus, a.Logger)
}

// NewRunner assembles a JobRunner bound to proc.
func (a *App) NewRunner(proc *processor.Processor) *jobrunner.Runner {
	return jobrunner.New(a.Cat, proc, pipeline.NewPlanner(), a.Bus, a.Logger)
}

// NewRetryExecutor assembles a RetryExecutor bound to proc.
func (a *App) NewRetryExecutor(proc *processor.Processor) *retry.Executor {
	return retry.New(a.Cat, proc, a.Bus, a.Logger)
}

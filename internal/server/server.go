package server

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/client"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/samber/do"
	"github.com/samber/lo"
	"github.com/yz4230/shipyard/internal/analysis"
	"github.com/yz4230/shipyard/internal/config"
	"github.com/yz4230/shipyard/internal/entity"
	"github.com/yz4230/shipyard/internal/events"
	"github.com/yz4230/shipyard/internal/executor"
	"github.com/yz4230/shipyard/internal/lock"
	"github.com/yz4230/shipyard/internal/poller"
	"github.com/yz4230/shipyard/internal/remote"
	"github.com/yz4230/shipyard/internal/repository"
	"github.com/yz4230/shipyard/internal/rollback"
	"github.com/yz4230/shipyard/internal/runner"
	"github.com/yz4230/shipyard/internal/scan"
	"github.com/yz4230/shipyard/internal/server/routes"
	"github.com/yz4230/shipyard/internal/storage"
	"github.com/yz4230/shipyard/internal/toolchain"
	"github.com/yz4230/shipyard/internal/usecase"
	"gorm.io/gorm"
)

type Config struct {
	App    *config.Config
	Logger zerolog.Logger
}

type Server struct {
	e        *echo.Echo
	config   *Config
	injector *do.Injector
	cancel   context.CancelFunc
}

func New(config *Config) (*Server, error) {
	e := echo.New()
	e.HidePort = true
	e.HideBanner = true
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogRemoteIP:  true,
		LogHost:      true,
		LogMethod:    true,
		LogURI:       true,
		LogUserAgent: true,
		LogStatus:    true,
		LogLatency:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			config.Logger.Info().
				Str("remote_ip", v.RemoteIP).
				Str("host", v.Host).
				Str("method", v.Method).
				Str("uri", v.URI).
				Str("user_agent", v.UserAgent).
				Int("status", v.Status).
				Int64("latency_ms", v.Latency.Milliseconds()).
				Msg("handled request")
			return nil
		},
	}))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			config.Logger.Error().Err(err).Bytes("stack", stack).Send()
			return err
		},
	}))
	e.Use(middleware.CORS())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := config.Logger.WithContext(req.Context())
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	})

	s := &Server{e: e, config: config}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) init() error {
	s.injector = do.New()
	s.injectDependencies(s.injector)
	if _, err := do.Invoke[*runner.Runner](s.injector); err != nil {
		return fmt.Errorf("wire runner: %w", err)
	}
	if _, err := do.Invoke[*poller.Poller](s.injector); err != nil {
		return fmt.Errorf("wire poller: %w", err)
	}
	s.registerRoutes(s.injector)
	return nil
}

func (s *Server) mode() executor.Mode {
	mode, _ := executor.ParseMode(s.config.App.Mode)
	return mode
}

func (s *Server) injectDependencies(injector *do.Injector) {
	cfg, log := s.config.App, s.config.Logger

	do.ProvideValue(injector, cfg)
	do.Provide(injector, func(i *do.Injector) (*gorm.DB, error) {
		return repository.NewSQLiteDB(cfg.DataDir)
	})
	do.Provide(injector, func(i *do.Injector) (repository.PipelineRepository, error) {
		return repository.NewPipelineRepository(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(injector, func(i *do.Injector) (repository.StepRepository, error) {
		return repository.NewStepRepository(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(injector, func(i *do.Injector) (repository.DeploymentRepository, error) {
		return repository.NewDeploymentRepository(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(injector, func(i *do.Injector) (storage.Workspace, error) {
		return storage.NewWorkspace(cfg.WorkspaceDir, log), nil
	})

	do.Provide(injector, func(i *do.Injector) (*lock.DeploymentLock, error) {
		return lock.New(log.With().Str("component", "lock").Logger()), nil
	})
	do.Provide(injector, func(i *do.Injector) (*events.Broker, error) {
		return events.NewBroker(log.With().Str("component", "events").Logger()), nil
	})
	do.Provide(injector, func(i *do.Injector) (events.Publisher, error) {
		return do.MustInvoke[*events.Broker](i), nil
	})

	do.Provide(injector, func(i *do.Injector) (remote.Deployer, error) {
		if s.mode() == executor.ModeSimulate {
			return remote.NewSimulator(time.Second), nil
		}
		l := log.With().Str("component", "remote").Logger()
		ch := remote.NewSSHChannel(cfg.Remote.SSH, l)
		return remote.NewDockerDeployer(ch, cfg.Remote.Deployer, l)
	})
	do.Provide(injector, func(i *do.Injector) (*client.Client, error) {
		return toolchain.NewClient(cfg.DockerHost)
	})
	do.Provide(injector, func(i *do.Injector) (executor.Executor, error) {
		l := log.With().Str("component", "executor").Logger()
		deps := executor.Deps{Deployer: do.MustInvoke[remote.Deployer](i), Log: l}
		if s.mode() == executor.ModeReal {
			cli := do.MustInvoke[*client.Client](i)
			steps := toolchain.NewDockerRunner(cli, cfg.Executor.ToolchainImage, l)
			deps.Workspace = do.MustInvoke[storage.Workspace](i)
			deps.Toolchain = steps
			deps.Images = toolchain.NewDockerImages(cli, l)
			deps.Analysis = analysis.NewSonarClient(cfg.Analysis, steps, l)
			deps.Scanner = scan.NewHTTPClient(cfg.Scan, l)
		}
		return executor.New(s.mode(), cfg.Executor, deps)
	})

	do.Provide(injector, func(i *do.Injector) (*runner.Runner, error) {
		return runner.New(runner.Options{
			Lock:        do.MustInvoke[*lock.DeploymentLock](i),
			Executor:    do.MustInvoke[executor.Executor](i),
			Pipelines:   do.MustInvoke[repository.PipelineRepository](i),
			Steps:       do.MustInvoke[repository.StepRepository](i),
			Deployments: do.MustInvoke[repository.DeploymentRepository](i),
			Events:      do.MustInvoke[events.Publisher](i),
			App:         cfg.Executor.App,
			Timeout:     cfg.PipelineTimeout,
			Log:         log.With().Str("component", "runner").Logger(),
		}), nil
	})
	do.Provide(injector, func(i *do.Injector) (*rollback.Coordinator, error) {
		return rollback.New(rollback.Options{
			Lock:        do.MustInvoke[*lock.DeploymentLock](i),
			Deployments: do.MustInvoke[repository.DeploymentRepository](i),
			Deployer:    do.MustInvoke[remote.Deployer](i),
			Events:      do.MustInvoke[events.Publisher](i),
			Health:      cfg.Rollback.Health,
			Log:         log.With().Str("component", "rollback").Logger(),
		}), nil
	})

	do.Provide(injector, func(i *do.Injector) (poller.CommitSource, error) {
		return poller.NewGitHubSource(poller.GitHubOptions{Token: cfg.Poller.GitHubToken, BaseURL: cfg.Poller.GitHubURL})
	})
	do.Provide(injector, func(i *do.Injector) (*poller.Poller, error) {
		watches, err := cfg.Watches()
		if err != nil {
			return nil, err
		}
		trigger := do.MustInvoke[usecase.TriggerPipelineUsecase](i)
		return poller.New(poller.Options{
			Source:   do.MustInvoke[poller.CommitSource](i),
			Launcher: poller.LauncherFunc(trigger.Execute),
			Interval: cfg.Poller.Interval,
			Watches:  watches,
			Log:      log.With().Str("component", "poller").Logger(),
		})
	})

	do.Provide(injector, usecase.NewTriggerPipelineUsecase)
	do.Provide(injector, usecase.NewListPipelineUsecase)
	do.Provide(injector, usecase.NewGetPipelineUsecase)
	do.Provide(injector, usecase.NewCancelPipelineUsecase)
	do.Provide(injector, usecase.NewRollbackPipelineUsecase)
	do.Provide(injector, usecase.NewPreviewRollbackUsecase)
	do.Provide(injector, usecase.NewGetCurrentDeploymentUsecase)
	do.Provide(injector, usecase.NewListDeploymentHistoryUsecase)
	do.Provide(injector, usecase.NewGetDeploymentUsecase)
}

func (s *Server) registerRoutes(injector *do.Injector) {
	routes.RegisterMisc(injector, s.e)
	routes.RegisterPipelineAPI(injector, s.e)
	routes.RegisterDeploymentAPI(injector, s.e)
	routes.RegisterWebhooks(injector, s.e)
	routes.RegisterPollerAPI(injector, s.e)
	routes.RegisterVMAPI(injector, s.e)
	routes.RegisterEvents(injector, s.e)
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo { return s.e }

// RunBackground starts the event broker and, when enabled, the poller.
func (s *Server) RunBackground(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go do.MustInvoke[*events.Broker](s.injector).Run(ctx)
	if s.config.App.Poller.Enabled {
		do.MustInvoke[*poller.Poller](s.injector).Start(ctx)
	} else {
		s.config.Logger.Info().Msg("git polling is disabled")
	}
}

func (s *Server) Start() error {
	addr := s.config.App.Listen
	s.config.Logger.Info().Str("addr", addr).Str("mode", string(s.mode())).Msg("starting server")
	return s.e.Start(addr)
}

// Stop shuts the HTTP listener and the poller, then waits for in-flight
// pipelines until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	err := s.e.Shutdown(ctx)
	do.MustInvoke[*poller.Poller](s.injector).Stop()

	done := make(chan struct{})
	go func() {
		do.MustInvoke[*runner.Runner](s.injector).Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		running := do.MustInvoke[*runner.Runner](s.injector).Running()
		s.config.Logger.Warn().
			Strs("pipelines", lo.Map(running, func(id entity.ID, _ int) string { return id.String() })).
			Msg("shutdown deadline reached with pipelines still running")
	}
	if s.cancel != nil {
		s.cancel()
	}
	return err
}

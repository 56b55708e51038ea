// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/ManimStudio/internal/api"
	"github.com/Corphon/ManimStudio/internal/config"
	"github.com/Corphon/ManimStudio/internal/di"
	"github.com/Corphon/ManimStudio/internal/prompts"
	"github.com/Corphon/ManimStudio/internal/renderer"
	"github.com/Corphon/ManimStudio/internal/renderer/docker"
	"github.com/Corphon/ManimStudio/internal/services"
	"github.com/Corphon/ManimStudio/internal/storage"
	"github.com/Corphon/ManimStudio/internal/utils"
)

const startupCheckTimeout = 30 * time.Second

type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// closableRenderer is a renderer holding a client connection
type closableRenderer interface {
	renderer.Renderer
	io.Closer
}

// newRenderer is swapped in tests
var newRenderer = func(cfg config.RenderConfig) (closableRenderer, error) {
	runner, err := docker.New(docker.Config{
		Image:         cfg.Image,
		ContainerRoot: cfg.ContainerRoot,
		User:          cfg.User,
		Timeout:       cfg.Timeout,
		PullImage:     cfg.PullImage,
	})
	if err != nil {
		return nil, err
	}
	return runner, nil
}

// App owns the server lifecycle
type App struct {
	config   *config.Config
	router   http.Handler
	server   httpServer
	stopChan chan os.Signal
}

var (
	instance   *App
	instanceMu sync.Mutex
)

// GetApp returns the process-wide application
func GetApp() *App {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance == nil {
		instance = &App{stopChan: make(chan os.Signal, 1)}
	}
	return instance
}

// Initialize sets up logging, services and the HTTP server for cfg
func Initialize(ctx context.Context, cfg *config.Config) error {
	a := GetApp()
	a.config = cfg

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := initLogger(cfg); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := InitServices(ctx, cfg); err != nil {
		return fmt.Errorf("init services: %w", err)
	}

	router, err := api.SetupRouter(cfg)
	if err != nil {
		return fmt.Errorf("setup router: %w", err)
	}
	a.router = router
	a.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

func initLogger(cfg *config.Config) error {
	logger := utils.GetLogger()
	logger.SetLogLevel(utils.ParseLogLevel(cfg.LogLevel))
	logger.SetFormat(utils.LogFormat(cfg.LogFormat))

	if cfg.LogDir == "" {
		return nil
	}
	name := fmt.Sprintf("manimstudio_%s.log", time.Now().Format("2006-01-02"))
	return utils.InitLogger(filepath.Join(cfg.LogDir, name))
}

// InitServices builds every service in dependency order and registers it in the container
func InitServices(ctx context.Context, cfg *config.Config) error {
	container := di.GetContainer()
	logger := utils.GetLogger()

	metrics := utils.NewRunMetrics()
	container.Register("metrics", metrics)

	policy, err := prompts.Load(cfg.PromptPolicyFile)
	if err != nil {
		return fmt.Errorf("load prompt policy: %w", err)
	}

	llmService, err := services.NewLLMService(cfg.LLM, metrics)
	if err != nil {
		return err
	}
	container.Register("llm", llmService)

	generator := services.NewGeneratorService(llmService, policy)
	container.Register("generator", generator)

	render, err := newRenderer(cfg.Render)
	if err != nil {
		return fmt.Errorf("create renderer: %w", err)
	}
	container.Register("renderer", render)

	if cfg.Render.SkipPrecheck {
		logger.Warn("skipping renderer precheck", nil)
	} else {
		checkCtx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
		err := render.Check(checkCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("renderer precheck failed (is the docker daemon reachable?): %w", err)
		}
	}

	files, err := storage.NewFileStorage(cfg.WorkDir)
	if err != nil {
		return fmt.Errorf("prepare work dir: %w", err)
	}
	runs := services.NewRunStore(files)
	if marked, err := runs.MarkInterrupted(); err != nil {
		utils.GetLogger().Warn("could not recover interrupted runs", map[string]interface{}{"error": err.Error()})
	} else if marked > 0 {
		utils.GetLogger().Info("marked interrupted runs as failed", map[string]interface{}{"count": marked})
	}
	container.Register("runs", runs)

	pipeline := services.NewPipelineService(generator, render, files, runs, metrics, services.PipelineConfig{
		Quality:         cfg.Render.Quality,
		Scene:           cfg.Render.Scene,
		MaxPromptLength: cfg.MaxPromptLength,
	})
	container.Register("pipeline", pipeline)

	if cfg.Store.Enabled() {
		store, err := storage.NewObjectStore(cfg.Store)
		if err != nil {
			return fmt.Errorf("create object store: %w", err)
		}
		storeCtx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
		err = store.EnsureBucket(storeCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("ensure bucket %s: %w", store.Bucket(), err)
		}
		pipeline.SetPublisher(store)
		container.Register("object_store", store)
	}

	logger.Info("services initialized", map[string]interface{}{
		"provider":     llmService.GetProviderName(),
		"model":        llmService.GetDefaultModel(),
		"work_dir":     files.BaseDir,
		"render_image": cfg.Render.Image,
		"object_store": cfg.Store.Enabled(),
	})
	return nil
}

// Run serves until SIGINT/SIGTERM, then shuts down gracefully
func Run() error {
	a := GetApp()
	if a.server == nil {
		return errors.New("app not initialized")
	}
	logger := utils.GetLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if metrics, ok := di.GetContainer().Get("metrics").(*utils.RunMetrics); ok && a.config != nil {
		metrics.StartReporting(ctx, a.config.MetricsInterval)
	}

	signal.Notify(a.stopChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(a.stopChan)

	serveErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	if a.config != nil {
		logger.Infof("server listening on :%s", a.config.Port)
	}

	select {
	case err := <-serveErr:
		a.cleanup()
		return fmt.Errorf("server failed: %w", err)
	case sig := <-a.stopChan:
		logger.Info("shutting down", map[string]interface{}{"signal": sig.String()})
	}

	timeout := 30 * time.Second
	if a.config != nil && a.config.ShutdownTimeout > 0 {
		timeout = a.config.ShutdownTimeout
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), timeout)
	defer cancelShutdown()

	err := a.server.Shutdown(shutdownCtx)
	a.cleanup()
	if err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("server stopped", nil)
	return nil
}

// cleanup releases the renderer client and the log file
func (a *App) cleanup() {
	if closer, ok := di.GetContainer().Get("renderer").(io.Closer); ok {
		if err := closer.Close(); err != nil {
			utils.GetLogger().Warn("failed to close renderer", map[string]interface{}{"error": err.Error()})
		}
	}
	_ = utils.GetLogger().Close()
}

// IsDebugMode reports whether debug mode is on
func IsDebugMode() bool {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	return instance != nil && instance.config != nil && instance.config.DebugMode
}

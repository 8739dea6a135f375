package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"grimm.is/wgtunnel/internal/backend"
	"grimm.is/wgtunnel/internal/config"
	"grimm.is/wgtunnel/internal/engine"
	"grimm.is/wgtunnel/internal/logging"
	"grimm.is/wgtunnel/internal/platform"
	"grimm.is/wgtunnel/internal/rootshell"
	"grimm.is/wgtunnel/internal/state"
	"grimm.is/wgtunnel/internal/tools"
	"grimm.is/wgtunnel/internal/tunnel"
	"grimm.is/wgtunnel/internal/wgconf"
)

// kernelModulePath exists when the wireguard kernel module is loaded.
const kernelModulePath = "/sys/module/wireguard"

// LoadConfig reads the daemon configuration from path, or from the default
// location when path is empty.
func LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

// NewLogger builds the process logger from cfg and installs it as default.
func NewLogger(cfg *config.Config) *logging.Logger {
	lc := logging.DefaultConfig()
	if level, err := logging.ParseLevel(cfg.LogLevel); err == nil {
		lc.Level = level
	}
	lc.JSON = cfg.LogJSON
	logger := logging.New(lc)
	logging.SetDefault(logger)
	return logger
}

// App is the wired stack shared by the subcommands.
type App struct {
	Config  *config.Config
	Logger  *logging.Logger
	Shell   *rootshell.Shell
	Tools   *tools.Installer
	Backend backend.Backend
	Manager *tunnel.Manager
	Running *state.RunningTunnels

	store *state.SQLiteStore
}

// AppOptions adjusts NewApp.
type AppOptions struct {
	// OnStateChange is forwarded to the tunnel manager.
	OnStateChange func(name string, st backend.State)
}

// NewApp wires the privileged shell, the backend chosen by cfg and the
// tunnel manager, and loads the configured tunnels.
func NewApp(ctx context.Context, cfg *config.Config, opts AppOptions) (*App, error) {
	logger := NewLogger(cfg)
	app := &App{Config: cfg, Logger: logger}

	shellOpts := rootshell.DefaultOptions()
	shellOpts.Command = strings.Fields(cfg.Shell)
	shellOpts.BinDir = cfg.BinaryDir
	shellOpts.TempDir = cfg.TempDir
	shellOpts.Logger = logger.WithComponent("rootshell")
	app.Shell = rootshell.New(shellOpts)

	app.Tools = tools.New(cfg.BinaryDir, app.Shell, logger.WithComponent("tools"))
	if cfg.ToolsDir != "" {
		app.Tools.Locate = tools.FromDir(cfg.ToolsDir)
	}

	b, err := newBackend(cfg, app.Shell, app.Tools, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Backend = b

	store, err := state.NewSQLiteStore(state.DefaultOptions(cfg.StateDB))
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	app.store = store
	app.Running = state.NewRunningTunnels(store)

	app.Manager = tunnel.NewManager(b, tunnel.NewFileConfigStore(cfg.ConfigDir), tunnel.Options{
		RestoreOnBoot: cfg.RestoreOnBoot,
		Running:       app.Running,
		Logger:        logger.WithComponent("tunnel"),
		OnStateChange: opts.OnStateChange,
	})
	if err := app.Manager.Load(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// Close releases everything NewApp acquired.
func (a *App) Close() {
	if a.Manager != nil {
		a.Manager.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.Shell != nil {
		a.Shell.Stop()
	}
}

// IsEngine reports whether tunnels live inside this process.
func (a *App) IsEngine() bool {
	return a.Backend.Kind() == config.BackendEngine
}

// chooseBackend resolves "auto": the external tools when the kernel module
// is loaded, the embedded engine otherwise.
func chooseBackend(cfg *config.Config, moduleLoaded func() bool) string {
	if cfg.Backend != config.BackendAuto {
		return cfg.Backend
	}
	if moduleLoaded() {
		return config.BackendWgQuick
	}
	return config.BackendEngine
}

func kernelModuleLoaded() bool {
	_, err := os.Stat(kernelModulePath)
	return err == nil
}

func newBackend(cfg *config.Config, shell *rootshell.Shell, installer *tools.Installer, logger *logging.Logger) (backend.Backend, error) {
	switch chooseBackend(cfg, kernelModuleLoaded) {
	case config.BackendWgQuick:
		b := backend.NewWgQuickBackend(shell, installer, cfg.TempDir, logger.WithComponent("wgquick"))
		b.SetMultipleTunnels(cfg.MultipleTunnels)
		return b, nil
	default:
		plat, err := platform.NewHost(logger.WithComponent("platform"), uint32(cfg.Engine.FirewallMark))
		if err != nil {
			return nil, err
		}
		return backend.NewEngineBackend(
			engine.New(logger.WithComponent("engine")),
			plat,
			backend.NewShellActionHandler(shell, logger.WithComponent("actions")),
			wgconf.NewDNSResolver(),
			logger.WithComponent("engine"),
		), nil
	}
}

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/recpanel/internal/app"
	"github.com/loykin/recpanel/internal/config"
)

// loadConfig reads the config and applies run flag overrides.
func loadConfig(globalFlags *GlobalFlags, flags *RunFlags) (*config.Config, error) {
	cfg, err := config.Load(globalFlags.ConfigPath)
	if err != nil {
		return nil, err
	}
	if flags == nil {
		return cfg, nil
	}
	if flags.NoTray {
		cfg.Tray.Enabled = false
	}
	if flags.Grace > 0 {
		cfg.Recorder.GracePeriod = flags.Grace
	}
	return cfg, nil
}

// setupLogger builds the application logger: stderr plus the rotating app log
// when one is configured. The returned closer releases the log file.
func setupLogger(cfg *config.Config) (*slog.Logger, io.Closer) {
	lc := cfg.LoggerConfig(os.Stderr)
	appW, _, err := lc.Writers(cfg.Recorder.Name)
	if err != nil || appW == nil {
		return lc.NewSlogger(), io.NopCloser(nil)
	}
	return lc.NewSlogger(appW), appW
}

func runPanel(cmd *cobra.Command, globalFlags *GlobalFlags, flags *RunFlags) error {
	cfg, err := loadConfig(globalFlags, flags)
	if err != nil {
		return err
	}
	logger, closer := setupLogger(cfg)
	defer func() { _ = closer.Close() }()
	slog.SetDefault(logger)

	a, err := app.New(cfg, app.Options{
		In:            cmd.InOrStdin(),
		Out:           cmd.OutOrStdout(),
		Logger:        logger,
		Autostart:     flags.Autostart,
		HandleSignals: true,
	})
	if err != nil {
		return err
	}
	logger.Info("Control panel started", "config", cfg.Path, "workdir", cfg.Recorder.WorkDir)
	err = a.Run(cmd.Context())
	logger.Info("Control panel stopped")
	return err
}

// checkConfig validates the configuration and prints the command a start
// would launch.
func checkConfig(w io.Writer, globalFlags *GlobalFlags) error {
	cfg, err := loadConfig(globalFlags, nil)
	if err != nil {
		return err
	}
	c, err := cfg.Command()
	if err != nil {
		return err
	}
	source := cfg.Path
	if source == "" {
		source = "(defaults)"
	}
	_, _ = fmt.Fprintf(w, "config:      %s\n", source)
	_, _ = fmt.Fprintf(w, "executable:  %s\n", c.Path)
	_, _ = fmt.Fprintf(w, "args:        %s\n", strings.Join(c.Args, " "))
	_, _ = fmt.Fprintf(w, "workdir:     %s\n", c.Dir)
	_, _ = fmt.Fprintf(w, "grace:       %s\n", cfg.Recorder.GracePeriod)
	_, _ = fmt.Fprintf(w, "environment: %d variable(s)\n", len(c.Env))
	return nil
}

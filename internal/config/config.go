package config

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/recpanel/internal/env"
	"github.com/loykin/recpanel/internal/logger"
	"github.com/loykin/recpanel/internal/supervisor"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Recorder   RecorderConfig   `toml:"recorder" mapstructure:"recorder"`
	Log        LogConfig        `toml:"log" mapstructure:"log"`
	Transcript TranscriptConfig `toml:"transcript" mapstructure:"transcript"`
	Console    ConsoleConfig    `toml:"console" mapstructure:"console"`
	History    HistoryConfig    `toml:"history" mapstructure:"history"`
	Metrics    MetricsConfig    `toml:"metrics" mapstructure:"metrics"`
	HTTP       HTTPConfig       `toml:"http" mapstructure:"http"`
	Tray       TrayConfig       `toml:"tray" mapstructure:"tray"`
}

type RecorderConfig struct {
	Name string `toml:"name" mapstructure:"name"`
	// Script is passed as the first argument to Interpreter. With an empty
	// Interpreter the script is executed directly.
	Script         string        `toml:"script" mapstructure:"script"`
	Interpreter    string        `toml:"interpreter" mapstructure:"interpreter"`
	Args           []string      `toml:"args" mapstructure:"args"`
	WorkDir        string        `toml:"workdir" mapstructure:"workdir"`
	GracePeriod    time.Duration `toml:"grace_period" mapstructure:"grace_period"`
	FlushTimeout   time.Duration `toml:"flush_timeout" mapstructure:"flush_timeout"`
	Env            []string      `toml:"env" mapstructure:"env"`
	EnvFiles       []string      `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv       bool          `toml:"use_os_env" mapstructure:"use_os_env"`
	OutputEncoding string        `toml:"output_encoding" mapstructure:"output_encoding"`
	PIDFile        string        `toml:"pidfile" mapstructure:"pidfile"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      string `toml:"color" mapstructure:"color"` // auto, always, never
	TimeStamps bool   `toml:"timestamps" mapstructure:"timestamps"`
	Source     bool   `toml:"source" mapstructure:"source"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// TranscriptConfig names the file receiving every log view line. Rotation
// follows the [log] settings.
type TranscriptConfig struct {
	Path string `toml:"path" mapstructure:"path"`
}

type ConsoleConfig struct {
	MaxLines   int    `toml:"max_lines" mapstructure:"max_lines"`
	Timestamps bool   `toml:"timestamps" mapstructure:"timestamps"`
	Color      string `toml:"color" mapstructure:"color"`
}

type HistoryConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	DSN     string `toml:"dsn" mapstructure:"dsn"`
}

type MetricsConfig struct {
	Enabled        bool          `toml:"enabled" mapstructure:"enabled"`
	Listen         string        `toml:"listen" mapstructure:"listen"`
	SampleInterval time.Duration `toml:"sample_interval" mapstructure:"sample_interval"`
}

type HTTPConfig struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type TrayConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Title   string `toml:"title" mapstructure:"title"`
	Notify  bool   `toml:"notify" mapstructure:"notify"`
}

// Config is the loaded configuration together with its origin.
type Config struct {
	FileConfig
	// Path is the file the configuration was read from; empty for defaults only.
	Path string
}

// EnvPrefix prefixes environment overrides, e.g. RECPANEL_RECORDER_GRACE_PERIOD.
const EnvPrefix = "RECPANEL"

func setDefaults(v *viper.Viper) {
	v.SetDefault("recorder.name", supervisor.DefaultName)
	v.SetDefault("recorder.script", "main.py")
	v.SetDefault("recorder.interpreter", "python")
	v.SetDefault("recorder.args", []string{})
	v.SetDefault("recorder.workdir", "")
	v.SetDefault("recorder.grace_period", supervisor.DefaultGracePeriod)
	v.SetDefault("recorder.flush_timeout", supervisor.DefaultFlushTimeout)
	v.SetDefault("recorder.env", []string{})
	v.SetDefault("recorder.env_files", []string{})
	v.SetDefault("recorder.use_os_env", true)
	v.SetDefault("recorder.output_encoding", "utf-8")
	v.SetDefault("recorder.pidfile", "")

	v.SetDefault("log.level", string(logger.LevelInfo))
	v.SetDefault("log.format", string(logger.FormatText))
	v.SetDefault("log.color", "auto")
	v.SetDefault("log.timestamps", true)
	v.SetDefault("log.source", false)
	v.SetDefault("log.dir", "")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("transcript.path", "")

	v.SetDefault("console.max_lines", 1000)
	v.SetDefault("console.timestamps", true)
	v.SetDefault("console.color", "auto")

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsn", "")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9464")
	v.SetDefault("metrics.sample_interval", 5*time.Second)

	v.SetDefault("http.enabled", false)
	v.SetDefault("http.listen", "127.0.0.1:8787")
	v.SetDefault("http.base_path", "/api")

	v.SetDefault("tray.enabled", true)
	v.SetDefault("tray.title", "recpanel")
	v.SetDefault("tray.notify", true)
}

// Load reads the TOML file at path (optional) on top of the defaults, applies
// RECPANEL_* environment overrides, resolves relative paths against the
// file's directory and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c := &Config{FileConfig: fc, Path: path}
	c.resolvePaths()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) baseDir() string {
	if c.Path == "" {
		return ""
	}
	return filepath.Dir(c.Path)
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.baseDir() == "" {
		return p
	}
	return filepath.Join(c.baseDir(), p)
}

func (c *Config) resolvePaths() {
	r := &c.Recorder
	r.WorkDir = c.resolve(r.WorkDir)
	if r.WorkDir == "" {
		r.WorkDir = c.baseDir()
	}
	r.PIDFile = c.resolve(r.PIDFile)
	for i, f := range r.EnvFiles {
		r.EnvFiles[i] = c.resolve(f)
	}
	c.Log.Dir = c.resolve(c.Log.Dir)
	c.Log.File = c.resolve(c.Log.File)
	c.Transcript.Path = c.resolve(c.Transcript.Path)
}

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}
	r := c.Recorder
	if strings.TrimSpace(r.Script) == "" && strings.TrimSpace(r.Interpreter) == "" {
		add("recorder.script or recorder.interpreter is required")
	}
	if r.GracePeriod <= 0 {
		add("recorder.grace_period must be positive, got %s", r.GracePeriod)
	}
	if r.FlushTimeout <= 0 {
		add("recorder.flush_timeout must be positive, got %s", r.FlushTimeout)
	}
	if _, err := supervisor.LookupEncoding(r.OutputEncoding); err != nil {
		add("recorder.output_encoding: %v", err)
	}
	switch logger.Format(c.Log.Format) {
	case logger.FormatText, logger.FormatJSON:
	default:
		add("log.format must be text or json, got %q", c.Log.Format)
	}
	for key, mode := range map[string]string{"log.color": c.Log.Color, "console.color": c.Console.Color} {
		switch mode {
		case "auto", "always", "never":
		default:
			add("%s must be auto, always or never, got %q", key, mode)
		}
	}
	if c.Console.MaxLines < 0 {
		add("console.max_lines must not be negative")
	}
	if c.History.Enabled && c.History.DSN == "" {
		add("history.dsn is required when history is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		add("metrics.listen is required when metrics are enabled")
	}
	if c.HTTP.Enabled && c.HTTP.Listen == "" {
		add("http.listen is required when the http api is enabled")
	}
	if c.HTTP.BasePath != "" && !strings.HasPrefix(c.HTTP.BasePath, "/") {
		add("http.base_path must start with '/', got %q", c.HTTP.BasePath)
	}
	return errors.Join(errs...)
}

// Environment composes the child environment: OS env (when use_os_env),
// then env_files in order, then the env list, then extra.
func (c *Config) Environment(extra ...string) ([]string, error) {
	e := env.New()
	if !c.Recorder.UseOSEnv {
		e.WithoutOS()
	}
	for _, p := range c.Recorder.EnvFiles {
		vars, err := env.LoadFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		for k, v := range vars {
			e.Set(k, v)
		}
	}
	e.SetAll(c.Recorder.Env)
	return e.Merge(extra), nil
}

// Command resolves the interpreter and builds the launch command.
func (c *Config) Command() (supervisor.Command, error) {
	r := c.Recorder
	var cmd supervisor.Command
	cmd.Dir = r.WorkDir

	var extra []string
	if r.Interpreter == "" {
		cmd.Path = r.Script
		if !filepath.IsAbs(cmd.Path) && r.WorkDir != "" && strings.ContainsRune(cmd.Path, filepath.Separator) {
			cmd.Path = filepath.Join(r.WorkDir, cmd.Path)
		}
		cmd.Args = append([]string(nil), r.Args...)
	} else {
		interp, err := supervisor.ResolveInterpreter(r.WorkDir, r.Interpreter)
		if err != nil {
			return supervisor.Command{}, err
		}
		cmd.Path = interp
		if r.Script != "" {
			cmd.Args = append(cmd.Args, r.Script)
		}
		cmd.Args = append(cmd.Args, r.Args...)
		if supervisor.IsPython(interp) {
			// line-buffered output so the log view updates live
			extra = append(extra, "PYTHONUNBUFFERED=1")
		}
	}

	environ, err := c.Environment(extra...)
	if err != nil {
		return supervisor.Command{}, err
	}
	cmd.Env = environ
	return cmd, nil
}

// ColorEnabled resolves an auto/always/never mode for w.
func ColorEnabled(mode string, w io.Writer) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		return logger.AutoColor(w)
	}
}

// LoggerConfig maps the [log] and [transcript] sections to logger.Config.
func (c *Config) LoggerConfig(out io.Writer) logger.Config {
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      logger.Level(c.Log.Level),
			Format:     logger.Format(c.Log.Format),
			Color:      ColorEnabled(c.Log.Color, out),
			TimeStamps: c.Log.TimeStamps,
			Source:     c.Log.Source,
			Output:     out,
		},
		File: logger.FileConfig{
			Dir:            c.Log.Dir,
			AppLogPath:     c.Log.File,
			TranscriptPath: c.Transcript.Path,
			MaxSizeMB:      c.Log.MaxSizeMB,
			MaxBackups:     c.Log.MaxBackups,
			MaxAgeDays:     c.Log.MaxAgeDays,
			Compress:       c.Log.Compress,
		},
	}
}

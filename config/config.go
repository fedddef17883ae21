// Package config loads bridge settings from the environment and an
// optional YAML file. Command-line flags are applied on top by the CLI.
//
// Precedence, lowest first: built-in defaults, SIMPLICITY_* environment
// variables, the YAML file, flags.
package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	bridge "github.com/wippyai/simplicity-bridge"
	"github.com/wippyai/simplicity-bridge/errors"
	"github.com/wippyai/simplicity-bridge/registry"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "SIMPLICITY_"

// maxFileSize bounds the YAML file.
const maxFileSize = 1 << 20

// Log formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config holds every setting the hosts and the CLI read.
type Config struct {
	// DistDir holds the module/glue pairs.
	DistDir   string `env:"DIST_DIR" envDefault:"dist" yaml:"dist_dir"`
	Selection string `env:"SELECTION" envDefault:"newest" yaml:"selection"`
	Mode      string `env:"MODE" envDefault:"release" yaml:"mode"`

	HTTPAddr  string `env:"HTTP_ADDR" envDefault:"127.0.0.1:8080" yaml:"http_addr"`
	RelayURL  string `env:"RELAY_URL" yaml:"relay_url"`
	PageTitle string `env:"PAGE_TITLE" yaml:"page_title"`

	// CallTimeout bounds one module call. 0 disables the bound.
	CallTimeout      time.Duration `env:"CALL_TIMEOUT" envDefault:"30s" yaml:"call_timeout"`
	MemoryLimitPages uint32        `env:"MEMORY_LIMIT_PAGES" yaml:"memory_limit_pages"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" yaml:"log_level"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console" yaml:"log_format"`

	// Watch reloads the build when the dist directory changes.
	Watch       bool `env:"WATCH" yaml:"watch"`
	TraceStdout bool `env:"TRACE_STDOUT" yaml:"trace_stdout"`
}

// Load reads the environment and then, if path is not empty, the YAML
// file at path. The result is not validated.
func Load(path string) (*Config, error) {
	cfg, err := FromEnv(nil)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path(path).Detail("open config file").Cause(err).Build()
	}
	defer f.Close()
	if err := cfg.Overlay(f); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv parses configuration from environ, a map of variable names to
// values. A nil map reads the process environment.
func FromEnv(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("parse environment").Cause(err).Build()
	}
	return cfg, nil
}

// Overlay applies YAML from r. Keys absent from the document keep their
// current values; unknown keys are rejected.
func (c *Config) Overlay(r io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(r, maxFileSize+1))
	if err != nil {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("read config file").Cause(err).Build()
	}
	if len(data) > maxFileSize {
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("config file exceeds %d bytes", maxFileSize))
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !stderrors.Is(err, io.EOF) {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("decode config file").Cause(err).Build()
	}
	return nil
}

// Policy returns the parsed selection policy.
func (c *Config) Policy() (registry.Policy, error) {
	return registry.ParsePolicy(c.Selection)
}

// Level returns the parsed log level.
func (c *Config) Level() (zapcore.Level, error) {
	return zapcore.ParseLevel(c.LogLevel)
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DistDir) == "" {
		errs = append(errs, invalid("dist_dir", "must not be empty"))
	}
	if _, err := c.Policy(); err != nil {
		errs = append(errs, invalid("selection", fmt.Sprintf("must be %q or %q, got %q", registry.Newest, registry.Strict, c.Selection)))
	}
	switch c.Mode {
	case bridge.ModeRelease, bridge.ModeDebug:
	default:
		errs = append(errs, invalid("mode", fmt.Sprintf("must be %q or %q, got %q", bridge.ModeRelease, bridge.ModeDebug, c.Mode)))
	}
	if c.CallTimeout < 0 {
		errs = append(errs, invalid("call_timeout", "must not be negative"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, invalid("log_level", err.Error()))
	}
	switch c.LogFormat {
	case FormatConsole, FormatJSON:
	default:
		errs = append(errs, invalid("log_format", fmt.Sprintf("must be %q or %q, got %q", FormatConsole, FormatJSON, c.LogFormat)))
	}
	return stderrors.Join(errs...)
}

// ValidateServe additionally checks the settings of the HTTP shells.
func (c *Config) ValidateServe() error {
	err := c.Validate()
	if strings.TrimSpace(c.HTTPAddr) == "" {
		err = stderrors.Join(err, invalid("http_addr", "must not be empty"))
	}
	return err
}

func invalid(key, detail string) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).Path(key).Detail("%s", detail).Build()
}

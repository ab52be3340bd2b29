// Package config provides the murmur server configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/murmur/limits"
	"github.com/opd-ai/murmur/relay"
)

const (
	defaultAddress        = "0.0.0.0:4000"
	defaultLogLevel       = "INFO"
	defaultPollIntervalMs = 10
	defaultStepTimeoutMs  = 5000
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Server is the relay server configuration.
type Server struct {
	// Address is the host:port to listen on.
	Address string

	// Capacity is the maximum number of connected clients.
	Capacity int

	// DefaultLabel is the identity label prepended to relayed messages.
	DefaultLabel string

	// PollIntervalMs is how long an idle slot waits for input, in
	// milliseconds, before checking for outgoing messages.
	PollIntervalMs int

	// StepTimeoutMs bounds each blocking step of an exchange, in
	// milliseconds. A negative value disables the bound.
	StepTimeoutMs int
}

func (sCfg *Server) applyDefaults() {
	if sCfg.Address == "" {
		sCfg.Address = defaultAddress
	}
	if sCfg.Capacity == 0 {
		sCfg.Capacity = relay.DefaultCapacity
	}
	if sCfg.DefaultLabel == "" {
		sCfg.DefaultLabel = relay.DefaultLabel
	}
	if sCfg.PollIntervalMs == 0 {
		sCfg.PollIntervalMs = defaultPollIntervalMs
	}
	if sCfg.StepTimeoutMs == 0 {
		sCfg.StepTimeoutMs = defaultStepTimeoutMs
	}
}

func (sCfg *Server) validate() error {
	if _, _, err := net.SplitHostPort(sCfg.Address); err != nil {
		return fmt.Errorf("config: Server: Address '%v' is invalid: %v", sCfg.Address, err)
	}
	if sCfg.Capacity < 1 {
		return fmt.Errorf("config: Server: Capacity %d is invalid", sCfg.Capacity)
	}
	if err := limits.ValidateLabel(sCfg.DefaultLabel); err != nil {
		return fmt.Errorf("config: Server: DefaultLabel '%v' is invalid: %v", sCfg.DefaultLabel, err)
	}
	if sCfg.PollIntervalMs < 1 {
		return fmt.Errorf("config: Server: PollIntervalMs %d is invalid", sCfg.PollIntervalMs)
	}
	return nil
}

// SetPort replaces the port of Address.
func (sCfg *Server) SetPort(port uint16) error {
	host, _, err := net.SplitHostPort(sCfg.Address)
	if err != nil {
		return fmt.Errorf("config: Server: Address '%v' is invalid: %v", sCfg.Address, err)
	}
	sCfg.Address = net.JoinHostPort(host, strconv.Itoa(int(port)))
	return nil
}

// Options converts the section into relay server options.
func (sCfg *Server) Options() *relay.Options {
	step := time.Duration(sCfg.StepTimeoutMs) * time.Millisecond
	if sCfg.StepTimeoutMs < 0 {
		step = -1
	}
	return &relay.Options{
		Capacity:     sCfg.Capacity,
		DefaultLabel: sCfg.DefaultLabel,
		PollInterval: time.Duration(sCfg.PollIntervalMs) * time.Millisecond,
		StepTimeout:  step,
	}
}

// Logging is the murmur logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stderr will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl // Force uppercase.
	return nil
}

// Apply configures the standard logrus logger. A log file stays open for
// the life of the process.
func (lCfg *Logging) Apply() error {
	if lCfg.Disable {
		logrus.SetOutput(io.Discard)
		return nil
	}

	level, err := logrus.ParseLevel(lCfg.Level)
	if err != nil {
		return fmt.Errorf("config: Logging: %v", err)
	}
	logrus.SetLevel(level)

	if lCfg.File == "" {
		logrus.SetOutput(os.Stderr)
		return nil
	}

	f, err := os.OpenFile(lCfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("config: Logging: failed to open log file: %v", err)
	}
	logrus.SetOutput(f)
	return nil
}

// Metrics is the Prometheus endpoint configuration.
type Metrics struct {
	// Address is the host:port serving /metrics. Empty disables it.
	Address string
}

func (mCfg *Metrics) validate() error {
	if mCfg.Address == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(mCfg.Address); err != nil {
		return fmt.Errorf("config: Metrics: Address '%v' is invalid: %v", mCfg.Address, err)
	}
	return nil
}

// Config is the top level murmur server configuration.
type Config struct {
	Server  *Server
	Logging *Logging
	Metrics *Metrics
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := new(Config)
	if err := cfg.FixupAndValidate(); err != nil {
		panic(err)
	}
	return cfg
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration. Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Server == nil {
		cfg.Server = &Server{}
	}
	if cfg.Logging == nil {
		logging := defaultLogging
		cfg.Logging = &logging
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &Metrics{}
	}

	cfg.Server.applyDefaults()
	if err := cfg.Server.validate(); err != nil {
		return err
	}
	if err := cfg.Logging.validate(); err != nil {
		return err
	}
	return cfg.Metrics.validate()
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("config: no nil buffer as config file")
	}

	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}

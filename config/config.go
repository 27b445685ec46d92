// Package config defines the shape of the core's tunables. Loading
// values from flags, environment variables or a config file is
// explicitly out of scope — that is the embedding application's CLI
// layer. This package only defines the struct, its documented defaults,
// and structural validation.
package config

import (
	"fmt"
	"net"
	"net/url"
	"runtime"
	"time"
)

// LogMode mirrors log.Mode without importing the log package, so
// config has no dependency on logging internals.
type LogMode string

const (
	LogDisabled LogMode = "disabled"
	LogConsole  LogMode = "console"
	LogFile     LogMode = "file"
	LogBoth     LogMode = "both"
)

type Config struct {
	BlockEngineURL string
	AuthURL        string // defaults to BlockEngineURL when empty
	AuthKeypairPath string
	DesiredRegions []string

	SrcBindAddr string
	SrcBindPort uint16

	NumThreads int // 0 means "use Default()'s computed value"

	MetricsReportInterval time.Duration
	DebugTraceShred       bool
	PublicIP               string // empty: the advertised forward address uses SrcBindAddr; no public-IP detection is done
	LogMode                LogMode

	// EnableWSCompare toggles the optional WebSocket comparison
	// subscriber used to benchmark detection latency against a
	// secondary feed. Off by default.
	EnableWSCompare bool
}

// Default returns the documented production defaults.
func Default() Config {
	return Config{
		BlockEngineURL:        "https://ny.mainnet.block-engine.jito.wtf",
		AuthKeypairPath:       "shred.key.json",
		DesiredRegions:        []string{"ny"},
		SrcBindAddr:           "0.0.0.0",
		SrcBindPort:           20000,
		NumThreads:            defaultNumThreads(),
		MetricsReportInterval: 15 * time.Second,
		DebugTraceShred:       false,
		LogMode:               LogBoth,
		EnableWSCompare:       false,
	}
}

func defaultNumThreads() int {
	n := runtime.GOMAXPROCS(0)
	if n > 4 {
		return 4
	}
	if n < 1 {
		return 1
	}
	return n
}

// EffectiveAuthURL returns AuthURL, falling back to BlockEngineURL.
func (c Config) EffectiveAuthURL() string {
	if c.AuthURL == "" {
		return c.BlockEngineURL
	}
	return c.AuthURL
}

// EffectiveNumThreads resolves NumThreads against hardware parallelism:
// min(num_threads_config, hardware_parallelism, 4).
func (c Config) EffectiveNumThreads() int {
	n := c.NumThreads
	if n <= 0 {
		n = defaultNumThreads()
	}
	if hp := runtime.GOMAXPROCS(0); n > hp {
		n = hp
	}
	if n > 4 {
		n = 4
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Validate performs structural checks the core's constructor relies on.
func (c Config) Validate() error {
	if c.BlockEngineURL == "" {
		return fmt.Errorf("config: block_engine_url is required")
	}
	if _, err := url.Parse(c.BlockEngineURL); err != nil {
		return fmt.Errorf("config: invalid block_engine_url: %w", err)
	}
	if c.AuthKeypairPath == "" {
		return fmt.Errorf("config: auth_keypair is required")
	}
	if net.ParseIP(c.SrcBindAddr) == nil {
		return fmt.Errorf("config: invalid src_bind_addr %q", c.SrcBindAddr)
	}
	if c.PublicIP != "" && net.ParseIP(c.PublicIP) == nil {
		return fmt.Errorf("config: invalid public_ip %q", c.PublicIP)
	}
	switch c.LogMode {
	case LogDisabled, LogConsole, LogFile, LogBoth:
	default:
		return fmt.Errorf("config: invalid log_mode %q", c.LogMode)
	}
	return nil
}

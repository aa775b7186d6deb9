// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads debugd configuration from a YAML file with
// environment variable overrides. Flags beat environment, environment
// beats file, file beats defaults; the merge here covers the last
// three and the command layer applies flags on top.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/tombee/debugd/pkg/errors"
)

// Environment variable overrides.
const (
	// EnvHost overrides the peer host to dial.
	EnvHost = "DEBUGD_HOST"

	// EnvPort overrides the peer port to dial.
	EnvPort = "DEBUGD_PORT"
)

// DefaultPort is the conventional debug server port.
const DefaultPort = 42424

// Config is the root configuration.
type Config struct {
	Connect  Connect `yaml:"connect"`
	Passive  Passive `yaml:"passive"`
	Run      Run     `yaml:"run"`
	Coverage Store   `yaml:"coverage"`
	Profile  Store   `yaml:"profile"`
}

// Connect describes how to reach the debugger peer.
type Connect struct {
	// Host is the peer hostname or address. It may carry an "@@v4"
	// or "@@v6" suffix forcing the IP version during resolution.
	Host string `yaml:"host"`

	// Port is the peer TCP port.
	Port int `yaml:"port"`

	// Redirect sends program output to the peer instead of the
	// local streams.
	Redirect bool `yaml:"redirect"`
}

// Passive configures passive mode, where the debuggee starts first
// and the IDE attaches to it.
type Passive struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Run holds debuggee execution defaults.
type Run struct {
	// ReportExceptions enables exception stops.
	ReportExceptions bool `yaml:"report_exceptions"`

	// HonorCoding obeys source file coding declarations.
	HonorCoding bool `yaml:"honor_coding"`

	// DefaultCoding applies to files without a declaration.
	DefaultCoding string `yaml:"default_coding"`

	// MaxDepth is the debuggee call recursion limit, 0 for the
	// interpreter default.
	MaxDepth int `yaml:"max_depth"`

	// FollowChild selects the child branch at fork points when fork
	// following is automatic.
	FollowChild bool `yaml:"follow_child"`
}

// Store locates an on-disk data store.
type Store struct {
	Path string `yaml:"path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Connect: Connect{
			Host:     "127.0.0.1",
			Port:     DefaultPort,
			Redirect: true,
		},
		Passive: Passive{Port: DefaultPort},
		Run: Run{
			ReportExceptions: true,
			HonorCoding:      true,
			DefaultCoding:    "utf-8",
		},
	}
}

// Load reads path over the defaults and applies environment
// overrides. A missing file is not an error; an unreadable or invalid
// one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &errors.ConfigError{Key: path, Reason: "invalid YAML", Cause: err}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if host := os.Getenv(EnvHost); host != "" {
		cfg.Connect.Host = host
	}
	if port := os.Getenv(EnvPort); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.Connect.Port = n
		}
	}
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if c.Connect.Port < 1 || c.Connect.Port > 65535 {
		return &errors.ConfigError{
			Key:    "connect.port",
			Reason: fmt.Sprintf("port %d out of range", c.Connect.Port),
		}
	}
	if c.Passive.Port < 1 || c.Passive.Port > 65535 {
		return &errors.ConfigError{
			Key:    "passive.port",
			Reason: fmt.Sprintf("port %d out of range", c.Passive.Port),
		}
	}
	if c.Run.MaxDepth < 0 {
		return &errors.ConfigError{Key: "run.max_depth", Reason: "must not be negative"}
	}
	return nil
}

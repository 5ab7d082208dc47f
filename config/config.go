// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads jsdrvd's per-process service configuration: queue
// sizes, suppression mode, handshake timeouts, and calibration-database
// credentials.
package config // import "github.com/go-lpc/jsdrv/config"

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// QueueConfig sizes a device's inbound command/response channels.
type QueueConfig struct {
	CmdSize  int `yaml:"cmd_size"`
	RespSize int `yaml:"resp_size"`
}

// SuppressConfig configures the current-range suppressor for devices of
// the older generation that have one.
type SuppressConfig struct {
	Enabled bool   `yaml:"enabled"`
	Pre     int    `yaml:"pre"`
	Window  int    `yaml:"window"`
	Post    int    `yaml:"post"`
	Mode    string `yaml:"mode"` // "off", "nan", "interp"
	Matrix  string `yaml:"matrix"` // "aggressive", "conservative"
}

// TimeoutConfig holds the per-state handshake timeouts §9(a) leaves to the
// implementer.
type TimeoutConfig struct {
	PubSubFlush    time.Duration `yaml:"pubsub_flush"`
	LinkDisconnect time.Duration `yaml:"link_disconnect"`
	LLClosePend    time.Duration `yaml:"ll_close_pend"`
}

// MemOpConfig sizes the memory-op coordinator's write window.
type MemOpConfig struct {
	ChunkSize  int `yaml:"chunk_size"`
	BufferSize int `yaml:"buffer_size"`
}

// CalibConfig holds calibration-database connection parameters. Database is
// left empty to disable calibration lookup entirely.
type CalibConfig struct {
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// AlertConfig holds SMTP parameters for operator e-mail. Host left empty
// disables alerting.
type AlertConfig struct {
	Host string   `yaml:"host"`
	Port int      `yaml:"port"`
	User string   `yaml:"user"`
	Pass string   `yaml:"pass"`
	From string   `yaml:"from"`
	To   []string `yaml:"to"`
}

// MonitorConfig configures the self-process health sampler.
type MonitorConfig struct {
	Enabled bool          `yaml:"enabled"`
	Freq    time.Duration `yaml:"freq"`
}

// Config is jsdrvd's top-level service configuration.
type Config struct {
	Queue    QueueConfig    `yaml:"queue"`
	Suppress SuppressConfig `yaml:"suppress"`
	Timeout  TimeoutConfig  `yaml:"timeout"`
	MemOp    MemOpConfig    `yaml:"memop"`
	Calib    CalibConfig    `yaml:"calib"`
	Alert    AlertConfig    `yaml:"alert"`
	Monitor  MonitorConfig  `yaml:"monitor"`
}

// Default returns a Config with the values recommended by the design
// notes: 1s handshake timeouts, a write window matching scenario 6
// (chunk=486, buffer=8192), and calibration/alerting/monitoring disabled.
func Default() *Config {
	return &Config{
		Queue: QueueConfig{
			CmdSize:  256,
			RespSize: 256,
		},
		Suppress: SuppressConfig{
			Enabled: false,
			Pre:     1,
			Window:  7,
			Post:    1,
			Mode:    "interp",
			Matrix:  "conservative",
		},
		Timeout: TimeoutConfig{
			PubSubFlush:    time.Second,
			LinkDisconnect: time.Second,
			LLClosePend:    time.Second,
		},
		MemOp: MemOpConfig{
			ChunkSize:  486,
			BufferSize: 8192,
		},
		Monitor: MonitorConfig{
			Enabled: false,
			Freq:    time.Second,
		},
	}
}

// Load reads a YAML config file at path, falling back to Default on any
// read/parse error, then applies environment-variable overrides.
func Load(path string) *Config {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("jsdrv/config: no config at %q, using defaults", path)
		cfg.applyEnvOverrides()
		return cfg
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("jsdrv/config: error parsing %q: %+v, using defaults", path, err)
		cfg = Default()
	} else {
		log.Printf("jsdrv/config: loaded from %q", path)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// applyEnvOverrides lets deployment secrets (DB/SMTP credentials) be
// supplied without committing them to the YAML file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("JSDRV_CALIB_DATABASE"); v != "" {
		c.Calib.Database = v
	}
	if v := os.Getenv("JSDRV_CALIB_USER"); v != "" {
		c.Calib.User = v
	}
	if v := os.Getenv("JSDRV_CALIB_PASSWORD"); v != "" {
		c.Calib.Password = v
	}
	if v := os.Getenv("JSDRV_ALERT_HOST"); v != "" {
		c.Alert.Host = v
	}
	if v := os.Getenv("JSDRV_ALERT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Alert.Port = n
		}
	}
	if v := os.Getenv("JSDRV_ALERT_USER"); v != "" {
		c.Alert.User = v
	}
	if v := os.Getenv("JSDRV_ALERT_PASS"); v != "" {
		c.Alert.Pass = v
	}
}

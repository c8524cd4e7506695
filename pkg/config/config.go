package config

import (
	"time"
)

// Common holds the configuration keys shared by both daemons.
type Common struct {
	Host                 string
	Port                 int
	Password             string
	AlwaysAllowLocalhost bool
}

// WorkerConfig is the Worker daemon's full configuration.
type WorkerConfig struct {
	Common

	MasterHost             string
	MasterPort             int
	MasterReconnectTimeout time.Duration

	MySQLDSN        string
	MySQLFetchLimit int

	Launcher        string
	LauncherCwd     string
	LauncherEnv     []string // "KEY=VALUE" pairs, from launcher.env.*
	MaxOutputBuffer int

	// Targets maps a target name to its starting concurrency, from the
	// [targets] section.
	Targets map[string]int
}

// MasterConfig is the Master daemon's full configuration.
type MasterConfig struct {
	Common

	PingInterval         time.Duration
	PokeThrottleInterval time.Duration
}

// DefaultWorkerConfig returns the Worker's configuration with every
// documented default applied.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		Common:                 Common{Host: "0.0.0.0", Port: 7080},
		MasterHost:             "127.0.0.1",
		MasterPort:             7081,
		MasterReconnectTimeout: 5 * time.Second,
		MySQLFetchLimit:        100,
		MaxOutputBuffer:        1 << 20,
		Targets:                make(map[string]int),
	}
}

// DefaultMasterConfig returns the Master's configuration with every
// documented default applied.
func DefaultMasterConfig() *MasterConfig {
	return &MasterConfig{
		Common:               Common{Host: "0.0.0.0", Port: 7081},
		PingInterval:         30 * time.Second,
		PokeThrottleInterval: time.Second,
	}
}

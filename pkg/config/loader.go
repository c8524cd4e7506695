package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/relaywire/fabric/pkg/core"
)

// parsed is the intermediate representation of a config file: top-level
// key=value pairs plus named sections (currently only [targets] is
// recognized).
type parsed struct {
	values   map[string]string
	sections map[string]map[string]string
}

// parse reads a `key=value` / `[section]` file. Blank lines and lines
// starting with `#` are ignored. Values are not quoted or escaped; the
// format is deliberately minimal.
func parse(r io.Reader) (*parsed, error) {
	p := &parsed{values: make(map[string]string), sections: make(map[string]map[string]string)}

	scanner := bufio.NewScanner(r)
	section := ""
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(line[1 : len(line)-1])
			if _, ok := p.sections[section]; !ok {
				p.sections[section] = make(map[string]string)
			}
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("config line %d: expected key=value, got %q", lineNo, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if section == "" {
			p.values[key] = value
		} else {
			p.sections[section][key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *parsed) string(key, def string) string {
	if v, ok := p.values[key]; ok {
		return v
	}
	return def
}

func (p *parsed) int(key string, def int) (int, error) {
	v, ok := p.values[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config key %q: %w", key, err)
	}
	return n, nil
}

func (p *parsed) bool(key string, def bool) (bool, error) {
	v, ok := p.values[key]
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config key %q: %w", key, err)
	}
	return b, nil
}

func (p *parsed) seconds(key string, def time.Duration) (time.Duration, error) {
	v, ok := p.values[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config key %q: %w", key, err)
	}
	return time.Duration(n) * time.Second, nil
}

func (p *parsed) applyCommon(c *Common) error {
	c.Host = p.string("host", c.Host)
	port, err := p.int("port", c.Port)
	if err != nil {
		return err
	}
	c.Port = port
	c.Password = p.string("password", c.Password)
	allow, err := p.bool("always_allow_localhost", c.AlwaysAllowLocalhost)
	if err != nil {
		return err
	}
	c.AlwaysAllowLocalhost = allow
	return nil
}

// ParseWorkerConfig reads a Worker configuration file on top of
// DefaultWorkerConfig's values.
func ParseWorkerConfig(r io.Reader) (*WorkerConfig, error) {
	p, err := parse(r)
	if err != nil {
		return nil, err
	}

	cfg := DefaultWorkerConfig()
	if err := p.applyCommon(&cfg.Common); err != nil {
		return nil, err
	}

	cfg.MasterHost = p.string("master_host", cfg.MasterHost)
	port, err := p.int("master_port", cfg.MasterPort)
	if err != nil {
		return nil, err
	}
	cfg.MasterPort = port

	reconnect, err := p.seconds("master_reconnect_timeout", cfg.MasterReconnectTimeout)
	if err != nil {
		return nil, err
	}
	cfg.MasterReconnectTimeout = reconnect

	cfg.MySQLDSN = p.string("mysql_dsn", cfg.MySQLDSN)
	fetchLimit, err := p.int("mysql_fetch_limit", cfg.MySQLFetchLimit)
	if err != nil {
		return nil, err
	}
	cfg.MySQLFetchLimit = fetchLimit

	cfg.Launcher = p.string("launcher", cfg.Launcher)
	cfg.LauncherCwd = p.string("launcher.cwd", cfg.LauncherCwd)
	for key, value := range p.values {
		if strings.HasPrefix(key, "launcher.env.") {
			name := strings.TrimPrefix(key, "launcher.env.")
			cfg.LauncherEnv = append(cfg.LauncherEnv, name+"="+value)
		}
	}

	maxOutput, err := p.int("max_output_buffer", cfg.MaxOutputBuffer)
	if err != nil {
		return nil, err
	}
	cfg.MaxOutputBuffer = maxOutput

	for name, value := range p.sections["targets"] {
		if name == core.ReservedTargetName {
			return nil, core.ErrReservedTarget
		}
		c, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("target %q concurrency: %w", name, err)
		}
		cfg.Targets[name] = c
	}

	return cfg, nil
}

// ParseMasterConfig reads a Master configuration file on top of
// DefaultMasterConfig's values.
func ParseMasterConfig(r io.Reader) (*MasterConfig, error) {
	p, err := parse(r)
	if err != nil {
		return nil, err
	}

	cfg := DefaultMasterConfig()
	if err := p.applyCommon(&cfg.Common); err != nil {
		return nil, err
	}

	ping, err := p.seconds("ping_interval", cfg.PingInterval)
	if err != nil {
		return nil, err
	}
	cfg.PingInterval = ping

	throttle, err := p.seconds("poke_throttle_interval", cfg.PokeThrottleInterval)
	if err != nil {
		return nil, err
	}
	cfg.PokeThrottleInterval = throttle

	return cfg, nil
}

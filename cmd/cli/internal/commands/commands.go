package commands

import (
	"time"

	"github.com/wolfeidau/brandpilot/internal/client"
)

type Globals struct {
	Debug   bool
	Version string
}

// ClientFlags override values from the config file.
type ClientFlags struct {
	Config     string        `help:"path to the config file (default: ~/.config/brandpilot/config.yaml)" type:"path" env:"BRANDPILOT_CONFIG"`
	Server     string        `help:"server URL" env:"BRANDPILOT_SERVER_URL"`
	CronSecret string        `help:"scheduler shared secret" env:"CRON_SECRET"`
	Timeout    time.Duration `help:"request timeout"`
}

func (f *ClientFlags) configPath() (string, error) {
	if f.Config != "" {
		return f.Config, nil
	}
	return client.DefaultConfigPath()
}

// load reads the config file and applies any flags that were set.
func (f *ClientFlags) load() (client.Config, error) {
	path, err := f.configPath()
	if err != nil {
		return client.Config{}, err
	}

	cfg, err := client.LoadConfig(path)
	if err != nil {
		return client.Config{}, err
	}

	if f.Server != "" {
		cfg.ServerURL = f.Server
	}
	if f.CronSecret != "" {
		cfg.CronSecret = f.CronSecret
	}
	if f.Timeout > 0 {
		cfg.Timeout = f.Timeout
	}
	return cfg, nil
}

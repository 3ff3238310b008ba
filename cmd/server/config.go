package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the server configuration. Values come from defaults, then the
// optional YAML file, then any flag set explicitly on the command line.
type Config struct {
	Port int `yaml:"port"`

	Store struct {
		// "memory" or "sqlite"
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
	} `yaml:"store"`

	CORSOrigins []string `yaml:"cors_origins"`

	Sweep struct {
		Enabled  bool          `yaml:"enabled"`
		Interval time.Duration `yaml:"interval"`
	} `yaml:"sweep"`

	Notifier struct {
		QueueSize int `yaml:"queue_size"`
	} `yaml:"notifier"`

	// Disables the status history log
	DisableHistory bool `yaml:"disable_history"`
}

func defaultConfig() Config {
	var c Config
	c.Port = 8080
	c.Store.Driver = "sqlite"
	c.Store.Path = "deals.db"
	c.Sweep.Enabled = true
	c.Sweep.Interval = 15 * time.Minute
	c.Notifier.QueueSize = 256
	return c
}

// loadConfig parses args. -config names a YAML file; explicit flags win over it.
func loadConfig(args []string) (Config, error) {
	cfg := defaultConfig()

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file")
	port := fs.Int("port", cfg.Port, "HTTP server port")
	driver := fs.String("store", cfg.Store.Driver, "Record store: memory or sqlite")
	dbPath := fs.String("db", cfg.Store.Path, "SQLite database path (\":memory:\" for in-memory)")
	sweep := fs.Duration("sweep-interval", cfg.Sweep.Interval, "Delinquency sweep interval (0 disables)")
	queue := fs.Int("notify-queue", cfg.Notifier.QueueSize, "Notification queue size")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if *configPath != "" {
		raw, err := os.ReadFile(*configPath)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", *configPath, err)
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "store":
			cfg.Store.Driver = *driver
		case "db":
			cfg.Store.Path = *dbPath
		case "sweep-interval":
			cfg.Sweep.Interval = *sweep
		case "notify-queue":
			cfg.Notifier.QueueSize = *queue
		}
	})

	if cfg.Sweep.Interval <= 0 {
		cfg.Sweep.Enabled = false
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Notifier.QueueSize <= 0 {
		return fmt.Errorf("notifier queue size must be positive")
	}
	return nil
}

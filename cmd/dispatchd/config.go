package main

import (
	"github.com/taskfleet/dispatch/internal/lg"
	"github.com/taskfleet/dispatch/pkg/config"
	"github.com/taskfleet/dispatch/pkg/executor"
)

type ServerSection struct {
	Port     string `yaml:"port"`
	Endpoint string `yaml:"endpoint"`
}

type KafkaSection struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type MongoSection struct {
	Enabled    bool   `yaml:"enabled"`
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type DispatchdConfig struct {
	Server     ServerSection      `yaml:"server"`
	SSH        executor.SSHConfig `yaml:"ssh"`
	Kafka      KafkaSection       `yaml:"kafka"`
	Mongo      MongoSection       `yaml:"mongo"`
	ReportsDir string             `yaml:"reports_dir"`
}

func defaultConfig() *DispatchdConfig {
	return &DispatchdConfig{
		Server:     ServerSection{Port: servicePort, Endpoint: httpPath},
		SSH:        executor.DefaultSSHConfig(),
		ReportsDir: "./reports",
	}
}

func initConfig(path string, logger lg.Logger) (*DispatchdConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	store := config.NewFileStore(path, logger)
	if err := store.Load(cfg); err != nil {
		return nil, err
	}
	if err := store.Watch(func() {
		logger.Warn("config file changed, restart to apply", lg.String("path", path))
	}); err != nil {
		logger.Warn("config watch unavailable", lg.Err(err))
	}
	return cfg, nil
}

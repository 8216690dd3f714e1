// Package config holds the swapctl configuration document.
package config

import (
	"fmt"
	"time"

	"github.com/andrej220/swapctl/internal/executor"
	"github.com/andrej220/swapctl/internal/node"
	"github.com/andrej220/swapctl/internal/swap"
	"github.com/andrej220/swapctl/pkg/config/configstore"
	"github.com/andrej220/swapctl/pkg/config/filestore"
	pexec "github.com/andrej220/swapctl/pkg/executor"
)

const DefaultPath = "swapctl.yaml"

type SSHConfig struct {
	User                  string        `yaml:"user,omitempty"`
	IdentityFile          string        `yaml:"identity_file,omitempty"`
	KnownHosts            string        `yaml:"known_hosts"`
	Port                  int           `yaml:"port" validate:"gte=1,lte=65535"`
	ConfigFile            string        `yaml:"config_file"`
	DialTimeout           time.Duration `yaml:"dial_timeout" validate:"gt=0"`
	InsecureIgnoreHostKey bool          `yaml:"insecure_ignore_host_key"`
}

type ResilienceConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `yaml:"max_interval" validate:"gtefield=InitialInterval"`
	MaxElapsed      time.Duration `yaml:"max_elapsed" validate:"gte=0"`
	BreakerFailures uint32        `yaml:"breaker_failures" validate:"gte=1"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers,omitempty" validate:"dive,hostname_port"`
	Topic   string   `yaml:"topic,omitempty" validate:"required_with=Brokers"`
}

type MongoConfig struct {
	URI        string `yaml:"uri,omitempty" validate:"omitempty,mongouri"`
	DB         string `yaml:"db,omitempty" validate:"required_with=URI"`
	Collection string `yaml:"collection,omitempty" validate:"required_with=URI"`
}

// JournalConfig selects the audit sinks. Every sink is optional.
type JournalConfig struct {
	File  string      `yaml:"file,omitempty"`
	Kafka KafkaConfig `yaml:"kafka,omitempty"`
	Mongo MongoConfig `yaml:"mongo,omitempty"`
}

type Config struct {
	Hosts        []string         `yaml:"hosts" validate:"len=2,unique,dive,required"`
	LocalUnitDir string           `yaml:"local_unit_dir" validate:"required,dir"`
	SSH          SSHConfig        `yaml:"ssh"`
	Node         node.Paths       `yaml:"node"`
	States       swap.States      `yaml:"states"`
	Resilience   ResilienceConfig `yaml:"resilience"`
	Journal      JournalConfig    `yaml:"journal"`
}

// Default returns a document with everything but the hosts filled in.
func Default() *Config {
	res := pexec.DefaultResilienceOptions()
	return &Config{
		LocalUnitDir: "./unit_files",
		SSH: SSHConfig{
			Port:        22,
			ConfigFile:  "~/.ssh/config",
			KnownHosts:  "~/.ssh/known_hosts",
			DialTimeout: 10 * time.Second,
		},
		Node:   node.DefaultPaths(),
		States: swap.DefaultStates(),
		Resilience: ResilienceConfig{
			InitialInterval: res.InitialInterval,
			MaxInterval:     res.MaxInterval,
			MaxElapsed:      res.MaxElapsedTime,
			BreakerFailures: res.BreakerFailures,
		},
	}
}

// LoadFrom decodes the document in store over the defaults and validates it.
func LoadFrom(store configstore.ConfigStore) (*Config, error) {
	cfg := Default()
	if err := store.Load(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Load(path string) (*Config, error) {
	cfg, err := LoadFrom(filestore.New(path))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) SSHSettings() executor.SSHSettings {
	return executor.SSHSettings{
		User:                  c.SSH.User,
		IdentityFile:          c.SSH.IdentityFile,
		KnownHosts:            c.SSH.KnownHosts,
		Port:                  c.SSH.Port,
		ConfigFile:            c.SSH.ConfigFile,
		DialTimeout:           c.SSH.DialTimeout,
		InsecureIgnoreHostKey: c.SSH.InsecureIgnoreHostKey,
	}
}

func (c *Config) ResilienceOptions() pexec.ResilienceOptions {
	return pexec.ResilienceOptions{
		InitialInterval: c.Resilience.InitialInterval,
		MaxInterval:     c.Resilience.MaxInterval,
		MaxElapsedTime:  c.Resilience.MaxElapsed,
		BreakerFailures: c.Resilience.BreakerFailures,
	}
}

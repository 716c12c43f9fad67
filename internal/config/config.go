package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config drives a lockbench run. Flags override fields read from a file.
type Config struct {
	Disk struct {
		// Path of a file-backed disk; empty means an in-memory disk.
		Path string `yaml:"path"`
	} `yaml:"disk"`
	Accounts       uint64        `yaml:"accounts"`
	InitialBalance uint64        `yaml:"initialBalance"`
	Workers        int           `yaml:"workers"`
	Duration       time.Duration `yaml:"duration"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxAmount      uint64        `yaml:"maxAmount"`
	Priorities     int           `yaml:"priorities"`
	MaxRetries     uint64        `yaml:"maxRetries"`
	Metrics        string        `yaml:"metrics"`
	LogLevel       string        `yaml:"logLevel"`
}

func Default() *Config {
	c := &Config{
		Accounts:       16,
		InitialBalance: 1000,
		Workers:        8,
		Duration:       5 * time.Second,
		Timeout:        time.Second,
		MaxAmount:      100,
		Priorities:     3,
		MaxRetries:     100,
		LogLevel:       "info",
	}
	return c
}

// New decodes YAML from r over the defaults.
func New(r io.Reader) (c *Config, err error) {
	c = Default()
	d := yaml.NewDecoder(r)
	d.KnownFields(true)
	err = d.Decode(c)
	if err != nil && !errors.Is(err, io.EOF) {
		err = fmt.Errorf("unable to decode yaml: %w", err)
		return nil, err
	}
	return c, nil
}

func FromFile(name string) (c *Config, err error) {
	f, err := os.Open(name)
	if err != nil {
		err = fmt.Errorf("unable to open file: %w", err)
		return nil, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	return New(f)
}

func (c *Config) Validate() error {
	if c.Accounts < 2 {
		return fmt.Errorf("need at least 2 accounts, got %d", c.Accounts)
	}
	if c.Workers < 1 {
		return fmt.Errorf("need at least 1 worker, got %d", c.Workers)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("invalid duration %v", c.Duration)
	}
	if c.Timeout < 0 && c.Timeout != -1 {
		return fmt.Errorf("invalid timeout %v", c.Timeout)
	}
	if c.MaxAmount == 0 {
		return errors.New("maxAmount must be positive")
	}
	if c.Priorities < 1 {
		return fmt.Errorf("need at least 1 priority, got %d", c.Priorities)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Level() (logrus.Level, error) {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return 0, fmt.Errorf("unknown log level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

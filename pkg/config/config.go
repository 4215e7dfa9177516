package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cosiner/argv"
	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".bptrace"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Module is the default loaded-module path fragment to search for in the
	// target's memory map.
	Module string `yaml:"module"`
	// Symbol is the default symbol to trace inside Module.
	Symbol string `yaml:"symbol"`

	// ResolveAttempts is how many times the module map is polled while
	// waiting for the dynamic loader.
	ResolveAttempts int `yaml:"resolve-attempts,omitempty"`
	// ResolveIntervalMs is the pause between polls, in milliseconds.
	ResolveIntervalMs int `yaml:"resolve-interval-ms,omitempty"`

	// Sink selects the event sink: "log", "jsonl" or "ring".
	Sink string `yaml:"sink"`
	// Output is the path written by the jsonl sink.
	Output string `yaml:"output,omitempty"`

	// SampleEvery emits only every Nth entry/exit pair. 0 or 1 emits all.
	SampleEvery int `yaml:"sample-every,omitempty"`

	// TargetCmd is an optional command line, as a single string, to spawn
	// when no target is given on the command line.
	TargetCmd string `yaml:"target-cmd,omitempty"`
}

// SplitTargetCmd splits the configured target command line into an argument
// vector following shell quoting rules.
func SplitTargetCmd(cmdline string) ([]string, error) {
	if cmdline == "" {
		return nil, nil
	}
	v, err := argv.Argv(cmdline,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in %q", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal target command line %q", cmdline)
	}
	return v[0], nil
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() (*Config, error) {
	err := createConfigPath()
	if err != nil {
		return &Config{}, fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return &Config{}, err
	}

	data, err := os.ReadFile(fullConfigFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return &Config{}, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return &Config{}, fmt.Errorf("unable to decode config file: %v", err)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	return os.WriteFile(fullConfigFile, out, 0644)
}

// GetConfigFilePath gets full path of the given config file name.
func GetConfigFilePath(file string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configDir, file), nil
}

func createConfigPath() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(filepath.Join(home, configDir), 0700)
}

package config

import (
	"encoding/hex"
	"os"

	"overlord/consensus/smr"
	"overlord/crypto"
	"overlord/observability/logging"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk configuration for one consensus replica.
type Config struct {
	DataDir             string `toml:"DataDir"`
	ValidatorKey        string `toml:"ValidatorKey"`
	BlockIntervalMillis uint64 `toml:"BlockIntervalMillis"`
	ProposeRatio        uint64 `toml:"ProposeRatio"`
	PrevoteRatio        uint64 `toml:"PrevoteRatio"`
	PrecommitRatio      uint64 `toml:"PrecommitRatio"`
	BrakeRatio          uint64 `toml:"BrakeRatio"`

	LogFile           string `toml:"LogFile"`
	LogFileMaxSizeMB  int    `toml:"LogFileMaxSizeMB"`
	LogFileMaxBackups int    `toml:"LogFileMaxBackups"`
	LogFileMaxAgeDays int    `toml:"LogFileMaxAgeDays"`
}

// LogRotation reports whether this configuration asks for file-based
// logging and, if so, the rotation settings to use. Leaving LogFile empty
// keeps logs on stdout.
func (c Config) LogRotation() (logging.FileRotation, bool) {
	if c.LogFile == "" {
		return logging.FileRotation{}, false
	}
	return logging.FileRotation{
		Path:       c.LogFile,
		MaxSizeMB:  c.LogFileMaxSizeMB,
		MaxBackups: c.LogFileMaxBackups,
		MaxAgeDays: c.LogFileMaxAgeDays,
		Compress:   true,
	}, true
}

// Durations builds the smr.DurationConfig carried by this configuration.
func (c Config) Durations() smr.DurationConfig {
	return smr.DurationConfig{
		ProposeRatio:   c.ProposeRatio,
		PrevoteRatio:   c.PrevoteRatio,
		PrecommitRatio: c.PrecommitRatio,
		BrakeRatio:     c.BrakeRatio,
	}
}

// Load loads the configuration from path, writing a fresh default file
// (with a freshly generated validator key) the first time path is missing.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if cfg.ValidatorKey == "" {
		key, err := crypto.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		cfg.ValidatorKey = hex.EncodeToString(key.Bytes())

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, os.ModePerm)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		if err := toml.NewEncoder(f).Encode(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// createDefault writes and returns a default configuration. The ratios
// match the teacher-provided starting point of a 1x propose/prevote/
// precommit timeout and a 3x brake timeout.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:             "./overlord-data",
		ValidatorKey:        hex.EncodeToString(key.Bytes()),
		BlockIntervalMillis: 3000,
		ProposeRatio:        1000,
		PrevoteRatio:        1000,
		PrecommitRatio:      1000,
		BrakeRatio:          3000,
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

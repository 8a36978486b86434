// Package config loads taskbrokerd's configuration from an optional TOML
// file with flag overrides, grounded on nsqd's own config loading (an
// on-disk TOML file merged with CLI flags) per SPEC_FULL.md's
// Configuration module. The teacher predates Go modules and carries no
// config library of its own; mreiferson-nsq, the real modern descendant
// of this teacher, uses BurntSushi/toml for exactly this file, so this
// package adopts it rather than hand-rolling a parser.
package config

import (
	"flag"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config holds every knob taskbrokerd needs at startup. Defaults match
// spec.md §6 exactly.
type Config struct {
	ListenAddress string `toml:"listen_address"`
	StoragePrefix string `toml:"storage_prefix"`
	AuthFile      string `toml:"auth_file"`
	RequireFlush  bool   `toml:"require_flush"`

	DefaultUser     string `toml:"default_user"`
	DefaultPassword string `toml:"default_password"`

	BcryptCost int `toml:"bcrypt_cost"`
}

// Default returns the spec.md §6 default configuration.
func Default() Config {
	return Config{
		ListenAddress:   "0.0.0.0:4150",
		StoragePrefix:   "./storage/tasks",
		AuthFile:        "./storage/auth",
		RequireFlush:    true,
		DefaultUser:     "guest",
		DefaultPassword: "guest",
		BcryptCost:      13,
	}
}

// Load starts from Default, merges in tomlPath if it exists (a missing
// file is not an error — the defaults stand alone), then applies flags
// parsed from args on top. taskbrokerd passes the arguments left over
// after its own -config flag has been parsed (flag.Args()).
func Load(tomlPath string, args []string) (Config, error) {
	cfg := Default()

	if tomlPath != "" {
		if _, err := os.Stat(tomlPath); err == nil {
			if _, err := toml.DecodeFile(tomlPath, &cfg); err != nil {
				return Config{}, errors.Wrapf(err, "config: failed to parse %s", tomlPath)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, errors.Wrapf(err, "config: failed to stat %s", tomlPath)
		}
	}

	fs := flag.NewFlagSet("taskbrokerd", flag.ContinueOnError)
	listenAddress := fs.String("listen-address", cfg.ListenAddress, "TCP listen address")
	storagePrefix := fs.String("storage-prefix", cfg.StoragePrefix, "durable log file prefix")
	authFile := fs.String("auth-file", cfg.AuthFile, "credential store file path")
	requireFlush := fs.Bool("require-flush", cfg.RequireFlush, "fsync every enqueue before acknowledging it")
	defaultUser := fs.String("default-user", cfg.DefaultUser, "username seeded when the credential store is empty")
	defaultPassword := fs.String("default-password", cfg.DefaultPassword, "password seeded when the credential store is empty")
	bcryptCost := fs.Int("bcrypt-cost", cfg.BcryptCost, "bcrypt work factor for the credential store")

	if err := fs.Parse(args); err != nil {
		return Config{}, errors.Wrap(err, "config: failed to parse flags")
	}

	cfg.ListenAddress = *listenAddress
	cfg.StoragePrefix = *storagePrefix
	cfg.AuthFile = *authFile
	cfg.RequireFlush = *requireFlush
	cfg.DefaultUser = *defaultUser
	cfg.DefaultPassword = *defaultPassword
	cfg.BcryptCost = *bcryptCost

	return cfg, nil
}

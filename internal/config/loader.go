// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/accounts/internal/xdg"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: ACCOUNTS_DATABASE__URL sets database.url.
const EnvPrefix = "ACCOUNTS_"

// CodeLoad is the oops code of a configuration source that could not be read.
const CodeLoad = "CONFIG_LOAD_FAILED"

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"database-url":   "database.url",
	"auto-migrate":   "database.auto_migrate",
	"storage-driver": "storage.driver",
	"http-addr":      "http.addr",
	"metrics-addr":   "metrics.addr",
	"log-format":     "log.format",
	"log-level":      "log.level",
	"session-ttl":    "session.ttl",
}

// BindFlags registers the flags that may override configuration keys.
// Only flags the user sets take effect; their defaults are informational.
func BindFlags(flags *pflag.FlagSet) {
	def := Default()
	flags.String("database-url", "", "PostgreSQL connection URL")
	flags.Bool("auto-migrate", def.Database.AutoMigrate, "apply pending migrations on startup")
	flags.String("storage-driver", def.Storage.Driver, "storage backend (postgres or memory)")
	flags.String("http-addr", def.HTTP.Addr, "API listen address")
	flags.String("metrics-addr", def.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	flags.String("log-format", def.Log.Format, "log format (json or text)")
	flags.String("log-level", def.Log.Level, "log level (debug, info, warn, error)")
	flags.Duration("session-ttl", def.Session.TTL, "session lifetime")
}

// Options selects the sources Load reads.
type Options struct {
	// File is an explicit config file. It must exist. When empty the
	// default XDG location is used if present.
	File string
	// Flags is a flag set prepared with BindFlags. May be nil.
	Flags *pflag.FlagSet
}

// Load builds a Config from, in increasing priority: defaults, the YAML
// file, ACCOUNTS_* environment variables and changed flags. The result is
// validated.
func Load(opts Options) (Config, error) {
	k := koanf.New(".")

	path, required := opts.File, true
	if path == "" {
		required = false
		if p, err := xdg.ConfigFile(); err == nil {
			path = p
		}
	}
	if err := loadFile(k, path, required); err != nil {
		return Config{}, err
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, oops.Code(CodeLoad).With("source", "env").Wrap(err)
	}

	if opts.Flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, flagKey(opts.Flags)), nil); err != nil {
			return Config{}, oops.Code(CodeLoad).With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code(CodeLoad).With("source", "unmarshal").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string, required bool) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return oops.Code(CodeLoad).With("source", "file").With("path", path).Wrap(err)
	}
	if err := ValidateFile(data); err != nil {
		return oops.With("path", path).Wrap(err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code(CodeLoad).With("source", "file").With("path", path).Wrap(err)
	}
	return nil
}

// envKey turns ACCOUNTS_SESSION__REAP_GRACE into session.reap_grace.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func flagKey(flags *pflag.FlagSet) func(f *pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok || !f.Changed {
			return "", nil
		}
		return key, posflag.FlagVal(flags, f)
	}
}

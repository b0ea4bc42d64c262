package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

var (
	envFile   string
	flagSetup sync.Once
)

// MustNew loads a config struct of type T from the environment, panicking on
// failure. Intended for process startup only.
func MustNew[T any](prefix string) *T {
	conf, err := New[T](prefix)
	if err != nil {
		panic(fmt.Errorf("config %q: %w", prefix, err))
	}
	return conf
}

// New populates a T from environment variables carrying the given prefix.
// If an env file is present (via the -env flag, or ./.env by default) its
// entries are exported first; variables already set in the process
// environment win over file entries.
func New[T any](prefix string) (*T, error) {
	path := envFilePath()
	if path != "" {
		if err := exportFile(path); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", path, err)
		}
	} else if err := exportFileIfExists(".env"); err != nil {
		return nil, fmt.Errorf("load default env file: %w", err)
	}

	var conf T
	if err := envconfig.Process(prefix, &conf); err != nil {
		return nil, err
	}
	return &conf, nil
}

func envFilePath() string {
	flagSetup.Do(func() {
		if flag.Lookup("env") == nil {
			flag.StringVar(&envFile, "env", "", "path to .env file")
		}
		if !flag.Parsed() {
			flag.Parse()
		}
	})
	return strings.TrimSpace(envFile)
}

func exportFileIfExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}
	return exportFile(path)
}

func exportFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	for key, value := range v.AllSettings() {
		name := strings.ToUpper(key)
		if _, present := os.LookupEnv(name); present {
			continue
		}
		if err := os.Setenv(name, fmt.Sprint(value)); err != nil {
			return err
		}
	}
	return nil
}

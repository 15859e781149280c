// Package config fills typed structs from environment variables. A dotenv
// file may seed the environment first; variables already set in the process
// win over the file.
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

const defaultEnvFile = ".env"

var (
	envFlag  string
	seedOnce sync.Once
	seedErr  error
)

func MustNew[T any](prefix string) *T {
	conf, err := New[T](prefix)
	if err != nil {
		panic(err)
	}
	return conf
}

// New seeds the environment on first use, then processes T with envconfig
// under prefix.
func New[T any](prefix string) (*T, error) {
	seedOnce.Do(func() {
		seedErr = seed(envFilePath())
	})
	if seedErr != nil {
		return nil, seedErr
	}

	var conf T
	if err := envconfig.Process(prefix, &conf); err != nil {
		return nil, fmt.Errorf("config %q: %w", prefix, err)
	}
	return &conf, nil
}

// envFilePath prefers the -env flag, then ENV_FILE. An empty result means
// the optional default file.
func envFilePath() string {
	if flag.Lookup("env") == nil {
		flag.StringVar(&envFlag, "env", "", "path to .env file")
	}
	if !flag.Parsed() {
		flag.Parse()
	}
	if p := strings.TrimSpace(envFlag); p != "" {
		return p
	}
	return strings.TrimSpace(os.Getenv("ENV_FILE"))
}

func seed(path string) error {
	if path != "" {
		if err := LoadEnvFile(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}

	info, err := os.Stat(defaultEnvFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return err
	case info.IsDir():
		return nil
	}
	if err := LoadEnvFile(defaultEnvFile); err != nil {
		return fmt.Errorf("load default env file: %w", err)
	}
	return nil
}

// LoadEnvFile exports every key in the dotenv file that is not already set.
func LoadEnvFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	for _, key := range v.AllKeys() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, v.GetString(key)); err != nil {
			return err
		}
	}
	return nil
}

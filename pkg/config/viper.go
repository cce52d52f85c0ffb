// Package config locates the pipeline configuration file on the standard
// search paths.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// FileName is the config file base name, without extension.
const FileName = "config"

// SearchPaths lists the directories scanned for a config file, in order.
func SearchPaths() []string {
	return []string{
		".",                    // Current working directory
		"/etc/artvee-ingest/",  // System-wide configuration
		"$HOME/.artvee-ingest", // User-specific configuration
	}
}

// Discover returns explicit when set. Otherwise it returns the first
// config.{yaml,yml,json,toml} found on paths (SearchPaths when empty), or ""
// when there is none and defaults plus the environment should be used.
func Discover(explicit string, paths ...string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if len(paths) == 0 {
		paths = SearchPaths()
	}
	v := viper.New()
	v.SetConfigName(FileName)
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("read config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

// Package config prepares the process-wide viper instance used by the CLI: search
// paths, environment overrides and the optional config file.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"

	internalconfig "github.com/JakeFAU/leadcrawl/internal/config"
)

// InitConfig points v at the config file (explicit path, or leadcrawl.{yaml,json,toml}
// in the working directory, $HOME/.leadcrawl or /etc/leadcrawl), enables env overrides
// and reads the file. A missing file is not an error; defaults and env still apply.
// It returns the file that was used, if any.
func InitConfig(v *viper.Viper, path string) (string, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("leadcrawl")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.leadcrawl")
		v.AddConfigPath("/etc/leadcrawl/")
	}

	internalconfig.ConfigureEnv(v)
	internalconfig.SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("read config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

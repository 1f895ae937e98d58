package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Credentials identify the actor and locate the bearer token. They
// live outside the repository: in the global credential file
// (~/.config/tether/credentials.yaml) or TETHER_* variables.
type Credentials struct {
	Actor     string `mapstructure:"actor"`
	TokenFile string `mapstructure:"token_file"`
}

// credentialsDir is overridable for tests.
var credentialsDir = func() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "tether"), nil
}

// LoadCredentials reads the global credential file and environment.
// Environment wins; a missing file is fine when the environment
// carries everything.
func LoadCredentials() (*Credentials, error) {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TETHER")
	v.AutomaticEnv()
	_ = v.BindEnv("actor")
	_ = v.BindEnv("token_file")

	dir, err := credentialsDir()
	if err == nil {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read credentials: %w", err)
		}
	}

	var creds Credentials
	if err := v.Unmarshal(&creds); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}
	if creds.TokenFile == "" && dir != "" {
		creds.TokenFile = filepath.Join(dir, "token")
	}
	return &creds, nil
}

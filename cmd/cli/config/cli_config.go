package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

type CLIConfig struct {
	ServerURL     string      `mapstructure:"server_url"`
	DefaultOutput string      `mapstructure:"default_output"`
	Preferences   Preferences `mapstructure:"preferences"`
}

type Preferences struct {
	ColorOutput bool   `mapstructure:"color_output"`
	TimeZone    string `mapstructure:"timezone"`
}

func LoadConfig(cfgFile string) (*CLIConfig, error) {
	config := &CLIConfig{
		ServerURL:     "http://localhost:8080",
		DefaultOutput: "table",
		Preferences: Preferences{
			ColorOutput: true,
			TimeZone:    "UTC",
		},
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}

		configPath := filepath.Join(home, ".modelctl")
		viper.AddConfigPath(configPath)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("MODELCTL")
	viper.AutomaticEnv()

	viper.SetDefault("server_url", config.ServerURL)
	viper.SetDefault("default_output", config.DefaultOutput)
	viper.SetDefault("preferences.color_output", config.Preferences.ColorOutput)
	viper.SetDefault("preferences.timezone", config.Preferences.TimeZone)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return config, nil
}

func SaveConfig(config *CLIConfig, cfgFile string) error {
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		configDir := filepath.Join(home, ".modelctl")
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("error creating config directory: %w", err)
		}

		cfgFile = filepath.Join(configDir, "config.yaml")
	}

	viper.Set("server_url", config.ServerURL)
	viper.Set("default_output", config.DefaultOutput)
	viper.Set("preferences", config.Preferences)

	return viper.WriteConfigAs(cfgFile)
}

func GetDefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".modelctl", "config.yaml")
}

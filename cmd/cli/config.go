package main

import (
	"errors"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	walter "walter_arm"
)

// cliConfig holds the settings shared by all commands
type cliConfig struct {
	Output   string `mapstructure:"output"`
	StepMs   int    `mapstructure:"stepMs"`
	Check    bool   `mapstructure:"check"`
	Baudrate int    `mapstructure:"baudrate"`
}

// loadConfig reads walter.yaml from configDir if present. Every key can be
// overridden with a WALTER_ environment variable, e.g. WALTER_OUTPUT.
func loadConfig(configDir string) (*cliConfig, *walter.WalterArmConfig, error) {
	viper.SetDefault("output", "trajectory.png")
	viper.SetDefault("stepMs", 10)
	viper.SetDefault("check", false)
	viper.SetDefault("baudrate", 1000000)
	viper.SetDefault("arm.simulated", true)

	viper.SetConfigName("walter")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.SetEnvPrefix("WALTER")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("error reading config file: %v", err)
		}
	}

	var cfg cliConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("error decoding config: %v", err)
	}

	// the arm section uses the same attribute names as the module config
	var arm walter.WalterArmConfig
	err := viper.UnmarshalKey("arm", &arm, viper.DecoderConfigOption(func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "json"
	}))
	if err != nil {
		return nil, nil, fmt.Errorf("error decoding arm config: %v", err)
	}
	if _, _, err := arm.Validate("arm"); err != nil {
		return nil, nil, err
	}

	if cfg.StepMs <= 0 {
		cfg.StepMs = 10
	}
	return &cfg, &arm, nil
}

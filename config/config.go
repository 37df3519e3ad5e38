// Package config loads the layered YAML configuration: default.yaml
// holds every key, and a per-network overlay (testnet or mainnet)
// overrides the values that differ between deployments.
package config

import (
	"log"

	"github.com/spf13/viper"
)

var config *viper.Viper

// Init reads default.yaml and merges the overlay selected by env on
// top of it. A missing or unparseable file is fatal: the service must
// not start with a partial configuration.
func Init(env string) {
	config = viper.New()
	config.SetConfigType("yaml")
	config.SetConfigName("default")
	config.AddConfigPath("config/")
	if err := config.ReadInConfig(); err != nil {
		log.Fatal("error on parsing default configuration file")
	}

	overlay := env
	switch env {
	case "development":
		overlay = "testnet"
	case "production":
		overlay = "mainnet"
	}

	envConfig := viper.New()
	envConfig.SetConfigType("yaml")
	envConfig.AddConfigPath("config/")
	envConfig.SetConfigName(overlay)
	if err := envConfig.ReadInConfig(); err != nil {
		log.Fatalf("error on parsing %s configuration file: %v", overlay, err)
	}

	config.MergeConfigMap(envConfig.AllSettings())
}

func GetConfig() *viper.Viper {
	return config
}

package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Host     string
		WSPort   int `mapstructure:"ws_port"`
		HTTPPort int `mapstructure:"http_port"`
	}
	Database struct {
		DSN string
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
	}
	JWT struct {
		Secret string
	}
}

var C Config

// Load reads config/config.yaml when present, then applies KVITLACH_
// environment overrides (KVITLACH_SERVER_WS_PORT and friends).
func Load() {
	viper.SetDefault("server.host", "")
	viper.SetDefault("server.ws_port", 3001)
	viper.SetDefault("server.http_port", 3000)
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "")

	viper.SetEnvPrefix("KVITLACH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigFile("config/config.yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("config file skipped: %v", err)
		}
	}
	if err := viper.Unmarshal(&C); err != nil {
		log.Fatalf("Failed to parse config: %v", err)
	}
}

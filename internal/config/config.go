// Package config resolves the runtime configuration from defaults, an
// optional config file, environment variables and CLI flags, in that
// order of precedence.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config carries the complete runtime configuration.
type Config struct {
	Host           string
	Port           int
	DownloadDir    string
	DataDir        string
	AllowedOrigins []string
	Headers        map[string]string
	Keepalive      time.Duration
	InfoCacheTTL   time.Duration
}

// Defaults mirror the original deployment: port 8000, the browser dev
// servers allowed as origins, a desktop user agent on upstream requests.
func Defaults() Config {
	return Config{
		Host:        "0.0.0.0",
		Port:        8000,
		DownloadDir: "./downloads",
		DataDir:     "./data",
		AllowedOrigins: []string{
			"http://localhost:3000",
			"http://localhost:3001",
			"http://localhost:4900",
		},
		Headers: map[string]string{
			"User-Agent": "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Keepalive:    30 * time.Second,
		InfoCacheTTL: 15 * time.Minute,
	}
}

// Init wires viper against the environment, an optional config file and
// the root command's flags, then returns the effective configuration.
// Missing files and unset variables are fine; defaults cover them.
func Init(root *cobra.Command) Config {
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("VIDGRAB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	def := Defaults()
	viper.SetDefault("host", def.Host)
	viper.SetDefault("port", def.Port)
	viper.SetDefault("download_dir", def.DownloadDir)
	viper.SetDefault("data_dir", def.DataDir)
	viper.SetDefault("allowed_origins", def.AllowedOrigins)
	viper.SetDefault("headers", def.Headers)
	viper.SetDefault("keepalive", def.Keepalive)
	viper.SetDefault("info_cache_ttl", def.InfoCacheTTL)

	if root != nil {
		_ = viper.BindPFlag("port", root.PersistentFlags().Lookup("port"))
		_ = viper.BindPFlag("download_dir", root.PersistentFlags().Lookup("download-dir"))
		_ = viper.BindPFlag("data_dir", root.PersistentFlags().Lookup("data-dir"))
	}

	_ = viper.ReadInConfig()

	return Config{
		Host:           viper.GetString("host"),
		Port:           viper.GetInt("port"),
		DownloadDir:    viper.GetString("download_dir"),
		DataDir:        viper.GetString("data_dir"),
		AllowedOrigins: viper.GetStringSlice("allowed_origins"),
		Headers:        viper.GetStringMapString("headers"),
		Keepalive:      viper.GetDuration("keepalive"),
		InfoCacheTTL:   viper.GetDuration("info_cache_ttl"),
	}
}

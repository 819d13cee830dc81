package config

import (
	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr             string   `mapstructure:"listen_addr"`
	DBPath                 string   `mapstructure:"db_path"`
	LogLevel               string   `mapstructure:"log_level"`
	LogFormat              string   `mapstructure:"log_format"`
	ReconcileWindowRows    int      `mapstructure:"reconcile_window_rows"`
	EventQueryLimit        int      `mapstructure:"event_query_limit"`
	NotifyIntervalSeconds  int      `mapstructure:"notify_interval_seconds"`
	NotifyWebhookURL       string   `mapstructure:"notify_webhook_url"`
	DefaultAlertEmail      string   `mapstructure:"default_alert_email"`
	NotifyWorkers          int      `mapstructure:"notify_workers"`
	NotifyQueueSize        int      `mapstructure:"notify_queue_size"`
	IgnoreRules            []string `mapstructure:"ignore_rules"`
	MaxBatchEntries        int      `mapstructure:"max_batch_entries"`
	ShutdownTimeoutSeconds int      `mapstructure:"shutdown_timeout_seconds"`
}

func Default() *Config {
	return &Config{
		ListenAddr:             ":8440",
		DBPath:                 "driftd.db",
		LogLevel:               "info",
		LogFormat:              "text",
		ReconcileWindowRows:    2000,
		EventQueryLimit:        200,
		NotifyIntervalSeconds:  30,
		DefaultAlertEmail:      "alerts@breeze-rmm.local",
		NotifyWorkers:          4,
		NotifyQueueSize:        256,
		MaxBatchEntries:        5000,
		ShutdownTimeoutSeconds: 15,
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("driftd")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/driftd")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("DRIFTD")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

package config

import "time"

// Settings contains the application config. Updates protocol settings are read
// separately from UPDATES_ prefixed environment variables.
type Settings struct {
	Environment string `yaml:"ENVIRONMENT"`
	LogLevel    string `yaml:"LOG_LEVEL"`
	Port        int    `yaml:"PORT"`
	MonPort     int    `yaml:"MON_PORT"`

	DatabasePath string `yaml:"DATABASE_PATH"`
	NATSURL      string `yaml:"NATS_URL"`
	NATSSubject  string `yaml:"NATS_SUBJECT"`

	// ReloadCommand is run with the update id as its only argument to restart the
	// application on a new update. Empty means relaunches are only logged.
	ReloadCommand string        `yaml:"RELOAD_COMMAND"`
	ReloadTimeout time.Duration `yaml:"RELOAD_TIMEOUT"`
}

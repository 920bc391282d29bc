// Package logger configures the process-wide logrus logger
package logger

import (
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config selects level and output format
type Config struct {
	Level  string
	Format string
	Output io.Writer
}

// Setup applies cfg to the standard logger. An unknown level falls back to
// info.
func Setup(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	log.SetOutput(out)

	if cfg.Format == "text" {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: log.FieldMap{
				log.FieldKeyMsg: "message",
			},
		})
	}

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

// Service returns an entry tagged with the service name and version
func Service(name, version string) *log.Entry {
	return log.WithFields(log.Fields{"service": name, "version": version})
}

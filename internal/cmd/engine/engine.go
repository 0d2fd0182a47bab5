// Package engine parses engine process configuration and runs the service.
package engine

import (
	"context"
	"flag"

	"github.com/sirupsen/logrus"

	api "github.com/notefold/notefold/internal/api/http"
	appengine "github.com/notefold/notefold/internal/engine"
	"github.com/notefold/notefold/internal/platform/config"
	"github.com/notefold/notefold/internal/platform/otel"
)

// Config holds engine command configuration.
type Config struct {
	Port        int    `env:"NOTEFOLD_PORT" envDefault:"8080"`
	DBPath      string `env:"NOTEFOLD_DB_PATH" envDefault:"notefold.db"`
	CuratedPath string `env:"NOTEFOLD_CURATED_PATH"`
	LogLevel    string `env:"NOTEFOLD_LOG_LEVEL" envDefault:"info"`
}

// ParseConfig parses environment and flags into Config. Flags override
// the environment.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The HTTP API port")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the SQLite journal file")
	fs.StringVar(&cfg.CuratedPath, "curated", cfg.CuratedPath, "Path to the curated category YAML file")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the sync engine and serves its API until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	shutdown, err := otel.Setup(ctx, "notefold-engine")
	if err != nil {
		return err
	}
	defer func() {
		_ = shutdown(context.Background())
	}()

	eng, err := appengine.New(ctx, appengine.Options{
		DBPath:      cfg.DBPath,
		CuratedPath: cfg.CuratedPath,
		Log:         log,
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	return api.Run(ctx, cfg.Port, eng, log)
}

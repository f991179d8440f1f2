package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/perflab/kerntune/internal/device"
	"github.com/perflab/kerntune/internal/logger"
	"github.com/perflab/kerntune/internal/perfdb"
	"github.com/perflab/kerntune/internal/preload"
)

var (
	arch         string
	userDbPath   string
	systemDbPath string
	logLevel     string
	logFormat    string
	debug        bool
)

func commonDbFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "arch",
			Usage:       "device architecture (default: detected from host CPU)",
			Destination: &arch,
		},
		&cli.StringFlag{
			Name:        "user-db",
			Usage:       "path to the writable performance database",
			Destination: &userDbPath,
		},
		&cli.StringFlag{
			Name:        "system-db",
			Usage:       "path to the shipped read-only performance database",
			Destination: &systemDbPath,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func newLogger() logger.Logger {
	level := logLevel
	if debug {
		level = "debug"
	}
	lv := logger.ParseLevel(level)
	switch logFormat {
	case "json":
		return logger.JSON(os.Stderr, lv)
	case "text":
		return logger.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
	default:
		return logger.Pretty(os.Stderr, lv)
	}
}

func resolveArch() string {
	if arch != "" {
		return arch
	}
	return device.DetectHostArch()
}

// dbPaths resolves the user and system database locations for the active
// architecture, honoring flag overrides.
func dbPaths() (user, system string, err error) {
	a := resolveArch()
	user = userDbPath
	if user == "" {
		user, err = device.UserDbPath(a)
		if err != nil {
			return "", "", fmt.Errorf("resolve user db path: %w", err)
		}
	}
	system = systemDbPath
	if system == "" {
		system = device.SystemDbPath(a)
	}
	return user, system, nil
}

// openTiered loads both database tiers. The loads run concurrently with each
// other; the caller blocks only when it takes the results.
func openTiered(log logger.Logger) (perfdb.Tiered, error) {
	userPath, systemPath, err := dbPaths()
	if err != nil {
		return perfdb.Tiered{}, err
	}

	states := preload.NewStates()
	states.TryStartPreloadingDbs(func() {
		states.StartPreloadingDb(userPath, preload.RamDbLoader(log))
		states.StartPreloadingDb(systemPath, preload.ReadonlyRamDbLoader(log))
	})

	user, err := states.GetPreloadedRamDb(userPath)
	if err != nil {
		return perfdb.Tiered{}, fmt.Errorf("load user db: %w", err)
	}
	system, err := states.GetPreloadedReadonlyRamDb(systemPath)
	if err != nil {
		return perfdb.Tiered{}, fmt.Errorf("load system db: %w", err)
	}
	return perfdb.Tiered{User: user, System: system}, nil
}

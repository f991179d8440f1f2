package main

import (
	"context"
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/perflab/kerntune/internal/dbserve"
	"github.com/perflab/kerntune/internal/perfdb"
	"github.com/perflab/kerntune/pkg/dbtext"
)

func exportCmd() *cli.Command {
	var dbPath string

	return &cli.Command{
		Name:  "export",
		Usage: "Export tuning results as JSON on stdout",
		Flags: append(append([]cli.Flag{
			&cli.StringFlag{
				Name:        "db",
				Usage:       "export a single database file instead of the tiered pair",
				Destination: &dbPath,
			},
		}, commonDbFlags()...), loggingFlags()...),
		Action: func(ctx context.Context, c *cli.Command) error {
			_ = ctx
			cfg := LoadConfig()
			applyCommonConfig(c, cfg)
			log := newLogger()

			var entries map[string]map[string]string
			if dbPath != "" {
				db, err := perfdb.LoadRamDB(dbPath, log)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: open db: %v", err), 1)
				}
				entries = flatten(db.Snapshot())
			} else {
				db, err := openTiered(log)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				merged := flatten(db.System.Snapshot())
				for key, rec := range flatten(db.User.Snapshot()) {
					dst, ok := merged[key]
					if !ok {
						dst = make(map[string]string, len(rec))
						merged[key] = dst
					}
					for id, cfgStr := range rec {
						dst[id] = cfgStr
					}
				}
				entries = merged
			}

			out := dbserve.Export{
				ExportedAt: time.Now().UTC(),
				Keys:       len(entries),
				Entries:    entries,
			}
			b, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: encode export: %v", err), 1)
			}
			_, _ = os.Stdout.Write(append(b, '\n'))
			return nil
		},
	}
}

func flatten(snap map[string]dbtext.Record) map[string]map[string]string {
	out := make(map[string]map[string]string, len(snap))
	for key, rec := range snap {
		out[key] = rec
	}
	return out
}

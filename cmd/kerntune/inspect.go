package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/perflab/kerntune/internal/logger"
	"github.com/perflab/kerntune/internal/perfdb"
)

func inspectCmd() *cli.Command {
	var (
		dbPath string
		filter string
		limit  int
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect the contents of a performance database file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "db",
				Usage:       "path to a .kdb.txt / .ukdb.txt database file",
				Required:    true,
				Destination: &dbPath,
			},
			&cli.StringFlag{Name: "filter", Usage: "substring filter for fingerprint keys", Destination: &filter},
			&cli.IntFlag{Name: "limit", Usage: "limit key listing (0 = no limit)", Value: 50, Destination: &limit},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			_ = ctx

			db, err := perfdb.LoadRamDB(dbPath, logger.Default())
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open db: %v", err), 1)
			}
			snap := db.Snapshot()

			entries := 0
			solvers := map[string]int{}
			for _, rec := range snap {
				entries += len(rec)
				for id := range rec {
					solvers[id]++
				}
			}
			fmt.Printf("Database: %s\n", dbPath)
			fmt.Printf("keys:     %d\n", len(snap))
			fmt.Printf("entries:  %d\n", entries)

			ids := make([]string, 0, len(solvers))
			for id := range solvers {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Printf("solver %-24s %d\n", id+":", solvers[id])
			}

			keys := make([]string, 0, len(snap))
			for key := range snap {
				if filter != "" && !strings.Contains(key, filter) {
					continue
				}
				keys = append(keys, key)
			}
			sort.Strings(keys)

			fmt.Println()
			shown := 0
			for _, key := range keys {
				rec := snap[key]
				pairs := make([]string, 0, len(rec))
				for id, cfg := range rec {
					pairs = append(pairs, id+":"+cfg)
				}
				sort.Strings(pairs)
				fmt.Printf("%s\n    %s\n", key, strings.Join(pairs, "\n    "))
				shown++
				if limit > 0 && shown >= limit {
					break
				}
			}
			if limit > 0 && shown < len(keys) {
				fmt.Printf("... (%d shown of %d)\n", shown, len(keys))
			}
			return nil
		},
	}
}

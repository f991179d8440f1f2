package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/perflab/kerntune/internal/perfdb"
)

func mergeCmd() *cli.Command {
	var (
		fromPath string
		intoPath string
	)

	return &cli.Command{
		Name:  "merge",
		Usage: "Merge one performance database into another (source wins on conflict)",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:        "from",
				Usage:       "source database file",
				Required:    true,
				Destination: &fromPath,
			},
			&cli.StringFlag{
				Name:        "into",
				Usage:       "destination database file (created if missing)",
				Required:    true,
				Destination: &intoPath,
			},
		}, loggingFlags()...),
		Action: func(ctx context.Context, c *cli.Command) error {
			_ = ctx
			log := newLogger()

			src, err := perfdb.LoadRamDB(fromPath, log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open source db: %v", err), 1)
			}
			if src.Len() == 0 {
				return cli.Exit(fmt.Sprintf("error: source db %q is empty or missing", fromPath), 1)
			}
			dst, err := perfdb.LoadRamDB(intoPath, log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open destination db: %v", err), 1)
			}

			before := dst.Len()
			dst.Merge(src.Snapshot())
			if err := dst.Flush(); err != nil {
				return cli.Exit(fmt.Sprintf("error: write destination db: %v", err), 1)
			}
			fmt.Printf("merged %d keys from %s into %s (%d -> %d keys)\n",
				src.Len(), fromPath, intoPath, before, dst.Len())
			return nil
		},
	}
}

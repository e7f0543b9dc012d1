package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/starford/mdview/internal/history"
)

func recentCommand() *cli.Command {
	return &cli.Command{
		Name:  "recent",
		Usage: "List recently opened documents",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Max results",
				Value:   20,
			},
			&cli.StringFlag{
				Name:    "search",
				Aliases: []string{"q"},
				Usage:   "Only documents whose path or title contains this text",
			},
		},
		Action: listRecent,
	}
}

func listRecent(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cfg.History.Enabled() {
		return errors.New("history is disabled (history.path is empty)")
	}

	db, err := history.Open(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer db.Close()

	docs, err := db.Search(ctx, cmd.String("search"), int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	writeRecent(os.Stdout, docs, stdoutIsTerminal())
	return nil
}

// writeRecent prints docs as a table, or one path per line when asTable is false.
func writeRecent(w io.Writer, docs []history.Document, asTable bool) {
	if len(docs) == 0 {
		fmt.Fprintln(w, "No documents opened yet")
		return
	}
	if !asTable {
		for _, d := range docs {
			fmt.Fprintln(w, d.Path)
		}
		return
	}
	rows := make([][]string, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, []string{
			d.Path,
			d.Title,
			d.OpenedAt.Local().Format(time.DateTime),
			strconv.Itoa(d.OpenCount),
		})
	}
	fmt.Fprintln(w, renderTable([]string{"Document", "Title", "Last opened", "Opens"}, rows, 4))
}

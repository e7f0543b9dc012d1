package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/starford/mdview/internal/models"
	"github.com/starford/mdview/internal/tagstore"
)

func tagsCommand() *cli.Command {
	return &cli.Command{
		Name:  "tags",
		Usage: "Inspect and edit the tag file",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "Print every tag as a listing line",
				Action: listTags,
			},
			{
				Name:      "delete",
				Usage:     "Delete the first tag with the given name from a document",
				ArgsUsage: "<file.md> <name>",
				Action:    deleteTag,
			},
			{
				Name:      "jump",
				Usage:     "Print the position encoded in a listing line",
				ArgsUsage: "<listing>",
				Action:    jumpTag,
			},
		},
	}
}

func openStore(cmd *cli.Command) (*tagstore.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return tagstore.Load(cfg.Tags.Path), nil
}

func listTags(_ context.Context, cmd *cli.Command) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	writeListings(os.Stdout, store.List(), stdoutIsTerminal())
	return nil
}

// writeListings prints listings as a table, or as listing lines that
// `tags jump` accepts when asTable is false.
func writeListings(w io.Writer, listings []models.Listing, asTable bool) {
	if len(listings) == 0 {
		fmt.Fprintln(w, "No tags")
		return
	}
	if !asTable {
		for _, l := range listings {
			fmt.Fprintln(w, l.Display())
		}
		return
	}
	rows := make([][]string, 0, len(listings))
	for _, l := range listings {
		rows = append(rows, []string{l.Doc, l.Tag.Name, strconv.Itoa(l.Tag.Position)})
	}
	fmt.Fprintln(w, renderTable([]string{"Document", "Tag", "Position"}, rows, 3))
}

func deleteTag(_ context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("usage: tags delete <file.md> <name>")
	}
	doc, err := filepath.Abs(cmd.Args().Get(0))
	if err != nil {
		return fmt.Errorf("resolve %s: %w", cmd.Args().Get(0), err)
	}
	name := cmd.Args().Get(1)

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	if err := store.Delete(doc, name); err != nil {
		return err
	}
	fmt.Printf("Deleted tag %q\n", name)
	return nil
}

func jumpTag(_ context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("usage: tags jump <listing>")
	}
	pos, err := models.JumpTarget(cmd.Args().First())
	if err != nil {
		return err
	}
	fmt.Println(pos)
	return nil
}

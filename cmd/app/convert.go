package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/starford/mdview/internal/apperr"
	"github.com/starford/mdview/internal/converter"
	"github.com/starford/mdview/internal/models"
	"github.com/starford/mdview/internal/task"
)

func convertCommand() *cli.Command {
	return &cli.Command{
		Name:      "convert",
		Usage:     "Convert a Markdown file with pandoc and wait for the result",
		ArgsUsage: "<input.md> [output]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Target format (docx or html)",
				Value:   converter.FormatDOCX,
			},
		},
		Action: convert,
	}
}

func convert(ctx context.Context, cmd *cli.Command) error {
	req, err := conversionRequest(cmd.Args().Slice(), cmd.String("format"))
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	conv := converter.NewPandoc(converter.WithBinary(cfg.Converter.ResolvedBinary()))
	output, err := runConversion(ctx, task.NewConvertTask(req, conv), os.Stderr, cfg.Converter.InstallURL)
	if err != nil {
		return err
	}
	fmt.Println(output)
	return nil
}

// conversionRequest validates the convert arguments and builds the request
// with absolute paths. args is <input.md> [output].
func conversionRequest(args []string, format string) (converter.Request, error) {
	if len(args) < 1 || len(args) > 2 {
		return converter.Request{}, fmt.Errorf("usage: convert <input.md> [output] --format docx|html")
	}
	input := args[0]
	if !models.IsMarkdown(input) {
		return converter.Request{}, fmt.Errorf("%w: %s", apperr.ErrUnsupportedFile, input)
	}
	if !converter.ValidFormat(format) {
		return converter.Request{}, fmt.Errorf("%w: %q", apperr.ErrUnsupportedFormat, format)
	}

	source, err := filepath.Abs(input)
	if err != nil {
		return converter.Request{}, fmt.Errorf("resolve %s: %w", input, err)
	}
	var output string
	if len(args) == 2 && args[1] != "" {
		if output, err = filepath.Abs(args[1]); err != nil {
			return converter.Request{}, fmt.Errorf("resolve %s: %w", args[1], err)
		}
	}
	return converter.Request{
		Source:      source,
		Output:      converter.OutputPath(source, format, output),
		Format:      format,
		ResourceDir: filepath.Dir(source),
	}, nil
}

// runConversion runs t to completion, writing its progress lines to
// progress, and returns the output path on success.
func runConversion(ctx context.Context, t *task.ConvertTask, progress io.Writer, installURL string) (string, error) {
	var result *task.ConvertResult
	err := t.Run(ctx, func(m task.Message) {
		fmt.Fprintln(progress, m.Text)
		if m.Convert != nil {
			result = m.Convert
		}
	})
	if err != nil {
		return "", err
	}
	req := t.Request()
	switch {
	case result == nil:
		return "", fmt.Errorf("conversion of %s failed", filepath.Base(req.Source))
	case result.Outcome == task.OutcomeNotInstalled:
		return "", fmt.Errorf("%w: install it from %s", apperr.ErrNotInstalled, installURL)
	case result.Outcome != task.OutcomeSucceeded:
		return "", fmt.Errorf("conversion of %s failed", filepath.Base(req.Source))
	}
	return req.Output, nil
}

package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/panbanda/augur/internal/jaif"
)

func exportCmd() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Export inferred qualifiers as an annotation index and stubs",
		ArgsUsage: "[path...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "index",
				Value: "augur.jaif",
				Usage: "Annotation index output file",
			},
			&cli.StringFlag{
				Name:  "stubs",
				Usage: "Annotated stub signatures output file (optional)",
			},
			&cli.StringFlag{
				Name:  "policy",
				Usage: "Policy pack JSON file extending the builtin source/sink catalog",
			},
		},
		Action: runExportCmd,
	}
}

func runExportCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	files, err := collectTestFiles(c, cfg)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		color.Yellow("No test files found")
		return nil
	}

	report, methods, err := runPipeline(c, cfg, files)
	if err != nil {
		return err
	}

	indexPath := c.String("index")
	indexFile, err := os.Create(indexPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", indexPath, err)
	}
	defer indexFile.Close()

	if err := jaif.WriteIndex(indexFile, report.Results); err != nil {
		return fmt.Errorf("failed to write annotation index: %w", err)
	}
	color.Green("Annotation index written to %s", indexPath)

	if stubsPath := c.String("stubs"); stubsPath != "" {
		stubsFile, err := os.Create(stubsPath)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", stubsPath, err)
		}
		defer stubsFile.Close()

		if err := jaif.WriteStubs(stubsFile, methods, report.Results); err != nil {
			return fmt.Errorf("failed to write stubs: %w", err)
		}
		color.Green("Annotated stubs written to %s", stubsPath)
	}
	return nil
}

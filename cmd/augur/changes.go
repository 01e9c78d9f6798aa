package main

import (
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/panbanda/augur/internal/vcs"
)

func changesCmd() *cli.Command {
	return &cli.Command{
		Name:      "changes",
		Aliases:   []string{"diff"},
		Usage:     "Analyze only test files changed since a git ref",
		ArgsUsage: "[path]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "ref",
				Value: "HEAD~1",
				Usage: "Git ref to diff against",
			},
			&cli.IntFlag{
				Name:  "top",
				Value: 50,
				Usage: "Show top N issues by severity",
			},
			&cli.StringFlag{
				Name:  "fail-on",
				Usage: "Exit non-zero if issues at or above this severity exist (critical, high, medium, low)",
			},
			&cli.StringFlag{
				Name:  "policy",
				Usage: "Policy pack JSON file extending the builtin source/sink catalog",
			},
		},
		Action: runChangesCmd,
	}
}

func runChangesCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	root, err := filepath.Abs(getPaths(c)[0])
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	ref := c.String("ref")
	changed, err := vcs.ChangedTestFiles(root, ref)
	if err != nil {
		return fmt.Errorf("failed to diff against %s: %w", ref, err)
	}
	if len(changed) == 0 {
		color.Yellow("No test files changed since %s", ref)
		return nil
	}

	// Changed paths are repo-relative; analysis wants absolute paths.
	files := make([]string, 0, len(changed))
	for _, f := range changed {
		abs := filepath.Join(root, f)
		if cfg.ShouldExclude(f) {
			continue
		}
		files = append(files, abs)
	}
	if len(files) == 0 {
		color.Yellow("All changed test files are excluded by config")
		return nil
	}

	if c.Bool("verbose") {
		fmt.Fprintf(c.App.ErrWriter, "Analyzing %d changed test files since %s\n", len(files), ref)
	}

	report, _, err := runPipeline(c, cfg, files)
	if err != nil {
		return err
	}

	if err := renderReport(c, report); err != nil {
		return err
	}

	if failOn := c.String("fail-on"); failOn != "" {
		sev, err := parseSeverity(failOn)
		if err != nil {
			return err
		}
		if n := issuesAtOrAbove(report, sev); n > 0 {
			return cli.Exit(fmt.Sprintf("%d issues at or above %s severity", n, sev), 1)
		}
	}
	return nil
}

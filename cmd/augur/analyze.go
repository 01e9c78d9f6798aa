package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/panbanda/augur/internal/cache"
	"github.com/panbanda/augur/internal/methodproc"
	"github.com/panbanda/augur/internal/output"
	"github.com/panbanda/augur/internal/progress"
	"github.com/panbanda/augur/internal/scanner"
	"github.com/panbanda/augur/pkg/config"
	"github.com/panbanda/augur/pkg/methodctx"
	"github.com/panbanda/augur/pkg/models"
	"github.com/panbanda/augur/pkg/taint"
	"github.com/panbanda/augur/pkg/taint/catalog"
	"github.com/panbanda/augur/pkg/taint/violation"
)

func analyzeCmd() *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Aliases:   []string{"an"},
		Usage:     "Run taint analysis over all test files",
		ArgsUsage: "[path...]",
		Flags: []cli.Flag{
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
		Action: runAnalyzeCmd,
	}
}

func runAnalyzeCmd(c *cli.Context) error {
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

// collectTestFiles scans every path argument for test sources.
func collectTestFiles(c *cli.Context, cfg *config.Config) ([]string, error) {
	scan := scanner.NewScanner(cfg)

	var files []string
	for _, path := range getPaths(c) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("invalid path %s: %w", path, err)
		}
		found, err := scan.ScanTestFiles(absPath)
		if err != nil {
			return nil, fmt.Errorf("failed to scan directory %s: %w", path, err)
		}
		files = append(files, found...)
	}
	return files, nil
}

// buildCatalog starts from the builtin catalog and merges a policy pack if
// one is configured or passed on the command line.
func buildCatalog(c *cli.Context, cfg *config.Config) (*catalog.Catalog, error) {
	cat := catalog.Builtin()

	packPath := cfg.Taint.PolicyPack
	if p := c.String("policy"); p != "" {
		packPath = p
	}
	if packPath == "" {
		return cat, nil
	}

	pack, err := catalog.LoadPolicyFile(packPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy pack %s: %w", packPath, err)
	}
	cat.Merge(pack)
	return cat, nil
}

// runPipeline extracts methods from the files and pushes every method
// through the taint analyzer, incrementally when the cache is enabled.
func runPipeline(c *cli.Context, cfg *config.Config, files []string) (*models.Report, []*methodctx.Method, error) {
	cat, err := buildCatalog(c, cfg)
	if err != nil {
		return nil, nil, err
	}

	extractTracker := progress.NewTracker("Parsing test files...", len(files))
	methods, procErrs := methodproc.ExtractMethods(files, cfg.Taint.WorkerCount, extractTracker.Tick)
	extractTracker.FinishSuccess()

	if procErrs != nil && procErrs.HasErrors() {
		color.Yellow("Warning: %d files failed to parse", len(procErrs.Errors))
		if c.Bool("verbose") {
			for _, pe := range procErrs.Errors {
				fmt.Fprintf(c.App.ErrWriter, "  %s\n", pe.Error())
			}
		}
	}
	if len(methods) == 0 {
		return models.NewReport(nil), nil, nil
	}

	var inc *cache.Incremental
	if cfg.Taint.EnableIncremental && cfg.Cache.Enabled && !c.Bool("no-cache") {
		store, err := cache.New(cfg.Cache.Dir, cfg.Cache.TTL, true)
		if err != nil {
			color.Yellow("Warning: cache unavailable, running full analysis: %v", err)
		} else {
			inc = cache.NewIncremental(store)
		}
	}

	analyzeTracker := progress.NewTracker("Analyzing methods...", len(methods))
	coord := methodproc.New(taint.NewAnalyzer(cfg.Taint, cat), methodproc.Options{
		Workers:     cfg.Taint.WorkerCount,
		Timeout:     time.Duration(cfg.Taint.MethodTimeoutMs) * time.Millisecond,
		Incremental: inc,
		OnProgress:  analyzeTracker.Tick,
	})
	results := coord.Process(c.Context, methods)
	analyzeTracker.FinishSuccess()

	return models.NewReport(results), methods, nil
}

// renderReport writes the summary, issue table, and recommendations in the
// requested format.
func renderReport(c *cli.Context, report *models.Report) error {
	formatter, err := output.NewFormatter(output.ParseFormat(c.String("format")), c.String("output"), true)
	if err != nil {
		return err
	}
	defer formatter.Close()

	topN := c.Int("top")
	if topN <= 0 {
		topN = 50
	}

	rows := issueRows(report, topN)
	s := report.Summary
	m := report.Metrics

	sections := []output.Renderable{
		&output.Section{
			Title: "Summary",
			Content: fmt.Sprintf(
				"Methods: %d analyzed, %d failed, %d cache hits, %d low confidence\n"+
					"Issues: %d total (%d critical, %d high, %d medium, %d low)\n"+
					"Coverage: taint %.0f%%, sanitizer %.0f%%, sink %.0f%%\n"+
					"Score: mean %.1f, p50 %.1f, p90 %.1f",
				s.AnalyzedMethods, s.FailedMethods, s.CacheHits, s.LowConfidence,
				s.TotalIssues, s.Critical, s.High, s.Medium, s.Low,
				m.TaintCoverage*100, m.SanitizerCoverage*100, m.SinkCoverage*100,
				m.MeanScore, m.P50Score, m.P90Score),
		},
	}

	if len(rows) > 0 {
		sections = append(sections, output.NewTable(
			"Issues",
			[]string{"Method", "Line", "Severity", "Type", "Sink", "CWE"},
			rows,
			[]string{fmt.Sprintf("Total: %d", s.TotalIssues)},
			nil,
		))
	}

	// Failed and low-confidence methods are not findings; list them apart
	// from the issue table so they are not mistaken for violations.
	if attention := attentionRows(report); len(attention) > 0 {
		sections = append(sections, output.NewTable(
			"Needs Attention",
			[]string{"Method", "Status", "Detail"},
			attention,
			nil,
			nil,
		))
	}

	if len(report.Recommendations) > 0 {
		content := ""
		for _, rec := range report.Recommendations {
			content += "  - " + rec + "\n"
		}
		sections = append(sections, &output.Section{
			Title:   "Recommendations",
			Content: content,
		})
	}

	return formatter.Output(&output.Report{
		Title:    "Taint Analysis",
		Sections: sections,
		Data:     report,
	})
}

// issueRows flattens report issues into table rows, worst severity first.
func issueRows(report *models.Report, topN int) [][]string {
	var rows [][]string
	for _, sev := range []violation.Severity{violation.Critical, violation.High, violation.Medium, violation.Low} {
		for _, is := range report.IssuesBySeverity(sev) {
			if len(rows) >= topN {
				return rows
			}
			rows = append(rows, []string{
				is.Method,
				fmt.Sprintf("%d", is.Line),
				output.SeverityColor(string(is.Severity), string(is.Severity)),
				is.Type,
				is.Sink,
				is.CWE,
			})
		}
	}
	return rows
}

// attentionRows lists failed and low-confidence methods.
func attentionRows(report *models.Report) [][]string {
	var rows [][]string
	for _, res := range report.Results {
		switch {
		case res.Failed:
			rows = append(rows, []string{res.MethodID, "failed", res.Error})
		case res.LowConfidence():
			rows = append(rows, []string{res.MethodID, "low confidence", strings.Join(res.Warnings, "; ")})
		}
	}
	return rows
}

func parseSeverity(s string) (violation.Severity, error) {
	switch violation.Severity(s) {
	case violation.Critical, violation.High, violation.Medium, violation.Low:
		return violation.Severity(s), nil
	}
	return "", fmt.Errorf("unknown severity %q (expected critical, high, medium, or low)", s)
}

func issuesAtOrAbove(report *models.Report, sev violation.Severity) int {
	n := 0
	for _, res := range report.Results {
		for _, is := range res.Issues {
			if is.Severity.Rank() >= sev.Rank() {
				n++
			}
		}
	}
	return n
}

// Package taint orchestrates the per-method analysis pipeline: flow graph
// construction, constraint generation, qualifier inference, fixpoint
// propagation, and violation detection. Each phase checks the context so a
// per-method deadline cuts long analyses off between phases.
package taint

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/panbanda/augur/pkg/config"
	"github.com/panbanda/augur/pkg/methodctx"
	"github.com/panbanda/augur/pkg/models"
	"github.com/panbanda/augur/pkg/taint/catalog"
	"github.com/panbanda/augur/pkg/taint/constraint"
	"github.com/panbanda/augur/pkg/taint/flow"
	"github.com/panbanda/augur/pkg/taint/propagate"
	"github.com/panbanda/augur/pkg/taint/solver"
	"github.com/panbanda/augur/pkg/taint/violation"
)

// Analyzer runs the full taint pipeline for one method at a time. It is
// stateless across methods and safe for concurrent use.
type Analyzer struct {
	cat       *catalog.Catalog
	builder   *flow.Builder
	gen       *constraint.Generator
	solver    *solver.Solver
	engine    *propagate.Engine
	threshold float64
}

// NewAnalyzer wires the pipeline from config. A nil catalog uses the builtin
// one; the caller merges policy packs into the catalog beforehand.
func NewAnalyzer(cfg config.TaintConfig, cat *catalog.Catalog) *Analyzer {
	if cat == nil {
		cat = catalog.Builtin()
	}
	policy := constraint.LibraryBehavior(cfg.LibraryBehavior)
	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = config.DefaultConfig().Taint.ConfidenceThreshold
	}
	return &Analyzer{
		cat:       cat,
		builder:   flow.NewBuilder(cat),
		gen:       constraint.NewGenerator(cat, policy),
		solver:    solver.New(cfg.MaxSearchDepth),
		engine:    propagate.New(cat, policy),
		threshold: threshold,
	}
}

// Analyze runs the pipeline for one method. Failures (malformed statement
// sequences, deadline hits) mark the result failed rather than aborting the
// batch.
func (a *Analyzer) Analyze(ctx context.Context, m *methodctx.Method) models.MethodAnalysisResult {
	start := time.Now()
	res := models.MethodAnalysisResult{
		MethodID: m.ID,
		File:     m.File,
		Name:     m.Name,
		Language: m.Language,
	}
	for _, p := range m.Params {
		if p.Source.Tainted() {
			res.TaintedParams++
		}
	}
	defer func() {
		res.DurationMs = time.Since(start).Milliseconds()
	}()

	if err := ctx.Err(); err != nil {
		return failed(res, err)
	}
	g, err := a.builder.Build(m)
	if err != nil {
		return failed(res, err)
	}
	res.Graph = g.Summarize()

	if err := ctx.Err(); err != nil {
		return failed(res, err)
	}
	cs := a.gen.Generate(g, m.Params)

	if err := ctx.Err(); err != nil {
		return failed(res, err)
	}
	inf := a.solver.Solve(cs)
	res.InferredTypes = inf.TypeMap
	res.Confidence = inf.Confidence
	res.Warnings = append(res.Warnings, inf.Warnings...)
	if low := inf.LowConfidence(a.threshold); len(low) > 0 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("low confidence (< %.2f) for: %s", a.threshold, strings.Join(low, ", ")))
	}

	if err := ctx.Err(); err != nil {
		return failed(res, err)
	}
	out, err := a.engine.Run(g, m.Params, inf.TypeMap)
	if err != nil {
		return failed(res, err)
	}
	res.Iterations = out.Iterations

	if err := ctx.Err(); err != nil {
		return failed(res, err)
	}
	res.Issues = violation.Detect(m.ID, out.Hits)
	res.SecurityScore = models.ScoreIssues(res.Issues)
	return res
}

// AnalyzeWithTimeout applies a per-method deadline around Analyze.
func (a *Analyzer) AnalyzeWithTimeout(ctx context.Context, m *methodctx.Method, timeout time.Duration) models.MethodAnalysisResult {
	if timeout <= 0 {
		return a.Analyze(ctx, m)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return a.Analyze(tctx, m)
}

func failed(res models.MethodAnalysisResult, err error) models.MethodAnalysisResult {
	res.Failed = true
	res.Error = err.Error()
	res.SecurityScore = 0
	return res
}

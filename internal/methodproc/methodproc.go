// Package methodproc fans the per-method taint pipeline out across a
// bounded worker pool. Methods partition into independent tasks, workers
// share nothing, and the merge sorts by method ID so results are identical
// for any worker count.
package methodproc

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/panbanda/augur/internal/cache"
	"github.com/panbanda/augur/pkg/methodctx"
	"github.com/panbanda/augur/pkg/models"
	"github.com/panbanda/augur/pkg/parser"
	"github.com/panbanda/augur/pkg/taint"
)

// DefaultWorkerMultiplier is applied to NumCPU when no worker count is set.
// 2x covers the mixed CPU and CGO parse workload.
const DefaultWorkerMultiplier = 2

// ProgressFunc is called after each method completes.
type ProgressFunc func()

// ProcessingError records a file or method that could not be processed.
type ProcessingError struct {
	Path string
	Err  error
}

func (e ProcessingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// ProcessingErrors collects processing errors across workers.
type ProcessingErrors struct {
	Errors []ProcessingError
	mu     sync.Mutex
}

// Add appends an error to the collection (thread-safe).
func (e *ProcessingErrors) Add(path string, err error) {
	e.mu.Lock()
	e.Errors = append(e.Errors, ProcessingError{Path: path, Err: err})
	e.mu.Unlock()
}

// HasErrors returns true if any errors were collected.
func (e *ProcessingErrors) HasErrors() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Errors) > 0
}

// Error implements the error interface.
func (e *ProcessingErrors) Error() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d items failed to process (first: %v)", len(e.Errors), e.Errors[0])
}

// Options controls coordinator behavior.
type Options struct {
	// Workers bounds the pool; <= 0 means NumCPU * DefaultWorkerMultiplier.
	Workers int

	// Timeout is the per-method analysis deadline; <= 0 disables it.
	Timeout time.Duration

	// Incremental, when set, serves unchanged methods from cache during the
	// parallel phase and stores fresh results back after the merge. Workers
	// only read; the cache write pass has a single writer.
	Incremental *cache.Incremental

	// OnProgress is called once per completed method.
	OnProgress ProgressFunc
}

// Coordinator dispatches methods to the taint pipeline.
type Coordinator struct {
	analyzer *taint.Analyzer
	opts     Options
}

// New creates a coordinator around a configured analyzer.
func New(a *taint.Analyzer, opts Options) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU() * DefaultWorkerMultiplier
	}
	return &Coordinator{analyzer: a, opts: opts}
}

// Process analyzes every method and returns results sorted by method ID.
// A method that fails analysis once is retried a single time before its
// failed result is kept; timeouts on loaded machines are the common cause.
func (c *Coordinator) Process(ctx context.Context, methods []*methodctx.Method) []models.MethodAnalysisResult {
	if len(methods) == 0 {
		return nil
	}

	results := make([]models.MethodAnalysisResult, 0, len(methods))
	var mu sync.Mutex

	p := pool.New().WithMaxGoroutines(c.opts.Workers)
	for _, m := range methods {
		m := m
		p.Go(func() {
			res := c.processOne(ctx, m)
			if c.opts.OnProgress != nil {
				c.opts.OnProgress()
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		})
	}
	p.Wait()

	sort.Slice(results, func(i, j int) bool {
		return results[i].MethodID < results[j].MethodID
	})
	c.storeResults(methods, results)
	return results
}

// storeResults writes fresh results back to the cache once the parallel
// phase has merged. Failed results and cache hits are never written.
func (c *Coordinator) storeResults(methods []*methodctx.Method, results []models.MethodAnalysisResult) {
	if c.opts.Incremental == nil {
		return
	}
	byID := make(map[string]*methodctx.Method, len(methods))
	for _, m := range methods {
		byID[m.ID] = m
	}
	for i := range results {
		res := &results[i]
		if res.Failed || res.CacheHit {
			continue
		}
		m := byID[res.MethodID]
		if m == nil {
			continue
		}
		if err := c.opts.Incremental.Store(m, *res); err == nil {
			res.ContentHash = cache.HashBytes([]byte(m.Body))
		}
	}
}

func (c *Coordinator) processOne(ctx context.Context, m *methodctx.Method) models.MethodAnalysisResult {
	if c.opts.Incremental != nil {
		if kind, cached := c.opts.Incremental.Classify(m); !kind.RequiresAnalysis() && cached != nil {
			res := *cached
			res.CacheHit = true
			return res
		}
	}

	res := c.analyzer.AnalyzeWithTimeout(ctx, m, c.opts.Timeout)
	if res.Failed && ctx.Err() == nil {
		res = c.analyzer.AnalyzeWithTimeout(ctx, m, c.opts.Timeout)
	}
	return res
}

// ExtractMethods parses files in parallel with a dedicated parser per task
// and flattens every method found. Files that fail to parse are collected
// in the returned errors, never fatal to the batch.
func ExtractMethods(files []string, workers int, onProgress ProgressFunc) ([]*methodctx.Method, *ProcessingErrors) {
	if len(files) == 0 {
		return nil, nil
	}
	if workers <= 0 {
		workers = runtime.NumCPU() * DefaultWorkerMultiplier
	}

	var methods []*methodctx.Method
	errs := &ProcessingErrors{}
	var mu sync.Mutex

	p := pool.New().WithMaxGoroutines(workers)
	for _, path := range files {
		path := path
		p.Go(func() {
			psr := parser.New()
			defer psr.Close()

			res, err := psr.ParseFile(path)
			if err != nil {
				errs.Add(path, err)
				if onProgress != nil {
					onProgress()
				}
				return
			}
			extracted := methodctx.ExtractFile(res)
			if onProgress != nil {
				onProgress()
			}

			mu.Lock()
			methods = append(methods, extracted...)
			mu.Unlock()
		})
	}
	p.Wait()

	sort.Slice(methods, func(i, j int) bool { return methods[i].ID < methods[j].ID })
	if !errs.HasErrors() {
		return methods, nil
	}
	return methods, errs
}

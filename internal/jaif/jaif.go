// Package jaif serializes inferred taint qualifiers into an annotation
// index file and annotated method stubs, so inference results can be fed
// back into annotation-based checkers or reviewed as plain text.
package jaif

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/panbanda/augur/pkg/methodctx"
	"github.com/panbanda/augur/pkg/models"
	"github.com/panbanda/augur/pkg/taint/qualifier"
)

// annotation names in index files, keyed by qualifier.
func annotation(q qualifier.Qualifier) string {
	switch q {
	case qualifier.Tainted:
		return "@Tainted"
	case qualifier.Untainted:
		return "@Untainted"
	default:
		return "@PolyTaint"
	}
}

// WriteIndex writes an annotation index file: one class block per source
// file, one method block per analyzed method, one local entry per inferred
// variable. Output order is deterministic regardless of result order.
func WriteIndex(w io.Writer, results []models.MethodAnalysisResult) error {
	fmt.Fprintln(w, "package:")
	fmt.Fprintln(w, "annotation @Tainted:")
	fmt.Fprintln(w, "annotation @Untainted:")
	fmt.Fprintln(w, "annotation @PolyTaint:")

	byFile := map[string][]models.MethodAnalysisResult{}
	for _, res := range results {
		if res.Failed || len(res.InferredTypes) == 0 {
			continue
		}
		byFile[res.File] = append(byFile[res.File], res)
	}

	files := make([]string, 0, len(byFile))
	for f := range byFile {
		files = append(files, f)
	}
	sort.Strings(files)

	for _, file := range files {
		fmt.Fprintf(w, "\nclass %s:\n", file)

		methods := byFile[file]
		sort.Slice(methods, func(i, j int) bool { return methods[i].MethodID < methods[j].MethodID })

		for _, res := range methods {
			fmt.Fprintf(w, "    method %s:\n", res.Name)
			for _, v := range sortedVars(res.InferredTypes) {
				fmt.Fprintf(w, "        local %s: %s\n", v, annotation(res.InferredTypes[v]))
			}
		}
	}
	return nil
}

// WriteStubs writes one annotated signature per method, with each parameter
// prefixed by its inferred qualifier. Methods without an inference result
// are emitted unannotated so the stub file stays complete.
func WriteStubs(w io.Writer, methods []*methodctx.Method, results []models.MethodAnalysisResult) error {
	inferred := map[string]map[string]qualifier.Qualifier{}
	for _, res := range results {
		if !res.Failed {
			inferred[res.MethodID] = res.InferredTypes
		}
	}

	sorted := make([]*methodctx.Method, len(methods))
	copy(sorted, methods)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	lastFile := ""
	for _, m := range sorted {
		if m.File != lastFile {
			if lastFile != "" {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "// %s\n", m.File)
			lastFile = m.File
		}
		fmt.Fprintln(w, stubSignature(m, inferred[m.ID]))
	}
	return nil
}

func stubSignature(m *methodctx.Method, types map[string]qualifier.Qualifier) string {
	params := make([]string, len(m.Params))
	for i, p := range m.Params {
		if q, ok := types[p.Name]; ok {
			params[i] = annotation(q) + " " + p.Name
		} else {
			params[i] = p.Name
		}
	}
	return fmt.Sprintf("%s(%s)", m.Name, strings.Join(params, ", "))
}

func sortedVars(types map[string]qualifier.Qualifier) []string {
	vars := make([]string, 0, len(types))
	for v := range types {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return vars
}

// Package methodctx models the input the taint pipeline consumes for one
// method: a flat statement list, declared parameters with inferred sources,
// and the raw body text used for incremental hashing.
package methodctx

import (
	"fmt"
	"strings"
)

// StmtKind classifies a flattened statement.
type StmtKind string

const (
	StmtAssign StmtKind = "assign"
	StmtCall   StmtKind = "call"
	StmtReturn StmtKind = "return"
	StmtIf     StmtKind = "if"
	StmtElse   StmtKind = "else"
	StmtLoop   StmtKind = "loop"
	// StmtEnd closes the block opened by the nearest unclosed if/loop.
	StmtEnd StmtKind = "end"
)

// Statement is one entry in a method's flattened statement list. Block
// structure is encoded with if/else/loop openers and end markers; the flow
// graph builder reconstructs branches and merges from them.
type Statement struct {
	Kind StmtKind `json:"kind"`
	// Target is the variable assigned by an assign statement.
	Target string `json:"target,omitempty"`
	// Callee is the invoked function for call statements and for assigns
	// whose right-hand side is a call.
	Callee string `json:"callee,omitempty"`
	// Args holds the variable names passed to Callee, in order. Literal
	// arguments appear as empty strings to keep positions stable.
	Args []string `json:"args,omitempty"`
	// Sources holds variables read by a plain (non-call) assignment or
	// return expression.
	Sources []string `json:"sources,omitempty"`
	Text    string   `json:"text,omitempty"`
	Line    uint32   `json:"line"`
}

// ParamSource classifies where a parameter's data originates.
type ParamSource string

const (
	SourceNone      ParamSource = ""
	SourceUserInput ParamSource = "user-input"
	SourceDatabase  ParamSource = "db-read"
	SourceNetwork   ParamSource = "network"
	SourceFile      ParamSource = "file"
)

// Param is a declared method parameter.
type Param struct {
	Name   string      `json:"name"`
	Source ParamSource `json:"source,omitempty"`
}

// Method is the extracted context for a single method under analysis.
type Method struct {
	ID         string      `json:"id"`
	File       string      `json:"file"`
	Name       string      `json:"name"`
	Language   string      `json:"language"`
	StartLine  uint32      `json:"start_line"`
	EndLine    uint32      `json:"end_line"`
	Params     []Param     `json:"params"`
	Statements []Statement `json:"statements"`
	// Body is the raw body text, used for content hashing.
	Body string `json:"-"`
	// Signature is the declaration text up to the body, used to classify
	// signature vs body changes.
	Signature string `json:"signature"`
}

// MethodID builds the canonical identifier for a method.
func MethodID(file, name string, line uint32) string {
	return fmt.Sprintf("%s:%s:%d", file, name, line)
}

// sourceHints maps parameter-name substrings to the source they suggest.
// Order matters: the first match wins.
var sourceHints = []struct {
	substr string
	source ParamSource
}{
	{"userinput", SourceUserInput},
	{"user_input", SourceUserInput},
	{"request", SourceUserInput},
	{"input", SourceUserInput},
	{"param", SourceUserInput},
	{"query", SourceUserInput},
	{"form", SourceUserInput},
	{"payload", SourceNetwork},
	{"response", SourceNetwork},
	{"body", SourceNetwork},
	{"socket", SourceNetwork},
	{"row", SourceDatabase},
	{"record", SourceDatabase},
	{"dbresult", SourceDatabase},
	{"filename", SourceFile},
	{"filepath", SourceFile},
	{"path", SourceFile},
}

// InferParamSource guesses a parameter's taint source from its name.
// Unknown names return SourceNone; the constraint generator decides what
// that means under the configured library-behavior policy.
func InferParamSource(name string) ParamSource {
	lower := strings.ToLower(name)
	for _, h := range sourceHints {
		if strings.Contains(lower, h.substr) {
			return h.source
		}
	}
	return SourceNone
}

// Tainted reports whether the source marks externally controlled data.
func (s ParamSource) Tainted() bool {
	return s != SourceNone
}

// Validate checks block structure: every if/loop must be closed by an end
// marker and no end may appear without an opener. The flow graph builder
// refuses malformed sequences, so surfacing this early gives a clearer error.
func Validate(stmts []Statement) error {
	depth := 0
	for i, s := range stmts {
		switch s.Kind {
		case StmtIf, StmtLoop:
			depth++
		case StmtElse:
			if depth == 0 {
				return fmt.Errorf("statement %d: else without open branch", i)
			}
		case StmtEnd:
			depth--
			if depth < 0 {
				return fmt.Errorf("statement %d: end without open block", i)
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("unterminated block: %d open block(s) at end of method", depth)
	}
	return nil
}

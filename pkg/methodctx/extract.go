package methodctx

import (
	"strings"

	"github.com/panbanda/augur/pkg/parser"
	sitter "github.com/smacker/go-tree-sitter"
)

// ExtractFile extracts a method context for every function declared in a
// parsed source file.
func ExtractFile(res *parser.ParseResult) []*Method {
	var methods []*Method
	for _, fn := range parser.GetFunctions(res) {
		if m := ExtractMethod(fn, res); m != nil {
			methods = append(methods, m)
		}
	}
	return methods
}

// ExtractMethod flattens one parsed function into a Method context.
// Functions without a body (interface methods, declarations) are skipped.
func ExtractMethod(fn parser.FunctionNode, res *parser.ParseResult) *Method {
	if fn.Body == nil {
		return nil
	}

	m := &Method{
		ID:        MethodID(res.Path, fn.Name, fn.StartLine),
		File:      res.Path,
		Name:      fn.Name,
		Language:  string(res.Language),
		StartLine: fn.StartLine,
		EndLine:   fn.EndLine,
		Body:      parser.GetNodeText(fn.Body, res.Source),
		Signature: parser.SignatureText(fn, res.Source),
	}

	for _, p := range fn.Parameters {
		m.Params = append(m.Params, Param{Name: p, Source: InferParamSource(p)})
	}

	m.Statements = flattenBlock(fn.Body, res.Source)
	return m
}

// Node types treated as assignments across the supported grammars.
var assignTypes = map[string]bool{
	"short_var_declaration":      true, // go :=
	"assignment_statement":       true, // go =
	"assignment_expression":      true, // js/ts/java
	"assignment":                 true, // python/ruby
	"variable_declarator":        true, // js/ts/java declarator with value
	"lexical_declaration":        true, // js/ts const/let
	"variable_declaration":       true, // js var
	"local_variable_declaration": true, // java
}

// Node types that are call expressions.
var callTypes = map[string]bool{
	"call_expression":   true, // go/js/ts
	"call":              true, // python/ruby
	"method_invocation": true, // java
}

var loopTypes = map[string]bool{
	"for_statement":          true,
	"while_statement":        true,
	"for_in_statement":       true,
	"do_statement":           true,
	"for":                    true, // ruby
	"while":                  true, // ruby
	"until":                  true, // ruby
	"enhanced_for_statement": true, // java
}

// flattenBlock converts a body subtree into the flat statement list the flow
// graph builder consumes. Block structure is preserved with if/else/loop
// openers and end markers.
func flattenBlock(block *sitter.Node, source []byte) []Statement {
	var out []Statement
	for i := 0; i < int(block.NamedChildCount()); i++ {
		out = append(out, flattenStatement(block.NamedChild(i), source)...)
	}
	return out
}

func flattenStatement(node *sitter.Node, source []byte) []Statement {
	if node == nil {
		return nil
	}
	line := node.StartPoint().Row + 1
	nodeType := node.Type()

	switch {
	case nodeType == "comment" || nodeType == "line_comment" || nodeType == "block_comment":
		return nil

	case assignTypes[nodeType]:
		if s, ok := extractAssign(node, source, line); ok {
			return []Statement{s}
		}
		return nil

	case nodeType == "expression_statement":
		if node.NamedChildCount() == 0 {
			return nil
		}
		return flattenStatement(node.NamedChild(0), source)

	case callTypes[nodeType]:
		callee, args := extractCall(node, source)
		return []Statement{{
			Kind:   StmtCall,
			Callee: callee,
			Args:   args,
			Text:   parser.GetNodeText(node, source),
			Line:   line,
		}}

	case nodeType == "if_statement" || nodeType == "if" || nodeType == "unless":
		return flattenIf(node, source, line)

	case loopTypes[nodeType]:
		body := node.ChildByFieldName("body")
		if body == nil {
			body = node.ChildByFieldName("block")
		}
		out := []Statement{{
			Kind: StmtLoop,
			Text: firstLine(parser.GetNodeText(node, source)),
			Line: line,
		}}
		if body != nil {
			out = append(out, flattenBlock(body, source)...)
		}
		return append(out, Statement{Kind: StmtEnd, Line: node.EndPoint().Row + 1})

	case nodeType == "return_statement" || nodeType == "return":
		s := Statement{
			Kind: StmtReturn,
			Text: parser.GetNodeText(node, source),
			Line: line,
		}
		if call := findCallChild(node); call != nil {
			s.Callee, s.Args = extractCall(call, source)
		} else {
			s.Sources = identifiersIn(node, source)
		}
		return []Statement{s}

	case nodeType == "block" || nodeType == "statement_block" || nodeType == "body_statement":
		return flattenBlock(node, source)
	}

	// Statements we do not model (defer, go, throw, imports inside bodies)
	// are skipped; the flow graph treats the gap as a normal edge.
	return nil
}

// flattenIf emits a branch opener, the true arm, an optional else marker
// with the false arm, and the closing end marker.
func flattenIf(node *sitter.Node, source []byte, line uint32) []Statement {
	out := []Statement{{
		Kind: StmtIf,
		Text: firstLine(parser.GetNodeText(node, source)),
		Line: line,
	}}

	if cons := node.ChildByFieldName("consequence"); cons != nil {
		out = append(out, flattenBlock(cons, source)...)
	}

	if alt := node.ChildByFieldName("alternative"); alt != nil {
		out = append(out, Statement{Kind: StmtElse, Line: alt.StartPoint().Row + 1})
		// else_clause wraps either a block or a chained if_statement.
		handled := false
		for i := 0; i < int(alt.NamedChildCount()); i++ {
			child := alt.NamedChild(i)
			switch child.Type() {
			case "block", "statement_block", "body_statement":
				out = append(out, flattenBlock(child, source)...)
				handled = true
			case "if_statement", "if":
				out = append(out, flattenStatement(child, source)...)
				handled = true
			}
		}
		if !handled && (alt.Type() == "block" || alt.Type() == "statement_block") {
			out = append(out, flattenBlock(alt, source)...)
		}
	}

	return append(out, Statement{Kind: StmtEnd, Line: node.EndPoint().Row + 1})
}

// extractAssign pulls target, callee/args or plain sources from an
// assignment-shaped node.
func extractAssign(node *sitter.Node, source []byte, line uint32) (Statement, bool) {
	// Declarations wrap one or more declarators; unwrap the first.
	if node.Type() == "lexical_declaration" || node.Type() == "variable_declaration" ||
		node.Type() == "local_variable_declaration" {
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			if child.Type() == "variable_declarator" {
				return extractAssign(child, source, line)
			}
		}
		return Statement{}, false
	}

	left := node.ChildByFieldName("left")
	if left == nil {
		left = node.ChildByFieldName("name")
	}
	right := node.ChildByFieldName("right")
	if right == nil {
		right = node.ChildByFieldName("value")
	}
	if left == nil || right == nil {
		return Statement{}, false
	}

	s := Statement{
		Kind:   StmtAssign,
		Target: firstIdentifier(left, source),
		Text:   parser.GetNodeText(node, source),
		Line:   line,
	}
	if s.Target == "" {
		return Statement{}, false
	}

	if call := findCall(right); call != nil {
		s.Callee, s.Args = extractCall(call, source)
	} else {
		s.Sources = identifiersIn(right, source)
	}
	return s, true
}

// extractCall returns the callee text and argument variable names for a call
// node. Literal arguments keep their position as empty strings.
func extractCall(node *sitter.Node, source []byte) (string, []string) {
	var callee string
	switch node.Type() {
	case "method_invocation":
		name := parser.GetNodeText(node.ChildByFieldName("name"), source)
		if obj := node.ChildByFieldName("object"); obj != nil {
			callee = parser.GetNodeText(obj, source) + "." + name
		} else {
			callee = name
		}
	default:
		if fn := node.ChildByFieldName("function"); fn != nil {
			callee = parser.GetNodeText(fn, source)
		} else if m := node.ChildByFieldName("method"); m != nil {
			// Ruby call: receiver.method
			callee = parser.GetNodeText(m, source)
			if recv := node.ChildByFieldName("receiver"); recv != nil {
				callee = parser.GetNodeText(recv, source) + "." + callee
			}
		}
	}

	var args []string
	if argList := node.ChildByFieldName("arguments"); argList != nil {
		for i := 0; i < int(argList.NamedChildCount()); i++ {
			arg := argList.NamedChild(i)
			if arg.Type() == "identifier" {
				args = append(args, parser.GetNodeText(arg, source))
			} else {
				args = append(args, "")
			}
		}
	}
	return callee, args
}

// findCall returns node itself or its first direct call child.
func findCall(node *sitter.Node) *sitter.Node {
	if node == nil {
		return nil
	}
	if callTypes[node.Type()] {
		return node
	}
	return findCallChild(node)
}

func findCallChild(node *sitter.Node) *sitter.Node {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if callTypes[child.Type()] {
			return child
		}
	}
	return nil
}

// firstIdentifier returns the node's text if it is an identifier, or the
// text of its first identifier descendant. Multi-target assignments keep
// only the first target.
func firstIdentifier(node *sitter.Node, source []byte) string {
	if node.Type() == "identifier" {
		return parser.GetNodeText(node, source)
	}
	var found string
	parser.Walk(node, source, func(n *sitter.Node, src []byte) bool {
		if found != "" {
			return false
		}
		if n.Type() == "identifier" {
			found = parser.GetNodeText(n, src)
			return false
		}
		return true
	})
	return found
}

// identifiersIn collects distinct identifier names in source order.
func identifiersIn(node *sitter.Node, source []byte) []string {
	var names []string
	seen := map[string]bool{}
	parser.Walk(node, source, func(n *sitter.Node, src []byte) bool {
		if n.Type() == "identifier" {
			name := parser.GetNodeText(n, src)
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
		return true
	})
	return names
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

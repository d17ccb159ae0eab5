package synth

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
)

// Severity is the validation finding's severity band. HIGH findings are
// fatal (see HasFatal); MEDIUM findings are reported but do not stop
// synthesis.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// Finding is one validation issue.
type Finding struct {
	Severity Severity
	Message  string
}

// Findings is the result of validating a candidate's source.
type Findings struct {
	ParseError error
	Items      []Finding
}

// HasFatal reports whether any HIGH-severity finding is present, or the
// source failed to parse.
func (f Findings) HasFatal() bool {
	if f.ParseError != nil {
		return true
	}
	for _, item := range f.Items {
		if item.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// Messages flattens findings into strings for error reporting.
func (f Findings) Messages() []string {
	var out []string
	if f.ParseError != nil {
		out = append(out, "parse error: "+f.ParseError.Error())
	}
	for _, item := range f.Items {
		out = append(out, string(item.Severity)+": "+item.Message)
	}
	return out
}

// bannedHigh are constructs that are always fatal: dynamic eval, shell
// invocation, unchecked dynamic import. Grounded on
// theRebelliousNerd-codenerd's tool_validation.go dangerousImports
// check, extended from "warning only" to spec.md's HIGH/MEDIUM split.
var bannedHigh = map[string]bool{
	"os/exec":    true,
	"plugin":     true,
	"unsafe":     true,
	"syscall":    true,
	"runtime/cgo": true,
}

// bannedMedium imports (raw network/file operations) are reported as a
// MEDIUM finding unless the Validator was built to allow them. A MEDIUM
// finding does not make HasFatal true.
var bannedMedium = map[string]bool{
	"net":      true,
	"net/http": true,
	"os":       true,
	"io/ioutil": true,
}

// Validator performs AST-based structural validation of candidate
// plugin source, grounded on
// theRebelliousNerd-codenerd/internal/autopoiesis/tool_validation.go's
// validateCodeAST: go/parser parse, import inspection, banned-construct
// scanning.
type Validator struct {
	allowedDependencies map[string]bool
}

// NewValidator builds a Validator permitting the given dependency names
// through the MEDIUM-severity check. The Synthesizer validates every
// candidate with the one Validator it was built with; a Requirement's
// PermittedDependencies are not passed to it.
func NewValidator(permittedDependencies []string) *Validator {
	allowed := make(map[string]bool, len(permittedDependencies))
	for _, d := range permittedDependencies {
		allowed[d] = true
	}
	return &Validator{allowedDependencies: allowed}
}

// Validate parses the candidate source and checks for syntax errors and
// banned constructs.
func (v *Validator) Validate(source string) Findings {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "candidate.go", source, parser.ParseComments)
	if err != nil {
		return Findings{ParseError: err}
	}

	var findings []Finding
	for _, imp := range file.Imports {
		path := strings.Trim(imp.Path.Value, `"`)
		switch {
		case bannedHigh[path]:
			findings = append(findings, Finding{Severity: SeverityHigh, Message: "banned import: " + path})
		case bannedMedium[path] && !v.allowedDependencies[path]:
			findings = append(findings, Finding{Severity: SeverityMedium, Message: "import requires explicit allow: " + path})
		}
	}

	if hasDynamicEval(file) {
		findings = append(findings, Finding{Severity: SeverityHigh, Message: "dynamic code execution construct detected"})
	}

	return Findings{Items: findings}
}

// hasDynamicEval scans call expressions for constructs equivalent to
// dynamic eval in this runtime: calls written as interp.New,
// plugin.Open, or exec.Command. It matches the selector text only, so a
// call through an aliased import name is not detected.
func hasDynamicEval(file *ast.File) bool {
	var found bool
	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		switch fmt.Sprintf("%s.%s", identName(sel.X), sel.Sel.Name) {
		case "exec.Command", "plugin.Open", "interp.New":
			found = true
		}
		return true
	})
	return found
}

func identName(expr ast.Expr) string {
	if id, ok := expr.(*ast.Ident); ok {
		return id.Name
	}
	return ""
}

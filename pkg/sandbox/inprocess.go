package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// InProcessBackend interprets trusted plugin source with Yaegi rather
// than containerizing it, grounded on
// theRebelliousNerd-codenerd/internal/autopoiesis/yaegi_executor.go: a
// stdlib-only import whitelist, a required entrypoint function, and a
// goroutine + select timeout around the call.
type InProcessBackend struct {
	allowedPackages map[string]bool
}

// NewInProcessBackend returns a backend restricted to the given stdlib
// package whitelist. A nil or empty list falls back to the same safe
// defaults as the teacher's YaegiExecutor.
func NewInProcessBackend(allowedPackages []string) *InProcessBackend {
	if len(allowedPackages) == 0 {
		allowedPackages = []string{
			"strings", "strconv", "fmt", "math", "regexp",
			"encoding/json", "encoding/base64", "time", "sort", "bytes",
			"path", "path/filepath", "errors",
		}
	}
	allowed := make(map[string]bool, len(allowedPackages))
	for _, p := range allowedPackages {
		allowed[p] = true
	}
	return &InProcessBackend{allowedPackages: allowed}
}

// entrypointSymbol names the function every in-process plugin must
// define: func Run(input string) (string, error).
const entrypointSymbol = "main.Run"

func (b *InProcessBackend) run(ctx context.Context, req Request) (json.RawMessage, error) {
	if err := b.validateImports(req.Plugin.Source); err != nil {
		return nil, &ExecutionError{Kind: FailurePluginError, Message: "invalid imports", Cause: err}
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, &ExecutionError{Kind: FailureInternal, Message: "loading interpreter stdlib", Cause: err}
	}

	if _, err := i.Eval(wrapCode(req.Plugin.Source)); err != nil {
		return nil, &ExecutionError{Kind: FailurePluginError, Message: "evaluating plugin source", Cause: err}
	}

	fn, err := i.Eval(entrypointSymbol)
	if err != nil {
		return nil, &ExecutionError{Kind: FailurePluginError, Message: "plugin does not define Run(string) (string, error)", Cause: err}
	}
	run, ok := fn.Interface().(func(string) (string, error))
	if !ok {
		return nil, &ExecutionError{Kind: FailurePluginError, Message: "Run has incorrect signature"}
	}

	resultCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		out, runErr := run(string(req.Input))
		if runErr != nil {
			errCh <- runErr
			return
		}
		resultCh <- out
	}()

	select {
	case out := <-resultCh:
		return json.RawMessage(out), nil
	case runErr := <-errCh:
		return nil, &ExecutionError{Kind: FailurePluginError, Message: runErr.Error(), Cause: runErr}
	case <-ctx.Done():
		return nil, &ExecutionError{Kind: FailureTimeout, Message: "in-process call exceeded soft deadline", Cause: ctx.Err()}
	}
}

func (b *InProcessBackend) validateImports(source string) error {
	var forbidden []string
	inBlock := false
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
		case inBlock:
			pkg := strings.Trim(trimmed, `"`)
			if pkg != "" && !b.allowedPackages[pkg] {
				forbidden = append(forbidden, pkg)
			}
		case strings.HasPrefix(trimmed, "import "):
			pkg := strings.Trim(strings.TrimPrefix(trimmed, "import "), `"`)
			if !b.allowedPackages[pkg] {
				forbidden = append(forbidden, pkg)
			}
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports: %v", forbidden)
	}
	return nil
}

func wrapCode(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return "package main\n\n" + code
}

package mcphost

import (
	"errors"
	"fmt"

	"github.com/MrWong99/lybot/internal/mcp/tools"
)

// builtinServerName is the pseudo server name used for in-process tools.
const builtinServerName = "__builtin__"

// RegisterBuiltin registers a tool that is called in-process. Its parameter
// schema is compiled once here; an invalid schema is an error.
//
// If a tool with the same name is already registered it is replaced.
// RegisterBuiltin is safe for concurrent use.
func (h *Host) RegisterBuiltin(tool tools.Tool) error {
	if tool.Definition.Name == "" {
		return fmt.Errorf("mcp host: builtin tool must have a non-empty name")
	}
	if tool.Handler == nil {
		return fmt.Errorf("mcp host: builtin tool %q must have a non-nil handler", tool.Definition.Name)
	}
	resolved, err := compileSchema(tool.Definition.Parameters)
	if err != nil {
		return fmt.Errorf("mcp host: builtin tool %q: %w", tool.Definition.Name, err)
	}

	entry := toolEntry{
		def:           tool.Definition,
		serverName:    builtinServerName,
		declaredP50Ms: tool.DeclaredP50,
		declaredMaxMs: tool.DeclaredMax,
		schema:        resolved,
		measurements:  newRollingWindow(defaultWindowSize),
		builtinFn:     tool.Handler,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.tools[tool.Definition.Name] = entry
	return nil
}

// RegisterTools registers every tool in ts, collecting all failures.
func (h *Host) RegisterTools(ts ...tools.Tool) error {
	var errs []error
	for _, t := range ts {
		if err := h.RegisterBuiltin(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

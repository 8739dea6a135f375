package backend

import (
	"context"
	"strings"

	"grimm.is/wgtunnel/internal/logging"
)

// ActionHandler runs an engine tunnel's PreUp, PostUp, PreDown and PostDown
// scripts. Script failures are logged and never fail the transition.
type ActionHandler interface {
	RunPreUp(ctx context.Context, scripts []string)
	RunPostUp(ctx context.Context, scripts []string)
	RunPreDown(ctx context.Context, scripts []string)
	RunPostDown(ctx context.Context, scripts []string)
}

// NoopActionHandler ignores every script.
type NoopActionHandler struct{}

func (NoopActionHandler) RunPreUp(context.Context, []string)    {}
func (NoopActionHandler) RunPostUp(context.Context, []string)   {}
func (NoopActionHandler) RunPreDown(context.Context, []string)  {}
func (NoopActionHandler) RunPostDown(context.Context, []string) {}

// ShellActionHandler runs scripts one after another through the privileged
// shell. The first script that cannot be run skips the rest of its step.
type ShellActionHandler struct {
	shell  Shell
	logger *logging.Logger
}

// NewShellActionHandler returns a handler running scripts on shell.
func NewShellActionHandler(shell Shell, logger *logging.Logger) *ShellActionHandler {
	if logger == nil {
		logger = logging.WithComponent("actions")
	}
	return &ShellActionHandler{shell: shell, logger: logger}
}

func (h *ShellActionHandler) RunPreUp(ctx context.Context, scripts []string) {
	h.run(ctx, "PreUp", scripts)
}

func (h *ShellActionHandler) RunPostUp(ctx context.Context, scripts []string) {
	h.run(ctx, "PostUp", scripts)
}

func (h *ShellActionHandler) RunPreDown(ctx context.Context, scripts []string) {
	h.run(ctx, "PreDown", scripts)
}

func (h *ShellActionHandler) RunPostDown(ctx context.Context, scripts []string) {
	h.run(ctx, "PostDown", scripts)
}

func (h *ShellActionHandler) run(ctx context.Context, step string, scripts []string) {
	if len(scripts) == 0 {
		return
	}
	h.logger.Debug("Running tunnel scripts", "step", step, "count", len(scripts))
	for _, script := range scripts {
		// wg-quick substitutes %i with the interface name; the engine does not.
		if strings.Contains(script, "%i") {
			h.logger.Error("'%i' is not supported by the engine backend, skipping remaining scripts", "step", step)
			return
		}
		code, err := h.shell.Run(ctx, nil, script)
		if err != nil {
			h.logger.Error("Failed to execute script", "step", step, "error", err)
			return
		}
		if code != 0 {
			h.logger.Warn("Script exited with non-zero status", "step", step, "code", code)
		}
	}
}

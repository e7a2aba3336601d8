package capability

import (
	"context"
	"fmt"
	"time"

	"github.com/haymant/evolve/pkg/logger"
)

// CommandRunner is the abstract host-command collaborator behind the
// "executeCommand" capability.
type CommandRunner interface {
	Run(ctx context.Context, command string, args []any) (any, error)
}

// Options wires the collaborators behind the built-in capabilities. Nil
// collaborators leave the capability registered but failing with a
// configuration error, matching how the engine sees an unavailable editor
// surface.
type Options struct {
	Model          ChatModel
	Runner         CommandRunner
	Store          *ChatStore
	ChatTimeout    time.Duration
	CommandTimeout time.Duration
}

// RegisterBuiltins registers the four capabilities the engine process
// calls: chat, getChatHistory, executeCommand and showMessage.
func RegisterBuiltins(reg *Registry, opts Options) {
	store := opts.Store
	if store == nil {
		store = NewChatStore()
	}
	chatTimeout := opts.ChatTimeout
	if chatTimeout <= 0 {
		chatTimeout = 30 * time.Second
	}
	commandTimeout := opts.CommandTimeout
	if commandTimeout <= 0 {
		commandTimeout = 10 * time.Second
	}

	reg.Register("chat", chatFunc(opts.Model, store, chatTimeout))
	reg.Register("getChatHistory", chatHistoryFunc(store))
	reg.Register("executeCommand", executeCommandFunc(opts.Runner, commandTimeout))
	reg.Register("showMessage", showMessageFunc())
}

func executeCommandFunc(runner CommandRunner, defaultTimeout time.Duration) Func {
	return func(ctx context.Context, params map[string]any) (any, error) {
		command, _ := params["command"].(string)
		if command == "" {
			return nil, fmt.Errorf("missing command parameter")
		}
		if runner == nil {
			return nil, fmt.Errorf("no command runner configured")
		}

		args, _ := params["args"].([]any)

		ctx, cancel := context.WithTimeout(ctx, paramTimeout(params, defaultTimeout))
		defer cancel()

		return runner.Run(ctx, command, args)
	}
}

func showMessageFunc() Func {
	return func(_ context.Context, params map[string]any) (any, error) {
		message, _ := params["message"].(string)
		if message == "" {
			return nil, fmt.Errorf("missing message parameter")
		}

		level, _ := params["level"].(string)
		evt := logger.Info()
		switch level {
		case "warning", "warn":
			evt = logger.Warn()
		case "error":
			evt = logger.Error()
		}
		evt.Str("source", "engine").Msg(message)

		return map[string]any{"ok": true}, nil
	}
}

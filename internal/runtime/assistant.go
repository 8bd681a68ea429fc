package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/finagent/pkg/models"
)

// ChatMessage is one entry of the model-facing conversation history.
type ChatMessage struct {
	Role        models.Role
	Content     string
	ToolCalls   []models.ToolCall
	ToolResults []models.ToolResult
}

// ChatReply is a single model completion: text, tool calls, or both.
type ChatReply struct {
	Content   string
	ToolCalls []models.ToolCall
}

// ChatModel produces one completion for the given history and tool set.
// Implementations live in the providers subpackage.
type ChatModel interface {
	Complete(ctx context.Context, system string, history []ChatMessage, tools []Tool) (*ChatReply, error)
}

// followupPrompt is shown when the assistant finishes a reply and control
// returns to the human, mirroring the feedback prompt of the original
// assistant workflow.
const followupPrompt = "Provide feedback to the assistant. Press enter or type 'exit' to end the conversation."

// terminateMarker ends a conversation when the model appends it to a reply.
const terminateMarker = "TERMINATE"

// pathArgs are tool-input fields interpreted as file paths. They are
// rewritten to live under the session's report directory before execution so
// generated artifacts land in one place regardless of what the model asked
// for.
var pathArgs = []string{
	"save_path", "pdf_path", "image_path", "file_path", "target_file",
	"share_performance_image_path", "pe_eps_performance_image_path",
}

// AssistantRuntime is the LLM-backed Runtime: it alternates model
// completions with tool execution, delivering every produced message through
// its hooks, and suspends in RequestInput between user-visible turns.
type AssistantRuntime struct {
	model     ChatModel
	tools     *ToolRegistry
	hooks     Hooks
	system    string
	reportDir string
	logger    *slog.Logger

	// history persists across Run calls so a session resumed by a later
	// Send continues the same conversation.
	history []ChatMessage
}

// AssistantOptions configures an AssistantRuntime.
type AssistantOptions struct {
	Model     ChatModel
	Tools     *ToolRegistry
	Hooks     Hooks
	System    string
	ReportDir string
	Logger    *slog.Logger
}

// NewAssistantRuntime creates an LLM-backed runtime.
func NewAssistantRuntime(opts AssistantOptions) *AssistantRuntime {
	tools := opts.Tools
	if tools == nil {
		tools = NewToolRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AssistantRuntime{
		model:     opts.Model,
		tools:     tools,
		hooks:     opts.Hooks,
		system:    opts.System,
		reportDir: opts.ReportDir,
		logger:    logger,
	}
}

// Run drives the conversation starting from input. maxTurns bounds model
// invocations, including tool-call iterations, so a pathological tool loop
// still terminates. Cancellation is checked at turn boundaries only.
func (a *AssistantRuntime) Run(ctx context.Context, input string, maxTurns int) error {
	if maxTurns <= 0 {
		maxTurns = 50
	}
	text := input
	for turn := 0; turn < maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if text != "" {
			if err := a.hooks.Deliver(NewTextRaw(text), models.RoleUser, false); err != nil {
				return err
			}
			a.history = append(a.history, ChatMessage{Role: models.RoleUser, Content: text})
			text = ""
		}

		reply, err := a.model.Complete(ctx, a.system, a.history, a.tools.List())
		if err != nil {
			return err
		}

		if len(reply.ToolCalls) > 0 {
			raw := RawMessage{Kind: RawToolCall, Text: reply.Content, ToolCalls: reply.ToolCalls}
			if err := a.hooks.Deliver(raw, models.RoleAssistant, false); err != nil {
				return err
			}
			a.history = append(a.history, ChatMessage{
				Role:      models.RoleAssistant,
				Content:   reply.Content,
				ToolCalls: reply.ToolCalls,
			})

			results := a.executeTools(ctx, reply.ToolCalls)
			resultRaw := RawMessage{Kind: RawToolResult, ToolResults: results}
			if err := a.hooks.Deliver(resultRaw, models.RoleTool, false); err != nil {
				return err
			}
			a.history = append(a.history, ChatMessage{Role: models.RoleTool, ToolResults: results})
			continue
		}

		if err := a.hooks.Deliver(NewTextRaw(reply.Content), models.RoleAssistant, false); err != nil {
			return err
		}
		a.history = append(a.history, ChatMessage{Role: models.RoleAssistant, Content: reply.Content})

		// A TERMINATE suffix is the model signalling the task is done.
		if strings.HasSuffix(strings.TrimSpace(reply.Content), terminateMarker) {
			return nil
		}

		answer, err := a.hooks.RequestInput(followupPrompt)
		if err != nil {
			return err
		}
		answer = strings.TrimSpace(answer)
		if answer == "" || strings.EqualFold(answer, "exit") || strings.EqualFold(answer, "quit") {
			return nil
		}
		text = answer
	}
	a.logger.Warn("assistant run reached max turns", "max_turns", maxTurns)
	return nil
}

// executeTools runs each requested tool sequentially, in request order.
func (a *AssistantRuntime) executeTools(ctx context.Context, calls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, 0, len(calls))
	for _, call := range calls {
		input := a.resolvePaths(call.Input)
		content, isErr := a.tools.Execute(ctx, call.Name, input)
		if isErr {
			a.logger.Warn("tool execution failed", "tool", call.Name, "result", content)
		}
		results = append(results, models.ToolResult{
			ToolCallID: call.ID,
			Content:    content,
			IsError:    isErr,
		})
	}
	return results
}

// resolvePaths rewrites known path arguments to absolute paths under the
// report directory. Inputs that are not JSON objects pass through untouched.
func (a *AssistantRuntime) resolvePaths(input json.RawMessage) json.RawMessage {
	if a.reportDir == "" || len(input) == 0 {
		return input
	}
	var args map[string]any
	if err := json.Unmarshal(input, &args); err != nil {
		return input
	}
	changed := false
	for _, name := range pathArgs {
		v, ok := args[name].(string)
		if !ok || v == "" || filepath.IsAbs(v) {
			continue
		}
		args[name] = filepath.Join(a.reportDir, v)
		changed = true
	}
	if !changed {
		return input
	}
	out, err := json.Marshal(args)
	if err != nil {
		return input
	}
	return out
}

// Package subagent exposes the agent composition runtime to the top-level
// agent as a tool, so a single turn can delegate a multi-step sub-task to a
// sequential or loop-driven pipeline of LLM-backed sub-agents instead of
// doing everything inline.
package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cascadehq/engine/internal/agent"
)

// Runtime is the subset of *agent.Runtime the delegate tool depends on.
type Runtime interface {
	ComposeContext(sessionID string, input agent.CompositionInput) agent.AgentContext
	ResolveTools(names []string) []agent.Tool
}

// DelegateTool implements agent.Tool, running a named sequence of
// sub-agents over shared state and returning the final step's output.
type DelegateTool struct {
	runtime Runtime
	config  DelegateToolConfig
}

// DelegateToolConfig bounds how large a delegated pipeline may be.
type DelegateToolConfig struct {
	// MaxSteps caps how many sequential sub-agents one call may chain.
	// Default: 5.
	MaxSteps int
}

// DefaultDelegateToolConfig returns the default delegate tool configuration.
func DefaultDelegateToolConfig() DelegateToolConfig {
	return DelegateToolConfig{MaxSteps: 5}
}

// NewDelegateTool creates a new sub-agent delegation tool bound to runtime.
func NewDelegateTool(runtime Runtime, cfg *DelegateToolConfig) *DelegateTool {
	config := DefaultDelegateToolConfig()
	if cfg != nil && cfg.MaxSteps > 0 {
		config.MaxSteps = cfg.MaxSteps
	}
	return &DelegateTool{runtime: runtime, config: config}
}

// Name returns the tool name.
func (t *DelegateTool) Name() string {
	return "delegate_task"
}

// Description returns the tool description.
func (t *DelegateTool) Description() string {
	return "Delegates a task to a sequence of one or more sub-agents, each with its own system prompt and optional tool subset. Output of one step feeds the next step's input. Use this to break a complex task into focused stages instead of handling everything in a single turn."
}

// Schema returns the JSON schema for tool parameters.
func (t *DelegateTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "input": {
      "type": "string",
      "description": "The task or text to hand to the first sub-agent"
    },
    "steps": {
      "type": "array",
      "description": "Ordered list of sub-agent stages to run in sequence",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string", "description": "Short label for this stage"},
          "system_prompt": {"type": "string", "description": "System prompt for this stage's sub-agent"},
          "tools": {
            "type": "array",
            "items": {"type": "string"},
            "description": "Names of already-registered tools this stage may call (default: none)"
          }
        },
        "required": ["name", "system_prompt"]
      }
    }
  },
  "required": ["input", "steps"]
}`)
}

type delegateStepInput struct {
	Name         string   `json:"name"`
	SystemPrompt string   `json:"system_prompt"`
	Tools        []string `json:"tools,omitempty"`
}

type delegateInput struct {
	Input string              `json:"input"`
	Steps []delegateStepInput `json:"steps"`
}

// promptStage pins a fixed system prompt onto an inner ComposedAgent's run,
// since AgentContext.Config is shared across every step of a SequentialAgent
// and each delegated stage needs its own instructions.
type promptStage struct {
	inner        agent.ComposedAgent
	systemPrompt string
}

func (p *promptStage) Name() string        { return p.inner.Name() }
func (p *promptStage) Description() string { return p.inner.Description() }

func (p *promptStage) Run(ctx context.Context, actx agent.AgentContext) (<-chan *agent.CompositionEvent, error) {
	actx.Config.SystemPrompt = p.systemPrompt
	return p.inner.Run(ctx, actx)
}

// Execute runs the delegated sub-agent pipeline.
func (t *DelegateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input delegateInput
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}, nil
	}

	text := strings.TrimSpace(input.Input)
	if text == "" {
		return &agent.ToolResult{Content: "input is required", IsError: true}, nil
	}
	if len(input.Steps) == 0 {
		return &agent.ToolResult{Content: "at least one step is required", IsError: true}, nil
	}
	if len(input.Steps) > t.config.MaxSteps {
		return &agent.ToolResult{Content: fmt.Sprintf("too many steps: %d exceeds limit of %d", len(input.Steps), t.config.MaxSteps), IsError: true}, nil
	}

	steps := make([]agent.ComposedAgent, 0, len(input.Steps))
	for _, s := range input.Steps {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return &agent.ToolResult{Content: "each step requires a name", IsError: true}, nil
		}
		stepAgent := agent.NewLLMAgent(name, t.runtime.ResolveTools(s.Tools)).
			WithDescription(fmt.Sprintf("Delegated sub-agent stage %q", name))
		steps = append(steps, &promptStage{inner: stepAgent, systemPrompt: s.SystemPrompt})
	}

	sessionID := ""
	if session := agent.SessionFromContext(ctx); session != nil {
		sessionID = session.ID
	}

	pipeline := agent.NewSequentialAgent("delegate_task", steps)
	pipeline.WithDescription("Ad hoc delegated pipeline")

	actx := t.runtime.ComposeContext(sessionID, agent.TextInput(text))

	stream, err := pipeline.Run(ctx, actx)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Delegation failed: %v", err), IsError: true}, nil
	}

	var finalOutput string
	var hasOutput bool
	stepIndex := 0
	for event := range stream {
		if event == nil {
			continue
		}
		switch event.Type {
		case agent.CompositionComplete:
			if event.Err != nil {
				return &agent.ToolResult{Content: fmt.Sprintf("Stage %d failed: %v", stepIndex, event.Err), IsError: true}, nil
			}
		case agent.CompositionDone:
			if event.HasOutput {
				finalOutput = event.Output
				hasOutput = true
			}
			stepIndex++
		}
	}

	if !hasOutput {
		return &agent.ToolResult{Content: "Delegated pipeline produced no output"}, nil
	}

	return &agent.ToolResult{Content: finalOutput}, nil
}

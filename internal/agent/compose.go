package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/cascadehq/engine/pkg/models"
)

// CompositionEventType identifies the kind of event emitted by a composed
// agent's run stream.
type CompositionEventType string

const (
	CompositionTextDelta     CompositionEventType = "text_delta"
	CompositionThinkingDelta CompositionEventType = "thinking_delta"
	CompositionStateUpdate   CompositionEventType = "state_update"
	CompositionToolStart     CompositionEventType = "tool_start"
	CompositionToolComplete  CompositionEventType = "tool_complete"
	CompositionUsage         CompositionEventType = "usage"
	CompositionComplete      CompositionEventType = "complete"
	CompositionDone          CompositionEventType = "done"
)

// CompositionEvent is one item in a composed agent's event stream. Exactly
// one payload group is meaningful for a given Type.
type CompositionEvent struct {
	Type CompositionEventType

	TextDelta     string
	ThinkingDelta string

	StateKey   string
	StateValue any

	ToolCallID string
	ToolName   string
	ToolArgs   json.RawMessage
	ToolResult string
	ToolIsErr  bool

	InputTokens  int
	OutputTokens int

	StopReason string

	Output    string
	HasOutput bool

	Err error
}

func textDeltaEvent(text string) *CompositionEvent {
	return &CompositionEvent{Type: CompositionTextDelta, TextDelta: text}
}

func thinkingDeltaEvent(text string) *CompositionEvent {
	return &CompositionEvent{Type: CompositionThinkingDelta, ThinkingDelta: text}
}

func stateUpdateEvent(key string, value any) *CompositionEvent {
	return &CompositionEvent{Type: CompositionStateUpdate, StateKey: key, StateValue: value}
}

func doneEvent(output string, hasOutput bool) *CompositionEvent {
	return &CompositionEvent{Type: CompositionDone, Output: output, HasOutput: hasOutput}
}

func errorEvent(err error) *CompositionEvent {
	return &CompositionEvent{Type: CompositionComplete, StopReason: "error", Err: err}
}

// SharedState is the read/write-lock-guarded key/value map threaded through
// a composed agent run. Composite agents (Sequential, Loop, Parallel) and
// the LLM-driven agent all read and write the same instance.
type SharedState struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewSharedState returns an empty shared state map.
func NewSharedState() *SharedState {
	return &SharedState{data: make(map[string]any)}
}

// Get returns the value for key and whether it was present.
func (s *SharedState) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores value under key.
func (s *SharedState) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Truthy evaluates the predicate-from-key form used by LoopAgent: an absent
// key is truthy (so the first iteration always runs); a present key is
// falsy only for null, false, numeric zero, empty string, empty array, or
// empty object.
func (s *SharedState) Truthy(key string) bool {
	s.mu.RLock()
	v, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return true
	}
	return Truthy(v)
}

// Truthy implements the spec's truthiness rule over an arbitrary decoded
// JSON value (as produced by encoding/json's map[string]any unmarshal, or a
// Go native value stored directly via SharedState.Set).
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case int:
		return val != 0
	case json.Number:
		return val != "0"
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

// CompositionInput carries either freeform text or a structured payload
// into a composed agent run.
type CompositionInput struct {
	Text       string
	Structured any
}

// TextInput wraps plain text as a CompositionInput.
func TextInput(text string) CompositionInput {
	return CompositionInput{Text: text}
}

// AsText returns the input's text form, for agents that only consume text.
func (in CompositionInput) AsText() string {
	return in.Text
}

// OrchestratorContext carries upstream bookkeeping (the enclosing turn/run
// identifiers) down into a nested composed-agent invocation, without the
// composed agent needing to know about its caller's concerns.
type OrchestratorContext struct {
	RunID     string
	TurnIndex int
}

// AgentRunConfig bundles per-run tuning knobs for the LLM-driven agent.
type AgentRunConfig struct {
	SystemPrompt           string
	MaxToolIterations      int
	MaxNestedIterations    int
	ToolCallMode           ToolCallMode
	ProviderReliability    ProviderReliability
	FallbackToolFormatMode FallbackToolFormatMode
}

// ToolCallMode mirrors the provider-agnostic tool_choice setting.
type ToolCallMode string

const (
	ToolCallAuto     ToolCallMode = "auto"
	ToolCallRequired ToolCallMode = "required"
)

// ProviderReliability classifies how trustworthy a provider's native tool
// calling mechanism is, mirroring LLMProvider's conceptual
// tool_call_reliability() property.
type ProviderReliability string

const (
	ReliabilityReliable   ProviderReliability = "reliable"
	ReliabilityUnreliable ProviderReliability = "unreliable"
	ReliabilityNone       ProviderReliability = "none"
)

// FallbackToolFormatMode controls whether and how strongly the system
// prompt advertises an inline fallback tool-call format for providers whose
// native tool calling is unreliable.
type FallbackToolFormatMode string

const (
	FallbackToolFormatOff    FallbackToolFormatMode = "off"
	FallbackToolFormatOn     FallbackToolFormatMode = "on"
	FallbackToolFormatStrict FallbackToolFormatMode = "strict"
)

func defaultAgentRunConfig() AgentRunConfig {
	return AgentRunConfig{
		MaxToolIterations:      25,
		MaxNestedIterations:    25,
		ToolCallMode:           ToolCallAuto,
		ProviderReliability:    ReliabilityReliable,
		FallbackToolFormatMode: FallbackToolFormatOff,
	}
}

// AgentContext is passed to every composed agent's Run. It bundles
// everything a sub-agent needs without coupling it to its caller's
// concerns: a target provider and tool executor, the shared state map, the
// current input, and optional upstream bookkeeping.
type AgentContext struct {
	SessionID    string
	ProjectRoot  string
	Provider     LLMProvider
	Executor     *ToolExecutor
	Plugins      *PluginRegistry
	Input        CompositionInput
	State        *SharedState
	Config       AgentRunConfig
	Orchestrator *OrchestratorContext
}

// WithInput returns a shallow copy of the context with a new Input, used
// when chaining a sub-agent's output into the next step's input.
func (c AgentContext) WithInput(input CompositionInput) AgentContext {
	c.Input = input
	return c
}

// ComposeContext builds an AgentContext seeded from this runtime's own
// provider, tool registry, and plugins, so a composed agent (Sequential,
// Loop, Parallel, or a bare LLMAgent) can be run as a nested delegation
// from within a normal turn rather than only from a test harness.
func (r *Runtime) ComposeContext(sessionID string, input CompositionInput) AgentContext {
	return AgentContext{
		SessionID: sessionID,
		Provider:  r.provider,
		Executor:  NewToolExecutor(r.tools, r.toolExec),
		Plugins:   r.plugins,
		Input:     input,
		State:     NewSharedState(),
		Config:    defaultAgentRunConfig(),
	}
}

// ResolveTools looks up registered tools by name for use as an LLMAgent's
// tool subset, skipping any name that isn't registered.
func (r *Runtime) ResolveTools(names []string) []Tool {
	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		if tool, ok := r.tools.Get(name); ok {
			tools = append(tools, tool)
		}
	}
	return tools
}

// ComposedAgent is the contract shared by every agent runnable inside the
// composition runtime: sequential/loop/parallel composites and the
// LLM-driven leaf agent.
type ComposedAgent interface {
	Name() string
	Description() string
	Run(ctx context.Context, actx AgentContext) (<-chan *CompositionEvent, error)
}

// SequentialAgent executes a fixed list of sub-agents in order. The output
// of step N becomes the Text input of step N+1. StateUpdate keys are
// namespaced sequential.<step-index>.<agent-name>.<key>. The terminal Done
// carries the final step's output.
type SequentialAgent struct {
	name        string
	description string
	steps       []ComposedAgent
}

// NewSequentialAgent creates a SequentialAgent running steps in order.
func NewSequentialAgent(name string, steps []ComposedAgent) *SequentialAgent {
	return &SequentialAgent{
		name:        name,
		description: "Executes a fixed list of sub-agents in order",
		steps:       steps,
	}
}

func (a *SequentialAgent) Name() string        { return a.name }
func (a *SequentialAgent) Description() string { return a.description }

// WithDescription sets a custom description and returns the receiver.
func (a *SequentialAgent) WithDescription(desc string) *SequentialAgent {
	a.description = desc
	return a
}

func (a *SequentialAgent) Run(ctx context.Context, actx AgentContext) (<-chan *CompositionEvent, error) {
	out := make(chan *CompositionEvent)
	go func() {
		defer close(out)

		stepInput := actx.Input
		var lastOutput string
		var hasOutput bool

		for _, step := range a.steps {
			stepCtx := actx.WithInput(stepInput)
			stream, err := step.Run(ctx, stepCtx)
			if err != nil {
				if !sendEvent(ctx, out, errorEvent(fmt.Errorf("step %q: %w", step.Name(), err))) {
					return
				}
				return
			}

			for event := range stream {
				if event.Type == CompositionDone {
					if event.HasOutput {
						lastOutput = event.Output
						hasOutput = true
						stepInput = TextInput(event.Output)
					}
					continue
				}
				if event.Type == CompositionStateUpdate {
					event = &CompositionEvent{
						Type:       CompositionStateUpdate,
						StateKey:   fmt.Sprintf("sequential.%s.%s", step.Name(), event.StateKey),
						StateValue: event.StateValue,
					}
				}
				if !sendEvent(ctx, out, event) {
					return
				}
			}
		}

		sendEvent(ctx, out, doneEvent(lastOutput, hasOutput))
	}()
	return out, nil
}

// defaultMaxLoopIterations is used when a LoopAgent is constructed without
// an explicit iteration cap.
const defaultMaxLoopIterations = 10

// LoopPredicate evaluates the shared state to decide whether a LoopAgent
// should run another iteration.
type LoopPredicate func(state *SharedState) bool

// PredicateFromKey builds a LoopPredicate from a single state key using the
// spec's truthiness rule: an absent key is truthy (continue), a present key
// is evaluated via Truthy.
func PredicateFromKey(key string) LoopPredicate {
	return func(state *SharedState) bool {
		return state.Truthy(key)
	}
}

// LoopAgent repeats a sub-agent until the predicate returns false or
// max_iterations is reached (default 10). The predicate is evaluated before
// iteration 0; a false result there emits Done with no output and
// terminates immediately.
type LoopAgent struct {
	name          string
	description   string
	agent         ComposedAgent
	predicate     LoopPredicate
	maxIterations int
}

// NewLoopAgent creates a LoopAgent around agent, using condition as its
// continue/stop predicate.
func NewLoopAgent(name string, agent ComposedAgent, condition LoopPredicate) *LoopAgent {
	return &LoopAgent{
		name:          name,
		description:   "Repeatedly executes a sub-agent until a condition is met",
		agent:         agent,
		predicate:     condition,
		maxIterations: defaultMaxLoopIterations,
	}
}

// WithMaxIterations overrides the default iteration cap.
func (a *LoopAgent) WithMaxIterations(max int) *LoopAgent {
	if max > 0 {
		a.maxIterations = max
	}
	return a
}

// WithDescription sets a custom description and returns the receiver.
func (a *LoopAgent) WithDescription(desc string) *LoopAgent {
	a.description = desc
	return a
}

func (a *LoopAgent) Name() string        { return a.name }
func (a *LoopAgent) Description() string { return a.description }

func (a *LoopAgent) Run(ctx context.Context, actx AgentContext) (<-chan *CompositionEvent, error) {
	out := make(chan *CompositionEvent)

	if !a.predicate(actx.State) {
		go func() {
			defer close(out)
			sendEvent(ctx, out, doneEvent("", false))
		}()
		return out, nil
	}

	go func() {
		defer close(out)

		var lastOutput string
		var hasOutput bool
		iterInput := actx.Input

		for iteration := 0; iteration < a.maxIterations; iteration++ {
			iterCtx := actx.WithInput(iterInput)
			stream, err := a.agent.Run(ctx, iterCtx)
			if err != nil {
				sendEvent(ctx, out, errorEvent(fmt.Errorf("iteration %d: %w", iteration, err)))
				return
			}

			reachedDone := false
			for event := range stream {
				if event.Type == CompositionDone {
					reachedDone = true
					if event.HasOutput {
						lastOutput = event.Output
						hasOutput = true
						iterInput = TextInput(event.Output)
					}
					continue
				}
				if event.Type == CompositionStateUpdate {
					event = &CompositionEvent{
						Type:       CompositionStateUpdate,
						StateKey:   fmt.Sprintf("loop.%d.%s.%s", iteration, a.agent.Name(), event.StateKey),
						StateValue: event.StateValue,
					}
				}
				if !sendEvent(ctx, out, event) {
					return
				}
			}
			_ = reachedDone // sub-agent streams ending without Done still advance the iteration count

			if iteration+1 >= a.maxIterations {
				break
			}
			if !a.predicate(actx.State) {
				break
			}
		}

		sendEvent(ctx, out, doneEvent(lastOutput, hasOutput))
	}()
	return out, nil
}

// ParallelAgent runs a fixed set of sub-agents concurrently against the
// same input, bounded by maxConcurrency (0 means unbounded). StateUpdate
// keys are namespaced parallel.<agent-name>.<key>. The terminal Done
// carries no single output; instead each sub-agent's Done output is
// published to shared state under parallel.<agent-name>.output so a
// downstream step can collect them.
type ParallelAgent struct {
	name           string
	description    string
	agents         []ComposedAgent
	maxConcurrency int
}

// NewParallelAgent creates a ParallelAgent running agents concurrently.
func NewParallelAgent(name string, agents []ComposedAgent, maxConcurrency int) *ParallelAgent {
	return &ParallelAgent{
		name:           name,
		description:    "Executes sub-agents concurrently against the same input",
		agents:         agents,
		maxConcurrency: maxConcurrency,
	}
}

// WithDescription sets a custom description and returns the receiver.
func (a *ParallelAgent) WithDescription(desc string) *ParallelAgent {
	a.description = desc
	return a
}

func (a *ParallelAgent) Name() string        { return a.name }
func (a *ParallelAgent) Description() string { return a.description }

func (a *ParallelAgent) Run(ctx context.Context, actx AgentContext) (<-chan *CompositionEvent, error) {
	out := make(chan *CompositionEvent)

	go func() {
		defer close(out)

		limit := a.maxConcurrency
		if limit <= 0 {
			limit = len(a.agents)
		}
		if limit <= 0 {
			sendEvent(ctx, out, doneEvent("", false))
			return
		}
		sem := make(chan struct{}, limit)

		var wg sync.WaitGroup
		var mu sync.Mutex
		var firstErr error

		for _, sub := range a.agents {
			sub := sub
			wg.Add(1)
			go func() {
				defer wg.Done()

				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					return
				}
				defer func() { <-sem }()

				stream, err := sub.Run(ctx, actx)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = fmt.Errorf("agent %q: %w", sub.Name(), err)
					}
					mu.Unlock()
					return
				}

				var output string
				var hasOutput bool
				for event := range stream {
					if event.Type == CompositionDone {
						if event.HasOutput {
							output = event.Output
							hasOutput = true
						}
						continue
					}
					if event.Type == CompositionStateUpdate {
						event = &CompositionEvent{
							Type:       CompositionStateUpdate,
							StateKey:   fmt.Sprintf("parallel.%s.%s", sub.Name(), event.StateKey),
							StateValue: event.StateValue,
						}
					}
					if !sendEvent(ctx, out, event) {
						return
					}
				}
				if hasOutput {
					actx.State.Set(fmt.Sprintf("parallel.%s.output", sub.Name()), output)
				}
			}()
		}
		wg.Wait()

		if firstErr != nil {
			sendEvent(ctx, out, errorEvent(firstErr))
			return
		}
		sendEvent(ctx, out, doneEvent("", false))
	}()
	return out, nil
}

// sendEvent forwards event on out, honouring ctx cancellation. It returns
// false when the context was cancelled, signalling the caller to abandon
// the run after any in-flight work finishes draining.
func sendEvent(ctx context.Context, out chan<- *CompositionEvent, event *CompositionEvent) bool {
	select {
	case out <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// fallbackToolCallPattern matches the inline fallback tool-call block
// advertised in the system prompt when a provider's native tool calling is
// unreliable: <tool_call name="...">{...json args...}</tool_call>.
var fallbackToolCallPattern = regexp.MustCompile(`(?s)<tool_call name="([^"]+)">(.*?)</tool_call>`)

// parseFallbackToolCalls extracts ToolCalls from text emitted in the
// fallback format, for providers whose native tool-calling channel failed
// to produce any tool_calls this turn.
func parseFallbackToolCalls(text string) ([]models.ToolCall, error) {
	matches := fallbackToolCallPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil, nil
	}
	calls := make([]models.ToolCall, 0, len(matches))
	for i, m := range matches {
		name := strings.TrimSpace(m[1])
		argsText := strings.TrimSpace(m[2])
		var probe json.RawMessage
		if err := json.Unmarshal([]byte(argsText), &probe); err != nil {
			return nil, fmt.Errorf("fallback tool call %d (%s): invalid json arguments: %w", i, name, err)
		}
		calls = append(calls, models.ToolCall{
			ID:    fmt.Sprintf("fallback-%d", i),
			Name:  name,
			Input: probe,
		})
	}
	return calls, nil
}

// fallbackToolFormatInstructions describes the inline fallback format to
// providers whose native tool calling is unreliable.
func fallbackToolFormatInstructions(tools []Tool, strict bool) string {
	if len(tools) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("If your native tool-calling mechanism is unavailable, you may invoke a tool by emitting ")
	b.WriteString(`a block of the exact form <tool_call name="TOOL_NAME">{"arg": "value"}</tool_call> `)
	b.WriteString("with a single JSON object as the tool's arguments.")
	if strict {
		b.WriteString(" Use this format only when no native tool call is possible; prefer the native mechanism whenever it is available, and never mix both in the same turn.")
	}
	return b.String()
}

// buildSystemPrompt assembles the system prompt for one LLM-driven agent
// turn, appending fallback tool-call format instructions when the
// provider's tool calling is unreliable and the mode requests it.
func buildSystemPrompt(base string, tools []Tool, reliability ProviderReliability, mode FallbackToolFormatMode) string {
	if reliability != ReliabilityUnreliable || mode == FallbackToolFormatOff {
		return base
	}
	instructions := fallbackToolFormatInstructions(tools, mode == FallbackToolFormatStrict)
	if instructions == "" {
		return base
	}
	if base == "" {
		return instructions
	}
	return base + "\n\n" + instructions
}

// LLMAgent is the central orchestration loop: it streams a completion from
// the configured provider, executes any requested tools, feeds the results
// back, and repeats until the provider stops requesting tools or the
// per-turn iteration cap is hit. It generalizes Runtime's concrete
// session-bound agentic loop into a composable, state-free leaf agent.
type LLMAgent struct {
	name        string
	description string
	tools       []Tool
}

// NewLLMAgent creates an LLMAgent offering the given tools for function
// calling (may be empty for a plain completion agent).
func NewLLMAgent(name string, tools []Tool) *LLMAgent {
	return &LLMAgent{
		name:        name,
		description: "Drives an LLM completion loop, executing requested tools until the turn completes",
		tools:       tools,
	}
}

// WithDescription sets a custom description and returns the receiver.
func (a *LLMAgent) WithDescription(desc string) *LLMAgent {
	a.description = desc
	return a
}

func (a *LLMAgent) Name() string        { return a.name }
func (a *LLMAgent) Description() string { return a.description }

func (a *LLMAgent) Run(ctx context.Context, actx AgentContext) (<-chan *CompositionEvent, error) {
	if actx.Provider == nil {
		return nil, fmt.Errorf("agent %q: provider is required", a.name)
	}

	config := actx.Config
	defaults := defaultAgentRunConfig()
	if config.MaxToolIterations <= 0 {
		config.MaxToolIterations = defaults.MaxToolIterations
	}
	if config.MaxNestedIterations <= 0 {
		config.MaxNestedIterations = defaults.MaxNestedIterations
	}

	out := make(chan *CompositionEvent)
	go func() {
		defer close(out)
		a.runLoop(ctx, actx, config, out)
	}()
	return out, nil
}

func (a *LLMAgent) runLoop(ctx context.Context, actx AgentContext, config AgentRunConfig, out chan<- *CompositionEvent) {
	system := buildSystemPrompt(config.SystemPrompt, a.tools, config.ProviderReliability, config.FallbackToolFormatMode)

	messages := []CompletionMessage{{Role: "user", Content: actx.Input.AsText()}}
	var assembledText strings.Builder
	var toolInvocations int

	for iteration := 0; iteration < config.MaxNestedIterations; iteration++ {
		if ctx.Err() != nil {
			return
		}

		req := &CompletionRequest{
			System:   system,
			Messages: messages,
			Tools:    a.tools,
		}

		chunks, err := actx.Provider.Complete(ctx, req)
		if err != nil {
			sendEvent(ctx, out, errorEvent(err))
			return
		}

		var turnText strings.Builder
		var toolCalls []models.ToolCall
		var inputTokens, outputTokens int

		for chunk := range chunks {
			if chunk.Error != nil {
				sendEvent(ctx, out, errorEvent(chunk.Error))
				return
			}
			if chunk.Text != "" {
				turnText.WriteString(chunk.Text)
				if !sendEvent(ctx, out, textDeltaEvent(chunk.Text)) {
					return
				}
			}
			if chunk.Thinking != "" {
				if !sendEvent(ctx, out, thinkingDeltaEvent(chunk.Thinking)) {
					return
				}
			}
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}
			if chunk.InputTokens > 0 {
				inputTokens = chunk.InputTokens
			}
			if chunk.OutputTokens > 0 {
				outputTokens = chunk.OutputTokens
			}
		}

		assembledText.WriteString(turnText.String())

		if len(toolCalls) == 0 {
			if parsed, perr := parseFallbackToolCalls(turnText.String()); perr == nil && len(parsed) > 0 {
				toolCalls = parsed
			} else if perr != nil {
				messages = append(messages,
					CompletionMessage{Role: "assistant", Content: turnText.String()},
					CompletionMessage{Role: "user", Content: "error: " + perr.Error()},
				)
				continue
			}
		}

		if len(toolCalls) == 0 {
			sendEvent(ctx, out, &CompositionEvent{Type: CompositionUsage, InputTokens: inputTokens, OutputTokens: outputTokens})
			sendEvent(ctx, out, &CompositionEvent{Type: CompositionComplete, StopReason: "end_turn"})
			sendEvent(ctx, out, doneEvent(assembledText.String(), true))
			return
		}

		toolInvocations += len(toolCalls)
		if toolInvocations > config.MaxToolIterations {
			sendEvent(ctx, out, &CompositionEvent{Type: CompositionComplete, StopReason: "max_iterations"})
			sendEvent(ctx, out, doneEvent(assembledText.String(), true))
			return
		}

		for _, tc := range toolCalls {
			sendEvent(ctx, out, &CompositionEvent{Type: CompositionToolStart, ToolCallID: tc.ID, ToolName: tc.Name, ToolArgs: tc.Input})
		}

		var results []models.ToolResult
		if actx.Executor != nil {
			execResults := actx.Executor.ExecuteConcurrently(ctx, toolCalls, func(*models.RuntimeEvent) {})
			results = make([]models.ToolResult, len(execResults))
			for i, r := range execResults {
				results[i] = r.Result
			}
		} else {
			results = make([]models.ToolResult, len(toolCalls))
			for i, tc := range toolCalls {
				results[i] = models.ToolResult{ToolCallID: tc.ID, Content: "no tool executor configured", IsError: true}
			}
		}

		for _, r := range results {
			sendEvent(ctx, out, &CompositionEvent{Type: CompositionToolComplete, ToolCallID: r.ToolCallID, ToolResult: r.Content, ToolIsErr: r.IsError})
		}

		messages = append(messages, CompletionMessage{
			Role:      "assistant",
			Content:   turnText.String(),
			ToolCalls: toolCalls,
		})
		messages = append(messages, CompletionMessage{
			Role:        "tool",
			ToolResults: results,
		})
	}

	sendEvent(ctx, out, &CompositionEvent{Type: CompositionComplete, StopReason: "max_iterations"})
	sendEvent(ctx, out, doneEvent(assembledText.String(), true))
}

// Package history implements the ReactLoop's conversation-history
// bounding and emergency compression, grounded on
// context/conversation.go's ConversationHistory (message-count trimming)
// and utils/tokens.go's 4-characters-per-token heuristic, upgraded with
// github.com/pkoukk/tiktoken-go for a more accurate token count.
package history

import (
	"context"
	"strings"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/flowforge/orchestrator/llm"
)

const (
	DefaultMaxMessages = 20
	DefaultMaxTokens   = 8000

	// charsPerToken is the fallback heuristic when no tokenizer encoding
	// is available.
	charsPerToken = 4
)

// SummarizationPrompt is the fixed prompt used to collapse older
// messages into a single synthetic summary message.
const SummarizationPrompt = "Summarize the conversation so far in a few sentences. " +
	"Preserve: (1) the original user task, (2) the name and key arguments of any " +
	"tool calls made, and (3) the outcome or result of each tool call. Do not " +
	"omit any tool call or its result."

// ContextLengthDenylist is the set of substrings that mark an error
// message as a model-side context-window overflow.
var ContextLengthDenylist = []string{"context length", "maximum context", "token limit"}

// ManagerOptions configures a Manager's ceilings.
type ManagerOptions struct {
	MaxMessages int
	MaxTokens   int

	// Encoding names a tiktoken encoding to use for token counting
	// (e.g. "cl100k_base"). Empty uses the character-count heuristic.
	Encoding string
}

// SetDefaults fills unset fields with the spec's defaults.
func (o *ManagerOptions) SetDefaults() {
	if o.MaxMessages <= 0 {
		o.MaxMessages = DefaultMaxMessages
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.Encoding == "" {
		o.Encoding = "cl100k_base"
	}
}

// Summarizer produces the synthetic summary message's content by calling
// the LLM once with SummarizationPrompt. Manager is decoupled from the
// llm.Client interface so it can be tested without a real model.
type Summarizer func(ctx context.Context, messages []llm.Message) (string, error)

// Manager bounds conversation history by message count and token count,
// collapsing older messages into a single synthetic summary when either
// ceiling would be exceeded.
type Manager struct {
	opts       ManagerOptions
	summarize  Summarizer
	encoding   *tiktoken.Tiktoken
}

// NewManager builds a Manager. summarize may be nil only if the caller
// never triggers compression (e.g. in tests with short histories).
func NewManager(opts ManagerOptions, summarize Summarizer) *Manager {
	opts.SetDefaults()
	m := &Manager{opts: opts, summarize: summarize}
	if enc, err := tiktoken.GetEncoding(opts.Encoding); err == nil {
		m.encoding = enc
	}
	return m
}

// countTokens estimates the token count of s, preferring the tiktoken
// encoding when available and falling back to the 4-chars-per-token
// heuristic otherwise.
func (m *Manager) countTokens(s string) int {
	if m.encoding != nil {
		return len(m.encoding.Encode(s, nil, nil))
	}
	return estimateTokensHeuristic(s)
}

// estimateTokensHeuristic mirrors utils.EstimateTokens: a rough
// 4-characters-per-token estimate.
func estimateTokensHeuristic(s string) int {
	return len(s) / charsPerToken
}

func (m *Manager) historyTokens(msgs []llm.Message) int {
	total := 0
	for _, msg := range msgs {
		total += m.countTokens(msg.Text)
		total += m.countTokens(msg.Content)
		for _, tc := range msg.ToolCalls {
			total += m.countTokens(tc.Name)
		}
	}
	return total
}

// ManageContext is called at the top of every ReactLoop iteration. It
// returns the same slice (by reference equality is not required, but no
// compression happened) when history already fits both ceilings, or a
// shorter history with older messages collapsed into one synthetic
// "assistant" summary message otherwise.
func (m *Manager) ManageContext(ctx context.Context, hist []llm.Message, iteration int) ([]llm.Message, error) {
	if len(hist) <= m.opts.MaxMessages && m.historyTokens(hist) <= m.opts.MaxTokens {
		return hist, nil
	}
	keep := m.opts.MaxMessages
	if keep >= len(hist) {
		keep = len(hist) - 1
	}
	for keep > 1 && m.historyTokens(hist[len(hist)-keep:]) > m.opts.MaxTokens {
		keep--
	}
	if keep < 1 {
		keep = 1
	}
	return m.compress(ctx, hist, keep)
}

// HandleContextLengthError performs an aggressive compression (a tighter
// suffix, more of the tail collapsed) for immediate retry after the LLM
// itself reported a context-length failure.
func (m *Manager) HandleContextLengthError(ctx context.Context, hist []llm.Message) ([]llm.Message, error) {
	aggressive := m.opts.MaxMessages / 2
	if aggressive < 2 {
		aggressive = 2
	}
	return m.compress(ctx, hist, aggressive)
}

// IsContextLengthError reports whether message matches the
// context-length denylist (case-insensitive substring match).
func IsContextLengthError(message string) bool {
	lower := strings.ToLower(message)
	for _, sub := range ContextLengthDenylist {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// compress keeps the most recent keep messages verbatim and collapses the
// rest into one synthetic assistant summary message, extending the
// preserved suffix as needed so no tool-call/tool-result pair is split.
// The whole history is replaced atomically, never partially mutated.
func (m *Manager) compress(ctx context.Context, hist []llm.Message, keep int) ([]llm.Message, error) {
	if keep >= len(hist) {
		return hist, nil
	}

	splitAt := len(hist) - keep
	splitAt = extendToKeepPairsIntact(hist, splitAt)
	if splitAt <= 0 {
		return hist, nil
	}

	older := hist[:splitAt]
	recent := hist[splitAt:]

	summaryText, err := m.summarizeOlder(ctx, older)
	if err != nil {
		return nil, err
	}

	summary := llm.Message{Role: llm.RoleAssistant, Text: summaryText}
	out := make([]llm.Message, 0, 1+len(recent))
	out = append(out, summary)
	out = append(out, recent...)
	return out, nil
}

func (m *Manager) summarizeOlder(ctx context.Context, older []llm.Message) (string, error) {
	if m.summarize == nil {
		return fallbackSummary(older), nil
	}
	prompt := []llm.Message{
		{Role: llm.RoleUser, Text: SummarizationPrompt},
	}
	prompt = append(prompt, older...)
	return m.summarize(ctx, prompt)
}

// fallbackSummary produces a deterministic non-LLM summary, used when no
// Summarizer was configured; preserves the original task, tool-call
// identity/arguments, and outcomes.
func fallbackSummary(older []llm.Message) string {
	var b strings.Builder
	b.WriteString("Earlier in this task: ")
	for _, msg := range older {
		switch msg.Role {
		case llm.RoleUser:
			b.WriteString("user asked: ")
			b.WriteString(msg.Text)
			b.WriteString(". ")
		case llm.RoleAssistant:
			for _, tc := range msg.ToolCalls {
				b.WriteString("called ")
				b.WriteString(tc.Name)
				b.WriteString("; ")
			}
		case llm.RoleToolResult:
			b.WriteString("tool ")
			b.WriteString(msg.ToolCallID)
			b.WriteString(" returned: ")
			b.WriteString(truncate(msg.Content, 200))
			b.WriteString(". ")
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// extendToKeepPairsIntact walks splitAt backward while the kept suffix
// would contain a tool-result message whose originating tool-call message
// was cut into the summarized prefix, so truncation never leaves an
// orphaned tool result behind (most LLM wire formats reject a tool-result
// message that doesn't immediately follow its matching tool call).
func extendToKeepPairsIntact(hist []llm.Message, splitAt int) int {
	for splitAt > 0 && splitAt < len(hist) {
		calledIDs := map[string]bool{}
		for _, msg := range hist[splitAt:] {
			for _, tc := range msg.ToolCalls {
				calledIDs[tc.ID] = true
			}
		}

		orphaned := false
		for _, msg := range hist[splitAt:] {
			if msg.Role == llm.RoleToolResult && !calledIDs[msg.ToolCallID] {
				orphaned = true
				break
			}
		}
		if !orphaned {
			break
		}
		splitAt--
	}
	return splitAt
}

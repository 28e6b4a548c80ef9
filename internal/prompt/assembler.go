package prompt

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/mkovacic/lingo/internal/provider"
	"github.com/mkovacic/lingo/internal/websearch"
)

const (
	ModeNormal   = "normal"
	ModeThinking = "thinking"

	systemLead = "You are Lingo, a concise multilingual assistant."

	signalHubMaxPersonaLines   = 3
	signalHubMaxSummaryBullets = 2
	signalHubMaxBullets        = 5
	focusBoxHistoryDepth       = 4
	focusBoxMaxBullets         = 5

	webNotesBudget     = 4000
	webNotesBudgetLong = 8000
)

// Input carries everything prompt assembly layers into the model context.
type Input struct {
	Message   string
	System    string
	History   []provider.Message
	Persona   string
	Workspace string
	Summary   string
	Mode      string
	UseNet    bool
	LongMode  bool
}

// Result is the assembled context plus the web sources actually used.
type Result struct {
	Messages   []provider.Message
	Sources    []websearch.Source
	IsThinking bool
}

// Assembler builds the ordered message list sent to the model from layered
// memory sources. Augmentation failures never fail assembly.
type Assembler struct {
	search websearch.Searcher
	logger *zap.Logger
}

func NewAssembler(search websearch.Searcher, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{search: search, logger: logger}
}

// Assemble builds the prompt in a fixed layer order: system+persona tag,
// signal hub, workspace memory, caller override, recent history, focus box,
// web notes, mode instructions, then the user message.
func (a *Assembler) Assemble(ctx context.Context, in Input) Result {
	mode := strings.ToLower(strings.TrimSpace(in.Mode))
	if mode == "" {
		mode = ModeNormal
	}

	var msgs []provider.Message
	sys := func(content string) {
		msgs = append(msgs, provider.Message{Role: "system", Content: content})
	}

	// 1. Global system line, with the persona folded in as a one-line tag.
	lead := systemLead
	if p := normalizeWhitespace(in.Persona); p != "" {
		lead += " User profile: " + p
	}
	sys(lead)

	// 2. Signal hub: a compact bullet digest of persona and rolled-up history.
	if hub := buildSignalHub(in.Persona, in.Summary); hub != "" {
		sys(hub)
	}

	// 3. Workspace memory, verbatim.
	if ws := strings.TrimSpace(in.Workspace); ws != "" {
		sys("Workspace Memory:\n" + ws)
	}

	// 4. Caller-supplied override.
	if ov := strings.TrimSpace(in.System); ov != "" {
		sys(ov)
	}

	// 5. Recent history window, oldest first.
	window := 8
	if in.LongMode {
		window = 16
	}
	history := in.History
	if len(history) > window {
		history = history[len(history)-window:]
	}
	msgs = append(msgs, history...)

	// 6. Focus box: a recency hint over the very last turns, distinct from
	// the raw window above.
	if focus := buildFocusBox(in.History); focus != "" {
		sys(focus)
	}

	// 7. Optional web augmentation.
	var sources []websearch.Source
	if in.UseNet && a.search != nil {
		sources = a.search.Search(ctx, in.Message, snippetBudget(mode, in.LongMode))
		if len(sources) > 0 {
			sys(buildWebNotes(sources, in.LongMode))
		}
	}

	// 8. Mode instructions.
	sys(modeInstruction(mode))

	// 9. The user message closes the prompt.
	msgs = append(msgs, provider.Message{Role: "user", Content: in.Message})

	return Result{
		Messages:   msgs,
		Sources:    sources,
		IsThinking: mode == ModeThinking,
	}
}

// MaxTokens returns the completion budget for a mode; long mode doubles it.
func MaxTokens(mode string, longMode bool) int {
	base := 2048
	if strings.EqualFold(strings.TrimSpace(mode), ModeThinking) {
		base = 4096
	}
	if longMode {
		return base * 2
	}
	return base
}

func snippetBudget(mode string, longMode bool) int {
	switch {
	case longMode:
		return 8
	case mode == ModeThinking:
		return 5
	default:
		return 3
	}
}

func buildSignalHub(persona, summary string) string {
	bullets := make([]string, 0, signalHubMaxBullets)

	for _, line := range splitFragments(persona) {
		if len(bullets) == signalHubMaxPersonaLines {
			break
		}
		bullets = append(bullets, line)
	}

	summaryUsed := 0
	for _, frag := range splitFragments(summary) {
		if summaryUsed == signalHubMaxSummaryBullets || len(bullets) == signalHubMaxBullets {
			break
		}
		bullets = append(bullets, frag)
		summaryUsed++
	}

	if len(bullets) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Signal Hub:")
	for _, bullet := range bullets {
		b.WriteString("\n- ")
		b.WriteString(bullet)
	}
	return b.String()
}

func buildFocusBox(history []provider.Message) string {
	if len(history) == 0 {
		return ""
	}
	tail := history
	if len(tail) > focusBoxHistoryDepth {
		tail = tail[len(tail)-focusBoxHistoryDepth:]
	}

	bullets := make([]string, 0, focusBoxMaxBullets)
	for _, m := range tail {
		if len(bullets) == focusBoxMaxBullets {
			break
		}
		if line := normalizeWhitespace(m.Content); line != "" {
			bullets = append(bullets, line)
		}
	}
	if len(bullets) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Focus Box (most recent turns):")
	for _, bullet := range bullets {
		b.WriteString("\n- ")
		b.WriteString(bullet)
	}
	return b.String()
}

func buildWebNotes(sources []websearch.Source, longMode bool) string {
	ids := make([]string, len(sources))
	for i, s := range sources {
		ids[i] = s.ID
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Web context (%s):", strings.Join(ids, ", "))
	for _, s := range sources {
		b.WriteString("\n[")
		b.WriteString(s.ID)
		b.WriteString("] ")
		if s.Title != "" {
			b.WriteString(s.Title)
			b.WriteString(": ")
		}
		b.WriteString(s.Snippet)
		if s.URL != "" {
			b.WriteString(" (")
			b.WriteString(s.URL)
			b.WriteString(")")
		}
	}

	budget := webNotesBudget
	if longMode {
		budget = webNotesBudgetLong
	}
	notes := b.String()
	if len(notes) > budget {
		cut := budget
		// Snippets carry arbitrary UTF-8; back off to a rune boundary so the
		// truncation never leaves a split code point at the end.
		for cut > 0 && !utf8.RuneStart(notes[cut]) {
			cut--
		}
		notes = notes[:cut]
	}
	return notes
}

func modeInstruction(mode string) string {
	if mode == ModeThinking {
		return "Open your response with a <think> block containing your step-by-step reasoning, close the block, then give only the final answer."
	}
	return "If you need to reason internally, wrap that reasoning in <think> tags; otherwise answer directly with no extra formatting."
}

// splitFragments breaks free text into normalized bullet fragments, splitting
// on newlines, bullet markers and hyphen separators.
func splitFragments(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == '\r' || r == '•' || r == '*'
	})

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimLeft(p, " -\t")
		if line := normalizeWhitespace(p); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

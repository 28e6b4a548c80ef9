package reasoning

import (
	"regexp"
	"strings"
)

// Models in "thinking" mode interleave chain-of-thought with the final answer,
// delimited either by <think> tags or by fenced blocks tagged thinking/reasoning.
// End users never see that text; Strip removes it before persistence or display.
var (
	thinkSpanRe   = regexp.MustCompile(`(?is)<think>.*?</think>`)
	fencedBlockRe = regexp.MustCompile("(?is)```(?:thinking|reasoning)\\s*.*?```")
	strayTagRe    = regexp.MustCompile(`(?i)</?think>`)
)

// Strip removes reasoning markup from model output. When skip is true the
// input is returned trimmed but otherwise untouched, for callers that want
// the raw reasoning. Strip is idempotent.
func Strip(text string, skip bool) string {
	if skip {
		return strings.TrimSpace(text)
	}
	// Removing one marker can expose another (e.g. a stripped tag splicing
	// stray backticks into a fenced block), so re-apply until stable.
	out := text
	for {
		next := thinkSpanRe.ReplaceAllString(out, "")
		next = fencedBlockRe.ReplaceAllString(next, "")
		// Unterminated or orphaned tags are dropped as bare markers; the
		// text around them stays.
		next = strayTagRe.ReplaceAllString(next, "")
		if next == out {
			break
		}
		out = next
	}
	return strings.TrimSpace(out)
}

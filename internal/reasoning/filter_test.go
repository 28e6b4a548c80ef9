package reasoning

import "testing"

func TestStripRemovesThinkSpans(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Hello world", "Hello world"},
		{"inner span", "Hello <think>secret</think> world", "Hello  world"},
		{"multiline span", "a<think>line1\nline2</think>b", "ab"},
		{"case insensitive", "a<THINK>x</THINK>b", "ab"},
		{"fenced thinking", "before\n```thinking\nsteps here\n```\nafter", "before\n\nafter"},
		{"fenced reasoning", "```reasoning\nwhy\n```done", "done"},
		{"stray close tag", "answer</think>", "answer"},
		{"unterminated open", "answer<think> trailing", "answer trailing"},
		{"only reasoning", "<think>all of it</think>", ""},
		{"tag removal exposes fence", "``<think>`thinking secret```", ""},
	}
	for _, tc := range cases {
		if got := Strip(tc.in, false); got != tc.want {
			t.Fatalf("%s: Strip(%q) = %q, want %q", tc.name, tc.in, got, tc.want)
		}
	}
}

func TestStripIdempotent(t *testing.T) {
	inputs := []string{
		"Hello <think>secret</think> world",
		"```thinking\nx\n``` tail",
		"plain text",
		"<think>open only",
		"  padded  ",
		// Dropping the tags splices the backticks into a fenced thinking
		// block that only a further pass removes.
		"``<think>`thinking secret```",
		"`<think>``thinking a``` `</think>``thinking b```",
	}
	for _, in := range inputs {
		once := Strip(in, false)
		twice := Strip(once, false)
		if once != twice {
			t.Fatalf("Strip not idempotent for %q: %q vs %q", in, once, twice)
		}
	}
}

func TestStripSkipReturnsTrimmedInput(t *testing.T) {
	in := "  <think>keep me</think> tail  "
	want := "<think>keep me</think> tail"
	if got := Strip(in, true); got != want {
		t.Fatalf("Strip(skip) = %q, want %q", got, want)
	}
}

package provider

// ExtractText probes a decoded provider response for assistant text. Two
// response families exist (RunPod "output" envelopes and OpenAI-style bodies),
// so the probes run as an ordered list and the first non-empty hit wins.
func ExtractText(obj map[string]any) string {
	if out, ok := obj["output"].(map[string]any); ok {
		if s := stringField(out, "text"); s != "" {
			return s
		}
		if s := firstChoiceText(out); s != "" {
			return s
		}
	}
	if s := firstChoiceText(obj); s != "" {
		return s
	}
	return stringField(obj, "text")
}

func firstChoiceText(obj map[string]any) string {
	choices, ok := obj["choices"].([]any)
	if !ok || len(choices) == 0 {
		return ""
	}
	first, ok := choices[0].(map[string]any)
	if !ok {
		return ""
	}
	if msg, ok := first["message"].(map[string]any); ok {
		if s := stringField(msg, "content"); s != "" {
			return s
		}
	}
	return stringField(first, "text")
}

func extractUsage(obj map[string]any) Usage {
	u, ok := obj["usage"].(map[string]any)
	if !ok {
		if out, outOK := obj["output"].(map[string]any); outOK {
			u, ok = out["usage"].(map[string]any)
		}
		if !ok {
			return Usage{}
		}
	}
	return Usage{
		InputTokens:  intField(u, "prompt_tokens", "input_tokens"),
		OutputTokens: intField(u, "completion_tokens", "output_tokens"),
	}
}

func stringField(obj map[string]any, key string) string {
	if v, ok := obj[key].(string); ok {
		return v
	}
	return ""
}

func intField(obj map[string]any, keys ...string) int {
	for _, k := range keys {
		if v, ok := obj[k].(float64); ok {
			return int(v)
		}
	}
	return 0
}

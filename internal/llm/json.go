package llm

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ExtractJSON pulls a JSON object out of a model reply. It strips markdown code
// fences and, failing that, falls back to the outermost {...} span. The second
// return is false when no valid JSON object could be found.
func ExtractJSON(text string) (gjson.Result, bool) {
	cleaned := stripFences(strings.TrimSpace(text))
	if gjson.Valid(cleaned) {
		if r := gjson.Parse(cleaned); r.IsObject() {
			return r, true
		}
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		candidate := cleaned[start : end+1]
		if gjson.Valid(candidate) {
			return gjson.Parse(candidate), true
		}
	}
	return gjson.Result{}, false
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	var kept []string
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

package reasoning

import (
	"regexp"

	"github.com/tidwall/gjson"
)

// Models wrap JSON in markdown fences and emit trailing commas often
// enough that extraction has to tolerate both.
var (
	fencedJSONPattern   = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*?\\})\\s*```")
	bareJSONPattern     = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	trailingCommaFixups = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON pulls the first JSON object out of free-form model output.
// Returns the empty string when no valid object can be recovered.
func ExtractJSON(content string) string {
	raw := ""
	if m := fencedJSONPattern.FindStringSubmatch(content); len(m) > 1 {
		raw = m[1]
	} else if m := bareJSONPattern.FindString(content); m != "" {
		raw = m
	}
	if raw == "" {
		return ""
	}

	raw = trailingCommaFixups.ReplaceAllString(raw, "$1")
	if !gjson.Valid(raw) {
		return ""
	}
	return raw
}

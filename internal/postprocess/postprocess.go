// Package postprocess recovers the JSON payload of a unit from raw model
// output: reasoning blocks, quote wrapping, code fences and chatty text
// around the object are stripped.
package postprocess

import (
	"errors"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNoJSON is returned when no JSON object can be recovered from model output.
var ErrNoJSON = errors.New("no JSON object in response")

var (
	// RE2 has no backreferences, so each tag pair is listed.
	reasoningRe = regexp.MustCompile(
		`(?is)<think>.*?</think>|<thinking>.*?</thinking>|<reasoning>.*?</reasoning>|<reflection>.*?</reflection>`,
	)

	// Qwen3 behind a chat template emits the closing tag only.
	closingTagRe = regexp.MustCompile(`(?is)^.*</(?:think|thinking|reasoning|reflection)>`)

	fenceRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
)

// ExtractJSON returns the JSON object a model was asked to produce. After
// stripping reasoning it tries the text as is, the text unquoted, the first
// fenced block and finally the widest {...} span.
func ExtractJSON(text string) (string, error) {
	s := stripReasoning(text)

	if obj, ok := asObject(s); ok {
		return obj, nil
	}
	if obj, ok := asObject(unquote(s)); ok {
		return obj, nil
	}
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		if obj, ok := asObject(strings.TrimSpace(m[1])); ok {
			return obj, nil
		}
	}
	if i := strings.Index(s, "{"); i >= 0 {
		if j := strings.LastIndex(s, "}"); j > i {
			if obj, ok := asObject(s[i : j+1]); ok {
				return obj, nil
			}
		}
	}
	return "", ErrNoJSON
}

func stripReasoning(text string) string {
	text = reasoningRe.ReplaceAllString(text, "")
	text = closingTagRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// asObject accepts a JSON object, or a JSON string whose content is one.
func asObject(s string) (string, bool) {
	if s == "" || !gjson.Valid(s) {
		return "", false
	}
	v := gjson.Parse(s)
	switch {
	case v.IsObject():
		return s, true
	case v.Type == gjson.String:
		inner := strings.TrimSpace(v.String())
		if gjson.Valid(inner) && gjson.Parse(inner).IsObject() {
			return inner, true
		}
	}
	return "", false
}

// unquote strips one pair of wrapping quotes or backticks.
func unquote(s string) string {
	runes := []rune(s)
	n := len(runes)
	if n < 2 {
		return s
	}
	switch first, last := runes[0], runes[n-1]; {
	case first == '"' && last == '"',
		first == '\'' && last == '\'',
		first == '`' && last == '`',
		first == '«' && last == '»',
		first == '“' && last == '”':
		return strings.TrimSpace(string(runes[1 : n-1]))
	}
	return s
}

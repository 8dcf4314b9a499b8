package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseMailJSON parses the JSON object returned by a vision model.
// On failure it returns zero Fields (every value nil) together with the error,
// so callers can log it and carry on.
func parseMailJSON(text string) (Fields, error) {
	text = stripCodeFence(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return Fields{}, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return Fields{}, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return Fields{}, fmt.Errorf("unmarshaling json: %w", err)
	}

	fields := Fields{
		SenderName: rawString(raw["sender_name"]),
		Street:     rawString(raw["street"]),
		City:       rawString(raw["city"]),
		State:      rawString(raw["state"]),
		Zip:        rawString(raw["zip"]),
		Category:   normalizeCategory(rawString(raw["category"])),
	}
	return fields, nil
}

// stripCodeFence removes a surrounding markdown code block if present
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	// Drop the info string (e.g. "json") on the opening fence line
	if nl := strings.Index(text, "\n"); nl >= 0 && !strings.Contains(text[:nl], "{") {
		text = text[nl+1:]
	} else {
		text = strings.TrimPrefix(text, "json")
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// rawString converts a JSON value to an optional string. Strings are trimmed,
// numbers keep their literal text (models sometimes emit ZIP codes as numbers),
// anything else is treated as missing.
func rawString(msg json.RawMessage) *string {
	if len(msg) == 0 {
		return nil
	}

	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "null", "none", "n/a":
			return nil
		}
		return StringPtr(s)
	}

	var n json.Number
	if err := json.Unmarshal(msg, &n); err == nil {
		return StringPtr(n.String())
	}
	return nil
}

// normalizeCategory maps a model-supplied category onto the closed set.
// Unknown values become Other.
func normalizeCategory(category *string) *string {
	if category == nil {
		return nil
	}
	key := categoryKey(*category)
	for _, c := range Categories {
		if categoryKey(c) == key {
			return StringPtr(c)
		}
	}
	return StringPtr(CategoryOther)
}

func categoryKey(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
	return strings.TrimSuffix(s, "s")
}

package vision

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/technosupport/sentry-bridge/internal/event"
)

// Decision extraction tries four strategies in order. Each one either
// yields a parsed decision or clears the way for the next; a total miss
// falls through to the keyword fallback in the caller.

var (
	prefixRe   = regexp.MustCompile(`(?i)^json:\s*(.*)`)
	fenceRe    = regexp.MustCompile("(?s)```(?i:json)?[ \t]*\n(.*?)\n[ \t]*```")
	embeddedRe = regexp.MustCompile(`\{[^{}]*"risk"\s*:\s*"[^"]*"[^{}]*\}`)
)

// ParseDecision extracts the decision block from the model's reply.
// Returns the decision, the strategy that produced it, and ok.
func ParseDecision(analysis string) (event.Decision, string, bool) {
	if strings.TrimSpace(analysis) == "" {
		return event.Decision{}, "", false
	}

	lines := strings.Split(analysis, "\n")

	// Strategy 1: explicit JSON: prefix, searched from the last line up
	// (the prompt demands it be the final line).
	for i := len(lines) - 1; i >= 0; i-- {
		m := prefixRe.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m == nil {
			continue
		}
		jsonStr := strings.TrimSpace(m[1])
		if jsonStr == "" && i+1 < len(lines) {
			jsonStr = strings.TrimSpace(lines[i+1])
		}
		if jsonStr != "" {
			if d, ok := tryParse(jsonStr); ok {
				return d, "prefix", true
			}
		}
		break
	}

	// Strategy 2: first fenced code block tagged json or untagged.
	if m := fenceRe.FindStringSubmatch(analysis); m != nil {
		if d, ok := tryParse(strings.TrimSpace(m[1])); ok {
			return d, "fence", true
		}
	}

	// Strategy 3: longest balanced {...} from the first opening brace.
	if frag := balancedObject(analysis); frag != "" {
		if d, ok := tryParse(frag); ok {
			return d, "balanced", true
		}
	}

	// Strategy 4: any embedded fragment mentioning "risk".
	if m := embeddedRe.FindString(analysis); m != "" {
		if d, ok := tryParse(m); ok {
			return d, "embedded", true
		}
	}

	return event.Decision{}, "", false
}

// balancedObject returns the longest substring starting at the first '{'
// that closes at balanced depth. String literals are honoured so braces
// inside values do not confuse the count.
func balancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inStr := false
	escaped := false
	end := -1
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i // keep scanning: the longest balanced close wins
			}
		}
	}
	if end < 0 {
		return ""
	}
	return s[start : end+1]
}

type wireRisk struct {
	Level      string  `json:"level"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

type wireSubject struct {
	Identity    string `json:"identity"`
	Description string `json:"description"`
}

type wireDecision struct {
	Risk       json.RawMessage `json:"risk"`
	Type       string          `json:"type"`
	Confidence float64         `json:"confidence"`
	Action     string          `json:"action"`
	Reason     string          `json:"reason"`
	Subject    json.RawMessage `json:"subject"`
	Behavior   string          `json:"behavior"`
}

// tryParse accepts both decision shapes: flat
// {"risk":"low","confidence":0.7,...} and nested
// {"risk":{"level":"low","confidence":0.8,"reason":"..."},...}.
func tryParse(jsonStr string) (event.Decision, bool) {
	var w wireDecision
	if err := json.Unmarshal([]byte(jsonStr), &w); err != nil {
		return event.Decision{}, false
	}
	if len(w.Risk) == 0 {
		return event.Decision{}, false
	}

	var d event.Decision

	var nested wireRisk
	if err := json.Unmarshal(w.Risk, &nested); err == nil && nested.Level != "" {
		level, _ := event.ParseRiskLevel(nested.Level)
		d.RiskLevel = level
		d.Confidence = nested.Confidence
		d.Reason = nested.Reason
	} else {
		var flat string
		if err := json.Unmarshal(w.Risk, &flat); err != nil {
			return event.Decision{}, false
		}
		level, _ := event.ParseRiskLevel(flat)
		d.RiskLevel = level
		d.Confidence = w.Confidence
		d.Reason = w.Reason
	}
	if d.Reason == "" {
		d.Reason = "AI analysis"
	}

	d.EventType = event.ParseEventType(w.Type)
	d.Action = event.ParseAction(w.Action)
	d.Behavior = w.Behavior

	if len(w.Subject) > 0 {
		var sub wireSubject
		if err := json.Unmarshal(w.Subject, &sub); err == nil {
			d.SubjectIdentity = strings.ToLower(sub.Identity)
			d.SubjectDescription = sub.Description
		}
	}
	if d.SubjectIdentity == "" {
		if d.EventType == event.TypeKnownPerson {
			d.SubjectIdentity = "known"
		} else {
			d.SubjectIdentity = "unknown"
		}
	}

	return d, true
}

// Sanitize normalizes decision fields to safe values: confidence clamped
// to [0,1] (percent replies are rescaled), enums already normalized by the
// parsers, action restricted to the allowlist.
func Sanitize(d event.Decision) event.Decision {
	if d.Confidence > 1 && d.Confidence <= 100 {
		d.Confidence = d.Confidence / 100
	}
	if d.Confidence < 0 {
		d.Confidence = 0
	}
	if d.Confidence > 1 {
		d.Confidence = 1
	}
	if !event.AllowedActions[d.Action] {
		d.Action = event.ActionNotifyOnly
	}
	if d.Reason == "" {
		d.Reason = "AI decision unavailable"
	}
	return d
}

// StripMachineLines removes the JSON block, MEDIA references and
// attachment chatter, leaving the prose for the alert body.
func StripMachineLines(analysis string) string {
	cleaned := fenceRe.ReplaceAllString(analysis, "")

	var out []string
	skipNextObject := false
	for _, line := range strings.Split(cleaned, "\n") {
		s := strings.TrimSpace(line)

		if skipNextObject {
			skipNextObject = false
			if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
				continue
			}
		}

		if m := prefixRe.FindStringSubmatch(s); m != nil {
			tail := strings.TrimSpace(m[1])
			if tail == "" {
				skipNextObject = true
			}
			continue
		}

		low := strings.ToLower(s)
		if s == "" || strings.HasPrefix(low, "media:") || strings.Contains(low, "ai-snapshots/") {
			continue
		}
		if strings.HasPrefix(low, "attached") {
			continue
		}
		out = append(out, s)
	}
	return strings.Join(out, "\n")
}

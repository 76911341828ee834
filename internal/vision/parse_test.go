package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/sentry-bridge/internal/event"
)

func TestParseDecision_PrefixLine(t *testing.T) {
	analysis := "A person is standing at the door.\n" +
		`JSON: {"risk":"medium","type":"unknown_person","confidence":0.7,"action":"notify_and_save_clip","reason":"unfamiliar visitor"}`

	d, strategy, ok := ParseDecision(analysis)

	require.True(t, ok)
	assert.Equal(t, "prefix", strategy)
	assert.Equal(t, event.RiskMedium, d.RiskLevel)
	assert.Equal(t, event.TypeUnknownPerson, d.EventType)
	assert.Equal(t, event.ActionSaveClip, d.Action)
	assert.InDelta(t, 0.7, d.Confidence, 0.001)
}

func TestParseDecision_PrefixNextLine(t *testing.T) {
	analysis := "Assessment done.\nJSON:\n" +
		`{"risk":"low","type":"delivery","confidence":0.8,"action":"notify_only","reason":"courier"}`

	d, strategy, ok := ParseDecision(analysis)

	require.True(t, ok)
	assert.Equal(t, "prefix", strategy)
	assert.Equal(t, event.TypeDelivery, d.EventType)
}

// Boundary: a fenced block with no JSON: prefix must still parse.
func TestParseDecision_FencedBlockOnly(t *testing.T) {
	analysis := "Here is my assessment.\n```json\n" +
		`{"risk":"high","type":"loitering","confidence":0.6,"action":"notify_and_light","reason":"lingering"}` +
		"\n```\nDone."

	d, strategy, ok := ParseDecision(analysis)

	require.True(t, ok)
	assert.Equal(t, "fence", strategy)
	assert.Equal(t, event.RiskHigh, d.RiskLevel)
	assert.Equal(t, event.TypeLoitering, d.EventType)
}

func TestParseDecision_UntaggedFence(t *testing.T) {
	analysis := "```\n" + `{"risk":"low","type":"animal","confidence":0.9,"action":"notify_only","reason":"cat"}` + "\n```"

	d, strategy, ok := ParseDecision(analysis)

	require.True(t, ok)
	assert.Equal(t, "fence", strategy)
	assert.Equal(t, event.TypeAnimal, d.EventType)
}

func TestParseDecision_BalancedObject(t *testing.T) {
	analysis := `The result follows {"risk":"medium","type":"vehicle","confidence":0.5,"action":"notify_and_save_clip","reason":"parked {oddly}"} end`

	d, strategy, ok := ParseDecision(analysis)

	require.True(t, ok)
	assert.Equal(t, "balanced", strategy)
	assert.Equal(t, event.TypeVehicle, d.EventType)
	assert.Equal(t, "parked {oddly}", d.Reason)
}

func TestParseDecision_EmbeddedFragment(t *testing.T) {
	// Unbalanced garbage before the fragment defeats strategy 3.
	analysis := `{{{ noise... verdict: {"risk":"low","confidence":0.4,"action":"notify_only","reason":"routine"} trailing`

	d, strategy, ok := ParseDecision(analysis)

	require.True(t, ok)
	assert.Equal(t, "embedded", strategy)
	assert.Equal(t, event.RiskLow, d.RiskLevel)
}

func TestParseDecision_NestedShape(t *testing.T) {
	analysis := `JSON: {"subject":{"identity":"unknown","description":"tall figure in dark hoodie"},"behavior":"testing the door handle","risk":{"level":"High","confidence":0.85,"reason":"possible entry attempt"},"type":"unknown_person","action":"notify_and_light"}`

	d, _, ok := ParseDecision(analysis)

	require.True(t, ok)
	assert.Equal(t, event.RiskHigh, d.RiskLevel)
	assert.InDelta(t, 0.85, d.Confidence, 0.001)
	assert.Equal(t, "possible entry attempt", d.Reason)
	assert.Equal(t, "unknown", d.SubjectIdentity)
	assert.Equal(t, "tall figure in dark hoodie", d.SubjectDescription)
	assert.Equal(t, "testing the door handle", d.Behavior)
}

func TestParseDecision_NoJSON(t *testing.T) {
	_, _, ok := ParseDecision("Just prose, nothing structured at all.")
	assert.False(t, ok)
}

func TestParseDecision_UnknownEnumsMapToSafeValues(t *testing.T) {
	analysis := `JSON: {"risk":"medium","type":"martian","confidence":0.5,"action":"launch_missiles","reason":"?"}`

	d, _, ok := ParseDecision(analysis)

	require.True(t, ok)
	assert.Equal(t, event.TypeOther, d.EventType)
	assert.Equal(t, event.ActionNotifyOnly, d.Action)
}

func TestSanitize_PercentConfidence(t *testing.T) {
	d := Sanitize(event.Decision{Confidence: 71.0, Action: event.ActionNotifyOnly, Reason: "x"})
	assert.InDelta(t, 0.71, d.Confidence, 0.001)

	d = Sanitize(event.Decision{Confidence: -3, Action: event.ActionNotifyOnly, Reason: "x"})
	assert.Equal(t, 0.0, d.Confidence)

	d = Sanitize(event.Decision{Confidence: 250, Action: event.ActionNotifyOnly, Reason: "x"})
	assert.Equal(t, 1.0, d.Confidence)
}

func TestFallbackDecision_Keywords(t *testing.T) {
	d := FallbackDecision("A courier dropped off a package at the door.")
	assert.Equal(t, event.TypeDelivery, d.EventType)
	assert.Equal(t, event.RiskMedium, d.RiskLevel)

	d = FallbackDecision("Subject keeps lingering by the gate with their hood up.")
	assert.Equal(t, event.TypeUnknownPerson, d.EventType)
	assert.Equal(t, event.RiskHigh, d.RiskLevel)

	d = FallbackDecision("A person walked through the frame.")
	assert.Equal(t, event.TypeUnknownPerson, d.EventType)
	assert.Equal(t, event.RiskLow, d.RiskLevel)
	assert.Contains(t, d.Reason, "no structured JSON")
}

func TestStripMachineLines(t *testing.T) {
	analysis := "MEDIA:./ai-snapshots/ev1.jpg\n" +
		"A person stands near the entry.\n" +
		"They appear to be waiting.\n" +
		`JSON: {"risk":"low","confidence":0.5,"action":"notify_only","reason":"ok"}`

	out := StripMachineLines(analysis)

	assert.NotContains(t, out, "MEDIA:")
	assert.NotContains(t, out, `"risk"`)
	assert.Contains(t, out, "A person stands near the entry.")
	assert.Contains(t, out, "They appear to be waiting.")
}

func TestBalancedObject_IgnoresBracesInStrings(t *testing.T) {
	frag := balancedObject(`x {"a":"{not a brace}","b":1} y`)
	assert.Equal(t, `{"a":"{not a brace}","b":1}`, frag)
}

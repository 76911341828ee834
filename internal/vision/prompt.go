package vision

import (
	"fmt"
	"strings"
)

// buildPrompt assembles the analysis prompt. The model is asked for three
// parts: a MEDIA reference line, a short prose assessment, and a strict
// one-line JSON decision block.
func buildPrompt(req Request) string {
	var b strings.Builder

	if req.Confirm {
		fmt.Fprintf(&b, "Confirmation check for camera '%s'. Re-check this newer snapshot.\n\n", req.Camera)
	} else {
		fmt.Fprintf(&b, "You are an AI security camera analyst. Analyze this image from camera '%s'.\n", req.Camera)
	}

	fmt.Fprintf(&b, "Location: %s\n", req.Context.CameraNotes)
	fmt.Fprintf(&b, "Zone: %s\n", req.Context.CameraZone)
	fmt.Fprintf(&b, "Local time: %s (%s), Home: %s\n",
		req.Context.LocalTime.Format("15:04:05"), req.Context.TimeOfDay, req.Context.HomeMode)
	fmt.Fprintf(&b, "Known faces present: %t\n", req.Context.KnownFacesPresent)
	fmt.Fprintf(&b, "Recent events on this camera: %d (last=%s)\n\n",
		req.Context.RecentEvents, req.Context.RecentLastTS)

	if req.Context.RecentSummary != "" {
		b.WriteString("RECENT_EVENTS:\n")
		b.WriteString(req.Context.RecentSummary)
		b.WriteString("\n\n")
	}

	if req.Confirm && req.Initial != nil {
		fmt.Fprintf(&b, "Initial decision from first pass: risk=%s type=%s action=%s reason=%q\n\n",
			req.Initial.RiskLevel, req.Initial.EventType, req.Initial.Action, req.Initial.Reason)
	}

	b.WriteString("Describe EXACTLY what you see. Be specific about:\n")
	b.WriteString("- Number of people, clothing, build, distinguishing features\n")
	b.WriteString("- Actions: walking, standing, reaching, looking around, carrying items\n")
	b.WriteString("- Items: bags, tools, packages, phone, nothing\n")
	b.WriteString("- Is behavior normal or suspicious for this location?\n\n")

	b.WriteString("Your reply MUST have exactly three parts:\n\n")
	fmt.Fprintf(&b, "PART 1 - a media reference line, exactly:\nMEDIA:%s\n\n", req.MediaRel)
	b.WriteString("PART 2 - a 3-5 sentence security assessment. Be factual and direct, no questions or disclaimers.\n\n")
	b.WriteString("PART 3 - end with a JSON decision block on a SINGLE line:\n")
	b.WriteString("JSON: {")
	b.WriteString(`"subject":{"identity":"known|unknown","description":"brief appearance"},`)
	b.WriteString(`"behavior":"what they are doing",`)
	b.WriteString(`"risk":{"level":"low|medium|high|critical","confidence":0.0,"reason":"why, under 120 chars"},`)
	b.WriteString(`"type":"unknown_person|known_person|delivery|vehicle|animal|loitering|other",`)
	b.WriteString(`"action":"notify_only|notify_and_save_clip|notify_and_light|notify_and_speaker|notify_and_alarm"`)
	b.WriteString("}\n\n")
	b.WriteString("Rules: low=routine, medium=unusual activity, high=suspicious/after-hours, critical=threat/break-in.\n")
	b.WriteString("Match action to risk: low->notify_only, medium->notify_and_save_clip, high->notify_and_light, critical->notify_and_alarm.\n")
	b.WriteString("The JSON: line MUST be the last line of your response.")

	return b.String()
}

package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pitchside-ai/pitchside/internal/schema"
)

// buildSystemPrompt renders the extraction instruction for one activity
// schema plus the session's prior accumulated state. The prompt pins the
// output contract even for backends without native JSON mode.
func buildSystemPrompt(s *schema.Schema, accumulated map[string]any) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You extract structured data from an athlete's spoken description of a %s activity.\n\n", s.Type)
	b.WriteString("Fields you may fill:\n")
	for _, f := range s.Fields {
		fmt.Fprintf(&b, "- %s (%s", f.Name, describeKind(f))
		if f.Required {
			b.WriteString(", required")
		}
		b.WriteString(")\n")
	}

	b.WriteString("\nRules:\n")
	b.WriteString("- Only fill fields the athlete actually mentioned in this message. Never guess or default.\n")
	b.WriteString("- If the athlete corrects an earlier value, fill the field with the corrected value.\n")
	b.WriteString("- Score every filled field with a confidence between 0 and 1.\n")
	b.WriteString("- Respond with a single JSON object and nothing else, shaped exactly like:\n")
	b.WriteString(`  {"fields": {"field_name": value}, "confidence": {"field_name": 0.9}}` + "\n")

	if len(accumulated) > 0 {
		prior, err := json.Marshal(accumulated)
		if err == nil {
			fmt.Fprintf(&b, "\nAlready recorded from earlier in this conversation (do not repeat unless corrected):\n%s\n", prior)
		}
	}

	return b.String()
}

// describeKind renders a field's constraint for the prompt.
func describeKind(f schema.Field) string {
	switch f.Kind {
	case schema.KindEnum:
		return "one of: " + strings.Join(f.Enum, ", ")
	case schema.KindNumber:
		unit := "number"
		if f.Integer {
			unit = "whole number"
		}
		return fmt.Sprintf("%s between %v and %v", unit, f.Min, f.Max)
	default:
		return "free text"
	}
}

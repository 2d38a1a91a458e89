package narration

import (
	"fmt"
	"strings"

	"github.com/eleven-am/vision-guide/internal/analysis"
)

// PriorityFor maps a result severity onto narration urgency.
func PriorityFor(s analysis.Severity) Priority {
	switch s {
	case analysis.SeverityDanger:
		return PriorityHigh
	case analysis.SeverityWarning:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Guidance phrases a fresh result as something a guide would say out loud.
func Guidance(r analysis.Result) (string, Priority) {
	msg := clause(r.Message)
	p := PriorityFor(r.Severity)
	if msg == "" {
		return "", p
	}

	switch r.Kind {
	case analysis.KindObstacle:
		switch r.Severity {
		case analysis.SeverityDanger:
			return fmt.Sprintf("CAREFUL! %s. Stop immediately.", msg), p
		case analysis.SeverityWarning:
			return fmt.Sprintf("Attention, %s. Walk carefully.", msg), p
		}
	case analysis.KindCurrency:
		return fmt.Sprintf("%s. I'll help you verify it.", msg), p
	case analysis.KindObjects, analysis.KindGeneral:
		lower := strings.ToLower(msg)
		switch {
		case containsAny(lower, "i see", "there is", "there are", "detect"):
			return fmt.Sprintf("%s. Stay alert while walking.", msg), p
		case containsAny(lower, "clear", "free"):
			return fmt.Sprintf("%s. Carry on calmly.", msg), p
		default:
			return fmt.Sprintf("%s. Be careful around these things.", msg), p
		}
	}
	return r.Message, p
}

// Conversational softens a repeated message so a replay does not sound like a new alert.
func Conversational(text string) string {
	msg := clause(text)
	lower := strings.ToLower(msg)
	switch {
	case msg == "":
		return ""
	case containsAny(lower, "danger"):
		return fmt.Sprintf("Careful! %s. Consider stopping for a moment.", msg)
	case containsAny(lower, "step", "obstacle"):
		return fmt.Sprintf("Attention, %s. Go carefully.", msg)
	case containsAny(lower, "clear", "free"):
		return fmt.Sprintf("Good, %s. You can keep walking calmly.", msg)
	case containsAny(lower, "bill", "money", "banknote"):
		return fmt.Sprintf("I spotted %s. Want me to help verify it?", msg)
	case containsAny(lower, "table", "chair", "person"):
		return fmt.Sprintf("I see %s nearby. Stay alert while walking.", msg)
	}
	return text
}

// clause trims the closing punctuation so a message can be embedded in a longer sentence.
func clause(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), ".!? ")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

package analysis

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// Picker selects an index in [0, n). rand.IntN is the production picker.
type Picker func(n int) int

var fallbackResults = []Result{
	{
		Kind:       KindGeneral,
		Severity:   SeveritySafe,
		Message:    "Keep going carefully. Analysis is paused for a moment.",
		Confidence: 0.8,
	},
	{
		Kind:       KindGeneral,
		Severity:   SeverityWarning,
		Message:    "Stay aware of your surroundings while automatic analysis resumes.",
		Confidence: 0.7,
	},
	{
		Kind:       KindGeneral,
		Severity:   SeveritySafe,
		Message:    "Walk slowly and stay alert. Analysis will resume shortly.",
		Confidence: 0.8,
	},
}

const busyMessage = "The system is temporarily busy. Stay alert while it recovers."

// FallbackMessages returns the fixed set of safe, non-alarming fallback results.
func FallbackMessages() []Result {
	out := make([]Result, len(fallbackResults))
	copy(out, fallbackResults)
	return out
}

// Fallback picks one of the fixed fallback results.
func Fallback(pick Picker) Result {
	if pick == nil {
		pick = rand.IntN
	}
	i := pick(len(fallbackResults))
	if i < 0 || i >= len(fallbackResults) {
		i = 0
	}
	return fallbackResults[i]
}

func Cached(r Result) Envelope {
	return Envelope{Result: r, FromCache: true}
}

func Fresh(r Result) Envelope {
	return Envelope{Result: r}
}

func RateLimited(waitSeconds int) Envelope {
	return Envelope{
		Result: Result{
			Kind:       KindGeneral,
			Severity:   SeverityWarning,
			Message:    fmt.Sprintf("Analysis paused. Retrying in %d seconds. Stay alert.", waitSeconds),
			Confidence: MinConfidence,
		},
		RateLimited: true,
		WaitSeconds: &waitSeconds,
	}
}

func Saturated(pick Picker, waitSeconds int) Envelope {
	env := Envelope{Result: Fallback(pick), QueueSaturated: true}
	if waitSeconds > 0 {
		env.WaitSeconds = &waitSeconds
	}
	return env
}

// SystemFailure is the envelope for a backend failure or timeout. A failure that looks like
// upstream overload gets the busy message instead of a random one.
func SystemFailure(pick Picker, cause error) Envelope {
	r := Fallback(pick)
	if cause != nil {
		msg := cause.Error()
		if strings.Contains(msg, "429") || strings.Contains(msg, "rate_limit_exceeded") {
			r.Message = busyMessage
		}
	}
	return Envelope{Result: r, SystemError: true}
}

package analysis

import "time"

type Kind string

const (
	KindObstacle Kind = "obstacle"
	KindCurrency Kind = "currency"
	KindObjects  Kind = "objects"
	KindGeneral  Kind = "general"
)

func (k Kind) Valid() bool {
	switch k {
	case KindObstacle, KindCurrency, KindObjects, KindGeneral:
		return true
	}
	return false
}

type Severity string

const (
	SeveritySafe    Severity = "safe"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

func (s Severity) Valid() bool {
	switch s {
	case SeveritySafe, SeverityWarning, SeverityDanger:
		return true
	}
	return false
}

// Result is what the inference backend (or a fallback policy) says about one frame.
// Severity is opaque to the gateway: it is never derived from Kind.
type Result struct {
	Kind       Kind     `json:"type"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Confidence float64  `json:"confidence"`
}

// Envelope is a Result plus the transport metadata the gateway attaches to it.
type Envelope struct {
	Result
	FromCache      bool `json:"fromCache,omitempty"`
	RateLimited    bool `json:"rateLimited,omitempty"`
	WaitSeconds    *int `json:"waitTime,omitempty"`
	QueueSaturated bool `json:"queueSaturated,omitempty"`
	SystemError    bool `json:"systemError,omitempty"`
}

// Throttled reports whether the gateway refused to spend a backend call on the request.
func (e *Envelope) Throttled() bool {
	return e.RateLimited || e.QueueSaturated
}

// Wait returns the suggested wait, or def when the gateway gave none.
func (e *Envelope) Wait(def time.Duration) time.Duration {
	if e.WaitSeconds == nil || *e.WaitSeconds <= 0 {
		return def
	}
	return time.Duration(*e.WaitSeconds) * time.Second
}

type Request struct {
	ID          string
	Fingerprint string
	Payload     []byte
	ClientID    string
	SubmittedAt time.Time
}

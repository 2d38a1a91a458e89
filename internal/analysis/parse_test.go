package analysis

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		want     Result
		wantErr  bool
		errStage string
	}{
		{
			name:    "structured object",
			content: `{"type":"obstacle","severity":"danger","message":"Step down ahead","confidence":0.93}`,
			want:    Result{Kind: KindObstacle, Severity: SeverityDanger, Message: "Step down ahead", Confidence: 0.93},
		},
		{
			name:    "missing confidence defaults",
			content: `{"type":"objects","severity":"safe","message":"A wooden table"}`,
			want:    Result{Kind: KindObjects, Severity: SeveritySafe, Message: "A wooden table", Confidence: DefaultConfidence},
		},
		{
			name:    "low confidence defaults",
			content: `{"type":"currency","severity":"safe","message":"A 50 note","confidence":0.2}`,
			want:    Result{Kind: KindCurrency, Severity: SeveritySafe, Message: "A 50 note", Confidence: DefaultConfidence},
		},
		{
			name:    "confidence above one is clamped",
			content: `{"type":"general","severity":"safe","message":"Clear path","confidence":7}`,
			want:    Result{Kind: KindGeneral, Severity: SeveritySafe, Message: "Clear path", Confidence: MaxConfidence},
		},
		{
			name:    "confidence as string",
			content: `{"type":"general","severity":"safe","message":"Clear path","confidence":"0.75"}`,
			want:    Result{Kind: KindGeneral, Severity: SeveritySafe, Message: "Clear path", Confidence: 0.75},
		},
		{
			name:    "unknown kind and severity are normalized",
			content: `{"type":"Furniture","severity":"Meh","message":"Two chairs"}`,
			want:    Result{Kind: KindGeneral, Severity: SeverityWarning, Message: "Two chairs", Confidence: DefaultConfidence},
		},
		{
			name:    "double encoded",
			content: `"{\"type\":\"obstacle\",\"severity\":\"warning\",\"message\":\"Pole ahead\",\"confidence\":0.9}"`,
			want:    Result{Kind: KindObstacle, Severity: SeverityWarning, Message: "Pole ahead", Confidence: 0.9},
		},
		{
			name:    "fenced json",
			content: "```json\n{\"type\":\"obstacle\",\"severity\":\"danger\",\"message\":\"Hole\",\"confidence\":0.95}\n```",
			want:    Result{Kind: KindObstacle, Severity: SeverityDanger, Message: "Hole", Confidence: 0.95},
		},
		{
			name:    "fenced without language tag on one line",
			content: "```{\"type\":\"general\",\"severity\":\"safe\",\"message\":\"Bench\"}```",
			want:    Result{Kind: KindGeneral, Severity: SeveritySafe, Message: "Bench", Confidence: DefaultConfidence},
		},
		{
			name:    "object inside prose",
			content: "Here is the analysis: {\"type\":\"objects\",\"severity\":\"safe\",\"message\":\"A cup\",\"confidence\":0.8} hope it helps",
			want:    Result{Kind: KindObjects, Severity: SeveritySafe, Message: "A cup", Confidence: 0.8},
		},
		{
			name:    "raw text becomes message",
			content: "  I see a door and a plant.  ",
			want:    Result{Kind: KindGeneral, Severity: SeverityWarning, Message: "I see a door and a plant.", Confidence: DefaultConfidence},
		},
		{
			name:    "braces in prose fall back to raw text",
			content: "A sign reads {open}",
			want:    Result{Kind: KindGeneral, Severity: SeverityWarning, Message: "A sign reads {open}", Confidence: DefaultConfidence},
		},
		{
			name:     "empty",
			content:  "   ",
			wantErr:  true,
			errStage: "input",
		},
		{
			name:     "missing message",
			content:  `{"type":"general","severity":"safe"}`,
			wantErr:  true,
			errStage: "fields",
		},
		{
			name:     "missing type in fenced body",
			content:  "```json\n{\"severity\":\"safe\",\"message\":\"x\"}\n```",
			wantErr:  true,
			errStage: "fields",
		},
		{
			name:     "malformed object",
			content:  `{"type":"general", "severity":`,
			wantErr:  true,
			errStage: "structured",
		},
		{
			name:     "json number",
			content:  `42`,
			wantErr:  true,
			errStage: "structured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.content))
			if tt.wantErr {
				var pe *ParseError
				if !errors.As(err, &pe) {
					t.Fatalf("expected *ParseError, got %v", err)
				}
				if pe.Stage != tt.errStage {
					t.Errorf("stage = %q, want %q", pe.Stage, tt.errStage)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0, DefaultConfidence},
		{0.69, DefaultConfidence},
		{0.7, 0.7},
		{0.85, 0.85},
		{1, 1},
		{1.5, 1},
	}
	for _, tt := range tests {
		got := Normalize(Result{Confidence: tt.in}).Confidence
		if got != tt.want {
			t.Errorf("Normalize(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

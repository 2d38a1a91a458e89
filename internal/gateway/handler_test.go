package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"

	"github.com/eleven-am/vision-guide/internal/analysis"
	"github.com/eleven-am/vision-guide/internal/shared"
)

func newTestHandler(t *testing.T) (*Handler, *fixture) {
	t.Helper()
	f := newFixture(t, succeed(doorResult), clock.NewMock(), noPacing())
	return NewHandler(f.gw, nil, testLogger()), f
}

func postAnalyze(h *Handler, body string, headers map[string]string) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	return rec, h.Analyze(e.NewContext(req, rec))
}

func TestHandler_Analyze(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{
			name:     "base64 image",
			body:     `{"image":"` + encoded + `"}`,
			wantCode: http.StatusOK,
		},
		{
			name:     "data url",
			body:     `{"imageData":"data:image/jpeg;base64,` + encoded + `"}`,
			wantCode: http.StatusOK,
		},
		{
			name:     "missing image",
			body:     `{}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "missing_image",
		},
		{
			name:     "bad data url",
			body:     `{"imageData":"data:image/jpeg;base64,@@@"}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_image",
		},
		{
			name:     "not json",
			body:     `not json`,
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(t)
			rec, err := postAnalyze(h, tt.body, nil)

			if tt.wantErr != "" {
				var he *echo.HTTPError
				if !errors.As(err, &he) {
					t.Fatalf("expected *echo.HTTPError, got %v", err)
				}
				if he.Code != tt.wantCode {
					t.Errorf("status = %d, want %d", he.Code, tt.wantCode)
				}
				apiErr, ok := he.Message.(*shared.APIError)
				if !ok {
					t.Fatalf("expected *shared.APIError, got %T", he.Message)
				}
				if apiErr.Code != tt.wantErr {
					t.Errorf("code = %q, want %q", apiErr.Code, tt.wantErr)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}

			var env analysis.Envelope
			if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if env.Result != doorResult {
				t.Errorf("got %+v, want %+v", env.Result, doorResult)
			}
		})
	}
}

func TestHandler_AnalyzeWireShape(t *testing.T) {
	h, _ := newTestHandler(t)
	body := `{"image":"` + base64.StdEncoding.EncodeToString([]byte("frame")) + `"}`

	if _, err := postAnalyze(h, body, map[string]string{HeaderClientID: "phone-1"}); err != nil {
		t.Fatal(err)
	}
	rec, err := postAnalyze(h, body, map[string]string{HeaderClientID: "phone-1"})
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"type", "severity", "message", "confidence", "fromCache"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("response missing %q: %s", key, rec.Body.String())
		}
	}
	if _, ok := raw["rateLimited"]; ok {
		t.Errorf("unset flags should be omitted: %s", rec.Body.String())
	}
}

func TestHandler_RateLimitedIsSuccessShaped(t *testing.T) {
	h, _ := newTestHandler(t)
	headers := map[string]string{HeaderClientID: "phone-1"}

	first := `{"image":"` + base64.StdEncoding.EncodeToString([]byte("frame-1")) + `"}`
	second := `{"image":"` + base64.StdEncoding.EncodeToString([]byte("frame-2")) + `"}`

	if _, err := postAnalyze(h, first, headers); err != nil {
		t.Fatal(err)
	}
	rec, err := postAnalyze(h, second, headers)
	if err != nil {
		t.Fatalf("rate limiting must not surface as an error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var env analysis.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if !env.RateLimited || env.WaitSeconds == nil {
		t.Errorf("expected rateLimited with waitTime, got %s", rec.Body.String())
	}
}

func TestClientID(t *testing.T) {
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(HeaderClientID, " device-9 ")
	req.Header.Set(echo.HeaderXForwardedFor, "10.0.0.1")
	if got := ClientID(e.NewContext(req, httptest.NewRecorder())); got != "device-9" {
		t.Errorf("header id: got %q", got)
	}

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(echo.HeaderXForwardedFor, "10.0.0.1, 10.0.0.2")
	if got := ClientID(e.NewContext(req, httptest.NewRecorder())); got != "10.0.0.1" {
		t.Errorf("forwarded id: got %q", got)
	}

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	if got := ClientID(e.NewContext(req, httptest.NewRecorder())); got != "192.0.2.7" {
		t.Errorf("remote id: got %q", got)
	}
}

func TestDecodeDataURL(t *testing.T) {
	raw := []byte("hello")
	enc := base64.StdEncoding.EncodeToString(raw)

	for _, in := range []string{enc, "data:image/png;base64," + enc, "  data:image/jpeg;base64," + enc + "  "} {
		got, err := DecodeDataURL(in)
		if err != nil {
			t.Errorf("DecodeDataURL(%q): %v", in, err)
			continue
		}
		if string(got) != "hello" {
			t.Errorf("DecodeDataURL(%q) = %q", in, got)
		}
	}

	for _, in := range []string{"data:image/png," + enc, "data:image/png;base64", "%%%", ""} {
		if _, err := DecodeDataURL(in); !errors.Is(err, shared.ErrInvalidDataURL) {
			t.Errorf("DecodeDataURL(%q) error = %v, want ErrInvalidDataURL", in, err)
		}
	}
}

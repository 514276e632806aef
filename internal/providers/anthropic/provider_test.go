package anthropic

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/maxr0ssi/llm-router/internal/types"
)

func TestRetryAfterHint(t *testing.T) {
	response := func(headers map[string]string) *http.Response {
		h := http.Header{}
		for k, v := range headers {
			h.Set(k, v)
		}
		return &http.Response{StatusCode: 429, Header: h}
	}

	if d := retryAfterHint(nil); d != 0 {
		t.Errorf("nil response must yield no hint, got %v", d)
	}
	if d := retryAfterHint(response(nil)); d != 0 {
		t.Errorf("missing header must yield no hint, got %v", d)
	}
	if d := retryAfterHint(response(map[string]string{"Retry-After": "30"})); d != 30*time.Second {
		t.Errorf("expected 30s from delta-seconds form, got %v", d)
	}
	if d := retryAfterHint(response(map[string]string{"Retry-After": "soon"})); d != 0 {
		t.Errorf("unparseable header must yield no hint, got %v", d)
	}

	at := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	d := retryAfterHint(response(map[string]string{"Retry-After": at}))
	if d < 80*time.Second || d > 90*time.Second {
		t.Errorf("expected roughly 90s from HTTP-date form, got %v", d)
	}
}

func TestClassifyError_RateLimitCarriesRetryAfter(t *testing.T) {
	resp := &http.Response{StatusCode: 429, Header: http.Header{}}
	resp.Header.Set("Retry-After", "12")

	apiErr := &anthropic.Error{
		StatusCode: 429,
		Request:    httptest.NewRequest(http.MethodPost, "/v1/messages", nil),
		Response:   resp,
	}

	err := classifyError(apiErr)
	var pe *types.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.StatusCode != 429 || !pe.Retryable {
		t.Errorf("expected a retryable 429, got status=%d retryable=%v", pe.StatusCode, pe.Retryable)
	}
	if pe.RetryAfter != 12*time.Second {
		t.Errorf("expected the server hint 12s, got %v", pe.RetryAfter)
	}

	hint, ok := types.RetryAfterHint(err)
	if !ok || hint != 12*time.Second {
		t.Errorf("retry manager must see the hint, got %v ok=%v", hint, ok)
	}
}

package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestRedactJSONBody(t *testing.T) {
	cases := []struct {
		name      string
		body      string
		wantMatch string // substring that must appear
		wantGone  string // substring that must not appear
	}{
		{
			name:      "redacts echoed authorization field",
			body:      `{"error":"invalid request","authorization":"Bearer sk-live-abc123"}`,
			wantMatch: `"authorization":"[redacted]"`,
			wantGone:  "sk-live-abc123",
		},
		{
			name:      "redacts cookie field",
			body:      `{"cookie":"session=xyz","message":"forbidden"}`,
			wantMatch: `"cookie":"[redacted]"`,
			wantGone:  "session=xyz",
		},
		{
			name:      "plain text body passes through unchanged",
			body:      "upstream returned an HTML error page",
			wantMatch: "upstream returned an HTML error page",
		},
		{
			name: "empty body passes through unchanged",
			body: "",
		},
		{
			name:      "body without sensitive fields is untouched",
			body:      `{"error":"not found","code":404}`,
			wantMatch: `"error":"not found"`,
		},
		{
			name:      "redacts nested credential fields under a wrapper object",
			body:      `{"error":{"request":{"headers":{"authorization":"Bearer sk-live-abc123"}}}}`,
			wantMatch: `"authorization":"[redacted]"`,
			wantGone:  "sk-live-abc123",
		},
		{
			name:      "redacts token inside an array element",
			body:      `{"attempts":[{"ok":false},{"token":"secret-token-1"}]}`,
			wantMatch: `"token":"[redacted]"`,
			wantGone:  "secret-token-1",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RedactJSONBody(tc.body)
			if tc.wantMatch != "" && !strings.Contains(got, tc.wantMatch) {
				t.Fatalf("RedactJSONBody(%q) = %q, want substring %q", tc.body, got, tc.wantMatch)
			}
			if tc.wantGone != "" && strings.Contains(got, tc.wantGone) {
				t.Fatalf("RedactJSONBody(%q) = %q, still contains %q", tc.body, got, tc.wantGone)
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(Validation("bad input")) != CodeValidation {
		t.Fatal("expected validation code")
	}
	if CodeOf(errors.New("plain error")) != CodeInternal {
		t.Fatal("expected plain errors to default to internal")
	}
}

func TestIs(t *testing.T) {
	err := UpstreamClient(429, "rate limited")
	if !Is(err, CodeUpstreamClient) {
		t.Fatal("expected Is to match upstream/client")
	}
	if Is(err, CodeUpstreamServer) {
		t.Fatal("expected Is not to match a different code")
	}
}

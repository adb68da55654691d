package payloadschema

import (
	"strings"
	"testing"
)

func TestValidateCandidatePayloadAccepts(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"url": "https://example.com/news/ai-mission",
		"title": "Cabinet clears AI mission funding",
		"content": "The union cabinet approved the outlay on Tuesday.",
		"date_published": "2026-08-12T09:30:00Z",
		"source_name": "Example Wire",
		"language": "en"
	}`)

	p, err := ValidateCandidatePayload(raw)
	if err != nil {
		t.Fatalf("ValidateCandidatePayload: %v", err)
	}
	if p.URL != "https://example.com/news/ai-mission" {
		t.Fatalf("url = %q", p.URL)
	}
	if p.SourceName != "Example Wire" {
		t.Fatalf("source_name = %q", p.SourceName)
	}
}

func TestValidateCandidatePayloadRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "missing title",
			raw:  `{"url": "https://example.com/a", "source_name": "Wire"}`,
			want: "schema validation",
		},
		{
			name: "blank title",
			raw:  `{"url": "https://example.com/a", "title": "   ", "source_name": "Wire"}`,
			want: "title must not be blank",
		},
		{
			name: "ftp url",
			raw:  `{"url": "ftp://example.com/a", "title": "x", "source_name": "Wire"}`,
			want: "unsupported scheme",
		},
		{
			name: "unknown field",
			raw:  `{"url": "https://example.com/a", "title": "x", "source_name": "Wire", "extra": 1}`,
			want: "schema validation",
		},
		{
			name: "trailing content",
			raw:  `{"url": "https://example.com/a", "title": "x", "source_name": "Wire"}{}`,
			want: "trailing content",
		},
		{
			name: "not an object",
			raw:  `["https://example.com/a"]`,
			want: "schema validation",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ValidateCandidatePayload([]byte(tc.raw))
			if err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want substring %q", err, tc.want)
			}
		})
	}
}

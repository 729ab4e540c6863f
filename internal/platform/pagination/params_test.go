package pagination

import (
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d, got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" {
		t.Fatalf("expected empty token, got %q", params.PageToken)
	}
}

func TestParsePageSizeClamped(t *testing.T) {
	values := url.Values{"pageSize": []string{"500"}}
	params, err := Parse(values, Options{MaxPageSize: 200})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.PageSize != 200 {
		t.Fatalf("expected page size clamped to 200, got %d", params.PageSize)
	}
}

func TestParsePageSizeInvalid(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-5"} {
		values := url.Values{"pageSize": []string{raw}}
		_, err := Parse(values, Options{})
		if !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("expected ErrInvalidPageSize for %q, got %v", raw, err)
		}
	}
}

func TestParsePageTokenRoundTrip(t *testing.T) {
	token := base64.RawURLEncoding.EncodeToString([]byte("2025-05-10T09:30:00Z|order-1"))
	values := url.Values{"pageToken": []string{token}}
	params, err := Parse(values, Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.PageToken != token {
		t.Fatalf("expected token passed through, got %q", params.PageToken)
	}
}

func TestParsePageTokenInvalid(t *testing.T) {
	values := url.Values{"pageToken": []string{"not-base64!!"}}
	_, err := Parse(values, Options{})
	if !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}

	values = url.Values{"pageToken": []string{strings.Repeat("A", 600)}}
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken for oversized token, got %v", err)
	}
}

func TestFromRequestNil(t *testing.T) {
	if _, err := FromRequest(nil, Options{}); err == nil {
		t.Fatalf("expected error for nil request")
	}
}

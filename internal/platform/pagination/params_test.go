package pagination

import (
	"errors"
	"net/url"
	"testing"
	"time"
)

func TestParseDefaultsAndClamp(t *testing.T) {
	p, err := Parse(url.Values{})
	if err != nil || p.PageSize != DefaultPageSize || p.PageToken != "" {
		t.Fatalf("unexpected defaults %+v, %v", p, err)
	}

	p, err = Parse(url.Values{"page_size": {"500"}})
	if err != nil || p.PageSize != MaxPageSize {
		t.Fatalf("expected clamp to %d, got %+v, %v", MaxPageSize, p, err)
	}

	p, err = Parse(url.Values{"pageSize": {"7"}})
	if err != nil || p.PageSize != 7 {
		t.Fatalf("expected 7, got %+v, %v", p, err)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	if _, err := Parse(url.Values{"pageSize": {"abc"}}); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize, got %v", err)
	}
	if _, err := Parse(url.Values{"pageSize": {"-1"}}); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize for negative, got %v", err)
	}
	if _, err := Parse(url.Values{"pageToken": {"%%%"}}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}

func TestCursorRoundTripKeepsOrderingKey(t *testing.T) {
	at := time.Date(2025, 4, 5, 6, 7, 8, 9, time.UTC)
	token, err := EncodeCursor(Cursor{CreatedAt: at, ID: "ord_9"})
	if err != nil {
		t.Fatalf("EncodeCursor: %v", err)
	}
	p, err := Parse(url.Values{"pageToken": {token}})
	if err != nil || p.PageToken != token {
		t.Fatalf("Parse token: %+v, %v", p, err)
	}
	c, err := DecodeCursor(token)
	if err != nil || !c.CreatedAt.Equal(at) || c.ID != "ord_9" {
		t.Fatalf("unexpected cursor %+v, %v", c, err)
	}

	empty, _ := EncodeCursor(Cursor{CreatedAt: at})
	if _, err := DecodeCursor(empty); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected rejection of id-less cursor, got %v", err)
	}
}

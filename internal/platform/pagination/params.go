// Package pagination parses list query parameters and encodes keyset cursors.
package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
)

const (
	// DefaultPageSize applies when the client omits pageSize.
	DefaultPageSize = 20
	// MaxPageSize caps pageSize.
	MaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Parse reads pageSize and pageToken (snake_case spellings are accepted too).
// Oversized pages are clamped; non-numeric or negative sizes are rejected.
func Parse(values url.Values) (domain.Pagination, error) {
	raw := firstNonEmpty(values.Get("pageSize"), values.Get("page_size"))
	size := DefaultPageSize
	if raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return domain.Pagination{}, fmt.Errorf("%w: %q", ErrInvalidPageSize, raw)
		}
		size = ClampPageSize(n)
	}

	token := firstNonEmpty(values.Get("pageToken"), values.Get("page_token"))
	if token != "" {
		if _, err := DecodeCursor(token); err != nil {
			return domain.Pagination{}, err
		}
	}
	return domain.Pagination{PageSize: size, PageToken: token}, nil
}

// ClampPageSize maps zero to the default and caps at MaxPageSize.
func ClampPageSize(n int) int {
	switch {
	case n <= 0:
		return DefaultPageSize
	case n > MaxPageSize:
		return MaxPageSize
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

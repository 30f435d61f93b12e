package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

var ErrInvalidPageToken = errors.New("invalid_page_token")

// Page is the query shape accepted by list endpoints.
type Page struct {
	Limit     int    `form:"limit"`
	PageToken string `form:"page_token"`
}

// Cursor points at the last row of the previous page. Snowflake ids are
// time ordered, so the id alone is enough for descending keyset paging.
type Cursor struct {
	ID string `json:"id,omitempty"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token,omitempty"`
	HasMore       bool   `json:"has_more"`
}

// NormalizeLimit applies the default and the upper bound.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

func EncodeCursor(data Cursor) string {
	b, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func DecodeCursor(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidPageToken
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil || cursor.ID == "" {
		return nil, ErrInvalidPageToken
	}
	return &cursor, nil
}

// BeforeID decodes token into the id the next page starts below. A blank
// token yields zero.
func BeforeID(token string) (snowflake.ID, error) {
	cursor, err := DecodeCursor(token)
	if err != nil || cursor == nil {
		return 0, err
	}
	id, err := snowflake.ParseString(cursor.ID)
	if err != nil || id <= 0 {
		return 0, ErrInvalidPageToken
	}
	return id, nil
}

// Trim cuts rows fetched with limit+1 down to limit and reports the cursor
// for the next page.
func Trim[T any](rows []T, limit int, extractID func(T) string) ([]T, PageInfo) {
	if len(rows) <= limit {
		return rows, PageInfo{HasMore: false}
	}
	rows = rows[:limit]
	return rows, PageInfo{
		HasMore:       true,
		NextPageToken: EncodeCursor(Cursor{ID: extractID(rows[len(rows)-1])}),
	}
}

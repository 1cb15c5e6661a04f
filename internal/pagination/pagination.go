// Package pagination implements the opaque resumable cursors used by every
// list operation.
//
// A cursor encodes the keyset position (sort key, id) of the last row a scan
// returned. Scans are ordered by (key, id) so every position is unique and a
// resumed scan neither skips nor repeats rows.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const (
	DefaultNumItems = 20
	MaxNumItems     = 200
)

// Request is the caller-supplied page request.
type Request struct {
	Cursor   string `json:"cursor,omitempty" form:"cursor"`
	NumItems int    `json:"numItems"         form:"numItems"`
}

// Result is one page of a scan.
type Result[T any] struct {
	Page           []T    `json:"page"`
	IsDone         bool   `json:"isDone"`
	ContinueCursor string `json:"continueCursor"`
}

// Position is the decoded form of a cursor.
type Position struct {
	Key int64     `json:"k"`
	ID  uuid.UUID `json:"id"`
}

// Limit returns NumItems clamped to [1, MaxNumItems], defaulting when unset.
func (r Request) Limit() int {
	switch {
	case r.NumItems <= 0:
		return DefaultNumItems
	case r.NumItems > MaxNumItems:
		return MaxNumItems
	default:
		return r.NumItems
	}
}

// Clamp applies server configured page bounds. Limit still enforces the
// hard [1, MaxNumItems] range afterwards.
func (r Request) Clamp(def, max int) Request {
	if r.NumItems <= 0 && def > 0 {
		r.NumItems = def
	}
	if max > 0 && r.NumItems > max {
		r.NumItems = max
	}
	return r
}

// Position decodes the request cursor. An empty cursor starts at the beginning
// of the scan and yields nil.
func (r Request) Position() (*Position, error) {
	return Decode(r.Cursor)
}

// Encode turns a position into an opaque cursor string.
func Encode(p Position) string {
	data, _ := json.Marshal(p)
	return base64.RawURLEncoding.EncodeToString(data)
}

// Decode parses a cursor produced by Encode.
func Decode(cursor string) (*Position, error) {
	if cursor == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("malformed cursor: %w", err)
	}
	var p Position
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("malformed cursor: %w", err)
	}
	if p.ID == uuid.Nil {
		return nil, fmt.Errorf("malformed cursor: missing id")
	}
	return &p, nil
}

// Build assembles a Result from rows fetched with limit+1 lookahead. keyOf
// extracts the sort position of a row.
func Build[T any](rows []T, limit int, req Request, keyOf func(T) Position) Result[T] {
	done := len(rows) <= limit
	if !done {
		rows = rows[:limit]
	}
	cursor := req.Cursor
	if len(rows) > 0 {
		cursor = Encode(keyOf(rows[len(rows)-1]))
	}
	if rows == nil {
		rows = []T{}
	}
	return Result[T]{Page: rows, IsDone: done, ContinueCursor: cursor}
}

// Map converts the rows of a page, keeping its cursor state.
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	out := make([]U, len(r.Page))
	for i, v := range r.Page {
		out[i] = fn(v)
	}
	return Result[U]{Page: out, IsDone: r.IsDone, ContinueCursor: r.ContinueCursor}
}

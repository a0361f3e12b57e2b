package pagination

import (
	"fmt"
	"time"
)

const (
	DefaultLimit = 100
	MaxLimit     = 10000
)

// SortOrder represents sort direction
type SortOrder string

const (
	ASC  SortOrder = "ASC"
	DESC SortOrder = "DESC"
)

// Cursor is a keyset position: the (CreatedAt, ID) of the last row seen.
type Cursor struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Before reports whether the row (createdAt, id) sorts strictly after the
// cursor in ascending keyset order. A nil cursor precedes every row.
func (c *Cursor) Before(createdAt time.Time, id int64) bool {
	if c == nil {
		return true
	}
	if !createdAt.Equal(c.CreatedAt) {
		return createdAt.After(c.CreatedAt)
	}
	return id > c.ID
}

// ClampLimit returns limit bounded to [1, MaxLimit], DefaultLimit if unset.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

// SQL Helpers
// SQLCursorCondition generates SQL WHERE condition for cursor pagination.
// The placeholders start at $first.
func SQLCursorCondition(sortField, idField string, order SortOrder, first int) string {
	op := "<"
	if order == ASC {
		op = ">"
	}
	return fmt.Sprintf("(%s, %s) %s ($%d, $%d)", sortField, idField, op, first, first+1)
}

// SQLOrderBy generates ORDER BY clause
func SQLOrderBy(sortField, idField string, order SortOrder) string {
	return fmt.Sprintf("%s %s, %s %s", sortField, order, idField, order)
}

package relational

import (
	"database/sql"
	"strconv"
	"time"
)

// nullableTime converts a zero time.Time (the domain's "unset" sentinel)
// into a NULL parameter rather than Postgres's year-1 minimum timestamp.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return t
}

// placeholder renders a 1-based Postgres bind parameter ordinal.
func placeholder(n int) string {
	return strconv.Itoa(n)
}

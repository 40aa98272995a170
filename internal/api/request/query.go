package request

import (
	"net/http"
	"strconv"
	"time"
)

const (
	DefaultRunLimit = 50
	MaxRunLimit     = 500

	DefaultWindowHours = 24
	MaxWindowHours     = 24 * 365
)

// RunsQuery holds parsed run-history query parameters.
type RunsQuery struct {
	Limit int
	Since time.Time
}

// ParseRunsQuery extracts limit and since from query parameters. An invalid
// or absent since leaves the zero time, meaning no lower bound.
func ParseRunsQuery(r *http.Request) RunsQuery {
	q := RunsQuery{Limit: DefaultRunLimit}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			q.Limit = limit
		}
	}
	if q.Limit > MaxRunLimit {
		q.Limit = MaxRunLimit
	}

	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		if since, err := time.Parse(time.RFC3339, sinceStr); err == nil {
			q.Since = since
		}
	}

	return q
}

// ParseWindowHours extracts the hours query parameter as a duration,
// defaulting to 24 hours and clamping to a year.
func ParseWindowHours(r *http.Request) time.Duration {
	hours := DefaultWindowHours
	if hoursStr := r.URL.Query().Get("hours"); hoursStr != "" {
		if h, err := strconv.Atoi(hoursStr); err == nil && h > 0 {
			hours = h
		}
	}
	if hours > MaxWindowHours {
		hours = MaxWindowHours
	}
	return time.Duration(hours) * time.Hour
}

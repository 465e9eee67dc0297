package activecampaign

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// ErrInvalidRange is returned by NewDateRange when start is after end.
var ErrInvalidRange = errors.New("invalid date range")

// DateRange bounds contact creation time. The zero-width range
// (start == end) is valid.
type DateRange struct {
	start time.Time
	end   time.Time
}

// NewDateRange returns the range [start, end].
func NewDateRange(start, end time.Time) (DateRange, error) {
	if start.After(end) {
		return DateRange{}, fmt.Errorf("%w: start %s is after end %s",
			ErrInvalidRange, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return DateRange{start: start, end: end}, nil
}

// Start returns the lower bound.
func (r DateRange) Start() time.Time { return r.start }

// End returns the upper bound.
func (r DateRange) End() time.Time { return r.end }

// Filter renders the range as a query fragment for the contacts endpoint:
// "&filters[created_before]=<end>&filters[created_after]=<start>".
func (r DateRange) Filter() string {
	return "&filters[created_before]=" + url.QueryEscape(filterTime(r.end)) +
		"&filters[created_after]=" + url.QueryEscape(filterTime(r.start))
}

// filterTime formats t in UTC as the API expects, without zero padding,
// e.g. "2024/3/5T7:4:0-00:00".
func filterTime(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%d/%d/%dT%d:%d:%d-00:00",
		t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
}

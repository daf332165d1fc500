package formsite

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxPageLimit is the largest page size the results endpoint accepts.
	MaxPageLimit = 500
	// DefaultResultsView is the "all items + statistics" results view.
	DefaultResultsView = 11
	// QueryDateLayout is the date format of after_date and before_date.
	QueryDateLayout = "2006-01-02T15:04:05Z"

	SortAscending  = "asc"
	SortDescending = "desc"
)

var (
	inputDateLayouts = []string{QueryDateLayout, time.DateOnly, time.DateTime}
	offsetZoneRe     = regexp.MustCompile(`^([+-])(\d{2}):?(\d{2})$`)
)

// Parameters narrows down and shapes the results of one form export.
// Zero values mean "not set".
type Parameters struct {
	// Last keeps only the first Last results in sort order.
	Last int
	// AfterRef keeps results with a reference number greater than it.
	AfterRef int64
	// BeforeRef keeps results with a reference number less than it.
	BeforeRef int64
	// AfterDate and BeforeDate are wall clock dates in Timezone.
	AfterDate  string
	BeforeDate string
	// Timezone of the exported dates and of AfterDate/BeforeDate.
	Timezone      string
	ResultsView   int
	ResultsLabels int
	Sort          string
}

func DefaultParameters() Parameters {
	return Parameters{
		Timezone:    "UTC",
		ResultsView: DefaultResultsView,
		Sort:        SortDescending,
	}
}

// Validate checks every user supplied value without building a query.
func (p Parameters) Validate() error {
	if _, err := p.Location(); err != nil {
		return err
	}
	for _, d := range []string{p.AfterDate, p.BeforeDate} {
		if d == "" {
			continue
		}
		if _, err := ParseDate(d); err != nil {
			return err
		}
	}
	if p.Last < 0 {
		return fmt.Errorf("%w: last must not be negative, got %d", ErrInvalidParameter, p.Last)
	}
	if p.AfterRef < 0 || p.BeforeRef < 0 {
		return fmt.Errorf("%w: reference numbers must not be negative", ErrInvalidParameter)
	}
	switch strings.ToLower(p.Sort) {
	case "", SortAscending, SortDescending:
	default:
		return fmt.Errorf("%w: sort must be %q or %q, got %q", ErrInvalidParameter, SortAscending, SortDescending, p.Sort)
	}
	return nil
}

// Location loads Timezone.
func (p Parameters) Location() (*time.Location, error) {
	return LoadZone(p.Timezone)
}

// PageLimit is the results page size: MaxPageLimit, lowered by Last.
func (p Parameters) PageLimit() int {
	if p.Last > 0 && p.Last < MaxPageLimit {
		return p.Last
	}
	return MaxPageLimit
}

// MaxPages is the number of pages needed to hold Last results, 0 when Last
// is not set.
func (p Parameters) MaxPages() int {
	if p.Last <= 0 {
		return 0
	}
	limit := p.PageLimit()
	return (p.Last + limit - 1) / limit
}

// ResultsQuery renders the query of one results page.
func (p Parameters) ResultsQuery(page int) (url.Values, error) {
	loc, err := p.Location()
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(p.PageLimit()))

	if p.AfterRef > 0 {
		q.Set("after_id", strconv.FormatInt(p.AfterRef, 10))
	}
	if p.BeforeRef > 0 {
		q.Set("before_id", strconv.FormatInt(p.BeforeRef, 10))
	}

	for key, raw := range map[string]string{"after_date": p.AfterDate, "before_date": p.BeforeDate} {
		if raw == "" {
			continue
		}
		d, err := ParseDate(raw)
		if err != nil {
			return nil, err
		}
		q.Set(key, ShiftToUTC(d, loc).Format(QueryDateLayout))
	}

	resultsView := p.ResultsView
	if resultsView == 0 {
		resultsView = DefaultResultsView
	}
	q.Set("results_view", strconv.Itoa(resultsView))

	sort := strings.ToLower(p.Sort)
	if sort == "" {
		sort = SortDescending
	}
	q.Set("sort_direction", sort)

	return q, nil
}

// ItemsQuery renders the query of the items request.
func (p Parameters) ItemsQuery() url.Values {
	q := url.Values{}
	if p.ResultsLabels > 0 {
		q.Set("results_labels", strconv.Itoa(p.ResultsLabels))
	}
	return q
}

// ParseDate parses a user supplied date as a wall clock time (returned in UTC).
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range inputDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q, expected one of %q", ErrInvalidDateFormat, s, inputDateLayouts)
}

// LoadZone accepts IANA names, "local", and numeric offsets such as +0200 or
// -05:30. An empty name is UTC.
func LoadZone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	switch strings.ToLower(name) {
	case "", "utc", "etc/utc", "z":
		return time.UTC, nil
	case "local":
		return time.Local, nil
	}

	if m := offsetZoneRe.FindStringSubmatch(name); m != nil {
		hours, _ := strconv.Atoi(m[2])
		minutes, _ := strconv.Atoi(m[3])
		if hours > 14 || minutes > 59 {
			return nil, fmt.Errorf("%w: offset out of range %q", ErrInvalidTimezone, name)
		}
		offset := hours*3600 + minutes*60
		if m[1] == "-" {
			offset = -offset
		}
		return time.FixedZone(name, offset), nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidTimezone, name, err)
	}
	return loc, nil
}

// ShiftToZone moves t by the offset of loc at t, so the UTC fields of the
// result read as the wall clock of t in loc.
func ShiftToZone(t time.Time, loc *time.Location) time.Time {
	_, offset := t.In(loc).Zone()
	return t.UTC().Add(time.Duration(offset) * time.Second)
}

// ShiftToUTC reads the wall clock fields of t as a time in loc and returns
// that instant in UTC. It reverses ShiftToZone.
func ShiftToUTC(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc).UTC()
}

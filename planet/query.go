package planet

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const dateLayout = "2006-01-02"

// Permission levels accepted by the PermissionFilter.
const (
	PermissionAssetsDownload   = "assets:download"
	PermissionVisualDownload   = "assets.visual:download"
	PermissionAnalyticDownload = "assets.analytic:download"
)

var permissions = map[string]bool{
	PermissionAssetsDownload:   true,
	PermissionVisualDownload:   true,
	PermissionAnalyticDownload: true,
}

// AOI is an area of interest: a single closed outer ring.
type AOI struct {
	poly orb.Polygon
}

// NewAOI checks that p has a closed outer ring of at least four points. Inner
// rings are dropped.
func NewAOI(p orb.Polygon) (AOI, error) {
	if len(p) == 0 {
		return AOI{}, fmt.Errorf("%w: polygon has no rings", ErrInvalidGeometry)
	}
	ring := p[0]
	if len(ring) < 4 {
		return AOI{}, fmt.Errorf("%w: ring has %d points, need at least 4", ErrInvalidGeometry, len(ring))
	}
	if !ring.Closed() {
		return AOI{}, fmt.Errorf("%w: ring is not closed", ErrInvalidGeometry)
	}
	return AOI{poly: orb.Polygon{ring.Clone()}}, nil
}

func (a AOI) Polygon() orb.Polygon { return a.poly.Clone() }

// DateRange covers whole calendar days, both ends included.
type DateRange struct {
	From time.Time
	To   time.Time
}

func parseDate(field, v string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s %q, want YYYY-MM-DD", ErrInvalidDateFormat, field, v)
	}
	return t, nil
}

// ParseDateRange parses two YYYY-MM-DD dates.
func ParseDateRange(from, to string) (DateRange, error) {
	f, err := parseDate("from", from)
	if err != nil {
		return DateRange{}, err
	}
	t, err := parseDate("to", to)
	if err != nil {
		return DateRange{}, err
	}
	dr := DateRange{From: f, To: t}
	return dr, dr.validate()
}

func (d DateRange) validate() error {
	if d.From.After(d.To) {
		return fmt.Errorf("%w: %s is after %s", ErrInvalidDateRange, d.From.Format(dateLayout), d.To.Format(dateLayout))
	}
	return nil
}

func (d DateRange) String() string {
	return d.From.Format(dateLayout) + ".." + d.To.Format(dateLayout)
}

// FilterSpec is a validated set of search constraints, combined with AND.
type FilterSpec struct {
	AOI          AOI
	Dates        DateRange
	CloudCeiling float64
	Permission   string
}

// Build validates the inputs and returns the combined filter. It does no I/O.
func Build(aoi AOI, dates DateRange, cloudCeiling float64, permission string) (*FilterSpec, error) {
	if len(aoi.poly) == 0 {
		return nil, fmt.Errorf("%w: empty area of interest", ErrInvalidGeometry)
	}
	if err := dates.validate(); err != nil {
		return nil, err
	}
	// NaN fails both comparisons, so test for the valid interval.
	if !(cloudCeiling >= 0 && cloudCeiling <= 1) {
		return nil, fmt.Errorf("%w: %v not in [0, 1]", ErrInvalidCloudCeiling, cloudCeiling)
	}
	if !permissions[permission] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPermission, permission)
	}
	return &FilterSpec{
		AOI:          aoi,
		Dates:        DateRange{From: truncateDay(dates.From), To: truncateDay(dates.To)},
		CloudCeiling: cloudCeiling,
		Permission:   permission,
	}, nil
}

// BuildFromStrings is Build with the dates given as YYYY-MM-DD strings.
func BuildFromStrings(aoi AOI, from, to string, cloudCeiling float64, permission string) (*FilterSpec, error) {
	dates, err := ParseDateRange(from, to)
	if err != nil {
		return nil, err
	}
	return Build(aoi, dates, cloudCeiling, permission)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Filter returns the predicate tree. Children are always in the order
// geometry, acquired date, cloud cover, permission.
func (s *FilterSpec) Filter() Filter {
	start := s.Dates.From
	end := s.Dates.To.AddDate(0, 0, 1)
	ceiling := s.CloudCeiling
	return &AndFilter{
		Type: "AndFilter",
		Config: []Filter{
			&GeometryFilter{
				Type:      "GeometryFilter",
				FieldName: "geometry",
				Config:    geojson.NewGeometry(s.AOI.Polygon()),
			},
			&DateRangeFilter{
				Type:      "DateRangeFilter",
				FieldName: "acquired",
				Config: &DateRangeConfig{
					GTE: &start,
					LT:  &end,
				},
			},
			&RangeFilter{
				Type:      "RangeFilter",
				FieldName: "cloud_cover",
				Config: &RangeConfig{
					LTE: &ceiling,
				},
			},
			&PermissionFilter{
				Type:   "PermissionFilter",
				Config: []string{s.Permission},
			},
		},
	}
}

func (s *FilterSpec) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Filter())
}

// Request pairs the filter with the item types to search.
func (s *FilterSpec) Request(itemTypes []string) *SearchRequest {
	types := make([]string, len(itemTypes))
	copy(types, itemTypes)
	return &SearchRequest{
		Filter:    s.Filter(),
		ItemTypes: types,
	}
}

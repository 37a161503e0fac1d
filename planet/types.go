package planet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jinzhu/copier"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const (
	DefaultItemType   = "PSScene4Band"
	DefaultAssetType  = "analytic"
	DefaultPermission = PermissionAssetsDownload
)

// Filter is a node of the search predicate tree. Every node serialises to the
// {"type", "field_name", "config"} shape understood by the Data API.
type Filter interface {
	FilterType() string
}

type GeometryFilter struct {
	Type      string            `json:"type"`
	FieldName string            `json:"field_name"`
	Config    *geojson.Geometry `json:"config"`
}

func (f *GeometryFilter) FilterType() string { return f.Type }

type DateRangeConfig struct {
	GTE *time.Time `json:"gte,omitempty"`
	LT  *time.Time `json:"lt,omitempty"`
}

type DateRangeFilter struct {
	Type      string           `json:"type"`
	FieldName string           `json:"field_name"`
	Config    *DateRangeConfig `json:"config"`
}

func (f *DateRangeFilter) FilterType() string { return f.Type }

type RangeConfig struct {
	GTE *float64 `json:"gte,omitempty"`
	LTE *float64 `json:"lte,omitempty"`
}

type RangeFilter struct {
	Type      string       `json:"type"`
	FieldName string       `json:"field_name"`
	Config    *RangeConfig `json:"config"`
}

func (f *RangeFilter) FilterType() string { return f.Type }

type PermissionFilter struct {
	Type   string   `json:"type"`
	Config []string `json:"config"`
}

func (f *PermissionFilter) FilterType() string { return f.Type }

type AndFilter struct {
	Type   string   `json:"type"`
	Config []Filter `json:"config"`
}

func (f *AndFilter) FilterType() string { return f.Type }

// SearchRequest is the body of a quick-search call.
type SearchRequest struct {
	Filter    Filter   `json:"filter"`
	ItemTypes []string `json:"item_types"`
}

// ItemRecord is one matched catalog feature. The full feature document is kept
// so it can be written back out unchanged.
type ItemRecord struct {
	id       string
	itemType string
	geometry *geojson.Geometry
	raw      map[string]interface{}
}

type featureHeader struct {
	ID         string                 `json:"id"`
	Geometry   *geojson.Geometry      `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// NewItemRecord builds a record from its parts, mostly useful for fakes.
func NewItemRecord(id, itemType string, props map[string]interface{}) ItemRecord {
	p := make(map[string]interface{}, len(props)+1)
	for k, v := range props {
		p[k] = v
	}
	p["item_type"] = itemType
	return ItemRecord{
		id:       id,
		itemType: itemType,
		raw: map[string]interface{}{
			"id":         id,
			"type":       "Feature",
			"properties": p,
		},
	}
}

func (r ItemRecord) ID() string       { return r.id }
func (r ItemRecord) ItemType() string { return r.itemType }

// Geometry returns the scene footprint, or nil if the feature carried none.
func (r ItemRecord) Geometry() orb.Geometry {
	if r.geometry == nil {
		return nil
	}
	return r.geometry.Geometry()
}

// Properties returns a copy of the property bag.
func (r ItemRecord) Properties() map[string]interface{} {
	src, _ := r.raw["properties"].(map[string]interface{})
	dst := make(map[string]interface{}, len(src))
	if err := copier.CopyWithOption(&dst, &src, copier.Option{DeepCopy: true}); err != nil {
		for k, v := range src {
			dst[k] = v
		}
	}
	return dst
}

func (r ItemRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r.raw); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (r *ItemRecord) UnmarshalJSON(data []byte) error {
	var h featureHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return err
	}
	if h.ID == "" {
		return fmt.Errorf("feature without id")
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.id = h.ID
	r.geometry = h.Geometry
	r.raw = raw
	if t, ok := h.Properties["item_type"].(string); ok {
		r.itemType = t
	}
	return nil
}

// Page is one page of search results.
type Page struct {
	Items []ItemRecord
	// Next is the continuation token, empty on the last page.
	Next string
}

type pageLinks struct {
	Next string `json:"_next"`
}

type pageResponse struct {
	Links    pageLinks    `json:"_links"`
	Features []ItemRecord `json:"features"`
}

// Remote asset states as reported by the assets endpoint.
const (
	AssetInactive   = "inactive"
	AssetActivating = "activating"
	AssetActive     = "active"
	AssetFailed     = "failed"
)

// AssetStatus is the remote view of one asset of one item.
type AssetStatus struct {
	ItemID      string
	AssetType   string
	Status      string
	Location    string
	ContentType string
	MD5         string
	Size        int64
}

type assetLinks struct {
	Self     string `json:"_self"`
	Activate string `json:"activate"`
}

type assetEntry struct {
	Links       assetLinks `json:"_links"`
	Status      string     `json:"status"`
	Location    string     `json:"location"`
	MD5         string     `json:"md5_digest"`
	Type        string     `json:"type"`
	ContentType string     `json:"content_type"`
	Size        int64      `json:"size"`
}

package util

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// LoadPolygon reads an area of interest from a GeoJSON file. The file may
// hold a bare geometry, a Feature, or a FeatureCollection; the first polygon
// found is returned. String values are whitespace-trimmed before decoding,
// so hand-edited files with padded "type" values still load.
func LoadPolygon(path string) (orb.Polygon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePolygon(data)
}

// ParsePolygon is LoadPolygon on an in-memory document.
func ParsePolygon(data []byte) (orb.Polygon, error) {
	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}
	clean, err := json.Marshal(CleanStrings(doc))
	if err != nil {
		return nil, err
	}

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(clean, &probe); err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}

	var g orb.Geometry
	switch probe.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(clean)
		if err != nil {
			return nil, fmt.Errorf("parse feature collection: %w", err)
		}
		for _, f := range fc.Features {
			if p := firstPolygon(f.Geometry); p != nil {
				return p, nil
			}
		}
		return nil, fmt.Errorf("feature collection has no polygon")
	case "Feature":
		f, err := geojson.UnmarshalFeature(clean)
		if err != nil {
			return nil, fmt.Errorf("parse feature: %w", err)
		}
		g = f.Geometry
	default:
		geom, err := geojson.UnmarshalGeometry(clean)
		if err != nil {
			return nil, fmt.Errorf("parse geometry: %w", err)
		}
		g = geom.Geometry()
	}
	if p := firstPolygon(g); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("geometry %q is not a polygon", probe.Type)
}

func firstPolygon(g orb.Geometry) orb.Polygon {
	switch v := g.(type) {
	case orb.Polygon:
		return v
	case orb.MultiPolygon:
		if len(v) > 0 {
			return v[0]
		}
	}
	return nil
}

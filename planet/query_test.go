package planet

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square() orb.Polygon {
	return orb.Polygon{orb.Ring{
		{-122.5, 37.7}, {-122.3, 37.7}, {-122.3, 37.9}, {-122.5, 37.9}, {-122.5, 37.7},
	}}
}

func testAOI(t *testing.T) AOI {
	aoi, err := NewAOI(square())
	require.NoError(t, err)
	return aoi
}

// decoded mirrors the wire shape of the AND filter for assertions.
type decoded struct {
	Type   string `json:"type"`
	Config []struct {
		Type      string          `json:"type"`
		FieldName string          `json:"field_name"`
		Config    json.RawMessage `json:"config"`
	} `json:"config"`
}

func decodeFilter(t *testing.T, spec *FilterSpec) decoded {
	data, err := json.Marshal(spec)
	require.NoError(t, err)
	var d decoded
	require.NoError(t, json.Unmarshal(data, &d))
	return d
}

func TestNewAOI(t *testing.T) {
	t.Run("closed square", func(t *testing.T) {
		aoi, err := NewAOI(square())
		require.NoError(t, err)
		assert.Len(t, aoi.Polygon()[0], 5)
	})

	t.Run("too few points", func(t *testing.T) {
		_, err := NewAOI(orb.Polygon{orb.Ring{{0, 0}, {1, 0}, {0, 0}}})
		assert.ErrorIs(t, err, ErrInvalidGeometry)
	})

	t.Run("open ring", func(t *testing.T) {
		_, err := NewAOI(orb.Polygon{orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}}})
		assert.ErrorIs(t, err, ErrInvalidGeometry)
	})

	t.Run("no rings", func(t *testing.T) {
		_, err := NewAOI(orb.Polygon{})
		assert.ErrorIs(t, err, ErrInvalidGeometry)
	})

	t.Run("polygon is copied", func(t *testing.T) {
		p := square()
		aoi, err := NewAOI(p)
		require.NoError(t, err)
		p[0][0] = orb.Point{0, 0}
		assert.Equal(t, orb.Point{-122.5, 37.7}, aoi.Polygon()[0][0])
	})
}

func TestBuild(t *testing.T) {
	aoi := testAOI(t)

	t.Run("children in fixed order", func(t *testing.T) {
		spec, err := BuildFromStrings(aoi, "2017-12-01", "2017-12-31", 0.2, PermissionAssetsDownload)
		require.NoError(t, err)
		d := decodeFilter(t, spec)
		assert.Equal(t, "AndFilter", d.Type)
		require.Len(t, d.Config, 4)
		assert.Equal(t, "GeometryFilter", d.Config[0].Type)
		assert.Equal(t, "geometry", d.Config[0].FieldName)
		assert.Equal(t, "DateRangeFilter", d.Config[1].Type)
		assert.Equal(t, "acquired", d.Config[1].FieldName)
		assert.Equal(t, "RangeFilter", d.Config[2].Type)
		assert.Equal(t, "cloud_cover", d.Config[2].FieldName)
		assert.Equal(t, "PermissionFilter", d.Config[3].Type)
		assert.JSONEq(t, `["assets:download"]`, string(d.Config[3].Config))
		assert.JSONEq(t, `{"lte": 0.2}`, string(d.Config[2].Config))
	})

	t.Run("deterministic", func(t *testing.T) {
		a, err := BuildFromStrings(aoi, "2017-12-01", "2017-12-31", 0.2, PermissionAssetsDownload)
		require.NoError(t, err)
		b, err := BuildFromStrings(aoi, "2017-12-01", "2017-12-31", 0.2, PermissionAssetsDownload)
		require.NoError(t, err)
		ja, err := json.Marshal(a)
		require.NoError(t, err)
		jb, err := json.Marshal(b)
		require.NoError(t, err)
		assert.Equal(t, string(ja), string(jb))
	})

	t.Run("dates cover whole days", func(t *testing.T) {
		spec, err := BuildFromStrings(aoi, "2017-12-01", "2017-12-31", 1, PermissionAssetsDownload)
		require.NoError(t, err)
		d := decodeFilter(t, spec)
		assert.JSONEq(t, `{"gte": "2017-12-01T00:00:00Z", "lt": "2018-01-01T00:00:00Z"}`, string(d.Config[1].Config))
	})

	t.Run("single day", func(t *testing.T) {
		spec, err := BuildFromStrings(aoi, "2018-02-28", "2018-02-28", 1, PermissionAssetsDownload)
		require.NoError(t, err)
		d := decodeFilter(t, spec)
		assert.JSONEq(t, `{"gte": "2018-02-28T00:00:00Z", "lt": "2018-03-01T00:00:00Z"}`, string(d.Config[1].Config))
	})

	t.Run("reversed dates", func(t *testing.T) {
		_, err := BuildFromStrings(aoi, "2018-01-02", "2018-01-01", 1, PermissionAssetsDownload)
		assert.ErrorIs(t, err, ErrInvalidDateRange)
	})

	t.Run("bad date names the field", func(t *testing.T) {
		_, err := BuildFromStrings(aoi, "2017/12/01", "2017-12-31", 1, PermissionAssetsDownload)
		require.ErrorIs(t, err, ErrInvalidDateFormat)
		assert.Contains(t, err.Error(), "from")

		_, err = BuildFromStrings(aoi, "2017-12-01", "Dec 31", 1, PermissionAssetsDownload)
		require.ErrorIs(t, err, ErrInvalidDateFormat)
		assert.Contains(t, err.Error(), "to")
	})

	t.Run("cloud ceiling bounds", func(t *testing.T) {
		for _, ok := range []float64{0, 0.5, 1} {
			_, err := BuildFromStrings(aoi, "2017-12-01", "2017-12-31", ok, PermissionAssetsDownload)
			assert.NoError(t, err, "ceiling %v", ok)
		}
		for _, bad := range []float64{-0.01, 1.01, math.NaN(), math.Inf(1)} {
			_, err := BuildFromStrings(aoi, "2017-12-01", "2017-12-31", bad, PermissionAssetsDownload)
			assert.ErrorIs(t, err, ErrInvalidCloudCeiling, "ceiling %v", bad)
		}
	})

	t.Run("permission", func(t *testing.T) {
		for _, p := range []string{PermissionAssetsDownload, PermissionVisualDownload, PermissionAnalyticDownload} {
			_, err := BuildFromStrings(aoi, "2017-12-01", "2017-12-31", 1, p)
			assert.NoError(t, err, p)
		}
		_, err := BuildFromStrings(aoi, "2017-12-01", "2017-12-31", 1, "assets:upload")
		assert.ErrorIs(t, err, ErrInvalidPermission)
	})

	t.Run("zero AOI", func(t *testing.T) {
		dates, err := ParseDateRange("2017-12-01", "2017-12-31")
		require.NoError(t, err)
		_, err = Build(AOI{}, dates, 1, PermissionAssetsDownload)
		assert.ErrorIs(t, err, ErrInvalidGeometry)
	})
}

func TestRequest(t *testing.T) {
	spec, err := BuildFromStrings(testAOI(t), "2017-12-01", "2017-12-31", 0.2, PermissionAssetsDownload)
	require.NoError(t, err)

	types := []string{"PSScene4Band", "REOrthoTile"}
	req := spec.Request(types)
	types[0] = "changed"
	assert.Equal(t, []string{"PSScene4Band", "REOrthoTile"}, req.ItemTypes)

	data, err := json.Marshal(req)
	require.NoError(t, err)
	var body struct {
		ItemTypes []string        `json:"item_types"`
		Filter    json.RawMessage `json:"filter"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, []string{"PSScene4Band", "REOrthoTile"}, body.ItemTypes)
	assert.NotEmpty(t, body.Filter)
}

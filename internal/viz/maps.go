package viz

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/waterdata/internal/table"
)

const leafletCSS = "https://unpkg.com/leaflet@1.9.4/dist/leaflet.css"
const leafletJS = "https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"

var mapTemplate = template.Must(template.New("map").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<link rel="stylesheet" href="{{.LeafletCSS}}">
<script src="{{.LeafletJS}}"></script>
<style>
body { margin: 0; background: {{.Theme.Background}}; color: {{.Theme.Text}}; font-family: sans-serif; }
h1 { font-size: 1.2em; padding: 8px 12px; margin: 0; }
#map { height: {{.Height}}; width: {{.Width}}; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<div id="map"></div>
<script>
var map = L.map('map');
L.tileLayer('https://tile.openstreetmap.org/{z}/{x}/{y}.png', {
  attribution: '&copy; OpenStreetMap contributors'
}).addTo(map);
var data = {{.GeoJSON}};
var layer = L.geoJSON(data, {
  pointToLayer: function (feature, latlng) {
    return L.circleMarker(latlng, {
      radius: (feature.properties && feature.properties.__radius) || 6,
      color: '{{.Theme.Accent}}',
      fillOpacity: 0.7
    });
  },
  style: function (feature) {
    if (feature.properties && feature.properties.__fill) {
      return { fillColor: feature.properties.__fill, fillOpacity: 0.75, color: '{{.Theme.Border}}', weight: 1 };
    }
    return {};
  },
  onEachFeature: function (feature, l) {
    if (feature.properties && feature.properties.__popup) {
      l.bindPopup(feature.properties.__popup);
    }
  }
}).addTo(map);
if (layer.getBounds().isValid()) { map.fitBounds(layer.getBounds().pad(0.1)); } else { map.setView([39, -105], 5); }
</script>
</body>
</html>
`))

type mapPage struct {
	Title      string
	Width      string
	Height     string
	Theme      Theme
	GeoJSON    template.JS
	LeafletCSS string
	LeafletJS  string
}

// PointMap renders the table's sites as circle markers. labelCol, when
// non-empty, feeds the marker popups; rows missing a coordinate are skipped.
func PointMap(w io.Writer, t *table.Table, labelCol string, o Options) error {
	o = o.withDefaults()

	latCol, err := floatColumn(t, "latitude")
	if err != nil {
		return err
	}
	lonCol, err := floatColumn(t, "longitude")
	if err != nil {
		return err
	}
	var lc *table.Column
	if labelCol != "" {
		col, ok := t.Column(labelCol)
		if !ok {
			return fmt.Errorf("viz: no column %q", labelCol)
		}
		lc = col
	}
	var wc *table.Column
	var wLo, wHi float64
	if o.WeightColumn != "" {
		col, err := floatColumn(t, o.WeightColumn)
		if err != nil {
			return err
		}
		wc = col
		wLo, wHi = math.Inf(1), math.Inf(-1)
		for i := 0; i < wc.Len(); i++ {
			if v, ok := wc.Float(i); ok {
				wLo = math.Min(wLo, v)
				wHi = math.Max(wHi, v)
			}
		}
	}

	fc := geojson.NewFeatureCollection()
	for i := 0; i < latCol.Len(); i++ {
		lat, okLat := latCol.Float(i)
		lon, okLon := lonCol.Float(i)
		if !okLat || !okLon {
			continue
		}
		f := geojson.NewFeature(orb.Point{lon, lat})
		if lc != nil {
			if label, ok := cellString(lc, i); ok {
				f.Properties["__popup"] = label
			}
		}
		if wc != nil {
			if v, ok := wc.Float(i); ok {
				radius := 4.0
				if wHi > wLo {
					radius = 4 + 14*(v-wLo)/(wHi-wLo)
				}
				f.Properties["__radius"] = math.Round(radius*10) / 10
			}
		}
		fc.Append(f)
	}
	if len(fc.Features) == 0 {
		return fmt.Errorf("viz: no rows with coordinates")
	}
	return renderMap(w, fc, o)
}

// Choropleth joins valueCol onto the region features by matching keyCol
// against the named feature property, then fills each region along the
// theme's accent ramp.
func Choropleth(w io.Writer, regions *geojson.FeatureCollection, t *table.Table, keyCol, valueCol, featureProp string, o Options) error {
	o = o.withDefaults()

	kc, ok := t.Column(keyCol)
	if !ok {
		return fmt.Errorf("viz: no column %q", keyCol)
	}
	vc, err := floatColumn(t, valueCol)
	if err != nil {
		return err
	}

	values := map[string]float64{}
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i < kc.Len(); i++ {
		key, okK := cellString(kc, i)
		v, okV := vc.Float(i)
		if !okK || !okV {
			continue
		}
		values[key] = v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if len(values) == 0 {
		return fmt.Errorf("viz: no complete rows to join")
	}

	for _, f := range regions.Features {
		key, _ := f.Properties[featureProp].(string)
		v, ok := values[key]
		if !ok {
			continue
		}
		f.Properties["__fill"] = rampColor(v, lo, hi)
		f.Properties["__popup"] = fmt.Sprintf("%s: %g", key, v)
	}
	return renderMap(w, regions, o)
}

// rampColor maps v in [lo, hi] onto a light-to-dark blue ramp.
func rampColor(v, lo, hi float64) string {
	frac := 0.5
	if hi > lo {
		frac = (v - lo) / (hi - lo)
	}
	// From #deebf7 to #08519c.
	r := int(0xde + frac*(0x08-0xde))
	g := int(0xeb + frac*(0x51-0xeb))
	b := int(0xf7 + frac*(0x9c-0xf7))
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

func renderMap(w io.Writer, fc *geojson.FeatureCollection, o Options) error {
	raw, err := json.Marshal(fc)
	if err != nil {
		return err
	}
	return mapTemplate.Execute(w, mapPage{
		Title:      o.Title,
		Width:      o.Width,
		Height:     o.Height,
		Theme:      LookupTheme(o.Theme),
		GeoJSON:    template.JS(raw),
		LeafletCSS: leafletCSS,
		LeafletJS:  leafletJS,
	})
}

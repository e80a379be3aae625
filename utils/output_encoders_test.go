package utils

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func featureChannel(features ...*Feature) <-chan *Feature {
	ch := make(chan *Feature, len(features))
	for _, feat := range features {
		ch <- feat
	}
	close(ch)
	return ch
}

func testFeatures(t *testing.T) []*Feature {
	t.Helper()
	geom, err := ParseWKT("POINT (149.12 -35.31)", "EPSG:4326")
	if err != nil {
		t.Errorf("failed to parse geometry: %v", err)
		return nil
	}

	built, _ := ParseTime("1998-05-20T00:00:00.000Z")
	return []*Feature{
		{
			ID:       "roads.1",
			Geometry: geom,
			Properties: map[string]interface{}{
				"name":      "highway 1",
				"lanes":     int64(4),
				"length_km": 12.5,
				"built":     built,
			},
		},
		{
			ID: "roads.2",
			Properties: map[string]interface{}{
				"name":      "back road",
				"lanes":     int64(1),
				"length_km": 3.25,
				"built":     nil,
			},
		},
	}
}

func TestEncoderRegistryLookup(t *testing.T) {
	reg := NewEncoderRegistry()

	cases := map[string]string{
		"GeoJSON":                  "application/json",
		"geojson":                  "application/json",
		"application/json":         "application/json",
		"GML":                      "text/xml; subtype=gml/3.1.1",
		"text/xml; subtype=gml/3.1.1": "text/xml; subtype=gml/3.1.1",
		"CSV":                      "text/csv",
		"text/csv":                 "text/csv",
	}
	for format, contentType := range cases {
		enc, err := reg.Lookup(format)
		if err != nil {
			t.Errorf("lookup failed for %q: %v", format, err)
			continue
		}
		if enc.ContentType() != contentType {
			t.Errorf("unexpected content type for %q: %v", format, enc.ContentType())
		}
	}
}

func TestEncoderRegistryUnsupportedFormat(t *testing.T) {
	reg := NewEncoderRegistry()

	_, err := reg.Lookup("shapefile")
	if err == nil {
		t.Errorf("expected unsupported format error")
		return
	}
	owsErr, ok := err.(*OWSError)
	if !ok || owsErr.Code != ExcUnsupportedFormat {
		t.Errorf("expected %v, got %v", ExcUnsupportedFormat, err)
		return
	}

	// the message advertises what the server does support
	for _, name := range reg.Names() {
		if !strings.Contains(owsErr.Message, name) {
			t.Errorf("error message should list %v: %v", name, owsErr.Message)
		}
	}
}

func TestGeoJSONEncoder(t *testing.T) {
	ft := testFeatureType()
	features := testFeatures(t)
	if features == nil {
		return
	}

	var buf bytes.Buffer
	enc := &GeoJSONEncoder{}
	if err := enc.Encode(&buf, ft, featureChannel(features...)); err != nil {
		t.Errorf("encode failed: %v", err)
		return
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Errorf("output is not valid JSON: %v\n%s", err, buf.String())
		return
	}

	if doc["type"] != "FeatureCollection" {
		t.Errorf("unexpected document type: %v", doc["type"])
		return
	}
	if doc["numberReturned"] != float64(2) {
		t.Errorf("unexpected numberReturned: %v", doc["numberReturned"])
		return
	}

	feats := doc["features"].([]interface{})
	first := feats[0].(map[string]interface{})
	if first["id"] != "roads.1" {
		t.Errorf("unexpected feature id: %v", first["id"])
		return
	}
	geom := first["geometry"].(map[string]interface{})
	if geom["type"] != "Point" {
		t.Errorf("unexpected geometry: %v", geom)
		return
	}
	props := first["properties"].(map[string]interface{})
	if props["lanes"] != float64(4) || props["name"] != "highway 1" {
		t.Errorf("unexpected properties: %v", props)
		return
	}

	second := feats[1].(map[string]interface{})
	if second["geometry"] != nil {
		t.Errorf("missing geometry should encode as null: %v", second["geometry"])
	}
}

func TestGeoJSONEncoderEmpty(t *testing.T) {
	ft := testFeatureType()

	var buf bytes.Buffer
	enc := &GeoJSONEncoder{}
	if err := enc.Encode(&buf, ft, featureChannel()); err != nil {
		t.Errorf("encode failed: %v", err)
		return
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Errorf("output is not valid JSON: %v", err)
		return
	}
	if doc["numberReturned"] != float64(0) {
		t.Errorf("unexpected numberReturned: %v", doc["numberReturned"])
	}
}

func TestCSVEncoder(t *testing.T) {
	ft := testFeatureType()
	features := testFeatures(t)
	if features == nil {
		return
	}

	var buf bytes.Buffer
	enc := &CSVEncoder{}
	if err := enc.Encode(&buf, ft, featureChannel(features...)); err != nil {
		t.Errorf("encode failed: %v", err)
		return
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Errorf("expected header plus 2 rows, got %d lines:\n%s", len(lines), buf.String())
		return
	}
	if lines[0] != "id,name,lanes,length_km,built,geometry" {
		t.Errorf("unexpected header: %v", lines[0])
		return
	}
	if !strings.HasPrefix(lines[1], "roads.1,highway 1,4,12.5,") {
		t.Errorf("unexpected first row: %v", lines[1])
		return
	}
	if !strings.Contains(lines[1], "POINT (149.12 -35.31)") {
		t.Errorf("geometry should be rendered as WKT: %v", lines[1])
	}
}

func TestGMLEncoder(t *testing.T) {
	prevDataDir := DataDir
	DataDir = "../data"
	defer func() { DataDir = prevDataDir }()

	ft := testFeatureType()
	ft.NameSpace = "http://example.com/ows"
	features := testFeatures(t)
	if features == nil {
		return
	}
	// value with XML metacharacters must arrive escaped
	features[0].Properties["name"] = `"A" & <B>`

	var buf bytes.Buffer
	enc := &GMLEncoder{}
	if err := enc.Encode(&buf, ft, featureChannel(features...)); err != nil {
		t.Errorf("encode failed: %v", err)
		return
	}

	out := buf.String()
	if !strings.Contains(out, "<wfs:FeatureCollection") || !strings.Contains(out, "</wfs:FeatureCollection>") {
		t.Errorf("missing collection wrapper:\n%s", out)
		return
	}
	if !strings.Contains(out, `<ows:roads gml:id="roads.1">`) {
		t.Errorf("missing feature member:\n%s", out)
		return
	}
	if !strings.Contains(out, "&amp;") || strings.Contains(out, "<B>") {
		t.Errorf("property values should be XML escaped:\n%s", out)
		return
	}
	if !strings.Contains(out, "<gml:pos>149.12 -35.31</gml:pos>") {
		t.Errorf("missing geometry markup:\n%s", out)
	}
}

func TestGeometryGML(t *testing.T) {
	geom, err := ParseWKT("POLYGON ((0 0, 10 0, 10 10, 0 10, 0 0), (2 2, 4 2, 4 4, 2 4, 2 2))", "EPSG:4326")
	if err != nil {
		t.Errorf("failed to parse polygon: %v", err)
		return
	}

	gml := GeometryGML(geom)
	if !strings.Contains(gml, `<gml:Polygon srsName="EPSG:4326">`) {
		t.Errorf("missing polygon element: %v", gml)
		return
	}
	if !strings.Contains(gml, "<gml:exterior>") || !strings.Contains(gml, "<gml:interior>") {
		t.Errorf("ring boundaries not rendered: %v", gml)
		return
	}
	if !strings.Contains(gml, "<gml:posList>0 0 10 0 10 10 0 10 0 0</gml:posList>") {
		t.Errorf("unexpected posList: %v", gml)
	}
}

func TestFormatPropertyValue(t *testing.T) {
	built, _ := time.Parse(ISOFormat, "1998-05-20T01:02:03.000Z")
	if formatPropertyValue(built) != "1998-05-20T01:02:03.000Z" {
		t.Errorf("unexpected datetime rendering: %v", formatPropertyValue(built))
		return
	}
	if formatPropertyValue(nil) != "" {
		t.Errorf("nil should render empty")
		return
	}
	if formatPropertyValue(int64(42)) != "42" {
		t.Errorf("unexpected integer rendering: %v", formatPropertyValue(int64(42)))
	}
}

package utils

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/edisonguo/jet"
)

// Feature is one record produced by a feature store. Properties
// holds the non-geometry fields keyed by field name.
type Feature struct {
	ID         string
	Geometry   *Geometry
	Properties map[string]interface{}
}

// FeatureEncoder serializes a stream of features into one
// self-contained byte stream. Encoders must consume the channel as
// it fills rather than materializing the result set.
type FeatureEncoder interface {
	Name() string
	ContentType() string
	Encode(w io.Writer, ft *FeatureType, features <-chan *Feature) error
}

// EncoderRegistry maps output format identifiers to encoders.
// Registration happens at startup; lookups are read-only.
type EncoderRegistry struct {
	encoders map[string]FeatureEncoder
	aliases  map[string]string
	order    []string
}

func NewEncoderRegistry() *EncoderRegistry {
	reg := &EncoderRegistry{
		encoders: make(map[string]FeatureEncoder),
		aliases:  make(map[string]string),
	}

	reg.Register(&GeoJSONEncoder{}, "json", "application/json")
	reg.Register(&GMLEncoder{}, "gml3", "text/xml; subtype=gml/3.1.1")
	reg.Register(&CSVEncoder{}, "text/csv")
	return reg
}

func (reg *EncoderRegistry) Register(enc FeatureEncoder, aliases ...string) {
	key := strings.ToLower(enc.Name())
	if _, found := reg.encoders[key]; !found {
		reg.order = append(reg.order, enc.Name())
	}
	reg.encoders[key] = enc
	for _, alias := range aliases {
		reg.aliases[strings.ToLower(alias)] = key
	}
}

// Names lists the registered canonical format names.
func (reg *EncoderRegistry) Names() []string {
	names := make([]string, len(reg.order))
	copy(names, reg.order)
	return names
}

// Lookup resolves a requested format, case-insensitively and via
// MIME aliases. Unknown formats report the registered list so the
// client can retry.
func (reg *EncoderRegistry) Lookup(format string) (FeatureEncoder, error) {
	key := strings.ToLower(strings.TrimSpace(format))
	if alias, found := reg.aliases[key]; found {
		key = alias
	}
	enc, found := reg.encoders[key]
	if !found {
		return nil, NewOWSError(ExcUnsupportedFormat, "outputFormat",
			"unsupported output format %q; registered formats: %v", format, strings.Join(reg.Names(), ", "))
	}
	return enc, nil
}

// formatPropertyValue renders a property value for text outputs.
func formatPropertyValue(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return ""
	case time.Time:
		return v.UTC().Format(ISOFormat)
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// propertyFields returns the non-geometry, non-identifier fields of
// a schema, or the sorted property keys of a feature when no schema
// is available.
func propertyFields(ft *FeatureType, feat *Feature) []string {
	if ft != nil && ft.HasSchema() {
		var names []string
		for _, field := range ft.Fields {
			if field.Type != TypeGeometry && field.Name != ft.IDField {
				names = append(names, field.Name)
			}
		}
		return names
	}

	var names []string
	for name := range feat.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type GeoJSONEncoder struct{}

func (e *GeoJSONEncoder) Name() string        { return "GeoJSON" }
func (e *GeoJSONEncoder) ContentType() string { return "application/json" }

func (e *GeoJSONEncoder) Encode(w io.Writer, ft *FeatureType, features <-chan *Feature) error {
	if _, err := io.WriteString(w, `{"type":"FeatureCollection","features":[`); err != nil {
		return err
	}

	numFeatures := 0
	for feat := range features {
		if numFeatures > 0 {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}

		doc, err := e.encodeFeature(ft, feat)
		if err != nil {
			return err
		}
		if _, err := w.Write(doc); err != nil {
			return err
		}
		numFeatures++
	}

	_, err := io.WriteString(w, fmt.Sprintf(`],"numberReturned":%d}`, numFeatures))
	return err
}

func (e *GeoJSONEncoder) encodeFeature(ft *FeatureType, feat *Feature) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"type":"Feature"`)

	if len(feat.ID) > 0 {
		idJson, err := json.Marshal(feat.ID)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`,"id":`)
		buf.Write(idJson)
	}

	buf.WriteString(`,"geometry":`)
	if feat.Geometry != nil {
		geomJson, err := json.Marshal(feat.Geometry)
		if err != nil {
			return nil, err
		}
		buf.Write(geomJson)
	} else {
		buf.WriteString("null")
	}

	// properties are written in schema order so output is
	// deterministic
	buf.WriteString(`,"properties":{`)
	for i, name := range propertyFields(ft, feat) {
		if i > 0 {
			buf.WriteString(",")
		}
		nameJson, _ := json.Marshal(name)
		buf.Write(nameJson)
		buf.WriteString(":")

		val := feat.Properties[name]
		if t, ok := val.(time.Time); ok {
			val = t.UTC().Format(ISOFormat)
		}
		valJson, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		buf.Write(valJson)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// GMLEncoder renders wfs:FeatureCollection documents. The member
// markup lives in data/templates/GML_FeatureMember.tpl and is
// rendered with jet; property values and geometry markup are
// escaped before they reach the template.
type GMLEncoder struct{}

func (e *GMLEncoder) Name() string        { return "GML" }
func (e *GMLEncoder) ContentType() string { return "text/xml; subtype=gml/3.1.1" }

type gmlProperty struct {
	Name  string
	Value string
}

type gmlFeatureData struct {
	TypeName    string
	ID          string
	Properties  []gmlProperty
	GeometryGML string
}

func (e *GMLEncoder) Encode(w io.Writer, ft *FeatureType, features <-chan *Feature) error {
	view := jet.NewSet(jet.SafeWriter(func(w io.Writer, b []byte) {
		w.Write(b)
	}), DataDir+"/templates", "/")

	template, err := view.GetTemplate("GML_FeatureMember.tpl")
	if err != nil {
		return fmt.Errorf("GML member template error: %v", err)
	}

	header := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<wfs:FeatureCollection xmlns:wfs="http://www.opengis.net/wfs" xmlns:gml="http://www.opengis.net/gml" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:ows="%s">
`, xmlEscape(ft.NameSpace))
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}

	for feat := range features {
		data := &gmlFeatureData{
			TypeName: ft.Name,
			ID:       xmlEscape(feat.ID),
		}
		for _, name := range propertyFields(ft, feat) {
			data.Properties = append(data.Properties, gmlProperty{
				Name:  name,
				Value: xmlEscape(formatPropertyValue(feat.Properties[name])),
			})
		}
		if feat.Geometry != nil {
			data.GeometryGML = GeometryGML(feat.Geometry)
		}

		vars := make(jet.VarMap)
		if err := template.Execute(w, vars, data); err != nil {
			return fmt.Errorf("GML member template error: %v", err)
		}
	}

	_, err = io.WriteString(w, "</wfs:FeatureCollection>\n")
	return err
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}

// GeometryGML renders a geometry as GML 3.1.1 markup.
func GeometryGML(g *Geometry) string {
	srsName := xmlEscape(g.CRS)

	posList := func(line [][]float64) string {
		parts := make([]string, 0, len(line)*2)
		for _, pt := range line {
			for _, v := range pt[:2] {
				parts = append(parts, trimFloat(v))
			}
		}
		return strings.Join(parts, " ")
	}
	polygon := func(rings [][][]float64) string {
		var buf bytes.Buffer
		buf.WriteString(fmt.Sprintf(`<gml:Polygon srsName="%s">`, srsName))
		for i, ring := range rings {
			boundary := "gml:exterior"
			if i > 0 {
				boundary = "gml:interior"
			}
			buf.WriteString(fmt.Sprintf("<%s><gml:LinearRing><gml:posList>%s</gml:posList></gml:LinearRing></%s>", boundary, posList(ring), boundary))
		}
		buf.WriteString("</gml:Polygon>")
		return buf.String()
	}

	switch g.Type {
	case "Point":
		if len(g.Coords) == 0 || len(g.Coords[0]) == 0 {
			return ""
		}
		return fmt.Sprintf(`<gml:Point srsName="%s"><gml:pos>%s</gml:pos></gml:Point>`, srsName, posList(g.Coords[0][:1]))
	case "LineString":
		if len(g.Coords) == 0 {
			return ""
		}
		return fmt.Sprintf(`<gml:LineString srsName="%s"><gml:posList>%s</gml:posList></gml:LineString>`, srsName, posList(g.Coords[0]))
	case "Polygon":
		return polygon(g.Coords)
	case "MultiPoint":
		if len(g.Coords) == 0 {
			return ""
		}
		var buf bytes.Buffer
		buf.WriteString(fmt.Sprintf(`<gml:MultiPoint srsName="%s">`, srsName))
		for _, pt := range g.Coords[0] {
			buf.WriteString(fmt.Sprintf("<gml:pointMember><gml:Point><gml:pos>%s</gml:pos></gml:Point></gml:pointMember>", posList([][]float64{pt})))
		}
		buf.WriteString("</gml:MultiPoint>")
		return buf.String()
	case "MultiLineString":
		var buf bytes.Buffer
		buf.WriteString(fmt.Sprintf(`<gml:MultiCurve srsName="%s">`, srsName))
		for _, line := range g.Coords {
			buf.WriteString(fmt.Sprintf("<gml:curveMember><gml:LineString><gml:posList>%s</gml:posList></gml:LineString></gml:curveMember>", posList(line)))
		}
		buf.WriteString("</gml:MultiCurve>")
		return buf.String()
	case "MultiPolygon":
		var buf bytes.Buffer
		buf.WriteString(fmt.Sprintf(`<gml:MultiSurface srsName="%s">`, srsName))
		for _, rings := range g.MultiCoords {
			buf.WriteString("<gml:surfaceMember>")
			buf.WriteString(polygon(rings))
			buf.WriteString("</gml:surfaceMember>")
		}
		buf.WriteString("</gml:MultiSurface>")
		return buf.String()
	}
	return ""
}

// CSVEncoder writes one row per feature with the geometry rendered
// as WKT. Multi-file formats are out of scope, so CSV is the only
// tabular output offered.
type CSVEncoder struct{}

func (e *CSVEncoder) Name() string        { return "CSV" }
func (e *CSVEncoder) ContentType() string { return "text/csv" }

func (e *CSVEncoder) Encode(w io.Writer, ft *FeatureType, features <-chan *Feature) error {
	cw := csv.NewWriter(w)

	var header []string
	wroteHeader := false
	writeHeader := func(feat *Feature) error {
		header = append([]string{"id"}, propertyFields(ft, feat)...)
		header = append(header, "geometry")
		wroteHeader = true
		return cw.Write(header)
	}

	if ft != nil && ft.HasSchema() {
		if err := writeHeader(nil); err != nil {
			return err
		}
	}

	for feat := range features {
		if !wroteHeader {
			if err := writeHeader(feat); err != nil {
				return err
			}
		}

		record := make([]string, 0, len(header))
		record = append(record, feat.ID)
		for _, name := range header[1 : len(header)-1] {
			record = append(record, formatPropertyValue(feat.Properties[name]))
		}
		if feat.Geometry != nil {
			record = append(record, feat.Geometry.ToWKT())
		} else {
			record = append(record, "")
		}

		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

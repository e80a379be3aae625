package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Geometry is the internal geometry representation attached to
// spatial predicates and feature records. Coordinates are kept in a
// uniform nesting so the encoders and the in-memory store do not
// need one case per geometry type:
//
//	Point                     Coords[0][0]
//	LineString, MultiPoint    Coords[0]
//	Polygon, MultiLineString  Coords
//	MultiPolygon              MultiCoords
//
// WKT keeps the original text so SQL stores can hand the geometry
// to the backend verbatim.
type Geometry struct {
	Type        string
	CRS         string
	Coords      [][][]float64
	MultiCoords [][][][]float64
	WKT         string
}

// BBox computes the envelope as minx, miny, maxx, maxy.
func (g *Geometry) BBox() [4]float64 {
	bbox := [4]float64{math.MaxFloat64, math.MaxFloat64, -math.MaxFloat64, -math.MaxFloat64}
	grow := func(pt []float64) {
		if len(pt) < 2 {
			return
		}
		if pt[0] < bbox[0] {
			bbox[0] = pt[0]
		}
		if pt[1] < bbox[1] {
			bbox[1] = pt[1]
		}
		if pt[0] > bbox[2] {
			bbox[2] = pt[0]
		}
		if pt[1] > bbox[3] {
			bbox[3] = pt[1]
		}
	}

	for _, ring := range g.Coords {
		for _, pt := range ring {
			grow(pt)
		}
	}
	for _, poly := range g.MultiCoords {
		for _, ring := range poly {
			for _, pt := range ring {
				grow(pt)
			}
		}
	}
	return bbox
}

// MarshalJSON renders the geometry as a GeoJSON geometry object.
func (g *Geometry) MarshalJSON() ([]byte, error) {
	var coords interface{}
	switch g.Type {
	case "Point":
		if len(g.Coords) == 0 || len(g.Coords[0]) == 0 {
			coords = []float64{}
		} else {
			coords = g.Coords[0][0]
		}
	case "LineString", "MultiPoint":
		if len(g.Coords) == 0 {
			coords = [][]float64{}
		} else {
			coords = g.Coords[0]
		}
	case "Polygon", "MultiLineString":
		coords = g.Coords
	case "MultiPolygon":
		coords = g.MultiCoords
	default:
		return nil, fmt.Errorf("unsupported geometry type: %v", g.Type)
	}

	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(struct {
		Type        string      `json:"type"`
		Coordinates interface{} `json:"coordinates"`
	}{g.Type, coords})
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalJSON accepts a GeoJSON geometry object, e.g. one produced
// by a SQL store's ST_AsGeoJSON.
func (g *Geometry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	g.Type = raw.Type
	g.Coords = nil
	g.MultiCoords = nil

	switch raw.Type {
	case "Point":
		var pt []float64
		if err := json.Unmarshal(raw.Coordinates, &pt); err != nil {
			return err
		}
		g.Coords = [][][]float64{{pt}}
	case "LineString", "MultiPoint":
		var line [][]float64
		if err := json.Unmarshal(raw.Coordinates, &line); err != nil {
			return err
		}
		g.Coords = [][][]float64{line}
	case "Polygon", "MultiLineString":
		if err := json.Unmarshal(raw.Coordinates, &g.Coords); err != nil {
			return err
		}
	case "MultiPolygon":
		if err := json.Unmarshal(raw.Coordinates, &g.MultiCoords); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported geometry type: %v", raw.Type)
	}
	return nil
}

// ToWKT renders the geometry as well-known text. The original text
// is reused when the geometry came from a WKT literal.
func (g *Geometry) ToWKT() string {
	if len(g.WKT) > 0 {
		return g.WKT
	}

	fmtPoint := func(pt []float64) string {
		parts := make([]string, len(pt))
		for i, v := range pt {
			parts[i] = trimFloat(v)
		}
		return strings.Join(parts, " ")
	}
	fmtLine := func(line [][]float64) string {
		parts := make([]string, len(line))
		for i, pt := range line {
			parts[i] = fmtPoint(pt)
		}
		return strings.Join(parts, ", ")
	}
	fmtRings := func(rings [][][]float64) string {
		parts := make([]string, len(rings))
		for i, ring := range rings {
			parts[i] = "(" + fmtLine(ring) + ")"
		}
		return strings.Join(parts, ", ")
	}

	switch g.Type {
	case "Point":
		if len(g.Coords) == 0 || len(g.Coords[0]) == 0 {
			return "POINT EMPTY"
		}
		return "POINT (" + fmtPoint(g.Coords[0][0]) + ")"
	case "LineString":
		if len(g.Coords) == 0 {
			return "LINESTRING EMPTY"
		}
		return "LINESTRING (" + fmtLine(g.Coords[0]) + ")"
	case "MultiPoint":
		if len(g.Coords) == 0 {
			return "MULTIPOINT EMPTY"
		}
		return "MULTIPOINT (" + fmtLine(g.Coords[0]) + ")"
	case "Polygon":
		return "POLYGON (" + fmtRings(g.Coords) + ")"
	case "MultiLineString":
		return "MULTILINESTRING (" + fmtRings(g.Coords) + ")"
	case "MultiPolygon":
		parts := make([]string, len(g.MultiCoords))
		for i, poly := range g.MultiCoords {
			parts[i] = "(" + fmtRings(poly) + ")"
		}
		return "MULTIPOLYGON (" + strings.Join(parts, ", ") + ")"
	}
	return ""
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%f", v)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if len(s) == 0 || s == "-" {
		s = "0"
	}
	return s
}

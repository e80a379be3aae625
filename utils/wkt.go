package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseWKT parses a well-known text geometry literal into the
// internal geometry model. An optional EWKT prefix "SRID=nnnn;"
// overrides nativeCRS; otherwise the geometry carries nativeCRS.
// Malformed input produces an InvalidGeometry error.
func ParseWKT(wkt, nativeCRS string) (*Geometry, error) {
	text := strings.TrimSpace(wkt)
	crs := nativeCRS

	if strings.HasPrefix(strings.ToUpper(text), "SRID=") {
		iSep := strings.Index(text, ";")
		if iSep < 0 {
			return nil, NewOWSError(ExcInvalidGeometry, "", "EWKT literal is missing ';' after SRID: %v", wkt)
		}
		srid := strings.TrimSpace(text[len("SRID="):iSep])
		if _, err := strconv.Atoi(srid); err != nil {
			return nil, NewOWSError(ExcInvalidGeometry, "", "invalid SRID in EWKT literal: %v", srid)
		}
		crs = "EPSG:" + srid
		text = strings.TrimSpace(text[iSep+1:])
	}

	p := &wktParser{input: text}
	geom, err := p.parseGeometry()
	if err != nil {
		return nil, NewOWSError(ExcInvalidGeometry, "", "%v", err)
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, NewOWSError(ExcInvalidGeometry, "", "trailing characters after geometry: %v", p.input[p.pos:])
	}

	geom.CRS = crs
	geom.WKT = text
	return geom, nil
}

type wktParser struct {
	input string
	pos   int
}

func (p *wktParser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t' || p.input[p.pos] == '\n' || p.input[p.pos] == '\r') {
		p.pos++
	}
}

func (p *wktParser) word() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			p.pos++
		} else {
			break
		}
	}
	return strings.ToUpper(p.input[start:p.pos])
}

func (p *wktParser) expect(c byte) error {
	p.skipSpace()
	if p.pos >= len(p.input) || p.input[p.pos] != c {
		return fmt.Errorf("expected %q at position %d", string(c), p.pos)
	}
	p.pos++
	return nil
}

func (p *wktParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *wktParser) number() (float64, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E' {
			p.pos++
		} else {
			break
		}
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected number at position %d", p.pos)
	}
	v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", p.input[start:p.pos])
	}
	return v, nil
}

// point parses "x y" with an optional third ordinate which is
// carried through unchanged.
func (p *wktParser) point() ([]float64, error) {
	x, err := p.number()
	if err != nil {
		return nil, err
	}
	y, err := p.number()
	if err != nil {
		return nil, err
	}
	pt := []float64{x, y}
	if c := p.peek(); c != ',' && c != ')' && c != 0 {
		z, err := p.number()
		if err != nil {
			return nil, err
		}
		pt = append(pt, z)
	}
	return pt, nil
}

func (p *wktParser) pointList() ([][]float64, error) {
	var pts [][]float64
	for {
		// MULTIPOINT allows each member point to carry its own parens
		parens := false
		if p.peek() == '(' {
			p.pos++
			parens = true
		}
		pt, err := p.point()
		if err != nil {
			return nil, err
		}
		if parens {
			if err := p.expect(')'); err != nil {
				return nil, err
			}
		}
		pts = append(pts, pt)
		if p.peek() != ',' {
			break
		}
		p.pos++
	}
	return pts, nil
}

func (p *wktParser) ringList() ([][][]float64, error) {
	var rings [][][]float64
	for {
		if err := p.expect('('); err != nil {
			return nil, err
		}
		ring, err := p.pointList()
		if err != nil {
			return nil, err
		}
		if err := p.expect(')'); err != nil {
			return nil, err
		}
		rings = append(rings, ring)
		if p.peek() != ',' {
			break
		}
		p.pos++
	}
	return rings, nil
}

func (p *wktParser) parseGeometry() (*Geometry, error) {
	tag := p.word()
	if len(tag) == 0 {
		return nil, fmt.Errorf("empty geometry text")
	}

	// optional dimension qualifier, e.g. "POINT Z (...)"
	if p.peek() != '(' {
		qual := p.word()
		if qual != "Z" && qual != "M" && qual != "ZM" && qual != "EMPTY" {
			return nil, fmt.Errorf("unexpected token %q after %v", qual, tag)
		}
		if qual == "EMPTY" {
			return emptyGeometry(tag)
		}
	}

	if err := p.expect('('); err != nil {
		return nil, err
	}

	geom := &Geometry{}
	switch tag {
	case "POINT":
		pt, err := p.point()
		if err != nil {
			return nil, err
		}
		geom.Type = "Point"
		geom.Coords = [][][]float64{{pt}}
	case "LINESTRING", "MULTIPOINT":
		pts, err := p.pointList()
		if err != nil {
			return nil, err
		}
		if tag == "LINESTRING" {
			if len(pts) < 2 {
				return nil, fmt.Errorf("LINESTRING requires at least 2 points")
			}
			geom.Type = "LineString"
		} else {
			geom.Type = "MultiPoint"
		}
		geom.Coords = [][][]float64{pts}
	case "POLYGON", "MULTILINESTRING":
		rings, err := p.ringList()
		if err != nil {
			return nil, err
		}
		if tag == "POLYGON" {
			for _, ring := range rings {
				if len(ring) < 4 {
					return nil, fmt.Errorf("POLYGON rings require at least 4 points")
				}
			}
			geom.Type = "Polygon"
		} else {
			geom.Type = "MultiLineString"
		}
		geom.Coords = rings
	case "MULTIPOLYGON":
		geom.Type = "MultiPolygon"
		for {
			if err := p.expect('('); err != nil {
				return nil, err
			}
			rings, err := p.ringList()
			if err != nil {
				return nil, err
			}
			if err := p.expect(')'); err != nil {
				return nil, err
			}
			geom.MultiCoords = append(geom.MultiCoords, rings)
			if p.peek() != ',' {
				break
			}
			p.pos++
		}
	default:
		return nil, fmt.Errorf("unsupported geometry type: %v", tag)
	}

	if err := p.expect(')'); err != nil {
		return nil, err
	}
	return geom, nil
}

func emptyGeometry(tag string) (*Geometry, error) {
	types := map[string]string{
		"POINT":           "Point",
		"LINESTRING":      "LineString",
		"POLYGON":         "Polygon",
		"MULTIPOINT":      "MultiPoint",
		"MULTILINESTRING": "MultiLineString",
		"MULTIPOLYGON":    "MultiPolygon",
	}
	t, found := types[tag]
	if !found {
		return nil, fmt.Errorf("unsupported geometry type: %v", tag)
	}
	return &Geometry{Type: t}, nil
}

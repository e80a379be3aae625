package utils

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Predicate node kinds.
const (
	NodeAll         = "all"
	NodeComparison  = "comparison"
	NodeSpatial     = "spatial"
	NodeConjunction = "conjunction"
	NodeNegation    = "negation"
)

// PredicateNode is the backend agnostic representation of a
// validated filter expression. Leaves are either comparisons or
// spatial predicates; interior nodes are conjunctions or negations.
// An "all" node matches every feature.
type PredicateNode struct {
	Type     string
	Field    string
	Operator string
	Value    interface{}
	Geometry *Geometry
	CRS      string
	Children []*PredicateNode
}

// LeafCount returns the number of comparison and spatial leaves in
// the tree.
func (n *PredicateNode) LeafCount() int {
	switch n.Type {
	case NodeComparison, NodeSpatial:
		return 1
	case NodeAll:
		return 0
	}
	count := 0
	for _, c := range n.Children {
		count += c.LeafCount()
	}
	return count
}

// Comparison operators valid per semantic type. Spatial operators
// are listed separately and only apply to geometry fields.
var comparisonOperators = map[string]map[string]bool{
	TypeString:   {"eq": true, "ne": true, "gt": true, "lt": true, "gte": true, "lte": true, "like": true},
	TypeInteger:  {"eq": true, "ne": true, "gt": true, "lt": true, "gte": true, "lte": true},
	TypeFloat:    {"eq": true, "ne": true, "gt": true, "lt": true, "gte": true, "lte": true},
	TypeDateTime: {"eq": true, "ne": true, "gt": true, "lt": true, "gte": true, "lte": true},
}

var spatialOperators = map[string]bool{
	"intersects": true,
	"within":     true,
	"contains":   true,
	"crosses":    true,
	"touches":    true,
	"disjoint":   true,
	"bbox":       true,
}

// SpatialOperators lists the supported spatial operator names.
func SpatialOperators() []string {
	ops := make([]string, 0, len(spatialOperators))
	for op := range spatialOperators {
		ops = append(ops, op)
	}
	return ops
}

// ParseFilterJSON decodes the wire form of a filter expression: a
// flat JSON object mapping "field" or "field__operator" keys to
// literals. json.Number is used so integer literals survive intact.
func ParseFilterJSON(query string) (map[string]interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(query))
	dec.UseNumber()

	var filter map[string]interface{}
	if err := dec.Decode(&filter); err != nil {
		return nil, NewOWSError(ExcInvalidParameter, "query", "filter is not a JSON object: %v", err)
	}
	return filter, nil
}

// TranslateFilter converts a decoded filter expression into a
// validated predicate tree for the given feature type. Every leaf
// field must exist in the schema and every operator must be valid
// for the field's semantic type. All leaves are combined with an
// implicit conjunction; an empty filter translates to a match-all
// node.
func TranslateFilter(filter map[string]interface{}, ft *FeatureType) (*PredicateNode, error) {
	if !ft.HasSchema() {
		return nil, NewOWSError(ExcSchemaUnavailable, "typeName", "no schema metadata configured for feature type %v", ft.Name)
	}

	if len(filter) == 0 {
		return &PredicateNode{Type: NodeAll}, nil
	}

	// Iterate keys in a stable order so error reporting and SQL
	// generation are deterministic.
	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var leaves []*PredicateNode
	for _, key := range keys {
		leaf, err := translateLeaf(key, filter[key], ft)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, leaf)
	}

	if len(leaves) == 1 {
		return leaves[0], nil
	}
	return &PredicateNode{Type: NodeConjunction, Children: leaves}, nil
}

func translateLeaf(key string, value interface{}, ft *FeatureType) (*PredicateNode, error) {
	fieldPath, operator, negated := splitFilterKey(key)

	if len(fieldPath) == 0 {
		return nil, NewOWSError(ExcInvalidParameter, "query", "empty field name in filter key %q", key)
	}

	// Single level field paths only. A remaining separator means a
	// nested or related field reference, which this service does not
	// support.
	if strings.Contains(fieldPath, "__") {
		return nil, NewOWSError(ExcUnsupportedFieldPath, "query", "nested field path %q is not supported", fieldPath)
	}

	field, found := ft.Field(fieldPath)
	if !found {
		return nil, NewOWSError(ExcUnsupportedFieldPath, "query", "field %q does not exist in feature type %v", fieldPath, ft.Name)
	}

	var leaf *PredicateNode
	var err error
	if spatialOperators[operator] {
		leaf, err = translateSpatialLeaf(field, operator, value)
	} else {
		leaf, err = translateComparisonLeaf(field, operator, value)
	}
	if err != nil {
		return nil, err
	}

	if negated {
		return &PredicateNode{Type: NodeNegation, Children: []*PredicateNode{leaf}}, nil
	}
	return leaf, nil
}

// splitFilterKey splits a "field__operator" key on its last "__"
// segment. The operator defaults to equality. A "not" segment just
// before the operator negates the leaf.
func splitFilterKey(key string) (string, string, bool) {
	fieldPath := key
	operator := "eq"

	iSep := strings.LastIndex(fieldPath, "__")
	if iSep >= 0 {
		candidate := fieldPath[iSep+2:]
		if isKnownOperator(candidate) {
			operator = candidate
			fieldPath = fieldPath[:iSep]
		}
	}

	negated := false
	if strings.HasSuffix(fieldPath, "__not") {
		negated = true
		fieldPath = fieldPath[:len(fieldPath)-len("__not")]
	}
	return fieldPath, operator, negated
}

func isKnownOperator(op string) bool {
	if spatialOperators[op] {
		return true
	}
	for _, ops := range comparisonOperators {
		if ops[op] {
			return true
		}
	}
	return false
}

func translateComparisonLeaf(field *FieldDef, operator string, value interface{}) (*PredicateNode, error) {
	if field.Type == TypeGeometry {
		// Equality on a geometry field is expressed as the "equals"
		// spatial predicate so the stores can evaluate it natively.
		// The operator is internal; it is not a valid filter key.
		if operator != "eq" && operator != "ne" {
			return nil, NewOWSError(ExcInvalidParameter, "query", "operator %q is not valid for geometry field %q; geometry fields accept eq, ne and the spatial operators %v", operator, field.Name, SpatialOperators())
		}
		leaf, err := translateSpatialLeaf(field, "equals", value)
		if err != nil {
			return nil, err
		}
		if operator == "ne" {
			return &PredicateNode{Type: NodeNegation, Children: []*PredicateNode{leaf}}, nil
		}
		return leaf, nil
	}

	ops, found := comparisonOperators[field.Type]
	if !found || !ops[operator] {
		return nil, NewOWSError(ExcInvalidParameter, "query", "operator %q is not valid for field %q of type %v", operator, field.Name, field.Type)
	}

	val, err := coerceLiteral(field, value)
	if err != nil {
		return nil, err
	}

	return &PredicateNode{Type: NodeComparison, Field: field.Name, Operator: operator, Value: val}, nil
}

func translateSpatialLeaf(field *FieldDef, operator string, value interface{}) (*PredicateNode, error) {
	if field.Type != TypeGeometry {
		return nil, NewOWSError(ExcInvalidParameter, "query", "spatial operator %q requires a geometry field, %q has type %v", operator, field.Name, field.Type)
	}

	wkt, ok := value.(string)
	if !ok {
		return nil, NewOWSError(ExcInvalidGeometry, "query", "spatial operator %q requires a WKT string literal for field %q", operator, field.Name)
	}

	geom, err := ParseWKT(wkt, field.CRS)
	if err != nil {
		return nil, err
	}

	return &PredicateNode{Type: NodeSpatial, Field: field.Name, Operator: operator, Geometry: geom, CRS: geom.CRS}, nil
}

// coerceLiteral checks a literal against the field's semantic type
// and normalizes it to the Go type the stores expect. Both JSON
// literals (string, json.Number) and native Go values produced by
// stored query substitution (int64, float64, time.Time) are
// accepted.
func coerceLiteral(field *FieldDef, value interface{}) (interface{}, error) {
	switch field.Type {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return nil, typeMismatch(field, value)
		}
		return s, nil
	case TypeInteger:
		switch v := value.(type) {
		case json.Number:
			i, err := v.Int64()
			if err != nil {
				return nil, NewOWSError(ExcInvalidParameter, "query", "field %q requires an integer literal, got %v", field.Name, v)
			}
			return i, nil
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case float64:
			if v != float64(int64(v)) {
				return nil, NewOWSError(ExcInvalidParameter, "query", "field %q requires an integer literal, got %v", field.Name, v)
			}
			return int64(v), nil
		}
		return nil, typeMismatch(field, value)
	case TypeFloat:
		switch v := value.(type) {
		case json.Number:
			f, err := v.Float64()
			if err != nil {
				return nil, typeMismatch(field, value)
			}
			return f, nil
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		case int:
			return float64(v), nil
		}
		return nil, typeMismatch(field, value)
	case TypeDateTime:
		switch v := value.(type) {
		case time.Time:
			return v.UTC(), nil
		case string:
			t, err := ParseTime(v)
			if err != nil {
				return nil, NewOWSError(ExcInvalidParameter, "query", "field %q: %v", field.Name, err)
			}
			return t, nil
		}
		return nil, typeMismatch(field, value)
	}
	return nil, NewOWSError(ExcInvalidParameter, "query", "field %q has unsupported type %v", field.Name, field.Type)
}

func typeMismatch(field *FieldDef, value interface{}) *OWSError {
	return NewOWSError(ExcInvalidParameter, "query", "literal %v is not compatible with field %q of type %v", value, field.Name, field.Type)
}

// Accepted time formats, most specific first. The ISO profile with
// milliseconds is the canonical one used in server output.
var timeFormats = []string{
	ISOFormat,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006.01.02-15:04:05",
	"2006.01.02",
}

// ParseTime parses a datetime literal against the accepted formats.
func ParseTime(s string) (time.Time, error) {
	for _, tf := range timeFormats {
		if t, err := time.Parse(tf, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("time data does not match any valid format: %v", s)
}


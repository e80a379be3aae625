package utils

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testRegistry(t *testing.T) *StoredQueryRegistry {
	t.Helper()
	reg := NewStoredQueryRegistry()

	err := reg.Register(&StoredQuery{
		Name:     "roadsByLanes",
		Title:    "Roads by lane count",
		TypeName: "roads",
		Parameters: []StoredQueryParam{
			{Name: "lanes", Type: TypeInteger},
			{Name: "minLength", Type: TypeFloat, Default: 0.0},
		},
		Filter: map[string]string{
			"lanes__gte":     "${lanes}",
			"length_km__gte": "${minLength}",
		},
	})
	if err != nil {
		t.Errorf("failed to register stored query: %v", err)
	}
	return reg
}

func TestStoredQueryRegistryBuiltin(t *testing.T) {
	reg := NewStoredQueryRegistry()
	queries := reg.List()
	if len(queries) != 1 || queries[0].Name != GetFeatureByIdName {
		t.Errorf("GetFeatureById should be registered out of the box: %v", queries)
	}
}

func TestStoredQueryResolveBuiltin(t *testing.T) {
	reg := NewStoredQueryRegistry()
	ft := testFeatureType()

	node, err := reg.Resolve(GetFeatureByIdName, map[string]string{"id": "roads.42"}, ft)
	if err != nil {
		t.Errorf("failed to resolve GetFeatureById: %v", err)
		return
	}
	if node.Type != NodeComparison || node.Field != "id" || node.Operator != "eq" {
		t.Errorf("unexpected predicate: %+v", node)
		return
	}
	if node.Value != "roads.42" {
		t.Errorf("unexpected literal: %v", node.Value)
	}
}

func TestStoredQueryResolveBuiltinIntegerID(t *testing.T) {
	reg := NewStoredQueryRegistry()
	ft := &FeatureType{
		Name:    "parcels",
		CRS:     "EPSG:4326",
		IDField: "gid",
		Fields: []FieldDef{
			{Name: "gid", Type: TypeInteger},
			{Name: "geom", Type: TypeGeometry, CRS: "EPSG:4326"},
		},
	}

	node, err := reg.Resolve(GetFeatureByIdName, map[string]string{"id": "42"}, ft)
	if err != nil {
		t.Errorf("failed to resolve GetFeatureById on an integer id field: %v", err)
		return
	}
	if node.Type != NodeComparison || node.Field != "gid" || node.Operator != "eq" {
		t.Errorf("unexpected predicate: %+v", node)
		return
	}
	if v, ok := node.Value.(int64); !ok || v != 42 {
		t.Errorf("id literal not converted to the field type: %v", node.Value)
		return
	}

	_, err = reg.Resolve(GetFeatureByIdName, map[string]string{"id": "forty-two"}, ft)
	if code := owsCode(t, err); code != ExcParameterTypeMismatch {
		t.Errorf("expected %v, got %v", ExcParameterTypeMismatch, code)
	}
}

func TestStoredQueryResolveExpression(t *testing.T) {
	reg := testRegistry(t)
	ft := testFeatureType()

	node, err := reg.Resolve("roadsByLanes", map[string]string{"lanes": "4"}, ft)
	if err != nil {
		t.Errorf("failed to resolve stored query: %v", err)
		return
	}

	if node.Type != NodeConjunction || len(node.Children) != 2 {
		t.Errorf("expected a 2-leaf conjunction, got %+v", node)
		return
	}
	// sorted key order: lanes__gte before length_km__gte
	if v, ok := node.Children[0].Value.(int64); !ok || v != 4 {
		t.Errorf("parameter not substituted as integer: %v", node.Children[0].Value)
		return
	}
	// minLength falls back to its default
	if v, ok := node.Children[1].Value.(float64); !ok || v != 0.0 {
		t.Errorf("default not applied: %v", node.Children[1].Value)
	}
}

func TestStoredQueryMissingParameter(t *testing.T) {
	reg := testRegistry(t)
	ft := testFeatureType()

	_, err := reg.Resolve("roadsByLanes", map[string]string{}, ft)
	if code := owsCode(t, err); code != ExcMissingParameter {
		t.Errorf("expected %v, got %v", ExcMissingParameter, code)
	}
}

func TestStoredQueryParameterTypeMismatch(t *testing.T) {
	reg := testRegistry(t)
	ft := testFeatureType()

	_, err := reg.Resolve("roadsByLanes", map[string]string{"lanes": "four"}, ft)
	if code := owsCode(t, err); code != ExcParameterTypeMismatch {
		t.Errorf("expected %v, got %v", ExcParameterTypeMismatch, code)
	}
}

func TestStoredQueryUnknown(t *testing.T) {
	reg := testRegistry(t)
	ft := testFeatureType()

	_, err := reg.Resolve("noSuchQuery", nil, ft)
	if code := owsCode(t, err); code != ExcUnknownStoredQuery {
		t.Errorf("expected %v, got %v", ExcUnknownStoredQuery, code)
	}

	_, err = reg.Describe("noSuchQuery")
	if code := owsCode(t, err); code != ExcUnknownStoredQuery {
		t.Errorf("expected %v, got %v", ExcUnknownStoredQuery, code)
	}
}

func TestStoredQueryRegisterValidation(t *testing.T) {
	reg := testRegistry(t)

	// duplicate name
	if err := reg.Register(&StoredQuery{Name: "roadsByLanes"}); err == nil {
		t.Errorf("duplicate registration should fail")
		return
	}

	// expression referencing an undeclared parameter
	err := reg.Register(&StoredQuery{
		Name:       "badQuery",
		Parameters: []StoredQueryParam{{Name: "a", Type: TypeString}},
		Filter:     map[string]string{"name__eq": "${b}"},
	})
	if err == nil {
		t.Errorf("undeclared parameter reference should fail at registration")
		return
	}

	// unsupported parameter type
	err = reg.Register(&StoredQuery{
		Name:       "badType",
		Parameters: []StoredQueryParam{{Name: "a", Type: "blob"}},
	})
	if err == nil {
		t.Errorf("unsupported parameter type should fail at registration")
	}
}

func TestStoredQueryGeometryParameter(t *testing.T) {
	reg := NewStoredQueryRegistry()
	err := reg.Register(&StoredQuery{
		Name:       "roadsNear",
		Parameters: []StoredQueryParam{{Name: "area", Type: TypeGeometry}},
		Filter:     map[string]string{"geom__intersects": "${area}"},
	})
	if err != nil {
		t.Errorf("failed to register stored query: %v", err)
		return
	}

	ft := testFeatureType()
	node, err := reg.Resolve("roadsNear", map[string]string{"area": "POLYGON ((0 0, 1 0, 1 1, 0 0))"}, ft)
	if err != nil {
		t.Errorf("failed to resolve stored query: %v", err)
		return
	}
	if node.Type != NodeSpatial || node.Geometry == nil {
		t.Errorf("unexpected predicate: %+v", node)
		return
	}

	_, err = reg.Resolve("roadsNear", map[string]string{"area": "not wkt"}, ft)
	if code := owsCode(t, err); code != ExcParameterTypeMismatch {
		t.Errorf("expected %v, got %v", ExcParameterTypeMismatch, code)
	}
}

func TestStoredQueryLoadFromYAML(t *testing.T) {
	doc := `name: roadsBuiltAfter
title: Roads built after a date
typename: roads
parameters:
  - name: since
    type: datetime
filter:
  built__gte: ${since}
`
	dir, err := ioutil.TempDir("", "storedquery")
	if err != nil {
		t.Errorf("failed to create temp dir: %v", err)
		return
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "roads_built_after.yaml")
	if err := ioutil.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Errorf("failed to write query file: %v", err)
		return
	}

	reg := NewStoredQueryRegistry()
	if err := reg.LoadQueryFile(path); err != nil {
		t.Errorf("failed to load query file: %v", err)
		return
	}

	ft := testFeatureType()
	node, err := reg.Resolve("roadsBuiltAfter", map[string]string{"since": "2010-01-01"}, ft)
	if err != nil {
		t.Errorf("failed to resolve stored query: %v", err)
		return
	}
	if node.Type != NodeComparison || node.Operator != "gte" {
		t.Errorf("unexpected predicate: %+v", node)
		return
	}
	if v, ok := node.Value.(time.Time); !ok || v.Year() != 2010 {
		t.Errorf("datetime parameter not converted: %v", node.Value)
	}
}

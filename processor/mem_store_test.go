package processor

import (
	"context"
	"testing"

	"github.com/nci/gows/utils"
)

func testCollection(t *testing.T) []*utils.Feature {
	t.Helper()

	mkGeom := func(wkt string) *utils.Geometry {
		geom, err := utils.ParseWKT(wkt, "EPSG:4326")
		if err != nil {
			t.Errorf("failed to parse geometry: %v", err)
			return nil
		}
		return geom
	}

	return []*utils.Feature{
		{
			ID:       "roads.1",
			Geometry: mkGeom("LINESTRING (0 0, 5 5)"),
			Properties: map[string]interface{}{
				"name": "highway 1", "lanes": int64(4), "length_km": 12.5,
			},
		},
		{
			ID:       "roads.2",
			Geometry: mkGeom("LINESTRING (20 20, 30 30)"),
			Properties: map[string]interface{}{
				"name": "back road", "lanes": int64(1), "length_km": 3.25,
			},
		},
		{
			ID:       "roads.3",
			Geometry: mkGeom("LINESTRING (1 1, 2 2)"),
			Properties: map[string]interface{}{
				"name": "high street", "lanes": int64(2), "length_km": 1.0,
			},
		},
	}
}

func queryMemStore(t *testing.T, store *MemStore, filter map[string]interface{}, maxFeatures, startIndex int) []*utils.Feature {
	t.Helper()
	ft := testFeatureType()

	node, err := utils.TranslateFilter(filter, ft)
	if err != nil {
		t.Errorf("failed to translate filter: %v", err)
		return nil
	}

	errChan := make(chan error, 10)
	out := store.Query(context.Background(), &GeoFeatureRequest{
		FeatureType: ft,
		Predicate:   node,
		MaxFeatures: maxFeatures,
		StartIndex:  startIndex,
	}, errChan)

	var features []*utils.Feature
	for feat := range out {
		features = append(features, feat)
	}

	select {
	case err := <-errChan:
		t.Errorf("query failed: %v", err)
		return nil
	default:
	}
	return features
}

func TestMemStoreComparisonQuery(t *testing.T) {
	store := NewMemStore()
	store.RegisterCollection("roads", testCollection(t))

	features := queryMemStore(t, store, map[string]interface{}{"lanes__gte": int64(2)}, 100, 0)
	if len(features) != 2 {
		t.Errorf("expected 2 features, got %d", len(features))
		return
	}
	// ordered by ID
	if features[0].ID != "roads.1" || features[1].ID != "roads.3" {
		t.Errorf("unexpected ordering: %v %v", features[0].ID, features[1].ID)
	}
}

func TestMemStoreLikeQuery(t *testing.T) {
	store := NewMemStore()
	store.RegisterCollection("roads", testCollection(t))

	features := queryMemStore(t, store, map[string]interface{}{"name__like": "high%"}, 100, 0)
	if len(features) != 2 {
		t.Errorf("expected 2 features, got %d", len(features))
	}
}

func TestMemStoreNegationQuery(t *testing.T) {
	store := NewMemStore()
	store.RegisterCollection("roads", testCollection(t))

	features := queryMemStore(t, store, map[string]interface{}{"lanes__not__eq": int64(4)}, 100, 0)
	if len(features) != 2 {
		t.Errorf("expected 2 features, got %d", len(features))
		return
	}
	for _, feat := range features {
		if feat.Properties["lanes"] == int64(4) {
			t.Errorf("negation not applied: %v", feat.ID)
		}
	}
}

func TestMemStoreSpatialQuery(t *testing.T) {
	store := NewMemStore()
	store.RegisterCollection("roads", testCollection(t))

	features := queryMemStore(t, store, map[string]interface{}{
		"geom__intersects": "POLYGON ((0 0, 10 0, 10 10, 0 10, 0 0))",
	}, 100, 0)
	if len(features) != 2 {
		t.Errorf("expected 2 features inside the box, got %d", len(features))
		return
	}

	features = queryMemStore(t, store, map[string]interface{}{
		"geom__disjoint": "POLYGON ((0 0, 10 0, 10 10, 0 10, 0 0))",
	}, 100, 0)
	if len(features) != 1 || features[0].ID != "roads.2" {
		t.Errorf("unexpected disjoint result: %v", features)
	}
}

func TestMemStoreGeometryEquality(t *testing.T) {
	store := NewMemStore()
	store.RegisterCollection("roads", testCollection(t))

	features := queryMemStore(t, store, map[string]interface{}{
		"geom__eq": "LINESTRING (1 1, 2 2)",
	}, 100, 0)
	if len(features) != 1 || features[0].ID != "roads.3" {
		t.Errorf("unexpected equality result: %v", features)
		return
	}

	features = queryMemStore(t, store, map[string]interface{}{
		"geom__ne": "LINESTRING (1 1, 2 2)",
	}, 100, 0)
	if len(features) != 2 {
		t.Errorf("expected 2 features from inequality, got %d", len(features))
	}
}

func TestMemStorePaging(t *testing.T) {
	store := NewMemStore()
	store.RegisterCollection("roads", testCollection(t))

	page1 := queryMemStore(t, store, nil, 2, 0)
	page2 := queryMemStore(t, store, nil, 2, 2)
	if len(page1) != 2 || len(page2) != 1 {
		t.Errorf("unexpected page sizes: %d %d", len(page1), len(page2))
		return
	}
	if page1[0].ID != "roads.1" || page1[1].ID != "roads.2" || page2[0].ID != "roads.3" {
		t.Errorf("unexpected page contents: %v %v %v", page1[0].ID, page1[1].ID, page2[0].ID)
	}
}

func TestMemStoreUnknownCollection(t *testing.T) {
	store := NewMemStore()
	ft := testFeatureType()

	node, err := utils.TranslateFilter(nil, ft)
	if err != nil {
		t.Errorf("failed to translate filter: %v", err)
		return
	}

	errChan := make(chan error, 10)
	out := store.Query(context.Background(), &GeoFeatureRequest{
		FeatureType: ft,
		Predicate:   node,
		MaxFeatures: 10,
	}, errChan)
	for range out {
	}

	err = <-errChan
	owsErr, ok := err.(*utils.OWSError)
	if !ok || owsErr.Code != utils.ExcStoreUnavailable {
		t.Errorf("expected %v, got %v", utils.ExcStoreUnavailable, err)
	}
}

func TestEvalPredicateNullSemantics(t *testing.T) {
	feat := &utils.Feature{ID: "x", Properties: map[string]interface{}{"lanes": nil}}
	ft := testFeatureType()

	node, err := utils.TranslateFilter(map[string]interface{}{"lanes__eq": int64(1)}, ft)
	if err != nil {
		t.Errorf("failed to translate filter: %v", err)
		return
	}

	match, err := EvalPredicate(node, feat)
	if err != nil {
		t.Errorf("eval failed: %v", err)
		return
	}
	if match {
		t.Errorf("null should never satisfy a comparison")
	}
}

func TestMatchLike(t *testing.T) {
	cases := []struct {
		pattern string
		input   string
		want    bool
	}{
		{"high%", "highway 1", true},
		{"high%", "back road", false},
		{"%road%", "back road", true},
		{"_igh%", "highway 1", true},
		{"high", "highway 1", false},
		{"a.c", "abc", false},
	}
	for _, c := range cases {
		if got := matchLike(c.pattern, c.input); got != c.want {
			t.Errorf("matchLike(%q, %q) = %v, want %v", c.pattern, c.input, got, c.want)
		}
	}
}

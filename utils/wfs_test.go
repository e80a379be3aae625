package utils

import (
	"testing"
)

func TestWFSParamsChecker(t *testing.T) {
	compREMap := CompileWFSRegexMap()

	params := map[string][]string{
		"service":      {"wfs"},
		"request":      {"getfeature"},
		"version":      {"2.0.0"},
		"typeName":     {"roads"},
		"outputFormat": {"GeoJSON"},
		"maxFeatures":  {"50"},
		"startIndex":   {"10"},
		"bbox":         {"140.0,-40.0,150.0,-30.0"},
	}

	wfsParams, err := WFSParamsChecker(params, compREMap)
	if err != nil {
		t.Errorf("checker failed: %v", err)
		return
	}

	if wfsParams.Request == nil || *wfsParams.Request != "GetFeature" {
		t.Errorf("operation name not canonicalised: %v", wfsParams.Request)
		return
	}
	if wfsParams.TypeName == nil || *wfsParams.TypeName != "roads" {
		t.Errorf("typeName not parsed: %v", wfsParams.TypeName)
		return
	}
	if wfsParams.MaxFeatures == nil || *wfsParams.MaxFeatures != 50 {
		t.Errorf("maxFeatures not parsed: %v", wfsParams.MaxFeatures)
		return
	}
	if wfsParams.StartIndex == nil || *wfsParams.StartIndex != 10 {
		t.Errorf("startIndex not parsed: %v", wfsParams.StartIndex)
		return
	}
	if len(wfsParams.BBox) != 4 || wfsParams.BBox[2] != 150.0 {
		t.Errorf("bbox not parsed: %v", wfsParams.BBox)
	}
}

func TestWFSParamsCheckerAliases(t *testing.T) {
	compREMap := CompileWFSRegexMap()

	params := map[string][]string{
		"service":   {"WFS"},
		"request":   {"GetFeature"},
		"typeNames": {"roads"},
		"count":     {"25"},
	}

	wfsParams, err := WFSParamsChecker(params, compREMap)
	if err != nil {
		t.Errorf("checker failed: %v", err)
		return
	}
	if wfsParams.TypeName == nil || *wfsParams.TypeName != "roads" {
		t.Errorf("typeNames alias not honoured: %v", wfsParams.TypeName)
		return
	}
	if wfsParams.MaxFeatures == nil || *wfsParams.MaxFeatures != 25 {
		t.Errorf("count alias not honoured: %v", wfsParams.MaxFeatures)
	}
}

func TestWFSParamsCheckerConflictingQuery(t *testing.T) {
	compREMap := CompileWFSRegexMap()

	params := map[string][]string{
		"service":     {"WFS"},
		"request":     {"GetFeature"},
		"typeName":    {"roads"},
		"query":       {`{"name__eq": "x"}`},
		"storedQuery": {GetFeatureByIdName},
		"id":          {"roads.1"},
	}

	_, err := WFSParamsChecker(params, compREMap)
	if err == nil {
		t.Errorf("expected conflicting query specification error")
		return
	}
	owsErr, ok := err.(*OWSError)
	if !ok || owsErr.Code != ExcConflictingQuery {
		t.Errorf("expected %v, got %v", ExcConflictingQuery, err)
	}
}

func TestWFSParamsCheckerStoredQueryParams(t *testing.T) {
	compREMap := CompileWFSRegexMap()

	params := map[string][]string{
		"service":        {"WFS"},
		"request":        {"GetFeature"},
		"typeName":       {"roads"},
		"storedquery_id": {"roadsByLanes"},
		"lanes":          {"4"},
	}

	wfsParams, err := WFSParamsChecker(params, compREMap)
	if err != nil {
		t.Errorf("checker failed: %v", err)
		return
	}
	if wfsParams.StoredQueryID == nil || *wfsParams.StoredQueryID != "roadsByLanes" {
		t.Errorf("storedquery_id alias not honoured: %v", wfsParams.StoredQueryID)
		return
	}
	if wfsParams.StoredQueryParams["lanes"] != "4" {
		t.Errorf("leftover params should become stored query params: %v", wfsParams.StoredQueryParams)
	}
}

func TestWFSParamsCheckerInvalidValues(t *testing.T) {
	compREMap := CompileWFSRegexMap()

	cases := []map[string][]string{
		{"service": {"WXS"}},
		{"service": {"WFS"}, "request": {"GetTile"}},
		{"service": {"WFS"}, "request": {"GetFeature"}, "maxFeatures": {"-1"}},
		{"service": {"WFS"}, "request": {"GetFeature"}, "startIndex": {"abc"}},
		{"service": {"WFS"}, "request": {"GetFeature"}, "typeName": {"roads,rivers"}},
		{"service": {"WFS"}, "request": {"GetFeature"}, "bbox": {"1,2,3"}},
	}

	for i, params := range cases {
		if _, err := WFSParamsChecker(params, compREMap); err == nil {
			t.Errorf("case %d: expected a validation error", i)
		}
	}
}

func TestCanonicalWFSOperation(t *testing.T) {
	op, found := CanonicalWFSOperation("describefeaturetype")
	if !found || op != "DescribeFeatureType" {
		t.Errorf("case folding failed: %v %v", op, found)
		return
	}
	if _, found := CanonicalWFSOperation("GetTile"); found {
		t.Errorf("unknown operation should not resolve")
	}
}

func TestParseQueryCaseRules(t *testing.T) {
	values, err := ParseQuery("SERVICE=WFS&Request=GetFeature&typeName=roads&QUERY=%7B%22name__eq%22%3A%22x%22%7D")
	if err != nil {
		t.Errorf("failed to parse query: %v", err)
		return
	}

	// protocol keys fold to lower case, operation keys keep case
	if _, found := values["service"]; !found {
		t.Errorf("service key not folded: %v", values)
		return
	}
	if _, found := values["request"]; !found {
		t.Errorf("request key not folded: %v", values)
		return
	}
	if _, found := values["typeName"]; !found {
		t.Errorf("typeName key should keep its case: %v", values)
		return
	}
	if _, found := values["QUERY"]; !found {
		t.Errorf("QUERY key should keep its case: %v", values)
	}
}

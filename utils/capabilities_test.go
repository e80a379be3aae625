package utils

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"
)

func useRepoTemplates(t *testing.T) func() {
	t.Helper()
	prevDataDir := DataDir
	DataDir = "../data"
	return func() { DataDir = prevDataDir }
}

func testConfig() *Config {
	conf := &Config{
		ServiceConfig: ServiceConfig{
			OWSHostname: "gows.example.com",
			Title:       "Road network",
			Abstract:    "Road features for testing",
			Keywords:    []string{"roads", "transport"},
		},
		FeatureTypes: []FeatureType{*testFeatureType()},
	}
	conf.FeatureTypes[0].Title = "Roads"
	conf.FeatureTypes[0].Extent = []float64{140.0, -40.0, 150.0, -30.0}
	conf.StoredQueries = NewStoredQueryRegistry()
	return conf
}

func TestBuildWFSCapabilities(t *testing.T) {
	defer useRepoTemplates(t)()
	conf := testConfig()

	doc, err := BuildWFSCapabilities(conf, []string{"GeoJSON", "GML", "CSV"})
	if err != nil {
		t.Errorf("failed to build capabilities: %v", err)
		return
	}

	out := string(doc)
	for _, want := range []string{
		"<ows:Title>Road network</ows:Title>",
		"<wfs:Name>roads</wfs:Name>",
		`<ows:Operation name="GetFeature">`,
		`<ows:Operation name="ListStoredQueries">`,
		"<ows:Value>GeoJSON</ows:Value>",
		"gows.example.com/ows",
		"<ows:LowerCorner>140 -40</ows:LowerCorner>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("capabilities missing %q:\n%s", want, out)
			return
		}
	}
}

func TestBuildWFSCapabilitiesDeterministic(t *testing.T) {
	defer useRepoTemplates(t)()
	conf := testConfig()

	doc1, err := BuildWFSCapabilities(conf, []string{"GeoJSON"})
	if err != nil {
		t.Errorf("failed to build capabilities: %v", err)
		return
	}
	doc2, err := BuildWFSCapabilities(conf, []string{"GeoJSON"})
	if err != nil {
		t.Errorf("failed to build capabilities: %v", err)
		return
	}
	if !bytes.Equal(doc1, doc2) {
		t.Errorf("capabilities should be byte identical for the same config")
	}
}

func TestBuildSchemaDocument(t *testing.T) {
	defer useRepoTemplates(t)()

	ft := testFeatureType()
	ft.NameSpace = "http://example.com/ows"
	doc, err := BuildSchemaDocument(ft)
	if err != nil {
		t.Errorf("failed to build schema document: %v", err)
		return
	}

	out := string(doc)
	for _, want := range []string{
		`<xsd:element name="lanes" type="xsd:long"`,
		`<xsd:element name="length_km" type="xsd:double"`,
		`<xsd:element name="built" type="xsd:dateTime"`,
		`<xsd:element name="geom" type="gml:GeometryPropertyType"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("schema missing %q:\n%s", want, out)
			return
		}
	}
}

func TestBuildSchemaDocumentNoSchema(t *testing.T) {
	defer useRepoTemplates(t)()

	ft := &FeatureType{Name: "bare"}
	_, err := BuildSchemaDocument(ft)
	if code := owsCode(t, err); code != ExcSchemaUnavailable {
		t.Errorf("expected %v, got %v", ExcSchemaUnavailable, code)
	}
}

func TestWriteServiceExceptionEscapesInput(t *testing.T) {
	defer useRepoTemplates(t)()

	w := httptest.NewRecorder()
	WriteServiceException(w, NewOWSError(ExcInvalidGeometry, "query", `malformed WKT: "<wkt & junk>"`))

	if w.Code != 400 {
		t.Errorf("unexpected status: %v", w.Code)
		return
	}

	body := w.Body.String()
	if strings.Contains(body, "<wkt") {
		t.Errorf("client input not escaped:\n%s", body)
		return
	}
	for _, want := range []string{
		`exceptionCode="InvalidGeometry"`,
		"&lt;wkt &amp; junk&gt;",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exception report missing %q:\n%s", want, body)
			return
		}
	}
}

func TestBuildStoredQueryDocuments(t *testing.T) {
	defer useRepoTemplates(t)()
	conf := testConfig()
	conf.StoredQueries.Register(&StoredQuery{
		Name:     "roadsByLanes",
		Title:    "Roads by lane count",
		TypeName: "roads",
		Parameters: []StoredQueryParam{
			{Name: "lanes", Type: TypeInteger, Title: "Lane count"},
		},
		Filter: map[string]string{"lanes__eq": "${lanes}"},
	})

	listDoc, err := BuildStoredQueryList(conf)
	if err != nil {
		t.Errorf("failed to build stored query list: %v", err)
		return
	}
	if !strings.Contains(string(listDoc), GetFeatureByIdName) {
		t.Errorf("list should include the builtin query:\n%s", listDoc)
		return
	}
	if !strings.Contains(string(listDoc), `<wfs:StoredQuery id="roadsByLanes">`) {
		t.Errorf("list missing registered query:\n%s", listDoc)
		return
	}

	descDoc, err := BuildStoredQueryDescriptions(conf, []string{"roadsByLanes"})
	if err != nil {
		t.Errorf("failed to build stored query descriptions: %v", err)
		return
	}
	out := string(descDoc)
	if !strings.Contains(out, `<wfs:Parameter name="lanes" type="integer">`) {
		t.Errorf("description missing parameter:\n%s", out)
		return
	}
	if strings.Contains(out, GetFeatureByIdName) {
		t.Errorf("description should only cover the requested query:\n%s", out)
		return
	}

	_, err = BuildStoredQueryDescriptions(conf, []string{"noSuchQuery"})
	if code := owsCode(t, err); code != ExcUnknownStoredQuery {
		t.Errorf("expected %v, got %v", ExcUnknownStoredQuery, code)
	}
}

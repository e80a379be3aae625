package utils

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"text/template"
)

func ExecuteWriteTemplateFile(w io.Writer, data interface{}, filePath string) error {
	// General template compilation, execution and writing in to
	// a stream.
	tplStr, err := ioutil.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("Error trying to read %s file: %v", filePath, err)
	}
	tpl, err := template.New("template").Parse(string(tplStr))
	if err != nil {
		return fmt.Errorf("Error trying to parse template document: %v", err)
	}
	err = tpl.Execute(w, data)
	if err != nil {
		return fmt.Errorf("Error executing template: %v\n", err)
	}

	return nil
}

// CapabilitiesData is the view rendered by the GetCapabilities
// templates. Everything it references is read-only configuration
// state, so rendering is deterministic for a given config.
type CapabilitiesData struct {
	Conf          *Config
	OutputFormats []string
	Operations    []string
}

// BuildWFSCapabilities renders the WFS GetCapabilities document for
// a per-request copy of the configuration.
func BuildWFSCapabilities(conf *Config, outputFormats []string) ([]byte, error) {
	data := &CapabilitiesData{
		Conf:          conf,
		OutputFormats: outputFormats,
		Operations:    WFSOperations,
	}

	var buf bytes.Buffer
	err := ExecuteWriteTemplateFile(&buf, data, DataDir+"/templates/WFS_GetCapabilities.tpl")
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SchemaElement is one field of a DescribeFeatureType response.
type SchemaElement struct {
	Name     string
	XSDType  string
	Nillable bool
	CRS      string
}

type SchemaDocData struct {
	FeatureType *FeatureType
	Elements    []SchemaElement
}

var xsdTypes = map[string]string{
	TypeString:   "xsd:string",
	TypeInteger:  "xsd:long",
	TypeFloat:    "xsd:double",
	TypeDateTime: "xsd:dateTime",
	TypeGeometry: "gml:GeometryPropertyType",
}

// BuildSchemaDocument renders the DescribeFeatureType XSD for one
// feature type. Feature types configured without field metadata
// cannot be described; schema introspection is a capability of the
// backing store and is not guaranteed for every store.
func BuildSchemaDocument(ft *FeatureType) ([]byte, error) {
	if !ft.HasSchema() {
		return nil, NewOWSError(ExcSchemaUnavailable, "typeName", "no schema metadata configured for feature type %v", ft.Name)
	}

	data := &SchemaDocData{FeatureType: ft}
	for _, field := range ft.Fields {
		xsdType, found := xsdTypes[field.Type]
		if !found {
			return nil, fmt.Errorf("field %v has no XSD mapping for type %v", field.Name, field.Type)
		}
		elem := SchemaElement{Name: field.Name, XSDType: xsdType, Nillable: field.Nullable}
		if field.Type == TypeGeometry {
			elem.CRS = field.CRS
		}
		data.Elements = append(data.Elements, elem)
	}

	var buf bytes.Buffer
	err := ExecuteWriteTemplateFile(&buf, data, DataDir+"/templates/WFS_DescribeFeatureType.tpl")
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildStoredQueryList renders the ListStoredQueries response.
func BuildStoredQueryList(conf *Config) ([]byte, error) {
	var buf bytes.Buffer
	err := ExecuteWriteTemplateFile(&buf, conf, DataDir+"/templates/WFS_ListStoredQueries.tpl")
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildStoredQueryDescriptions renders the DescribeStoredQueries
// response for the named queries, or for every registered query
// when names is empty.
func BuildStoredQueryDescriptions(conf *Config, names []string) ([]byte, error) {
	var queries []*StoredQuery
	if len(names) == 0 {
		queries = conf.StoredQueries.List()
	} else {
		for _, name := range names {
			sq, err := conf.StoredQueries.Describe(name)
			if err != nil {
				return nil, err
			}
			queries = append(queries, sq)
		}
	}

	data := struct {
		Conf    *Config
		Queries []*StoredQuery
	}{conf, queries}

	var buf bytes.Buffer
	err := ExecuteWriteTemplateFile(&buf, data, DataDir+"/templates/WFS_DescribeStoredQueries.tpl")
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildWMSCapabilities renders the WMS GetCapabilities analogue for
// the same feature types.
func BuildWMSCapabilities(conf *Config) ([]byte, error) {
	var buf bytes.Buffer
	err := ExecuteWriteTemplateFile(&buf, conf, DataDir+"/templates/WMS_GetCapabilities.tpl")
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteServiceException renders an OGC ExceptionReport for the
// error and writes it with the matching HTTP status.
func WriteServiceException(w http.ResponseWriter, owsErr *OWSError) {
	// Error messages echo client input, e.g. malformed WKT literals,
	// so the fields are escaped before they enter the XML report.
	escaped := &OWSError{
		Code:    owsErr.Code,
		Locator: xmlEscape(owsErr.Locator),
		Message: xmlEscape(owsErr.Message),
	}

	var buf bytes.Buffer
	err := ExecuteWriteTemplateFile(&buf, escaped, DataDir+"/templates/WFS_ServiceException.tpl")
	if err != nil {
		http.Error(w, owsErr.Error(), owsErr.HTTPStatus())
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(owsErr.HTTPStatus())
	w.Write(buf.Bytes())
}

package utils

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Canonical WFS operation names, matched case-insensitively on the
// request parameter.
var WFSOperations = []string{
	"GetCapabilities",
	"DescribeFeatureType",
	"GetFeature",
	"ListStoredQueries",
	"DescribeStoredQueries",
}

// WFSParams contains the serialised version of the parameters
// contained in a WFS request.
type WFSParams struct {
	Service      *string   `json:"service,omitempty"`
	Request      *string   `json:"request,omitempty"`
	Version      *string   `json:"version,omitempty"`
	TypeName     *string   `json:"typename,omitempty"`
	OutputFormat *string   `json:"outputformat,omitempty"`
	MaxFeatures  *int      `json:"maxfeatures,omitempty"`
	StartIndex   *int      `json:"startindex,omitempty"`
	BBox         []float64 `json:"bbox,omitempty"`

	Query             *string           `json:"-"`
	StoredQueryID     *string           `json:"-"`
	StoredQueryParams map[string]string `json:"-"`
}

// WFSRegexpMap maps WFS request parameters to regular expressions
// for doing validation when parsing.
var WFSRegexpMap = map[string]string{"service": `^(?i)WFS$`,
	"request":      `^(?i)(?:GetCapabilities|DescribeFeatureType|GetFeature|ListStoredQueries|DescribeStoredQueries)$`,
	"typename":     `^[A-Za-z_][A-Za-z0-9_:.-]*$`,
	"maxfeatures":  `^[0-9]+$`,
	"startindex":   `^[0-9]+$`,
	"bbox":         `^[-+]?[0-9]*\.?[0-9]*([eE][-+]?[0-9]+)?(,[-+]?[0-9]*\.?[0-9]*([eE][-+]?[0-9]+)?){3}$`,
	"outputformat": `^[^"\\]+$`,
}

func CompileWFSRegexMap() map[string]*regexp.Regexp {
	REMap := make(map[string]*regexp.Regexp)
	for key, re := range WFSRegexpMap {
		REMap[key] = regexp.MustCompile(re)
	}

	return REMap
}

func CheckWFSVersion(version string) bool {
	return version == "2.0.0" || version == "1.1.0" || version == "1.0.0"
}

// CanonicalWFSOperation folds an operation name to its canonical
// spelling, or returns false when the operation is unknown.
func CanonicalWFSOperation(request string) (string, bool) {
	for _, op := range WFSOperations {
		if strings.EqualFold(op, request) {
			return op, true
		}
	}
	return "", false
}

// Request parameters consumed by the dispatcher itself. Anything
// else on a stored query invocation is a stored query parameter.
var reservedWFSParams = map[string]bool{
	"service": true, "request": true, "version": true,
	"typeName": true, "outputFormat": true, "maxFeatures": true,
	"count": true, "startIndex": true, "bbox": true,
	"query": true, "storedQuery": true, "storedquery_id": true,
}

// WFSParamsChecker checks and marshals the content of the
// parameters of a WFS request into a WFSParams struct. Validation
// failures are returned as client-facing OWS errors.
func WFSParamsChecker(params map[string][]string, compREMap map[string]*regexp.Regexp) (WFSParams, error) {
	var wfsParams WFSParams

	jsonFields := []string{}

	if service, serviceOK := params["service"]; serviceOK {
		if !compREMap["service"].MatchString(service[0]) {
			return wfsParams, NewOWSError(ExcInvalidParameter, "service", "unexpected service: %v", service[0])
		}
		jsonFields = append(jsonFields, `"service":"WFS"`)
	}

	if version, versionOK := params["version"]; versionOK {
		jsonFields = append(jsonFields, fmt.Sprintf(`"version":"%s"`, version[0]))
	}

	if request, requestOK := params["request"]; requestOK {
		op, found := CanonicalWFSOperation(request[0])
		if !found {
			return wfsParams, NewOWSError(ExcUnknownOperation, "request", "%v is not a supported WFS operation", request[0])
		}
		jsonFields = append(jsonFields, fmt.Sprintf(`"request":"%s"`, op))
	}

	// WFS 2.0 names the parameter typeNames; accept both spellings.
	if value, ok := params["typeNames"]; ok {
		params["typeName"] = value
		delete(params, "typeNames")
	}

	if typeName, typeNameOK := params["typeName"]; typeNameOK {
		if !compREMap["typename"].MatchString(typeName[0]) {
			return wfsParams, NewOWSError(ExcInvalidParameter, "typeName", "malformed type name: %v", typeName[0])
		}
		if strings.Contains(typeName[0], ",") {
			return wfsParams, NewOWSError(ExcInvalidParameter, "typeName", "multiple type names are not supported: %v", typeName[0])
		}
		jsonFields = append(jsonFields, fmt.Sprintf(`"typename":"%s"`, typeName[0]))
	}

	if outputFormat, outputFormatOK := params["outputFormat"]; outputFormatOK {
		if !compREMap["outputformat"].MatchString(outputFormat[0]) {
			return wfsParams, NewOWSError(ExcInvalidParameter, "outputFormat", "malformed output format: %v", outputFormat[0])
		}
		jsonFields = append(jsonFields, fmt.Sprintf(`"outputformat":"%s"`, outputFormat[0]))
	}

	// count is the WFS 2.0 spelling of maxFeatures
	if value, ok := params["count"]; ok {
		if _, found := params["maxFeatures"]; !found {
			params["maxFeatures"] = value
		}
	}

	if maxFeatures, maxFeaturesOK := params["maxFeatures"]; maxFeaturesOK {
		if !compREMap["maxfeatures"].MatchString(maxFeatures[0]) {
			return wfsParams, NewOWSError(ExcInvalidParameter, "maxFeatures", "maxFeatures must be a non-negative integer: %v", maxFeatures[0])
		}
		jsonFields = append(jsonFields, fmt.Sprintf(`"maxfeatures":%s`, maxFeatures[0]))
	}

	if startIndex, startIndexOK := params["startIndex"]; startIndexOK {
		if !compREMap["startindex"].MatchString(startIndex[0]) {
			return wfsParams, NewOWSError(ExcInvalidParameter, "startIndex", "startIndex must be a non-negative integer: %v", startIndex[0])
		}
		jsonFields = append(jsonFields, fmt.Sprintf(`"startindex":%s`, startIndex[0]))
	}

	if bbox, bboxOK := params["bbox"]; bboxOK {
		if !compREMap["bbox"].MatchString(bbox[0]) {
			return wfsParams, NewOWSError(ExcInvalidParameter, "bbox", "bbox must be minx,miny,maxx,maxy: %v", bbox[0])
		}
		jsonFields = append(jsonFields, fmt.Sprintf(`"bbox":[%s]`, bbox[0]))
	}

	jsonParams := fmt.Sprintf("{%s}", strings.Join(jsonFields, ","))
	err := json.Unmarshal([]byte(jsonParams), &wfsParams)
	if err != nil {
		return wfsParams, err
	}

	if query, queryOK := params["query"]; queryOK {
		wfsParams.Query = &query[0]
	}

	var storedQuery []string
	if _storedQuery, ok := params["storedQuery"]; ok {
		storedQuery = _storedQuery
	} else if _storedQueryID, ok := params["storedquery_id"]; ok {
		storedQuery = _storedQueryID
	}
	if len(storedQuery) > 0 {
		wfsParams.StoredQueryID = &storedQuery[0]

		wfsParams.StoredQueryParams = make(map[string]string)
		for key, val := range params {
			if reservedWFSParams[key] || len(val) == 0 {
				continue
			}
			wfsParams.StoredQueryParams[key] = val[0]
		}
	}

	// An ad hoc filter and a stored query are mutually exclusive
	// ways of specifying the query.
	if wfsParams.Query != nil && wfsParams.StoredQueryID != nil {
		return wfsParams, NewOWSError(ExcConflictingQuery, "query",
			"the query and storedQuery parameters are mutually exclusive")
	}

	return wfsParams, nil
}

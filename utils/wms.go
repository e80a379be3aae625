package utils

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	geo "github.com/nci/geometry"
)

// WMS operations served against the same feature types as WFS.
var WMSOperations = []string{
	"GetCapabilities",
	"GetFeatureInfo",
	"GetMap",
}

// WMSParams contains the serialised version of the parameters
// contained in a WMS request.
type WMSParams struct {
	Service *string   `json:"service,omitempty"`
	Request *string   `json:"request,omitempty"`
	Version *string   `json:"version,omitempty"`
	CRS     *string   `json:"crs,omitempty"`
	BBox    []float64 `json:"bbox,omitempty"`
	X       *int      `json:"x,omitempty"`
	Y       *int      `json:"y,omitempty"`
	Height  *int      `json:"height,omitempty"`
	Width   *int      `json:"width,omitempty"`
	Layers  []string  `json:"layers,omitempty"`

	InfoFormat *string               `json:"info_format,omitempty"`
	FeatCol    geo.FeatureCollection `json:"feature_collection"`
}

func CheckWMSVersion(version string) bool {
	return version == "1.3.0" || version == "1.1.1"
}

func CanonicalWMSOperation(request string) (string, bool) {
	for _, op := range WMSOperations {
		if strings.EqualFold(op, request) {
			return op, true
		}
	}
	return "", false
}

// WMSParamsChecker checks and marshals the content of the
// parameters of a WMS request into a WMSParams struct. The shared
// numeric regexes from the WFS map validate the coordinate
// parameters.
func WMSParamsChecker(params map[string][]string, compREMap map[string]*regexp.Regexp) (WMSParams, error) {
	var wmsParams WMSParams

	jsonFields := []string{}

	if service, serviceOK := params["service"]; serviceOK {
		if !strings.EqualFold(service[0], "WMS") {
			return wmsParams, NewOWSError(ExcInvalidParameter, "service", "unexpected service: %v", service[0])
		}
		jsonFields = append(jsonFields, `"service":"WMS"`)
	}

	if version, versionOK := params["version"]; versionOK {
		jsonFields = append(jsonFields, fmt.Sprintf(`"version":"%s"`, version[0]))
	}

	if request, requestOK := params["request"]; requestOK {
		op, found := CanonicalWMSOperation(request[0])
		if !found {
			return wmsParams, NewOWSError(ExcUnknownOperation, "request", "%v is not a supported WMS operation", request[0])
		}
		jsonFields = append(jsonFields, fmt.Sprintf(`"request":"%s"`, op))
	}

	// WMS specifies that coordinate reference systems can be designed by either: ["srs", "crs"]
	if value, srsOK := params["srs"]; srsOK {
		params["crs"] = value
		delete(params, "srs")
	}

	if crs, crsOK := params["crs"]; crsOK {
		if !compREMap["crs"].MatchString(crs[0]) {
			return wmsParams, NewOWSError(ExcInvalidParameter, "crs", "malformed CRS: %v", crs[0])
		}
		jsonFields = append(jsonFields, fmt.Sprintf(`"crs":"%s"`, crs[0]))
	}

	if bbox, bboxOK := params["bbox"]; bboxOK {
		if !compREMap["bbox"].MatchString(bbox[0]) {
			return wmsParams, NewOWSError(ExcInvalidParameter, "bbox", "bbox must be minx,miny,maxx,maxy: %v", bbox[0])
		}
		jsonFields = append(jsonFields, fmt.Sprintf(`"bbox":[%s]`, bbox[0]))
	}

	// WMS 1.3.0 renames the pixel coordinates i,j
	if i, iOK := params["i"]; iOK {
		params["x"] = i
	}
	if j, jOK := params["j"]; jOK {
		params["y"] = j
	}

	for _, key := range []string{"x", "y", "width", "height"} {
		if val, ok := params[key]; ok {
			if !compREMap["maxfeatures"].MatchString(val[0]) {
				return wmsParams, NewOWSError(ExcInvalidParameter, key, "%s must be a non-negative integer: %v", key, val[0])
			}
			jsonFields = append(jsonFields, fmt.Sprintf(`"%s":%s`, key, val[0]))
		}
	}

	var layers []string
	if _layers, layersOK := params["layers"]; layersOK {
		layers = _layers
	} else if _layers, layersOK := params["query_layers"]; layersOK {
		layers = _layers
	}
	if len(layers) > 0 {
		if strings.Contains(layers[0], "\"") {
			return wmsParams, NewOWSError(ExcInvalidParameter, "layers", "malformed layers: %v", layers[0])
		}
		jsonFields = append(jsonFields, fmt.Sprintf(`"layers":["%s"]`, strings.Replace(layers[0], ",", "\",\"", -1)))
	}

	if infoFormat, ok := params["info_format"]; ok {
		if strings.Contains(infoFormat[0], "\"") {
			return wmsParams, NewOWSError(ExcInvalidParameter, "info_format", "malformed info format: %v", infoFormat[0])
		}
		jsonFields = append(jsonFields, fmt.Sprintf(`"info_format":"%s"`, infoFormat[0]))
	}

	// POSTed GetFeatureInfo requests may carry a GeoJSON feature
	// collection whose first geometry is the query location.
	if featCol, ok := params["feature_collection"]; ok {
		jsonFields = append(jsonFields, fmt.Sprintf(`"feature_collection":%s`, featCol[0]))
	}

	jsonParams := fmt.Sprintf("{%s}", strings.Join(jsonFields, ","))
	err := json.Unmarshal([]byte(jsonParams), &wmsParams)
	if err != nil {
		return wmsParams, NewOWSError(ExcInvalidParameter, "", "malformed WMS request: %v", err)
	}

	return wmsParams, nil
}

// WMSRegexpMap holds the extra patterns GetFeatureInfo needs on top
// of the shared WFS ones.
var WMSRegexpMap = map[string]string{
	"crs": `^(?i)(?:[A-Z]+):(?:[0-9]+)$`,
}

// CompileWMSRegexMap compiles the WMS patterns on top of the shared
// WFS ones; the result is suitable for WMSParamsChecker.
func CompileWMSRegexMap() map[string]*regexp.Regexp {
	REMap := CompileWFSRegexMap()
	for key, re := range WMSRegexpMap {
		REMap[key] = regexp.MustCompile(re)
	}

	return REMap
}

// GetFeatureInfoGeometry resolves the query location of a
// GetFeatureInfo request. A posted feature collection wins over the
// pixel coordinates; with pixel coordinates the location is
// interpolated inside the bounding box.
func GetFeatureInfoGeometry(params *WMSParams, crs string) (*Geometry, error) {
	if len(params.FeatCol.Features) > 0 {
		geomJson, err := json.Marshal(params.FeatCol.Features[0].Geometry)
		if err != nil {
			return nil, NewOWSError(ExcInvalidGeometry, "feature_collection", "malformed feature geometry: %v", err)
		}
		var geom Geometry
		if err := json.Unmarshal(geomJson, &geom); err != nil {
			return nil, NewOWSError(ExcInvalidGeometry, "feature_collection", "malformed feature geometry: %v", err)
		}
		geom.CRS = crs
		return &geom, nil
	}

	if params.X == nil || params.Y == nil || params.Width == nil || params.Height == nil || len(params.BBox) != 4 {
		return nil, NewOWSError(ExcMissingParameter, "i", "GetFeatureInfo needs bbox, width, height and i,j pixel coordinates")
	}
	if *params.Width <= 0 || *params.Height <= 0 {
		return nil, NewOWSError(ExcInvalidParameter, "width", "width and height must be positive")
	}

	bbox := params.BBox
	lon := bbox[0] + (bbox[2]-bbox[0])*(float64(*params.X)+0.5)/float64(*params.Width)
	lat := bbox[3] - (bbox[3]-bbox[1])*(float64(*params.Y)+0.5)/float64(*params.Height)

	return &Geometry{
		Type:   "Point",
		CRS:    crs,
		Coords: [][][]float64{{{lon, lat}}},
	}, nil
}

package utils

import (
	"testing"
)

func TestWMSParamsChecker(t *testing.T) {
	compREMap := CompileWMSRegexMap()

	params := map[string][]string{
		"service": {"WMS"},
		"request": {"getfeatureinfo"},
		"version": {"1.3.0"},
		"layers":  {"roads"},
		"srs":     {"EPSG:4326"},
		"bbox":    {"140.0,-40.0,150.0,-30.0"},
		"width":   {"256"},
		"height":  {"256"},
		"i":       {"128"},
		"j":       {"64"},
	}

	wmsParams, err := WMSParamsChecker(params, compREMap)
	if err != nil {
		t.Errorf("checker failed: %v", err)
		return
	}

	if wmsParams.Request == nil || *wmsParams.Request != "GetFeatureInfo" {
		t.Errorf("operation name not canonicalised: %v", wmsParams.Request)
		return
	}
	if wmsParams.CRS == nil || *wmsParams.CRS != "EPSG:4326" {
		t.Errorf("srs alias not honoured: %v", wmsParams.CRS)
		return
	}
	if wmsParams.X == nil || *wmsParams.X != 128 || wmsParams.Y == nil || *wmsParams.Y != 64 {
		t.Errorf("i,j aliases not honoured: %v %v", wmsParams.X, wmsParams.Y)
		return
	}
	if len(wmsParams.Layers) != 1 || wmsParams.Layers[0] != "roads" {
		t.Errorf("layers not parsed: %v", wmsParams.Layers)
	}
}

func TestGetFeatureInfoGeometryFromPixel(t *testing.T) {
	width, height, x, y := 100, 100, 49, 49
	params := &WMSParams{
		BBox:   []float64{0, 0, 10, 10},
		Width:  &width,
		Height: &height,
		X:      &x,
		Y:      &y,
	}

	geom, err := GetFeatureInfoGeometry(params, "EPSG:4326")
	if err != nil {
		t.Errorf("failed to resolve query location: %v", err)
		return
	}
	if geom.Type != "Point" {
		t.Errorf("unexpected geometry: %+v", geom)
		return
	}
	pt := geom.Coords[0][0]
	if pt[0] != 4.95 || pt[1] != 5.05 {
		t.Errorf("unexpected location: %v", pt)
	}
}

func TestGetFeatureInfoGeometryMissingParams(t *testing.T) {
	_, err := GetFeatureInfoGeometry(&WMSParams{}, "EPSG:4326")
	if err == nil {
		t.Errorf("expected an error without coordinates")
		return
	}
	owsErr, ok := err.(*OWSError)
	if !ok || owsErr.Code != ExcMissingParameter {
		t.Errorf("expected %v, got %v", ExcMissingParameter, err)
	}
}

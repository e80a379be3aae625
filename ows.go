package main

/* ows is a web server implementing the WFS and WMS protocols to
   serve vector feature collections. This server is intended to be
   consumed directly by users and exposes a series of
   functionalities through the GetCapabilities.xml document.
   Configuration of the server is specified in the config.json
   file where feature types, stored queries and the backing
   feature store are defined. */

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nci/gows/metrics"
	proc "github.com/nci/gows/processor"
	"github.com/nci/gows/utils"

	_ "net/http/pprof"

	reuseport "github.com/kavu/go_reuseport"
)

// Global variable to hold the values specified
// on the config.json document.
var configMap map[string]*utils.Config

var (
	port            = flag.Int("p", 8080, "Server listening port.")
	serverDataDir   = flag.String("data_dir", utils.DataDir, "Server data directory.")
	serverConfigDir = flag.String("conf_dir", utils.EtcDir, "Server config directory.")
	serverLogDir    = flag.String("log_dir", "", "Server log directory.")
	validateConfig  = flag.Bool("check_conf", false, "Validate server config files.")
	dumpConfig      = flag.Bool("dump_conf", false, "Dump server config files.")
	verbose         = flag.Bool("v", false, "Verbose mode for more server outputs.")
)

var reWFSMap map[string]*regexp.Regexp
var reWMSMap map[string]*regexp.Regexp

var (
	Error *log.Logger
	Info  *log.Logger
)

var metricsLogger metrics.Logger
var promProvider *metrics.Provider

var encoderRegistry *utils.EncoderRegistry

var (
	storeMu  sync.Mutex
	pgStores = make(map[string]proc.FeatureStore)
	memStore = proc.NewMemStore()

	capsCaches = make(map[string]*utils.CapabilitiesCache)
)

// init initialises the Error logger, checks
// required files are in place and sets Config struct.
// This is the first function to be called in main.
func init() {
	Error = log.New(os.Stderr, "OWS: ", log.Ldate|log.Ltime|log.Lshortfile)
	Info = log.New(os.Stdout, "OWS: ", log.Ldate|log.Ltime|log.Lshortfile)

	flag.Parse()

	utils.DataDir = *serverDataDir
	utils.EtcDir = *serverConfigDir

	filePaths := []string{
		utils.DataDir + "/static/index.html",
		utils.DataDir + "/templates/WFS_GetCapabilities.tpl",
		utils.DataDir + "/templates/WFS_DescribeFeatureType.tpl",
		utils.DataDir + "/templates/WFS_ListStoredQueries.tpl",
		utils.DataDir + "/templates/WFS_DescribeStoredQueries.tpl",
		utils.DataDir + "/templates/WFS_ServiceException.tpl",
		utils.DataDir + "/templates/WMS_GetCapabilities.tpl",
		utils.DataDir + "/templates/GML_FeatureMember.tpl"}

	for _, filePath := range filePaths {
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			panic(err)
		}
	}

	confMap, err := utils.LoadAllConfigFiles(utils.EtcDir, *verbose)
	if err != nil {
		Error.Printf("Error in loading config files: %v\n", err)
		panic(err)
	}

	if *validateConfig {
		os.Exit(0)
	}

	if *dumpConfig {
		configJson, err := utils.DumpConfig(confMap)
		if err != nil {
			Error.Printf("Error in dumping configs: %v\n", err)
		} else {
			log.Print(configJson)
		}
		os.Exit(0)
	}

	configMap = confMap

	utils.WatchConfig(Info, Error, &configMap, *verbose)

	reWFSMap = utils.CompileWFSRegexMap()
	reWMSMap = utils.CompileWMSRegexMap()

	encoderRegistry = utils.NewEncoderRegistry()

	if len(*serverLogDir) > 0 {
		if *serverLogDir == "-" {
			metricsLogger = metrics.NewStdoutLogger()
		} else {
			maxLogFileSize := int64(0)
			if val, ok := os.LookupEnv("GOWS_MAX_LOG_FILE_SIZE"); ok {
				valInt, e := strconv.ParseInt(val, 10, 64)
				if e == nil {
					maxLogFileSize = valInt
				} else {
					Error.Printf("invalid GOWS_MAX_LOG_FILE_SIZE: %v", e)
				}
			}

			maxLogFiles := -1
			if val, ok := os.LookupEnv("GOWS_MAX_LOG_FILES"); ok {
				valInt, e := strconv.ParseInt(val, 10, 32)
				if e == nil {
					maxLogFiles = int(valInt)
				} else {
					Error.Printf("invalid GOWS_MAX_LOG_FILES: %v", e)
				}
			}

			metricsLogger = metrics.NewFileLogger(*serverLogDir, maxLogFileSize, maxLogFiles, *verbose)
		}
	}
}

// getFeatureStore resolves the backing store of a config. Stores are
// shared per DSN; configs without a store_dsn share the in-process
// store.
func getFeatureStore(conf *utils.Config) (proc.FeatureStore, error) {
	dsn := conf.ServiceConfig.StoreDSN
	if len(dsn) == 0 {
		return memStore, nil
	}

	storeMu.Lock()
	defer storeMu.Unlock()
	if store, found := pgStores[dsn]; found {
		return store, nil
	}

	store, err := proc.NewPGStore(dsn, 8, 16)
	if err != nil {
		return nil, utils.NewOWSError(utils.ExcStoreUnavailable, "", "feature store connection failed: %v", err)
	}
	pgStores[dsn] = store
	return store, nil
}

func getCapsCache(conf *utils.Config) *utils.CapabilitiesCache {
	uri := conf.ServiceConfig.MemcacheURI

	storeMu.Lock()
	defer storeMu.Unlock()
	cache, found := capsCaches[uri]
	if !found {
		cache = utils.NewCapabilitiesCache(uri)
		capsCaches[uri] = cache
	}
	return cache
}

// lookupFeatureType resolves a typeName against the config,
// filling in the schema from store introspection when the config
// does not carry field metadata.
func lookupFeatureType(ctx context.Context, typeName string, conf *utils.Config) (*utils.FeatureType, error) {
	idx, err := utils.GetFeatureTypeIndex(typeName, conf)
	if err != nil {
		return nil, utils.NewOWSError(utils.ExcInvalidParameter, "typeName", "unknown feature type: %v", typeName)
	}

	ft := &conf.FeatureTypes[idx]
	if ft.HasSchema() {
		return ft, nil
	}

	store, err := getFeatureStore(conf)
	if err != nil {
		return nil, err
	}
	fields, err := store.SchemaOf(ctx, ft.DataSource)
	if err != nil {
		return nil, err
	}

	ftCopy := *ft
	ftCopy.Fields = fields
	for i := range ftCopy.Fields {
		if ftCopy.Fields[i].Type == utils.TypeGeometry && len(ftCopy.Fields[i].CRS) == 0 {
			ftCopy.Fields[i].CRS = ftCopy.CRS
		}
	}
	return &ftCopy, nil
}

func geometryField(ft *utils.FeatureType) (*utils.FieldDef, error) {
	for i := range ft.Fields {
		if ft.Fields[i].Type == utils.TypeGeometry {
			return &ft.Fields[i], nil
		}
	}
	return nil, utils.NewOWSError(utils.ExcInvalidParameter, "bbox", "feature type %v has no geometry field", ft.Name)
}

// buildGetFeaturePredicate resolves the query specification of a
// GetFeature request into one predicate tree. The params checker has
// already rejected requests carrying both an ad hoc filter and a
// stored query.
func buildGetFeaturePredicate(params *utils.WFSParams, ft *utils.FeatureType, conf *utils.Config) (*utils.PredicateNode, error) {
	var predicate *utils.PredicateNode
	var err error

	if params.Query != nil {
		filter, e := utils.ParseFilterJSON(*params.Query)
		if e != nil {
			return nil, e
		}
		predicate, err = utils.TranslateFilter(filter, ft)
	} else if params.StoredQueryID != nil {
		predicate, err = conf.StoredQueries.Resolve(*params.StoredQueryID, params.StoredQueryParams, ft)
	} else {
		predicate, err = utils.TranslateFilter(nil, ft)
	}
	if err != nil {
		return nil, err
	}

	if len(params.BBox) == 4 {
		geomField, e := geometryField(ft)
		if e != nil {
			return nil, e
		}
		bboxWKT := fmt.Sprintf("POLYGON ((%f %f, %f %f, %f %f, %f %f, %f %f))",
			params.BBox[0], params.BBox[1], params.BBox[2], params.BBox[1],
			params.BBox[2], params.BBox[3], params.BBox[0], params.BBox[3],
			params.BBox[0], params.BBox[1])
		geom, e := utils.ParseWKT(bboxWKT, geomField.CRS)
		if e != nil {
			return nil, e
		}
		bboxNode := &utils.PredicateNode{
			Type:     utils.NodeSpatial,
			Field:    geomField.Name,
			Operator: "bbox",
			Geometry: geom,
			CRS:      geom.CRS,
		}
		if predicate.Type == utils.NodeAll {
			predicate = bboxNode
		} else {
			predicate = &utils.PredicateNode{
				Type:     utils.NodeConjunction,
				Children: []*utils.PredicateNode{predicate, bboxNode},
			}
		}
	}

	return predicate, nil
}

func serveWFS(ctx context.Context, params utils.WFSParams, conf *utils.Config, r *http.Request, w http.ResponseWriter, metricsCollector *metrics.MetricsCollector) {
	if params.Request == nil {
		writeOWSException(w, utils.NewOWSError(utils.ExcMissingParameter, "request", "malformed WFS request, a request parameter needs to be specified"), metricsCollector)
		return
	}

	metricsCollector.Info.WFS.Operation = *params.Request

	if params.Version != nil && !utils.CheckWFSVersion(*params.Version) {
		writeOWSException(w, utils.NewOWSError(utils.ExcInvalidParameter, "version", "this server only accepts WFS requests compliant with versions 1.0.0, 1.1.0 and 2.0.0"), metricsCollector)
		return
	}

	switch *params.Request {
	case "GetCapabilities":
		conf = conf.Copy(r)
		cache := getCapsCache(conf)
		namespace := conf.ServiceConfig.NameSpace
		host := conf.ServiceConfig.OWSHostname

		w.Header().Set("Content-Type", "text/xml")
		if doc, found := cache.Get(namespace, "WFS", host, conf.Generation); found {
			w.Write(doc)
			return
		}

		doc, err := utils.BuildWFSCapabilities(conf, encoderRegistry.Names())
		if err != nil {
			metricsCollector.Info.HTTPStatus = 500
			http.Error(w, err.Error(), 500)
			return
		}
		cache.Put(namespace, "WFS", host, conf.Generation, doc)
		w.Write(doc)

	case "DescribeFeatureType":
		if params.TypeName == nil {
			writeOWSException(w, utils.NewOWSError(utils.ExcMissingParameter, "typeName", "DescribeFeatureType requires a typeName parameter"), metricsCollector)
			return
		}
		metricsCollector.Info.WFS.TypeName = *params.TypeName

		ft, err := lookupFeatureType(ctx, *params.TypeName, conf)
		if err != nil {
			writeOWSException(w, utils.AsOWSError(err, utils.ExcInvalidParameter, "typeName"), metricsCollector)
			return
		}

		doc, err := utils.BuildSchemaDocument(ft)
		if err != nil {
			writeOWSException(w, utils.AsOWSError(err, utils.ExcSchemaUnavailable, "typeName"), metricsCollector)
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		w.Write(doc)

	case "ListStoredQueries":
		doc, err := utils.BuildStoredQueryList(conf.Copy(r))
		if err != nil {
			metricsCollector.Info.HTTPStatus = 500
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		w.Write(doc)

	case "DescribeStoredQueries":
		var names []string
		if params.StoredQueryID != nil {
			names = strings.Split(*params.StoredQueryID, ",")
		}
		doc, err := utils.BuildStoredQueryDescriptions(conf.Copy(r), names)
		if err != nil {
			writeOWSException(w, utils.AsOWSError(err, utils.ExcUnknownStoredQuery, "storedQuery"), metricsCollector)
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		w.Write(doc)

	case "GetFeature":
		serveGetFeature(ctx, params, conf, w, metricsCollector)

	default:
		writeOWSException(w, utils.NewOWSError(utils.ExcUnknownOperation, "request", "%v is not a supported WFS operation", *params.Request), metricsCollector)
	}
}

func serveGetFeature(ctx context.Context, params utils.WFSParams, conf *utils.Config, w http.ResponseWriter, metricsCollector *metrics.MetricsCollector) {
	if params.TypeName == nil {
		writeOWSException(w, utils.NewOWSError(utils.ExcMissingParameter, "typeName", "GetFeature requires a typeName parameter"), metricsCollector)
		return
	}
	metricsCollector.Info.WFS.TypeName = *params.TypeName

	outputFormat := "GeoJSON"
	if params.OutputFormat != nil {
		outputFormat = *params.OutputFormat
	}
	metricsCollector.Info.WFS.OutputFormat = outputFormat
	encoder, err := encoderRegistry.Lookup(outputFormat)
	if err != nil {
		writeOWSException(w, utils.AsOWSError(err, utils.ExcUnsupportedFormat, "outputFormat"), metricsCollector)
		return
	}

	ft, err := lookupFeatureType(ctx, *params.TypeName, conf)
	if err != nil {
		writeOWSException(w, utils.AsOWSError(err, utils.ExcInvalidParameter, "typeName"), metricsCollector)
		return
	}

	if params.StoredQueryID != nil {
		metricsCollector.Info.WFS.StoredQuery = *params.StoredQueryID
	}

	predicate, err := buildGetFeaturePredicate(&params, ft, conf)
	if err != nil {
		writeOWSException(w, utils.AsOWSError(err, utils.ExcInvalidParameter, "query"), metricsCollector)
		return
	}
	metricsCollector.Info.WFS.PredicateLeaves = predicate.LeafCount()

	maxFeatures := ft.MaxFeatures
	if params.MaxFeatures != nil && *params.MaxFeatures < maxFeatures {
		maxFeatures = *params.MaxFeatures
	}
	startIndex := 0
	if params.StartIndex != nil {
		startIndex = *params.StartIndex
	}

	store, err := getFeatureStore(conf)
	if err != nil {
		writeOWSException(w, utils.AsOWSError(err, utils.ExcStoreUnavailable, ""), metricsCollector)
		return
	}

	timeout := time.Duration(conf.ServiceConfig.WFSTimeout) * time.Second
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errChan := make(chan error, 100)
	pipeline := proc.InitFeaturePipeline(queryCtx, store, errChan)

	t0 := time.Now()
	featChan := pipeline.Process(&proc.GeoFeatureRequest{
		FeatureType: ft,
		Predicate:   predicate,
		MaxFeatures: maxFeatures,
		StartIndex:  startIndex,
	})

	numFeatures := 0
	counted := make(chan *utils.Feature, 100)
	go func() {
		defer close(counted)
		for feat := range featChan {
			numFeatures++
			counted <- feat
		}
	}()

	// The response is staged so a store failure mid-stream still
	// yields a well-formed exception report.
	var buf bytes.Buffer
	encErr := encoder.Encode(&buf, ft, counted)
	metricsCollector.Info.Store.Duration = time.Since(t0)

	var queryErr error
	select {
	case queryErr = <-errChan:
	default:
	}

	if queryErr != nil {
		if queryCtx.Err() == context.DeadlineExceeded {
			writeOWSException(w, utils.NewOWSError(utils.ExcQueryTimeout, "", "query exceeded the configured timeout of %v", timeout), metricsCollector)
			return
		}
		writeOWSException(w, utils.AsOWSError(queryErr, utils.ExcStoreUnavailable, ""), metricsCollector)
		return
	}
	if encErr != nil {
		metricsCollector.Info.HTTPStatus = 500
		http.Error(w, encErr.Error(), 500)
		return
	}

	metricsCollector.Info.WFS.NumFeatures = numFeatures
	w.Header().Set("Content-Type", encoder.ContentType())
	w.Write(buf.Bytes())
}

func serveWMS(ctx context.Context, params utils.WMSParams, conf *utils.Config, r *http.Request, w http.ResponseWriter, metricsCollector *metrics.MetricsCollector) {
	if params.Request == nil {
		writeOWSException(w, utils.NewOWSError(utils.ExcMissingParameter, "request", "malformed WMS request, a request parameter needs to be specified"), metricsCollector)
		return
	}

	metricsCollector.Info.WFS.Operation = *params.Request

	if params.Version != nil && !utils.CheckWMSVersion(*params.Version) {
		writeOWSException(w, utils.NewOWSError(utils.ExcInvalidParameter, "version", "this server only accepts WMS requests compliant with versions 1.1.1 and 1.3.0"), metricsCollector)
		return
	}

	switch *params.Request {
	case "GetCapabilities":
		conf = conf.Copy(r)
		cache := getCapsCache(conf)
		namespace := conf.ServiceConfig.NameSpace
		host := conf.ServiceConfig.OWSHostname

		w.Header().Set("Content-Type", "text/xml")
		if doc, found := cache.Get(namespace, "WMS", host, conf.Generation); found {
			w.Write(doc)
			return
		}

		doc, err := utils.BuildWMSCapabilities(conf)
		if err != nil {
			metricsCollector.Info.HTTPStatus = 500
			http.Error(w, err.Error(), 500)
			return
		}
		cache.Put(namespace, "WMS", host, conf.Generation, doc)
		w.Write(doc)

	case "GetFeatureInfo":
		serveGetFeatureInfo(ctx, params, conf, w, metricsCollector)

	case "GetMap":
		writeOWSException(w, utils.NewOWSError(utils.ExcUnknownOperation, "request", "GetMap is not available, no raster renderer is configured for this server"), metricsCollector)

	default:
		writeOWSException(w, utils.NewOWSError(utils.ExcUnknownOperation, "request", "%v is not a supported WMS operation", *params.Request), metricsCollector)
	}
}

func serveGetFeatureInfo(ctx context.Context, params utils.WMSParams, conf *utils.Config, w http.ResponseWriter, metricsCollector *metrics.MetricsCollector) {
	if len(params.Layers) == 0 {
		writeOWSException(w, utils.NewOWSError(utils.ExcMissingParameter, "layers", "GetFeatureInfo requires a layers parameter"), metricsCollector)
		return
	}
	metricsCollector.Info.WFS.TypeName = params.Layers[0]

	ft, err := lookupFeatureType(ctx, params.Layers[0], conf)
	if err != nil {
		writeOWSException(w, utils.AsOWSError(err, utils.ExcInvalidParameter, "layers"), metricsCollector)
		return
	}

	geomField, err := geometryField(ft)
	if err != nil {
		writeOWSException(w, utils.AsOWSError(err, utils.ExcInvalidParameter, "layers"), metricsCollector)
		return
	}

	geom, err := utils.GetFeatureInfoGeometry(&params, geomField.CRS)
	if err != nil {
		writeOWSException(w, utils.AsOWSError(err, utils.ExcInvalidParameter, ""), metricsCollector)
		return
	}

	predicate := &utils.PredicateNode{
		Type:     utils.NodeSpatial,
		Field:    geomField.Name,
		Operator: "intersects",
		Geometry: geom,
		CRS:      geom.CRS,
	}

	store, err := getFeatureStore(conf)
	if err != nil {
		writeOWSException(w, utils.AsOWSError(err, utils.ExcStoreUnavailable, ""), metricsCollector)
		return
	}

	timeout := time.Duration(conf.ServiceConfig.WFSTimeout) * time.Second
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errChan := make(chan error, 100)
	pipeline := proc.InitFeaturePipeline(queryCtx, store, errChan)
	featChan := pipeline.Process(&proc.GeoFeatureRequest{
		FeatureType: ft,
		Predicate:   predicate,
		MaxFeatures: 10,
		StartIndex:  0,
	})

	encoder, _ := encoderRegistry.Lookup("GeoJSON")
	var buf bytes.Buffer
	encErr := encoder.Encode(&buf, ft, featChan)

	var queryErr error
	select {
	case queryErr = <-errChan:
	default:
	}
	if queryErr != nil {
		writeOWSException(w, utils.AsOWSError(queryErr, utils.ExcStoreUnavailable, ""), metricsCollector)
		return
	}
	if encErr != nil {
		metricsCollector.Info.HTTPStatus = 500
		http.Error(w, encErr.Error(), 500)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(buf.Bytes())
}

func writeOWSException(w http.ResponseWriter, owsErr *utils.OWSError, metricsCollector *metrics.MetricsCollector) {
	Error.Printf("%s\n", owsErr.Error())
	metricsCollector.Info.HTTPStatus = owsErr.HTTPStatus()
	utils.WriteServiceException(w, owsErr)
}

func generalHandler(conf *utils.Config, w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate, max-age=0")
	if *verbose {
		Info.Printf("%s\n", r.URL.String())
	}
	ctx := r.Context()

	metricsCollector := metrics.NewMetricsCollector(metricsLogger)
	defer metricsCollector.Log()

	t0 := time.Now()
	metricsCollector.Info.ReqTime = t0.Format(utils.ISOFormat)
	defer func() { metricsCollector.Info.ReqDuration = time.Since(t0) }()

	var service string
	defer func() {
		if promProvider != nil {
			promProvider.ObserveRequest(service, metricsCollector.Info.HTTPStatus, metricsCollector.Info)
		}
	}()

	reqUrl, e := url.QueryUnescape(r.URL.String())
	if e == nil {
		metricsCollector.Info.URL.RawURL = reqUrl
	} else {
		metricsCollector.Info.URL.RawURL = r.URL.String()
	}

	metricsCollector.Info.RemoteAddr = utils.ParseRemoteAddr(r)
	metricsCollector.Info.HTTPStatus = 200

	var query map[string][]string
	var err error
	switch r.Method {
	case "POST":
		query, err = utils.ParsePost(r.Body)
		if err != nil {
			writeOWSException(w, utils.NewOWSError(utils.ExcInvalidParameter, "", "error parsing POST payload: %v", err), metricsCollector)
			return
		}

	case "GET":
		query, err = utils.ParseQuery(r.URL.RawQuery)
		if err != nil {
			writeOWSException(w, utils.NewOWSError(utils.ExcInvalidParameter, "", "failed to parse query: %v", err), metricsCollector)
			return
		}
	}

	if _, fOK := query["service"]; !fOK {
		canInferService := false
		if request, hasReq := query["request"]; hasReq {
			reqService := map[string]string{
				"GetFeatureInfo":        "WMS",
				"GetMap":                "WMS",
				"DescribeFeatureType":   "WFS",
				"GetFeature":            "WFS",
				"ListStoredQueries":     "WFS",
				"DescribeStoredQueries": "WFS",
			}
			if op, found := utils.CanonicalWFSOperation(request[0]); found && op != "GetCapabilities" {
				query["service"] = []string{reqService[op]}
				canInferService = true
			} else if op, found := utils.CanonicalWMSOperation(request[0]); found && op != "GetCapabilities" {
				query["service"] = []string{reqService[op]}
				canInferService = true
			}
		}

		if !canInferService {
			writeOWSException(w, utils.NewOWSError(utils.ExcMissingParameter, "service", "not an OWS request, the request does not contain a service parameter"), metricsCollector)
			return
		}
	}

	service = strings.ToUpper(query["service"][0])
	switch service {
	case "WFS":
		params, err := utils.WFSParamsChecker(query, reWFSMap)
		if err != nil {
			writeOWSException(w, utils.AsOWSError(err, utils.ExcInvalidParameter, ""), metricsCollector)
			return
		}
		serveWFS(ctx, params, conf, r, w, metricsCollector)
	case "WMS":
		params, err := utils.WMSParamsChecker(query, reWMSMap)
		if err != nil {
			writeOWSException(w, utils.AsOWSError(err, utils.ExcInvalidParameter, ""), metricsCollector)
			return
		}
		serveWMS(ctx, params, conf, r, w, metricsCollector)
	default:
		writeOWSException(w, utils.NewOWSError(utils.ExcInvalidParameter, "service", "%v is not a supported OWS service", query["service"][0]), metricsCollector)
	}
}

func owsHandler(w http.ResponseWriter, r *http.Request) {
	namespace := "."
	if len(r.URL.Path) > len("/ows/") {
		namespace = r.URL.Path[len("/ows/"):]
	}
	config, ok := configMap[namespace]
	if !ok {
		Info.Printf("Invalid dataset namespace: %v for url: %v\n", namespace, r.URL.Path)
		http.Error(w, fmt.Sprintf("Invalid dataset namespace: %v\n", namespace), 404)
		return
	}
	config.ServiceConfig.NameSpace = namespace
	generalHandler(config, w, r)
}

func fileHandler(w http.ResponseWriter, r *http.Request) {
	upath := r.URL.Path
	if !strings.HasPrefix(upath, "/") {
		upath = "/" + upath
		r.URL.Path = upath
	}
	upath = path.Clean(upath)
	upath = filepath.Join(utils.DataDir+"/static", upath)

	if *verbose {
		Info.Printf("%s -> %s\n", r.URL.String(), upath)
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate, max-age=0")
	http.ServeFile(w, r, upath)
}

func main() {
	http.HandleFunc("/", fileHandler)
	http.HandleFunc("/ows", owsHandler)
	http.HandleFunc("/ows/", owsHandler)

	for _, conf := range configMap {
		if len(conf.ServiceConfig.MetricsAddr) > 0 {
			promProvider = metrics.InitProvider()
			addr := conf.ServiceConfig.MetricsAddr
			go func() {
				if err := promProvider.Serve(addr); err != nil {
					Error.Printf("metrics listener error: %v\n", err)
				}
			}()
			break
		}
	}

	listener, err := reuseport.Listen("tcp4", fmt.Sprintf("0.0.0.0:%d", *port))
	if err != nil {
		Error.Printf("Error in reuseport listener: %v\n", err)
		os.Exit(1)
	}

	Info.Printf("GOWS is ready")
	log.Fatal(http.Serve(listener, nil))
}

package utils

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/xeipuuv/gojsonschema"
)

var EtcDir = "."
var DataDir = "."

// Semantic field types understood by the filter translator and the
// schema documents.
const (
	TypeString   = "string"
	TypeInteger  = "integer"
	TypeFloat    = "float"
	TypeDateTime = "datetime"
	TypeGeometry = "geometry"
)

// string used to format Go ISO times
const ISOFormat = "2006-01-02T15:04:05.000Z"

type ContactInfo struct {
	ProviderName string `json:"provider_name"`
	ProviderSite string `json:"provider_site"`
	ContactName  string `json:"contact_name"`
	Position     string `json:"position"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	Address      string `json:"address"`
	City         string `json:"city"`
	Country      string `json:"country"`
}

type ServiceConfig struct {
	OWSHostname      string      `json:"ows_hostname"`
	NameSpace        string      `json:"-"`
	Title            string      `json:"title"`
	Abstract         string      `json:"abstract"`
	Keywords         []string    `json:"keywords"`
	Contact          ContactInfo `json:"contact"`
	StoreDSN         string      `json:"store_dsn"`
	MemcacheURI      string      `json:"memcache_uri"`
	MetricsAddr      string      `json:"metrics_addr"`
	MaxFeaturesLimit int         `json:"max_features_limit"`
	WFSTimeout       int         `json:"wfs_timeout"`
}

// FieldDef describes one field of a feature type schema. Type is one
// of the semantic type constants. CRS only applies to geometry fields
// and defaults to the feature type's native CRS.
type FieldDef struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	CRS      string `json:"crs,omitempty"`
}

// FeatureType contains all the details a feature collection needs to
// be published and queried.
type FeatureType struct {
	Name        string     `json:"name"`
	Title       string     `json:"title"`
	Abstract    string     `json:"abstract"`
	NameSpace   string     `json:"namespace"`
	CRS         string     `json:"crs"`
	Extent      []float64  `json:"extent"`
	DataSource  string     `json:"data_source"`
	IDField     string     `json:"id_field"`
	Fields      []FieldDef `json:"fields"`
	MaxFeatures int        `json:"max_features"`

	fieldLookup map[string]*FieldDef
}

// Field resolves a field name within the feature type schema.
func (ft *FeatureType) Field(name string) (*FieldDef, bool) {
	if ft.fieldLookup == nil {
		ft.fieldLookup = make(map[string]*FieldDef)
		for i := range ft.Fields {
			ft.fieldLookup[ft.Fields[i].Name] = &ft.Fields[i]
		}
	}
	f, found := ft.fieldLookup[name]
	return f, found
}

func (ft *FeatureType) HasSchema() bool {
	return len(ft.Fields) > 0
}

// SRID extracts the numeric part of an "EPSG:nnnn" CRS identifier.
func SRID(crs string) int {
	parts := strings.Split(crs, ":")
	if len(parts) != 2 {
		return 0
	}
	var srid int
	if _, err := fmt.Sscanf(parts[1], "%d", &srid); err != nil {
		return 0
	}
	return srid
}

// Config is the struct representing the configuration of a WFS
// server endpoint. It contains the service metadata as well as the
// list of feature types that can be served.
type Config struct {
	ServiceConfig    ServiceConfig `json:"service_config"`
	FeatureTypes     []FeatureType `json:"feature_types"`
	StoredQueryFiles []string      `json:"stored_queries"`

	StoredQueries *StoredQueryRegistry `json:"-"`
	Generation    int                  `json:"-"`
}

// Copy makes a per-request copy of the configuration with the
// advertised hostname resolved against the incoming request. The
// copy keeps all shared read-only state by reference.
func (config *Config) Copy(r *http.Request) *Config {
	newConf := *config
	if len(strings.TrimSpace(newConf.ServiceConfig.OWSHostname)) == 0 {
		newConf.ServiceConfig.OWSHostname = r.Host
	}
	return &newConf
}

// GetFeatureTypeIndex returns the index of the named feature type
// inside the Config.FeatureTypes field.
func GetFeatureTypeIndex(typeName string, config *Config) (int, error) {
	for i := range config.FeatureTypes {
		if config.FeatureTypes[i].Name == typeName {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%s not found in config feature types", typeName)
}

func LoadAllConfigFiles(rootDir string, verbose bool) (map[string]*Config, error) {
	configMap := make(map[string]*Config)
	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && info.Name() == "config.json" {
			relPath, _ := filepath.Rel(rootDir, filepath.Dir(path))
			if verbose {
				log.Printf("Loading config file: %s under namespace: %s\n", path, relPath)
			}

			config := &Config{}
			e := config.LoadConfigFile(path, verbose)
			if e != nil {
				return e
			}

			configMap[relPath] = config
		}
		return nil
	})

	if err == nil && len(configMap) == 0 {
		err = fmt.Errorf("No config file found")
	}

	return configMap, err
}

const DefaultMaxFeatures = 10000
const DefaultWFSTimeout = 30

// LoadConfigFile unmarshalls the config.json document returning an
// instance of a Config variable containing all the values. The raw
// document is checked against the embedded JSON schema before
// unmarshalling so malformed configs are rejected with a pointed
// error message rather than surfacing as zero values at request time.
func (config *Config) LoadConfigFile(configFile string, verbose bool) error {
	*config = Config{}
	cfg, err := ioutil.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("Error while reading config file: %s. Error: %v", configFile, err)
	}

	if err := ValidateConfigDocument(cfg); err != nil {
		return fmt.Errorf("Config validation failed for %s: %v", configFile, err)
	}

	err = json.Unmarshal(cfg, config)
	if err != nil {
		return fmt.Errorf("Error at JSON parsing config document: %s. Error: %v", configFile, err)
	}

	if config.ServiceConfig.MaxFeaturesLimit <= 0 {
		config.ServiceConfig.MaxFeaturesLimit = DefaultMaxFeatures
	}
	if config.ServiceConfig.WFSTimeout <= 0 {
		config.ServiceConfig.WFSTimeout = DefaultWFSTimeout
	}

	for i := range config.FeatureTypes {
		ft := &config.FeatureTypes[i]
		if len(ft.CRS) == 0 {
			ft.CRS = "EPSG:4326"
		}
		if ft.MaxFeatures <= 0 {
			ft.MaxFeatures = config.ServiceConfig.MaxFeaturesLimit
		}
		if len(ft.Extent) != 0 && len(ft.Extent) != 4 {
			return fmt.Errorf("Feature type %s: extent must have 4 values, got %d", ft.Name, len(ft.Extent))
		}
		for j := range ft.Fields {
			fd := &ft.Fields[j]
			if fd.Type == TypeGeometry && len(fd.CRS) == 0 {
				fd.CRS = ft.CRS
			}
		}
	}

	config.StoredQueries = NewStoredQueryRegistry()
	for _, sqFile := range config.StoredQueryFiles {
		if !filepath.IsAbs(sqFile) {
			sqFile = filepath.Join(filepath.Dir(configFile), sqFile)
		}
		if err := config.StoredQueries.LoadQueryFile(sqFile); err != nil {
			return fmt.Errorf("Error loading stored query file %s: %v", sqFile, err)
		}
	}

	return nil
}

// ValidateConfigDocument checks a raw config.json document against
// the embedded JSON schema.
func ValidateConfigDocument(doc []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(ConfigSchema)
	docLoader := gojsonschema.NewBytesLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	return nil
}

func DumpConfig(configs map[string]*Config) (string, error) {
	configJson, err := json.Marshal(configs)
	if err != nil {
		return "", err
	}
	return string(configJson), nil
}

func WatchConfig(infoLog, errLog *log.Logger, configMap *map[string]*Config, verbose bool) {
	// Catch SIGHUP to automatically reload config
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-sighup:
				infoLog.Println("Caught SIGHUP, reloading config...")
				confMap, err := LoadAllConfigFiles(EtcDir, verbose)
				if err != nil {
					errLog.Printf("Error in loading config files: %v\n", err)
					return
				}

				// Bumping the generation versions the capabilities
				// cache keys so stale documents are never served.
				generation := 0
				for k := range *configMap {
					if (*configMap)[k].Generation >= generation {
						generation = (*configMap)[k].Generation + 1
					}
					delete(*configMap, k)
				}

				for k := range confMap {
					confMap[k].Generation = generation
					(*configMap)[k] = confMap[k]
				}
			}
		}
	}()
}

package utils

import (
	"fmt"
	"io/ioutil"
	"strconv"
	"strings"
	"time"

	goeval "github.com/edisonguo/govaluate"
	"gopkg.in/yaml.v2"
)

// GetFeatureByIdName is the WFS mandated stored query available on
// every endpoint.
const GetFeatureByIdName = "urn:ogc:def:query:OGC-WFS::GetFeatureById"

type StoredQueryParam struct {
	Name    string      `yaml:"name"`
	Type    string      `yaml:"type"`
	Title   string      `yaml:"title"`
	Default interface{} `yaml:"default"`
}

// StoredQuery is a named, parameterized query template registered
// at configuration time. Filter maps "field__operator" keys to
// literals; a "${...}" value is a govaluate expression over the
// declared parameters, evaluated at resolve time.
type StoredQuery struct {
	Name       string             `yaml:"name"`
	Title      string             `yaml:"title"`
	Abstract   string             `yaml:"abstract"`
	TypeName   string             `yaml:"typename"`
	Parameters []StoredQueryParam `yaml:"parameters"`
	Filter     map[string]string  `yaml:"filter"`

	builtinByID bool
}

// StoredQueryRegistry holds the stored queries of one endpoint. It
// is populated during configuration, before request traffic begins,
// and is treated as read-only afterwards so no locking is needed on
// the request path.
type StoredQueryRegistry struct {
	queries map[string]*StoredQuery
	order   []string
}

func NewStoredQueryRegistry() *StoredQueryRegistry {
	reg := &StoredQueryRegistry{queries: make(map[string]*StoredQuery)}
	reg.Register(&StoredQuery{
		Name:     GetFeatureByIdName,
		Title:    "Get feature by identifier",
		Abstract: "Returns the single feature whose identifier equals the id parameter.",
		Parameters: []StoredQueryParam{
			{Name: "id", Type: TypeString},
		},
		builtinByID: true,
	})
	return reg
}

// Register adds a stored query to the registry. Registration only
// happens during configuration; duplicate names are a config error.
func (reg *StoredQueryRegistry) Register(sq *StoredQuery) error {
	if len(strings.TrimSpace(sq.Name)) == 0 {
		return fmt.Errorf("stored query requires a name")
	}
	if _, found := reg.queries[sq.Name]; found {
		return fmt.Errorf("duplicate stored query name: %v", sq.Name)
	}

	paramNames := make(map[string]struct{})
	for _, p := range sq.Parameters {
		switch p.Type {
		case TypeString, TypeInteger, TypeFloat, TypeDateTime, TypeGeometry:
		default:
			return fmt.Errorf("stored query %v: parameter %v has unsupported type %v", sq.Name, p.Name, p.Type)
		}
		if _, found := paramNames[p.Name]; found {
			return fmt.Errorf("stored query %v: duplicate parameter %v", sq.Name, p.Name)
		}
		paramNames[p.Name] = struct{}{}
	}

	// Validate value expressions eagerly so config errors surface at
	// startup rather than on first use.
	for key, tpl := range sq.Filter {
		expr, isExpr := templateExpression(tpl)
		if !isExpr {
			continue
		}
		parsed, err := goeval.NewEvaluableExpression(expr)
		if err != nil {
			return fmt.Errorf("stored query %v: invalid expression for %v: %v", sq.Name, key, err)
		}
		for _, token := range parsed.Tokens() {
			if token.Kind == goeval.VARIABLE {
				varName, ok := token.Value.(string)
				if !ok {
					return fmt.Errorf("stored query %v: variable token '%v' failed to cast string", sq.Name, token.Value)
				}
				if _, found := paramNames[varName]; !found {
					return fmt.Errorf("stored query %v: expression for %v references undeclared parameter %v", sq.Name, key, varName)
				}
			}
		}
	}

	reg.queries[sq.Name] = sq
	reg.order = append(reg.order, sq.Name)
	return nil
}

// LoadQueryFile registers one stored query declared in a YAML file.
func (reg *StoredQueryRegistry) LoadQueryFile(path string) error {
	doc, err := ioutil.ReadFile(path)
	if err != nil {
		return err
	}

	sq := &StoredQuery{}
	if err := yaml.Unmarshal(doc, sq); err != nil {
		return err
	}
	return reg.Register(sq)
}

// List returns all registered stored queries in registration order.
func (reg *StoredQueryRegistry) List() []*StoredQuery {
	queries := make([]*StoredQuery, 0, len(reg.order))
	for _, name := range reg.order {
		queries = append(queries, reg.queries[name])
	}
	return queries
}

// Describe returns the full declaration of a stored query, with
// parameters in declaration order.
func (reg *StoredQueryRegistry) Describe(name string) (*StoredQuery, error) {
	sq, found := reg.queries[name]
	if !found {
		return nil, NewOWSError(ExcUnknownStoredQuery, "storedQuery", "unknown stored query: %v", name)
	}
	return sq, nil
}

// Resolve substitutes the supplied parameter values into the named
// query's template and translates the concrete filter against the
// feature type, applying the same field and operator validation as
// an ad hoc filter expression.
func (reg *StoredQueryRegistry) Resolve(name string, supplied map[string]string, ft *FeatureType) (*PredicateNode, error) {
	sq, err := reg.Describe(name)
	if err != nil {
		return nil, err
	}

	params, err := sq.bindParameters(supplied, ft)
	if err != nil {
		return nil, err
	}

	if sq.builtinByID {
		if len(ft.IDField) == 0 {
			return nil, NewOWSError(ExcUnknownStoredQuery, "storedQuery", "feature type %v has no id field configured", ft.Name)
		}
		// The id parameter arrives as a string; convert it to the id
		// field's declared type so the translator accepts the literal
		// on non-string id columns.
		idField, found := ft.Field(ft.IDField)
		if !found {
			return nil, NewOWSError(ExcSchemaUnavailable, "storedQuery", "id field %v is not part of the %v schema", ft.IDField, ft.Name)
		}
		idVal, err := convertParamValue(StoredQueryParam{Name: "id", Type: idField.Type}, params["id"], ft)
		if err != nil {
			return nil, err
		}
		return TranslateFilter(map[string]interface{}{ft.IDField + "__eq": idVal}, ft)
	}

	filter := make(map[string]interface{})
	for key, tpl := range sq.Filter {
		expr, isExpr := templateExpression(tpl)
		if !isExpr {
			filter[key] = tpl
			continue
		}

		parsed, err := goeval.NewEvaluableExpression(expr)
		if err != nil {
			return nil, NewOWSError(ExcInvalidParameter, "storedQuery", "stored query %v: invalid expression for %v: %v", name, key, err)
		}
		val, err := parsed.Evaluate(params)
		if err != nil {
			return nil, NewOWSError(ExcInvalidParameter, "storedQuery", "stored query %v: failed to evaluate expression for %v: %v", name, key, err)
		}
		filter[key] = val
	}

	return TranslateFilter(filter, ft)
}

// bindParameters checks every declared parameter has a supplied
// value or a default and converts values to the declared type.
func (sq *StoredQuery) bindParameters(supplied map[string]string, ft *FeatureType) (map[string]interface{}, error) {
	params := make(map[string]interface{})
	for _, p := range sq.Parameters {
		raw, found := supplied[p.Name]
		if !found {
			if p.Default == nil {
				return nil, NewOWSError(ExcMissingParameter, p.Name, "stored query %v requires parameter %v", sq.Name, p.Name)
			}
			val, err := convertParamValue(p, p.Default, ft)
			if err != nil {
				return nil, err
			}
			params[p.Name] = val
			continue
		}

		val, err := convertParamValue(p, raw, ft)
		if err != nil {
			return nil, err
		}
		params[p.Name] = val
	}
	return params, nil
}

func convertParamValue(p StoredQueryParam, raw interface{}, ft *FeatureType) (interface{}, error) {
	mismatch := func(v interface{}) *OWSError {
		return NewOWSError(ExcParameterTypeMismatch, p.Name, "value %v does not match declared type %v", v, p.Type)
	}

	switch p.Type {
	case TypeString:
		if s, ok := raw.(string); ok {
			return s, nil
		}
		return nil, mismatch(raw)
	case TypeInteger:
		switch v := raw.(type) {
		case string:
			i, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, mismatch(v)
			}
			return i, nil
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		}
		return nil, mismatch(raw)
	case TypeFloat:
		switch v := raw.(type) {
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, mismatch(v)
			}
			return f, nil
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		}
		return nil, mismatch(raw)
	case TypeDateTime:
		switch v := raw.(type) {
		case string:
			t, err := ParseTime(v)
			if err != nil {
				return nil, mismatch(v)
			}
			return t, nil
		case time.Time:
			return v.UTC(), nil
		}
		return nil, mismatch(raw)
	case TypeGeometry:
		s, ok := raw.(string)
		if !ok {
			return nil, mismatch(raw)
		}
		// parsed for validation only; the filter translator parses
		// the substituted literal again
		crs := "EPSG:4326"
		if ft != nil {
			crs = ft.CRS
		}
		if _, err := ParseWKT(s, crs); err != nil {
			return nil, NewOWSError(ExcParameterTypeMismatch, p.Name, "value is not valid WKT: %v", s)
		}
		return s, nil
	}
	return nil, mismatch(raw)
}

// templateExpression reports whether a template value is a "${...}"
// expression and returns its body.
func templateExpression(tpl string) (string, bool) {
	trimmed := strings.TrimSpace(tpl)
	if strings.HasPrefix(trimmed, "${") && strings.HasSuffix(trimmed, "}") {
		return trimmed[2 : len(trimmed)-1], true
	}
	return "", false
}

package processor

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nci/gows/utils"
)

// MemStore serves feature collections held in process memory. It
// backs tests and small static datasets that do not warrant a
// database. Spatial operators are evaluated on bounding boxes, which
// is exact for bbox queries and a conservative approximation for the
// named predicates.
type MemStore struct {
	mu          sync.RWMutex
	collections map[string][]*utils.Feature
}

func NewMemStore() *MemStore {
	return &MemStore{collections: make(map[string][]*utils.Feature)}
}

func (m *MemStore) Close() error {
	return nil
}

// RegisterCollection installs the features served for a data source,
// replacing any previous set. Features are kept sorted by ID so
// paging windows are stable.
func (m *MemStore) RegisterCollection(dataSource string, features []*utils.Feature) {
	sorted := make([]*utils.Feature, len(features))
	copy(sorted, features)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	m.mu.Lock()
	m.collections[dataSource] = sorted
	m.mu.Unlock()
}

func (m *MemStore) Query(ctx context.Context, geoReq *GeoFeatureRequest, errChan chan error) chan *utils.Feature {
	out := make(chan *utils.Feature, 100)

	go func() {
		defer close(out)

		m.mu.RLock()
		features, found := m.collections[geoReq.FeatureType.DataSource]
		m.mu.RUnlock()
		if !found {
			errChan <- utils.NewOWSError(utils.ExcStoreUnavailable, "", "no collection registered for data source %v", geoReq.FeatureType.DataSource)
			return
		}

		skipped := 0
		sent := 0
		for _, feat := range features {
			match, err := EvalPredicate(geoReq.Predicate, feat)
			if err != nil {
				errChan <- err
				return
			}
			if !match {
				continue
			}

			if skipped < geoReq.StartIndex {
				skipped++
				continue
			}
			if sent >= geoReq.MaxFeatures {
				return
			}

			select {
			case out <- feat:
				sent++
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
		}
	}()

	return out
}

// SchemaOf infers a schema from the first feature of a collection.
func (m *MemStore) SchemaOf(ctx context.Context, dataSource string) ([]utils.FieldDef, error) {
	m.mu.RLock()
	features, found := m.collections[dataSource]
	m.mu.RUnlock()
	if !found || len(features) == 0 {
		return nil, utils.NewOWSError(utils.ExcSchemaUnavailable, "typeName", "no features registered for data source %v", dataSource)
	}

	feat := features[0]
	var names []string
	for name := range feat.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	var fields []utils.FieldDef
	for _, name := range names {
		semType := utils.TypeString
		switch feat.Properties[name].(type) {
		case int64, int:
			semType = utils.TypeInteger
		case float64:
			semType = utils.TypeFloat
		case time.Time:
			semType = utils.TypeDateTime
		}
		fields = append(fields, utils.FieldDef{Name: name, Type: semType, Nullable: true})
	}
	if feat.Geometry != nil {
		fields = append(fields, utils.FieldDef{Name: "geometry", Type: utils.TypeGeometry, Nullable: true})
	}
	return fields, nil
}

// EvalPredicate evaluates a translated predicate against a single
// feature.
func EvalPredicate(node *utils.PredicateNode, feat *utils.Feature) (bool, error) {
	switch node.Type {
	case utils.NodeAll:
		return true, nil

	case utils.NodeComparison:
		return evalComparison(node, feat)

	case utils.NodeSpatial:
		return evalSpatial(node, feat)

	case utils.NodeConjunction:
		for _, child := range node.Children {
			match, err := EvalPredicate(child, feat)
			if err != nil || !match {
				return false, err
			}
		}
		return true, nil

	case utils.NodeNegation:
		match, err := EvalPredicate(node.Children[0], feat)
		return !match, err
	}

	return false, fmt.Errorf("unknown predicate node type %v", node.Type)
}

func evalComparison(node *utils.PredicateNode, feat *utils.Feature) (bool, error) {
	val, found := feat.Properties[node.Field]
	if !found || val == nil {
		// null never satisfies a comparison, matching SQL semantics
		return false, nil
	}

	if node.Operator == "like" {
		s, sOK := val.(string)
		pattern, pOK := node.Value.(string)
		if !sOK || !pOK {
			return false, nil
		}
		return matchLike(pattern, s), nil
	}

	cmp, comparable := compareValues(val, node.Value)
	if !comparable {
		return false, nil
	}

	switch node.Operator {
	case "eq":
		return cmp == 0, nil
	case "ne":
		return cmp != 0, nil
	case "gt":
		return cmp > 0, nil
	case "lt":
		return cmp < 0, nil
	case "gte":
		return cmp >= 0, nil
	case "lte":
		return cmp <= 0, nil
	}
	return false, fmt.Errorf("unknown comparison operator %v", node.Operator)
}

func asFloat(val interface{}) (float64, bool) {
	switch v := val.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func compareValues(a, b interface{}) (int, bool) {
	if af, aOK := asFloat(a); aOK {
		bf, bOK := asFloat(b)
		if !bOK {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		switch {
		case av.Before(bv):
			return -1, true
		case av.After(bv):
			return 1, true
		}
		return 0, true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if av == bv {
			return 0, true
		}
		if !av {
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// matchLike implements SQL LIKE patterns with % and _ wildcards.
func matchLike(pattern, s string) bool {
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func bboxOverlaps(a, b [4]float64) bool {
	return a[0] <= b[2] && a[2] >= b[0] && a[1] <= b[3] && a[3] >= b[1]
}

func bboxContains(outer, inner [4]float64) bool {
	return inner[0] >= outer[0] && inner[1] >= outer[1] && inner[2] <= outer[2] && inner[3] <= outer[3]
}

func evalSpatial(node *utils.PredicateNode, feat *utils.Feature) (bool, error) {
	if feat.Geometry == nil {
		return node.Operator == "disjoint", nil
	}

	featBox := feat.Geometry.BBox()
	queryBox := node.Geometry.BBox()

	switch node.Operator {
	case "bbox", "intersects", "crosses", "touches":
		return bboxOverlaps(featBox, queryBox), nil
	case "within":
		return bboxContains(queryBox, featBox), nil
	case "contains":
		return bboxContains(featBox, queryBox), nil
	case "disjoint":
		return !bboxOverlaps(featBox, queryBox), nil
	case "equals":
		return featBox == queryBox, nil
	}
	return false, fmt.Errorf("unknown spatial operator %v", node.Operator)
}

package processor

import (
	"context"

	"github.com/nci/gows/utils"
)

// GeoFeatureRequest is the unit of work handed to a feature store:
// one feature type, one translated predicate and the paging window.
type GeoFeatureRequest struct {
	FeatureType *utils.FeatureType
	Predicate   *utils.PredicateNode
	MaxFeatures int
	StartIndex  int
}

// FeatureStore runs translated predicates against a backing
// collection. Query streams matching features on the returned
// channel, closing it when the result set is exhausted; failures and
// context cancellations go to errChan. Features arrive ordered by
// their identifier so paging windows are stable between requests.
type FeatureStore interface {
	Query(ctx context.Context, geoReq *GeoFeatureRequest, errChan chan error) chan *utils.Feature
	SchemaOf(ctx context.Context, dataSource string) ([]utils.FieldDef, error)
	Close() error
}

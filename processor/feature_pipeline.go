package processor

import (
	"context"

	"github.com/nci/gows/utils"
)

// FeaturePipeline wires one GetFeature request through the backing
// store. Errors surface on the shared Error channel; the caller
// selects between it and the feature stream.
type FeaturePipeline struct {
	Context context.Context
	Error   chan error
	Store   FeatureStore
}

func InitFeaturePipeline(ctx context.Context, store FeatureStore, errChan chan error) *FeaturePipeline {
	return &FeaturePipeline{
		Context: ctx,
		Error:   errChan,
		Store:   store,
	}
}

func (fp *FeaturePipeline) Process(geoReq *GeoFeatureRequest) chan *utils.Feature {
	return fp.Store.Query(fp.Context, geoReq, fp.Error)
}

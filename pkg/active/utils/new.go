package activeutils

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/active"
	"github.com/papercomputeco/engram/pkg/active/inmemory"
	"github.com/papercomputeco/engram/pkg/active/sqlitevec"
)

type NewStoreOpts struct {
	ProviderType string
	DBPath       string
	Dimensions   uint
	Logger       *zap.Logger
}

func NewStore(o *NewStoreOpts) (active.Store, error) {
	switch o.ProviderType {
	case "sqlitevec":
		return sqlitevec.New(sqlitevec.Config{
			DBPath:     o.DBPath,
			Dimensions: o.Dimensions,
		}, o.Logger)
	case "inmemory":
		return inmemory.New(inmemory.Config{
			Dimensions: o.Dimensions,
		})
	default:
		return nil, fmt.Errorf("unsupported active store provider: %s", o.ProviderType)
	}
}

package archiveutils

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/archive"
	"github.com/papercomputeco/engram/pkg/archive/postgres"
	"github.com/papercomputeco/engram/pkg/archive/sqlite"
)

type NewStoreOpts struct {
	ProviderType string
	DBPath       string
	ConnStr      string
	Logger       *zap.Logger
}

func NewStore(ctx context.Context, o *NewStoreOpts) (archive.Store, error) {
	switch o.ProviderType {
	case "sqlite":
		return sqlite.New(sqlite.Config{
			DBPath: o.DBPath,
		}, o.Logger)
	case "postgres":
		return postgres.New(ctx, o.ConnStr, o.Logger)
	default:
		return nil, fmt.Errorf("unsupported archive provider: %s", o.ProviderType)
	}
}

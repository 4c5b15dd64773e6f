package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophmsg/internal/client/config"
	"github.com/dmitrijs2005/gophmsg/internal/common"
	"github.com/dmitrijs2005/gophmsg/internal/logging"
	"github.com/dmitrijs2005/gophmsg/internal/objectstore"
	"github.com/dmitrijs2005/gophmsg/internal/realtime"
	"github.com/dmitrijs2005/gophmsg/internal/remote"
	"github.com/dmitrijs2005/gophmsg/internal/remote/memory"
	"github.com/dmitrijs2005/gophmsg/internal/remote/postgres"
)

// openFeed connects to NATS when configured, otherwise uses an in-process bus.
func openFeed(c *config.Config) (realtime.Publisher, realtime.Feed, func() error, error) {
	if c.NatsURL == "" {
		bus := realtime.NewMemoryBus()
		return bus, bus, nil, nil
	}

	suffix, err := common.MakeRandHexString(4)
	if err != nil {
		return nil, nil, nil, err
	}
	bus, err := realtime.ConnectNats(c.NatsURL, "gophmsg-"+suffix)
	if err != nil {
		return nil, nil, nil, err
	}
	return bus, bus, func() error { bus.Close(); return nil }, nil
}

// openStore connects to PostgreSQL when a DSN is configured. Without one the
// client runs against an in-memory store, which is only useful for demos.
func openStore(ctx context.Context, c *config.Config, publisher realtime.Publisher, logger logging.Logger) (remote.Store, func() error, error) {
	if c.DatabaseDSN == "" {
		logger.Warn(ctx, "no database DSN configured, using in-memory store")
		return memory.NewStore().WithPublisher(publisher), nil, nil
	}

	db, err := postgres.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("remote store: %w", err)
	}
	return postgres.NewStore(db, publisher, logger), db.Close, nil
}

func openObjects(c *config.Config) objectstore.Store {
	if c.S3Bucket == "" {
		return objectstore.NewMemoryStore()
	}
	return objectstore.NewS3Store(objectstore.S3Config{
		Region:   c.S3Region,
		User:     c.S3User,
		Password: c.S3Password,
		Endpoint: c.S3Endpoint,
		Bucket:   c.S3Bucket,
	})
}

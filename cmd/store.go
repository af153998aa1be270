package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/screening-cli/internal/blob"
	"github.com/sells-group/screening-cli/internal/config"
	"github.com/sells-group/screening-cli/internal/store"
)

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "screening.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initBlob(ctx context.Context, c *config.Config) (blob.Store, error) {
	switch c.Blob.Driver {
	case "file", "":
		return blob.NewFileStore(c.Blob.Dir)
	case "s3":
		return blob.NewS3Store(ctx, blob.S3Config{
			Bucket:   c.Blob.Bucket,
			Region:   c.Blob.Region,
			Endpoint: c.Blob.Endpoint,
			Prefix:   c.Blob.Prefix,
		})
	default:
		return nil, eris.Errorf("unsupported blob driver: %s", c.Blob.Driver)
	}
}

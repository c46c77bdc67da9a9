package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/rateledger/deposits-cli/internal/frn"
	"github.com/rateledger/deposits-cli/internal/pipeline"
	"github.com/rateledger/deposits-cli/internal/store"
)

// initStore opens the configured backend and runs migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	case "sqlite", "":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initPipeline builds the pipeline with its FRN registry and store.
func initPipeline(ctx context.Context) (*pipeline.Pipeline, store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	reg, err := frn.LoadRegistry(cfg.FRN.RegistryPath)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, nil, eris.Wrap(err, "load FRN registry")
	}

	matcher := frn.NewMatcher(cfg.FRN, reg)
	return pipeline.New(cfg, st, matcher), st, nil
}

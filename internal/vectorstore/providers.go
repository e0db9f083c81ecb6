package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"hanjang/internal/config"
	"hanjang/internal/ddb"
)

// Backends carries the shared handles a backend may need.
type Backends struct {
	SQLite *sql.DB
	Dynamo ddb.API
}

// NewFromConfig creates the VectorStore named by cfg.VectorStore. The
// returned close func releases backend-owned resources.
func NewFromConfig(ctx context.Context, cfg config.Config, b Backends) (VectorStore, func(), error) {
	nop := func() {}
	switch cfg.VectorStore {
	case "", "memory":
		return NewMemory(), nop, nil
	case "noop":
		return Noop{}, nop, nil
	case "sqlite":
		if b.SQLite == nil {
			return nil, nop, errors.New("vectorstore: sqlite backend needs an open database")
		}
		return NewSQLite(b.SQLite), nop, nil
	case "dynamodb":
		if b.Dynamo == nil {
			return nil, nop, errors.New("vectorstore: dynamodb backend needs a client")
		}
		return NewDynamo(b.Dynamo, cfg.Table), nop, nil
	case "pgvector":
		pg, err := NewPGVector(ctx, cfg.PGVectorDSN)
		if err != nil {
			return nil, nop, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, nop, err
		}
		return pg, pg.Close, nil
	default:
		return nil, nop, fmt.Errorf("vectorstore: unknown backend %q", cfg.VectorStore)
	}
}

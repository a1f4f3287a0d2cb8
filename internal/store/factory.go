package store

import (
	"fmt"

	"github.com/stratusmedia/cedrus/internal/config"
)

// New dispatches to the concrete Store matching config.DB.Kind. Unlike the
// teacher's db.New, there is no postgres-falls-back-to-sqlite path: a silent
// backend switch would violate the durability guarantee the Write Path
// depends on, so a failed connection is a hard error.
func New(cfg config.DBConfig) (Store, error) {
	switch cfg.Kind {
	case config.DBPostgres:
		return NewPostgres(cfg.DSN)
	case config.DBSQLite:
		return NewSQLite(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported db kind: %s", cfg.Kind)
	}
}

// MustNew creates a Store or panics, for wiring code where a failed
// connection is fatal to the process.
func MustNew(cfg config.DBConfig) Store {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

package users

import (
	"context"
	"fmt"

	"github.com/lachlan2k/gatehouse/internal/config"
)

// Open builds the store named by store.driver.
func Open(ctx context.Context, conf *config.Config) (Store, error) {
	switch conf.Store.Driver {
	case "sqlite":
		return OpenSQLite(conf.Store.SQLitePath)
	case "redis":
		r := conf.Store.Redis
		return OpenRedis(ctx, r.Addr, r.Password, r.DB, r.KeyPrefix)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", conf.Store.Driver)
	}
}

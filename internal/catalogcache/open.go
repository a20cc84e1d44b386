package catalogcache

import (
	"context"
	"fmt"

	"github.com/whatnick/aws-tf-vibe/internal/core/config"
)

var (
	_ Store = (*LRUStore)(nil)
	_ Store = (*RedisStore)(nil)
)

// Open builds the store selected by cfg.Driver. It returns nil for "none".
func Open(ctx context.Context, cfg config.CacheCfg) (Store, error) {
	switch cfg.Driver {
	case "", DriverNone:
		return nil, nil
	case DriverLRU:
		return NewLRU(cfg.Size, cfg.TTL), nil
	case DriverRedis:
		s, err := NewRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown catalog cache driver %q", cfg.Driver)
	}
}

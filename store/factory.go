package store

import (
	"context"
	"fmt"

	"github.com/rushteam/oralcare/core"
)

// Backend 名称
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
	BackendSQLite = "sqlite"
)

// Config 选择并配置存储后端
type Config struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
	SQLitePath    string `yaml:"sqlite_path"`
}

// Open 根据配置打开 Repository，后端不可达时返回 store UNAVAILABLE
func Open(ctx context.Context, cfg Config) (core.Repository, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewKVRecordStore(NewMemoryStore()), nil
	case BackendRedis:
		kv, err := NewRedisStore(ctx, RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return nil, err
		}
		return NewKVRecordStore(kv), nil
	case BackendMongo:
		return NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case BackendSQLite:
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	default:
		return nil, core.NewDomainError(core.ModuleStore, core.ErrorCodeNotSupported, fmt.Sprintf("unsupported store backend %q", cfg.Backend))
	}
}

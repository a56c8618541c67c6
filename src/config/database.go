package config

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/admi-n/excavator-audit/src/internal/report"
)

// sqlDriverNames 配置中的驱动名到 database/sql 注册名
var sqlDriverNames = map[string]string{
	"mysql":    "mysql",
	"postgres": "pgx",
	"sqlite3":  "sqlite3",
}

// InitDB 打开连接池并 ping 验证
func InitDB(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	name, ok := sqlDriverNames[driver]
	if !ok {
		return nil, fmt.Errorf("InitDB: unsupported driver %s", driver)
	}

	if driver == "mysql" {
		// 时间列需要 parseTime
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("InitDB: invalid mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		if cfg.Params == nil {
			cfg.Params = map[string]string{}
		}
		if _, ok := cfg.Params["charset"]; !ok {
			cfg.Params["charset"] = "utf8mb4"
		}
		dsn = cfg.FormatDSN()
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("InitDB: %w", err)
	}

	// 设置连接池参数
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}

	// 验证连接
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("InitDB ping failed: %w", err)
	}

	return db, nil
}

// OpenStore 按配置创建审计记录存储，返回的 close 函数释放底层资源
func OpenStore(ctx context.Context, cfg StorageConfig) (report.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case "", "memory":
		return report.NewMemoryStore(), noop, nil

	case "pebble":
		store, err := report.NewPebbleStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	case "mysql", "postgres", "sqlite3":
		db, err := InitDB(ctx, cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		store, err := report.NewSQLStore(ctx, db, report.Dialect(cfg.Driver))
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, db.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

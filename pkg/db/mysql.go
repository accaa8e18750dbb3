package db

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
)

type MysqlConfig struct {
	Username     string
	Password     string
	Host         string
	Port         string
	DBName       string
	MaxOpenConns int
	MaxIdleConns int
}

// DSN 生成连接串，时间统一按 UTC 解析
func (c MysqlConfig) DSN() string {
	dc := mysql.NewConfig()
	dc.User = c.Username
	dc.Passwd = c.Password
	dc.Net = "tcp"
	dc.Addr = net.JoinHostPort(c.Host, c.Port)
	dc.DBName = c.DBName
	dc.ParseTime = true
	dc.Loc = time.UTC
	dc.Params = map[string]string{"charset": "utf8mb4"}
	return dc.FormatDSN()
}

// Open 打开 gorm 连接并配置连接池
func Open(c MysqlConfig) (*gorm.DB, error) {
	db, err := gorm.Open(gormmysql.Open(c.DSN()), &gorm.Config{
		PrepareStmt: true, // 开启预编译提升性能
		NowFunc: func() time.Time {
			return time.Now().UTC() // 写入用 UTC
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect mysql %s: %w", c.Host, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying sql.DB: %w", err)
	}
	maxOpen, maxIdle := c.MaxOpenConns, c.MaxIdleConns
	if maxOpen <= 0 {
		maxOpen = 100
	}
	if maxIdle <= 0 {
		maxIdle = 20
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// HealthCheck pings the pool every interval until ctx is done.
func HealthCheck(ctx context.Context, db *gorm.DB, interval time.Duration) {
	sqlDB, err := db.DB()
	if err != nil {
		slog.Error("health check disabled", "error", err)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sqlDB.PingContext(ctx); err != nil {
				slog.Warn("Database connection health check failed", "error", err)
			}
		}
	}
}

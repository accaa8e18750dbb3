package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Daneel-Li/clubpay/internal/config"
	"github.com/Daneel-Li/clubpay/internal/dao"
	"github.com/Daneel-Li/clubpay/internal/events"
	"github.com/Daneel-Li/clubpay/internal/handlers"
	"github.com/Daneel-Li/clubpay/internal/services"
	"github.com/Daneel-Li/clubpay/internal/vendors/wechatpay"
	"github.com/Daneel-Li/clubpay/pkg/db"
	"github.com/Daneel-Li/clubpay/pkg/lock"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

func setupLogging(logLevel string) {
	switch strings.ToLower(logLevel) {
	case "debug":
		slog.SetLogLoggerLevel(slog.LevelDebug)
	case "info":
		slog.SetLogLoggerLevel(slog.LevelInfo)
	case "warn":
		slog.SetLogLoggerLevel(slog.LevelWarn)
	case "error":
		slog.SetLogLoggerLevel(slog.LevelError)
	}
}

// initDatabase 初始化数据库连接
func initDatabase(ctx context.Context, cfg *config.Config) *gorm.DB {
	m := cfg.Mysql
	gdb, err := db.Open(db.MysqlConfig{
		Username:     m.Username,
		Password:     m.Password,
		Host:         m.Host,
		Port:         m.Port,
		DBName:       m.DBName,
		MaxOpenConns: m.MaxOpenConns,
		MaxIdleConns: m.MaxIdleConns,
	})
	if err != nil {
		log.Fatal("Could not connect to the database: ", err)
	}
	// 添加连接健康检查
	go db.HealthCheck(ctx, gdb, time.Minute)
	return gdb
}

func initRedis(ctx context.Context, cfg *config.Config) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("Could not connect to redis: ", err)
	}
	return rdb
}

// initPublishers 组装事件通道：websocket 推送必选，MQTT/RabbitMQ 连接失败时跳过
func initPublishers(ctx context.Context, cfg *config.Config, hub *events.WSHub) (events.Publisher, func()) {
	sinks := events.Multi{hub}
	var closers []func()

	if cfg.Mqtt.Broker != "" {
		p, err := events.NewMQTTPublisher(cfg.Mqtt)
		if err != nil {
			slog.Warn("mqtt publisher disabled", "broker", cfg.Mqtt.Broker, "error", err)
		} else {
			sinks = append(sinks, p)
			closers = append(closers, p.Close)
		}
	}
	if cfg.RabbitMQ.URL != "" {
		p, err := events.NewAMQPPublisher(cfg.RabbitMQ)
		if err != nil {
			slog.Warn("rabbitmq publisher disabled", "error", err)
		} else {
			sinks = append(sinks, p)
			closers = append(closers, func() { _ = p.Close() })
		}
	}

	hub.StartCleanup(ctx, 30*time.Second)
	return events.NewAsyncPublisher(sinks, 32, 5*time.Second), func() {
		for _, c := range closers {
			c()
		}
	}
}

func main() {
	cfg := config.GetConfig()

	// 设置日志级别
	setupLogging(cfg.Loglevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb := initDatabase(ctx, cfg)
	repo := dao.NewMysqlRepository(gdb)
	if cfg.AutoMigrate {
		if err := repo.AutoMigrate(); err != nil {
			log.Fatal("auto migrate failed: ", err)
		}
	}

	rdb := initRedis(ctx, cfg)
	defer rdb.Close()
	lockOpts := lock.DefaultOptions()
	if cfg.Redis.LockPrefix != "" {
		lockOpts.Prefix = cfg.Redis.LockPrefix
	}
	locker := lock.NewRedisLocker(rdb, lockOpts)

	gateway, err := wechatpay.New(ctx, cfg.WechatPayment)
	if err != nil {
		log.Fatal("init wechat pay failed: ", err)
	}

	jwt := services.NewJWTService(cfg.JwtIssuer, cfg.JwtKey)
	hub := events.NewWSHub(jwt.ValidateToken)
	publisher, closePublishers := initPublishers(ctx, cfg, hub)
	defer closePublishers()

	svc := services.NewContainer(cfg, repo, locker, gateway, publisher)
	scheduler, err := svc.NewScheduler(cfg)
	if err != nil {
		log.Fatal("init scheduler failed: ", err)
	}
	scheduler.Start()

	router := handlers.NewRouter(handlers.NewHandler(svc, hub), svc.JWT, cfg.APIKey)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%v", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Starting HTTPS server: " + server.Addr + "...")
		var err error
		if cfg.Tls.CertPath != "" {
			err = server.ListenAndServeTLS(cfg.Tls.CertPath, cfg.Tls.KeyPath)
		} else {
			slog.Warn("tls not configured, serving plain http")
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server: " + err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		slog.Error("scheduler shutdown failed", "error", err)
	}
}

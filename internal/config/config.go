package config

import (
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// MysqlConfig 存储数据库连接信息
type MysqlConfig struct {
	Username     string `json:"username" mapstructure:"username"`
	Password     string `json:"password" mapstructure:"password"`
	Host         string `json:"host" mapstructure:"host"`
	Port         string `json:"port" mapstructure:"port"`
	DBName       string `json:"dbname" mapstructure:"dbname"`
	MaxOpenConns int    `json:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns" mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Addr       string `json:"addr" mapstructure:"addr"`
	Password   string `json:"password" mapstructure:"password"`
	DB         int    `json:"db" mapstructure:"db"`
	LockPrefix string `json:"lock_prefix" mapstructure:"lock_prefix"`
}

type RabbitMQConfig struct {
	URL   string `json:"url" mapstructure:"url"`
	Queue string `json:"queue" mapstructure:"queue"`
}

type MqttConfig struct {
	Broker      string `json:"broker" mapstructure:"broker"`
	ClientID    string `json:"clientid" mapstructure:"clientid"`
	Username    string `json:"username" mapstructure:"username"`
	Password    string `json:"password" mapstructure:"password"`
	TopicPrefix string `json:"topic_prefix" mapstructure:"topic_prefix"`
}

type Tls struct {
	CertPath string `json:"cert_path" mapstructure:"cert_path"`
	KeyPath  string `json:"key_path" mapstructure:"key_path"`
}

// 微信支付相关参数
type WechatPaymentConfig struct {
	WechatpayPublicKeyID   string `json:"wechatpay_public_key_id" mapstructure:"wechatpay_public_key_id"`
	WechatpayPublicKeyPath string `json:"wechatpay_public_key_path" mapstructure:"wechatpay_public_key_path"`
	AppID                  string `json:"app_id" mapstructure:"app_id"`
	MchID                  string `json:"mch_id" mapstructure:"mch_id"`
	MchCertificateSerial   string `json:"mch_certificate_serial" mapstructure:"mch_certificate_serial"`
	MchPrivateKeyPath      string `json:"mch_private_key_path" mapstructure:"mch_private_key_path"`
	NotifyURL              string `json:"notify_url" mapstructure:"notify_url"`
	RefundNotifyURL        string `json:"refund_notify_url" mapstructure:"refund_notify_url"`
	MchAPIV3Key            string `json:"mch_apiv3_key" mapstructure:"mch_apiv3_key"`
	QueryQPS               int    `json:"query_qps" mapstructure:"query_qps"` // 查单限流
}

// LedgerConfig 平台费率与提现规则
type LedgerConfig struct {
	PlatformFeeRate     float64 `json:"platform_fee_rate" mapstructure:"platform_fee_rate"`
	WithdrawalMinAmount float64 `json:"withdrawal_min_amount" mapstructure:"withdrawal_min_amount"`
	WithdrawalFeeRate   float64 `json:"withdrawal_fee_rate" mapstructure:"withdrawal_fee_rate"`
}

type OrderConfig struct {
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
	ExpirySpec  string        `json:"expiry_spec" mapstructure:"expiry_spec"` // cron spec
	ExpiryBatch int           `json:"expiry_batch" mapstructure:"expiry_batch"`
	// 支付中订单超时后与网关对账
	ReconcileSpec string `json:"reconcile_spec" mapstructure:"reconcile_spec"`
}

type SettlementConfig struct {
	SweepSpec   string        `json:"sweep_spec" mapstructure:"sweep_spec"`
	SettleDelay time.Duration `json:"settle_delay" mapstructure:"settle_delay"` // 活动结束多久后自动结算
	LockTTL     time.Duration `json:"lock_ttl" mapstructure:"lock_ttl"`
	SweepBatch  int           `json:"sweep_batch" mapstructure:"sweep_batch"`
}

type RefundTierConfig struct {
	HoursBeforeStart int `json:"hours_before_start" mapstructure:"hours_before_start"`
	Percent          int `json:"percent" mapstructure:"percent"`
}

// RefundPolicyConfig is used when neither the activity nor the club has a policy.
type RefundPolicyConfig struct {
	Tiers         []RefundTierConfig `json:"tiers" mapstructure:"tiers"`
	NoRefundHours int                `json:"no_refund_hours" mapstructure:"no_refund_hours"`
}

type VerificationConfig struct {
	Secret string        `json:"secret" mapstructure:"secret"`
	MaxAge time.Duration `json:"max_age" mapstructure:"max_age"`
}

type Config struct {
	JwtIssuer     string              `json:"jwt_issuer" mapstructure:"jwt_issuer"`
	APIKey        string              `json:"api_key" mapstructure:"api_key"`
	Loglevel      string              `json:"log_level" mapstructure:"log_level"`
	ServerPort    int32               `json:"server_port" mapstructure:"server_port"`
	JwtKeyPath    string              `json:"jwt_key_path" mapstructure:"jwt_key_path"` // jwt加密密钥路径
	JwtKey        []byte              `json:"-" mapstructure:"-"`
	AutoMigrate   bool                `json:"auto_migrate" mapstructure:"auto_migrate"`
	Tls           Tls                 `json:"tls" mapstructure:"tls"`
	Mysql         MysqlConfig         `json:"mysql" mapstructure:"mysql"`
	Redis         RedisConfig         `json:"redis" mapstructure:"redis"`
	RabbitMQ      RabbitMQConfig      `json:"rabbitmq" mapstructure:"rabbitmq"`
	Mqtt          MqttConfig          `json:"mqtt" mapstructure:"mqtt"`
	WechatPayment WechatPaymentConfig `json:"wechat_payment" mapstructure:"wechat_payment"` // 微信支付相关参数
	Ledger        LedgerConfig        `json:"ledger" mapstructure:"ledger"`
	Orders        OrderConfig         `json:"orders" mapstructure:"orders"`
	Settlement    SettlementConfig    `json:"settlement" mapstructure:"settlement"`
	RefundPolicy  RefundPolicyConfig  `json:"refund_policy" mapstructure:"refund_policy"`
	Verification  VerificationConfig  `json:"verification" mapstructure:"verification"`
}

// Defaults returns a configuration that runs against local services.
func Defaults() *Config {
	return &Config{
		JwtIssuer:  "clubpay",
		Loglevel:   "info",
		ServerPort: 8443,
		Mysql: MysqlConfig{
			Host:         "127.0.0.1",
			Port:         "3306",
			DBName:       "clubpay",
			MaxOpenConns: 100,
			MaxIdleConns: 20,
		},
		Redis:    RedisConfig{Addr: "127.0.0.1:6379", LockPrefix: "lock:"},
		RabbitMQ: RabbitMQConfig{Queue: "clubpay.events"},
		Mqtt:     MqttConfig{ClientID: "clubpay-server", TopicPrefix: "clubpay/events"},
		WechatPayment: WechatPaymentConfig{
			QueryQPS: 10,
		},
		Ledger: LedgerConfig{
			PlatformFeeRate:     0.05,
			WithdrawalMinAmount: 1,
			WithdrawalFeeRate:   0,
		},
		Orders: OrderConfig{
			Timeout:     15 * time.Minute,
			ExpirySpec:  "@every 1m",
			ExpiryBatch: 200,

			ReconcileSpec: "@every 5m",
		},
		Settlement: SettlementConfig{
			SweepSpec:   "@every 1h",
			SettleDelay: 24 * time.Hour,
			LockTTL:     60 * time.Second,
			SweepBatch:  50,
		},
		RefundPolicy: RefundPolicyConfig{
			Tiers: []RefundTierConfig{
				{HoursBeforeStart: 168, Percent: 100},
				{HoursBeforeStart: 72, Percent: 80},
				{HoursBeforeStart: 24, Percent: 50},
			},
			NoRefundHours: 24,
		},
		Verification: VerificationConfig{MaxAge: 7 * 24 * time.Hour},
	}
}

// keys that may be supplied through CLUBPAY_* environment variables
var envKeys = []string{
	"log_level",
	"server_port",
	"api_key",
	"jwt_issuer",
	"jwt_key_path",
	"mysql.host",
	"mysql.port",
	"mysql.username",
	"mysql.password",
	"mysql.dbname",
	"redis.addr",
	"redis.password",
	"rabbitmq.url",
	"mqtt.broker",
	"mqtt.username",
	"mqtt.password",
	"wechat_payment.mch_apiv3_key",
	"wechat_payment.mch_private_key_path",
	"verification.secret",
}

var (
	config *Config
	mu     sync.Mutex
)

// LoadConfig reads an optional .env file, then the JSON config at path, then
// CLUBPAY_* environment overrides, on top of Defaults.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("load .env failed", "error", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("CLUBPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, k := range envKeys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", k, err)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		slog.Warn("config file not found, using defaults", "path", path)
	}

	cfg := Defaults()
	if v.IsSet("refund_policy.tiers") {
		// a configured tier list replaces the default one instead of merging by index
		cfg.RefundPolicy.Tiers = nil
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	if cfg.JwtKeyPath != "" {
		key, err := loadPemKey(cfg.JwtKeyPath)
		if err != nil {
			slog.Error("无法读取jwt私钥文件", "path", cfg.JwtKeyPath, "error", err)
		} else {
			cfg.JwtKey = key
		}
	}
	return cfg, nil
}

func loadPemKey(path string) ([]byte, error) {
	pemData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// 解码PEM格式的密钥
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("无效的PEM格式")
	}
	return block.Bytes, nil
}

// GetConfig returns the process configuration, loading ./config.json on first use.
func GetConfig() *Config {
	mu.Lock()
	defer mu.Unlock()
	if config == nil {
		cfg, err := LoadConfig("./config.json")
		if err != nil {
			slog.Error("error load config", "error", err)
			cfg = Defaults()
		}
		config = cfg
	}
	return config
}

// SetConfig replaces the process configuration.
func SetConfig(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	config = cfg
}

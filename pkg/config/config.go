package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	PublicURL  string `mapstructure:"PUBLIC_URL"`
	NodeID     int64  `mapstructure:"APP_NODE_ID"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Session struct {
		Issuer string `mapstructure:"ISSUER"`
		Secret string `mapstructure:"SECRET"`
	} `mapstructure:"SESSION"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		AutoMigrate    bool   `mapstructure:"AUTO_MIGRATE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Minio struct {
		Endpoint   string `mapstructure:"ENDPOINT"`
		AccessKey  string `mapstructure:"ACCESS_KEY"`
		SecretKey  string `mapstructure:"SECRET_KEY"`
		Secure     bool   `mapstructure:"SECURE"`
		BucketName string `mapstructure:"BUCKET_NAME"`
	} `mapstructure:"MINIO"`
	Payment struct {
		BaseURL       string        `mapstructure:"BASE_URL"`
		SecretKey     string        `mapstructure:"SECRET_KEY"`
		WebhookSecret string        `mapstructure:"WEBHOOK_SECRET"`
		SignatureSkew time.Duration `mapstructure:"SIGNATURE_SKEW"`
		Currency      string        `mapstructure:"CURRENCY"`
		SuccessURL    string        `mapstructure:"SUCCESS_URL"`
		CancelURL     string        `mapstructure:"CANCEL_URL"`
		Timeout       time.Duration `mapstructure:"TIMEOUT"`
		RetryCount    int           `mapstructure:"RETRY_COUNT"`
	} `mapstructure:"PAYMENT"`
	Mail struct {
		BaseURL    string        `mapstructure:"BASE_URL"`
		APIKey     string        `mapstructure:"API_KEY"`
		From       string        `mapstructure:"FROM"`
		Timeout    time.Duration `mapstructure:"TIMEOUT"`
		RetryCount int           `mapstructure:"RETRY_COUNT"`
	} `mapstructure:"MAIL"`
	Tracing struct {
		SampleRatio float64 `mapstructure:"SAMPLE_RATIO"`
	} `mapstructure:"TRACING"`
	Worker struct {
		Concurrency int `mapstructure:"CONCURRENCY"`
	} `mapstructure:"WORKER"`
	Bootstrap struct {
		AdminID    string `mapstructure:"ADMIN_ID"`
		AdminEmail string `mapstructure:"ADMIN_EMAIL"`
	} `mapstructure:"BOOTSTRAP"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "flowmarket")
	v.SetDefault("PUBLIC_URL", "http://localhost:3000")
	v.SetDefault("APP_NODE_ID", 1)
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("SESSION.ISSUER", "flowmarket")
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.PORT", "5432")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("DATABASE.AUTO_MIGRATE", true)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 5)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", 20)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", time.Hour)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME", 10*time.Minute)
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 5*time.Second)
	v.SetDefault("MINIO.BUCKET_NAME", "workflows")
	v.SetDefault("PAYMENT.BASE_URL", "https://api.stripe.com")
	v.SetDefault("PAYMENT.SIGNATURE_SKEW", 5*time.Minute)
	v.SetDefault("PAYMENT.CURRENCY", "usd")
	v.SetDefault("PAYMENT.TIMEOUT", 10*time.Second)
	v.SetDefault("PAYMENT.RETRY_COUNT", 2)
	v.SetDefault("MAIL.BASE_URL", "https://api.resend.com")
	v.SetDefault("MAIL.TIMEOUT", 10*time.Second)
	v.SetDefault("MAIL.RETRY_COUNT", 2)
	v.SetDefault("TRACING.SAMPLE_RATIO", 1.0)
	v.SetDefault("WORKER.CONCURRENCY", 10)

	// keys without a sensible default still have to be known to viper,
	// otherwise AutomaticEnv values are skipped by Unmarshal.
	for _, key := range []string{
		"APP_VERSION", "TLS.CERT_PATH", "TLS.KEY_PATH",
		"SESSION.SECRET", "DATABASE.HOST", "DATABASE.DBNAME", "DATABASE.USER",
		"DATABASE.PASSWORD", "REDIS.PASSWORD", "MINIO.ENDPOINT",
		"MINIO.ACCESS_KEY", "MINIO.SECRET_KEY",
		"PAYMENT.SECRET_KEY", "PAYMENT.WEBHOOK_SECRET", "PAYMENT.SUCCESS_URL",
		"PAYMENT.CANCEL_URL", "MAIL.API_KEY", "MAIL.FROM",
		"BOOTSTRAP.ADMIN_ID", "BOOTSTRAP.ADMIN_EMAIL",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("TLS.ENABLE", false)
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("MINIO.SECURE", false)
}

// LoadConfig reads config.yaml from the working directory (optional) and
// overlays environment variables, e.g. PAYMENT_WEBHOOK_SECRET.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.TLS.Enable && (c.TLS.CertPath == "" || c.TLS.KeyPath == "") {
		return errors.New("tls enabled but TLS.CERT_PATH or TLS.KEY_PATH not provided")
	}
	if c.Session.Secret == "" {
		return errors.New("SESSION.SECRET is required")
	}
	if len(c.Session.Secret) < 32 {
		return errors.New("SESSION.SECRET must be at least 32 bytes")
	}
	if c.Payment.WebhookSecret == "" {
		return errors.New("PAYMENT.WEBHOOK_SECRET is required")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

const minJWTSecretBytes = 32

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort      string `env:"HTTP_PORT" envDefault:"8080"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	AccountStore  string `env:"ACCOUNT_STORE" envDefault:"postgres"`
	DatabaseURL   string `env:"DATABASE_URL"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"secure-auth.db"`
	RunMigrations bool   `env:"RUN_MIGRATIONS" envDefault:"true"`

	JWTIssuer          string `env:"JWT_ISSUER" envDefault:"secure-auth"`
	JWTAudience        string `env:"JWT_AUDIENCE" envDefault:"secure-auth-clients"`
	JWTSecret          string `env:"JWT_SECRET,required"`
	JWTExpiryMinutes   int    `env:"JWT_EXPIRY_MINUTES" envDefault:"60"`
	PurposeTokenSecret string `env:"PURPOSE_TOKEN_SECRET"`

	EmailConfirmTTL  time.Duration `env:"EMAIL_CONFIRM_TTL" envDefault:"24h"`
	PasswordResetTTL time.Duration `env:"PASSWORD_RESET_TTL" envDefault:"1h"`

	LockoutThreshold int           `env:"LOCKOUT_THRESHOLD" envDefault:"5"`
	LockoutDuration  time.Duration `env:"LOCKOUT_DURATION" envDefault:"5m"`

	Argon2MemoryKB    uint32 `env:"ARGON2_MEMORY_KB" envDefault:"65536"`
	Argon2Time        uint32 `env:"ARGON2_TIME" envDefault:"1"`
	Argon2Parallelism uint8  `env:"ARGON2_PARALLELISM" envDefault:"2"`

	GoogleClientID string `env:"GOOGLE_CLIENT_ID"`

	ForgotPasswordWindow time.Duration `env:"FORGOT_PASSWORD_WINDOW" envDefault:"10m"`
	ForgotPasswordMax    int           `env:"FORGOT_PASSWORD_MAX" envDefault:"3"`

	MailMode     string `env:"MAIL_MODE" envDefault:"log"`
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPass     string `env:"SMTP_PASS"`
	SMTPFrom     string `env:"SMTP_FROM"`
	SMTPFromName string `env:"SMTP_FROM_NAME"`
	SMTPUseTLS   bool   `env:"SMTP_USE_TLS" envDefault:"false"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	OTelEndpoint       string   `env:"OTEL_ENDPOINT"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rechaza combinaciones que dejarían el servicio inseguro o sin almacenamiento.
func (c *Config) Validate() error {
	var errs []error
	if len(c.JWTSecret) < minJWTSecretBytes {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretBytes))
	}
	if c.JWTExpiryMinutes <= 0 {
		errs = append(errs, errors.New("JWT_EXPIRY_MINUTES must be positive"))
	}
	if c.EmailConfirmTTL <= 0 || c.PasswordResetTTL <= 0 {
		errs = append(errs, errors.New("purpose token TTLs must be positive"))
	}
	if c.LockoutThreshold > 0 && c.LockoutDuration <= 0 {
		errs = append(errs, errors.New("LOCKOUT_DURATION must be positive when lockout is enabled"))
	}
	switch c.Store() {
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown ACCOUNT_STORE %q", c.AccountStore))
	}
	switch c.Mail() {
	case MailLog, MailDisabled:
	case MailSMTP:
		if strings.TrimSpace(c.SMTPHost) == "" {
			errs = append(errs, errors.New("SMTP_HOST is required when MAIL_MODE=smtp"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown MAIL_MODE %q", c.MailMode))
	}
	return errors.Join(errs...)
}

const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"

	MailLog      = "log"
	MailSMTP     = "smtp"
	MailDisabled = "disabled"
)

func (c *Config) Store() string {
	return strings.ToLower(strings.TrimSpace(c.AccountStore))
}

func (c *Config) Mail() string {
	return strings.ToLower(strings.TrimSpace(c.MailMode))
}

// SessionTTL devuelve la vigencia configurada de los tokens de sesión.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.JWTExpiryMinutes) * time.Minute
}

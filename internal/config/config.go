package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/order-notifier/internal/domain"
)

const (
	StoreDriverFile     = "file"
	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "postgres"
)

// DefaultExcludedRegions is used when EXCLUDED_REGIONS is unset.
var DefaultExcludedRegions = []string{
	"강원도", "강원특별자치도",
	"전북", "전북특별자치도",
	"충남 보령시", "충청남도 보령시",
	"충남 논산시", "충청남도 논산시",
	"충북 보은군", "충청북도 보은군",
	"충북 음성군", "충청북도 음성군",
	"충북 진천군", "충청북도 진천군",
	"경기도 이천시", "경기 이천시",
	"전남 목포시", "전라남도 목포시",
	"전남 무안군", "전라남도 무안군",
	"제주도", "제주",
}

var defaultMarketplaces = []domain.Marketplace{
	domain.MarketplaceNaver,
	domain.MarketplaceCoupang,
}

type Config struct {
	LogLevel            string `env:"LOG_LEVEL,default=info"`
	HTTPTimeoutSeconds  int    `env:"HTTP_TIMEOUT_SECONDS,default=10"`
	EnabledMarketplaces string `env:"ENABLED_MARKETPLACES"`
	ExcludedRegions     string `env:"EXCLUDED_REGIONS"`

	StoreDriver       string `env:"STORE_DRIVER,default=file"`
	StateFile         string `env:"STATE_FILE,default=sent_records.json"`
	DatabaseDSN       string `env:"DATABASE_DSN"`
	SaveAfterEachSend bool   `env:"SAVE_AFTER_EACH_SEND,default=true"`

	LockFile       string `env:"LOCK_FILE,default=sent_records.lock"`
	LockTTLSeconds int    `env:"LOCK_TTL_SECONDS,default=900"`
	RedisURL       string `env:"REDIS_URL"`

	CoupangAccessKey   string `env:"COUPANG_ACCESS_KEY"`
	CoupangSecretKey   string `env:"COUPANG_SECRET_KEY"`
	CoupangVendorID    string `env:"COUPANG_VENDOR_ID"`
	CoupangBaseURL     string `env:"COUPANG_BASE_URL,default=https://api-gateway.coupang.com"`
	CoupangOrderStatus string `env:"COUPANG_ORDER_STATUS,default=INSTRUCT"`
	CoupangWindowDays  int    `env:"COUPANG_WINDOW_DAYS,default=1"`
	CoupangPageSize    int    `env:"COUPANG_PAGE_SIZE,default=50"`

	NaverClientID     string `env:"NAVER_CLIENT_ID"`
	NaverClientSecret string `env:"NAVER_CLIENT_SECRET"`
	NaverAccountID    string `env:"NAVER_ACCOUNT_ID"`
	NaverType         string `env:"NAVER_TYPE,default=SELLER"`
	NaverBaseURL      string `env:"NAVER_BASE_URL,default=https://api.commerce.naver.com"`
	NaverOrderStatus  string `env:"NAVER_ORDER_STATUS,default=PAYED"`
	NaverPageSize     int    `env:"NAVER_PAGE_SIZE,default=100"`

	AligoAPIKey          string  `env:"ALIGO_API_KEY,required=true"`
	AligoUserID          string  `env:"ALIGO_USER_ID,required=true"`
	AligoSenderKey       string  `env:"ALIGO_SENDER_KEY,required=true"`
	AligoTemplateCode    string  `env:"ALIGO_TEMPLATE_CODE,required=true"`
	AligoSenderPhone     string  `env:"ALIGO_SENDER_PHONE,required=true"`
	AligoSendURL         string  `env:"ALIGO_SEND_URL,default=https://kakaoapi.aligo.in/akv10/alimtalk/send/"`
	AligoSubject         string  `env:"ALIGO_SUBJECT,default=접수 완료 안내"`
	AligoMessage         string  `env:"ALIGO_MESSAGE,required=true"`
	AligoButtonJSON      string  `env:"ALIGO_BUTTON_JSON"`
	AligoTestMode        string  `env:"ALIGO_TEST_MODE"`
	AligoFailoverSubject string  `env:"ALIGO_FAILOVER_SUBJECT,default=접수완료"`
	AligoFailoverMessage string  `env:"ALIGO_FAILOVER_MESSAGE,required=true"`
	SendRatePerSec       float64 `env:"SEND_RATE_PER_SEC,default=0"`

	MetricsTextfile       string `env:"METRICS_TEXTFILE"`
	MetricsPushgatewayURL string `env:"METRICS_PUSHGATEWAY_URL"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverFile:
		if strings.TrimSpace(c.StateFile) == "" {
			return fmt.Errorf("%w: STATE_FILE is required for the file store", domain.ErrValidation)
		}
	case StoreDriverSQLite, StoreDriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("%w: DATABASE_DSN is required for store driver %q", domain.ErrValidation, c.StoreDriver)
		}
	default:
		return fmt.Errorf("%w: unknown STORE_DRIVER %q", domain.ErrValidation, c.StoreDriver)
	}

	if c.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: HTTP_TIMEOUT_SECONDS must be positive", domain.ErrValidation)
	}
	if c.SendRatePerSec < 0 {
		return fmt.Errorf("%w: SEND_RATE_PER_SEC must not be negative", domain.ErrValidation)
	}

	marketplaces, err := c.Marketplaces()
	if err != nil {
		return err
	}
	for _, m := range marketplaces {
		switch m {
		case domain.MarketplaceCoupang:
			if c.CoupangAccessKey == "" || c.CoupangSecretKey == "" || c.CoupangVendorID == "" {
				return fmt.Errorf("%w: COUPANG_ACCESS_KEY, COUPANG_SECRET_KEY and COUPANG_VENDOR_ID are required", domain.ErrValidation)
			}
			if c.CoupangWindowDays <= 0 {
				return fmt.Errorf("%w: COUPANG_WINDOW_DAYS must be positive", domain.ErrValidation)
			}
		case domain.MarketplaceNaver:
			if c.NaverClientID == "" || c.NaverClientSecret == "" || c.NaverAccountID == "" {
				return fmt.Errorf("%w: NAVER_CLIENT_ID, NAVER_CLIENT_SECRET and NAVER_ACCOUNT_ID are required", domain.ErrValidation)
			}
		}
	}

	return nil
}

// Marketplaces returns the enabled marketplaces in configured order.
func (c *Config) Marketplaces() ([]domain.Marketplace, error) {
	raw := splitList(c.EnabledMarketplaces)
	if len(raw) == 0 {
		out := make([]domain.Marketplace, len(defaultMarketplaces))
		copy(out, defaultMarketplaces)
		return out, nil
	}

	seen := make(map[domain.Marketplace]bool, len(raw))
	out := make([]domain.Marketplace, 0, len(raw))
	for _, name := range raw {
		m, err := domain.ParseMarketplaceFromString(name)
		if err != nil {
			return nil, err
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out, nil
}

// ExclusionList returns the configured region exclusions, or the defaults.
func (c *Config) ExclusionList() []string {
	entries := splitList(c.ExcludedRegions)
	if len(entries) == 0 {
		out := make([]string, len(DefaultExcludedRegions))
		copy(out, DefaultExcludedRegions)
		return out
	}
	return entries
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

func (c *Config) CoupangWindow() time.Duration {
	return time.Duration(c.CoupangWindowDays) * 24 * time.Hour
}

// Template returns the message fields sent with every notification.
func (c *Config) Template() domain.TemplateFields {
	return domain.TemplateFields{
		Subject:    c.AligoSubject,
		Message:    c.AligoMessage,
		ButtonJSON: c.AligoButtonJSON,
		TestMode:   c.AligoTestMode,
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

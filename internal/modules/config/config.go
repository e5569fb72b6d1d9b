package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"alpha_bot/internal/browser"
	"alpha_bot/internal/models"
	"alpha_bot/internal/otp"
)

const (
	configFilePathENV  = "CONFIG_FILE"
	defaultAccountFile = "accounts.yaml"

	// SourceEnv — аккаунт собран только из переменных окружения.
	SourceEnv = "env"
)

// ErrInvalidConfig — та же ошибка, что отдаёт models.CycleConfig.Validate.
var ErrInvalidConfig = models.ErrInvalidConfig

type Log struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

type HTTP struct {
	Addr string `yaml:"addr"` // пусто — сервер здоровья выключен
}

type Telegram struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

type Tracing struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Account — полностью разрешённые настройки одного аккаунта.
type Account struct {
	Name        string
	Enabled     bool
	Host        string
	Port        int
	TargetURL   string
	Secret      string
	PageTimeout time.Duration
	Cycle       models.CycleConfig
}

// Config ...
type Config struct {
	Source    string // путь к accounts.yaml или SourceEnv
	Accounts  []Account
	Warnings  []string // пропущенные записи и прочее, что стоит показать в логе
	Log       Log
	StatsDir  string
	HTTP      HTTP
	Telegram  Telegram
	DB        string
	Tracing   Tracing
	Selectors browser.Selectors
}

// Overrides — необязательные поля аккаунта. nil значит "взять уровнем ниже".
// Интервалы в секундах, timeout в миллисекундах, как в env.
type Overrides struct {
	Enabled             *bool    `yaml:"enabled"`
	Host                *string  `yaml:"host"`
	Port                *int     `yaml:"port"`
	Secret              *string  `yaml:"secret"`
	TargetURL           *string  `yaml:"target_url"`
	Timeout             *int     `yaml:"timeout"`
	Cost                *float64 `yaml:"cost"`
	TotalRuns           *int     `yaml:"total_runs"`
	ReservedAmount      *float64 `yaml:"reserved_amount"`
	MinSellAmount       *float64 `yaml:"min_sell_amount"`
	RefreshInterval     *int     `yaml:"refresh_interval"`
	MinInterval         *float64 `yaml:"min_interval"`
	MaxInterval         *float64 `yaml:"max_interval"`
	ReverseOrderTimeout *float64 `yaml:"reverse_order_timeout"`
	PriceMaxRetries     *int     `yaml:"price_max_retries"`
	BuyPricePercent     *float64 `yaml:"buy_price_percent"`
	BuyPriceDiff        *float64 `yaml:"buy_price_diff"`
	SellPricePercent    *float64 `yaml:"sell_price_percent"`
}

type accountEntry struct {
	Name      string `yaml:"name"`
	Overrides `yaml:",inline"`
}

type fileConfig struct {
	Defaults  Overrides         `yaml:"defaults"`
	Accounts  []accountEntry    `yaml:"accounts"`
	Log       *Log              `yaml:"log"`
	StatsDir  string            `yaml:"stats_dir"`
	HTTP      *HTTP             `yaml:"http"`
	Telegram  *Telegram         `yaml:"telegram"`
	DB        string            `yaml:"db_dsn"`
	Tracing   *Tracing          `yaml:"tracing"`
	Selectors browser.Selectors `yaml:"selectors"`
}

func seconds(v float64) time.Duration { return time.Duration(v * float64(time.Second)) }

func (o Overrides) apply(a *Account) {
	setBool := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	setFloat := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	setString := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	setSeconds := func(dst *time.Duration, v *float64) {
		if v != nil {
			*dst = seconds(*v)
		}
	}

	setBool(&a.Enabled, o.Enabled)
	setString(&a.Host, o.Host)
	setInt(&a.Port, o.Port)
	setString(&a.Secret, o.Secret)
	setString(&a.TargetURL, o.TargetURL)
	if o.Timeout != nil {
		a.PageTimeout = time.Duration(*o.Timeout) * time.Millisecond
	}

	c := &a.Cycle
	setFloat(&c.Cost, o.Cost)
	setInt(&c.TotalRuns, o.TotalRuns)
	setFloat(&c.ReservedAmount, o.ReservedAmount)
	setFloat(&c.MinSellAmount, o.MinSellAmount)
	setInt(&c.RefreshInterval, o.RefreshInterval)
	setSeconds(&c.MinInterval, o.MinInterval)
	setSeconds(&c.MaxInterval, o.MaxInterval)
	setSeconds(&c.ReverseOrderTimeout, o.ReverseOrderTimeout)
	setInt(&c.PriceMaxRetries, o.PriceMaxRetries)
	setFloat(&c.BuyMarkup, o.BuyPricePercent)
	setFloat(&c.BuyOffset, o.BuyPriceDiff)
	setFloat(&c.SellMarkdown, o.SellPricePercent)
}

// newEnv — глобальные дефолты: зашитое значение, поверх него переменная окружения.
func newEnv() *viper.Viper {
	d := models.DefaultCycleConfig()
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("USERNAME", "default")
	v.SetDefault("TRADE_COST", d.Cost)
	v.SetDefault("TOTAL_RUNS", d.TotalRuns)
	v.SetDefault("RESERVED_AMOUNT", d.ReservedAmount)
	v.SetDefault("MIN_SELL_AMOUNT", d.MinSellAmount)
	v.SetDefault("BUY_PRICE_PERCENT", d.BuyMarkup)
	v.SetDefault("BUY_PRICE_DIFF", d.BuyOffset)
	v.SetDefault("SELL_PRICE_PERCENT", d.SellMarkdown)
	v.SetDefault("REFRESH_INTERVAL", d.RefreshInterval)
	v.SetDefault("MIN_INTERVAL", d.MinInterval.Seconds())
	v.SetDefault("MAX_INTERVAL", d.MaxInterval.Seconds())
	v.SetDefault("REVERSE_ORDER_TIMEOUT", d.ReverseOrderTimeout.Seconds())
	v.SetDefault("PRICE_MAX_RETRIES", d.PriceMaxRetries)
	v.SetDefault("GOOGLE_SECRET", "")
	v.SetDefault("CHROME_HOST", "127.0.0.1")
	v.SetDefault("CHROME_PORT", 9222)
	v.SetDefault("PAGE_TIMEOUT", 5000)
	v.SetDefault("TARGET_URL", "")

	v.SetDefault("LOG_DIR", "logs")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STATS_DIR", "stats")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("TELEGRAM_TOKEN", "")
	v.SetDefault("TELEGRAM_CHAT_ID", 0)
	v.SetDefault("DATABASE_DSN", "")
	v.SetDefault("JAEGER_HOST", "")
	v.SetDefault("JAEGER_PORT", 6831)
	return v
}

// envAccount — аккаунт целиком из окружения; он же база для accounts.yaml.
func envAccount(v *viper.Viper) Account {
	c := models.DefaultCycleConfig()
	c.Cost = v.GetFloat64("TRADE_COST")
	c.TotalRuns = v.GetInt("TOTAL_RUNS")
	c.ReservedAmount = v.GetFloat64("RESERVED_AMOUNT")
	c.MinSellAmount = v.GetFloat64("MIN_SELL_AMOUNT")
	c.BuyMarkup = v.GetFloat64("BUY_PRICE_PERCENT")
	c.BuyOffset = v.GetFloat64("BUY_PRICE_DIFF")
	c.SellMarkdown = v.GetFloat64("SELL_PRICE_PERCENT")
	c.RefreshInterval = v.GetInt("REFRESH_INTERVAL")
	c.MinInterval = seconds(v.GetFloat64("MIN_INTERVAL"))
	c.MaxInterval = seconds(v.GetFloat64("MAX_INTERVAL"))
	c.ReverseOrderTimeout = seconds(v.GetFloat64("REVERSE_ORDER_TIMEOUT"))
	c.PriceMaxRetries = v.GetInt("PRICE_MAX_RETRIES")

	return Account{
		Name:        v.GetString("USERNAME"),
		Enabled:     true,
		Host:        v.GetString("CHROME_HOST"),
		Port:        v.GetInt("CHROME_PORT"),
		TargetURL:   v.GetString("TARGET_URL"),
		Secret:      v.GetString("GOOGLE_SECRET"),
		PageTimeout: time.Duration(v.GetInt("PAGE_TIMEOUT")) * time.Millisecond,
		Cycle:       c,
	}
}

// Load: .env, окружение, затем accounts.yaml. Пустой path — CONFIG_FILE или
// accounts.yaml в рабочем каталоге; если такого файла нет, работаем одним
// аккаунтом из окружения. Явно указанный, но отсутствующий файл — ошибка.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()
	v := newEnv()

	cfg := &Config{
		Log:       Log{Dir: v.GetString("LOG_DIR"), Level: v.GetString("LOG_LEVEL")},
		StatsDir:  v.GetString("STATS_DIR"),
		HTTP:      HTTP{Addr: v.GetString("HTTP_ADDR")},
		Telegram:  Telegram{Token: v.GetString("TELEGRAM_TOKEN"), ChatID: v.GetInt64("TELEGRAM_CHAT_ID")},
		DB:        v.GetString("DATABASE_DSN"),
		Tracing:   Tracing{Host: v.GetString("JAEGER_HOST"), Port: v.GetInt("JAEGER_PORT")},
		Selectors: browser.DefaultSelectors(),
	}
	base := envAccount(v)

	explicit := path != ""
	if !explicit {
		path = os.Getenv(configFilePathENV)
		if path == "" {
			path = defaultAccountFile
		}
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
	case os.IsNotExist(err) && !explicit:
		cfg.Source = SourceEnv
		cfg.Accounts = []Account{base}
		return cfg, nil
	default:
		return nil, errors.Wrapf(err, "read %s", path)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	cfg.Source = path
	cfg.merge(fc)

	for i, e := range fc.Accounts {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("account #%d has no name, skipped", i+1))
			continue
		}
		acc := base
		acc.Name = name
		fc.Defaults.apply(&acc)
		e.Overrides.apply(&acc)
		cfg.Accounts = append(cfg.Accounts, acc)
	}
	return cfg, nil
}

// merge — непустые секции файла перекрывают окружение.
func (c *Config) merge(fc fileConfig) {
	if fc.Log != nil {
		if fc.Log.Dir != "" {
			c.Log.Dir = fc.Log.Dir
		}
		if fc.Log.Level != "" {
			c.Log.Level = fc.Log.Level
		}
	}
	if fc.StatsDir != "" {
		c.StatsDir = fc.StatsDir
	}
	if fc.HTTP != nil {
		c.HTTP.Addr = fc.HTTP.Addr
	}
	if fc.Telegram != nil {
		if fc.Telegram.Token != "" {
			c.Telegram.Token = fc.Telegram.Token
		}
		if fc.Telegram.ChatID != 0 {
			c.Telegram.ChatID = fc.Telegram.ChatID
		}
	}
	if fc.DB != "" {
		c.DB = fc.DB
	}
	if fc.Tracing != nil {
		if fc.Tracing.Host != "" {
			c.Tracing.Host = fc.Tracing.Host
		}
		if fc.Tracing.Port != 0 {
			c.Tracing.Port = fc.Tracing.Port
		}
	}
	c.Selectors = c.Selectors.Merge(fc.Selectors)
}

// Validate собирает все нарушения сразу, чтобы не чинить конфиг по одному полю.
func (c *Config) Validate() error {
	var errs []string
	if len(c.Accounts) == 0 {
		errs = append(errs, "no accounts configured")
	}
	seen := make(map[string]bool, len(c.Accounts))
	for _, a := range c.Accounts {
		if seen[a.Name] {
			errs = append(errs, a.Name+": duplicate account name")
		}
		seen[a.Name] = true
		if err := a.Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.Wrap(ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

func (a Account) Validate() error {
	var errs []string
	if err := a.Cycle.Validate(); err != nil {
		errs = append(errs, strings.TrimPrefix(err.Error(), ErrInvalidConfig.Error()+": "))
	}
	if a.Port < 1024 || a.Port > 65535 {
		errs = append(errs, "port must be in 1024..65535")
	}
	if a.PageTimeout <= 0 {
		errs = append(errs, "page timeout must be > 0")
	}
	if a.Secret != "" {
		if err := otp.NewProvider(a.Secret).Validate(); err != nil {
			errs = append(errs, "secret: "+err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.Wrap(ErrInvalidConfig, a.Name+": "+strings.Join(errs, "; "))
	}
	return nil
}

// Enabled — аккаунты с enabled: true в порядке файла.
func (c *Config) Enabled() []Account {
	out := make([]Account, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out
}

func (c *Config) Account(name string) (Account, bool) {
	for _, a := range c.Accounts {
		if a.Name == name {
			return a, true
		}
	}
	return Account{}, false
}

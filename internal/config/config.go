// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every automatically bound environment variable.
const EnvPrefix = "ATTENDFIX"

// Config holds the entire application configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Network     NetworkConfig     `mapstructure:"network" yaml:"network"`
	Target      TargetConfig      `mapstructure:"target" yaml:"target"`
	Timing      TimingConfig      `mapstructure:"timing" yaml:"timing"`
	Session     SessionConfig     `mapstructure:"session" yaml:"session"`
	Remediation RemediationConfig `mapstructure:"remediation" yaml:"remediation"`
	Selectors   SelectorsConfig   `mapstructure:"selectors" yaml:"selectors"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Report      ReportConfig      `mapstructure:"report" yaml:"report"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
	Format      string      `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=json console"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size" validate:"gte=0"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age" validate:"gte=0"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names used for each log level on the console.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the controlled Chrome instance.
type BrowserConfig struct {
	Headless bool           `mapstructure:"headless" yaml:"headless"`
	ExecPath string         `mapstructure:"exec_path" yaml:"exec_path"`
	Args     []string       `mapstructure:"args" yaml:"args"`
	Viewport map[string]int `mapstructure:"viewport" yaml:"viewport"`
	// SlowMotion spaces consecutive page operations. Zero disables pacing.
	SlowMotion time.Duration `mapstructure:"slow_motion" yaml:"slow_motion" validate:"gte=0"`
}

// NetworkConfig tunes navigation behaviour.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout" validate:"gte=0"`
}

// TargetConfig identifies the remote application and the account used to log in.
type TargetConfig struct {
	LoginURL   string `mapstructure:"login_url" yaml:"login_url" validate:"required,url"`
	ContractID string `mapstructure:"contract_id" yaml:"contract_id"`
	AuthID     string `mapstructure:"auth_id" yaml:"auth_id"`
	Password   string `mapstructure:"password" yaml:"-"`
}

// TimingConfig holds the two settle delays awaited between UI actions.
type TimingConfig struct {
	// PageSettleMs is awaited after navigation-triggering actions (login, submit, month change).
	PageSettleMs int `mapstructure:"page_settle_ms" yaml:"page_settle_ms" validate:"gte=0"`
	// InteractionMs is awaited after in-place actions (select, type, scroll).
	InteractionMs int `mapstructure:"interaction_ms" yaml:"interaction_ms" validate:"gte=0"`
}

// PageSettle returns the page settle delay as a duration.
func (t TimingConfig) PageSettle() time.Duration {
	return time.Duration(t.PageSettleMs) * time.Millisecond
}

// Interaction returns the interaction delay as a duration.
func (t TimingConfig) Interaction() time.Duration {
	return time.Duration(t.InteractionMs) * time.Millisecond
}

// SessionConfig controls what the orchestrator does before remediation.
type SessionConfig struct {
	PreviousMonth bool `mapstructure:"previous_month" yaml:"previous_month"`
}

// RemediationConfig carries the correction policy and the loop's wait bounds.
type RemediationConfig struct {
	StartTime           string        `mapstructure:"start_time" yaml:"start_time" validate:"required,datetime=15:04"`
	EndTime             string        `mapstructure:"end_time" yaml:"end_time" validate:"required,datetime=15:04"`
	CategoryValue       string        `mapstructure:"category_value" yaml:"category_value" validate:"required"`
	ScrollStep          float64       `mapstructure:"scroll_step" yaml:"scroll_step" validate:"gt=0"`
	FirstCellTimeout    time.Duration `mapstructure:"first_cell_timeout" yaml:"first_cell_timeout" validate:"gt=0"`
	RevealTimeout       time.Duration `mapstructure:"reveal_timeout" yaml:"reveal_timeout" validate:"gt=0"`
	FormTimeout         time.Duration `mapstructure:"form_timeout" yaml:"form_timeout" validate:"gt=0"`
	MaxFruitlessScrolls int           `mapstructure:"max_fruitless_scrolls" yaml:"max_fruitless_scrolls" validate:"gte=0"`
}

// SelectorsConfig is the markup contract with the remote application.
type SelectorsConfig struct {
	ContractID     string `mapstructure:"contract_id" yaml:"contract_id" validate:"required"`
	AuthID         string `mapstructure:"auth_id" yaml:"auth_id" validate:"required"`
	Password       string `mapstructure:"password" yaml:"password" validate:"required"`
	LoginSubmit    string `mapstructure:"login_submit" yaml:"login_submit" validate:"required"`
	PeriodSelect   string `mapstructure:"period_select" yaml:"period_select" validate:"required"`
	PreviousPeriod string `mapstructure:"previous_period" yaml:"previous_period" validate:"required"`
	ErrorCell      string `mapstructure:"error_cell" yaml:"error_cell" validate:"required"`
	Category       string `mapstructure:"category" yaml:"category" validate:"required"`
	StartTime      string `mapstructure:"start_time" yaml:"start_time" validate:"required"`
	EndTime        string `mapstructure:"end_time" yaml:"end_time" validate:"required"`
	Submit         string `mapstructure:"submit" yaml:"submit" validate:"required"`
	Table          string `mapstructure:"table" yaml:"table" validate:"required"`
}

// DatabaseConfig holds the run history database connection details.
// An empty URL disables run history.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ReportConfig selects where and how reports are written.
type ReportConfig struct {
	Output string `mapstructure:"output" yaml:"output"`
	Format string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=json yaml text"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "attendfix")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 7)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.args", []string{"--no-sandbox", "--disable-setuid-sandbox"})
	v.SetDefault("browser.viewport", map[string]int{"width": 1280, "height": 900})
	v.SetDefault("browser.slow_motion", "10ms")

	// -- Network --
	v.SetDefault("network.navigation_timeout", "90s")

	// -- Target --
	v.SetDefault("target.login_url", "https://app.recoru.in/ap/login")
	v.SetDefault("target.contract_id", "")
	v.SetDefault("target.auth_id", "")
	v.SetDefault("target.password", "")

	// -- Timing --
	v.SetDefault("timing.page_settle_ms", 2000)
	v.SetDefault("timing.interaction_ms", 500)

	// -- Session --
	v.SetDefault("session.previous_month", false)

	// -- Remediation --
	v.SetDefault("remediation.start_time", "09:00")
	v.SetDefault("remediation.end_time", "18:00")
	v.SetDefault("remediation.category_value", "1")
	v.SetDefault("remediation.scroll_step", 200)
	v.SetDefault("remediation.first_cell_timeout", "5s")
	v.SetDefault("remediation.reveal_timeout", "3s")
	v.SetDefault("remediation.form_timeout", "5s")
	v.SetDefault("remediation.max_fruitless_scrolls", 0)

	// -- Selectors --
	v.SetDefault("selectors.contract_id", `input[id="contractId"]`)
	v.SetDefault("selectors.auth_id", `input[id="authId"]`)
	v.SetDefault("selectors.password", `input[id="password"]`)
	v.SetDefault("selectors.login_submit", `input.common-btn.submit`)
	v.SetDefault("selectors.period_select", `select#periodPoint`)
	v.SetDefault("selectors.previous_period", "-1")
	v.SetDefault("selectors.error_cell", `td.item-attendKbn.bg-err.tip`)
	v.SetDefault("selectors.category", `select#chartDto\.attendanceDtos\[0\]\.attendId`)
	v.SetDefault("selectors.start_time", `input#chartDto\.attendanceDtos\[0\]\.worktimeStart`)
	v.SetDefault("selectors.end_time", `input#chartDto\.attendanceDtos\[0\]\.worktimeEnd`)
	v.SetDefault("selectors.submit", `input#UPDATE-BTN`)
	v.SetDefault("selectors.table", `table.attendance-table`)

	// -- Database --
	v.SetDefault("database.url", "")

	// -- Report --
	v.SetDefault("report.output", "")
	v.SetDefault("report.format", "text")
}

// BindEnvironment wires automatic ATTENDFIX_* variables plus the bare
// variable names the tool has always honoured.
func BindEnvironment(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("timing.page_settle_ms", EnvPrefix+"_TIMING_PAGE_SETTLE_MS", "PAGE_WAITING_MS")
	_ = v.BindEnv("timing.interaction_ms", EnvPrefix+"_TIMING_INTERACTION_MS", "INTERACTION_WAITING_MS")
	_ = v.BindEnv("browser.headless", EnvPrefix+"_BROWSER_HEADLESS", "HEADLESS")
	_ = v.BindEnv("session.previous_month", EnvPrefix+"_SESSION_PREVIOUS_MONTH", "PREV_MONTH")
	_ = v.BindEnv("target.password", EnvPrefix+"_TARGET_PASSWORD")
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")
}

// LoadDotEnv loads variables from the given .env files (default ".env") into
// the process environment. Variables that are already set are left alone and
// missing files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		expanded, err := homedir.Expand(p)
		if err != nil {
			return fmt.Errorf("failed to expand env file path %q: %w", p, err)
		}
		if err := godotenv.Load(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %q: %w", expanded, err)
		}
	}
	return nil
}

// NewConfigFromViper binds the environment onto v, unmarshals it and
// validates the result.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	BindEnvironment(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Logger.LogFile, &c.Browser.ExecPath, &c.Report.Output} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed '%s' check", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%s", strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// RequireCredentials reports which login fields are still missing.
func (t TargetConfig) RequireCredentials() error {
	var missing []string
	if t.ContractID == "" {
		missing = append(missing, "target.contract_id")
	}
	if t.AuthID == "" {
		missing = append(missing, "target.auth_id")
	}
	if t.Password == "" {
		missing = append(missing, "target.password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}

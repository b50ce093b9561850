// Package config loads the bot's entire runtime configuration from
// environment variables (spec section 6), validating every field up
// front so a misconfigured process fails at startup with a CONFIG_ERROR
// exit code rather than partway through a cycle.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Role is the process's operating posture (spec section 6: APP_ROLE).
type Role string

const (
	RoleLive    Role = "LIVE"
	RoleMonitor Role = "MONITOR"
	RoleReplay  Role = "REPLAY"
)

// Config is the fully parsed, validated runtime configuration.
type Config struct {
	// Safety toggles (spec section 7: side-effect policy inputs)
	DryRun          bool
	LiveTrading     bool
	LiveTradingAck  bool
	KillSwitch      bool
	SafeMode        bool
	Role            Role

	// Universe
	Symbols             []string
	QuoteCurrency       string
	UniverseAllowList   []string
	UniverseDenyList    []string
	UniverseMaxSpreadBps decimal.Decimal
	UniverseMaxSize     int

	// Strategy / allocation parameters
	TargetTRY               decimal.Decimal
	OffsetBps               decimal.Decimal
	TTLSeconds              int
	MinOrderNotionalTRY     decimal.Decimal
	NotionalCapTRYPerCycle  decimal.Decimal
	MaxNotionalPerOrderTRY  decimal.Decimal
	MaxPositionTRYPerSymbol decimal.Decimal
	MaxOrdersPerCycle       int
	MaxOpenOrdersPerSymbol  int
	CooldownSeconds         int
	RiskModeCooldownSeconds int
	MinProfitBps            decimal.Decimal

	// Self-financing risk budget seed (spec section 4.G)
	InitialTradingCapitalTRY decimal.Decimal
	InitialTreasuryTRY       decimal.Decimal
	DailyLossLimitTRY        decimal.Decimal
	DrawdownHaltRatio        decimal.Decimal
	MaxGrossExposureTRY      decimal.Decimal
	MaxOrderNotionalBaseTRY  decimal.Decimal
	MaxSymbolExposureTRY     decimal.Decimal

	// Ambient
	LogLevel      string
	HTTPXLogLevel string
	StateDBPath   string

	// Exchange rules cache
	ExchangeRulesTTLSeconds int

	// Cycle runner
	CycleBudgetMs                 int
	KillChainMaxConsecutiveErrors int
	RecoveryLookbackHours         int
	CycleIntervalSeconds          int
	StaleDataSeconds              int

	// Exchange transport
	ExchangeBaseURL       string
	ExchangeHTTPTimeoutMs int
	UseMockExchange       bool

	// Alerting (spec section 7: "observe-only + alert")
	TelegramBotToken Secret
	TelegramChatID   string

	// Observability
	OTELServiceName string

	// Account
	AccountKey string
	APIKey     Secret
	APISecret  Secret
}

// ValidationError represents a single configuration field failure.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// Load reads a .env file if present (missing is not an error — production
// deployments set real environment variables directly) then parses and
// validates the process configuration from the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env file: %w", err)
	}

	cfg := &Config{
		DryRun:         getBool("DRY_RUN", true),
		LiveTrading:    getBool("LIVE_TRADING", false),
		LiveTradingAck: getBool("LIVE_TRADING_ACK", false),
		KillSwitch:     getBool("KILL_SWITCH", false),
		SafeMode:       getBool("SAFE_MODE", false),
		Role:           Role(getString("APP_ROLE", string(RoleMonitor))),

		Symbols:              splitCSV(getString("SYMBOLS", "")),
		QuoteCurrency:        getString("UNIVERSE_QUOTE_CURRENCY", "TRY"),
		UniverseAllowList:    splitCSV(getString("UNIVERSE_ALLOW_LIST", "")),
		UniverseDenyList:     splitCSV(getString("UNIVERSE_DENY_LIST", "")),
		UniverseMaxSpreadBps: getDecimal("UNIVERSE_MAX_SPREAD_BPS", decimal.Zero),
		UniverseMaxSize:      getInt("UNIVERSE_MAX_SIZE", 0),

		TargetTRY:               getDecimal("TARGET_TRY", decimal.Zero),
		OffsetBps:                getDecimal("OFFSET_BPS", decimal.Zero),
		TTLSeconds:              getInt("TTL_SECONDS", 30),
		MinOrderNotionalTRY:     getDecimal("MIN_ORDER_NOTIONAL_TRY", decimal.RequireFromString("10")),
		NotionalCapTRYPerCycle:  getDecimal("NOTIONAL_CAP_TRY_PER_CYCLE", decimal.Zero),
		MaxNotionalPerOrderTRY:  getDecimal("MAX_NOTIONAL_PER_ORDER_TRY", decimal.Zero),
		MaxPositionTRYPerSymbol: getDecimal("MAX_POSITION_TRY_PER_SYMBOL", decimal.Zero),
		MaxOrdersPerCycle:       getInt("MAX_ORDERS_PER_CYCLE", 5),
		MaxOpenOrdersPerSymbol:  getInt("MAX_OPEN_ORDERS_PER_SYMBOL", 2),
		CooldownSeconds:         getInt("COOLDOWN_SECONDS", 60),
		RiskModeCooldownSeconds: getInt("RISK_MODE_COOLDOWN_SECONDS", 300),
		MinProfitBps:            getDecimal("MIN_PROFIT_BPS", decimal.Zero),

		InitialTradingCapitalTRY: getDecimal("INITIAL_TRADING_CAPITAL_TRY", decimal.Zero),
		InitialTreasuryTRY:       getDecimal("INITIAL_TREASURY_TRY", decimal.Zero),
		DailyLossLimitTRY:        getDecimal("DAILY_LOSS_LIMIT_TRY", decimal.Zero),
		DrawdownHaltRatio:        getDecimal("DRAWDOWN_HALT_RATIO", decimal.NewFromFloat(0.2)),
		MaxGrossExposureTRY:      getDecimal("MAX_GROSS_EXPOSURE_TRY", decimal.Zero),
		MaxOrderNotionalBaseTRY:  getDecimal("MAX_ORDER_NOTIONAL_BASE_TRY", decimal.Zero),
		MaxSymbolExposureTRY:     getDecimal("MAX_SYMBOL_EXPOSURE_TRY", decimal.Zero),

		LogLevel:      getString("LOG_LEVEL", "INFO"),
		HTTPXLogLevel: getString("HTTPX_LOG_LEVEL", "WARN"),
		StateDBPath:   getString("STATE_DB_PATH", "./state_monitor.db"),

		ExchangeRulesTTLSeconds: getInt("EXCHANGE_RULES_TTL_SECONDS", 600),

		CycleBudgetMs:                 getInt("CYCLE_BUDGET_MS", 30000),
		KillChainMaxConsecutiveErrors: getInt("KILL_CHAIN_MAX_CONSECUTIVE_ERRORS", 5),
		RecoveryLookbackHours:         getInt("RECOVERY_LOOKBACK_HOURS", 24),
		CycleIntervalSeconds:         getInt("CYCLE_INTERVAL_SECONDS", 10),
		StaleDataSeconds:             getInt("STALE_DATA_SECONDS", 30),

		ExchangeBaseURL:       getString("EXCHANGE_BASE_URL", ""),
		ExchangeHTTPTimeoutMs: getInt("EXCHANGE_HTTP_TIMEOUT_MS", 5000),
		UseMockExchange:       getBool("USE_MOCK_EXCHANGE", false),

		TelegramBotToken: Secret(getString("TELEGRAM_BOT_TOKEN", "")),
		TelegramChatID:   getString("TELEGRAM_CHAT_ID", ""),

		OTELServiceName: getString("OTEL_SERVICE_NAME", "market-maker-bot"),

		AccountKey: getString("ACCOUNT_KEY", "default"),
		APIKey:     Secret(getString("EXCHANGE_API_KEY", "")),
		APISecret:  Secret(getString("EXCHANGE_API_SECRET", "")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate aggregates every field-level problem into a single error so a
// misconfigured deployment sees its entire list of mistakes at once.
func (c *Config) Validate() error {
	var errs []string

	if len(c.Symbols) == 0 {
		errs = append(errs, ValidationError{"SYMBOLS", c.Symbols, "must list at least one symbol"}.Error())
	}
	switch c.Role {
	case RoleLive, RoleMonitor, RoleReplay:
	default:
		errs = append(errs, ValidationError{"APP_ROLE", c.Role, "must be one of LIVE, MONITOR, REPLAY"}.Error())
	}
	if c.TTLSeconds <= 0 {
		errs = append(errs, ValidationError{"TTL_SECONDS", c.TTLSeconds, "must be > 0"}.Error())
	}
	if c.MaxOrdersPerCycle <= 0 {
		errs = append(errs, ValidationError{"MAX_ORDERS_PER_CYCLE", c.MaxOrdersPerCycle, "must be > 0"}.Error())
	}
	if c.MaxOpenOrdersPerSymbol <= 0 {
		errs = append(errs, ValidationError{"MAX_OPEN_ORDERS_PER_SYMBOL", c.MaxOpenOrdersPerSymbol, "must be > 0"}.Error())
	}
	if c.CooldownSeconds < 0 {
		errs = append(errs, ValidationError{"COOLDOWN_SECONDS", c.CooldownSeconds, "must be >= 0"}.Error())
	}
	if c.MinOrderNotionalTRY.IsNegative() {
		errs = append(errs, ValidationError{"MIN_ORDER_NOTIONAL_TRY", c.MinOrderNotionalTRY, "must be >= 0"}.Error())
	}
	if c.StateDBPath == "" {
		errs = append(errs, ValidationError{"STATE_DB_PATH", c.StateDBPath, "must not be empty"}.Error())
	} else {
		lower := strings.ToLower(c.StateDBPath)
		switch c.Role {
		case RoleLive:
			if !strings.Contains(lower, "live") {
				errs = append(errs, ValidationError{"STATE_DB_PATH", c.StateDBPath, "filename must contain \"live\" for APP_ROLE=LIVE"}.Error())
			}
		case RoleMonitor:
			if !strings.Contains(lower, "monitor") {
				errs = append(errs, ValidationError{"STATE_DB_PATH", c.StateDBPath, "filename must contain \"monitor\" for APP_ROLE=MONITOR"}.Error())
			}
		}
	}
	if c.CycleBudgetMs <= 0 {
		errs = append(errs, ValidationError{"CYCLE_BUDGET_MS", c.CycleBudgetMs, "must be > 0"}.Error())
	}
	if c.KillChainMaxConsecutiveErrors <= 0 {
		errs = append(errs, ValidationError{"KILL_CHAIN_MAX_CONSECUTIVE_ERRORS", c.KillChainMaxConsecutiveErrors, "must be > 0"}.Error())
	}
	if c.Role == RoleLive && !c.DryRun {
		if c.APIKey == "" || c.APISecret == "" {
			errs = append(errs, ValidationError{"EXCHANGE_API_KEY/EXCHANGE_API_SECRET", "", "required for LIVE role outside dry-run"}.Error())
		}
		if !c.UseMockExchange && c.ExchangeBaseURL == "" {
			errs = append(errs, ValidationError{"EXCHANGE_BASE_URL", "", "required for LIVE role outside dry-run unless USE_MOCK_EXCHANGE is set"}.Error())
		}
	}
	if c.CycleIntervalSeconds <= 0 {
		errs = append(errs, ValidationError{"CYCLE_INTERVAL_SECONDS", c.CycleIntervalSeconds, "must be > 0"}.Error())
	}
	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		errs = append(errs, ValidationError{"TELEGRAM_BOT_TOKEN/TELEGRAM_CHAT_ID", "", "must both be set or both be empty"}.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration invalid:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func getString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

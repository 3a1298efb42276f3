package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/rewardledger/internal/money"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	DBSource      string
	StorageDriver string
	Port          string
	Env           string

	JWTSecret   string
	JWTIssuer   string
	JWTTTL      time.Duration
	CORSOrigins []string

	// PublicURL is the base of referral signup links.
	PublicURL string

	AMQPURL       string
	MongoURI      string
	MongoDatabase string

	Ledger Ledger
}

// Ledger holds the business constants injected into the workflow and commission engine.
type Ledger struct {
	DepositRate        decimal.Decimal
	WithdrawalRate     decimal.Decimal
	LevelOneRate       decimal.Decimal
	LevelTwoRate       decimal.Decimal
	MinDeposit         money.Amount
	MaxClaimPerMachine money.Amount
	ClaimInterval      time.Duration
}

// DefaultLedger mirrors the production constants: 280 local units per dollar, 10% and 4%
// commissions, a $5 minimum deposit, $10 per machine per day.
func DefaultLedger() Ledger {
	rate := decimal.NewFromInt(280)
	return Ledger{
		DepositRate:        rate,
		WithdrawalRate:     rate,
		LevelOneRate:       decimal.RequireFromString("0.10"),
		LevelTwoRate:       decimal.RequireFromString("0.04"),
		MinDeposit:         money.Dollars(5),
		MaxClaimPerMachine: money.Dollars(10),
		ClaimInterval:      24 * time.Hour,
	}
}

// Load reads configuration from the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads configuration through getenv so tests can supply a map.
func LoadFrom(getenv func(string) string) (*Config, error) {
	r := reader{getenv: getenv}

	cfg := &Config{
		DBSource:      getenv("DATABASE_URL"),
		StorageDriver: r.str("STORAGE_DRIVER", DriverPostgres),
		Port:          r.str("SERVER_PORT", "8080"),
		Env:           r.str("ENVIRONMENT", "development"),
		JWTSecret:     getenv("JWT_SECRET"),
		JWTIssuer:     r.str("JWT_ISSUER", "rewardledger"),
		JWTTTL:        r.duration("JWT_TTL", 24*time.Hour),
		CORSOrigins:   r.list("CORS_ALLOWED_ORIGINS", []string{"*"}),
		PublicURL:     strings.TrimRight(r.str("PUBLIC_URL", "http://localhost:8080"), "/"),
		AMQPURL:       getenv("AMQP_URL"),
		MongoURI:      getenv("MONGO_URI"),
		MongoDatabase: r.str("MONGO_DATABASE", "rewardledger"),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	switch cfg.StorageDriver {
	case DriverPostgres:
		if cfg.DBSource == "" {
			return nil, fmt.Errorf("DATABASE_URL environment variable is required")
		}
	case DriverMemory:
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	def := DefaultLedger()
	l := Ledger{
		DepositRate:        r.decimal("DEPOSIT_RATE", def.DepositRate),
		LevelOneRate:       r.decimal("COMMISSION_LEVEL1_RATE", def.LevelOneRate),
		LevelTwoRate:       r.decimal("COMMISSION_LEVEL2_RATE", def.LevelTwoRate),
		MinDeposit:         r.amount("MIN_DEPOSIT", def.MinDeposit),
		MaxClaimPerMachine: r.amount("MINING_MAX_PER_MACHINE", def.MaxClaimPerMachine),
		ClaimInterval:      r.duration("MINING_CLAIM_INTERVAL", def.ClaimInterval),
	}
	l.WithdrawalRate = r.decimal("WITHDRAWAL_RATE", l.DepositRate)
	if r.err != nil {
		return nil, r.err
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	cfg.Ledger = l
	return cfg, nil
}

func (l Ledger) Validate() error {
	if !l.DepositRate.IsPositive() || !l.WithdrawalRate.IsPositive() {
		return fmt.Errorf("exchange rates must be positive")
	}
	one := decimal.NewFromInt(1)
	for _, rate := range []decimal.Decimal{l.LevelOneRate, l.LevelTwoRate} {
		if rate.IsNegative() || rate.GreaterThan(one) {
			return fmt.Errorf("commission rate %s must be within [0, 1]", rate)
		}
	}
	if !l.MinDeposit.IsPositive() {
		return fmt.Errorf("minimum deposit must be positive")
	}
	if !l.MaxClaimPerMachine.IsPositive() {
		return fmt.Errorf("per-machine claim cap must be positive")
	}
	if l.ClaimInterval < 0 {
		return fmt.Errorf("claim interval cannot be negative")
	}
	return nil
}

// reader keeps the first parse error so Load can report it after reading every key.
type reader struct {
	getenv func(string) string
	err    error
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// plain integers are read as seconds
		n, nerr := strconv.Atoi(v)
		if nerr != nil {
			r.fail(key, err)
			return def
		}
		d = time.Duration(n) * time.Second
	}
	return d
}

func (r *reader) decimal(key string, def decimal.Decimal) decimal.Decimal {
	v := r.getenv(key)
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		r.fail(key, err)
		return def
	}
	return d
}

func (r *reader) amount(key string, def money.Amount) money.Amount {
	v := r.getenv(key)
	if v == "" {
		return def
	}
	a, err := money.Parse(strings.TrimSpace(v))
	if err != nil {
		r.fail(key, err)
		return def
	}
	return a
}

func (r *reader) list(key string, def []string) []string {
	v := r.getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

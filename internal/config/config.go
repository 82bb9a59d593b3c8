// Package config reads settings from the environment, after loading a .env
// file when one is present.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/DoyleJ11/coder-combat/internal/judge"
	"github.com/DoyleJ11/coder-combat/internal/tournament"
)

type Config struct {
	DatabaseURL  string // postgres DSN, or sqlite:<path>
	TopologyPath string // empty for the embedded bracket
	Judge        judge.Config
	Tournament   tournament.Options

	HTTPAddr     string
	PasswordHash string // bcrypt hash of the operator password
	CORSOrigins  []string

	LogLevel string
	LogDev   bool

	StandingsBucket string
	StandingsKey    string
	AWSRegion       string
}

// SQLitePath returns the database path when DatabaseURL names a sqlite file.
func (c Config) SQLitePath() (string, bool) {
	return strings.CutPrefix(c.DatabaseURL, "sqlite:")
}

// Load reads .env (if any) and the environment. Malformed values are
// reported together.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	var p parser
	c := Config{
		DatabaseURL:  p.str("DATABASE_URL", "sqlite:tournament.db"),
		TopologyPath: p.str("TOURNAMENT_TOPOLOGY", ""),
		Judge: judge.Config{
			BaseURL:  strings.TrimRight(p.str("DOMJUDGE_API_BASE_URL", "http://localhost/api/v4"), "/"),
			Username: p.str("DOMJUDGE_API_USERNAME", "admin"),
			Password: p.str("DOMJUDGE_API_PASSWORD", ""),
			Timeout:  time.Duration(p.int("DOMJUDGE_API_TIMEOUT", 30)) * time.Second,
			Attempts: p.int("DOMJUDGE_RETRY_ATTEMPTS", 4),
			Backoff:  time.Duration(p.int("DOMJUDGE_RETRY_BASE_MS", 250)) * time.Millisecond,
		},
		Tournament: tournament.Options{
			Duration:        p.duration("TOURNAMENT_CONTEST_DURATION", 50*time.Minute),
			Penalty:         p.duration("TOURNAMENT_PENALTY", 5*time.Minute),
			ActivationDelay: p.duration("TOURNAMENT_DEFAULT_DELAY", 48*time.Hour),
			StartDelay:      p.duration("TOURNAMENT_START_DELAY", time.Hour),
		},
		HTTPAddr:        p.str("HTTP_ADDR", ":8080"),
		PasswordHash:    p.str("OPERATOR_PASSWORD_HASH", ""),
		CORSOrigins:     p.list("CORS_ORIGINS"),
		LogLevel:        p.str("LOG_LEVEL", "info"),
		LogDev:          p.bool("LOG_DEV", false),
		StandingsBucket: p.str("STANDINGS_BUCKET", ""),
		StandingsKey:    p.str("STANDINGS_KEY", "standings.json"),
		AWSRegion:       p.str("AWS_REGION", ""),
	}
	c.Judge.Penalty = c.Tournament.Penalty

	if c.Judge.Attempts < 1 {
		p.fail("DOMJUDGE_RETRY_ATTEMPTS", strconv.Itoa(c.Judge.Attempts), errors.New("must be at least 1"))
	}
	if p.errs != nil {
		return Config{}, p.errs
	}
	return c, nil
}

type parser struct{ errs error }

func (p *parser) fail(key, val string, err error) {
	p.errs = multierr.Append(p.errs, fmt.Errorf("%s=%q: %w", key, val, err))
}

func (p *parser) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (p *parser) int(key string, def int) int {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return n
}

func (p *parser) bool(key string, def bool) bool {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return b
}

// duration accepts Go durations ("50m") or a bare number of minutes.
func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Minute
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return d
}

func (p *parser) list(key string) []string {
	var out []string
	for _, s := range strings.Split(p.str(key, ""), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

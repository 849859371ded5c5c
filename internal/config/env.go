package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type lookupFunc func(key string) (string, bool)

// applyEnv overrides c with every variable lookup finds. Malformed values are
// reported together.
func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("DATABASE_URL", &c.DatabaseURL)
	e.str("REDIS_URL", &c.RedisURL)
	e.str("SERVER_PORT", &c.ServerPort)
	e.boolean("EPG_CORS_ENABLED", &c.CORSEnabled)
	e.list("EPG_CORS_ORIGINS", &c.CORSOrigins)
	e.integer("EPG_ADMIN_RATE_LIMIT", &c.AdminRateLimit)

	e.str("FETCHER_USER_AGENT", &c.UserAgent)
	e.duration("FETCHER_TIMEOUT", &c.Timeout)
	e.str("EPG_SCRATCH_DIR", &c.ScratchDir)
	e.integer("EPG_BATCH_SIZE", &c.BatchSize)

	e.integer("EPG_RETENTION_DAYS", &c.RetentionDays)
	e.str("EPG_IMPORT_TIME", &c.ImportTime)
	e.str("EPG_TIMEZONE", &c.Timezone)

	e.boolean("EPG_DEDUP_AFTER_IMPORT", &c.DedupAfterImport)
	e.integer("EPG_DEDUP_TIME_TOLERANCE", &c.DedupTimeTolerance)
	e.float("EPG_DEDUP_TITLE_THRESHOLD", &c.DedupTitleThreshold)

	e.str("EPG_LOG_LEVEL", &c.LogLevel)
	e.str("EPG_LOG_FORMAT", &c.LogFormat)

	return errors.Join(e.errs...)
}

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) fail(key, v string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, v, err))
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

// duration accepts Go durations ("90s") or a bare number of seconds.
func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = d
}

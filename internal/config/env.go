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

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ATTRIBUTION_"

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is
// not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg from ATTRIBUTION_* environment variables. Unset
// or unparsable variables leave the current value.
func ApplyEnv(cfg *Config) {
	cfg.MaxSourcesPerOrigin = getInt("MAX_SOURCES_PER_ORIGIN", cfg.MaxSourcesPerOrigin)
	cfg.MaxDestinationsPerSourceSiteReportingSite = getInt("MAX_DESTINATIONS_PER_SOURCE_SITE_REPORTING_SITE", cfg.MaxDestinationsPerSourceSiteReportingSite)

	cfg.DestinationRateLimit.MaxTotal = getInt("DESTINATION_RATE_LIMIT_MAX_TOTAL", cfg.DestinationRateLimit.MaxTotal)
	cfg.DestinationRateLimit.MaxPerReportingSite = getInt("DESTINATION_RATE_LIMIT_MAX_PER_REPORTING_SITE", cfg.DestinationRateLimit.MaxPerReportingSite)
	cfg.DestinationRateLimit.Window = getDuration("DESTINATION_RATE_LIMIT_WINDOW", cfg.DestinationRateLimit.Window)

	cfg.RateLimit.TimeWindow = getDuration("RATE_LIMIT_TIME_WINDOW", cfg.RateLimit.TimeWindow)
	cfg.RateLimit.MaxSourceRegistrationReportingOrigins = getInt("RATE_LIMIT_MAX_SOURCE_REGISTRATION_REPORTING_ORIGINS", cfg.RateLimit.MaxSourceRegistrationReportingOrigins)
	cfg.RateLimit.MaxAttributionReportingOrigins = getInt("RATE_LIMIT_MAX_ATTRIBUTION_REPORTING_ORIGINS", cfg.RateLimit.MaxAttributionReportingOrigins)
	cfg.RateLimit.MaxAttributions = getInt("RATE_LIMIT_MAX_ATTRIBUTIONS", cfg.RateLimit.MaxAttributions)
	cfg.RateLimit.SharedAttributionLimit = getBool("RATE_LIMIT_SHARED_ATTRIBUTION_LIMIT", cfg.RateLimit.SharedAttributionLimit)

	cfg.EventLevel.RandomizedResponseEpsilon = getFloat("EVENT_LEVEL_EPSILON", cfg.EventLevel.RandomizedResponseEpsilon)
	cfg.EventLevel.MaxReportsPerDestination = getInt("EVENT_LEVEL_MAX_REPORTS_PER_DESTINATION", cfg.EventLevel.MaxReportsPerDestination)

	cfg.Aggregate.BudgetPerSource = getInt("AGGREGATE_BUDGET_PER_SOURCE", cfg.Aggregate.BudgetPerSource)
	cfg.Aggregate.MaxReportsPerSource = getInt("AGGREGATE_MAX_REPORTS_PER_SOURCE", cfg.Aggregate.MaxReportsPerSource)
	cfg.Aggregate.MaxReportsPerDestination = getInt("AGGREGATE_MAX_REPORTS_PER_DESTINATION", cfg.Aggregate.MaxReportsPerDestination)
	cfg.Aggregate.MinDelay = getDuration("AGGREGATE_MIN_DELAY", cfg.Aggregate.MinDelay)
	cfg.Aggregate.DelaySpan = getDuration("AGGREGATE_DELAY_SPAN", cfg.Aggregate.DelaySpan)

	if getBool("OFFLINE_REPORT_DELAY_DISABLED", false) {
		cfg.OfflineReportDelay = nil
	}
}

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(EnvPrefix + key))
	return v, v != ""
}

func getInt(key string, def int64) int64 {
	if v, ok := lookup(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v, ok := lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDuration(key string, def attribution.Duration) attribution.Duration {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return attribution.Duration(d)
		}
	}
	return def
}

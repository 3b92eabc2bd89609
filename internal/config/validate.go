package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Validation modes, one per command family.
const (
	ModeServe   = "serve"
	ModeScan    = "scan"
	ModeMigrate = "migrate"
)

// Validate checks that the settings the given mode needs are present and
// within range.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url must name the sqlite file")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}

	switch mode {
	case ModeMigrate:
	case ModeServe, ModeScan:
		errs = append(errs, c.validateProviders()...)
		errs = append(errs, c.validateCuration()...)
		if mode == ModeServe {
			errs = append(errs, c.validateServe()...)
		}
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateProviders() []string {
	var errs []string
	if c.Anthropic.Key == "" {
		errs = append(errs, "anthropic.key is required")
	}
	if c.Gemini.APIKey == "" {
		errs = append(errs, "gemini.api_key is required")
	}
	if c.Apify.Token == "" {
		errs = append(errs, "apify.token is required")
	}
	return errs
}

func (c *Config) validateCuration() []string {
	var errs []string
	cur := c.Curation
	if cur.MinCredits < 0 {
		errs = append(errs, "curation.min_credits must be >= 0")
	}
	if cur.ScrapeRounds < 1 {
		errs = append(errs, "curation.scrape_rounds must be >= 1")
	}
	if cur.RelevanceBatchSize < 1 {
		errs = append(errs, "curation.relevance_batch_size must be >= 1")
	}
	if cur.MaxConsecutiveErrors < 1 {
		errs = append(errs, "curation.max_consecutive_errors must be >= 1")
	}
	if cur.RunTimeoutMins < 1 {
		errs = append(errs, "curation.run_timeout_mins must be >= 1")
	}
	if cur.MaxConcurrentRuns < 1 {
		errs = append(errs, "curation.max_concurrent_runs must be >= 1")
	}
	return errs
}

func (c *Config) validateServe() []string {
	var errs []string
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	switch c.Scheduler.Driver {
	case "cron":
	case "temporal":
		if c.Temporal.HostPort == "" || c.Temporal.TaskQueue == "" {
			errs = append(errs, "temporal.host_port and temporal.task_queue are required for the temporal scheduler")
		}
	default:
		errs = append(errs, fmt.Sprintf("scheduler.driver must be cron or temporal, got %q", c.Scheduler.Driver))
	}
	switch c.Lock.Driver {
	case "local":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis lock")
		}
	default:
		errs = append(errs, fmt.Sprintf("lock.driver must be local or redis, got %q", c.Lock.Driver))
	}
	return errs
}

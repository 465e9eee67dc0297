// Command ac-export writes ActiveCampaign resources as JSON lines.
//
//	ac-export [--config file] [--metrics-addr :9090] tags|lists|fields|campaigns
//	ac-export [--config file] contacts --tag NAME [--status active] [--after T] [--before T] [--count]
//
// Settings not in the config file come from AC_* environment variables,
// e.g. AC_BASEURL and AC_APITOKEN.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/activecampaign-client/pkg/activecampaign"
	"github.com/Sternrassler/activecampaign-client/pkg/client"
	"github.com/Sternrassler/activecampaign-client/pkg/config"
	"github.com/Sternrassler/activecampaign-client/pkg/logging"
	"github.com/Sternrassler/activecampaign-client/pkg/metrics"
	"github.com/Sternrassler/activecampaign-client/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "ac-export: %v\n", err)
		if errors.Is(err, client.ErrCancelled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	metricsAddr string
	tag         string
	status      string
	after       string
	before      string
	count       bool
}

func parseFlags(args []string) (options, string, error) {
	var opts options

	fs := pflag.NewFlagSet("ac-export", pflag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "config file (yaml, json or toml)")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the export")
	fs.StringVar(&opts.tag, "tag", "", "contacts: name of the tag to export")
	fs.StringVar(&opts.status, "status", "active", "contacts: any|unconfirmed|active|unsubscribed|bounced")
	fs.StringVar(&opts.after, "after", "", "contacts: created at or after (RFC 3339 or YYYY-MM-DD)")
	fs.StringVar(&opts.before, "before", "", "contacts: created at or before (RFC 3339 or YYYY-MM-DD)")
	fs.BoolVar(&opts.count, "count", false, "contacts: print only the number of matching contacts")

	if err := fs.Parse(args); err != nil {
		return opts, "", err
	}
	if fs.NArg() != 1 {
		return opts, "", errors.New("expected exactly one resource: tags, lists, fields, campaigns or contacts")
	}
	return opts, fs.Arg(0), nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	opts, resource, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logging.Setup(logging.Config{Level: level, Pretty: cfg.Log.Pretty, Output: os.Stderr})
	logger := logging.NewLogger(logging.ComponentExport)

	clientCfg := cfg.ClientConfig()
	if cfg.RateLimit.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.RateLimit.RedisAddr, err)
		}
		guard, err := ratelimit.NewRedisGuard(rdb, cfg.RateLimit.RedisKey,
			cfg.RateLimit.Requests, cfg.RateLimit.Window,
			logging.NewLogger(logging.ComponentRateLimit))
		if err != nil {
			return err
		}
		clientCfg.Admitter = guard
		logger.Info().Str("redis_addr", cfg.RateLimit.RedisAddr).Msg("Sharing rate limit window through Redis")
	}

	api, err := client.New(clientCfg)
	if err != nil {
		return err
	}
	defer api.Close()

	if opts.metricsAddr != "" {
		srv := metrics.NewServer(opts.metricsAddr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer stopMetricsServer(srv, 5*time.Second, logger)
	}

	ac := activecampaign.New(api, cfg.PaginationConfig())

	start := time.Now()
	logger.Info().Str("resource", resource).Msg("Export started")

	n, err := export(ctx, ac, resource, opts, json.NewEncoder(out), logger)
	if err != nil {
		return err
	}

	logger.Info().
		Str("resource", resource).
		Int("records", n).
		Dur("duration", time.Since(start)).
		Msg("Export finished")
	return nil
}

func export(ctx context.Context, ac *activecampaign.Client, resource string, opts options, enc *json.Encoder, logger zerolog.Logger) (int, error) {
	switch resource {
	case "tags":
		return writeAll[activecampaign.Tag](enc)(ac.ListTags(ctx))
	case "lists":
		return writeAll[activecampaign.List](enc)(ac.ListLists(ctx))
	case "fields":
		return writeAll[activecampaign.CustomField](enc)(ac.ListFields(ctx))
	case "campaigns":
		return writeAll[activecampaign.Campaign](enc)(ac.ListCampaigns(ctx))
	case "contacts":
		return exportContacts(ctx, ac, opts, enc, logger)
	default:
		return 0, fmt.Errorf("unknown resource %q", resource)
	}
}

// writeAll adapts a (records, error) result to one JSON line per record.
func writeAll[T any](enc *json.Encoder) func([]T, error) (int, error) {
	return func(records []T, err error) (int, error) {
		if err != nil {
			return 0, err
		}
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return 0, fmt.Errorf("write record: %w", err)
			}
		}
		return len(records), nil
	}
}

func exportContacts(ctx context.Context, ac *activecampaign.Client, opts options, enc *json.Encoder, logger zerolog.Logger) (int, error) {
	if opts.tag == "" {
		return 0, errors.New("contacts: --tag is required")
	}
	status, ok := activecampaign.ParseContactStatus(opts.status)
	if !ok {
		return 0, fmt.Errorf("contacts: unknown status %q", opts.status)
	}
	dateRange, err := parseDateRange(opts.after, opts.before)
	if err != nil {
		return 0, err
	}

	tag, err := ac.GetTag(ctx, opts.tag)
	if err != nil {
		return 0, err
	}

	if opts.count {
		n, err := ac.CountContactsByTag(ctx, tag.ID.Int(), status, dateRange)
		if err != nil {
			return 0, err
		}
		return 1, enc.Encode(map[string]int{"count": n})
	}

	contacts, err := ac.GetContactsByTag(ctx, tag.ID.Int(), status, dateRange, func(processed, total int) {
		logger.Debug().Int("processed", processed).Int("total", total).Msg("Contacts received")
	})
	return writeAll[activecampaign.Contact](enc)(contacts, err)
}

var dateLayouts = []string{time.RFC3339, "2006-01-02"}

func parseTime(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339 or YYYY-MM-DD", s)
}

// parseDateRange returns nil when neither bound is set. A missing lower
// bound is the Unix epoch, a missing upper bound is now.
func parseDateRange(after, before string) (*activecampaign.DateRange, error) {
	if after == "" && before == "" {
		return nil, nil
	}

	start := time.Unix(0, 0).UTC()
	end := time.Now().UTC()
	var err error
	if after != "" {
		if start, err = parseTime(after); err != nil {
			return nil, err
		}
	}
	if before != "" {
		if end, err = parseTime(before); err != nil {
			return nil, err
		}
	}

	r, err := activecampaign.NewDateRange(start, end)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// stopMetricsServer shuts srv down, waiting at most timeout for in-flight
// scrapes.
func stopMetricsServer(srv *http.Server, timeout time.Duration, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("Metrics server shutdown failed")
	}
}

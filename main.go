package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/firefart/dmarcingest/internal/config"
	"github.com/firefart/dmarcingest/internal/dns"
	"github.com/firefart/dmarcingest/internal/enrich"
	"github.com/firefart/dmarcingest/internal/fetch"
	"github.com/firefart/dmarcingest/internal/ingest"
	"github.com/firefart/dmarcingest/internal/storage"

	charmlog "github.com/charmbracelet/log"
	"github.com/hashicorp/go-multierror"
	"github.com/mattn/go-isatty"
)

func main() {
	debug := flag.Bool("debug", false, "Print debug output")
	configFile := flag.String("config", "", "Config file to use")
	flag.Parse()

	handler := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
	})
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		handler.SetFormatter(charmlog.LogfmtFormatter)
	}
	if *debug {
		handler.SetLevel(charmlog.DebugLevel)
	}
	logger := slog.New(handler)

	// set some defaults
	defaults := config.Configuration{
		ReportDir:    "./reports",
		DatabaseFile: "./results/dmarc.sqlite",
		CacheFile:    "./results/rdns.json",
		DNSConnectTimeout: config.Duration{
			Duration: 1 * time.Second,
		},
		DNSTimeout: config.Duration{
			Duration: 10 * time.Second,
		},
		ImapConfig: config.IMAPConfig{
			Folder: "INBOX",
			Timeout: config.Duration{
				Duration: 30 * time.Second,
			},
		},
	}

	settings := &defaults
	if *configFile != "" {
		var err error
		settings, err = config.GetConfig(defaults, *configFile)
		if err != nil {
			logger.Error("could not read config", "file", *configFile, "err", err)
			os.Exit(1)
		}
	}

	// trap Ctrl+C and call cancel on the context
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	defer func() {
		signal.Stop(c)
		cancel()
	}()

	go func() {
		<-c
		logger.Info("CTRL+C received")
		cancel()
	}()

	if err := run(ctx, settings, logger); err != nil {
		logger.Error("run failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, settings *config.Configuration, logger *slog.Logger) error {
	store, err := storage.New(settings.DatabaseFile)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("could not close store", "err", err)
		}
	}()

	entries, err := dns.LoadCacheFile(settings.CacheFile)
	if err != nil {
		return fmt.Errorf("could not load resolver cache: %w", err)
	}
	logger.Info("loaded resolver cache", "entries", len(entries))

	resolver := dns.NewCachedResolver(ctx, settings.DNSServer, settings.DNSConnectTimeout.Duration, settings.DNSTimeout.Duration, logger)
	resolver.SetEntries(entries)

	var geo *enrich.GeoIP
	if settings.GeoIPDatabase != "" {
		geo, err = enrich.NewGeoIP(settings.GeoIPDatabase)
		if err != nil {
			return err
		}
		defer geo.Close()
	}

	if settings.ImapConfig.Enabled() {
		fetcher := fetch.New(settings.ImapConfig, logger)
		n, err := fetcher.FetchTo(ctx, settings.ReportDir)
		if err != nil {
			// keep going, the reports already on disk can still be ingested
			logger.Error("mailbox fetch failed", "err", err)
		} else {
			logger.Info("mailbox fetch finished", "downloaded", n)
		}
	}

	driver := ingest.NewDriver(store, resolver, geo, logger)

	var errs *multierror.Error
	summary, err := driver.Run(ctx, settings.ReportDir)
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	logger.Info(fmt.Sprintf("Found %d files, parsed and saved %d new reports (%d failed)",
		summary.FilesSeen, summary.NewReports, summary.Failed))

	if err == nil && settings.Watch {
		if err := driver.Watch(ctx, settings.ReportDir); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if err := dns.SaveCacheFile(settings.CacheFile, resolver.Entries()); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("could not save resolver cache: %w", err))
	}

	return errs.ErrorOrNil()
}

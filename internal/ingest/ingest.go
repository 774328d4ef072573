package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/firefart/dmarcingest/internal/dmarc"
	"github.com/firefart/dmarcingest/internal/enrich"
)

// Store is the persistence collaborator for decoded reports.
type Store interface {
	ReportExists(ctx context.Context, filename string) (bool, error)
	SaveReport(ctx context.Context, report *dmarc.Report) error
}

type Summary struct {
	FilesSeen  int
	NewReports int
	Failed     int
}

// Driver walks a report directory and feeds every new archive through
// extraction, decoding and the store. geo may be nil.
type Driver struct {
	store    Store
	resolver dmarc.IPResolver
	geo      *enrich.GeoIP
	logger   *slog.Logger
}

func NewDriver(store Store, resolver dmarc.IPResolver, geo *enrich.GeoIP, logger *slog.Logger) *Driver {
	return &Driver{
		store:    store,
		resolver: resolver,
		geo:      geo,
		logger:   logger,
	}
}

// Run ingests every report archive under dir that the store does not
// know yet. Broken archives and schema violations are logged and
// skipped so a single bad file cannot abort the batch. Store errors
// abort the run.
func (d *Driver) Run(ctx context.Context, dir string) (Summary, error) {
	var summary Summary

	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		summary.FilesSeen++

		saved, err := d.ingestFile(ctx, path, entry.Name())
		if err != nil {
			if isStoreError(err) {
				return err
			}
			d.logger.Warn("skipping broken report file", "file", entry.Name(), "err", err)
			summary.Failed++
			return nil
		}
		if saved {
			summary.NewReports++
		}
		return nil
	})
	if err != nil {
		return summary, fmt.Errorf("ingest run aborted: %w", err)
	}

	return summary, nil
}

// ingestFile runs the per file pipeline: dedup check, extraction,
// decoding, enrichment, save. It reports whether a new report was
// saved. Store failures are wrapped so the caller can treat them as
// fatal while everything else only fails this one file.
func (d *Driver) ingestFile(ctx context.Context, path, name string) (bool, error) {
	exists, err := d.store.ReportExists(ctx, name)
	if err != nil {
		return false, &storeError{err: err}
	}
	if exists {
		d.logger.Debug("report already ingested", "file", name)
		return false, nil
	}

	content, err := os.ReadFile(path) // nolint: gosec
	if err != nil {
		return false, fmt.Errorf("could not read file: %w", err)
	}

	xmlContent, ok, err := dmarc.ExtractReport(name, content)
	if err != nil {
		return false, err
	}
	if !ok {
		// not a report delivery, leave it alone
		return false, nil
	}

	report, err := dmarc.DecodeReport(xmlContent, name, d.resolver)
	if err != nil {
		return false, err
	}

	if d.geo != nil {
		d.geo.Annotate(report)
	}

	if err := d.store.SaveReport(ctx, report); err != nil {
		return false, &storeError{err: err}
	}

	d.logger.Info("saved new report", "file", name, "records", len(report.Records))
	return true, nil
}

// storeError marks persistence failures, which abort the run instead of
// being contained per file.
type storeError struct {
	err error
}

func (e *storeError) Error() string { return e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

func isStoreError(err error) bool {
	var se *storeError
	return errors.As(err, &se)
}

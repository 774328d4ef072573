package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/firefart/dmarcingest/internal/dmarc"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Report is the persisted form of a decoded aggregate report. Filename
// has a unique index because it is the deduplication key across runs.
type Report struct {
	ID        uint   `gorm:"primaryKey"`
	ReportID  string `gorm:"index"`
	Receiver  string
	Filename  string `gorm:"uniqueIndex"`
	StartDate time.Time
	EndDate   time.Time
	Records   []Record `gorm:"foreignKey:ReportRowID;constraint:OnDelete:CASCADE"`
}

type Record struct {
	ID             uint   `gorm:"primaryKey"`
	ReportRowID    uint   `gorm:"index"`
	SourceIP       string `gorm:"index"`
	Host           *string
	Country        *string
	Disposition    string
	SPFPass        *bool
	DKIMPass       bool
	Reason         *string
	HeaderFrom     *string
	EnvelopeFrom   *string
	Count          int
	SPFResults     []SPFResult     `gorm:"foreignKey:RecordRowID;constraint:OnDelete:CASCADE"`
	DKIMSignatures []DKIMSignature `gorm:"foreignKey:RecordRowID;constraint:OnDelete:CASCADE"`
}

type SPFResult struct {
	ID          uint `gorm:"primaryKey"`
	RecordRowID uint `gorm:"index"`
	Domain      string
	Result      string
}

type DKIMSignature struct {
	ID          uint `gorm:"primaryKey"`
	RecordRowID uint `gorm:"index"`
	Domain      string
	Result      string
	Selector    *string
	HumanResult *string
}

type Store struct {
	db *gorm.DB
}

// New opens (and if needed creates) the sqlite database at path and
// migrates the schema.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("could not create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if err := db.AutoMigrate(&Report{}, &Record{}, &SPFResult{}, &DKIMSignature{}); err != nil {
		return nil, fmt.Errorf("could not migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ReportExists reports whether a report from the given source file was
// already ingested.
func (s *Store) ReportExists(ctx context.Context, filename string) (bool, error) {
	var report Report
	err := s.db.WithContext(ctx).Where("filename = ?", filename).First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("could not query report: %w", err)
	}
	return true, nil
}

// SaveReport persists a report together with all its records and auth
// results in a single transaction.
func (s *Store) SaveReport(ctx context.Context, report *dmarc.Report) error {
	row := Report{
		ReportID:  report.ReportID,
		Receiver:  report.Receiver,
		Filename:  report.Filename,
		StartDate: report.StartDate,
		EndDate:   report.EndDate,
	}

	for _, rec := range report.Records {
		recordRow := Record{
			SourceIP:     rec.SourceIP,
			Host:         rec.Host,
			Country:      rec.Country,
			Disposition:  rec.Disposition,
			SPFPass:      rec.SPFPass,
			DKIMPass:     rec.DKIMPass,
			Reason:       rec.Reason,
			HeaderFrom:   rec.HeaderFrom,
			EnvelopeFrom: rec.EnvelopeFrom,
			Count:        rec.Count,
		}
		for _, spf := range rec.SPFResults {
			recordRow.SPFResults = append(recordRow.SPFResults, SPFResult{
				Domain: spf.Domain,
				Result: spf.Result,
			})
		}
		for _, sig := range rec.DKIMSignatures {
			recordRow.DKIMSignatures = append(recordRow.DKIMSignatures, DKIMSignature{
				Domain:      sig.Domain,
				Result:      sig.Result,
				Selector:    sig.Selector,
				HumanResult: sig.HumanResult,
			})
		}
		row.Records = append(row.Records, recordRow)
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("could not save report %s: %w", report.Filename, err)
	}
	return nil
}

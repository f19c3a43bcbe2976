// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package catalog stores calibration frames and selects the best master
// calibration for a science frame.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hoxca/nightcal/internal/logger"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrCalibrationNotFound = errors.New("calibration not found")
	ErrInstrumentNotFound  = errors.New("instrument not found")
	ErrSiteNotFound        = errors.New("site not found")
	ErrUnsupportedDriver   = errors.New("unsupported database driver")
)

// Calibration catalog backed by a SQL database
type Store struct {
	DB *gorm.DB
}

// Open a catalog with the sqlite or mysql driver
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3", "":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.NewGormAdapter(200 * time.Millisecond)})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s catalog: %w", driver, err)
	}
	return &Store{DB: db}, nil
}

// Wrap an existing connection
func New(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// Create or update the catalog tables
func (s *Store) Migrate(ctx context.Context) error {
	return s.DB.WithContext(ctx).AutoMigrate(&Site{}, &Instrument{}, &CalibrationImage{})
}

// Release the database connection
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Insert or update a site
func (s *Store) AddSite(ctx context.Context, site *Site) error {
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(site).Error
}

func (s *Store) FindSite(ctx context.Context, id string) (*Site, error) {
	var site Site
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&site).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%q: %w", id, ErrSiteNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &site, nil
}

// Insert an instrument, or return the existing one with the same site, camera and name
func (s *Store) AddInstrument(ctx context.Context, inst *Instrument) (*Instrument, error) {
	existing, err := s.FindInstrument(ctx, inst.Site, inst.Camera, inst.Name)
	if err == nil {
		if inst.Type != "" && existing.Type != inst.Type {
			existing.Type = inst.Type
			if err := s.DB.WithContext(ctx).Save(existing).Error; err != nil {
				return nil, err
			}
		}
		return existing, nil
	}
	if !errors.Is(err, ErrInstrumentNotFound) {
		return nil, err
	}
	if err := s.DB.WithContext(ctx).Create(inst).Error; err != nil {
		return nil, fmt.Errorf("failed to add instrument: %w", err)
	}
	return inst, nil
}

// Look up an instrument. An empty name matches the camera name.
func (s *Store) FindInstrument(ctx context.Context, site, camera, name string) (*Instrument, error) {
	if name == "" {
		name = camera
	}
	var inst Instrument
	err := s.DB.WithContext(ctx).
		Where("site = ? AND camera = ? AND name = ?", site, camera, name).
		First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s/%s/%s: %w", site, camera, name, ErrInstrumentNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// All instruments, ordered by site and camera
func (s *Store) Instruments(ctx context.Context) ([]Instrument, error) {
	var insts []Instrument
	err := s.DB.WithContext(ctx).Order("site, camera, name").Find(&insts).Error
	return insts, err
}

// Insert or update a calibration record keyed by its unique filename. Runs
// as a single upsert in a transaction so readers never see a partial row.
func (s *Store) SaveCalibration(ctx context.Context, rec *CalibrationImage) error {
	if rec.Filename == "" {
		return errors.New("calibration record without filename")
	}
	rec.Type = strings.ToUpper(rec.Type)
	if rec.GoodAfter.IsZero() {
		rec.GoodAfter = DefaultGoodAfter
	}
	if rec.GoodUntil.IsZero() {
		rec.GoodUntil = DefaultGoodUntil
	}
	if rec.DateCreated.IsZero() {
		rec.DateCreated = time.Now().UTC()
	}
	// the filename is the key, a stale primary key must not collide
	row := *rec
	row.ID = 0
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Omit("Instrument").Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "filename"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("failed to save calibration %s: %w", rec.Filename, err)
		}
		// the conflict path does not report the existing primary key on every driver
		return tx.Model(&CalibrationImage{}).Where("filename = ?", rec.Filename).Select("id").Scan(&rec.ID).Error
	})
}

var upsertColumns = []string{
	"type", "filepath", "frame_id", "date_obs", "date_created", "instrument_id",
	"is_master", "is_bad", "good_after", "good_until", "attributes",
}

// Set or clear the bad flag of a calibration
func (s *Store) MarkBad(ctx context.Context, filename string, bad bool) error {
	res := s.DB.WithContext(ctx).Model(&CalibrationImage{}).Where("filename = ?", filename).Update("is_bad", bad)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", filename, ErrCalibrationNotFound)
	}
	return nil
}

// Look up a calibration by filename
func (s *Store) Get(ctx context.Context, filename string) (*CalibrationImage, error) {
	var rec CalibrationImage
	err := s.DB.WithContext(ctx).Where("filename = ?", filename).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", filename, ErrCalibrationNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Restrictions for listing calibrations. Zero values do not restrict.
type Filter struct {
	Type         string
	InstrumentID uint
	MasterOnly   bool
	IncludeBad   bool
	After        time.Time
	Before       time.Time
	Limit        int
}

// Calibrations matching the filter, newest first
func (s *Store) List(ctx context.Context, f Filter) ([]CalibrationImage, error) {
	var recs []CalibrationImage
	err := s.filtered(ctx, f).Order("date_obs DESC").Find(&recs).Error
	return recs, err
}

func (s *Store) filtered(ctx context.Context, f Filter) *gorm.DB {
	q := s.DB.WithContext(ctx).Model(&CalibrationImage{})
	if f.Type != "" {
		q = q.Where("type = ?", strings.ToUpper(f.Type))
	}
	if f.InstrumentID != 0 {
		q = q.Where("instrument_id = ?", f.InstrumentID)
	}
	if f.MasterOnly {
		q = q.Where("is_master = ?", true)
	}
	if !f.IncludeBad {
		q = q.Where("is_bad = ?", false)
	}
	if !f.After.IsZero() {
		q = q.Where("date_obs >= ?", f.After)
	}
	if !f.Before.IsZero() {
		q = q.Where("date_obs <= ?", f.Before)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	return q
}

// Individual, not bad frames of one type and instrument observed within
// [min, max], oldest first. These are the inputs for building a master.
func (s *Store) IndividualFrames(ctx context.Context, instrumentID uint, kind string, min, max time.Time) ([]CalibrationImage, error) {
	var recs []CalibrationImage
	err := s.DB.WithContext(ctx).
		Where("instrument_id = ? AND type = ? AND is_master = ? AND is_bad = ?", instrumentID, strings.ToUpper(kind), false, false).
		Where("date_obs >= ? AND date_obs <= ?", min, max).
		Order("date_obs").
		Find(&recs).Error
	return recs, err
}

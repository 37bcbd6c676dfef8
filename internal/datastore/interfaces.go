// Package datastore archives pole events and camera error reports with GORM.
package datastore

import (
	"time"

	"github.com/tphakala/polecam/internal/broker"
	"github.com/tphakala/polecam/internal/conf"
	"github.com/tphakala/polecam/internal/errors"
	"github.com/tphakala/polecam/internal/logger"
	"github.com/tphakala/polecam/internal/observability/metrics"
	"gorm.io/gorm"
)

// ErrNotInitialized is returned when a store is used before Open
var ErrNotInitialized = errors.NewStd("database connection is not initialized")

// Interface abstracts the underlying database implementation
type Interface interface {
	Open() error
	SaveEvent(pole string, eventTS time.Time, arrays []broker.ShootArray) error
	SaveCameraError(cameraID string, kind broker.ErrorKind, stillRunning bool) error
	LatestEvents(limit int) ([]Event, error)
	CameraErrors(cameraID string, limit int) ([]CameraError, error)
	Close() error
}

// DataStore implements the queries shared by all backends
type DataStore struct {
	DB      *gorm.DB
	Metrics *metrics.DatastoreMetrics
	Logger  logger.Logger
}

// New returns the store for the enabled backend, or nil when archiving is off.
// m may be nil.
func New(settings *conf.Settings, m *metrics.DatastoreMetrics) Interface {
	base := DataStore{
		Metrics: m,
		Logger:  GetLogger(),
	}
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{DataStore: base, Settings: settings}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{DataStore: base, Settings: settings}
	default:
		return nil
	}
}

// SaveEvent stores one Event row per shoot array, with its shoots, in a single transaction
func (ds *DataStore) SaveEvent(pole string, eventTS time.Time, arrays []broker.ShootArray) error {
	if ds.DB == nil {
		return ErrNotInitialized
	}
	if len(arrays) == 0 {
		return nil
	}

	start := time.Now()
	events := make([]Event, 0, len(arrays))
	shoots := 0
	for _, a := range arrays {
		ev := Event{
			Pole:          pole,
			EventTime:     eventTS,
			TriggerNum:    a.TriggerNum,
			Timestamp:     a.Timestamp,
			TransactionID: a.TransactionID,
			Shoots:        make([]EventShot, 0, len(a.Shoots)),
		}
		for _, s := range a.Shoots {
			ev.Shoots = append(ev.Shoots, EventShot{
				CameraID:  s.CameraID,
				CameraNum: s.CameraNum,
				ImagePath: s.ImagePath,
			})
		}
		shoots += len(a.Shoots)
		events = append(events, ev)
	}

	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&events).Error
	})
	ds.record(metrics.OpSaveEvent, start, err)
	if err != nil {
		return ds.dbError(err, metrics.OpSaveEvent).
			Context("pole", pole).
			Context("shoot_arrays", len(arrays)).
			Build()
	}

	if ds.Metrics != nil {
		ds.Metrics.RecordRowsWritten("events", len(events))
		ds.Metrics.RecordRowsWritten("event_shots", shoots)
	}
	return nil
}

// SaveCameraError stores one camera error report
func (ds *DataStore) SaveCameraError(cameraID string, kind broker.ErrorKind, stillRunning bool) error {
	if ds.DB == nil {
		return ErrNotInitialized
	}

	start := time.Now()
	err := ds.DB.Create(&CameraError{
		CameraID:     cameraID,
		Kind:         string(kind),
		StillRunning: stillRunning,
	}).Error
	ds.record(metrics.OpSaveError, start, err)
	if err != nil {
		return ds.dbError(err, metrics.OpSaveError).
			CameraContext(cameraID, 0).
			Build()
	}
	if ds.Metrics != nil {
		ds.Metrics.RecordRowsWritten("camera_errors", 1)
	}
	return nil
}

// LatestEvents returns the newest events first, with their shoots
func (ds *DataStore) LatestEvents(limit int) ([]Event, error) {
	if ds.DB == nil {
		return nil, ErrNotInitialized
	}

	start := time.Now()
	var events []Event
	err := ds.DB.Preload("Shoots", func(db *gorm.DB) *gorm.DB {
		return db.Order("camera_num ASC")
	}).
		Order("event_time DESC").
		Order("trigger_num ASC").
		Limit(normalizeLimit(limit)).
		Find(&events).Error
	ds.record(metrics.OpLatestEvents, start, err)
	if err != nil {
		return nil, ds.dbError(err, metrics.OpLatestEvents).Build()
	}
	return events, nil
}

// CameraErrors returns the newest error reports first. An empty cameraID matches all cameras.
func (ds *DataStore) CameraErrors(cameraID string, limit int) ([]CameraError, error) {
	if ds.DB == nil {
		return nil, ErrNotInitialized
	}

	start := time.Now()
	query := ds.DB.Order("created_at DESC").Order("id DESC").Limit(normalizeLimit(limit))
	if cameraID != "" {
		query = query.Where("camera_id = ?", cameraID)
	}
	var errs []CameraError
	err := query.Find(&errs).Error
	ds.record(metrics.OpCameraErrors, start, err)
	if err != nil {
		return nil, ds.dbError(err, metrics.OpCameraErrors).Build()
	}
	return errs, nil
}

// closeDB closes the underlying connection pool
func (ds *DataStore) closeDB() error {
	if ds.DB == nil {
		return ErrNotInitialized
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return ds.dbError(err, "close").Build()
	}
	if err := sqlDB.Close(); err != nil {
		return ds.dbError(err, "close").Build()
	}
	ds.DB = nil
	return nil
}

func (ds *DataStore) record(operation string, start time.Time, err error) {
	if ds.Metrics == nil {
		return
	}
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	ds.Metrics.RecordDbOperation(operation, status)
	ds.Metrics.RecordDbOperationDuration(operation, time.Since(start).Seconds())
}

func (ds *DataStore) dbError(err error, operation string) *errors.ErrorBuilder {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)
}

const (
	defaultLimit = 50
	maxLimit     = 1000
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return min(limit, maxLimit)
}

// performAutoMigration creates or updates the archive tables
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&Event{}, &EventShot{}, &CameraError{}); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("db_type", dbType).
			Context("operation", "auto_migrate").
			Build()
	}

	if debug {
		GetLogger().Debug("database connection initialized",
			logger.String("db_type", dbType),
			logger.String("connection", connectionInfo))
	}
	return nil
}

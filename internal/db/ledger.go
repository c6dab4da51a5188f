package db

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cqtfi/arbengine/pkg/domain"
)

// LedgerEventRecord is the database model for a domain.LedgerEvent.
type LedgerEventRecord struct {
	Sequence  uint64    `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time `gorm:"index;not null"`
	Kind      string    `gorm:"index;not null;type:varchar(64)"`
	Payload   []byte    `gorm:"type:json"`
}

// TableName specifies the table name for GORM.
func (LedgerEventRecord) TableName() string {
	return "ledger_events"
}

// MetricsSink observes every successfully appended event. The Ledger
// calls it after the write commits, never before, so a metrics failure
// can't mask an unrecorded state change.
type MetricsSink interface {
	ObserveLedgerEvent(kind domain.LedgerEventKind)
}

// Ledger is the append-only event store spec.md §4.8 names: every
// state-changing event is written before the state it describes is
// exposed elsewhere, and on restart the engine replays it to
// reconstruct reserve balances, cooldown windows, and the
// emergency-stop flag; open executions and open bridge transfers are
// not reconstructed. It generalizes the teacher's
// single-table AssetSnapshotRecord/MySQLRecorder into an
// append-only, kind-tagged event stream.
type Ledger struct {
	db      *gorm.DB
	metrics MetricsSink
}

// NewLedger opens dsn and migrates the ledger schema.
// dsn format: "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
func NewLedger(dsn string, metrics MetricsSink) (*Ledger, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to ledger database: %w", err)
	}
	return NewLedgerWithDB(db, metrics)
}

// NewLedgerWithDB wraps an existing GORM connection, migrating the
// ledger schema onto it. metrics may be nil.
func NewLedgerWithDB(db *gorm.DB, metrics MetricsSink) (*Ledger, error) {
	if err := db.AutoMigrate(&LedgerEventRecord{}); err != nil {
		return nil, fmt.Errorf("migrate ledger schema: %w", err)
	}
	return &Ledger{db: db, metrics: metrics}, nil
}

// Append writes one event and returns the sequence number the store
// assigned it. Callers must finish writing before exposing the state
// change the event describes elsewhere (spec.md §4.8).
func (l *Ledger) Append(kind domain.LedgerEventKind, payload []byte) (uint64, error) {
	record := LedgerEventRecord{Timestamp: time.Now(), Kind: string(kind), Payload: payload}
	if result := l.db.Create(&record); result.Error != nil {
		return 0, fmt.Errorf("append ledger event %s: %w", kind, result.Error)
	}
	if l.metrics != nil {
		l.metrics.ObserveLedgerEvent(kind)
	}
	return record.Sequence, nil
}

// Replay streams every recorded event in sequence order, oldest first.
// The engine's startup pass uses this to reconstruct reserve balances,
// cooldown windows, and the emergency-stop flag before resuming (open
// executions and open bridge transfers are not reconstructed); fn
// returning an error stops the replay early.
func (l *Ledger) Replay(fn func(domain.LedgerEvent) error) error {
	var records []LedgerEventRecord
	if result := l.db.Order("sequence ASC").Find(&records); result.Error != nil {
		return fmt.Errorf("replay ledger: %w", result.Error)
	}
	for _, r := range records {
		event := domain.LedgerEvent{
			Sequence:  r.Sequence,
			Timestamp: r.Timestamp,
			Kind:      domain.LedgerEventKind(r.Kind),
			Payload:   r.Payload,
		}
		if err := fn(event); err != nil {
			return err
		}
	}
	return nil
}

// EventsByKind retrieves every recorded event of one kind, oldest first.
func (l *Ledger) EventsByKind(kind domain.LedgerEventKind) ([]LedgerEventRecord, error) {
	var records []LedgerEventRecord
	result := l.db.Where("kind = ?", string(kind)).Order("sequence ASC").Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("events by kind %s: %w", kind, result.Error)
	}
	return records, nil
}

// EventsInRange retrieves every event recorded within [start, end], oldest first.
func (l *Ledger) EventsInRange(start, end time.Time) ([]LedgerEventRecord, error) {
	var records []LedgerEventRecord
	result := l.db.Where("timestamp BETWEEN ? AND ?", start, end).Order("sequence ASC").Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("events in range: %w", result.Error)
	}
	return records, nil
}

// LatestSequence returns the highest sequence number recorded, or 0 if
// the ledger is empty.
func (l *Ledger) LatestSequence() (uint64, error) {
	var record LedgerEventRecord
	result := l.db.Order("sequence DESC").First(&record)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("latest ledger sequence: %w", result.Error)
	}
	return record.Sequence, nil
}

// CountEvents returns the total number of events recorded.
func (l *Ledger) CountEvents() (int64, error) {
	var count int64
	if result := l.db.Model(&LedgerEventRecord{}).Count(&count); result.Error != nil {
		return 0, fmt.Errorf("count ledger events: %w", result.Error)
	}
	return count, nil
}

// GetDB returns the underlying GORM DB instance for advanced queries.
func (l *Ledger) GetDB() *gorm.DB {
	return l.db
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return fmt.Errorf("get underlying db: %w", err)
	}
	return sqlDB.Close()
}

package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cryptobot/internal/history"
)

type positionRow struct {
	OrderID    string `gorm:"primaryKey"`
	Instrument string `gorm:"index"`
	Quantity   float64
	EntryPrice float64
	Status     string
	OpenedAt   time.Time
}

func (positionRow) TableName() string { return "bot_positions" }

type sampleRow struct {
	Instrument string    `gorm:"primaryKey"`
	Timestamp  time.Time `gorm:"primaryKey"`
	Price      float64
	SMAFast    *float64
	SMASlow    *float64
	RSI        *float64
	MACD       *float64
	MACDSignal *float64
}

func (sampleRow) TableName() string { return "bot_samples" }

type snapshotRow struct {
	ID      uint `gorm:"primaryKey"`
	SavedAt time.Time
}

func (snapshotRow) TableName() string { return "bot_snapshots" }

// PostgresStore writes each snapshot in a single transaction.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&positionRow{}, &sampleRow{}, &snapshotRow{}); err != nil {
		return nil, fmt.Errorf("migrate snapshot tables: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Save(ctx context.Context, snapshot Snapshot) error {
	positions := make([]positionRow, 0, len(snapshot.Orders))
	for id, pos := range snapshot.Orders {
		positions = append(positions, positionRow{
			OrderID:    id,
			Instrument: pos.Instrument,
			Quantity:   pos.Quantity,
			EntryPrice: pos.EntryPrice,
			Status:     string(pos.Status),
			OpenedAt:   dbTime(pos.OpenedAt),
		})
	}
	var samples []sampleRow
	for instrument, series := range snapshot.History {
		for _, s := range series {
			samples = append(samples, sampleRow{
				Instrument: instrument,
				Timestamp:  dbTime(s.Timestamp),
				Price:      s.Price,
				SMAFast:    s.SMAFast,
				SMASlow:    s.SMASlow,
				RSI:        s.RSI,
				MACD:       s.MACD,
				MACDSignal: s.MACDSignal,
			})
		}
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&positionRow{}).Error; err != nil {
			return fmt.Errorf("clear positions: %w", err)
		}
		if err := tx.Where("1 = 1").Delete(&sampleRow{}).Error; err != nil {
			return fmt.Errorf("clear samples: %w", err)
		}
		if len(positions) > 0 {
			if err := tx.Create(&positions).Error; err != nil {
				return fmt.Errorf("insert positions: %w", err)
			}
		}
		if len(samples) > 0 {
			if err := tx.CreateInBatches(&samples, 500).Error; err != nil {
				return fmt.Errorf("insert samples: %w", err)
			}
		}
		return tx.Save(&snapshotRow{ID: 1, SavedAt: dbTime(snapshot.SavedAt)}).Error
	})
}

func (p *PostgresStore) Load(ctx context.Context) (Snapshot, bool, error) {
	db := p.db.WithContext(ctx)

	var meta snapshotRow
	if err := db.First(&meta, 1).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("load snapshot meta: %w", err)
	}

	var positions []positionRow
	if err := db.Find(&positions).Error; err != nil {
		return Snapshot{}, false, fmt.Errorf("load positions: %w", err)
	}
	var samples []sampleRow
	if err := db.Order("instrument, timestamp").Find(&samples).Error; err != nil {
		return Snapshot{}, false, fmt.Errorf("load samples: %w", err)
	}

	snapshot := Snapshot{
		Orders:  make(map[string]Position, len(positions)),
		History: map[string][]history.Sample{},
		SavedAt: meta.SavedAt.UTC(),
	}
	for _, row := range positions {
		snapshot.Orders[row.OrderID] = Position{
			Instrument: row.Instrument,
			Quantity:   row.Quantity,
			EntryPrice: row.EntryPrice,
			OrderID:    row.OrderID,
			Status:     Status(row.Status),
			OpenedAt:   row.OpenedAt.UTC(),
		}
	}
	for _, row := range samples {
		snapshot.History[row.Instrument] = append(snapshot.History[row.Instrument], history.Sample{
			Timestamp:  row.Timestamp.UTC(),
			Price:      row.Price,
			SMAFast:    row.SMAFast,
			SMASlow:    row.SMASlow,
			RSI:        row.RSI,
			MACD:       row.MACD,
			MACDSignal: row.MACDSignal,
		})
	}
	return snapshot, true, nil
}

// dbTime matches what a timestamptz column keeps.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func (p *PostgresStore) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

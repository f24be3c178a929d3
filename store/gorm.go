package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"trendrider/models"
)

// PositionModel is the row of the single live position of a market.
type PositionModel struct {
	Market        string `gorm:"primaryKey;size:32"`
	PositionID    string `gorm:"size:64;not null"`
	Side          string `gorm:"size:8;not null"`
	State         string `gorm:"size:16;not null"`
	Quantity      float64
	EntryQuantity float64
	EntryPrice    float64
	StopPrice     float64
	InitialStop   float64
	TargetPrice   float64
	EntryOrderID  string `gorm:"size:64"`
	StopOrderID   string `gorm:"size:64"`
	TargetOrderID string `gorm:"size:64"`
	RealizedPnL   float64
	ExitReason    string `gorm:"size:16"`
	OpenedAt      time.Time
	UpdatedAt     time.Time
}

func (PositionModel) TableName() string {
	return "positions"
}

// OutcomeModel is one closed trade.
type OutcomeModel struct {
	ID         uint   `gorm:"primaryKey"`
	PositionID string `gorm:"size:64;not null;uniqueIndex"`
	Market     string `gorm:"size:32;not null;index:outcome_market_closed,priority:1"`
	Side       string `gorm:"size:8;not null"`
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	PnL        float64
	Reason     string    `gorm:"size:16"`
	OpenedAt   time.Time
	ClosedAt   time.Time `gorm:"index:outcome_market_closed,priority:2"`
}

func (OutcomeModel) TableName() string {
	return "trade_outcomes"
}

func toPositionModel(s models.PositionSnapshot) PositionModel {
	return PositionModel{
		Market:        s.Market,
		PositionID:    s.ID,
		Side:          string(s.Side),
		State:         string(s.State),
		Quantity:      s.Quantity,
		EntryQuantity: s.EntryQuantity,
		EntryPrice:    s.EntryPrice,
		StopPrice:     s.StopPrice,
		InitialStop:   s.InitialStop,
		TargetPrice:   s.TargetPrice,
		EntryOrderID:  s.EntryOrderID,
		StopOrderID:   s.StopOrderID,
		TargetOrderID: s.TargetOrderID,
		RealizedPnL:   s.RealizedPnL,
		ExitReason:    string(s.ExitReason),
		OpenedAt:      s.OpenedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func (m PositionModel) snapshot() models.PositionSnapshot {
	return models.PositionSnapshot{
		ID:            m.PositionID,
		Market:        m.Market,
		Side:          models.Direction(m.Side),
		State:         models.PositionState(m.State),
		Quantity:      m.Quantity,
		EntryQuantity: m.EntryQuantity,
		EntryPrice:    m.EntryPrice,
		StopPrice:     m.StopPrice,
		InitialStop:   m.InitialStop,
		TargetPrice:   m.TargetPrice,
		EntryOrderID:  m.EntryOrderID,
		StopOrderID:   m.StopOrderID,
		TargetOrderID: m.TargetOrderID,
		RealizedPnL:   m.RealizedPnL,
		ExitReason:    models.ExitReason(m.ExitReason),
		OpenedAt:      m.OpenedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func (m OutcomeModel) outcome() models.TradeOutcome {
	return models.TradeOutcome{
		PositionID: m.PositionID,
		Market:     m.Market,
		Side:       models.Direction(m.Side),
		EntryPrice: m.EntryPrice,
		ExitPrice:  m.ExitPrice,
		Quantity:   m.Quantity,
		PnL:        m.PnL,
		Reason:     models.ExitReason(m.Reason),
		OpenedAt:   m.OpenedAt,
		ClosedAt:   m.ClosedAt,
	}
}

// GormStore keeps positions and outcomes in a SQL database.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// OpenGorm connects to sqlite or postgres and migrates the schema.
func OpenGorm(driver, dsn string) (*GormStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return NewGormStore(db)
}

// NewGormStore migrates the schema on db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&PositionModel{}, &OutcomeModel{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// SavePosition upserts the position row of its market.
func (s *GormStore) SavePosition(ctx context.Context, snap models.PositionSnapshot) error {
	m := toPositionModel(snap)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "market"}},
		UpdateAll: true,
	}).Create(&m).Error
}

// LoadPosition returns nil, nil when market has no stored position.
func (s *GormStore) LoadPosition(ctx context.Context, market string) (*models.PositionSnapshot, error) {
	var m PositionModel
	err := s.db.WithContext(ctx).Where("market = ?", market).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap := m.snapshot()
	return &snap, nil
}

// ClearPosition deletes the position row of market.
func (s *GormStore) ClearPosition(ctx context.Context, market string) error {
	return s.db.WithContext(ctx).Where("market = ?", market).Delete(&PositionModel{}).Error
}

// RecordOutcome stores a closed trade once per position id.
func (s *GormStore) RecordOutcome(ctx context.Context, o models.TradeOutcome) error {
	m := OutcomeModel{
		PositionID: o.PositionID,
		Market:     o.Market,
		Side:       string(o.Side),
		EntryPrice: o.EntryPrice,
		ExitPrice:  o.ExitPrice,
		Quantity:   o.Quantity,
		PnL:        o.PnL,
		Reason:     string(o.Reason),
		OpenedAt:   o.OpenedAt,
		ClosedAt:   o.ClosedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error
}

// ListOutcomes returns up to limit outcomes of market, oldest first. A
// non-positive limit returns all of them.
func (s *GormStore) ListOutcomes(ctx context.Context, market string, limit int) ([]models.TradeOutcome, error) {
	var rows []OutcomeModel
	q := s.db.WithContext(ctx).Where("market = ?", market).Order("closed_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.TradeOutcome, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.outcome()
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

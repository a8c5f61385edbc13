package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vestvault/core/events"
	"vestvault/core/types"
	"vestvault/native/oracle"
)

// ErrDSNRequired is returned when no journal DSN is configured.
var ErrDSNRequired = errors.New("custodyd journal DSN must be configured")

// Notification is a committed custody event.
type Notification struct {
	Seq        uint64    `gorm:"primaryKey;autoIncrement"`
	ID         uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	Type       string    `gorm:"size:64;index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index"`
}

// Purchase is the receipt of a settled presale purchase.
type Purchase struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Vault       string    `gorm:"size:96;index"`
	Buyer       string    `gorm:"size:96;index"`
	Amount      uint64
	Payment     uint64
	OraclePrice int64
	OracleExpo  int32
	PublishTime int64
	CreatedAt   time.Time `gorm:"index"`
}

// OracleSample is one price ingested by the poller.
type OracleSample struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	FeedID      string    `gorm:"size:66;index"`
	Price       int64
	Conf        uint64
	Expo        int32
	PublishTime int64
	RecordedAt  time.Time `gorm:"index"`
}

// AutoMigrate creates or updates the journal schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Notification{}, &Purchase{}, &OracleSample{}, &RequestNonce{})
}

// Journal persists notifications, purchase receipts and oracle samples.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open connects to dsn and migrates the schema.
func Open(dsn string) (*Journal, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrDSNRequired
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return New(db), nil
}

// New wraps an already migrated database.
func New(db *gorm.DB) *Journal {
	return &Journal{db: db, logger: slog.Default(), now: time.Now}
}

// DB exposes the underlying handle for reporting queries.
func (j *Journal) DB() *gorm.DB { return j.db }

// Close releases database resources.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordEvent appends a notification and, for purchases, a receipt row.
func (j *Journal) RecordEvent(ctx context.Context, e events.Event) (*Notification, error) {
	payload := events.ToPayload(e)
	if payload == nil {
		return nil, fmt.Errorf("journal: event %s has no payload", e.EventType())
	}
	attrs, err := json.Marshal(payload.Attributes)
	if err != nil {
		return nil, fmt.Errorf("journal: encode attributes: %w", err)
	}
	now := j.now().UTC()
	note := &Notification{ID: uuid.New(), Type: payload.Type, Attributes: string(attrs), CreatedAt: now}
	err = j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(note).Error; err != nil {
			return err
		}
		purchase, ok := e.(events.TokensPurchased)
		if !ok {
			return nil
		}
		return tx.Create(&Purchase{
			ID:          note.ID,
			Vault:       payload.Attributes["vault"],
			Buyer:       payload.Attributes["buyer"],
			Amount:      purchase.Amount,
			Payment:     purchase.Payment,
			OraclePrice: purchase.OraclePrice,
			OracleExpo:  purchase.OracleExpo,
			PublishTime: purchase.PublishTime,
			CreatedAt:   now,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("journal: record %s: %w", payload.Type, err)
	}
	return note, nil
}

// Emit implements events.Emitter. Failures are logged; the ledger commit they
// describe has already happened.
func (j *Journal) Emit(e events.Event) {
	if _, err := j.RecordEvent(context.Background(), e); err != nil {
		j.logger.Error("journal write failed", slog.String("type", e.EventType()), slog.Any("error", err))
	}
}

// Query filters journal notifications.
type Query struct {
	Type  string
	After uint64
	Limit int
}

// Notifications returns notifications in commit order.
func (j *Journal) Notifications(ctx context.Context, q Query) ([]Notification, error) {
	limit := q.Limit
	switch {
	case limit <= 0:
		limit = 100
	case limit > 500:
		limit = 500
	}
	tx := j.db.WithContext(ctx).Where("seq > ?", q.After)
	if q.Type != "" {
		tx = tx.Where("type = ?", q.Type)
	}
	var out []Notification
	if err := tx.Order("seq ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("journal: query notifications: %w", err)
	}
	return out, nil
}

// Payload decodes the stored attribute map.
func (n Notification) Payload() (*types.Event, error) {
	attrs := map[string]string{}
	if err := json.Unmarshal([]byte(n.Attributes), &attrs); err != nil {
		return nil, err
	}
	return &types.Event{Type: n.Type, Attributes: attrs}, nil
}

// PurchasesByVault sums purchased units and payments per vault.
func (j *Journal) PurchasesByVault(ctx context.Context) (map[string]PurchaseTotals, error) {
	var rows []struct {
		Vault   string
		Count   int64
		Amount  uint64
		Payment uint64
	}
	err := j.db.WithContext(ctx).Model(&Purchase{}).
		Select("vault, COUNT(*) AS count, SUM(amount) AS amount, SUM(payment) AS payment").
		Group("vault").Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("journal: purchase totals: %w", err)
	}
	out := make(map[string]PurchaseTotals, len(rows))
	for _, row := range rows {
		out[row.Vault] = PurchaseTotals{Count: row.Count, Amount: row.Amount, Payment: row.Payment}
	}
	return out, nil
}

// PurchaseTotals aggregates purchases of one vault.
type PurchaseTotals struct {
	Count   int64
	Amount  uint64
	Payment uint64
}

// RecordSample stores an ingested oracle price.
func (j *Journal) RecordSample(ctx context.Context, update oracle.PriceUpdate) error {
	sample := &OracleSample{
		ID:          uuid.New(),
		FeedID:      update.FeedID.Hex(),
		Price:       update.Price.Price,
		Conf:        update.Price.Conf,
		Expo:        update.Price.Expo,
		PublishTime: update.Price.PublishTime,
		RecordedAt:  j.now().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(sample).Error; err != nil {
		return fmt.Errorf("journal: record sample: %w", err)
	}
	return nil
}

// LatestSample returns the most recently published sample of feed.
func (j *Journal) LatestSample(ctx context.Context, feed oracle.FeedID) (*OracleSample, error) {
	var sample OracleSample
	err := j.db.WithContext(ctx).Where("feed_id = ?", feed.Hex()).
		Order("publish_time DESC").Order("recorded_at DESC").First(&sample).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("journal: no samples for %s", feed.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("journal: latest sample: %w", err)
	}
	return &sample, nil
}

package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"
)

// RequestNonce records a nonce presented by a signer on the signed API.
type RequestNonce struct {
	Signer     string    `gorm:"size:96;primaryKey"`
	Nonce      string    `gorm:"size:128;primaryKey"`
	ObservedAt time.Time `gorm:"index"`
}

// EnsureNonce stores (signer, nonce) and reports whether it already existed.
func (j *Journal) EnsureNonce(ctx context.Context, signer, nonce string, observedAt time.Time) (bool, error) {
	record := &RequestNonce{Signer: signer, Nonce: nonce, ObservedAt: observedAt.UTC()}
	res := j.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(record)
	if res.Error != nil {
		return false, fmt.Errorf("journal: ensure nonce: %w", res.Error)
	}
	return res.RowsAffected == 0, nil
}

// RecentNonces lists nonces observed at or after cutoff.
func (j *Journal) RecentNonces(ctx context.Context, cutoff time.Time) ([]RequestNonce, error) {
	var out []RequestNonce
	err := j.db.WithContext(ctx).Where("observed_at >= ?", cutoff.UTC()).
		Order("observed_at ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("journal: recent nonces: %w", err)
	}
	return out, nil
}

// PruneNonces deletes nonces observed before cutoff.
func (j *Journal) PruneNonces(ctx context.Context, cutoff time.Time) error {
	if err := j.db.WithContext(ctx).Where("observed_at < ?", cutoff.UTC()).Delete(&RequestNonce{}).Error; err != nil {
		return fmt.Errorf("journal: prune nonces: %w", err)
	}
	return nil
}

package db

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"chimera/internal/domain"
)

// CardRepository mirrors registry writes into postgres. The in-memory
// snapshot stays authoritative; this is write-through persistence for
// post-run inspection.
type CardRepository struct {
	db *gorm.DB
}

func NewCardRepository(db *gorm.DB) *CardRepository {
	return &CardRepository{db: db}
}

func (r *CardRepository) SaveCard(ctx context.Context, card domain.AgentCard) error {
	if r.db == nil {
		return errDBUnavailable
	}
	raw, err := json.Marshal(card)
	if err != nil {
		return err
	}
	model := AgentCardModel{
		AgentID:   card.AgentID,
		Version:   card.Version,
		IssuerID:  card.IssuerID,
		Guest:     card.Guest,
		CardJSON:  raw,
		IssuedAt:  card.IssuedAt.UTC(),
		ExpiresAt: card.ExpiresAt.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *CardRepository) SaveRevocation(ctx context.Context, agentID string, revokedAt time.Time) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := CardRevocationModel{
		AgentID:   agentID,
		RevokedAt: revokedAt.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *CardRepository) SaveDelegation(ctx context.Context, rec domain.DelegationRecord) error {
	if r.db == nil {
		return errDBUnavailable
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	model := DelegationRecordModel{
		RecordID:    rec.RecordID,
		DelegatorID: rec.DelegatorID,
		DelegateID:  rec.DelegateID,
		Depth:       rec.Depth,
		ParentID:    rec.ParentID,
		RecordJSON:  raw,
		IssuedAt:    rec.IssuedAt.UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

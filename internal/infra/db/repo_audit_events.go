package db

import (
	"context"

	"gorm.io/gorm"

	"chimera/internal/domain"
)

// AuditEventRepository stores chained audit events. Sequencing and
// hash chaining happen in the emitter; the unique (session, seq) index
// is the backstop against duplicate appends.
type AuditEventRepository struct {
	db *gorm.DB
}

func NewAuditEventRepository(db *gorm.DB) *AuditEventRepository {
	return &AuditEventRepository{db: db}
}

func (r *AuditEventRepository) Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if r.db == nil {
		return domain.AuditEvent{}, errDBUnavailable
	}
	model := auditEventModelFromDomain(event)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.AuditEvent{}, err
	}
	return event, nil
}

func (r *AuditEventRepository) ListBySession(ctx context.Context, sessionID string) ([]domain.AuditEvent, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []AuditEventModel
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return auditEventsFromModels(models), nil
}

func (r *AuditEventRepository) ListByRun(ctx context.Context, runID string) ([]domain.AuditEvent, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []AuditEventModel
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("created_at asc, seq asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return auditEventsFromModels(models), nil
}

func (r *AuditEventRepository) LastBySession(ctx context.Context, sessionID string) (*domain.AuditEvent, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model AuditEventModel
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq desc").
		First(&model).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	event := auditEventFromModel(model)
	return &event, nil
}

func auditEventModelFromDomain(event domain.AuditEvent) AuditEventModel {
	return AuditEventModel{
		ID:            event.ID,
		SessionID:     event.SessionID,
		Seq:           event.Seq,
		RunID:         event.RunID,
		EventType:     string(event.EventType),
		PayloadJSON:   event.Payload,
		PayloadHash:   event.PayloadHash,
		PrevEventHash: event.PrevEventHash,
		EventHash:     event.EventHash,
		CreatedAt:     event.CreatedAt,
	}
}

func auditEventFromModel(model AuditEventModel) domain.AuditEvent {
	return domain.AuditEvent{
		ID:            model.ID,
		SessionID:     model.SessionID,
		Seq:           model.Seq,
		RunID:         model.RunID,
		EventType:     domain.AuditEventType(model.EventType),
		Payload:       model.PayloadJSON,
		PayloadHash:   model.PayloadHash,
		PrevEventHash: model.PrevEventHash,
		EventHash:     model.EventHash,
		CreatedAt:     model.CreatedAt,
	}
}

func auditEventsFromModels(models []AuditEventModel) []domain.AuditEvent {
	out := make([]domain.AuditEvent, 0, len(models))
	for _, model := range models {
		out = append(out, auditEventFromModel(model))
	}
	return out
}

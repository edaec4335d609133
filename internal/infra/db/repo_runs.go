package db

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"chimera/internal/domain"
)

type ScenarioRunRepository struct {
	db *gorm.DB
}

func NewScenarioRunRepository(db *gorm.DB) *ScenarioRunRepository {
	return &ScenarioRunRepository{db: db}
}

func (r *ScenarioRunRepository) Save(ctx context.Context, run domain.ScenarioRun) error {
	if r.db == nil {
		return errDBUnavailable
	}
	raw, err := json.Marshal(run)
	if err != nil {
		return err
	}
	model := ScenarioRunModel{
		RunID:      run.RunID,
		Name:       run.Name,
		PolicyMode: string(run.PolicyMode),
		Verdict:    string(run.Verdict),
		RunJSON:    raw,
		StartedAt:  run.StartedAt.UTC(),
		FinishedAt: run.FinishedAt.UTC(),
		CreatedAt:  time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *ScenarioRunRepository) GetByID(ctx context.Context, runID string) (*domain.ScenarioRun, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model ScenarioRunModel
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).First(&model).Error
	if err == gorm.ErrRecordNotFound {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var run domain.ScenarioRun
	if err := json.Unmarshal(model.RunJSON, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

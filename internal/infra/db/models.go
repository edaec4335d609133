package db

import "time"

type AgentCardModel struct {
	ID        int64     `gorm:"primaryKey"`
	AgentID   string    `gorm:"index;not null"`
	Version   int       `gorm:"not null"`
	IssuerID  string    `gorm:"not null"`
	Guest     bool      `gorm:"not null"`
	CardJSON  []byte    `gorm:"type:jsonb;not null"`
	IssuedAt  time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type CardRevocationModel struct {
	ID        int64     `gorm:"primaryKey"`
	AgentID   string    `gorm:"index;not null"`
	RevokedAt time.Time `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type DelegationRecordModel struct {
	RecordID    string    `gorm:"primaryKey"`
	DelegatorID string    `gorm:"index;not null"`
	DelegateID  string    `gorm:"index;not null"`
	Depth       int       `gorm:"not null"`
	ParentID    string    `gorm:"index"`
	RecordJSON  []byte    `gorm:"type:jsonb;not null"`
	IssuedAt    time.Time `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

type AuditEventModel struct {
	ID            string    `gorm:"type:uuid;primaryKey"`
	SessionID     string    `gorm:"index:idx_audit_session_seq,unique;not null"`
	Seq           int64     `gorm:"index:idx_audit_session_seq,unique;not null"`
	RunID         string    `gorm:"index"`
	EventType     string    `gorm:"not null"`
	PayloadJSON   []byte    `gorm:"type:jsonb;not null"`
	PayloadHash   string    `gorm:"not null"`
	PrevEventHash string    `gorm:"not null"`
	EventHash     string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

type ScenarioRunModel struct {
	RunID      string    `gorm:"type:uuid;primaryKey"`
	Name       string    `gorm:"index"`
	PolicyMode string    `gorm:"not null"`
	Verdict    string    `gorm:"not null"`
	RunJSON    []byte    `gorm:"type:jsonb;not null"`
	StartedAt  time.Time `gorm:"not null"`
	FinishedAt time.Time `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

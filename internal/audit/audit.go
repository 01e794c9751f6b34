// Package audit persists an append-only decision log, one row per cycle
// per symbol, covering every advisor call whether or not it resulted in
// a trade. It generalizes the GORM-backed persistence pattern used in
// `internal/position.Store` to the read-model structs the teacher's
// `internal/api` dashboard already exposes (RiskSnapshot, PositionSnapshot).
package audit

import (
	"context"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tradingcore/pkg/types"
)

type decisionRow struct {
	gorm.Model
	CycleID          string `gorm:"index"`
	Symbol           string `gorm:"index"`
	Timestamp        int64  `gorm:"index"`
	SnapshotHash     string
	AdvisorModel     string
	PromptTokens     int
	CompletionTokens int
	RawResponse      string
	ParsedOutcome    string
	RejectionReason  string
	RiskDecision     string
	ExecutionOutcome string
}

func (decisionRow) TableName() string { return "decision_records" }

// Log is an append-only repository for types.DecisionRecord. It
// deliberately exposes no update or delete method: once a decision is
// recorded it is immutable audit history.
type Log struct {
	db *gorm.DB
}

// Open opens (creating if necessary) the sqlite-backed decision log at dsn.
func Open(dsn string) (*Log, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&decisionRow{}); err != nil {
		return nil, err
	}
	return &Log{db: db}, nil
}

// Close releases the underlying database handle.
func (l *Log) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record appends one decision record. There is no corresponding update or
// delete: every row, once written, is permanent audit history.
func (l *Log) Record(ctx context.Context, rec types.DecisionRecord) error {
	row := decisionRow{
		CycleID: rec.CycleID, Symbol: rec.Symbol, Timestamp: rec.Timestamp.UnixNano(),
		SnapshotHash: rec.SnapshotHash, AdvisorModel: rec.AdvisorModel,
		PromptTokens: rec.PromptTokens, CompletionTokens: rec.CompletionTokens,
		RawResponse: rec.RawResponse, ParsedOutcome: rec.ParsedOutcome,
		RejectionReason: rec.RejectionReason, RiskDecision: rec.RiskDecision,
		ExecutionOutcome: rec.ExecutionOutcome,
	}
	return l.db.WithContext(ctx).Create(&row).Error
}

// ForCycle returns every decision recorded for a given cycle, in insertion
// order, for dashboard/debug replay.
func (l *Log) ForCycle(ctx context.Context, cycleID string) ([]types.DecisionRecord, error) {
	var rows []decisionRow
	if err := l.db.WithContext(ctx).Where("cycle_id = ?", cycleID).Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.DecisionRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

// Recent returns the most recently recorded decisions, newest first,
// bounded by limit — used by the dashboard's activity feed.
func (l *Log) Recent(ctx context.Context, limit int) ([]types.DecisionRecord, error) {
	var rows []decisionRow
	if err := l.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.DecisionRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

func fromRow(r decisionRow) types.DecisionRecord {
	return types.DecisionRecord{
		CycleID: r.CycleID, Symbol: r.Symbol, Timestamp: timeFromUnixNano(r.Timestamp),
		SnapshotHash: r.SnapshotHash, AdvisorModel: r.AdvisorModel,
		PromptTokens: r.PromptTokens, CompletionTokens: r.CompletionTokens,
		RawResponse: r.RawResponse, ParsedOutcome: r.ParsedOutcome,
		RejectionReason: r.RejectionReason, RiskDecision: r.RiskDecision,
		ExecutionOutcome: r.ExecutionOutcome,
	}
}

func timeFromUnixNano(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

package events

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/prezlab/nasma/backend/internal/infrastructure/database"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

const auditRetries = 3

// eventRow is the flow_events table layout.
type eventRow struct {
	ID           string    `gorm:"primaryKey;size:40"`
	Kind         string    `gorm:"not null;size:32;index:idx_kind_flow"`
	ThreadID     string    `gorm:"size:128;index"`
	FlowType     string    `gorm:"size:32;index:idx_kind_flow"`
	State        string    `gorm:"size:16"`
	Step         int       `gorm:"not null;default:0"`
	EmployeeID   int64     `gorm:"not null;default:0;index"`
	Submitted    bool      `gorm:"not null;default:false"`
	RecordID     int64     `gorm:"not null;default:0"`
	Error        string    `gorm:"type:text"`
	CancelReason string    `gorm:"size:64"`
	Removed      int       `gorm:"not null;default:0"`
	DurationMS   int64     `gorm:"not null;default:0"`
	At           time.Time `gorm:"not null;index"`
}

func (eventRow) TableName() string { return "flow_events" }

// Audit is a Sink that appends every event to the flow_events table.
type Audit struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewAudit migrates flow_events on db.
func NewAudit(db *gorm.DB, log *zap.Logger) (*Audit, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := db.AutoMigrate(&eventRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate flow_events: %w", err)
	}
	return &Audit{db: db, log: log}, nil
}

// Name implements Sink.
func (a *Audit) Name() string { return "audit" }

// Deliver implements Sink.
func (a *Audit) Deliver(ctx context.Context, ev Event) error {
	row := eventRow{
		ID:           ev.ID,
		Kind:         string(ev.Kind),
		ThreadID:     ev.ThreadID,
		FlowType:     string(ev.FlowType),
		State:        string(ev.State),
		Step:         ev.Step,
		EmployeeID:   ev.EmployeeID,
		Submitted:    ev.Submitted,
		RecordID:     ev.RecordID,
		Error:        ev.Error,
		CancelReason: ev.CancelReason,
		Removed:      ev.Removed,
		DurationMS:   ev.Duration.Milliseconds(),
		At:           ev.At,
	}
	return database.WithRetry(func() error {
		return a.db.WithContext(ctx).Create(&row).Error
	}, auditRetries)
}

// Outcome counts finished flows of one type.
type Outcome struct {
	FlowType  types.FlowType `json:"flow_type"`
	Completed int64          `json:"completed"`
	Submitted int64          `json:"submitted"`
	Cancelled int64          `json:"cancelled"`
	AvgMS     float64        `json:"avg_duration_ms"`
}

// Outcomes summarizes finished flows since the given time, per flow type.
func (a *Audit) Outcomes(ctx context.Context, since time.Time) ([]Outcome, error) {
	var rows []struct {
		FlowType  string
		Kind      string
		Total     int64
		Submitted int64
		AvgMS     float64
	}
	err := a.db.WithContext(ctx).Model(&eventRow{}).
		Select("flow_type, kind, COUNT(*) AS total, "+
			"SUM(CASE WHEN submitted THEN 1 ELSE 0 END) AS submitted, "+
			"AVG(duration_ms) AS avg_ms").
		Where("kind IN ? AND at >= ?", []string{string(KindCompleted), string(KindCancelled)}, since.UTC()).
		Group("flow_type, kind").
		Order("flow_type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to summarize flow events: %w", err)
	}

	byFlow := map[string]*Outcome{}
	var out []Outcome
	var order []string
	for _, r := range rows {
		o, ok := byFlow[r.FlowType]
		if !ok {
			o = &Outcome{FlowType: types.FlowType(r.FlowType)}
			byFlow[r.FlowType] = o
			order = append(order, r.FlowType)
		}
		switch Kind(r.Kind) {
		case KindCompleted:
			o.Completed = r.Total
			o.Submitted = r.Submitted
			o.AvgMS = r.AvgMS
		case KindCancelled:
			o.Cancelled = r.Total
		}
	}
	for _, f := range order {
		out = append(out, *byFlow[f])
	}
	return out, nil
}

// Recent returns the latest events of a thread, newest first.
func (a *Audit) Recent(ctx context.Context, threadID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []eventRow
	err := a.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load flow events: %w", err)
	}
	out := make([]Event, len(rows))
	for i, r := range rows {
		out[i] = Event{
			ID:           r.ID,
			Kind:         Kind(r.Kind),
			ThreadID:     r.ThreadID,
			FlowType:     types.FlowType(r.FlowType),
			State:        types.State(r.State),
			Step:         r.Step,
			EmployeeID:   r.EmployeeID,
			Submitted:    r.Submitted,
			RecordID:     r.RecordID,
			Error:        r.Error,
			CancelReason: r.CancelReason,
			Removed:      r.Removed,
			Duration:     time.Duration(r.DurationMS) * time.Millisecond,
			At:           r.At,
		}
	}
	return out, nil
}

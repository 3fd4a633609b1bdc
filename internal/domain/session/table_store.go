package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/prezlab/nasma/backend/internal/infrastructure/database"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

const writeRetries = 3

// sessionRow is the flow_sessions table layout. Context, completed steps and
// result are stored as JSON text so the schema stays portable between
// SQLite and PostgreSQL.
type sessionRow struct {
	ThreadID       string     `gorm:"primaryKey;size:128"`
	FlowType       string     `gorm:"not null;size:32;index:idx_flow_state"`
	State          string     `gorm:"not null;size:16;index:idx_flow_state"`
	Step           int        `gorm:"not null;default:1"`
	EmployeeID     int64      `gorm:"not null;default:0;index:idx_employee"`
	Context        string     `gorm:"type:text"`
	CompletedSteps string     `gorm:"type:text"`
	Result         string     `gorm:"type:text"`
	CreatedAt      time.Time  `gorm:"autoCreateTime:false"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime:false;index:idx_updated"`
	ExpiresAt      time.Time  `gorm:"not null;index:idx_expires"`
	FinishedAt     *time.Time `gorm:"default:null"`
}

func (sessionRow) TableName() string { return "flow_sessions" }

// TableStore persists sessions in a SQL table through gorm.
type TableStore struct {
	db  *gorm.DB
	log *zap.Logger
}

// OpenTableStore connects to dsn and migrates flow_sessions.
func OpenTableStore(dsn string, log *zap.Logger) (*TableStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := database.Open(dsn, log, &sessionRow{})
	if err != nil {
		return nil, err
	}
	return &TableStore{db: db, log: log}, nil
}

// NewTableStore wraps an existing connection and migrates flow_sessions.
func NewTableStore(db *gorm.DB, log *zap.Logger) (*TableStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := db.AutoMigrate(&sessionRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate flow_sessions: %w", err)
	}
	return &TableStore{db: db, log: log}, nil
}

// Close releases the connection.
func (t *TableStore) Close() error {
	return database.Close(t.db)
}

func toRow(s *types.Session) (*sessionRow, error) {
	ctxJSON, err := sonic.MarshalString(s.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context: %w", err)
	}
	steps, err := sonic.MarshalString(s.CompletedSteps)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completed steps: %w", err)
	}
	row := &sessionRow{
		ThreadID:       s.ThreadID,
		FlowType:       string(s.FlowType),
		State:          string(s.State),
		Step:           s.Step,
		EmployeeID:     s.EmployeeID(),
		Context:        ctxJSON,
		CompletedSteps: steps,
		CreatedAt:      s.CreatedAt.UTC(),
		UpdatedAt:      s.UpdatedAt.UTC(),
		ExpiresAt:      s.ExpiresAt.UTC(),
	}
	if s.FinishedAt != nil {
		finished := s.FinishedAt.UTC()
		row.FinishedAt = &finished
	}
	if s.Result != nil {
		result, err := sonic.MarshalString(s.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		row.Result = result
	}
	return row, nil
}

func fromRow(row *sessionRow) (*types.Session, error) {
	s := &types.Session{
		ThreadID:   row.ThreadID,
		FlowType:   types.FlowType(row.FlowType),
		State:      types.State(row.State),
		Step:       row.Step,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
		ExpiresAt:  row.ExpiresAt,
		FinishedAt: row.FinishedAt,
	}
	if row.Context != "" {
		if err := sonic.UnmarshalString(row.Context, &s.Context); err != nil {
			return nil, errors.Join(ErrCorrupt, err)
		}
	}
	if row.CompletedSteps != "" {
		if err := sonic.UnmarshalString(row.CompletedSteps, &s.CompletedSteps); err != nil {
			return nil, errors.Join(ErrCorrupt, err)
		}
	}
	if row.Result != "" {
		s.Result = &types.Result{}
		if err := sonic.UnmarshalString(row.Result, s.Result); err != nil {
			return nil, errors.Join(ErrCorrupt, err)
		}
	}
	return decode(s)
}

// Save upserts the row for s.ThreadID.
func (t *TableStore) Save(ctx context.Context, s *types.Session) error {
	prepare(s)
	row, err := toRow(s)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", s.ThreadID, err)
	}
	err = database.WithRetry(func() error {
		return t.db.WithContext(ctx).
			Clauses(clause.OnConflict{UpdateAll: true}).
			Create(row).Error
	}, writeRetries)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", s.ThreadID, err)
	}
	return nil
}

// Load reads the row for threadID.
func (t *TableStore) Load(ctx context.Context, threadID string) (*types.Session, error) {
	var row sessionRow
	err := t.db.WithContext(ctx).Where("thread_id = ?", threadID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session %s: %w", threadID, err)
	}
	return fromRow(&row)
}

// Delete removes the row; a missing row is not an error.
func (t *TableStore) Delete(ctx context.Context, threadID string) error {
	err := database.WithRetry(func() error {
		return t.db.WithContext(ctx).Where("thread_id = ?", threadID).Delete(&sessionRow{}).Error
	}, writeRetries)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", threadID, err)
	}
	return nil
}

// List decodes every row, skipping corrupt ones.
func (t *TableStore) List(ctx context.Context) ([]*types.Session, error) {
	var rows []sessionRow
	if err := t.db.WithContext(ctx).Order("updated_at desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	out := make([]*types.Session, 0, len(rows))
	for i := range rows {
		s, err := fromRow(&rows[i])
		if err != nil {
			t.log.Debug("skipping corrupt session", zap.String("thread_id", rows[i].ThreadID), zap.Error(err))
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// SweepExpired deletes stale rows with set-based statements, then removes
// rows whose payload no longer decodes.
func (t *TableStore) SweepExpired(ctx context.Context, policy SweepPolicy) (SweepReport, error) {
	var report SweepReport
	now := policy.now().UTC()
	open := []string{string(types.StateStarted), string(types.StateActive)}
	terminal := []string{string(types.StateCompleted), string(types.StateCancelled)}

	err := database.WithRetry(func() error {
		return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			expired := tx.Where("state IN ?", open)
			if policy.TTL > 0 {
				expired = expired.Where("(expires_at <= ? OR updated_at < ?)", now, now.Add(-policy.TTL))
			} else {
				expired = expired.Where("expires_at <= ?", now)
			}
			res := expired.Delete(&sessionRow{})
			if res.Error != nil {
				return res.Error
			}
			report.Expired = int(res.RowsAffected)

			cutoff := now.Add(-policy.grace())
			res = tx.Where("state IN ?", terminal).
				Where("COALESCE(finished_at, updated_at) < ?", cutoff).
				Delete(&sessionRow{})
			if res.Error != nil {
				return res.Error
			}
			report.Terminal = int(res.RowsAffected)
			return nil
		})
	}, writeRetries)
	if err != nil {
		return report, fmt.Errorf("failed to sweep sessions: %w", err)
	}

	var rows []sessionRow
	if err := t.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return report, fmt.Errorf("failed to scan sessions: %w", err)
	}
	var corrupt []string
	for i := range rows {
		if _, err := fromRow(&rows[i]); err != nil {
			corrupt = append(corrupt, rows[i].ThreadID)
		}
	}
	if len(corrupt) > 0 {
		res := t.db.WithContext(ctx).Where("thread_id IN ?", corrupt).Delete(&sessionRow{})
		if res.Error != nil {
			return report, fmt.Errorf("failed to remove corrupt sessions: %w", res.Error)
		}
		report.Corrupt = int(res.RowsAffected)
	}
	return report, nil
}

var _ Store = (*TableStore)(nil)

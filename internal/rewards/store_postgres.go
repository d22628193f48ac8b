package rewards

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"campusevents/internal/apperr"
	"campusevents/internal/platform"
	"campusevents/pkg/eventstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS reward_records (
	user_id UUID PRIMARY KEY,
	total INT NOT NULL DEFAULT 0,
	level INT NOT NULL DEFAULT 1,
	level_info JSONB NOT NULL,
	history JSONB NOT NULL DEFAULT '[]',
	badges JSONB NOT NULL DEFAULT '[]',
	achievements JSONB NOT NULL DEFAULT '[]',
	skill_points JSONB NOT NULL DEFAULT '{}',
	badge_count INT NOT NULL DEFAULT 0,
	achievements_total INT NOT NULL DEFAULT 0,
	achievements_completed INT NOT NULL DEFAULT 0,
	next_expiry TIMESTAMPTZ,
	version INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS reward_records_total_idx ON reward_records (total DESC);
CREATE INDEX IF NOT EXISTS reward_records_next_expiry_idx ON reward_records (next_expiry) WHERE next_expiry IS NOT NULL;
`

type rewardRow struct {
	UserID                uuid.UUID                           `db:"user_id"`
	Total                 int                                 `db:"total"`
	Level                 int                                 `db:"level"`
	LevelInfo             platform.JSONColumn[LevelInfo]      `db:"level_info"`
	History               platform.JSONColumn[[]PointGrant]   `db:"history"`
	Badges                platform.JSONColumn[[]Badge]        `db:"badges"`
	Achievements          platform.JSONColumn[[]Achievement]  `db:"achievements"`
	SkillPoints           platform.JSONColumn[map[string]int] `db:"skill_points"`
	BadgeCount            int                                 `db:"badge_count"`
	AchievementsTotal     int                                 `db:"achievements_total"`
	AchievementsCompleted int                                 `db:"achievements_completed"`
	NextExpiry            *time.Time                          `db:"next_expiry"`
	Version               int                                 `db:"version"`
	ExpectedVersion       int                                 `db:"expected_version"`
	CreatedAt             time.Time                           `db:"created_at"`
	UpdatedAt             time.Time                           `db:"updated_at"`
}

const rewardColumns = `user_id, total, level, level_info, history, badges, achievements, skill_points,
	badge_count, achievements_total, achievements_completed, next_expiry, version, created_at, updated_at`

func toRow(r *Reward) rewardRow {
	skills := r.SkillPoints
	if skills == nil {
		skills = map[string]int{}
	}
	return rewardRow{
		UserID:                r.UserID,
		Total:                 r.Total,
		Level:                 r.LevelInfo.CurrentLevel,
		LevelInfo:             platform.JSONColumn[LevelInfo]{V: r.LevelInfo},
		History:               platform.JSONColumn[[]PointGrant]{V: nonNil(r.History)},
		Badges:                platform.JSONColumn[[]Badge]{V: nonNil(r.Badges)},
		Achievements:          platform.JSONColumn[[]Achievement]{V: nonNil(r.Achievements)},
		SkillPoints:           platform.JSONColumn[map[string]int]{V: skills},
		BadgeCount:            len(r.Badges),
		AchievementsTotal:     len(r.Achievements),
		AchievementsCompleted: r.completedAchievements(),
		NextExpiry:            r.NextExpiry(),
		Version:               r.Version,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
}

func (row rewardRow) toReward() *Reward {
	r := &Reward{
		UserID:       row.UserID,
		Total:        row.Total,
		History:      nonNil(row.History.V),
		Badges:       nonNil(row.Badges.V),
		Achievements: nonNil(row.Achievements.V),
		SkillPoints:  row.SkillPoints.V,
		LevelInfo:    row.LevelInfo.V,
		Version:      row.Version,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
	if r.SkillPoints == nil {
		r.SkillPoints = map[string]int{}
	}
	return r
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// PostgresStore is the production Store. The whole record lives in one row so
// a save is a single versioned UPDATE, committed in the same transaction as
// the rows it adds to domain_events.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the reward tables, and the event log they write to, if they
// do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema+catalogSchema+eventstore.Schema); err != nil {
		return fmt.Errorf("migrate rewards: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, userID uuid.UUID) (*Reward, error) {
	var row rewardRow
	err := s.db.GetContext(ctx, &row, `SELECT `+rewardColumns+` FROM reward_records WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("reward record", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get reward record: %w", err)
	}
	return row.toReward(), nil
}

func (s *PostgresStore) Save(ctx context.Context, r *Reward, expectedVersion int, events ...eventstore.Event) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := saveRecord(ctx, tx, r, expectedVersion); err != nil {
			return err
		}
		return appendLog(ctx, tx, r.UserID, expectedVersion, events)
	})
}

// inTx runs fn in a transaction and commits if it returns nil.
func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func appendLog(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, expectedVersion int, events []eventstore.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := eventstore.AppendTx(ctx, tx, userID, aggregateType, expectedVersion, events); err != nil {
		if errors.Is(err, eventstore.ErrConcurrencyConflict) {
			return err
		}
		return fmt.Errorf("append reward events: %w", err)
	}
	return nil
}

func saveRecord(ctx context.Context, tx *sqlx.Tx, r *Reward, expectedVersion int) error {
	row := toRow(r)

	if expectedVersion == 0 {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO reward_records (`+rewardColumns+`)
			VALUES (:user_id, :total, :level, :level_info, :history, :badges, :achievements, :skill_points,
				:badge_count, :achievements_total, :achievements_completed, :next_expiry, :version,
				:created_at, :updated_at)
		`, row)
		if isUniqueViolation(err) {
			return ErrStaleReward
		}
		if err != nil {
			return fmt.Errorf("insert reward record: %w", err)
		}
		return nil
	}

	row.ExpectedVersion = expectedVersion
	res, err := tx.NamedExecContext(ctx, `
		UPDATE reward_records
		SET total = :total, level = :level, level_info = :level_info, history = :history, badges = :badges,
			achievements = :achievements, skill_points = :skill_points, badge_count = :badge_count,
			achievements_total = :achievements_total, achievements_completed = :achievements_completed,
			next_expiry = :next_expiry, version = :version, updated_at = :updated_at
		WHERE user_id = :user_id AND version = :expected_version
	`, row)
	if err != nil {
		return fmt.Errorf("update reward record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleReward
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

type leaderboardRow struct {
	UserID                uuid.UUID `db:"user_id"`
	Points                int       `db:"points"`
	Level                 int       `db:"level"`
	BadgeCount            int       `db:"badge_count"`
	AchievementsTotal     int       `db:"achievements_total"`
	AchievementsCompleted int       `db:"achievements_completed"`
	Ranked                int       `db:"ranked"`
}

func (s *PostgresStore) Leaderboard(ctx context.Context, skill string, offset, limit int) ([]LeaderboardEntry, int, error) {
	var rows []leaderboardRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT user_id, points, level, badge_count, achievements_total, achievements_completed,
			COUNT(*) OVER () AS ranked
		FROM (
			SELECT *, CASE WHEN $1 = '' THEN total ELSE COALESCE((skill_points->>$1)::int, 0) END AS points
			FROM reward_records
		) r
		WHERE $1 = '' OR points > 0
		ORDER BY points DESC, total DESC, user_id ASC
		OFFSET $2 LIMIT $3
	`, skill, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("query leaderboard: %w", err)
	}

	entries := make([]LeaderboardEntry, 0, len(rows))
	ranked := 0
	for _, row := range rows {
		ranked = row.Ranked
		entries = append(entries, LeaderboardEntry{
			UserID:                row.UserID,
			Points:                row.Points,
			Level:                 row.Level,
			BadgeCount:            row.BadgeCount,
			AchievementsTotal:     row.AchievementsTotal,
			AchievementsCompleted: row.AchievementsCompleted,
		})
	}
	if len(rows) == 0 && offset > 0 {
		// The page is past the end; count separately so pagination stays right.
		err := s.db.GetContext(ctx, &ranked, `
			SELECT COUNT(*) FROM reward_records
			WHERE $1 = '' OR COALESCE((skill_points->>$1)::int, 0) > 0
		`, skill)
		if err != nil {
			return nil, 0, fmt.Errorf("count leaderboard: %w", err)
		}
	}
	return entries, ranked, nil
}

func (s *PostgresStore) ExpiringUsers(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.SelectContext(ctx, &ids, `
		SELECT user_id FROM reward_records WHERE next_expiry <= $1 ORDER BY next_expiry ASC
	`, now)
	if err != nil {
		return nil, fmt.Errorf("query expiring users: %w", err)
	}
	return ids, nil
}

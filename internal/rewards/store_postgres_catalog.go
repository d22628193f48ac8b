package rewards

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"campusevents/internal/apperr"
	"campusevents/pkg/eventstore"
)

const catalogSchema = `
CREATE TABLE IF NOT EXISTS catalog_items (
	id UUID PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL,
	image_url TEXT NOT NULL,
	points INT NOT NULL CHECK (points >= 0),
	category TEXT NOT NULL,
	quantity INT NOT NULL CHECK (quantity >= 0),
	available BOOLEAN NOT NULL,
	version INT NOT NULL,
	created_by UUID,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS redemptions (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL,
	item_id UUID NOT NULL,
	item_title TEXT NOT NULL,
	points INT NOT NULL,
	status TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	redeemed_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	cancelled_at TIMESTAMPTZ,
	version INT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS redemptions_user_idx ON redemptions (user_id, redeemed_at DESC);
`

type itemRow struct {
	ID              uuid.UUID  `db:"id"`
	Title           string     `db:"title"`
	Description     string     `db:"description"`
	ImageURL        string     `db:"image_url"`
	Points          int        `db:"points"`
	Category        string     `db:"category"`
	Quantity        int        `db:"quantity"`
	Available       bool       `db:"available"`
	Version         int        `db:"version"`
	ExpectedVersion int        `db:"expected_version"`
	CreatedBy       *uuid.UUID `db:"created_by"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

const itemColumns = `id, title, description, image_url, points, category, quantity, available, version,
	created_by, created_at, updated_at`

func toItemRow(it *CatalogItem) itemRow {
	row := itemRow{
		ID:          it.ID,
		Title:       it.Title,
		Description: it.Description,
		ImageURL:    it.ImageURL,
		Points:      it.Points,
		Category:    it.Category,
		Quantity:    it.Quantity,
		Available:   it.Available,
		Version:     it.Version,
		CreatedAt:   it.CreatedAt,
		UpdatedAt:   it.UpdatedAt,
	}
	if it.CreatedBy != uuid.Nil {
		row.CreatedBy = &it.CreatedBy
	}
	return row
}

func (row itemRow) toItem() *CatalogItem {
	it := &CatalogItem{
		ID:          row.ID,
		Title:       row.Title,
		Description: row.Description,
		ImageURL:    row.ImageURL,
		Points:      row.Points,
		Category:    row.Category,
		Quantity:    row.Quantity,
		Available:   row.Available,
		Version:     row.Version,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.CreatedBy != nil {
		it.CreatedBy = *row.CreatedBy
	}
	return it
}

type redemptionRow struct {
	ID              uuid.UUID        `db:"id"`
	UserID          uuid.UUID        `db:"user_id"`
	ItemID          uuid.UUID        `db:"item_id"`
	ItemTitle       string           `db:"item_title"`
	Points          int              `db:"points"`
	Status          RedemptionStatus `db:"status"`
	Notes           string           `db:"notes"`
	RedeemedAt      time.Time        `db:"redeemed_at"`
	CompletedAt     *time.Time       `db:"completed_at"`
	CancelledAt     *time.Time       `db:"cancelled_at"`
	Version         int              `db:"version"`
	ExpectedVersion int              `db:"expected_version"`
	UpdatedAt       time.Time        `db:"updated_at"`
}

const redemptionColumns = `id, user_id, item_id, item_title, points, status, notes, redeemed_at,
	completed_at, cancelled_at, version, updated_at`

func (row redemptionRow) toRedemption() *Redemption {
	return &Redemption{
		ID:          row.ID,
		UserID:      row.UserID,
		ItemID:      row.ItemID,
		ItemTitle:   row.ItemTitle,
		Points:      row.Points,
		Status:      row.Status,
		Notes:       row.Notes,
		RedeemedAt:  row.RedeemedAt,
		CompletedAt: row.CompletedAt,
		CancelledAt: row.CancelledAt,
		Version:     row.Version,
		UpdatedAt:   row.UpdatedAt,
	}
}

func toRedemptionRow(rd *Redemption) redemptionRow {
	return redemptionRow{
		ID:          rd.ID,
		UserID:      rd.UserID,
		ItemID:      rd.ItemID,
		ItemTitle:   rd.ItemTitle,
		Points:      rd.Points,
		Status:      rd.Status,
		Notes:       rd.Notes,
		RedeemedAt:  rd.RedeemedAt,
		CompletedAt: rd.CompletedAt,
		CancelledAt: rd.CancelledAt,
		Version:     rd.Version,
		UpdatedAt:   rd.UpdatedAt,
	}
}

func (s *PostgresStore) GetItem(ctx context.Context, id uuid.UUID) (*CatalogItem, error) {
	var row itemRow
	err := s.db.GetContext(ctx, &row, `SELECT `+itemColumns+` FROM catalog_items WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("reward", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get catalog item: %w", err)
	}
	return row.toItem(), nil
}

func (s *PostgresStore) ListItems(ctx context.Context, includeUnavailable bool) ([]*CatalogItem, error) {
	var rows []itemRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+itemColumns+` FROM catalog_items
		WHERE $1 OR available
		ORDER BY points ASC, id ASC
	`, includeUnavailable)
	if err != nil {
		return nil, fmt.Errorf("list catalog items: %w", err)
	}
	items := make([]*CatalogItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toItem())
	}
	return items, nil
}

func (s *PostgresStore) CreateItem(ctx context.Context, it *CatalogItem) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO catalog_items (`+itemColumns+`)
		VALUES (:id, :title, :description, :image_url, :points, :category, :quantity, :available, :version,
			:created_by, :created_at, :updated_at)
	`, toItemRow(it))
	if isUniqueViolation(err) {
		return ErrStaleCatalog
	}
	if err != nil {
		return fmt.Errorf("insert catalog item: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveItem(ctx context.Context, it *CatalogItem, expectedVersion int) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return saveItem(ctx, tx, it, expectedVersion)
	})
}

func saveItem(ctx context.Context, tx *sqlx.Tx, it *CatalogItem, expectedVersion int) error {
	row := toItemRow(it)
	row.ExpectedVersion = expectedVersion
	res, err := tx.NamedExecContext(ctx, `
		UPDATE catalog_items
		SET title = :title, description = :description, image_url = :image_url, points = :points,
			category = :category, quantity = :quantity, available = :available, version = :version,
			updated_at = :updated_at
		WHERE id = :id AND version = :expected_version
	`, row)
	if err != nil {
		return fmt.Errorf("update catalog item: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM catalog_items WHERE id = $1)`, it.ID); err != nil {
		return fmt.Errorf("check catalog item: %w", err)
	}
	if !exists {
		return apperr.NotFound("reward", it.ID)
	}
	return ErrStaleCatalog
}

func (s *PostgresStore) DeleteItem(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM catalog_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete catalog item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("reward", id)
	}
	return nil
}

func (s *PostgresStore) GetRedemption(ctx context.Context, id uuid.UUID) (*Redemption, error) {
	var row redemptionRow
	err := s.db.GetContext(ctx, &row, `SELECT `+redemptionColumns+` FROM redemptions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("redemption", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get redemption: %w", err)
	}
	return row.toRedemption(), nil
}

func (s *PostgresStore) ListRedemptions(ctx context.Context, userID uuid.UUID) ([]*Redemption, error) {
	var rows []redemptionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+redemptionColumns+` FROM redemptions
		WHERE user_id = $1
		ORDER BY redeemed_at DESC, id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list redemptions: %w", err)
	}
	out := make([]*Redemption, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRedemption())
	}
	return out, nil
}

func (s *PostgresStore) CommitRedemption(ctx context.Context, c RedemptionCommit) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if c.Reward != nil {
			if err := saveRecord(ctx, tx, c.Reward, c.RewardExpected); err != nil {
				return err
			}
			if err := appendLog(ctx, tx, c.Reward.UserID, c.RewardExpected, []eventstore.Event{c.Event}); err != nil {
				return err
			}
		}
		if c.Item != nil {
			if err := saveItem(ctx, tx, c.Item, c.ItemExpected); err != nil {
				return err
			}
		}
		if c.Redemption != nil {
			return saveRedemption(ctx, tx, c.Redemption, c.RedemptionExpected)
		}
		return nil
	})
}

func saveRedemption(ctx context.Context, tx *sqlx.Tx, rd *Redemption, expectedVersion int) error {
	row := toRedemptionRow(rd)

	if expectedVersion == 0 {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO redemptions (`+redemptionColumns+`)
			VALUES (:id, :user_id, :item_id, :item_title, :points, :status, :notes, :redeemed_at,
				:completed_at, :cancelled_at, :version, :updated_at)
		`, row)
		if isUniqueViolation(err) {
			return ErrStaleCatalog
		}
		if err != nil {
			return fmt.Errorf("insert redemption: %w", err)
		}
		return nil
	}

	row.ExpectedVersion = expectedVersion
	res, err := tx.NamedExecContext(ctx, `
		UPDATE redemptions
		SET status = :status, notes = :notes, completed_at = :completed_at, cancelled_at = :cancelled_at,
			version = :version, updated_at = :updated_at
		WHERE id = :id AND version = :expected_version
	`, row)
	if err != nil {
		return fmt.Errorf("update redemption: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleCatalog
	}
	return nil
}

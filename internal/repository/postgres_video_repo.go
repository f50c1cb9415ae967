package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/votebox/internal/database"
	"github.com/hitoshi/votebox/internal/model"
)

// PostgresVideoRepo はPostgreSQLを使用した動画カタログリポジトリ。
type PostgresVideoRepo struct {
	store *database.Store
}

// NewPostgresVideoRepo はPostgresVideoRepoを生成する。
func NewPostgresVideoRepo(store *database.Store) *PostgresVideoRepo {
	return &PostgresVideoRepo{store: store}
}

// FindByRef は正規IDまたは移行元IDで動画を検索する。見つからない場合はnilを返す。
func (r *PostgresVideoRepo) FindByRef(ctx context.Context, ref string) (*model.Video, error) {
	video := &model.Video{}
	var sourceID sql.NullString
	err := r.store.QueryRowScan(ctx,
		`SELECT id, title, description, source_id, thumbnail_url, status, created_at, updated_at
		 FROM videos WHERE id = $1 OR source_id = $1`,
		[]any{ref},
		&video.ID, &video.Title, &video.Description, &sourceID,
		&video.ThumbnailURL, &video.Status, &video.CreatedAt, &video.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find video by ref: %w", err)
	}

	video.SourceID = sourceID.String
	return video, nil
}

// Create は動画を作成する。
func (r *PostgresVideoRepo) Create(ctx context.Context, video *model.Video) error {
	var sourceID any
	if video.SourceID != "" {
		sourceID = video.SourceID
	}

	_, err := r.store.ExecContext(ctx,
		`INSERT INTO videos (id, title, description, source_id, thumbnail_url, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		video.ID, video.Title, video.Description, sourceID,
		video.ThumbnailURL, video.Status, video.CreatedAt, video.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return model.NewDuplicateVideoError(video.SourceID)
		}
		return fmt.Errorf("failed to insert video: %w", err)
	}
	return nil
}

// UpdateStatus は動画の処理状態を更新する。
func (r *PostgresVideoRepo) UpdateStatus(ctx context.Context, id string, status model.VideoStatus) error {
	result, err := r.store.ExecContext(ctx,
		`UPDATE videos SET status = $1, updated_at = now() WHERE id = $2`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update video status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewVideoNotFoundError(id)
	}
	return nil
}

// ListByStatus は指定状態の動画を作成日時の降順で取得する。
func (r *PostgresVideoRepo) ListByStatus(ctx context.Context, status model.VideoStatus, limit, offset int) ([]*model.Video, error) {
	videos := []*model.Video{}
	err := r.store.Select(ctx,
		`SELECT id, title, description, source_id, thumbnail_url, status, created_at, updated_at
		 FROM videos WHERE status = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2 OFFSET $3`,
		[]any{status, limit, offset},
		func(rows *sql.Rows) error {
			video := &model.Video{}
			var sourceID sql.NullString
			if err := rows.Scan(
				&video.ID, &video.Title, &video.Description, &sourceID,
				&video.ThumbnailURL, &video.Status, &video.CreatedAt, &video.UpdatedAt,
			); err != nil {
				return err
			}
			video.SourceID = sourceID.String
			videos = append(videos, video)
			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	return videos, nil
}

// CountByStatus は指定状態の動画数を返す。
func (r *PostgresVideoRepo) CountByStatus(ctx context.Context, status model.VideoStatus) (int, error) {
	var count int
	err := r.store.QueryRowScan(ctx,
		`SELECT COUNT(*) FROM videos WHERE status = $1`,
		[]any{status},
		&count,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to count videos: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ VideoRepository = (*PostgresVideoRepo)(nil)

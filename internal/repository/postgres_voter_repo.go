package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/votebox/internal/database"
	"github.com/hitoshi/votebox/internal/model"
)

// PostgresVoterRepo はPostgreSQLを使用した投票ユーザーリポジトリ。
type PostgresVoterRepo struct {
	store *database.Store
}

// NewPostgresVoterRepo はPostgresVoterRepoを生成する。
func NewPostgresVoterRepo(store *database.Store) *PostgresVoterRepo {
	return &PostgresVoterRepo{store: store}
}

// FindByID は指定IDのvoterを取得する。見つからない場合はnilを返す。
func (r *PostgresVoterRepo) FindByID(ctx context.Context, id string) (*model.Voter, error) {
	voter := &model.Voter{}
	err := r.store.QueryRowScan(ctx,
		`SELECT id, display_name, email, created_at, updated_at FROM voters WHERE id = $1`,
		[]any{id},
		&voter.ID, &voter.DisplayName, &voter.Email, &voter.CreatedAt, &voter.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find voter by ID: %w", err)
	}

	return voter, nil
}

// CreateIfAbsent はvoterが存在しない場合のみ作成する。
// ON CONFLICT DO NOTHINGにより2回目以降の呼び出しは何もしない。
func (r *PostgresVoterRepo) CreateIfAbsent(ctx context.Context, voter *model.Voter) error {
	_, err := r.store.ExecContext(ctx,
		`INSERT INTO voters (id, display_name, email, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		voter.ID, voter.DisplayName, voter.Email, voter.CreatedAt, voter.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert voter: %w", err)
	}
	return nil
}

// compile-time interface check
var _ VoterRepository = (*PostgresVoterRepo)(nil)

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

// PostgresVoteRepo はPostgreSQLを使用した投票リポジトリ。
type PostgresVoteRepo struct {
	store *database.Store
}

// NewPostgresVoteRepo はPostgresVoteRepoを生成する。
func NewPostgresVoteRepo(store *database.Store) *PostgresVoteRepo {
	return &PostgresVoteRepo{store: store}
}

// FindByVoterAndVideo は(voter, video)の投票を取得する。見つからない場合はnilを返す。
func (r *PostgresVoteRepo) FindByVoterAndVideo(ctx context.Context, voterID, videoID string) (*model.Vote, error) {
	vote := &model.Vote{}
	err := r.store.QueryRowScan(ctx,
		`SELECT voter_id, video_id, video_title, created_at
		 FROM votes WHERE voter_id = $1 AND video_id = $2`,
		[]any{voterID, videoID},
		&vote.VoterID, &vote.VideoID, &vote.VideoTitle, &vote.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find vote: %w", err)
	}

	return vote, nil
}

// ListByVoter はvoterの投票一覧を作成日時の昇順で返す。
func (r *PostgresVoteRepo) ListByVoter(ctx context.Context, voterID string) ([]*model.Vote, error) {
	votes := []*model.Vote{}
	err := r.store.Select(ctx,
		`SELECT voter_id, video_id, video_title, created_at
		 FROM votes WHERE voter_id = $1
		 ORDER BY created_at, video_id`,
		[]any{voterID},
		func(rows *sql.Rows) error {
			vote := &model.Vote{}
			if err := rows.Scan(&vote.VoterID, &vote.VideoID, &vote.VideoTitle, &vote.CreatedAt); err != nil {
				return err
			}
			votes = append(votes, vote)
			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes by voter: %w", err)
	}
	return votes, nil
}

// CountByVoter はvoterの現在の投票数を返す。
func (r *PostgresVoteRepo) CountByVoter(ctx context.Context, voterID string) (int, error) {
	var count int
	err := r.store.QueryRowScan(ctx,
		`SELECT COUNT(*) FROM votes WHERE voter_id = $1`,
		[]any{voterID},
		&count,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to count votes by voter: %w", err)
	}
	return count, nil
}

// CountByVideo は動画への現在の投票数を返す。
func (r *PostgresVoteRepo) CountByVideo(ctx context.Context, videoID string) (int, error) {
	var count int
	err := r.store.QueryRowScan(ctx,
		`SELECT COUNT(*) FROM votes WHERE video_id = $1`,
		[]any{videoID},
		&count,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to count votes by video: %w", err)
	}
	return count, nil
}

// CountByVideoIDs は複数動画の投票数を一括で返す。
// 投票が存在しない動画はマップに含まれない。
func (r *PostgresVoteRepo) CountByVideoIDs(ctx context.Context, videoIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(videoIDs))
	if len(videoIDs) == 0 {
		return counts, nil
	}

	err := r.store.Select(ctx,
		`SELECT video_id, COUNT(*) FROM votes WHERE video_id = ANY($1) GROUP BY video_id`,
		[]any{pq.Array(videoIDs)},
		func(rows *sql.Rows) error {
			var videoID string
			var count int
			if err := rows.Scan(&videoID, &count); err != nil {
				return err
			}
			counts[videoID] = count
			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count votes by video IDs: %w", err)
	}
	return counts, nil
}

// InsertUnderCap は投票数が上限未満の場合のみ投票を挿入する。
//
// 「上限チェック→挿入」を別々の文で行うと、同一voterからの同時リクエストが
// 両方ともチェックを通過して上限を破れる。これを防ぐため、1トランザクション内で
// voter行をFOR UPDATEでロックしてから数え直す。同一voterの挿入は行ロックで
// 直列化されるため、上限不変条件はプロセス数によらず保たれる。
func (r *PostgresVoteRepo) InsertUnderCap(ctx context.Context, vote *model.Vote, maxVotes int) (*InsertOutcome, error) {
	tx, err := r.store.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// voter行をロックして同一voterの同時挿入を直列化する
	var lockedID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM voters WHERE id = $1 FOR UPDATE`,
		vote.VoterID,
	).Scan(&lockedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("voter not found: %s", vote.VoterID)
		}
		return nil, fmt.Errorf("failed to lock voter row: %w", r.store.Classify(err))
	}

	// ロック保持中に数えるため、この値は挿入完了まで変わらない
	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM votes WHERE voter_id = $1`,
		vote.VoterID,
	).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("failed to count votes under lock: %w", r.store.Classify(err))
	}

	if count >= maxVotes {
		return &InsertOutcome{Inserted: false, VoterVoteCount: count}, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO votes (voter_id, video_id, video_title, created_at)
		 VALUES ($1, $2, $3, $4)`,
		vote.VoterID, vote.VideoID, vote.VideoTitle, vote.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			// 同一ペアへの同時トグルが先に挿入していた。既投票として扱う
			return &InsertOutcome{AlreadyVoted: true, VoterVoteCount: count}, nil
		}
		return nil, fmt.Errorf("failed to insert vote: %w", r.store.Classify(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", r.store.Classify(err))
	}

	return &InsertOutcome{Inserted: true, VoterVoteCount: count + 1}, nil
}

// Delete は(voter, video)の投票を削除する。削除した場合はtrueを返す。
func (r *PostgresVoteRepo) Delete(ctx context.Context, voterID, videoID string) (bool, error) {
	result, err := r.store.ExecContext(ctx,
		`DELETE FROM votes WHERE voter_id = $1 AND video_id = $2`,
		voterID, videoID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete vote: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// compile-time interface check
var _ VoteRepository = (*PostgresVoteRepo)(nil)

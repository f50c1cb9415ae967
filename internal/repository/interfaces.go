// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/votebox/internal/model"
)

// VoterRepository は投票ユーザーデータの永続化インターフェース。
type VoterRepository interface {
	// FindByID は指定IDのvoterを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Voter, error)

	// CreateIfAbsent はvoterが存在しない場合のみ作成する。
	// 既に存在する場合は何もしない（冪等）。
	CreateIfAbsent(ctx context.Context, voter *model.Voter) error
}

// VideoRepository は動画カタログの永続化インターフェース。
// 投票レジャーは動画を読むだけで、書き込みは取り込み経路のみが行う。
type VideoRepository interface {
	// FindByRef は正規IDまたは移行元ID（source_id）で動画を検索する。
	// どちらの識別子でも同一の正規行に解決される。見つからない場合はnilを返す。
	FindByRef(ctx context.Context, ref string) (*model.Video, error)

	// Create は動画を作成する。source_idの重複はmodel.DuplicateVideoエラーになる。
	Create(ctx context.Context, video *model.Video) error

	// UpdateStatus は動画の処理状態を更新する。
	UpdateStatus(ctx context.Context, id string, status model.VideoStatus) error

	// ListByStatus は指定状態の動画を作成日時の降順で取得する。
	ListByStatus(ctx context.Context, status model.VideoStatus, limit, offset int) ([]*model.Video, error)

	// CountByStatus は指定状態の動画数を返す。
	CountByStatus(ctx context.Context, status model.VideoStatus) (int, error)
}

// InsertOutcome はInsertUnderCapの結果を表す。
type InsertOutcome struct {
	// Inserted は投票行が新規作成されたことを示す。
	Inserted bool
	// AlreadyVoted は(voter, video)の行が既に存在したことを示す
	// （同一ペアへの同時トグルで一意制約に当たった場合）。
	AlreadyVoted bool
	// VoterVoteCount は操作後のvoterの投票数。
	VoterVoteCount int
}

// VoteRepository は投票データの永続化インターフェース。
// 投票上限と(voter, video)一意性の両不変条件はこの層のSQLが保証する。
type VoteRepository interface {
	// FindByVoterAndVideo は(voter, video)の投票を取得する。見つからない場合はnilを返す。
	FindByVoterAndVideo(ctx context.Context, voterID, videoID string) (*model.Vote, error)

	// ListByVoter はvoterの投票一覧を作成日時の昇順で返す。
	ListByVoter(ctx context.Context, voterID string) ([]*model.Vote, error)

	// CountByVoter はvoterの現在の投票数を返す。
	CountByVoter(ctx context.Context, voterID string) (int, error)

	// CountByVideo は動画への現在の投票数を返す。キャッシュせず常にライブで数える。
	CountByVideo(ctx context.Context, videoID string) (int, error)

	// CountByVideoIDs は複数動画の投票数を一括で返す。一覧表示用。
	CountByVideoIDs(ctx context.Context, videoIDs []string) (map[string]int, error)

	// InsertUnderCap は投票数が上限未満の場合のみ投票を挿入する。
	// voter行をロックして数え直すため、同一voterからの同時挿入は直列化され、
	// 上限不変条件は複数インスタンス構成でも破れない。
	// 挿入されなかった理由はInsertOutcomeで区別する。
	InsertUnderCap(ctx context.Context, vote *model.Vote, maxVotes int) (*InsertOutcome, error)

	// Delete は(voter, video)の投票を削除する。削除した場合はtrueを返す。
	Delete(ctx context.Context, voterID, videoID string) (bool, error)
}

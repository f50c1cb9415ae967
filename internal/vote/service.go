// Package vote は投票レジャーのドメインロジックを提供する。
//
// レジャーは2つの不変条件を所有する:
//   - (voter, video) の組につき投票は最大1件
//   - voterあたりの同時保持投票数は上限（既定5件）以下
//
// どちらもデータベース側の保証（主キー制約とvoter行ロック付きの条件付き挿入）を
// 最終的な根拠とし、アプリケーション側のチェックは早期リジェクト用にすぎない。
package vote

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/votebox/internal/model"
	"github.com/hitoshi/votebox/internal/repository"
)

// トグル操作の結果を表すアクション。
const (
	ActionAdded   = "added"
	ActionRemoved = "removed"
)

// ToggleResult はトグル操作の結果を表す。
type ToggleResult struct {
	Action         string
	VideoID        string
	VideoTitle     string
	VideoVoteCount int
	VoterVoteCount int
}

// VoterRegistrar は投票前にvoterレコードの存在を保証するインターフェース。
// voter.Registrarの部分集合として定義する。
type VoterRegistrar interface {
	EnsureExists(ctx context.Context, voterID string, defaults *model.VoterDefaults) (*model.Voter, error)
}

// MetricsRecorder は投票操作のメトリクス記録インターフェース。nil可。
type MetricsRecorder interface {
	RecordVoteAdded()
	RecordVoteRemoved()
	RecordCapRejected()
	RecordDuplicateRace()
	ObserveToggleLatency(d time.Duration)
}

// Service は投票レジャーのサービス層。
// トグル投票、集計、投票可否確認のビジネスロジックを提供する。
type Service struct {
	videoRepo repository.VideoRepository
	voteRepo  repository.VoteRepository
	registrar VoterRegistrar
	validator *Validator
	metrics   MetricsRecorder
	maxVotes  int
}

// NewService はServiceを生成する。metricsはnilでもよい。
func NewService(
	videoRepo repository.VideoRepository,
	voteRepo repository.VoteRepository,
	registrar VoterRegistrar,
	validator *Validator,
	metrics MetricsRecorder,
) *Service {
	return &Service{
		videoRepo: videoRepo,
		voteRepo:  voteRepo,
		registrar: registrar,
		validator: validator,
		metrics:   metrics,
		maxVotes:  validator.MaxVotes(),
	}
}

// ToggleVote は(voter, video)の投票をトグルする。
//
// 投票が存在しなければ上限チェックの上で追加し、存在すれば取り消す。
// videoRefは正規IDと移行元IDのどちらでもよく、必ず正規IDに解決してから
// 投票行を操作する。同一動画が2つの識別子で二重に投票されることはない。
func (s *Service) ToggleVote(ctx context.Context, voterID, videoRef, videoTitle string) (*ToggleResult, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveToggleLatency(time.Since(start))
		}
	}()

	// 1. 正規の動画行に解決する
	video, err := s.videoRepo.FindByRef(ctx, videoRef)
	if err != nil {
		return nil, fmt.Errorf("動画の解決に失敗しました: %w", err)
	}
	if video == nil {
		return nil, model.NewVideoNotFoundError(videoRef)
	}

	// 保存済みのタイトルを正とし、呼び出し側の値は欠けている場合のみ使う
	title := video.Title
	if title == "" {
		title = videoTitle
	}

	// 2. voterレコードの存在を保証する
	if _, err := s.registrar.EnsureExists(ctx, voterID, nil); err != nil {
		return nil, fmt.Errorf("投票者の登録に失敗しました: %w", err)
	}

	// 3. 既存の投票を確認する
	existing, err := s.voteRepo.FindByVoterAndVideo(ctx, voterID, video.ID)
	if err != nil {
		return nil, fmt.Errorf("既存投票の確認に失敗しました: %w", err)
	}

	if existing != nil {
		return s.removeVote(ctx, voterID, video)
	}
	return s.addVote(ctx, voterID, video, title)
}

// removeVote は既存の投票を取り消す。
// 取り消しは状態によらず常に許可される（非公開になった動画の票も外せる）。
func (s *Service) removeVote(ctx context.Context, voterID string, video *model.Video) (*ToggleResult, error) {
	deleted, err := s.voteRepo.Delete(ctx, voterID, video.ID)
	if err != nil {
		return nil, fmt.Errorf("投票の取り消しに失敗しました: %w", err)
	}
	// deleted=falseは同一ペアへの同時トグルが先に消した場合。結果は同じなのでそのまま返す
	_ = deleted

	videoCount, err := s.voteRepo.CountByVideo(ctx, video.ID)
	if err != nil {
		return nil, fmt.Errorf("投票数の集計に失敗しました: %w", err)
	}
	voterCount, err := s.voteRepo.CountByVoter(ctx, voterID)
	if err != nil {
		return nil, fmt.Errorf("投票者の投票数集計に失敗しました: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordVoteRemoved()
	}

	return &ToggleResult{
		Action:         ActionRemoved,
		VideoID:        video.ID,
		VideoTitle:     video.Title,
		VideoVoteCount: videoCount,
		VoterVoteCount: voterCount,
	}, nil
}

// addVote は新規投票を追加する。上限の最終的な判定はInsertUnderCapが行う。
func (s *Service) addVote(ctx context.Context, voterID string, video *model.Video, title string) (*ToggleResult, error) {
	if !video.IsVotable() {
		return nil, model.NewVideoNotVotableError(video.ID)
	}

	// 防御的な早期チェック。確定判定ではない（確定はInsertUnderCapのロック内で行う）
	elig, err := s.validator.CheckEligibility(ctx, voterID)
	if err != nil {
		return nil, fmt.Errorf("投票可否の確認に失敗しました: %w", err)
	}
	if !elig.CanVoteMore {
		if s.metrics != nil {
			s.metrics.RecordCapRejected()
		}
		return nil, &model.VoteCapError{
			CurrentCount: elig.CurrentCount,
			MaxVotes:     elig.MaxVotes,
			VotedVideos:  elig.VotedVideos,
		}
	}

	outcome, err := s.voteRepo.InsertUnderCap(ctx, &model.Vote{
		VoterID:    voterID,
		VideoID:    video.ID,
		VideoTitle: title,
		CreatedAt:  time.Now(),
	}, s.maxVotes)
	if err != nil {
		return nil, fmt.Errorf("投票の追加に失敗しました: %w", err)
	}

	switch {
	case outcome.AlreadyVoted:
		// 同一ペアへの同時トグルに負けた。既投票として扱い、エラーにはしない
		if s.metrics != nil {
			s.metrics.RecordDuplicateRace()
		}
	case !outcome.Inserted:
		// ロック内の数え直しで上限超過が確定した
		if s.metrics != nil {
			s.metrics.RecordCapRejected()
		}
		capErr := &model.VoteCapError{
			CurrentCount: outcome.VoterVoteCount,
			MaxVotes:     s.maxVotes,
		}
		if votes, listErr := s.voteRepo.ListByVoter(ctx, voterID); listErr == nil {
			for _, vt := range votes {
				capErr.VotedVideos = append(capErr.VotedVideos, model.VoteRef{VideoID: vt.VideoID, VideoTitle: vt.VideoTitle})
			}
		}
		return nil, capErr
	default:
		if s.metrics != nil {
			s.metrics.RecordVoteAdded()
		}
	}

	videoCount, err := s.voteRepo.CountByVideo(ctx, video.ID)
	if err != nil {
		return nil, fmt.Errorf("投票数の集計に失敗しました: %w", err)
	}

	return &ToggleResult{
		Action:         ActionAdded,
		VideoID:        video.ID,
		VideoTitle:     title,
		VideoVoteCount: videoCount,
		VoterVoteCount: outcome.VoterVoteCount,
	}, nil
}

// VideoVoteCount は動画への現在の投票数を返す。
// videoRefは正規IDと移行元IDのどちらでもよい。キャッシュせず常にライブで数える。
func (s *Service) VideoVoteCount(ctx context.Context, videoRef string) (int, error) {
	video, err := s.videoRepo.FindByRef(ctx, videoRef)
	if err != nil {
		return 0, fmt.Errorf("動画の解決に失敗しました: %w", err)
	}
	if video == nil {
		return 0, model.NewVideoNotFoundError(videoRef)
	}

	count, err := s.voteRepo.CountByVideo(ctx, video.ID)
	if err != nil {
		return 0, fmt.Errorf("投票数の集計に失敗しました: %w", err)
	}
	return count, nil
}

// CheckEligibility はvoterの投票可否を返す。Validatorへの委譲。
func (s *Service) CheckEligibility(ctx context.Context, voterID string) (*Eligibility, error) {
	return s.validator.CheckEligibility(ctx, voterID)
}

package vote

import (
	"context"
	"fmt"

	"github.com/hitoshi/votebox/internal/model"
	"github.com/hitoshi/votebox/internal/repository"
)

// Eligibility はvoterの投票可否の判定結果を表す。
type Eligibility struct {
	CurrentCount   int
	MaxVotes       int
	RemainingVotes int
	CanVoteMore    bool
	VotedVideos    []model.VoteRef
}

// VotedVideoIDs は投票済み動画IDの一覧を返す。
func (e *Eligibility) VotedVideoIDs() []string {
	ids := make([]string, len(e.VotedVideos))
	for i, ref := range e.VotedVideos {
		ids[i] = ref.VideoID
	}
	return ids
}

// Validator は現在のレジャー状態から投票可否を算出する読み取り専用サービス。
// 投票状態確認エンドポイントと、レジャー内部の防御的チェックの両方で使う。
type Validator struct {
	voteRepo repository.VoteRepository
	maxVotes int
}

// NewValidator はValidatorを生成する。
func NewValidator(voteRepo repository.VoteRepository, maxVotes int) *Validator {
	if maxVotes <= 0 {
		maxVotes = model.DefaultMaxVotes
	}
	return &Validator{voteRepo: voteRepo, maxVotes: maxVotes}
}

// MaxVotes は設定されている投票上限を返す。
func (v *Validator) MaxVotes() int {
	return v.maxVotes
}

// CheckEligibility はvoterの現在の投票数と投票可否を返す。
// ストア障害時はフェイルクローズ: CanVoteMore=falseの保守的な結果とエラーを返す。
// レジャー状態が確認できないまま投票を許可することは決してない。
func (v *Validator) CheckEligibility(ctx context.Context, voterID string) (*Eligibility, error) {
	closed := &Eligibility{MaxVotes: v.maxVotes, CanVoteMore: false}

	votes, err := v.voteRepo.ListByVoter(ctx, voterID)
	if err != nil {
		return closed, fmt.Errorf("投票一覧の取得に失敗しました: %w", err)
	}

	refs := make([]model.VoteRef, len(votes))
	for i, vt := range votes {
		refs[i] = model.VoteRef{VideoID: vt.VideoID, VideoTitle: vt.VideoTitle}
	}

	current := len(votes)
	remaining := v.maxVotes - current
	if remaining < 0 {
		remaining = 0
	}

	return &Eligibility{
		CurrentCount:   current,
		MaxVotes:       v.maxVotes,
		RemainingVotes: remaining,
		CanVoteMore:    current < v.maxVotes,
		VotedVideos:    refs,
	}, nil
}

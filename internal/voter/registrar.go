// Package voter は投票ユーザーの登録管理を提供する。
package voter

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/votebox/internal/model"
	"github.com/hitoshi/votebox/internal/repository"
)

// Registrar は投票前にvoterレコードの存在を保証するサービス。
// 投票状態には一切触れない。
type Registrar struct {
	voterRepo repository.VoterRepository
}

// NewRegistrar はRegistrarを生成する。
func NewRegistrar(voterRepo repository.VoterRepository) *Registrar {
	return &Registrar{voterRepo: voterRepo}
}

// EnsureExists はvoterレコードが存在することを保証し、そのレコードを返す。
// 存在しない場合はdefaultsまたは合成プレースホルダーで作成する。
// 同じIDで2回呼んでも2回目は何も作成しない（冪等）。
func (r *Registrar) EnsureExists(ctx context.Context, voterID string, defaults *model.VoterDefaults) (*model.Voter, error) {
	if voterID == "" {
		return nil, fmt.Errorf("voter ID is empty")
	}

	existing, err := r.voterRepo.FindByID(ctx, voterID)
	if err != nil {
		return nil, fmt.Errorf("投票者の取得に失敗しました: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now()
	voter := &model.Voter{
		ID:          voterID,
		DisplayName: fmt.Sprintf("voter %s", voterID),
		Email:       fmt.Sprintf("voter%s@placeholder.invalid", voterID),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if defaults != nil {
		if defaults.DisplayName != "" {
			voter.DisplayName = defaults.DisplayName
		}
		if defaults.Email != "" {
			voter.Email = defaults.Email
		}
	}

	if err := r.voterRepo.CreateIfAbsent(ctx, voter); err != nil {
		return nil, fmt.Errorf("投票者の作成に失敗しました: %w", err)
	}

	// 同時作成に負けた場合でも正規の行を返す
	created, err := r.voterRepo.FindByID(ctx, voterID)
	if err != nil {
		return nil, fmt.Errorf("作成した投票者の再取得に失敗しました: %w", err)
	}
	if created == nil {
		return nil, fmt.Errorf("voter disappeared after creation: %s", voterID)
	}
	return created, nil
}

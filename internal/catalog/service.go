package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/votebox/internal/model"
	"github.com/hitoshi/votebox/internal/repository"
)

const (
	defaultListLimit = 30
	maxListLimit     = 100
)

// VideoWithCount は動画とライブ集計した投票数を結合したドメインオブジェクト。
type VideoWithCount struct {
	model.Video
	VoteCount int
}

// ListResult は動画一覧とページネーション情報を表す。
type ListResult struct {
	Videos  []VideoWithCount
	Limit   int
	Offset  int
	Total   int
	HasMore bool
}

// RegisterInput は動画登録の入力。
type RegisterInput struct {
	Title        string
	Description  string
	SourceID     string
	ThumbnailURL string
}

// Service は動画カタログのサービス層。
// 投票者に見えるのはready状態の動画のみで、その絞り込みはこの層が行う。
// 投票レジャーはカタログの状態には関与しない。
type Service struct {
	videoRepo repository.VideoRepository
	voteRepo  repository.VoteRepository
	sanitizer SanitizerService
}

// NewService はServiceを生成する。
func NewService(videoRepo repository.VideoRepository, voteRepo repository.VoteRepository, sanitizer SanitizerService) *Service {
	return &Service{
		videoRepo: videoRepo,
		voteRepo:  voteRepo,
		sanitizer: sanitizer,
	}
}

// List は公開中（ready）の動画一覧を投票数付きで返す。
// limitが0以下の場合は既定値、上限を超える場合は上限に丸める。
func (s *Service) List(ctx context.Context, limit, offset int) (*ListResult, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	videos, err := s.videoRepo.ListByStatus(ctx, model.VideoStatusReady, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("動画一覧の取得に失敗しました: %w", err)
	}

	total, err := s.videoRepo.CountByStatus(ctx, model.VideoStatusReady)
	if err != nil {
		return nil, fmt.Errorf("動画数の取得に失敗しました: %w", err)
	}

	ids := make([]string, len(videos))
	for i, v := range videos {
		ids[i] = v.ID
	}
	counts, err := s.voteRepo.CountByVideoIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("投票数の一括集計に失敗しました: %w", err)
	}

	results := make([]VideoWithCount, len(videos))
	for i, v := range videos {
		results[i] = VideoWithCount{Video: *v, VoteCount: counts[v.ID]}
	}

	return &ListResult{
		Videos:  results,
		Limit:   limit,
		Offset:  offset,
		Total:   total,
		HasMore: offset+len(videos) < total,
	}, nil
}

// Get は正規IDまたは移行元IDで動画を1件取得する。
func (s *Service) Get(ctx context.Context, ref string) (*VideoWithCount, error) {
	video, err := s.videoRepo.FindByRef(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("動画の取得に失敗しました: %w", err)
	}
	if video == nil {
		return nil, model.NewVideoNotFoundError(ref)
	}

	count, err := s.voteRepo.CountByVideo(ctx, video.ID)
	if err != nil {
		return nil, fmt.Errorf("投票数の集計に失敗しました: %w", err)
	}

	return &VideoWithCount{Video: *video, VoteCount: count}, nil
}

// Register は動画をprocessing状態で登録する。
// タイトルと説明は保存前にサニタイズされる。
func (s *Service) Register(ctx context.Context, input RegisterInput) (*model.Video, error) {
	title := s.sanitizer.SanitizeTitle(input.Title)
	if title == "" {
		return nil, model.NewInvalidRequestError("タイトルは必須です")
	}

	now := time.Now()
	video := &model.Video{
		ID:           uuid.New().String(),
		Title:        title,
		Description:  s.sanitizer.SanitizeDescription(input.Description),
		SourceID:     input.SourceID,
		ThumbnailURL: input.ThumbnailURL,
		Status:       model.VideoStatusProcessing,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.videoRepo.Create(ctx, video); err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, err
		}
		return nil, fmt.Errorf("動画の登録に失敗しました: %w", err)
	}

	return video, nil
}

// MarkReady は動画を公開（投票対象）状態にする。
func (s *Service) MarkReady(ctx context.Context, id string) error {
	if err := s.videoRepo.UpdateStatus(ctx, id, model.VideoStatusReady); err != nil {
		return fmt.Errorf("動画の公開に失敗しました: %w", err)
	}
	return nil
}

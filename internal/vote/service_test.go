package vote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/votebox/internal/model"
	"github.com/hitoshi/votebox/internal/repository"
)

// --- モック定義 ---

// mockVideoRepo はVideoRepositoryのモック実装。
type mockVideoRepo struct {
	findByRefFn func(ctx context.Context, ref string) (*model.Video, error)
}

func (m *mockVideoRepo) FindByRef(ctx context.Context, ref string) (*model.Video, error) {
	if m.findByRefFn != nil {
		return m.findByRefFn(ctx, ref)
	}
	return nil, nil
}

func (m *mockVideoRepo) Create(ctx context.Context, video *model.Video) error { return nil }

func (m *mockVideoRepo) UpdateStatus(ctx context.Context, id string, status model.VideoStatus) error {
	return nil
}

func (m *mockVideoRepo) ListByStatus(ctx context.Context, status model.VideoStatus, limit, offset int) ([]*model.Video, error) {
	return nil, nil
}

func (m *mockVideoRepo) CountByStatus(ctx context.Context, status model.VideoStatus) (int, error) {
	return 0, nil
}

// mockVoteRepo はVoteRepositoryのモック実装。
type mockVoteRepo struct {
	findByVoterAndVideoFn func(ctx context.Context, voterID, videoID string) (*model.Vote, error)
	listByVoterFn         func(ctx context.Context, voterID string) ([]*model.Vote, error)
	countByVoterFn        func(ctx context.Context, voterID string) (int, error)
	countByVideoFn        func(ctx context.Context, videoID string) (int, error)
	insertUnderCapFn      func(ctx context.Context, vote *model.Vote, maxVotes int) (*repository.InsertOutcome, error)
	deleteFn              func(ctx context.Context, voterID, videoID string) (bool, error)
}

func (m *mockVoteRepo) FindByVoterAndVideo(ctx context.Context, voterID, videoID string) (*model.Vote, error) {
	if m.findByVoterAndVideoFn != nil {
		return m.findByVoterAndVideoFn(ctx, voterID, videoID)
	}
	return nil, nil
}

func (m *mockVoteRepo) ListByVoter(ctx context.Context, voterID string) ([]*model.Vote, error) {
	if m.listByVoterFn != nil {
		return m.listByVoterFn(ctx, voterID)
	}
	return nil, nil
}

func (m *mockVoteRepo) CountByVoter(ctx context.Context, voterID string) (int, error) {
	if m.countByVoterFn != nil {
		return m.countByVoterFn(ctx, voterID)
	}
	return 0, nil
}

func (m *mockVoteRepo) CountByVideo(ctx context.Context, videoID string) (int, error) {
	if m.countByVideoFn != nil {
		return m.countByVideoFn(ctx, videoID)
	}
	return 0, nil
}

func (m *mockVoteRepo) CountByVideoIDs(ctx context.Context, videoIDs []string) (map[string]int, error) {
	return map[string]int{}, nil
}

func (m *mockVoteRepo) InsertUnderCap(ctx context.Context, vote *model.Vote, maxVotes int) (*repository.InsertOutcome, error) {
	if m.insertUnderCapFn != nil {
		return m.insertUnderCapFn(ctx, vote, maxVotes)
	}
	return &repository.InsertOutcome{Inserted: true, VoterVoteCount: 1}, nil
}

func (m *mockVoteRepo) Delete(ctx context.Context, voterID, videoID string) (bool, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, voterID, videoID)
	}
	return true, nil
}

// mockRegistrar はVoterRegistrarのモック実装。
type mockRegistrar struct {
	ensureExistsFn func(ctx context.Context, voterID string, defaults *model.VoterDefaults) (*model.Voter, error)
}

func (m *mockRegistrar) EnsureExists(ctx context.Context, voterID string, defaults *model.VoterDefaults) (*model.Voter, error) {
	if m.ensureExistsFn != nil {
		return m.ensureExistsFn(ctx, voterID, defaults)
	}
	return &model.Voter{ID: voterID}, nil
}

// recordingMetrics はメトリクス呼び出しを記録するMetricsRecorder実装。
type recordingMetrics struct {
	added          int
	removed        int
	capRejected    int
	duplicateRaces int
	latencies      int
}

func (r *recordingMetrics) RecordVoteAdded()                   { r.added++ }
func (r *recordingMetrics) RecordVoteRemoved()                 { r.removed++ }
func (r *recordingMetrics) RecordCapRejected()                 { r.capRejected++ }
func (r *recordingMetrics) RecordDuplicateRace()               { r.duplicateRaces++ }
func (r *recordingMetrics) ObserveToggleLatency(time.Duration) { r.latencies++ }

// --- テストヘルパー ---

func readyVideo() *model.Video {
	return &model.Video{
		ID:     "video-1",
		Title:  "公開中の動画",
		Status: model.VideoStatusReady,
	}
}

func newTestService(videoRepo *mockVideoRepo, voteRepo *mockVoteRepo, metrics MetricsRecorder) *Service {
	validator := NewValidator(voteRepo, 5)
	return NewService(videoRepo, voteRepo, &mockRegistrar{}, validator, metrics)
}

// --- ToggleVote テスト ---

// 未投票の動画への投票が追加されることを検証
func TestService_ToggleVote_Adds(t *testing.T) {
	videoRepo := &mockVideoRepo{
		findByRefFn: func(ctx context.Context, ref string) (*model.Video, error) {
			return readyVideo(), nil
		},
	}
	voteRepo := &mockVoteRepo{
		findByVoterAndVideoFn: func(ctx context.Context, voterID, videoID string) (*model.Vote, error) {
			return nil, nil
		},
		countByVoterFn: func(ctx context.Context, voterID string) (int, error) { return 2, nil },
		countByVideoFn: func(ctx context.Context, videoID string) (int, error) { return 10, nil },
		insertUnderCapFn: func(ctx context.Context, vote *model.Vote, maxVotes int) (*repository.InsertOutcome, error) {
			if vote.VideoID != "video-1" {
				t.Errorf("insert VideoID = %q, want video-1", vote.VideoID)
			}
			if maxVotes != 5 {
				t.Errorf("maxVotes = %d, want 5", maxVotes)
			}
			return &repository.InsertOutcome{Inserted: true, VoterVoteCount: 3}, nil
		},
	}
	metrics := &recordingMetrics{}

	svc := newTestService(videoRepo, voteRepo, metrics)
	result, err := svc.ToggleVote(context.Background(), "voter-1", "video-1", "")
	if err != nil {
		t.Fatalf("ToggleVote returned error: %v", err)
	}

	if result.Action != ActionAdded {
		t.Errorf("Action = %q, want %q", result.Action, ActionAdded)
	}
	if result.VideoVoteCount != 10 {
		t.Errorf("VideoVoteCount = %d, want 10", result.VideoVoteCount)
	}
	if result.VoterVoteCount != 3 {
		t.Errorf("VoterVoteCount = %d, want 3", result.VoterVoteCount)
	}
	if metrics.added != 1 {
		t.Errorf("metrics.added = %d, want 1", metrics.added)
	}
	if metrics.latencies != 1 {
		t.Errorf("metrics.latencies = %d, want 1", metrics.latencies)
	}
}

// 投票済みの動画への再トグルで投票が取り消されることを検証
func TestService_ToggleVote_Removes(t *testing.T) {
	videoRepo := &mockVideoRepo{
		findByRefFn: func(ctx context.Context, ref string) (*model.Video, error) {
			return readyVideo(), nil
		},
	}
	deleted := false
	voteRepo := &mockVoteRepo{
		findByVoterAndVideoFn: func(ctx context.Context, voterID, videoID string) (*model.Vote, error) {
			return &model.Vote{VoterID: voterID, VideoID: videoID}, nil
		},
		deleteFn: func(ctx context.Context, voterID, videoID string) (bool, error) {
			deleted = true
			return true, nil
		},
		countByVoterFn: func(ctx context.Context, voterID string) (int, error) { return 4, nil },
		countByVideoFn: func(ctx context.Context, videoID string) (int, error) { return 9, nil },
	}
	metrics := &recordingMetrics{}

	svc := newTestService(videoRepo, voteRepo, metrics)
	result, err := svc.ToggleVote(context.Background(), "voter-1", "video-1", "")
	if err != nil {
		t.Fatalf("ToggleVote returned error: %v", err)
	}

	if result.Action != ActionRemoved {
		t.Errorf("Action = %q, want %q", result.Action, ActionRemoved)
	}
	if !deleted {
		t.Error("Delete should be called")
	}
	if result.VoterVoteCount != 4 {
		t.Errorf("VoterVoteCount = %d, want 4", result.VoterVoteCount)
	}
	if metrics.removed != 1 {
		t.Errorf("metrics.removed = %d, want 1", metrics.removed)
	}
}

// 移行元IDでの参照が正規IDに解決されることを検証
func TestService_ToggleVote_ResolvesLegacyRef(t *testing.T) {
	video := readyVideo()
	video.SourceID = "legacy-42"

	videoRepo := &mockVideoRepo{
		findByRefFn: func(ctx context.Context, ref string) (*model.Video, error) {
			if ref != "legacy-42" {
				t.Errorf("FindByRef called with %q, want legacy-42", ref)
			}
			return video, nil
		},
	}
	var insertedVideoID string
	voteRepo := &mockVoteRepo{
		insertUnderCapFn: func(ctx context.Context, vote *model.Vote, maxVotes int) (*repository.InsertOutcome, error) {
			insertedVideoID = vote.VideoID
			return &repository.InsertOutcome{Inserted: true, VoterVoteCount: 1}, nil
		},
	}

	svc := newTestService(videoRepo, voteRepo, nil)
	result, err := svc.ToggleVote(context.Background(), "voter-1", "legacy-42", "")
	if err != nil {
		t.Fatalf("ToggleVote returned error: %v", err)
	}

	// 投票行は常に正規IDで記録される
	if insertedVideoID != "video-1" {
		t.Errorf("vote recorded for %q, want canonical video-1", insertedVideoID)
	}
	if result.VideoID != "video-1" {
		t.Errorf("result.VideoID = %q, want video-1", result.VideoID)
	}
}

// 存在しない動画への投票がVIDEO_NOT_FOUNDになることを検証
func TestService_ToggleVote_VideoNotFound(t *testing.T) {
	videoRepo := &mockVideoRepo{
		findByRefFn: func(ctx context.Context, ref string) (*model.Video, error) {
			return nil, nil
		},
	}

	svc := newTestService(videoRepo, &mockVoteRepo{}, nil)
	_, err := svc.ToggleVote(context.Background(), "voter-1", "missing", "")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeVideoNotFound {
		t.Fatalf("expected VIDEO_NOT_FOUND error, got %v", err)
	}
}

// 非公開の動画への新規投票が拒否されることを検証
func TestService_ToggleVote_NotVotable(t *testing.T) {
	video := readyVideo()
	video.Status = model.VideoStatusProcessing

	videoRepo := &mockVideoRepo{
		findByRefFn: func(ctx context.Context, ref string) (*model.Video, error) {
			return video, nil
		},
	}

	svc := newTestService(videoRepo, &mockVoteRepo{}, nil)
	_, err := svc.ToggleVote(context.Background(), "voter-1", "video-1", "")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeVideoNotVotable {
		t.Fatalf("expected VIDEO_NOT_VOTABLE error, got %v", err)
	}
}

// 非公開になった動画の既存投票は取り消せることを検証
func TestService_ToggleVote_RemovalAllowedForUnvotableVideo(t *testing.T) {
	video := readyVideo()
	video.Status = model.VideoStatusDeleted

	videoRepo := &mockVideoRepo{
		findByRefFn: func(ctx context.Context, ref string) (*model.Video, error) {
			return video, nil
		},
	}
	voteRepo := &mockVoteRepo{
		findByVoterAndVideoFn: func(ctx context.Context, voterID, videoID string) (*model.Vote, error) {
			return &model.Vote{VoterID: voterID, VideoID: videoID}, nil
		},
	}

	svc := newTestService(videoRepo, voteRepo, nil)
	result, err := svc.ToggleVote(context.Background(), "voter-1", "video-1", "")
	if err != nil {
		t.Fatalf("removal should be allowed regardless of status, got error: %v", err)
	}
	if result.Action != ActionRemoved {
		t.Errorf("Action = %q, want %q", result.Action, ActionRemoved)
	}
}

// 上限到達時に新規投票がVoteCapErrorで拒否されることを検証
func TestService_ToggleVote_CapExceeded(t *testing.T) {
	videoRepo := &mockVideoRepo{
		findByRefFn: func(ctx context.Context, ref string) (*model.Video, error) {
			return readyVideo(), nil
		},
	}
	fullVotes := []*model.Vote{
		{VideoID: "v1", VideoTitle: "動画1"},
		{VideoID: "v2", VideoTitle: "動画2"},
		{VideoID: "v3", VideoTitle: "動画3"},
		{VideoID: "v4", VideoTitle: "動画4"},
		{VideoID: "v5", VideoTitle: "動画5"},
	}
	voteRepo := &mockVoteRepo{
		listByVoterFn: func(ctx context.Context, voterID string) ([]*model.Vote, error) {
			return fullVotes, nil
		},
		insertUnderCapFn: func(ctx context.Context, vote *model.Vote, maxVotes int) (*repository.InsertOutcome, error) {
			t.Error("InsertUnderCap should not be reached when pre-check rejects")
			return nil, nil
		},
	}
	metrics := &recordingMetrics{}

	svc := newTestService(videoRepo, voteRepo, metrics)
	_, err := svc.ToggleVote(context.Background(), "voter-1", "video-1", "")

	var capErr *model.VoteCapError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected VoteCapError, got %v", err)
	}
	if capErr.CurrentCount != 5 || capErr.MaxVotes != 5 {
		t.Errorf("CurrentCount = %d, MaxVotes = %d, want 5/5", capErr.CurrentCount, capErr.MaxVotes)
	}
	if len(capErr.VotedVideos) != 5 {
		t.Errorf("len(VotedVideos) = %d, want 5", len(capErr.VotedVideos))
	}
	if metrics.capRejected != 1 {
		t.Errorf("metrics.capRejected = %d, want 1", metrics.capRejected)
	}
}

// ロック内の数え直しで上限超過が確定した場合もVoteCapErrorになることを検証
func TestService_ToggleVote_CapExceededUnderLock(t *testing.T) {
	videoRepo := &mockVideoRepo{
		findByRefFn: func(ctx context.Context, ref string) (*model.Video, error) {
			return readyVideo(), nil
		},
	}
	voteRepo := &mockVoteRepo{
		listByVoterFn: func(ctx context.Context, voterID string) ([]*model.Vote, error) {
			// 事前チェックの時点では空きがあるように見える
			return []*model.Vote{{VideoID: "v1"}}, nil
		},
		insertUnderCapFn: func(ctx context.Context, vote *model.Vote, maxVotes int) (*repository.InsertOutcome, error) {
			// ロック内の数え直しで上限に達していた
			return &repository.InsertOutcome{Inserted: false, VoterVoteCount: 5}, nil
		},
	}
	metrics := &recordingMetrics{}

	svc := newTestService(videoRepo, voteRepo, metrics)
	_, err := svc.ToggleVote(context.Background(), "voter-1", "video-1", "")

	var capErr *model.VoteCapError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected VoteCapError, got %v", err)
	}
	if capErr.CurrentCount != 5 {
		t.Errorf("CurrentCount = %d, want 5", capErr.CurrentCount)
	}
	if metrics.capRejected != 1 {
		t.Errorf("metrics.capRejected = %d, want 1", metrics.capRejected)
	}
}

// 同一ペアへの同時トグルの衝突がエラーにならず吸収されることを検証
func TestService_ToggleVote_DuplicateRaceAbsorbed(t *testing.T) {
	videoRepo := &mockVideoRepo{
		findByRefFn: func(ctx context.Context, ref string) (*model.Video, error) {
			return readyVideo(), nil
		},
	}
	voteRepo := &mockVoteRepo{
		insertUnderCapFn: func(ctx context.Context, vote *model.Vote, maxVotes int) (*repository.InsertOutcome, error) {
			return &repository.InsertOutcome{AlreadyVoted: true, VoterVoteCount: 3}, nil
		},
		countByVideoFn: func(ctx context.Context, videoID string) (int, error) { return 7, nil },
	}
	metrics := &recordingMetrics{}

	svc := newTestService(videoRepo, voteRepo, metrics)
	result, err := svc.ToggleVote(context.Background(), "voter-1", "video-1", "")
	if err != nil {
		t.Fatalf("duplicate race should be absorbed, got error: %v", err)
	}

	if result.Action != ActionAdded {
		t.Errorf("Action = %q, want %q", result.Action, ActionAdded)
	}
	if result.VideoVoteCount != 7 {
		t.Errorf("VideoVoteCount = %d, want live count 7", result.VideoVoteCount)
	}
	if metrics.duplicateRaces != 1 {
		t.Errorf("metrics.duplicateRaces = %d, want 1", metrics.duplicateRaces)
	}
	if metrics.added != 0 {
		t.Errorf("metrics.added = %d, want 0", metrics.added)
	}
}

// 保存済みタイトルが呼び出し側の値より優先されることを検証
func TestService_ToggleVote_StoredTitleWins(t *testing.T) {
	videoRepo := &mockVideoRepo{
		findByRefFn: func(ctx context.Context, ref string) (*model.Video, error) {
			return readyVideo(), nil
		},
	}
	var insertedTitle string
	voteRepo := &mockVoteRepo{
		insertUnderCapFn: func(ctx context.Context, vote *model.Vote, maxVotes int) (*repository.InsertOutcome, error) {
			insertedTitle = vote.VideoTitle
			return &repository.InsertOutcome{Inserted: true, VoterVoteCount: 1}, nil
		},
	}

	svc := newTestService(videoRepo, voteRepo, nil)
	result, err := svc.ToggleVote(context.Background(), "voter-1", "video-1", "呼び出し側のタイトル")
	if err != nil {
		t.Fatalf("ToggleVote returned error: %v", err)
	}

	if insertedTitle != "公開中の動画" {
		t.Errorf("inserted title = %q, want stored title", insertedTitle)
	}
	if result.VideoTitle != "公開中の動画" {
		t.Errorf("result.VideoTitle = %q, want stored title", result.VideoTitle)
	}
}

// --- VideoVoteCount テスト ---

// 移行元IDでも投票数が取得できることを検証
func TestService_VideoVoteCount(t *testing.T) {
	videoRepo := &mockVideoRepo{
		findByRefFn: func(ctx context.Context, ref string) (*model.Video, error) {
			return readyVideo(), nil
		},
	}
	voteRepo := &mockVoteRepo{
		countByVideoFn: func(ctx context.Context, videoID string) (int, error) {
			if videoID != "video-1" {
				t.Errorf("CountByVideo called with %q, want canonical video-1", videoID)
			}
			return 12, nil
		},
	}

	svc := newTestService(videoRepo, voteRepo, nil)
	count, err := svc.VideoVoteCount(context.Background(), "legacy-42")
	if err != nil {
		t.Fatalf("VideoVoteCount returned error: %v", err)
	}
	if count != 12 {
		t.Errorf("count = %d, want 12", count)
	}
}

// 存在しない動画の投票数取得がVIDEO_NOT_FOUNDになることを検証
func TestService_VideoVoteCount_NotFound(t *testing.T) {
	videoRepo := &mockVideoRepo{
		findByRefFn: func(ctx context.Context, ref string) (*model.Video, error) {
			return nil, nil
		},
	}

	svc := newTestService(videoRepo, &mockVoteRepo{}, nil)
	_, err := svc.VideoVoteCount(context.Background(), "missing")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeVideoNotFound {
		t.Fatalf("expected VIDEO_NOT_FOUND error, got %v", err)
	}
}

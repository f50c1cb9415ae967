// Package handler はHTTP APIのハンドラー層を提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/votebox/internal/database"
	"github.com/hitoshi/votebox/internal/middleware"
	"github.com/hitoshi/votebox/internal/model"
	"github.com/hitoshi/votebox/internal/vote"
)

// VoteServiceInterface は投票ハンドラーが必要とするサービスインターフェース。
type VoteServiceInterface interface {
	// ToggleVote は(voter, video)の投票をトグルする。
	ToggleVote(ctx context.Context, voterID, videoRef, videoTitle string) (*vote.ToggleResult, error)
	// CheckEligibility はvoterの投票可否を返す。
	CheckEligibility(ctx context.Context, voterID string) (*vote.Eligibility, error)
	// VideoVoteCount は動画への現在の投票数を返す。
	VideoVoteCount(ctx context.Context, videoRef string) (int, error)
}

// VoteHandler は投票操作のHTTPハンドラー。
type VoteHandler struct {
	service VoteServiceInterface
}

// NewVoteHandler はVoteHandlerを生成する。
func NewVoteHandler(service VoteServiceInterface) *VoteHandler {
	return &VoteHandler{service: service}
}

// toggleVoteRequest は投票トグルリクエストのボディ。
// video_idは正規IDと移行元IDのどちらでもよい。
type toggleVoteRequest struct {
	VideoID    string `json:"video_id"`
	VideoTitle string `json:"video_title"`
}

// toggleVoteResponse は投票トグルのAPIレスポンス。
type toggleVoteResponse struct {
	Success        bool   `json:"success"`
	Action         string `json:"action"`
	VideoID        string `json:"video_id"`
	VideoTitle     string `json:"video_title"`
	VideoVoteCount int    `json:"video_vote_count"`
	VoterVoteCount int    `json:"voter_vote_count"`
}

// checkVotesResponse は投票状態確認のAPIレスポンス。
type checkVotesResponse struct {
	Success          bool            `json:"success"`
	CanVoteMore      bool            `json:"can_vote_more"`
	CurrentVoteCount int             `json:"current_vote_count"`
	MaxVotes         int             `json:"max_votes"`
	RemainingVotes   int             `json:"remaining_votes"`
	VotedVideos      []model.VoteRef `json:"voted_videos"`
}

// videoVotesResponse は動画別投票数のAPIレスポンス。
type videoVotesResponse struct {
	Success   bool   `json:"success"`
	VideoID   string `json:"video_id"`
	VoteCount int    `json:"vote_count"`
}

// voteCapResponse は投票上限超過のエラーレスポンス。
// UIが投票済み一覧を提示できるよう、統一エラーフォーマットに現在の状態を加える。
type voteCapResponse struct {
	Success          bool            `json:"success"`
	Code             string          `json:"code"`
	Message          string          `json:"message"`
	Category         string          `json:"category"`
	Action           string          `json:"action"`
	CurrentVoteCount int             `json:"current_vote_count"`
	MaxVotes         int             `json:"max_votes"`
	MaxVotesReached  bool            `json:"max_votes_reached"`
	VotedVideos      []model.VoteRef `json:"voted_videos"`
}

// ToggleVote は投票のトグルを処理する。
// POST /api/videos/vote
func (h *VoteHandler) ToggleVote(w http.ResponseWriter, r *http.Request) {
	voterID, err := middleware.VoterIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req toggleVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	if req.VideoID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("video_idは必須です"))
		return
	}

	result, err := h.service.ToggleVote(r.Context(), voterID, req.VideoID, req.VideoTitle)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toggleVoteResponse{
		Success:        true,
		Action:         result.Action,
		VideoID:        result.VideoID,
		VideoTitle:     result.VideoTitle,
		VideoVoteCount: result.VideoVoteCount,
		VoterVoteCount: result.VoterVoteCount,
	})
}

// CheckVotes は認証済み投票者の投票状態を返す。
// GET /api/votes/check
func (h *VoteHandler) CheckVotes(w http.ResponseWriter, r *http.Request) {
	voterID, err := middleware.VoterIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	elig, err := h.service.CheckEligibility(r.Context(), voterID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	votedVideos := elig.VotedVideos
	if votedVideos == nil {
		votedVideos = []model.VoteRef{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(checkVotesResponse{
		Success:          true,
		CanVoteMore:      elig.CanVoteMore,
		CurrentVoteCount: elig.CurrentCount,
		MaxVotes:         elig.MaxVotes,
		RemainingVotes:   elig.RemainingVotes,
		VotedVideos:      votedVideos,
	})
}

// VideoVotes は動画への現在の投票数を返す。
// GET /api/videos/{id}/votes
func (h *VoteHandler) VideoVotes(w http.ResponseWriter, r *http.Request) {
	videoRef := chi.URLParam(r, "id")

	count, err := h.service.VideoVoteCount(r.Context(), videoRef)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(videoVotesResponse{
		Success:   true,
		VideoID:   videoRef,
		VoteCount: count,
	})
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(middleware.ErrorResponseBody{
		Success:  false,
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// writeVoteCapResponse は投票上限超過のエラーレスポンスを書き込む。
func writeVoteCapResponse(w http.ResponseWriter, capErr *model.VoteCapError) {
	votedVideos := capErr.VotedVideos
	if votedVideos == nil {
		votedVideos = []model.VoteRef{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(voteCapResponse{
		Success:          false,
		Code:             model.ErrCodeVoteCapExceeded,
		Message:          capErr.Error(),
		Category:         "vote",
		Action:           "既存の投票を取り消してから再度投票してください。",
		CurrentVoteCount: capErr.CurrentCount,
		MaxVotes:         capErr.MaxVotes,
		MaxVotesReached:  true,
		VotedVideos:      votedVideos,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var capErr *model.VoteCapError
	if errors.As(err, &capErr) {
		writeVoteCapResponse(w, capErr)
		return
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// リトライを使い切ったストア障害は503として返す
	if errors.Is(err, database.ErrStoreUnavailable) {
		slog.Error("store unavailable", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusServiceUnavailable, model.NewStoreUnavailableError())
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeVideoNotFound:
		return http.StatusNotFound
	case model.ErrCodeVideoNotVotable:
		return http.StatusConflict
	case model.ErrCodeVoteCapExceeded:
		return http.StatusBadRequest
	case model.ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeInvalidToken, model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeDuplicateVideo:
		return http.StatusConflict
	case model.ErrCodeUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/votebox/internal/catalog"
	"github.com/hitoshi/votebox/internal/model"
)

// VideoServiceInterface は動画ハンドラーが必要とするサービスインターフェース。
type VideoServiceInterface interface {
	// List は公開中の動画一覧を投票数付きで返す。
	List(ctx context.Context, limit, offset int) (*catalog.ListResult, error)
	// Get は正規IDまたは移行元IDで動画を1件取得する。
	Get(ctx context.Context, ref string) (*catalog.VideoWithCount, error)
	// Register は動画を登録する。
	Register(ctx context.Context, input catalog.RegisterInput) (*model.Video, error)
}

// VideoHandler は動画カタログのHTTPハンドラー。
type VideoHandler struct {
	service VideoServiceInterface
}

// NewVideoHandler はVideoHandlerを生成する。
func NewVideoHandler(service VideoServiceInterface) *VideoHandler {
	return &VideoHandler{service: service}
}

// registerVideoRequest は動画登録リクエストのボディ。
type registerVideoRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	SourceID     string `json:"source_id"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// videoResponse は動画情報のAPIレスポンス。
type videoResponse struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	SourceID     string    `json:"source_id,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Status       string    `json:"status"`
	VoteCount    int       `json:"vote_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// listVideosResponse は動画一覧のAPIレスポンス。
type listVideosResponse struct {
	Success bool            `json:"success"`
	Videos  []videoResponse `json:"videos"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
	Total   int             `json:"total"`
	HasMore bool            `json:"has_more"`
}

// ListVideos は公開中の動画一覧を返す。
// GET /api/videos?limit=&offset=
func (h *VideoHandler) ListVideos(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", 0)
	offset := parseIntQuery(r, "offset", 0)

	result, err := h.service.List(r.Context(), limit, offset)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	videos := make([]videoResponse, len(result.Videos))
	for i, v := range result.Videos {
		videos[i] = toVideoResponse(&v.Video, v.VoteCount)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listVideosResponse{
		Success: true,
		Videos:  videos,
		Limit:   result.Limit,
		Offset:  result.Offset,
		Total:   result.Total,
		HasMore: result.HasMore,
	})
}

// GetVideo は動画詳細を返す。
// GET /api/videos/{id}
func (h *VideoHandler) GetVideo(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "id")

	result, err := h.service.Get(r.Context(), ref)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toVideoResponse(&result.Video, result.VoteCount))
}

// RegisterVideo は動画登録を処理する。
// POST /api/videos
func (h *VideoHandler) RegisterVideo(w http.ResponseWriter, r *http.Request) {
	var req registerVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	if req.Title == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("タイトルは必須です"))
		return
	}

	video, err := h.service.Register(r.Context(), catalog.RegisterInput{
		Title:        req.Title,
		Description:  req.Description,
		SourceID:     req.SourceID,
		ThumbnailURL: req.ThumbnailURL,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toVideoResponse(video, 0))
}

// toVideoResponse はドメインの動画をAPIレスポンスに変換する。
func toVideoResponse(v *model.Video, voteCount int) videoResponse {
	return videoResponse{
		ID:           v.ID,
		Title:        v.Title,
		Description:  v.Description,
		SourceID:     v.SourceID,
		ThumbnailURL: v.ThumbnailURL,
		Status:       string(v.Status),
		VoteCount:    voteCount,
		CreatedAt:    v.CreatedAt,
	}
}

// parseIntQuery はクエリパラメータを整数として解析する。不正な値はフォールバックを返す。
func parseIntQuery(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, vote, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeVoteCapExceeded  = "VOTE_CAP_EXCEEDED"
	ErrCodeVideoNotFound    = "VIDEO_NOT_FOUND"
	ErrCodeVideoNotVotable  = "VIDEO_NOT_VOTABLE"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeInvalidToken     = "INVALID_TOKEN"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeDuplicateVideo   = "DUPLICATE_VIDEO"

	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
)

// VoteCapError は投票上限超過を表すドメインエラー。
// ハンドラーが現在の投票数と投票済み動画一覧をレスポンスに含められるよう、
// APIErrorとは別に構造化された情報を保持する。
type VoteCapError struct {
	CurrentCount int
	MaxVotes     int
	VotedVideos  []VoteRef
}

// Error はerrorインターフェースを実装する。
func (e *VoteCapError) Error() string {
	return fmt.Sprintf("[%s] 投票数が上限（%d件）に達しています（現在%d件）", ErrCodeVoteCapExceeded, e.MaxVotes, e.CurrentCount)
}

// NewVideoNotFoundError は動画未検出エラーを生成する。
func NewVideoNotFoundError(videoID string) *APIError {
	return &APIError{
		Code:     ErrCodeVideoNotFound,
		Message:  fmt.Sprintf("指定された動画が見つかりません: %s", videoID),
		Category: "vote",
		Action:   "動画IDを確認してください。",
	}
}

// NewVideoNotVotableError は投票対象外の動画への投票エラーを生成する。
func NewVideoNotVotableError(videoID string) *APIError {
	return &APIError{
		Code:     ErrCodeVideoNotVotable,
		Message:  fmt.Sprintf("この動画は現在投票を受け付けていません: %s", videoID),
		Category: "vote",
		Action:   "公開中の動画に投票してください。",
	}
}

// NewStoreUnavailableError はストア接続不能エラーを生成する。
// リトライ回数を使い切った後にのみ返される。ゼロ件の結果と混同してはならない。
func NewStoreUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "データストアに接続できませんでした。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエスト形式エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewInvalidTokenError は認証トークン形式エラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "認証トークンの形式が不正です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewUpstreamUnavailableError は認証サービス到達不能エラーを生成する。
func NewUpstreamUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamUnavailable,
		Message:  "認証サービスに接続できませんでした。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewDuplicateVideoError は移行元IDが重複する動画の登録エラーを生成する。
func NewDuplicateVideoError(sourceID string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateVideo,
		Message:  fmt.Sprintf("同じ移行元IDの動画が既に登録されています: %s", sourceID),
		Category: "validation",
		Action:   "既存の動画を確認してください。",
	}
}

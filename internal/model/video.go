package model

import "time"

// VideoStatus は動画の処理状態を表す。
type VideoStatus string

const (
	// VideoStatusProcessing は取り込み処理中であることを示す。
	VideoStatusProcessing VideoStatus = "processing"
	// VideoStatusReady は公開可能（投票対象）であることを示す。
	VideoStatusReady VideoStatus = "ready"
	// VideoStatusError は取り込み失敗を示す。
	VideoStatusError VideoStatus = "error"
	// VideoStatusDeleted は論理削除済みを示す。
	VideoStatusDeleted VideoStatus = "deleted"
)

// Video は投票対象の動画を表す。
// SourceIDは移行元システムの識別子で、正規ID（ID）と同様に動画の参照に使える。
type Video struct {
	ID           string
	Title        string
	Description  string
	SourceID     string
	ThumbnailURL string
	Status       VideoStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsVotable は動画が投票対象として公開されているかを返す。
func (v *Video) IsVotable() bool {
	return v.Status == VideoStatusReady
}

package model

import "time"

// DefaultMaxVotes は1ユーザーが同時に保持できる投票数の上限。
const DefaultMaxVotes = 5

// Vote は1件の投票（voter, video の組）を表す。
// (VoterID, VideoID) の組につき最大1行のみ存在する。
// VideoTitleは表示用のスナップショットで、投票時点の動画タイトルを保持する。
type Vote struct {
	VoterID    string
	VideoID    string
	VideoTitle string
	CreatedAt  time.Time
}

// VoteRef は投票済み動画への軽量な参照。エラーレスポンスや一覧表示で使用する。
type VoteRef struct {
	VideoID    string `json:"id"`
	VideoTitle string `json:"title"`
}

// Package model はドメインモデルを定義する。
package model

import "time"

// Voter は投票権を持つユーザーを表す。
// IDは外部IDプロバイダ（Upstream Marketplace API）が発行する安定した識別子。
type Voter struct {
	ID          string
	DisplayName string
	Email       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// VoterDefaults は初回投票時にVoterレコードを自動作成する際の初期値。
// 未指定のフィールドはプレースホルダーが合成される。
type VoterDefaults struct {
	DisplayName string
	Email       string
}

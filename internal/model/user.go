// Package model はドメインモデルを定義する。
package model

import "time"

// User は管理画面を利用するスタッフを表す。
// emailをキーとしてログインのたびにUPSERTされる非正規化キャッシュ。
type User struct {
	ID          string
	Email       string
	Name        string
	LastLoginAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Identity はリクエストの背後にいる認証済みアクターを表す。
// セッショントークンに埋め込まれた後はトークンの有効期間中変更されない。
type Identity struct {
	ID    string
	Name  string
	Email string
}

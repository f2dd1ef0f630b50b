package model

import "time"

// Identity はポータルのユーザー検索フォームに送信する本人確認情報を表す。
// Birthdate はUTCのカレンダーフィールドに分解して送信される。
type Identity struct {
	FirstName string
	LastName  string
	Birthdate time.Time
	Email     string
	Phone     string
}

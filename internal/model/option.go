// Package model はドメインモデルを定義する。
package model

// SentinelOptionValue はポータルがプレースホルダ（「選択してください」）に
// 使用するoption値。パース時に除外され、OptionSetには決して含まれない。
const SentinelOptionValue = "-1"

// UnknownID はラベル逆引きに失敗した予約済み枠に割り当てるセンチネルID。
// 1件のパース不能な予約がセッション全体の解決を妨げないようにするための値。
const UnknownID = "unknown"

// OptionEntry はポータルのフィルタ選択肢1件（内部IDと表示ラベル）を表す。
type OptionEntry struct {
	ID    string
	Label string
}

// OptionSet は1つのフィルタ次元の選択肢リスト。
// 挿入順＝ポータルの描画順を保持する。IDはセット内で一意だが、
// ラベルの一意性は保証されない（曖昧一致は正常系の結果として扱う）。
type OptionSet []OptionEntry

// OptionCatalog はユーザー検索1回で得られる3つのフィルタ選択肢リスト。
// 常に3つ同時に置き換えられ、部分更新はされない。
type OptionCatalog struct {
	DateOptions            OptionSet
	AppointmentTypeOptions OptionSet
	TrainerOptions         OptionSet
}

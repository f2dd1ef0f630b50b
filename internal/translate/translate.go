// Package translate はフィルタ選択肢のラベルと内部IDの相互変換を提供する。
//
// ポータルは予約済み枠に表示ラベルしか載せない箇所があるため、
// ラベルからIDへの逆引きが必要になる。0件一致と複数件一致は
// どちらも失敗として呼び出し元に返し、呼び出し元がフォールバック方針
// （エラーにする・生の値を使う・センチネルIDを使う）を決める。
package translate

import (
	"strings"

	"github.com/k2on/ak-scheduler/internal/model"
)

// Match はラベル逆引きの結果種別を表す。
type Match int

const (
	// MatchFound はちょうど1件が一致したことを示す。
	MatchFound Match = iota
	// MatchAmbiguous は2件以上が一致したことを示す。
	// 先頭を黙って採用すると別の担当者・種別を予約してしまうため、
	// 複数一致は成功として扱わない。
	MatchAmbiguous
	// MatchNotFound は一致が1件も無かったことを示す。
	MatchNotFound
)

// String はMatchの文字列表現を返す。
func (m Match) String() string {
	switch m {
	case MatchFound:
		return "found"
	case MatchAmbiguous:
		return "ambiguous"
	case MatchNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// IDFromLabel はラベルからオプションIDを逆引きする。
// exact=false（既定）では大文字小文字を無視した部分一致、
// exact=trueでは大文字小文字を区別した完全一致で比較する。
// ちょうど1件が一致した場合のみMatchFoundとIDを返す。
func IDFromLabel(options model.OptionSet, label string, exact bool) (string, Match) {
	var (
		id    string
		count int
	)

	lower := strings.ToLower(label)
	for _, option := range options {
		var hit bool
		if exact {
			hit = option.Label == label
		} else {
			hit = strings.Contains(strings.ToLower(option.Label), lower)
		}
		if !hit {
			continue
		}
		count++
		if count > 1 {
			return "", MatchAmbiguous
		}
		id = option.ID
	}

	if count == 0 {
		return "", MatchNotFound
	}
	return id, MatchFound
}

// LabelFromID はオプションIDからラベルを引く。完全一致のみ。
// IDはOptionSet内で一意である前提のため、一致が1件でない場合は
// ok=falseを返す（重複IDはデータ整合性の問題であり正常系ではない）。
func LabelFromID(options model.OptionSet, id string) (string, bool) {
	var (
		label string
		count int
	)

	for _, option := range options {
		if option.ID != id {
			continue
		}
		count++
		if count > 1 {
			return "", false
		}
		label = option.Label
	}

	if count != 1 {
		return "", false
	}
	return label, true
}

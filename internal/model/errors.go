// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// 原因カテゴリと利用者向けの対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, session, portal, state
	Action   string // 利用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidValue  = "INVALID_VALUE"
	ErrCodeSessionError  = "SESSION_ERROR"
	ErrCodeNoResults     = "NO_RESULTS"
	ErrCodeStateError    = "STATE_ERROR"
	ErrCodeUpstreamError = "UPSTREAM_ERROR"
)

// NewInvalidValueError は不正な入力値エラーを生成する。
// valueName は値の名前、value は与えられた値、details は補足説明。
func NewInvalidValueError(valueName, value, details string) *APIError {
	msg := fmt.Sprintf("'%s' は %s として不正な値です", value, valueName)
	if details != "" {
		msg = fmt.Sprintf("%s: %s", msg, details)
	}
	return &APIError{
		Code:     ErrCodeInvalidValue,
		Message:  msg,
		Category: "validation",
		Action:   "入力値を確認してから再度お試しください。",
	}
}

// NewSessionError はセッション不備エラーを生成する。
// ブートストラップ応答にトークンが無い場合や、
// 前段ステップ未完了のまま操作した場合に使用する。
func NewSessionError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSessionError,
		Message:  fmt.Sprintf("セッションが確立されていません: %s", reason),
		Category: "session",
		Action:   "先にセッションを作成し、ユーザー検索を完了してください。",
	}
}

// NewNoResultsError は空き枠検索が0件だった場合のエラーを生成する。
func NewNoResultsError() *APIError {
	return &APIError{
		Code:     ErrCodeNoResults,
		Message:  "指定されたフィルタに一致する結果がありませんでした。",
		Category: "portal",
		Action:   "日付・種別・担当者のフィルタを変更して再度検索してください。",
	}
}

// NewStateError は予約ライフサイクル違反エラーを生成する。
// 予約済み枠のbook、未予約枠のcancel、ID不明のままのcancelなどに使用する。
func NewStateError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeStateError,
		Message:  fmt.Sprintf("予約状態が不正です: %s", reason),
		Category: "state",
		Action:   "予約の現在の状態を確認してから操作してください。",
	}
}

// NewUpstreamError はポータルが明示的に失敗を報告した場合のエラーを生成する。
// detail にはポータルが返したエラー文言（サニタイズ済み）を渡す。
func NewUpstreamError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamError,
		Message:  fmt.Sprintf("ポータルが操作の失敗を報告しました: %s", detail),
		Category: "portal",
		Action:   "条件を変更するか、しばらく待ってから再度お試しください。",
	}
}

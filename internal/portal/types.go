package portal

import (
	"time"

	"github.com/k2on/ak-scheduler/internal/markup"
	"github.com/k2on/ak-scheduler/internal/model"
)

// SessionTokens はブートストラップで回収するセッション確立用のトークン対。
type SessionTokens struct {
	SessionID string // #sessid
	LoginID   string // #login_pagerandval
}

// LookupRequest はユーザー検索フォームの送信内容。
// Phoneは整形済み（"(xxx) xxx-xxxx"）であること。
type LookupRequest struct {
	LocationID string
	SessionID  string
	LoginID    string
	FirstName  string
	LastName   string
	Birthdate  time.Time
	Email      string
	Phone      string
}

// LookupResult はユーザー検索応答から回収した状態。
// 予約済みエントリのID逆引きは呼び出し元（スケジューラ層）が行う。
type LookupResult struct {
	UserID  string
	Catalog *model.OptionCatalog
	Booked  []markup.BookedEntry
}

// TimeSlot は空き枠検索結果の個別時間枠。
type TimeSlot struct {
	Time24  string `json:"time_24"`
	Time12  string `json:"time_12"`
	Details string `json:"details"`
}

// TimesPage は空き枠検索の結果ページ。契約上は常にちょうど1ページ返る。
type TimesPage struct {
	AppointmentTypeID string     `json:"appointment_type_id"`
	Duration          string     `json:"duration"`
	Description       string     `json:"description"`
	AppointmentName   string     `json:"appointment_name"`
	TrainerName       string     `json:"trainer_name"`
	Date              string     `json:"date"`
	DateTime          string     `json:"datetime"`
	DateFormatted     string     `json:"date_formatted"`
	Times             []TimeSlot `json:"times"`
	AvailabilityID    *string    `json:"availability_id"`
	AppointmentID     string     `json:"appointment_id"`
	TrainerID         string     `json:"trainer_id"`
}

// BookRequest は予約ミューテーションの送信内容。
// ポータルのフォームではappointment_idが担当者、
// appointment_type_idが予約種別を指す。
type BookRequest struct {
	LocationID        string
	SessionID         string
	DateTime          time.Time
	AvailabilityID    string
	TrainerID         string
	AppointmentTypeID string
}

// bookResponse は予約ミューテーションの応答。
// successが0のとき失敗で、errorに理由が入る。
type bookResponse struct {
	Success int    `json:"success"`
	Error   string `json:"error"`
}

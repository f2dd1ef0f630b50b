// Package scheduler は予約セッションの状態機械を実装する。
//
// Schedulerが1ロケーション分のセッション（トークン対・ユーザーID・
// フィルタカタログ・予約済み一覧）を所有し、ポータル操作の順序制約
// （ブートストラップ → ユーザー検索 → 検索/予約/キャンセル）を強制する。
// 同時複数セッションはサポートしない。
package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/k2on/ak-scheduler/internal/markup"
	"github.com/k2on/ak-scheduler/internal/model"
	"github.com/k2on/ak-scheduler/internal/portal"
	"github.com/k2on/ak-scheduler/internal/translate"
)

// slotLayout は予約済みコンテナとスロット日時のパースに使うレイアウト。
const slotLayout = "2006-01-02 15:04"

// PortalClient はスケジューラが利用するポータル操作のインターフェース。
type PortalClient interface {
	FetchSessionTokens(ctx context.Context, locationID string) (*portal.SessionTokens, error)
	SubmitLookup(ctx context.Context, req portal.LookupRequest) (*portal.LookupResult, error)
	ListTimes(ctx context.Context, locationID, sessionID string, selection map[string]string) (*portal.TimesPage, error)
	BookAppointment(ctx context.Context, req portal.BookRequest) error
	CancelAppointment(ctx context.Context, locationID, sessionID, userID, appointmentID string) error
}

// BookingRecorder は予約・キャンセルのメトリクス記録インターフェース。
type BookingRecorder interface {
	RecordBooking()
	RecordCancellation()
}

// Scheduler は1ロケーション分の予約セッションを管理する。
// 並行アクセスには安全ではない。呼び出し元が直列化すること。
type Scheduler struct {
	portal     PortalClient
	logger     *slog.Logger
	metrics    BookingRecorder // nilの場合は記録しない
	locationID string

	sessionID string
	loginID   string
	userID    string

	identity *model.Identity
	catalog  *model.OptionCatalog
	booked   []*Appointment
	form     *Form

	// needsRefresh はセッション再確立後にユーザーデータの再取得が
	// 必要であることを示す。FormとBookedAppointmentsが参照する。
	needsRefresh bool
}

// New は新しいSchedulerを生成する。metricsはnil可。
func New(client PortalClient, locationID string, logger *slog.Logger, metrics BookingRecorder) *Scheduler {
	return &Scheduler{
		portal:     client,
		logger:     logger,
		metrics:    metrics,
		locationID: locationID,
	}
}

// LocationID は対象ロケーションのIDを返す。
func (s *Scheduler) LocationID() string { return s.locationID }

// UserID はユーザー検索で解決したユーザーIDを返す。未解決なら空。
func (s *Scheduler) UserID() string { return s.userID }

// Catalog は現在のフィルタカタログを返す。ユーザー検索前はnil。
func (s *Scheduler) Catalog() *model.OptionCatalog { return s.catalog }

// CreateSession はブートストラップを実行してセッショントークン対を確立する。
// 再実行するとトークンが置き換わり、カタログ・予約済み一覧・フォームは
// 破棄される（保存済みの本人確認情報は次回の遅延取得に引き継がれる）。
func (s *Scheduler) CreateSession(ctx context.Context) error {
	tokens, err := s.portal.FetchSessionTokens(ctx, s.locationID)
	if err != nil {
		return err
	}

	s.sessionID = tokens.SessionID
	s.loginID = tokens.LoginID
	s.userID = ""
	s.catalog = nil
	s.booked = nil
	s.form = nil
	s.needsRefresh = true

	s.logger.Info("セッションを確立しました",
		slog.String("location_id", s.locationID),
	)
	return nil
}

// RefreshUserData はユーザー検索を実行し、ユーザーID・フィルタカタログ・
// 予約済み一覧を丸ごと置き換える。カタログは3リスト同時に置換され、
// 部分更新はされない。渡された本人確認情報は保存され、
// セッション再確立後の遅延再取得に再利用される。
func (s *Scheduler) RefreshUserData(ctx context.Context, identity model.Identity) error {
	if s.sessionID == "" {
		return model.NewSessionError("ユーザー検索の前にセッションを作成してください")
	}

	phone, err := FormatPhone(identity.Phone)
	if err != nil {
		return err
	}

	result, err := s.portal.SubmitLookup(ctx, portal.LookupRequest{
		LocationID: s.locationID,
		SessionID:  s.sessionID,
		LoginID:    s.loginID,
		FirstName:  identity.FirstName,
		LastName:   identity.LastName,
		Birthdate:  identity.Birthdate,
		Email:      identity.Email,
		Phone:      phone,
	})
	if err != nil {
		return err
	}

	s.userID = result.UserID
	s.catalog = result.Catalog
	s.booked = s.buildBooked(result.Booked)
	s.form = newForm(s)
	s.identity = &identity
	s.needsRefresh = false

	s.logger.Info("ユーザーデータを更新しました",
		slog.String("user_id", s.userID),
		slog.Int("booked_count", len(s.booked)),
	)
	return nil
}

// Form は現在のフィルタフォームを返す。セッション再確立後など
// ユーザーデータが古い場合は、保存済みの本人確認情報で再取得してから返す。
// 本人確認情報が未保存のまま再取得が必要になった場合はINVALID_VALUE。
func (s *Scheduler) Form(ctx context.Context) (*Form, error) {
	if err := s.ensureFresh(ctx); err != nil {
		return nil, err
	}
	return s.form, nil
}

// BookedAppointments は予約済み一覧を返す。Formと同じ遅延再取得を行う。
func (s *Scheduler) BookedAppointments(ctx context.Context) ([]*Appointment, error) {
	if err := s.ensureFresh(ctx); err != nil {
		return nil, err
	}
	return s.booked, nil
}

// ensureFresh はユーザーデータが古い場合に保存済みの本人確認情報で
// 再取得する。
func (s *Scheduler) ensureFresh(ctx context.Context) error {
	if s.form != nil && !s.needsRefresh {
		return nil
	}
	if s.identity == nil {
		return model.NewInvalidValueError("identity", "nil",
			"本人確認情報が未設定のためユーザーデータを取得できません")
	}
	return s.RefreshUserData(ctx, *s.identity)
}

// buildBooked は予約済みコンテナの読み取り結果をAppointmentに変換する。
// 種別・担当者はラベル逆引きでIDに解決し、解決できない場合は
// センチネルIDを割り当てて警告を残す（1件の解決失敗で全体を
// 失敗させない）。日時のパース失敗も同様に警告+ゼロ値で続行する。
func (s *Scheduler) buildBooked(entries []markup.BookedEntry) []*Appointment {
	appointments := make([]*Appointment, 0, len(entries))
	for _, entry := range entries {
		appointments = append(appointments, &Appointment{
			scheduler:         s,
			id:                entry.ID,
			status:            StatusBooked,
			dateTime:          s.bookedDateTime(entry),
			trainerID:         s.resolveLabel(s.catalog.TrainerOptions, entry.TrainerName, "trainer"),
			appointmentTypeID: s.resolveLabel(s.catalog.AppointmentTypeOptions, entry.TypeName, "appointment_type"),
		})
	}
	return appointments
}

// resolveLabel は表示ラベルをオプションIDに逆引きする。
// ちょうど1件に解決できない場合はセンチネルIDを返す。
func (s *Scheduler) resolveLabel(options model.OptionSet, label, dimension string) string {
	id, match := translate.IDFromLabel(options, label, false)
	if match != translate.MatchFound {
		s.logger.Warn("予約済み枠のラベルをIDに解決できませんでした",
			slog.String("dimension", dimension),
			slog.String("label", label),
			slog.String("match", match.String()),
		)
		return model.UnknownID
	}
	return id
}

// bookedDateTime は予約済みコンテナの日付と時間帯（"HH:MM - HH:MM"）から
// 開始日時を復元する。パースできない場合はゼロ値を返す。
func (s *Scheduler) bookedDateTime(entry markup.BookedEntry) time.Time {
	startTime, _, _ := strings.Cut(entry.TimeRange, " - ")
	t, err := time.ParseInLocation(slotLayout, entry.Date+" "+strings.TrimSpace(startTime), time.UTC)
	if err != nil {
		s.logger.Warn("予約済み枠の日時をパースできませんでした",
			slog.String("appointment_id", entry.ID),
			slog.String("date", entry.Date),
			slog.String("time_range", entry.TimeRange),
		)
		return time.Time{}
	}
	return t
}

func (s *Scheduler) recordBooking() {
	if s.metrics != nil {
		s.metrics.RecordBooking()
	}
}

func (s *Scheduler) recordCancellation() {
	if s.metrics != nil {
		s.metrics.RecordCancellation()
	}
}

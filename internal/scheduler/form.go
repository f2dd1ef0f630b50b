package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/k2on/ak-scheduler/internal/model"
	"github.com/k2on/ak-scheduler/internal/translate"
)

// フィルタフォームのフィールドキー。ワイヤ上のパラメータ名と一致する。
const (
	FieldDate            = "date_filter"
	FieldAppointmentType = "appointment_type_filter"
	FieldTrainer         = "trainer_filter"
)

// Form は空き枠検索のフィルタフォームを表す。
// 3つの固定フィールドを持ち、それぞれカタログの1次元に対応する。
// ユーザー検索のたびに新しいFormに置き換わる。
type Form struct {
	scheduler *Scheduler
	selection map[string]string
}

func newForm(s *Scheduler) *Form {
	return &Form{
		scheduler: s,
		selection: make(map[string]string),
	}
}

// Selection は現在の選択内容のコピーを返す。
func (f *Form) Selection() map[string]string {
	selection := make(map[string]string, len(f.selection))
	for key, value := range f.selection {
		selection[key] = value
	}
	return selection
}

// Update はフィルタ選択を更新する。値は対応するカタログの
// ラベル逆引きを試み、ちょうど1件に解決できればIDに、
// できなければ与えられた値をそのまま採用する（ID直接指定を許容する）。
// 未知のフィールドキーが1つでも含まれる場合はINVALID_VALUEを返し、
// 既存の選択は一切変更しない。
func (f *Form) Update(changes map[string]string) error {
	for key := range changes {
		if _, err := f.optionsFor(key); err != nil {
			return err
		}
	}

	for key, value := range changes {
		options, _ := f.optionsFor(key)
		if id, match := translate.IDFromLabel(options, value, false); match == translate.MatchFound {
			f.selection[key] = id
			continue
		}
		f.selection[key] = value
	}
	return nil
}

// IDFor はフィールドのラベルをIDに逆引きする。
// ちょうど1件に解決できない場合はok=false。
func (f *Form) IDFor(field, label string) (string, bool, error) {
	options, err := f.optionsFor(field)
	if err != nil {
		return "", false, err
	}
	id, match := translate.IDFromLabel(options, label, false)
	return id, match == translate.MatchFound, nil
}

// LabelFor はフィールドのIDをラベルに引く。一致しない場合はok=false。
func (f *Form) LabelFor(field, id string) (string, bool, error) {
	options, err := f.optionsFor(field)
	if err != nil {
		return "", false, err
	}
	label, ok := translate.LabelFromID(options, id)
	return label, ok, nil
}

// optionsFor はフィールドキーに対応するカタログのOptionSetを返す。
func (f *Form) optionsFor(field string) (model.OptionSet, error) {
	catalog := f.scheduler.catalog
	if catalog == nil {
		return nil, model.NewStateError("フィルタカタログが未取得です")
	}

	switch field {
	case FieldDate:
		return catalog.DateOptions, nil
	case FieldAppointmentType:
		return catalog.AppointmentTypeOptions, nil
	case FieldTrainer:
		return catalog.TrainerOptions, nil
	default:
		return nil, model.NewInvalidValueError("filter field", field,
			"date_filter, appointment_type_filter, trainer_filter のいずれかを指定してください")
	}
}

// AppointmentTimes は現在の選択で空き枠検索を実行し、
// 予約可能なAppointmentのリストを返す。結果は保持されず、
// 呼び出しのたびにポータルへ問い合わせる。
// 日時をパースできないスロットは警告を残してスキップする。
func (f *Form) AppointmentTimes(ctx context.Context) ([]*Appointment, error) {
	s := f.scheduler
	if s.sessionID == "" {
		return nil, model.NewSessionError("空き枠検索にはセッションが必要です")
	}

	page, err := s.portal.ListTimes(ctx, s.locationID, s.sessionID, f.Selection())
	if err != nil {
		return nil, err
	}

	availabilityID := ""
	if page.AvailabilityID != nil {
		availabilityID = *page.AvailabilityID
	}

	appointments := make([]*Appointment, 0, len(page.Times))
	for _, slot := range page.Times {
		dateTime, err := time.ParseInLocation(slotLayout,
			f.selection[FieldDate]+" "+slot.Time24, time.UTC)
		if err != nil {
			s.logger.Warn("空き枠の日時をパースできませんでした",
				slog.String("date", f.selection[FieldDate]),
				slog.String("time_24", slot.Time24),
			)
			continue
		}

		appointments = append(appointments, &Appointment{
			scheduler:         s,
			id:                appointmentIDFromDetails(slot.Details),
			status:            StatusAvailable,
			dateTime:          dateTime,
			availabilityID:    availabilityID,
			trainerID:         f.selection[FieldTrainer],
			appointmentTypeID: f.selection[FieldAppointmentType],
		})
	}

	return appointments, nil
}

// appointmentIDFromDetails はスロットのdetailsフィールド
// （"|"区切り、先頭セグメントがID）から予約IDを取り出す。
func appointmentIDFromDetails(details string) string {
	id, _, _ := strings.Cut(details, "|")
	return strings.TrimSpace(id)
}

package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/k2on/ak-scheduler/internal/markup"
	"github.com/k2on/ak-scheduler/internal/model"
	"github.com/k2on/ak-scheduler/internal/portal"
)

// fakePortal はPortalClientのテスト用実装。
// 呼び出し内容を記録し、設定された応答を返す。
type fakePortal struct {
	tokens    *portal.SessionTokens
	tokensErr error

	lookup      *portal.LookupResult
	lookupErr   error
	lookupCalls int
	lastLookup  portal.LookupRequest

	page          *portal.TimesPage
	listErr       error
	lastSelection map[string]string

	bookErr  error
	lastBook portal.BookRequest

	cancelErr   error
	cancelCalls int
	lastCancel  string
}

func (f *fakePortal) FetchSessionTokens(_ context.Context, _ string) (*portal.SessionTokens, error) {
	if f.tokensErr != nil {
		return nil, f.tokensErr
	}
	return f.tokens, nil
}

func (f *fakePortal) SubmitLookup(_ context.Context, req portal.LookupRequest) (*portal.LookupResult, error) {
	f.lookupCalls++
	f.lastLookup = req
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.lookup, nil
}

func (f *fakePortal) ListTimes(_ context.Context, _, _ string, selection map[string]string) (*portal.TimesPage, error) {
	f.lastSelection = selection
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.page, nil
}

func (f *fakePortal) BookAppointment(_ context.Context, req portal.BookRequest) error {
	f.lastBook = req
	return f.bookErr
}

func (f *fakePortal) CancelAppointment(_ context.Context, _, _, _, appointmentID string) error {
	f.cancelCalls++
	f.lastCancel = appointmentID
	return f.cancelErr
}

// fakeRecorder はBookingRecorderのテスト用実装。
type fakeRecorder struct {
	bookings      int
	cancellations int
}

func (f *fakeRecorder) RecordBooking()      { f.bookings++ }
func (f *fakeRecorder) RecordCancellation() { f.cancellations++ }

func testCatalog() *model.OptionCatalog {
	return &model.OptionCatalog{
		DateOptions: model.OptionSet{
			{ID: "2026-09-02", Label: "September 2"},
		},
		AppointmentTypeOptions: model.OptionSet{
			{ID: "10", Label: "Personal Training"},
		},
		TrainerOptions: model.OptionSet{
			{ID: "t-1", Label: "Alice Smith"},
			{ID: "t-2", Label: "Bob Jones"},
		},
	}
}

func newFakePortal() *fakePortal {
	return &fakePortal{
		tokens: &portal.SessionTokens{SessionID: "S1", LoginID: "L1"},
		lookup: &portal.LookupResult{
			UserID:  "u-42",
			Catalog: testCatalog(),
		},
	}
}

func testIdentity() model.Identity {
	return model.Identity{
		FirstName: "Jane",
		LastName:  "Doe",
		Birthdate: time.Date(1990, 2, 3, 0, 0, 0, 0, time.UTC),
		Email:     "jane@example.com",
		Phone:     "5551234567",
	}
}

func newTestScheduler(fake *fakePortal, buf *bytes.Buffer) *Scheduler {
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	return New(fake, "123", logger, nil)
}

// readyScheduler はセッション確立とユーザー検索が完了した状態の
// Schedulerを返すヘルパー。
func readyScheduler(t *testing.T, fake *fakePortal, buf *bytes.Buffer) *Scheduler {
	t.Helper()

	s := newTestScheduler(fake, buf)
	if err := s.CreateSession(context.Background()); err != nil {
		t.Fatalf("CreateSession がエラーを返した: %v", err)
	}
	if err := s.RefreshUserData(context.Background(), testIdentity()); err != nil {
		t.Fatalf("RefreshUserData がエラーを返した: %v", err)
	}
	return s
}

// TestFormatPhone は電話番号整形の各入力パターンを検証する。
func TestFormatPhone(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "10桁の数字は整形される", input: "5551234567", want: "(555) 123-4567"},
		{name: "整形済みはそのまま", input: "(555) 123-4567", want: "(555) 123-4567"},
		{name: "桁数不足はエラー", input: "555123", wantErr: true},
		{name: "数字以外を含むとエラー", input: "555-123-456", wantErr: true},
		{name: "空文字はエラー", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatPhone(tt.input)
			if tt.wantErr {
				var apiErr *model.APIError
				if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidValue {
					t.Errorf("FormatPhone(%q) error = %v, want INVALID_VALUE", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FormatPhone(%q) がエラーを返した: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("FormatPhone(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestFormatPhone_Idempotent は整形結果を再入力しても変化しないことを検証する。
func TestFormatPhone_Idempotent(t *testing.T) {
	first, err := FormatPhone("5551234567")
	if err != nil {
		t.Fatalf("FormatPhone がエラーを返した: %v", err)
	}
	second, err := FormatPhone(first)
	if err != nil {
		t.Fatalf("2回目のFormatPhone がエラーを返した: %v", err)
	}
	if first != second {
		t.Errorf("FormatPhone は冪等であるべき: %q != %q", first, second)
	}
}

// TestRefreshUserData_BeforeSession はセッション未確立での
// ユーザー検索がSESSION_ERRORになることを検証する。
func TestRefreshUserData_BeforeSession(t *testing.T) {
	var buf bytes.Buffer
	s := newTestScheduler(newFakePortal(), &buf)

	err := s.RefreshUserData(context.Background(), testIdentity())

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeSessionError {
		t.Errorf("error = %v, want SESSION_ERROR", err)
	}
}

// TestRefreshUserData_FormatsPhone は電話番号が整形されてから
// 送信されることを検証する。
func TestRefreshUserData_FormatsPhone(t *testing.T) {
	var buf bytes.Buffer
	fake := newFakePortal()
	readyScheduler(t, fake, &buf)

	if fake.lastLookup.Phone != "(555) 123-4567" {
		t.Errorf("送信されたPhone = %q, want %q", fake.lastLookup.Phone, "(555) 123-4567")
	}
}

// TestRefreshUserData_ResolvesBookedLabels は予約済み枠のラベルが
// IDに逆引きされることを検証する。
func TestRefreshUserData_ResolvesBookedLabels(t *testing.T) {
	var buf bytes.Buffer
	fake := newFakePortal()
	fake.lookup.Booked = []markup.BookedEntry{
		{
			ID:          "4521",
			Date:        "2026-09-05",
			TimeRange:   "10:00 - 11:00",
			TypeName:    "Personal Training",
			TrainerName: "Alice Smith",
		},
	}
	s := readyScheduler(t, fake, &buf)

	booked, err := s.BookedAppointments(context.Background())
	if err != nil {
		t.Fatalf("BookedAppointments がエラーを返した: %v", err)
	}
	if len(booked) != 1 {
		t.Fatalf("booked = %d, want 1", len(booked))
	}

	a := booked[0]
	if a.ID() != "4521" {
		t.Errorf("ID = %q, want 4521", a.ID())
	}
	if a.Status() != StatusBooked {
		t.Errorf("Status = %v, want booked", a.Status())
	}
	if a.TrainerID() != "t-1" {
		t.Errorf("TrainerID = %q, want t-1", a.TrainerID())
	}
	if a.AppointmentTypeID() != "10" {
		t.Errorf("AppointmentTypeID = %q, want 10", a.AppointmentTypeID())
	}

	want := time.Date(2026, 9, 5, 10, 0, 0, 0, time.UTC)
	if !a.DateTime().Equal(want) {
		t.Errorf("DateTime = %v, want %v", a.DateTime(), want)
	}
}

// TestRefreshUserData_UnresolvableLabel は逆引きできないラベルが
// センチネルIDになり、全体は失敗しないことを検証する。
func TestRefreshUserData_UnresolvableLabel(t *testing.T) {
	var buf bytes.Buffer
	fake := newFakePortal()
	fake.lookup.Booked = []markup.BookedEntry{
		{
			ID:          "9001",
			Date:        "2026-09-05",
			TimeRange:   "10:00 - 11:00",
			TypeName:    "Personal Training",
			TrainerName: "Charlie Unknown", // カタログに存在しない
		},
	}
	s := readyScheduler(t, fake, &buf)

	booked, err := s.BookedAppointments(context.Background())
	if err != nil {
		t.Fatalf("BookedAppointments がエラーを返した: %v", err)
	}
	if booked[0].TrainerID() != model.UnknownID {
		t.Errorf("TrainerID = %q, want %q", booked[0].TrainerID(), model.UnknownID)
	}
	if !bytes.Contains(buf.Bytes(), []byte("WARN")) {
		t.Error("解決失敗時は警告ログが出力されるべき")
	}
}

// TestCreateSession_ClearsState は再ブートストラップで
// カタログ・予約済み一覧・フォームが破棄されることを検証する。
func TestCreateSession_ClearsState(t *testing.T) {
	var buf bytes.Buffer
	fake := newFakePortal()
	s := readyScheduler(t, fake, &buf)

	if err := s.CreateSession(context.Background()); err != nil {
		t.Fatalf("再ブートストラップがエラーを返した: %v", err)
	}

	if s.Catalog() != nil {
		t.Error("再ブートストラップ後はカタログが破棄されるべき")
	}
	if s.UserID() != "" {
		t.Error("再ブートストラップ後はユーザーIDが破棄されるべき")
	}
}

// TestForm_LazyRefresh はセッション再確立後のForm取得が
// 保存済みの本人確認情報で自動的に再検索することを検証する。
func TestForm_LazyRefresh(t *testing.T) {
	var buf bytes.Buffer
	fake := newFakePortal()
	s := readyScheduler(t, fake, &buf)

	if err := s.CreateSession(context.Background()); err != nil {
		t.Fatalf("再ブートストラップがエラーを返した: %v", err)
	}

	before := fake.lookupCalls
	form, err := s.Form(context.Background())
	if err != nil {
		t.Fatalf("Form がエラーを返した: %v", err)
	}
	if form == nil {
		t.Fatal("Form はnilであってはならない")
	}
	if fake.lookupCalls != before+1 {
		t.Errorf("lookupCalls = %d, want %d（遅延再取得が走るべき）", fake.lookupCalls, before+1)
	}

	// 2回目はキャッシュされたフォームを返す
	if _, err := s.Form(context.Background()); err != nil {
		t.Fatalf("2回目のForm がエラーを返した: %v", err)
	}
	if fake.lookupCalls != before+1 {
		t.Errorf("lookupCalls = %d, want %d（再取得は1回だけであるべき）", fake.lookupCalls, before+1)
	}
}

// TestForm_WithoutIdentity は本人確認情報が未保存のままの
// Form取得がINVALID_VALUEになることを検証する。
func TestForm_WithoutIdentity(t *testing.T) {
	var buf bytes.Buffer
	s := newTestScheduler(newFakePortal(), &buf)
	if err := s.CreateSession(context.Background()); err != nil {
		t.Fatalf("CreateSession がエラーを返した: %v", err)
	}

	_, err := s.Form(context.Background())

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidValue {
		t.Errorf("error = %v, want INVALID_VALUE", err)
	}
}

// TestFormUpdate_ResolvesLabels はラベルがIDに解決され、
// 解決できない値はそのまま採用されることを検証する。
func TestFormUpdate_ResolvesLabels(t *testing.T) {
	var buf bytes.Buffer
	s := readyScheduler(t, newFakePortal(), &buf)
	form, err := s.Form(context.Background())
	if err != nil {
		t.Fatalf("Form がエラーを返した: %v", err)
	}

	err = form.Update(map[string]string{
		FieldDate:            "2026-09-02", // ID直接指定
		FieldAppointmentType: "personal",   // 部分一致ラベル
		FieldTrainer:         "Alice",      // 部分一致ラベル
	})
	if err != nil {
		t.Fatalf("Update がエラーを返した: %v", err)
	}

	selection := form.Selection()
	if selection[FieldDate] != "2026-09-02" {
		t.Errorf("date_filter = %q, want 2026-09-02", selection[FieldDate])
	}
	if selection[FieldAppointmentType] != "10" {
		t.Errorf("appointment_type_filter = %q, want 10", selection[FieldAppointmentType])
	}
	if selection[FieldTrainer] != "t-1" {
		t.Errorf("trainer_filter = %q, want t-1", selection[FieldTrainer])
	}
}

// TestFormUpdate_AmbiguousLabelKeptRaw は複数一致するラベルが
// 解決されず生の値のまま採用されることを検証する。
func TestFormUpdate_AmbiguousLabelKeptRaw(t *testing.T) {
	var buf bytes.Buffer
	s := readyScheduler(t, newFakePortal(), &buf)
	form, _ := s.Form(context.Background())

	// "s" は "Alice Smith" と "Bob Jones" の両方に部分一致する
	if err := form.Update(map[string]string{FieldTrainer: "s"}); err != nil {
		t.Fatalf("Update がエラーを返した: %v", err)
	}
	if got := form.Selection()[FieldTrainer]; got != "s" {
		t.Errorf("trainer_filter = %q, want %q（曖昧一致は生の値を保持）", got, "s")
	}
}

// TestFormUpdate_UnknownKey は未知のキーがINVALID_VALUEになり、
// 既存の選択が一切変更されないことを検証する。
func TestFormUpdate_UnknownKey(t *testing.T) {
	var buf bytes.Buffer
	s := readyScheduler(t, newFakePortal(), &buf)
	form, _ := s.Form(context.Background())

	if err := form.Update(map[string]string{FieldTrainer: "Alice"}); err != nil {
		t.Fatalf("Update がエラーを返した: %v", err)
	}

	err := form.Update(map[string]string{
		FieldDate:       "2026-09-02",
		"unknown_field": "x",
	})

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidValue {
		t.Fatalf("error = %v, want INVALID_VALUE", err)
	}

	selection := form.Selection()
	if _, ok := selection[FieldDate]; ok {
		t.Error("失敗したUpdateは既存の選択を変更してはならない")
	}
	if selection[FieldTrainer] != "t-1" {
		t.Errorf("trainer_filter = %q, want t-1（変更されてはならない）", selection[FieldTrainer])
	}
}

// TestAppointmentTimes_BuildsAppointments は空き枠検索結果から
// Appointmentが構築されることを検証する。
func TestAppointmentTimes_BuildsAppointments(t *testing.T) {
	var buf bytes.Buffer
	fake := newFakePortal()
	availabilityID := "av-77"
	fake.page = &portal.TimesPage{
		AvailabilityID: &availabilityID,
		Times: []portal.TimeSlot{
			{Time24: "10:00", Time12: "10:00 AM", Details: "9001|extra"},
			{Time24: "bogus", Time12: "?", Details: ""}, // パース不能はスキップ
			{Time24: "11:30", Time12: "11:30 AM", Details: ""},
		},
	}
	s := readyScheduler(t, fake, &buf)
	form, _ := s.Form(context.Background())
	if err := form.Update(map[string]string{
		FieldDate:            "2026-09-02",
		FieldAppointmentType: "Personal Training",
		FieldTrainer:         "Alice Smith",
	}); err != nil {
		t.Fatalf("Update がエラーを返した: %v", err)
	}

	appointments, err := form.AppointmentTimes(context.Background())
	if err != nil {
		t.Fatalf("AppointmentTimes がエラーを返した: %v", err)
	}
	if len(appointments) != 2 {
		t.Fatalf("appointments = %d, want 2（パース不能スロットはスキップ）", len(appointments))
	}

	a := appointments[0]
	if a.Status() != StatusAvailable {
		t.Errorf("Status = %v, want available", a.Status())
	}
	if a.ID() != "9001" {
		t.Errorf("ID = %q, want 9001", a.ID())
	}
	want := time.Date(2026, 9, 2, 10, 0, 0, 0, time.UTC)
	if !a.DateTime().Equal(want) {
		t.Errorf("DateTime = %v, want %v", a.DateTime(), want)
	}
	if a.TrainerID() != "t-1" {
		t.Errorf("TrainerID = %q, want t-1", a.TrainerID())
	}
	if a.TrainerName() != "Alice Smith" {
		t.Errorf("TrainerName = %q, want Alice Smith", a.TrainerName())
	}

	// 送信された検索パラメータの確認
	if fake.lastSelection[FieldDate] != "2026-09-02" {
		t.Errorf("送信されたdate_filter = %q, want 2026-09-02", fake.lastSelection[FieldDate])
	}
	if !bytes.Contains(buf.Bytes(), []byte("WARN")) {
		t.Error("パース不能スロットのスキップ時は警告ログが出力されるべき")
	}
}

// TestBook_Transitions は予約成功でBookedに遷移し、
// メトリクスが記録されることを検証する。
func TestBook_Transitions(t *testing.T) {
	var buf bytes.Buffer
	fake := newFakePortal()
	recorder := &fakeRecorder{}
	s := readyScheduler(t, fake, &buf)
	s.metrics = recorder

	a := &Appointment{
		scheduler:         s,
		status:            StatusAvailable,
		dateTime:          time.Date(2026, 9, 2, 10, 0, 0, 0, time.UTC),
		availabilityID:    "av-77",
		trainerID:         "t-1",
		appointmentTypeID: "10",
	}

	if err := a.Book(context.Background()); err != nil {
		t.Fatalf("Book がエラーを返した: %v", err)
	}
	if a.Status() != StatusBooked {
		t.Errorf("Status = %v, want booked", a.Status())
	}
	if recorder.bookings != 1 {
		t.Errorf("bookings = %d, want 1", recorder.bookings)
	}
	if fake.lastBook.TrainerID != "t-1" || fake.lastBook.AppointmentTypeID != "10" {
		t.Errorf("送信されたBookRequest = %+v", fake.lastBook)
	}
}

// TestBook_AlreadyBooked は予約済み枠のBookがSTATE_ERRORになることを検証する。
func TestBook_AlreadyBooked(t *testing.T) {
	var buf bytes.Buffer
	s := readyScheduler(t, newFakePortal(), &buf)

	a := &Appointment{scheduler: s, status: StatusBooked}
	err := a.Book(context.Background())

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeStateError {
		t.Errorf("error = %v, want STATE_ERROR", err)
	}
}

// TestBook_PortalFailure はポータルが失敗を報告した場合に
// 状態がAvailableのまま保たれることを検証する。
func TestBook_PortalFailure(t *testing.T) {
	var buf bytes.Buffer
	fake := newFakePortal()
	fake.bookErr = model.NewUpstreamError("slot taken")
	s := readyScheduler(t, fake, &buf)

	a := &Appointment{scheduler: s, status: StatusAvailable}
	err := a.Book(context.Background())

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUpstreamError {
		t.Errorf("error = %v, want UPSTREAM_ERROR", err)
	}
	if a.Status() != StatusAvailable {
		t.Errorf("失敗した予約の後もStatusはavailableであるべき: %v", a.Status())
	}
}

// TestCancel_Transitions はキャンセル成功でAvailableに遷移することを検証する。
func TestCancel_Transitions(t *testing.T) {
	var buf bytes.Buffer
	fake := newFakePortal()
	recorder := &fakeRecorder{}
	s := readyScheduler(t, fake, &buf)
	s.metrics = recorder

	a := &Appointment{scheduler: s, id: "4521", status: StatusBooked}

	if err := a.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel がエラーを返した: %v", err)
	}
	if a.Status() != StatusAvailable {
		t.Errorf("Status = %v, want available", a.Status())
	}
	if recorder.cancellations != 1 {
		t.Errorf("cancellations = %d, want 1", recorder.cancellations)
	}
	if fake.lastCancel != "4521" {
		t.Errorf("送信されたapptid = %q, want 4521", fake.lastCancel)
	}
}

// TestCancel_InvalidStates はキャンセルの前提条件違反を検証する。
func TestCancel_InvalidStates(t *testing.T) {
	var buf bytes.Buffer
	s := readyScheduler(t, newFakePortal(), &buf)

	tests := []struct {
		name string
		appt *Appointment
	}{
		{name: "空き枠はキャンセル不可", appt: &Appointment{scheduler: s, id: "4521", status: StatusAvailable}},
		{name: "ID不明はキャンセル不可", appt: &Appointment{scheduler: s, id: model.UnknownID, status: StatusBooked}},
		{name: "ID空はキャンセル不可", appt: &Appointment{scheduler: s, id: "", status: StatusBooked}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.appt.Cancel(context.Background())
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeStateError {
				t.Errorf("error = %v, want STATE_ERROR", err)
			}
		})
	}
}

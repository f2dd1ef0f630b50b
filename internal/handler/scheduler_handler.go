// Package handler は予約操作のHTTP APIを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/k2on/ak-scheduler/internal/middleware"
	"github.com/k2on/ak-scheduler/internal/model"
	"github.com/k2on/ak-scheduler/internal/scheduler"
)

// birthdateLayout はAPIリクエストの生年月日フィールドの形式。
const birthdateLayout = "2006-01-02"

// SchedulerHandler は予約セッションのHTTPハンドラー。
// Schedulerは並行アクセスに安全ではないため、全操作をミューテックスで
// 直列化する。同時に扱えるセッションは1つ。
type SchedulerHandler struct {
	mu        sync.Mutex
	scheduler *scheduler.Scheduler
	logger    *slog.Logger

	// lastSearch は直近の空き枠検索の結果。bookはここからインデックスで
	// 枠を選ぶ。新しい検索のたびに丸ごと置き換わる。
	lastSearch []*scheduler.Appointment
}

// NewSchedulerHandler はSchedulerHandlerを生成する。
func NewSchedulerHandler(s *scheduler.Scheduler, logger *slog.Logger) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler: s,
		logger:    logger,
	}
}

// lookupRequest はPOST /api/lookup のリクエストボディ。
type lookupRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Birthdate string `json:"birthdate"` // 2006-01-02 形式
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// optionResponse はフィルタ選択肢1件のレスポンス表現。
type optionResponse struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// filtersResponse はGET/PUT /api/filters のレスポンス。
type filtersResponse struct {
	DateOptions            []optionResponse  `json:"date_options"`
	AppointmentTypeOptions []optionResponse  `json:"appointment_type_options"`
	TrainerOptions         []optionResponse  `json:"trainer_options"`
	Selection              map[string]string `json:"selection"`
}

// appointmentResponse は予約枠1件のレスポンス表現。
type appointmentResponse struct {
	ID                  string `json:"id,omitempty"`
	Status              string `json:"status"`
	DateTime            string `json:"datetime"`
	TrainerID           string `json:"trainer_id"`
	TrainerName         string `json:"trainer_name"`
	AppointmentTypeID   string `json:"appointment_type_id"`
	AppointmentTypeName string `json:"appointment_type_name"`
}

// slotResponse は検索結果の空き枠1件。bookで使うインデックスを含む。
type slotResponse struct {
	Index int `json:"index"`
	appointmentResponse
}

// bookRequest はPOST /api/appointments/book のリクエストボディ。
type bookRequest struct {
	SlotIndex int `json:"slot_index"`
}

// cancelRequest はPOST /api/appointments/cancel のリクエストボディ。
type cancelRequest struct {
	AppointmentID string `json:"appointment_id"`
}

// CreateSession はセッションを確立する。
// POST /api/session
func (h *SchedulerHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.scheduler.CreateSession(r.Context()); err != nil {
		h.handleError(w, err)
		return
	}

	// 古い検索結果は新しいセッションでは使えない
	h.lastSearch = nil

	writeJSONResponse(w, http.StatusCreated, map[string]string{
		"location_id": h.scheduler.LocationID(),
	})
}

// Lookup はユーザー検索を実行し、カタログと予約済み一覧を更新する。
// POST /api/lookup
func (h *SchedulerHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, model.NewInvalidValueError("request body", "", "JSONのパースに失敗しました"))
		return
	}

	birthdate, err := time.ParseInLocation(birthdateLayout, req.Birthdate, time.UTC)
	if err != nil {
		h.handleError(w, model.NewInvalidValueError("birthdate", req.Birthdate,
			"2006-01-02 形式で指定してください"))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	err = h.scheduler.RefreshUserData(r.Context(), model.Identity{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Birthdate: birthdate,
		Email:     req.Email,
		Phone:     req.Phone,
	})
	if err != nil {
		h.handleError(w, err)
		return
	}

	booked, err := h.scheduler.BookedAppointments(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"user_id":      h.scheduler.UserID(),
		"booked_count": len(booked),
	})
}

// GetFilters は現在のフィルタカタログと選択内容を返す。
// GET /api/filters
func (h *SchedulerHandler) GetFilters(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	form, err := h.scheduler.Form(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, h.buildFiltersResponse(form))
}

// UpdateFilters はフィルタ選択を更新する。
// PUT /api/filters
func (h *SchedulerHandler) UpdateFilters(w http.ResponseWriter, r *http.Request) {
	var changes map[string]string
	if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
		h.handleError(w, model.NewInvalidValueError("request body", "", "JSONのパースに失敗しました"))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	form, err := h.scheduler.Form(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}

	if err := form.Update(changes); err != nil {
		h.handleError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, h.buildFiltersResponse(form))
}

// ListBooked は予約済み一覧を返す。
// GET /api/appointments
func (h *SchedulerHandler) ListBooked(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	booked, err := h.scheduler.BookedAppointments(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}

	appointments := make([]appointmentResponse, len(booked))
	for i, a := range booked {
		appointments[i] = toAppointmentResponse(a)
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"appointments": appointments,
	})
}

// Search は現在のフィルタ選択で空き枠検索を実行する。
// POST /api/search
func (h *SchedulerHandler) Search(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	form, err := h.scheduler.Form(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}

	appointments, err := form.AppointmentTimes(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}

	h.lastSearch = appointments

	slots := make([]slotResponse, len(appointments))
	for i, a := range appointments {
		slots[i] = slotResponse{
			Index:               i,
			appointmentResponse: toAppointmentResponse(a),
		}
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"slots": slots,
	})
}

// Book は直近の検索結果からインデックスで選んだ枠を予約する。
// POST /api/appointments/book
func (h *SchedulerHandler) Book(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, model.NewInvalidValueError("request body", "", "JSONのパースに失敗しました"))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if req.SlotIndex < 0 || req.SlotIndex >= len(h.lastSearch) {
		h.handleError(w, model.NewInvalidValueError("slot_index", "",
			"直近の検索結果に存在しないインデックスです"))
		return
	}

	appt := h.lastSearch[req.SlotIndex]
	if err := appt.Book(r.Context()); err != nil {
		h.handleError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toAppointmentResponse(appt))
}

// Cancel は予約済み一覧から予約IDで選んだ枠をキャンセルする。
// POST /api/appointments/cancel
func (h *SchedulerHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, model.NewInvalidValueError("request body", "", "JSONのパースに失敗しました"))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	booked, err := h.scheduler.BookedAppointments(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}

	var target *scheduler.Appointment
	for _, a := range booked {
		if a.ID() == req.AppointmentID {
			target = a
			break
		}
	}
	if target == nil {
		h.handleError(w, model.NewInvalidValueError("appointment_id", req.AppointmentID,
			"予約済み一覧に存在しないIDです"))
		return
	}

	if err := target.Cancel(r.Context()); err != nil {
		h.handleError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toAppointmentResponse(target))
}

// buildFiltersResponse はフォームの現在状態からレスポンスを構築する。
func (h *SchedulerHandler) buildFiltersResponse(form *scheduler.Form) filtersResponse {
	catalog := h.scheduler.Catalog()
	return filtersResponse{
		DateOptions:            toOptionResponses(catalog.DateOptions),
		AppointmentTypeOptions: toOptionResponses(catalog.AppointmentTypeOptions),
		TrainerOptions:         toOptionResponses(catalog.TrainerOptions),
		Selection:              form.Selection(),
	}
}

func toOptionResponses(options model.OptionSet) []optionResponse {
	responses := make([]optionResponse, len(options))
	for i, option := range options {
		responses[i] = optionResponse{ID: option.ID, Label: option.Label}
	}
	return responses
}

func toAppointmentResponse(a *scheduler.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:                  a.ID(),
		Status:              a.Status().String(),
		DateTime:            a.DateTime().UTC().Format(time.RFC3339),
		TrainerID:           a.TrainerID(),
		TrainerName:         a.TrainerName(),
		AppointmentTypeID:   a.AppointmentTypeID(),
		AppointmentTypeName: a.AppointmentTypeName(),
	}
}

// writeJSONResponse はJSONレスポンスを書き込む。
func writeJSONResponse(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// handleError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func (h *SchedulerHandler) handleError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	h.logger.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidValue:
		return http.StatusBadRequest
	case model.ErrCodeSessionError, model.ErrCodeStateError:
		return http.StatusConflict
	case model.ErrCodeNoResults:
		return http.StatusNotFound
	case model.ErrCodeUpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

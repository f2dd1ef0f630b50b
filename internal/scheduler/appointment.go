package scheduler

import (
	"context"
	"time"

	"github.com/k2on/ak-scheduler/internal/model"
	"github.com/k2on/ak-scheduler/internal/portal"
	"github.com/k2on/ak-scheduler/internal/translate"
)

// Status は予約枠の状態を表す。
type Status int

const (
	// StatusAvailable は空き枠（予約可能）であることを示す。
	StatusAvailable Status = iota
	// StatusBooked は予約済みであることを示す。
	StatusBooked
)

// String はStatusの文字列表現を返す。
func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusBooked:
		return "booked"
	default:
		return "unknown"
	}
}

// Appointment は1つの予約枠を表す。Available / Booked の2状態を持ち、
// BookとCancelが状態を遷移させる。遷移に失敗した場合、状態は変化しない。
type Appointment struct {
	scheduler *Scheduler

	// id はポータル上の予約ID。空き枠検索由来の枠や、
	// ラベル逆引きに失敗した予約済み枠ではUnknownIDまたは空になる。
	id                string
	status            Status
	dateTime          time.Time
	availabilityID    string
	trainerID         string
	appointmentTypeID string
}

// ID はポータル上の予約IDを返す。未解決の場合は空またはUnknownID。
func (a *Appointment) ID() string { return a.id }

// Status は現在の状態を返す。
func (a *Appointment) Status() Status { return a.status }

// DateTime は枠の開始日時（UTC）を返す。
func (a *Appointment) DateTime() time.Time { return a.dateTime }

// TrainerID は担当者の内部IDを返す。
func (a *Appointment) TrainerID() string { return a.trainerID }

// AppointmentTypeID は予約種別の内部IDを返す。
func (a *Appointment) AppointmentTypeID() string { return a.appointmentTypeID }

// TrainerName は担当者の表示名を返す。カタログで解決できない場合はIDを返す。
func (a *Appointment) TrainerName() string {
	if catalog := a.scheduler.catalog; catalog != nil {
		if label, ok := translate.LabelFromID(catalog.TrainerOptions, a.trainerID); ok {
			return label
		}
	}
	return a.trainerID
}

// AppointmentTypeName は予約種別の表示名を返す。
// カタログで解決できない場合はIDを返す。
func (a *Appointment) AppointmentTypeName() string {
	if catalog := a.scheduler.catalog; catalog != nil {
		if label, ok := translate.LabelFromID(catalog.AppointmentTypeOptions, a.appointmentTypeID); ok {
			return label
		}
	}
	return a.appointmentTypeID
}

// Book はこの枠を予約する。Available状態でのみ実行でき、
// それ以外はSTATE_ERROR。成功するとBookedに遷移する。
// ポータルが失敗を報告した場合（UPSTREAM_ERROR）、状態はAvailableのまま。
func (a *Appointment) Book(ctx context.Context) error {
	if a.status != StatusAvailable {
		return model.NewStateError("予約済みの枠は予約できません")
	}
	if a.scheduler.sessionID == "" {
		return model.NewSessionError("予約にはセッションが必要です")
	}

	err := a.scheduler.portal.BookAppointment(ctx, portal.BookRequest{
		LocationID:        a.scheduler.locationID,
		SessionID:         a.scheduler.sessionID,
		DateTime:          a.dateTime,
		AvailabilityID:    a.availabilityID,
		TrainerID:         a.trainerID,
		AppointmentTypeID: a.appointmentTypeID,
	})
	if err != nil {
		return err
	}

	a.status = StatusBooked
	a.scheduler.recordBooking()
	return nil
}

// Cancel はこの枠の予約を取り消す。Booked状態かつポータル上の予約IDが
// 判明している場合のみ実行でき、それ以外はSTATE_ERROR。
// 成功するとAvailableに遷移する。
func (a *Appointment) Cancel(ctx context.Context) error {
	if a.status != StatusBooked {
		return model.NewStateError("空き枠はキャンセルできません")
	}
	if a.id == "" || a.id == model.UnknownID {
		return model.NewStateError("予約IDが不明なためキャンセルできません")
	}
	if a.scheduler.sessionID == "" {
		return model.NewSessionError("キャンセルにはセッションが必要です")
	}
	if a.scheduler.userID == "" {
		return model.NewSessionError("キャンセルにはユーザー検索の完了が必要です")
	}

	err := a.scheduler.portal.CancelAppointment(ctx,
		a.scheduler.locationID, a.scheduler.sessionID, a.scheduler.userID, a.id)
	if err != nil {
		return err
	}

	a.status = StatusAvailable
	a.scheduler.recordCancellation()
	return nil
}

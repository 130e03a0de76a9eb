package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/Zecruu/SpineLineDemo/internal/appointment"
	"github.com/Zecruu/SpineLineDemo/internal/audit"
	"github.com/Zecruu/SpineLineDemo/internal/identity"
	"github.com/Zecruu/SpineLineDemo/internal/patient"
)

type CreateAppointmentRequest struct {
	Patient  string `json:"patient"`
	Provider string `json:"provider"`
	DateTime string `json:"dateTime"`
	Duration int    `json:"duration"`
	Type     string `json:"type"`
	Reason   string `json:"reason"`
	Notes    string `json:"notes"`
}

type UpdateAppointmentRequest struct {
	Provider *string `json:"provider"`
	DateTime *string `json:"dateTime"`
	Duration *int    `json:"duration"`
	Type     *string `json:"type"`
	Reason   *string `json:"reason"`
	Notes    *string `json:"notes"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	Patient            uuid.UUID  `json:"patient"`
	Provider           uuid.UUID  `json:"provider"`
	DateTime           time.Time  `json:"dateTime"`
	EndTime            time.Time  `json:"endTime"`
	Duration           int        `json:"duration"`
	Type               string     `json:"type"`
	Status             string     `json:"status"`
	Reason             string     `json:"reason"`
	Notes              string     `json:"notes,omitempty"`
	CheckinTime        *time.Time `json:"checkinTime,omitempty"`
	CompletionTime     *time.Time `json:"completionTime,omitempty"`
	CancellationReason string     `json:"cancellationReason,omitempty"`
	CancellationDate   *time.Time `json:"cancellationDate,omitempty"`
	CancelledBy        *uuid.UUID `json:"cancelledBy,omitempty"`
	CreatedBy          uuid.UUID  `json:"createdBy"`
	UpdatedBy          *uuid.UUID `json:"updatedBy,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	Version            int        `json:"version"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		Patient:            a.PatientID,
		Provider:           a.ProviderID,
		DateTime:           a.DateTime,
		EndTime:            a.EndTime,
		Duration:           a.Duration,
		Type:               string(a.Type),
		Status:             string(a.Status),
		Reason:             a.Reason,
		Notes:              a.Notes,
		CheckinTime:        a.CheckinTime,
		CompletionTime:     a.CompletionTime,
		CancellationReason: a.CancellationReason,
		CancellationDate:   a.CancellationDate,
		CancelledBy:        a.CancelledBy,
		CreatedBy:          a.CreatedBy,
		UpdatedBy:          a.UpdatedBy,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
		Version:            a.Version,
	}
}

type ListResponse[T any] struct {
	Count int `json:"count"`
	Data  []T `json:"data"`
}

type UserResponse struct {
	ID             uuid.UUID  `json:"id"`
	Email          string     `json:"email"`
	FullName       string     `json:"fullName"`
	Role           string     `json:"role"`
	IsActive       bool       `json:"isActive"`
	PhoneNumber    string     `json:"phoneNumber,omitempty"`
	Specialization string     `json:"specialization,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	LastLogin      *time.Time `json:"lastLogin,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func toUserResponse(u *identity.User) UserResponse {
	return UserResponse{
		ID:             u.ID,
		Email:          u.Email,
		FullName:       u.FullName,
		Role:           string(u.Role),
		IsActive:       u.IsActive,
		PhoneNumber:    u.PhoneNumber,
		Specialization: u.Specialization,
		Notes:          u.Notes,
		LastLogin:      u.LastLogin,
		CreatedAt:      u.CreatedAt,
	}
}

type UpdateUserRequest struct {
	FullName       *string `json:"fullName"`
	Role           *string `json:"role"`
	PhoneNumber    *string `json:"phoneNumber"`
	Specialization *string `json:"specialization"`
	Notes          *string `json:"notes"`
}

type AuditEntryResponse struct {
	ID           uuid.UUID      `json:"id"`
	Action       string         `json:"action"`
	PerformedBy  uuid.UUID      `json:"performedBy"`
	ResourceType string         `json:"resourceType"`
	ResourceID   *uuid.UUID     `json:"resourceId,omitempty"`
	Details      map[string]any `json:"details"`
	IPAddress    string         `json:"ipAddress,omitempty"`
	UserAgent    string         `json:"userAgent,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

func toAuditEntryResponse(e audit.Entry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:           e.ID,
		Action:       e.Action,
		PerformedBy:  e.Actor,
		ResourceType: string(e.ResourceType),
		ResourceID:   e.ResourceID,
		Details:      e.Details,
		IPAddress:    e.IPAddress,
		UserAgent:    e.UserAgent,
		Timestamp:    e.Timestamp,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type PatientContactInfo struct {
	Email            *string `json:"email,omitempty"`
	Phone            *string `json:"phone,omitempty"`
	AlternatePhone   *string `json:"alternatePhone,omitempty"`
	PreferredContact *string `json:"preferredContact,omitempty"`
}

type CreatePatientRequest struct {
	FirstName        string                   `json:"firstName"`
	LastName         string                   `json:"lastName"`
	DateOfBirth      string                   `json:"dateOfBirth"`
	Gender           string                   `json:"gender"`
	ContactInfo      PatientContactInfo       `json:"contactInfo"`
	Address          patient.Address          `json:"address"`
	EmergencyContact patient.EmergencyContact `json:"emergencyContact"`
	MedicalHistory   patient.MedicalHistory   `json:"medicalHistory"`
	Status           string                   `json:"status"`
	Notes            string                   `json:"notes"`
}

type UpdatePatientRequest struct {
	FirstName        *string                   `json:"firstName"`
	LastName         *string                   `json:"lastName"`
	DateOfBirth      *string                   `json:"dateOfBirth"`
	Gender           *string                   `json:"gender"`
	ContactInfo      *PatientContactInfo       `json:"contactInfo"`
	Address          *patient.Address          `json:"address"`
	EmergencyContact *patient.EmergencyContact `json:"emergencyContact"`
	MedicalHistory   *patient.MedicalHistory   `json:"medicalHistory"`
	Status           *string                   `json:"status"`
	Notes            *string                   `json:"notes"`
}

// AddInsuranceRequest accepts the carrier as either insuranceProvider or provider.
type AddInsuranceRequest struct {
	InsuranceProvider string           `json:"insuranceProvider"`
	Provider          string           `json:"provider"`
	PolicyNumber      string           `json:"policyNumber"`
	GroupNumber       string           `json:"groupNumber"`
	PrimaryInsured    *patient.Insured `json:"primaryInsured"`
	CoverageStartDate *string          `json:"coverageStartDate"`
	CoverageEndDate   *string          `json:"coverageEndDate"`
	Notes             string           `json:"notes"`
}

type AddReferralRequest struct {
	ReferringProvider string  `json:"referringProvider"`
	ReferralDate      *string `json:"referralDate"`
	ExpirationDate    *string `json:"expirationDate"`
	VisitCount        struct {
		Authorized int `json:"authorized"`
	} `json:"visitCount"`
	Diagnosis []string `json:"diagnosis"`
	Notes     string   `json:"notes"`
}

type AddAlertRequest struct {
	Type           string  `json:"type"`
	Message        string  `json:"message"`
	Severity       string  `json:"severity"`
	ExpirationDate *string `json:"expirationDate"`
}

type PatientResponse struct {
	ID               uuid.UUID                `json:"id"`
	FirstName        string                   `json:"firstName"`
	LastName         string                   `json:"lastName"`
	FullName         string                   `json:"fullName"`
	DateOfBirth      string                   `json:"dateOfBirth,omitempty"`
	Age              *int                     `json:"age,omitempty"`
	Gender           string                   `json:"gender"`
	ContactInfo      PatientContactInfo       `json:"contactInfo"`
	Address          patient.Address          `json:"address"`
	EmergencyContact patient.EmergencyContact `json:"emergencyContact"`
	MedicalHistory   patient.MedicalHistory   `json:"medicalHistory"`
	Insurance        []patient.Insurance      `json:"insurance"`
	Referrals        []patient.Referral       `json:"referrals"`
	Alerts           []patient.Alert          `json:"alerts"`
	Status           string                   `json:"status"`
	Notes            string                   `json:"notes,omitempty"`
	CreatedBy        *uuid.UUID               `json:"createdBy,omitempty"`
	UpdatedBy        *uuid.UUID               `json:"updatedBy,omitempty"`
	CreatedAt        time.Time                `json:"createdAt"`
	UpdatedAt        time.Time                `json:"updatedAt"`
}

func toPatientResponse(p *patient.Patient, now time.Time) PatientResponse {
	contact := string(p.PreferredContact)
	resp := PatientResponse{
		ID:               p.ID,
		FirstName:        p.FirstName,
		LastName:         p.LastName,
		FullName:         p.FullName(),
		Gender:           string(p.Gender),
		ContactInfo:      PatientContactInfo{PreferredContact: &contact},
		Address:          p.Address,
		EmergencyContact: p.EmergencyContact,
		MedicalHistory:   p.MedicalHistory,
		Insurance:        nonNil(p.Insurance),
		Referrals:        nonNil(p.Referrals),
		Alerts:           nonNil(p.Alerts),
		Status:           string(p.Status),
		Notes:            p.Notes,
		CreatedBy:        p.CreatedBy,
		UpdatedBy:        p.UpdatedBy,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
	if p.Email != "" {
		resp.ContactInfo.Email = &p.Email
	}
	if p.Phone != "" {
		resp.ContactInfo.Phone = &p.Phone
	}
	if p.AlternatePhone != "" {
		resp.ContactInfo.AlternatePhone = &p.AlternatePhone
	}
	if p.DateOfBirth != nil {
		resp.DateOfBirth = p.DateOfBirth.Format(time.DateOnly)
		age := p.Age(now)
		resp.Age = &age
	}
	return resp
}

type PatientPageResponse struct {
	Count       int               `json:"count"`
	Total       int               `json:"total"`
	Pages       int               `json:"pages"`
	CurrentPage int               `json:"currentPage"`
	Data        []PatientResponse `json:"data"`
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

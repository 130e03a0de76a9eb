package patient

import (
	"time"

	"github.com/google/uuid"
)

type Gender string

const (
	GenderMale           Gender = "MALE"
	GenderFemale         Gender = "FEMALE"
	GenderOther          Gender = "OTHER"
	GenderPreferNotToSay Gender = "PREFER_NOT_TO_SAY"
)

func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther, GenderPreferNotToSay:
		return true
	}
	return false
}

type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusInactive   Status = "INACTIVE"
	StatusPending    Status = "PENDING"
	StatusDischarged Status = "DISCHARGED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusPending, StatusDischarged:
		return true
	}
	return false
}

type ContactMethod string

const (
	ContactEmail ContactMethod = "EMAIL"
	ContactPhone ContactMethod = "PHONE"
	ContactText  ContactMethod = "TEXT"
)

func (c ContactMethod) Valid() bool {
	switch c {
	case ContactEmail, ContactPhone, ContactText:
		return true
	}
	return false
}

type AlertType string

const (
	AlertMedical        AlertType = "MEDICAL"
	AlertBilling        AlertType = "BILLING"
	AlertAdministrative AlertType = "ADMINISTRATIVE"
	AlertOther          AlertType = "OTHER"
)

func (t AlertType) Valid() bool {
	switch t {
	case AlertMedical, AlertBilling, AlertAdministrative, AlertOther:
		return true
	}
	return false
}

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zipCode,omitempty"`
	Country string `json:"country,omitempty"`
}

type EmergencyContact struct {
	Name         string `json:"name,omitempty"`
	Relationship string `json:"relationship,omitempty"`
	Phone        string `json:"phone,omitempty"`
}

type MedicalHistory struct {
	Conditions    []string `json:"conditions,omitempty"`
	Medications   []string `json:"medications,omitempty"`
	Allergies     []string `json:"allergies,omitempty"`
	Surgeries     []string `json:"surgeries,omitempty"`
	FamilyHistory string   `json:"familyHistory,omitempty"`
	Notes         string   `json:"notes,omitempty"`
}

// Insured is the policy holder when it is not the patient.
type Insured struct {
	Name         string     `json:"name,omitempty"`
	Relationship string     `json:"relationship,omitempty"`
	DateOfBirth  *time.Time `json:"dateOfBirth,omitempty"`
}

type Insurance struct {
	ID                uuid.UUID  `json:"id"`
	Provider          string     `json:"provider"`
	PolicyNumber      string     `json:"policyNumber"`
	GroupNumber       string     `json:"groupNumber,omitempty"`
	PrimaryInsured    *Insured   `json:"primaryInsured,omitempty"`
	CoverageStartDate *time.Time `json:"coverageStartDate,omitempty"`
	CoverageEndDate   *time.Time `json:"coverageEndDate,omitempty"`
	VerificationDate  time.Time  `json:"verificationDate"`
	VerifiedBy        uuid.UUID  `json:"verifiedBy"`
	Notes             string     `json:"notes,omitempty"`
	IsActive          bool       `json:"isActive"`
}

type VisitCount struct {
	Authorized int `json:"authorized"`
	Used       int `json:"used"`
	Remaining  int `json:"remaining"`
}

type Referral struct {
	ID                uuid.UUID  `json:"id"`
	ReferringProvider string     `json:"referringProvider,omitempty"`
	ReferralDate      *time.Time `json:"referralDate,omitempty"`
	ExpirationDate    *time.Time `json:"expirationDate,omitempty"`
	VisitCount        VisitCount `json:"visitCount"`
	Diagnosis         []string   `json:"diagnosis,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	IsActive          bool       `json:"isActive"`
	CreatedBy         uuid.UUID  `json:"createdBy"`
	CreatedAt         time.Time  `json:"createdAt"`
}

type Alert struct {
	ID             uuid.UUID  `json:"id"`
	Type           AlertType  `json:"type"`
	Message        string     `json:"message"`
	Severity       Severity   `json:"severity"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
	IsActive       bool       `json:"isActive"`
	CreatedBy      uuid.UUID  `json:"createdBy"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Patient is a clinic patient with insurance, referral and alert records attached.
type Patient struct {
	ID               uuid.UUID
	FirstName        string
	LastName         string
	DateOfBirth      *time.Time
	Gender           Gender
	Email            string
	Phone            string
	AlternatePhone   string
	PreferredContact ContactMethod
	Address          Address
	EmergencyContact EmergencyContact
	MedicalHistory   MedicalHistory
	Insurance        []Insurance
	Referrals        []Referral
	Alerts           []Alert
	Status           Status
	Notes            string
	CreatedBy        *uuid.UUID
	UpdatedBy        *uuid.UUID
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (p *Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

// Age is the patient's age in whole years on now, or -1 when the birth date is unknown.
func (p *Patient) Age(now time.Time) int {
	if p.DateOfBirth == nil {
		return -1
	}
	dob := *p.DateOfBirth
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}

// Filter narrows List results. Search matches names, email and phone case-insensitively.
type Filter struct {
	Status *Status
	Search string
	Page   int
	Limit  int
}

const (
	defaultPageSize = 10
	maxPageSize     = 200
)

func (f Filter) normalized() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	return f
}

func (f Filter) offset() int {
	return (f.Page - 1) * f.Limit
}

// Page is one page of List results plus the total number of matches.
type Page struct {
	Patients []Patient
	Total    int
	Page     int
	Limit    int
}

// Pages is the number of pages needed to show Total matches.
func (p Page) Pages() int {
	if p.Limit <= 0 {
		return 0
	}
	return (p.Total + p.Limit - 1) / p.Limit
}

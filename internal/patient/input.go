package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultCountry = "USA"

type CreateInput struct {
	FirstName        string
	LastName         string
	DateOfBirth      time.Time
	Gender           Gender
	Email            string
	Phone            string
	AlternatePhone   string
	PreferredContact ContactMethod
	Address          Address
	EmergencyContact EmergencyContact
	MedicalHistory   MedicalHistory
	Status           Status
	Notes            string
}

// Prepare trims and defaults the input and validates it against now.
func (in *CreateInput) Prepare(now time.Time) error {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.PreferredContact == "" {
		in.PreferredContact = ContactPhone
	}
	if in.Status == "" {
		in.Status = StatusActive
	}
	if in.Address.Country == "" {
		in.Address.Country = defaultCountry
	}

	switch {
	case in.FirstName == "":
		return invalid("firstName", "is required")
	case in.LastName == "":
		return invalid("lastName", "is required")
	case in.DateOfBirth.IsZero():
		return invalid("dateOfBirth", "is required")
	case in.DateOfBirth.After(now):
		return invalid("dateOfBirth", "must not be in the future")
	case !in.Gender.Valid():
		return invalid("gender", "must be MALE, FEMALE, OTHER or PREFER_NOT_TO_SAY")
	case !in.PreferredContact.Valid():
		return invalid("preferredContact", "must be EMAIL, PHONE or TEXT")
	case !in.Status.Valid():
		return invalid("status", "must be ACTIVE, INACTIVE, PENDING or DISCHARGED")
	}
	return nil
}

// Update carries the fields a caller wants changed. Nil fields are left alone.
type Update struct {
	FirstName        *string
	LastName         *string
	DateOfBirth      *time.Time
	Gender           *Gender
	Email            *string
	Phone            *string
	AlternatePhone   *string
	PreferredContact *ContactMethod
	Address          *Address
	EmergencyContact *EmergencyContact
	MedicalHistory   *MedicalHistory
	Status           *Status
	Notes            *string
}

// Fields returns the names of the fields set on u, in a stable order.
func (u Update) Fields() []string {
	var fields []string
	add := func(set bool, name string) {
		if set {
			fields = append(fields, name)
		}
	}
	add(u.FirstName != nil, "firstName")
	add(u.LastName != nil, "lastName")
	add(u.DateOfBirth != nil, "dateOfBirth")
	add(u.Gender != nil, "gender")
	add(u.Email != nil, "email")
	add(u.Phone != nil, "phone")
	add(u.AlternatePhone != nil, "alternatePhone")
	add(u.PreferredContact != nil, "preferredContact")
	add(u.Address != nil, "address")
	add(u.EmergencyContact != nil, "emergencyContact")
	add(u.MedicalHistory != nil, "medicalHistory")
	add(u.Status != nil, "status")
	add(u.Notes != nil, "notes")
	return fields
}

func (u *Update) Prepare(now time.Time) error {
	if u.FirstName != nil {
		v := strings.TrimSpace(*u.FirstName)
		if v == "" {
			return invalid("firstName", "must not be empty")
		}
		u.FirstName = &v
	}
	if u.LastName != nil {
		v := strings.TrimSpace(*u.LastName)
		if v == "" {
			return invalid("lastName", "must not be empty")
		}
		u.LastName = &v
	}
	if u.Email != nil {
		v := strings.ToLower(strings.TrimSpace(*u.Email))
		u.Email = &v
	}
	if u.DateOfBirth != nil && u.DateOfBirth.After(now) {
		return invalid("dateOfBirth", "must not be in the future")
	}
	if u.Gender != nil && !u.Gender.Valid() {
		return invalid("gender", "must be MALE, FEMALE, OTHER or PREFER_NOT_TO_SAY")
	}
	if u.PreferredContact != nil && !u.PreferredContact.Valid() {
		return invalid("preferredContact", "must be EMAIL, PHONE or TEXT")
	}
	if u.Status != nil && !u.Status.Valid() {
		return invalid("status", "must be ACTIVE, INACTIVE, PENDING or DISCHARGED")
	}
	return nil
}

type InsuranceInput struct {
	Provider          string
	PolicyNumber      string
	GroupNumber       string
	PrimaryInsured    *Insured
	CoverageStartDate *time.Time
	CoverageEndDate   *time.Time
	Notes             string
}

// Build turns the input into an active policy verified by actor at now.
func (in InsuranceInput) Build(actor uuid.UUID, now time.Time) (Insurance, error) {
	in.Provider = strings.TrimSpace(in.Provider)
	in.PolicyNumber = strings.TrimSpace(in.PolicyNumber)
	switch {
	case in.Provider == "":
		return Insurance{}, invalid("insuranceProvider", "is required")
	case in.PolicyNumber == "":
		return Insurance{}, invalid("policyNumber", "is required")
	case in.CoverageStartDate != nil && in.CoverageEndDate != nil && in.CoverageEndDate.Before(*in.CoverageStartDate):
		return Insurance{}, invalid("coverageEndDate", "must not be before coverageStartDate")
	}
	return Insurance{
		ID:                uuid.New(),
		Provider:          in.Provider,
		PolicyNumber:      in.PolicyNumber,
		GroupNumber:       strings.TrimSpace(in.GroupNumber),
		PrimaryInsured:    in.PrimaryInsured,
		CoverageStartDate: in.CoverageStartDate,
		CoverageEndDate:   in.CoverageEndDate,
		VerificationDate:  now,
		VerifiedBy:        actor,
		Notes:             in.Notes,
		IsActive:          true,
	}, nil
}

type ReferralInput struct {
	ReferringProvider string
	ReferralDate      *time.Time
	ExpirationDate    *time.Time
	AuthorizedVisits  int
	Diagnosis         []string
	Notes             string
}

// Build turns the input into an active referral with every authorized visit remaining.
func (in ReferralInput) Build(actor uuid.UUID, now time.Time) (Referral, error) {
	switch {
	case in.AuthorizedVisits <= 0:
		return Referral{}, invalid("visitCount.authorized", "must be a positive number of visits")
	case in.ReferralDate != nil && in.ExpirationDate != nil && in.ExpirationDate.Before(*in.ReferralDate):
		return Referral{}, invalid("expirationDate", "must not be before referralDate")
	}
	return Referral{
		ID:                uuid.New(),
		ReferringProvider: strings.TrimSpace(in.ReferringProvider),
		ReferralDate:      in.ReferralDate,
		ExpirationDate:    in.ExpirationDate,
		VisitCount:        VisitCount{Authorized: in.AuthorizedVisits, Remaining: in.AuthorizedVisits},
		Diagnosis:         in.Diagnosis,
		Notes:             in.Notes,
		IsActive:          true,
		CreatedBy:         actor,
		CreatedAt:         now,
	}, nil
}

type AlertInput struct {
	Type           AlertType
	Message        string
	Severity       Severity
	ExpirationDate *time.Time
}

func (in AlertInput) Build(actor uuid.UUID, now time.Time) (Alert, error) {
	in.Message = strings.TrimSpace(in.Message)
	if in.Severity == "" {
		in.Severity = SeverityMedium
	}
	switch {
	case !in.Type.Valid():
		return Alert{}, invalid("type", "must be MEDICAL, BILLING, ADMINISTRATIVE or OTHER")
	case in.Message == "":
		return Alert{}, invalid("message", "is required")
	case !in.Severity.Valid():
		return Alert{}, invalid("severity", "must be LOW, MEDIUM, HIGH or CRITICAL")
	case in.ExpirationDate != nil && !in.ExpirationDate.After(now):
		return Alert{}, invalid("expirationDate", "must be in the future")
	}
	return Alert{
		ID:             uuid.New(),
		Type:           in.Type,
		Message:        in.Message,
		Severity:       in.Severity,
		ExpirationDate: in.ExpirationDate,
		IsActive:       true,
		CreatedBy:      actor,
		CreatedAt:      now,
	}, nil
}

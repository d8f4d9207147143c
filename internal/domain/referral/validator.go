package referral

import (
	"fmt"
	"regexp"
)

// Review statuses assigned after validation.
const (
	ReviewAutoSubmit  = "auto_submit"
	ReviewHumanReview = "human_review"
	ReviewManualEntry = "manual_entry"
)

// AutoSubmitThreshold is the overall confidence (0-100) required before a
// referral may bypass human review.
const AutoSubmitThreshold = 85

const criticalFieldMinConfidence = 70

var (
	phoneRe   = regexp.MustCompile(`^\(\d{3}\) \d{3}-\d{4}$`)
	emailRe   = regexp.MustCompile(`^[\w\.\-\+]+@[\w\.-]+\.\w+$`)
	isoDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	digitsRe  = regexp.MustCompile(`\D`)
)

// Validate checks a referral against submission field constraints and
// returns human-readable errors. An empty slice means the referral is
// submittable as-is.
func Validate(r *Referral) []string {
	var errs []string

	if deref(r.PatientFirstName) == "" {
		errs = append(errs, "Missing: Intake Client First Name")
	}
	if deref(r.PatientLastName) == "" {
		errs = append(errs, "Missing: Intake Client Last Name")
	}
	if deref(r.ClaimNumber) == "" {
		errs = append(errs, "Missing: Intake Claim Number")
	}
	if r.Status == "" {
		errs = append(errs, "Missing: Status")
	}

	if p := deref(r.PatientPhone); p != "" && !phoneRe.MatchString(p) {
		errs = append(errs, fmt.Sprintf("Invalid phone format: %s", p))
	}
	if st := deref(r.PatientState); st != "" && len(st) != 2 {
		errs = append(errs, fmt.Sprintf("Invalid state code: %s", st))
	}
	if z := deref(r.PatientZip); z != "" {
		digits := digitsRe.ReplaceAllString(z, "")
		if len(digits) != 5 && len(digits) != 9 {
			errs = append(errs, fmt.Sprintf("Invalid ZIP: %s", z))
		}
	}
	if e := deref(r.PatientEmail); e != "" && !emailRe.MatchString(e) {
		errs = append(errs, fmt.Sprintf("Invalid email: %s", e))
	}
	if d := deref(r.PatientDOB); d != "" && !isoDateRe.MatchString(d) {
		errs = append(errs, fmt.Sprintf("Invalid DOB format: %s (must be YYYY-MM-DD)", d))
	}
	if d := deref(r.DateOfInjury); d != "" && !isoDateRe.MatchString(d) {
		errs = append(errs, fmt.Sprintf("Invalid DOI format: %s (must be YYYY-MM-DD)", d))
	}

	return errs
}

// MissingCriticalFields lists the fields without which a referral cannot
// be worked at all.
func MissingCriticalFields(r *Referral) []string {
	var missing []string
	if deref(r.PatientFirstName) == "" {
		missing = append(missing, "First Name")
	}
	if deref(r.PatientLastName) == "" {
		missing = append(missing, "Last Name")
	}
	if deref(r.ClaimNumber) == "" {
		missing = append(missing, "Claim Number")
	}
	if deref(r.CarrierNameRaw) == "" {
		missing = append(missing, "Insurance Carrier")
	}
	if deref(r.ServiceSummary) == "" {
		missing = append(missing, "Service Requested")
	}
	return missing
}

// CompletenessScore reports how many of the expected fields are filled,
// as a 0-100 percentage.
func CompletenessScore(r *Referral) float64 {
	fields := []*string{
		r.PatientFirstName,
		r.PatientLastName,
		r.ClaimNumber,
		r.CarrierNameRaw,
		r.ServiceSummary,
		r.PatientDOB,
		r.DateOfInjury,
		r.BodyParts,
		r.PatientPhone,
		r.PatientEmail,
		r.PatientAddress1,
		r.PatientCity,
		r.PatientState,
		r.PatientZip,
		r.EmployerName,
	}
	filled := 0
	for _, f := range fields {
		if deref(f) != "" {
			filled++
		}
	}
	return float64(filled) / float64(len(fields)) * 100
}

// ShouldAutoSubmit reports whether a referral is high-confidence enough to
// submit without review. Overall confidence and per-field scores are on
// the 0-100 scale.
func ShouldAutoSubmit(r *Referral, overallConfidence float64, fieldConfidence map[string]float64) bool {
	if len(Validate(r)) > 0 {
		return false
	}
	if overallConfidence < AutoSubmitThreshold {
		return false
	}
	for _, field := range []string{"first_name", "last_name", "claim_number", "carrier"} {
		if fieldConfidence[field] < criticalFieldMinConfidence {
			return false
		}
	}
	return true
}

// ReviewStatus buckets a referral by extraction quality.
func ReviewStatus(r *Referral, overallConfidence float64) string {
	if len(MissingCriticalFields(r)) > 0 {
		return ReviewManualEntry
	}
	if len(Validate(r)) > 0 {
		return ReviewHumanReview
	}
	switch {
	case overallConfidence >= 90:
		return ReviewAutoSubmit
	case overallConfidence >= 70:
		return ReviewHumanReview
	default:
		return ReviewManualEntry
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Package extraction turns the model's confidence-scored field output into a
// normalized referral ready for intake.
package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ConfidenceFloor is the minimum field confidence kept in a Record. Fields
// scored below it are treated as absent.
const ConfidenceFloor = 50

// Field is one extracted value with its model confidence (0-100).
type Field struct {
	Value      string
	Confidence int
}

// Text returns the field's value, or "" when the field is absent.
func (f *Field) Text() string {
	if f == nil {
		return ""
	}
	return f.Value
}

// Score returns the field's confidence, or 0 when the field is absent.
func (f *Field) Score() int {
	if f == nil {
		return 0
	}
	return f.Confidence
}

// Record is the fixed vocabulary the model is asked to fill. A member is nil
// when the field was absent, empty, or scored below the confidence floor.
type Record struct {
	ClaimantFirstName       *Field
	ClaimantLastName        *Field
	ClaimantName            *Field
	ClaimNumber             *Field
	InsuranceCarrier        *Field
	ServiceRequested        *Field
	BodyParts               *Field
	ClaimantDOB             *Field
	DateOfInjury            *Field
	ClaimantPhone           *Field
	ClaimantEmail           *Field
	ClaimantAddress1        *Field
	ClaimantAddress2        *Field
	ClaimantCity            *Field
	ClaimantState           *Field
	ClaimantZip             *Field
	ClaimantAddress         *Field
	ClaimantGender          *Field
	ClaimantSSN             *Field
	ClaimantJobTitle        *Field
	EmployerName            *Field
	EmployerAddress         *Field
	ReferringPhysicianName  *Field
	ReferringPhysicianNPI   *Field
	JurisdictionState       *Field
	OrderType               *Field
	ICD10Code               *Field
	ICD10Description        *Field
	ICD10Category           *Field
	AssociatedProcedureCode *Field
	SuggestedProviders      *Field
	SpecialRequirements     *Field
	AdjusterName            *Field
	AdjusterEmail           *Field
	AdjusterPhone           *Field
}

type slot struct {
	name string
	dst  **Field
}

// slots pairs each JSON field name the model emits with the record member it
// decodes into. This table is the only place names and members meet.
func (r *Record) slots() []slot {
	return []slot{
		{"claimant_first_name", &r.ClaimantFirstName},
		{"claimant_last_name", &r.ClaimantLastName},
		{"claimant_name", &r.ClaimantName},
		{"claim_number", &r.ClaimNumber},
		{"insurance_carrier", &r.InsuranceCarrier},
		{"service_requested", &r.ServiceRequested},
		{"body_parts", &r.BodyParts},
		{"claimant_dob", &r.ClaimantDOB},
		{"date_of_injury", &r.DateOfInjury},
		{"claimant_phone", &r.ClaimantPhone},
		{"claimant_email", &r.ClaimantEmail},
		{"claimant_address_1", &r.ClaimantAddress1},
		{"claimant_address_2", &r.ClaimantAddress2},
		{"claimant_city", &r.ClaimantCity},
		{"claimant_state", &r.ClaimantState},
		{"claimant_zip", &r.ClaimantZip},
		{"claimant_address", &r.ClaimantAddress},
		{"claimant_gender", &r.ClaimantGender},
		{"claimant_ssn", &r.ClaimantSSN},
		{"claimant_job_title", &r.ClaimantJobTitle},
		{"employer_name", &r.EmployerName},
		{"employer_address", &r.EmployerAddress},
		{"referring_physician_name", &r.ReferringPhysicianName},
		{"referring_physician_npi", &r.ReferringPhysicianNPI},
		{"jurisdiction_state", &r.JurisdictionState},
		{"order_type", &r.OrderType},
		{"icd10_code", &r.ICD10Code},
		{"icd10_description", &r.ICD10Description},
		{"icd10_category", &r.ICD10Category},
		{"associated_procedure_code", &r.AssociatedProcedureCode},
		{"suggested_providers", &r.SuggestedProviders},
		{"special_requirements", &r.SpecialRequirements},
		{"adjuster_name", &r.AdjusterName},
		{"adjuster_email", &r.AdjusterEmail},
		{"adjuster_phone", &r.AdjusterPhone},
	}
}

// Empty reports whether no field survived decoding.
func (r *Record) Empty() bool {
	for _, s := range r.slots() {
		if *s.dst != nil {
			return false
		}
	}
	return true
}

// Decode parses the model's raw JSON output: a flat object of field name to
// value plus a "confidence_scores" object. Unknown fields are dropped, as
// are empty values and any field scored below the confidence floor. A field
// with a value but no score defaults to the floor itself.
func Decode(raw json.RawMessage) (*Record, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("extraction: decoding model output: %w", err)
	}

	scores := map[string]int{}
	if rawScores, ok := payload["confidence_scores"]; ok {
		var parsed map[string]float64
		if err := json.Unmarshal(rawScores, &parsed); err != nil {
			return nil, fmt.Errorf("extraction: decoding confidence_scores: %w", err)
		}
		for name, score := range parsed {
			scores[name] = int(score)
		}
	}

	rec := &Record{}
	for _, s := range rec.slots() {
		rawVal, ok := payload[s.name]
		if !ok {
			continue
		}
		value := stringify(rawVal)
		if value == "" {
			continue
		}
		conf, scored := scores[s.name]
		if !scored {
			conf = ConfidenceFloor
		}
		if conf < ConfidenceFloor {
			continue
		}
		*s.dst = &Field{Value: value, Confidence: conf}
	}
	return rec, nil
}

// stringify accepts the scalar shapes models actually emit: strings,
// numbers, booleans, null.
func stringify(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return fmt.Sprintf("%t", b)
	}
	return ""
}

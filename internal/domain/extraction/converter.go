package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/refcrm/refcrm/internal/domain/refdata"
	"github.com/refcrm/refcrm/internal/domain/referral"
	"github.com/refcrm/refcrm/pkg/normalize"
)

// Confidence assigned to fields enriched from the reference tables rather
// than inferred by the model.
const (
	referenceConfidence = 95
	derivedConfidence   = 85
)

// Penalties applied when a composite source field has to be split because
// the explicit component fields were missing.
const (
	nameSplitPenalty    = 5
	addressParsePenalty = 10
)

// reviewThreshold is on the 0-1 scale used for stored confidence.
const reviewThreshold = 0.8

// ReferenceData is the slice of refdata.Service the converter needs.
type ReferenceData interface {
	ValidateDiagnosis(ctx context.Context, code string) (refdata.ValidationResult, error)
	LookupProceduresForService(ctx context.Context, serviceRequested string) (refdata.ProcedureLookup, error)
}

// Result is a converted referral plus everything a reviewer needs to judge
// it: per-field confidences (0-100), warnings, and the overall mean.
type Result struct {
	Referral          *referral.Referral
	FieldConfidence   map[string]float64
	Warnings          []string
	OverallConfidence float64
}

type Converter struct {
	refdata ReferenceData
}

func NewConverter(rd ReferenceData) *Converter {
	return &Converter{refdata: rd}
}

// Convert maps a Record onto a referral, normalizing each field and
// resolving composite fallbacks. The returned referral is not persisted.
func (c *Converter) Convert(ctx context.Context, rec *Record) (*Result, error) {
	res := &Result{
		Referral:        &referral.Referral{Status: referral.StatusDraft, Priority: referral.PriorityMedium},
		FieldConfidence: map[string]float64{},
	}
	r := res.Referral

	c.convertNames(rec, res)

	setField(res, rec.ClaimNumber, "claim_number", &r.ClaimNumber, nil)
	setField(res, rec.InsuranceCarrier, "carrier", &r.CarrierNameRaw, nil)
	setField(res, rec.ServiceRequested, "service", &r.ServiceSummary, nil)
	setField(res, rec.BodyParts, "body_parts", &r.BodyParts, nil)

	setField(res, rec.ClaimantDOB, "dob", &r.PatientDOB, c.normalizeDate(res, "date of birth"))
	setField(res, rec.DateOfInjury, "doi", &r.DateOfInjury, c.normalizeDate(res, "date of injury"))

	setField(res, rec.ClaimantPhone, "phone", &r.PatientPhone, normalize.Phone)
	setField(res, rec.ClaimantEmail, "email", &r.PatientEmail, nil)

	c.convertAddress(rec, res)

	setField(res, rec.ClaimantGender, "gender", &r.PatientGender, nil)
	setField(res, rec.ClaimantSSN, "ssn", &r.PatientSSN, nil)
	setField(res, rec.ClaimantJobTitle, "job_title", &r.PatientJobTitle, nil)

	setField(res, rec.EmployerName, "", &r.EmployerName, nil)
	setField(res, rec.EmployerAddress, "", &r.EmployerAddress, nil)

	setField(res, rec.ReferringPhysicianName, "referring_physician_name", &r.PhysicianName, nil)
	if npi := rec.ReferringPhysicianNPI.Text(); npi != "" {
		digits := keepDigits(npi)
		if len(digits) == 10 {
			r.PhysicianNPI = &digits
			res.FieldConfidence["referring_physician_npi"] = float64(rec.ReferringPhysicianNPI.Score())
		} else {
			res.Warnings = append(res.Warnings, fmt.Sprintf("dropped malformed NPI: %s", npi))
		}
	}

	setField(res, rec.JurisdictionState, "jurisdiction_state", &r.JurisdictionState, func(s string) string {
		code, _ := normalize.State(s)
		return code
	})
	setField(res, rec.OrderType, "order_type", &r.OrderType, nil)

	if err := c.convertDiagnosis(ctx, rec, res); err != nil {
		return nil, err
	}
	if err := c.convertProcedure(ctx, rec, res); err != nil {
		return nil, err
	}

	setField(res, rec.SuggestedProviders, "suggested_providers", &r.SuggestedProviders, nil)
	setField(res, rec.SpecialRequirements, "special_requirements", &r.SpecialRequirements, nil)

	setField(res, rec.AdjusterName, "", &r.AdjusterName, nil)
	setField(res, rec.AdjusterEmail, "", &r.AdjusterEmail, nil)
	setField(res, rec.AdjusterPhone, "", &r.AdjusterPhone, normalize.Phone)

	res.OverallConfidence = meanConfidence(res.FieldConfidence)
	r.ExtractionConfidence = res.OverallConfidence / 100
	r.NeedsHumanReview = r.ExtractionConfidence < reviewThreshold

	return res, nil
}

// convertNames prefers explicit first/last fields, falling back to
// splitting a combined name at a 5-point penalty.
func (c *Converter) convertNames(rec *Record, res *Result) {
	r := res.Referral

	if first := rec.ClaimantFirstName.Text(); first != "" {
		r.PatientFirstName = &first
		res.FieldConfidence["first_name"] = float64(rec.ClaimantFirstName.Score())
	} else if full := rec.ClaimantName.Text(); full != "" {
		first, _, _ := normalize.SplitName(full)
		if first != "" {
			r.PatientFirstName = &first
		}
		res.FieldConfidence["first_name"] = penalize(rec.ClaimantName.Score(), nameSplitPenalty)
	}

	if last := rec.ClaimantLastName.Text(); last != "" {
		r.PatientLastName = &last
		res.FieldConfidence["last_name"] = float64(rec.ClaimantLastName.Score())
	} else if full := rec.ClaimantName.Text(); full != "" {
		_, last, _ := normalize.SplitName(full)
		if last != "" {
			r.PatientLastName = &last
		}
		res.FieldConfidence["last_name"] = penalize(rec.ClaimantName.Score(), nameSplitPenalty)
	}
}

// convertAddress takes explicit components first, then fills whatever is
// still missing from the combined address field at a 10-point penalty.
// Explicitly extracted components are never overwritten.
func (c *Converter) convertAddress(rec *Record, res *Result) {
	r := res.Referral

	setField(res, rec.ClaimantAddress1, "address_1", &r.PatientAddress1, nil)
	setField(res, rec.ClaimantAddress2, "", &r.PatientAddress2, nil)
	setField(res, rec.ClaimantCity, "city", &r.PatientCity, nil)
	setField(res, rec.ClaimantState, "state", &r.PatientState, func(s string) string {
		code, _ := normalize.State(s)
		return code
	})
	setField(res, rec.ClaimantZip, "zip", &r.PatientZip, normalize.Zip)

	full := rec.ClaimantAddress.Text()
	if full == "" {
		return
	}
	if r.PatientAddress1 != nil && r.PatientCity != nil && r.PatientState != nil && r.PatientZip != nil {
		return
	}

	parsed, _ := normalize.ParseAddress(full)
	conf := penalize(rec.ClaimantAddress.Score(), addressParsePenalty)

	if parsed.Street != "" && r.PatientAddress1 == nil {
		r.PatientAddress1 = &parsed.Street
		res.FieldConfidence["address_1"] = conf
	}
	if parsed.City != "" && r.PatientCity == nil {
		r.PatientCity = &parsed.City
		res.FieldConfidence["city"] = conf
	}
	if parsed.State != "" && r.PatientState == nil {
		code, _ := normalize.State(parsed.State)
		r.PatientState = &code
		res.FieldConfidence["state"] = conf
	}
	if parsed.Zip != "" && r.PatientZip == nil {
		zip := normalize.Zip(parsed.Zip)
		r.PatientZip = &zip
		res.FieldConfidence["zip"] = conf
	}
}

// convertDiagnosis validates the extracted code against reference data. A
// valid code is normalized and enriched; an invalid one is kept raw with a
// warning so the reviewer sees what the model produced.
func (c *Converter) convertDiagnosis(ctx context.Context, rec *Record, res *Result) error {
	r := res.Referral

	code := rec.ICD10Code.Text()
	if desc := rec.ICD10Description.Text(); desc != "" {
		r.ICD10Description = &desc
		res.FieldConfidence["icd10_description"] = float64(rec.ICD10Description.Score())
	}
	if cat := rec.ICD10Category.Text(); cat != "" {
		r.ICD10Category = &cat
	}
	if code == "" {
		return nil
	}

	res.FieldConfidence["icd10_code"] = float64(rec.ICD10Code.Score())

	if c.refdata == nil {
		normalized := refdata.NormalizeICD10(code)
		r.ICD10Code = &normalized
		return nil
	}

	v, err := c.refdata.ValidateDiagnosis(ctx, code)
	if err != nil {
		return err
	}
	if !v.IsValid {
		normalized := refdata.NormalizeICD10(code)
		r.ICD10Code = &normalized
		res.Warnings = append(res.Warnings, v.Message)
		return nil
	}

	r.ICD10Code = &v.NormalizedCode
	if r.ICD10Description == nil && v.Description != nil {
		r.ICD10Description = v.Description
	}
	if v.Category != nil {
		r.ICD10Category = v.Category
		res.FieldConfidence["icd10_category"] = referenceConfidence
	}
	if v.BodyRegion != nil && r.BodyParts == nil {
		r.BodyParts = v.BodyRegion
	}
	return nil
}

// convertProcedure derives a procedure code from the service text unless
// the model already produced one.
func (c *Converter) convertProcedure(ctx context.Context, rec *Record, res *Result) error {
	r := res.Referral

	if code := rec.AssociatedProcedureCode.Text(); code != "" {
		r.ProcedureCode = &code
		res.FieldConfidence["procedure_code"] = float64(rec.AssociatedProcedureCode.Score())
		return nil
	}
	if c.refdata == nil || r.ServiceSummary == nil {
		return nil
	}

	lookup, err := c.refdata.LookupProceduresForService(ctx, *r.ServiceSummary)
	if err != nil {
		return err
	}
	if !lookup.Found || len(lookup.Codes) == 0 {
		return nil
	}

	first := lookup.Codes[0]
	r.ProcedureCode = &first.Code
	res.FieldConfidence["procedure_code"] = derivedConfidence

	if len(lookup.Codes) > 1 {
		alts := make([]string, 0, 3)
		for _, pc := range lookup.Codes[1:] {
			alts = append(alts, pc.Code)
			if len(alts) == 3 {
				break
			}
		}
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("alternate procedure codes for %q: %s", lookup.ServiceType, strings.Join(alts, ", ")))
	}
	return nil
}

func (c *Converter) normalizeDate(res *Result, label string) func(string) string {
	return func(s string) string {
		out, ok := normalize.Date(s)
		if !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("could not normalize %s: %s", label, s))
		}
		return out
	}
}

// setField copies one extracted field onto the referral, optionally through
// a transform, and records its confidence under scoreName when given.
func setField(res *Result, f *Field, scoreName string, dst **string, transform func(string) string) {
	value := f.Text()
	if value == "" {
		return
	}
	if transform != nil {
		value = transform(value)
	}
	if value == "" {
		return
	}
	*dst = &value
	if scoreName != "" {
		res.FieldConfidence[scoreName] = float64(f.Score())
	}
}

func penalize(confidence, penalty int) float64 {
	out := confidence - penalty
	if out < 0 {
		out = 0
	}
	return float64(out)
}

func meanConfidence(scores map[string]float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, v := range scores {
		sum += v
	}
	return sum / float64(len(scores))
}

func keepDigits(s string) string {
	var b strings.Builder
	for _, ch := range s {
		if ch >= '0' && ch <= '9' {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

package extraction

import (
	"context"
	"strings"
	"testing"

	"github.com/refcrm/refcrm/internal/domain/refdata"
)

type stubRefData struct {
	diagnoses map[string]refdata.ValidationResult
	lookup    refdata.ProcedureLookup
}

func (s *stubRefData) ValidateDiagnosis(_ context.Context, code string) (refdata.ValidationResult, error) {
	normalized := refdata.NormalizeICD10(code)
	if v, ok := s.diagnoses[normalized]; ok {
		return v, nil
	}
	return refdata.ValidationResult{
		IsValid:        false,
		Code:           code,
		NormalizedCode: normalized,
		Message:        "ICD-10 code not found in reference table: " + normalized,
	}, nil
}

func (s *stubRefData) LookupProceduresForService(_ context.Context, _ string) (refdata.ProcedureLookup, error) {
	return s.lookup, nil
}

func strp(s string) *string { return &s }

func newStubRefData() *stubRefData {
	return &stubRefData{
		diagnoses: map[string]refdata.ValidationResult{
			"M54.5": {
				IsValid:        true,
				Code:           "M54.5",
				NormalizedCode: "M54.5",
				Description:    strp("Low back pain"),
				Category:       strp("Musculoskeletal"),
				BodyRegion:     strp("Lumbar Spine"),
				Message:        "valid ICD-10 code",
			},
		},
		lookup: refdata.ProcedureLookup{
			Found:       true,
			ServiceType: "MRI",
			Codes: []*refdata.ProcedureCode{
				{Code: "72148", Description: "MRI lumbar spine without contrast"},
				{Code: "72141", Description: "MRI cervical spine without contrast"},
			},
		},
	}
}

func field(value string, conf int) *Field {
	return &Field{Value: value, Confidence: conf}
}

func TestConvert_ExplicitFields(t *testing.T) {
	conv := NewConverter(newStubRefData())
	rec := &Record{
		ClaimantFirstName: field("John", 95),
		ClaimantLastName:  field("Doe", 92),
		ClaimNumber:       field("WC-2025-001234", 90),
		InsuranceCarrier:  field("Acme Insurance", 88),
		ClaimantPhone:     field("555.123.4567", 85),
		ClaimantDOB:       field("3/15/1985", 90),
		ClaimantState:     field("Illinois", 80),
		ClaimantZip:       field("62701-1234", 82),
	}

	res, err := conv.Convert(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	r := res.Referral
	if *r.PatientFirstName != "John" || *r.PatientLastName != "Doe" {
		t.Errorf("name = %v %v", r.PatientFirstName, r.PatientLastName)
	}
	if *r.PatientPhone != "(555) 123-4567" {
		t.Errorf("phone = %v", *r.PatientPhone)
	}
	if *r.PatientDOB != "1985-03-15" {
		t.Errorf("dob = %v", *r.PatientDOB)
	}
	if *r.PatientState != "IL" {
		t.Errorf("state = %v", *r.PatientState)
	}
	if *r.PatientZip != "627011234" {
		t.Errorf("zip = %v", *r.PatientZip)
	}
	if res.FieldConfidence["first_name"] != 95 {
		t.Errorf("first_name confidence = %v", res.FieldConfidence["first_name"])
	}
}

func TestConvert_NameSplitFallback(t *testing.T) {
	conv := NewConverter(nil)
	rec := &Record{ClaimantName: field("Jane Q Public", 90)}

	res, err := conv.Convert(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if *res.Referral.PatientFirstName != "Jane" {
		t.Errorf("first = %v", res.Referral.PatientFirstName)
	}
	if *res.Referral.PatientLastName != "Q Public" {
		t.Errorf("last = %v", res.Referral.PatientLastName)
	}
	if res.FieldConfidence["first_name"] != 85 || res.FieldConfidence["last_name"] != 85 {
		t.Errorf("split confidence = %v", res.FieldConfidence)
	}
}

func TestConvert_ExplicitNameWins(t *testing.T) {
	conv := NewConverter(nil)
	rec := &Record{
		ClaimantFirstName: field("John", 95),
		ClaimantName:      field("Someone Else", 90),
	}

	res, err := conv.Convert(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if *res.Referral.PatientFirstName != "John" {
		t.Errorf("first = %v", res.Referral.PatientFirstName)
	}
	// last name still falls back to the combined field
	if *res.Referral.PatientLastName != "Else" {
		t.Errorf("last = %v", res.Referral.PatientLastName)
	}
	if res.FieldConfidence["first_name"] != 95 || res.FieldConfidence["last_name"] != 85 {
		t.Errorf("confidence = %v", res.FieldConfidence)
	}
}

func TestConvert_AddressFallbackFillsMissingOnly(t *testing.T) {
	conv := NewConverter(nil)
	rec := &Record{
		ClaimantCity:    field("Springfield", 90),
		ClaimantAddress: field("123 Main St, Shelbyville, IL 62701", 80),
	}

	res, err := conv.Convert(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	r := res.Referral
	if *r.PatientAddress1 != "123 Main St" {
		t.Errorf("address_1 = %v", r.PatientAddress1)
	}
	if *r.PatientCity != "Springfield" {
		t.Errorf("explicit city overwritten: %v", *r.PatientCity)
	}
	if *r.PatientState != "IL" || *r.PatientZip != "62701" {
		t.Errorf("state/zip = %v %v", r.PatientState, r.PatientZip)
	}
	if res.FieldConfidence["city"] != 90 {
		t.Errorf("explicit city confidence = %v", res.FieldConfidence["city"])
	}
	if res.FieldConfidence["address_1"] != 70 || res.FieldConfidence["zip"] != 70 {
		t.Errorf("parsed component confidence = %v", res.FieldConfidence)
	}
}

func TestConvert_DiagnosisEnrichment(t *testing.T) {
	conv := NewConverter(newStubRefData())
	rec := &Record{ICD10Code: field("m54.5", 88)}

	res, err := conv.Convert(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	r := res.Referral
	if *r.ICD10Code != "M54.5" {
		t.Errorf("code = %v", *r.ICD10Code)
	}
	if r.ICD10Description == nil || *r.ICD10Description != "Low back pain" {
		t.Errorf("description = %v", r.ICD10Description)
	}
	if r.ICD10Category == nil || *r.ICD10Category != "Musculoskeletal" {
		t.Errorf("category = %v", r.ICD10Category)
	}
	if res.FieldConfidence["icd10_category"] != 95 {
		t.Errorf("category confidence = %v", res.FieldConfidence["icd10_category"])
	}
	if r.BodyParts == nil || *r.BodyParts != "Lumbar Spine" {
		t.Errorf("body parts = %v", r.BodyParts)
	}
}

func TestConvert_InvalidDiagnosisKeptWithWarning(t *testing.T) {
	conv := NewConverter(newStubRefData())
	rec := &Record{ICD10Code: field("Z99.9", 75)}

	res, err := conv.Convert(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if res.Referral.ICD10Code == nil || *res.Referral.ICD10Code != "Z99.9" {
		t.Errorf("raw code should be kept: %v", res.Referral.ICD10Code)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "not found") {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestConvert_ProcedureDerivation(t *testing.T) {
	conv := NewConverter(newStubRefData())
	rec := &Record{ServiceRequested: field("MRI lumbar spine without contrast", 90)}

	res, err := conv.Convert(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if res.Referral.ProcedureCode == nil || *res.Referral.ProcedureCode != "72148" {
		t.Errorf("procedure_code = %v", res.Referral.ProcedureCode)
	}
	if res.FieldConfidence["procedure_code"] != 85 {
		t.Errorf("procedure confidence = %v", res.FieldConfidence["procedure_code"])
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "72141") {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestConvert_ExtractedProcedureWins(t *testing.T) {
	conv := NewConverter(newStubRefData())
	rec := &Record{
		ServiceRequested:        field("MRI lumbar spine", 90),
		AssociatedProcedureCode: field("72148", 80),
	}

	res, err := conv.Convert(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if *res.Referral.ProcedureCode != "72148" {
		t.Errorf("procedure_code = %v", res.Referral.ProcedureCode)
	}
	if res.FieldConfidence["procedure_code"] != 80 {
		t.Errorf("confidence = %v", res.FieldConfidence["procedure_code"])
	}
	if len(res.Warnings) != 0 {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestConvert_OverallConfidence(t *testing.T) {
	conv := NewConverter(nil)
	rec := &Record{
		ClaimNumber:   field("WC-1", 90),
		ClaimantPhone: field("5551234567", 70),
	}

	res, err := conv.Convert(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if res.OverallConfidence != 80 {
		t.Errorf("overall = %v", res.OverallConfidence)
	}
	if res.Referral.ExtractionConfidence != 0.8 {
		t.Errorf("stored confidence = %v", res.Referral.ExtractionConfidence)
	}
	if res.Referral.NeedsHumanReview {
		t.Error("confidence at threshold should not need review")
	}
}

func TestConvert_LowConfidenceNeedsReview(t *testing.T) {
	conv := NewConverter(nil)
	rec := &Record{ClaimNumber: field("WC-1", 60)}

	res, err := conv.Convert(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Referral.NeedsHumanReview {
		t.Error("low confidence should need review")
	}
}

func TestConvert_EmptyRecord(t *testing.T) {
	conv := NewConverter(nil)
	res, err := conv.Convert(context.Background(), &Record{})
	if err != nil {
		t.Fatal(err)
	}
	if res.OverallConfidence != 0 {
		t.Errorf("overall = %v", res.OverallConfidence)
	}
	if !res.Referral.NeedsHumanReview {
		t.Error("empty record should need review")
	}
}

func TestConvert_MalformedNPIDropped(t *testing.T) {
	conv := NewConverter(nil)
	rec := &Record{ReferringPhysicianNPI: field("12345", 90)}

	res, err := conv.Convert(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if res.Referral.PhysicianNPI != nil {
		t.Errorf("npi = %v", res.Referral.PhysicianNPI)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestConvert_UnparseableDateWarns(t *testing.T) {
	conv := NewConverter(nil)
	rec := &Record{ClaimantDOB: field("sometime in March", 80)}

	res, err := conv.Convert(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if res.Referral.PatientDOB == nil || *res.Referral.PatientDOB != "sometime in March" {
		t.Errorf("dob = %v", res.Referral.PatientDOB)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "date of birth") {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

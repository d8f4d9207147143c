package refdata

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// icd10Format matches a normalized ICD-10 code: letter, two digits, optional
// dotted extension of 1-4 characters with an optional trailing letter.
var icd10Format = regexp.MustCompile(`^[A-Z]\d{2}(\.\d{1,4}[A-Z]?)?$`)

type Service struct {
	diagnoses  DiagnosisRepository
	procedures ProcedureRepository
}

func NewService(diagnoses DiagnosisRepository, procedures ProcedureRepository) *Service {
	return &Service{diagnoses: diagnoses, procedures: procedures}
}

// NormalizeICD10 uppercases and strips whitespace, including inner spaces
// ("m54 . 5" becomes "M54.5").
func NormalizeICD10(code string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), " ", ""))
}

// ValidateDiagnosis checks format then looks the code up in the reference
// table. Lookup misses are reported in the result, not as an error.
func (s *Service) ValidateDiagnosis(ctx context.Context, code string) (ValidationResult, error) {
	if code == "" {
		return ValidationResult{IsValid: false, Code: code, Message: "no code provided"}, nil
	}

	normalized := NormalizeICD10(code)
	if !icd10Format.MatchString(normalized) {
		return ValidationResult{
			IsValid:        false,
			Code:           code,
			NormalizedCode: normalized,
			Message:        fmt.Sprintf("invalid ICD-10 format: %s", code),
		}, nil
	}

	d, err := s.diagnoses.GetByCode(ctx, normalized)
	if errors.Is(err, ErrNotFound) {
		return ValidationResult{
			IsValid:        false,
			Code:           code,
			NormalizedCode: normalized,
			Message:        fmt.Sprintf("ICD-10 code not found in reference table: %s", normalized),
		}, nil
	}
	if err != nil {
		return ValidationResult{}, fmt.Errorf("looking up diagnosis %s: %w", normalized, err)
	}

	return ValidationResult{
		IsValid:        true,
		Code:           code,
		NormalizedCode: d.Code,
		Description:    &d.Description,
		Category:       d.Category,
		BodyRegion:     d.BodyRegion,
		Message:        "valid ICD-10 code",
	}, nil
}

// CategorizeService maps a free-text service request to a service-type
// label. Keyword order encodes priority; unknown text returns "".
func CategorizeService(text string) string {
	lower := strings.ToLower(text)

	for _, kw := range []string{"pt ", "physical therapy", "pt evaluation", "pt eval", "therapeutic exercise"} {
		if strings.Contains(lower, kw) {
			if strings.Contains(lower, "eval") {
				return "PT Evaluation"
			}
			return "PT Treatment"
		}
	}
	if strings.Contains(lower, "mri") {
		return "MRI"
	}
	if strings.Contains(lower, "ct ") || strings.Contains(lower, "ct scan") || strings.Contains(lower, "computed tomography") {
		return "CT Scan"
	}
	if strings.Contains(lower, "x-ray") || strings.Contains(lower, "xray") || strings.Contains(lower, "radiograph") {
		return "X-Ray"
	}
	if strings.Contains(lower, "ultrasound") || strings.Contains(lower, "sonograph") {
		return "Ultrasound"
	}
	if strings.Contains(lower, "ime") || strings.Contains(lower, "independent medical") {
		return "IME"
	}
	if strings.Contains(lower, "fce") || strings.Contains(lower, "functional capacity") {
		return "FCE"
	}
	if strings.Contains(lower, "chiro") {
		return "Chiropractic"
	}
	if strings.Contains(lower, "ot ") || strings.Contains(lower, "occupational therapy") {
		return "OT Treatment"
	}
	return ""
}

// LookupProceduresForService categorizes free text and returns every active
// procedure row for the matched service type.
func (s *Service) LookupProceduresForService(ctx context.Context, serviceRequested string) (ProcedureLookup, error) {
	if serviceRequested == "" {
		return ProcedureLookup{Found: false, ServiceType: "", Message: "no service provided"}, nil
	}

	serviceType := CategorizeService(serviceRequested)
	if serviceType == "" {
		return ProcedureLookup{
			Found:       false,
			ServiceType: "unknown",
			Message:     fmt.Sprintf("could not categorize service: %s", serviceRequested),
		}, nil
	}

	codes, err := s.procedures.ListByServiceTypes(ctx, []string{serviceType}, nil)
	if err != nil {
		return ProcedureLookup{}, fmt.Errorf("listing procedures for %s: %w", serviceType, err)
	}
	if len(codes) == 0 {
		return ProcedureLookup{
			Found:       false,
			ServiceType: serviceType,
			Message:     fmt.Sprintf("no procedure codes found for service type: %s", serviceType),
		}, nil
	}
	return ProcedureLookup{
		Found:       true,
		ServiceType: serviceType,
		Codes:       codes,
		Message:     fmt.Sprintf("found %d procedure code(s) for %s", len(codes), serviceType),
	}, nil
}

// ProceduresForServiceTypes is the parser-facing lookup: rows for a fixed
// set of service-type labels, optionally restricted by contrast.
func (s *Service) ProceduresForServiceTypes(ctx context.Context, serviceTypes []string, withContrast *bool) ([]*ProcedureCode, error) {
	if len(serviceTypes) == 0 {
		return nil, nil
	}
	return s.procedures.ListByServiceTypes(ctx, serviceTypes, withContrast)
}

package refdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// LoadDiagnosisCSV upserts diagnosis codes from a CSV with a header row of
// code,description,category,body_region. Returns the number of rows loaded.
func (s *Service) LoadDiagnosisCSV(ctx context.Context, r io.Reader) (int, error) {
	rows, err := readCSV(r)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, row := range rows {
		code := strings.TrimSpace(row["code"])
		if code == "" {
			continue
		}
		d := &DiagnosisCode{
			Code:        NormalizeICD10(code),
			Description: strings.TrimSpace(row["description"]),
			Category:    optional(row["category"]),
			BodyRegion:  optional(row["body_region"]),
		}
		if err := s.diagnoses.Upsert(ctx, d); err != nil {
			return count, fmt.Errorf("upserting diagnosis %s: %w", d.Code, err)
		}
		count++
	}
	return count, nil
}

// LoadProcedureCSV upserts procedure codes from a CSV with a header row of
// code,description,service_type,modality,body_region,with_contrast.
func (s *Service) LoadProcedureCSV(ctx context.Context, r io.Reader) (int, error) {
	rows, err := readCSV(r)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, row := range rows {
		code := strings.TrimSpace(row["code"])
		if code == "" {
			continue
		}
		p := &ProcedureCode{
			Code:         strings.ToUpper(code),
			Description:  strings.TrimSpace(row["description"]),
			ServiceType:  optional(row["service_type"]),
			Modality:     optional(row["modality"]),
			BodyRegion:   optional(row["body_region"]),
			WithContrast: strings.EqualFold(strings.TrimSpace(row["with_contrast"]), "true"),
		}
		if err := s.procedures.Upsert(ctx, p); err != nil {
			return count, fmt.Errorf("upserting procedure %s: %w", p.Code, err)
		}
		count++
	}
	return count, nil
}

func readCSV(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	var rows []map[string]string
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV row: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, v := range record {
			if i < len(header) {
				row[header[i]] = v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func strptr(s string) *string { return &s }

// Seed loads a starter reference set: the imaging, therapy, and evaluation
// procedures the parser derives codes from, plus common work-comp ICD-10
// codes. Idempotent via upsert.
func (s *Service) Seed(ctx context.Context) error {
	procedures := []*ProcedureCode{
		{Code: "72148", Description: "MRI lumbar spine without contrast", ServiceType: strptr("MRI"), Modality: strptr("Imaging"), BodyRegion: strptr("Spine"), WithContrast: false, RequiresAuth: true},
		{Code: "72149", Description: "MRI lumbar spine with contrast", ServiceType: strptr("MRI"), Modality: strptr("Imaging"), BodyRegion: strptr("Spine"), WithContrast: true, RequiresAuth: true},
		{Code: "72141", Description: "MRI cervical spine without contrast", ServiceType: strptr("MRI"), Modality: strptr("Imaging"), BodyRegion: strptr("Spine"), WithContrast: false, RequiresAuth: true},
		{Code: "73721", Description: "MRI lower extremity joint without contrast", ServiceType: strptr("MRI"), Modality: strptr("Imaging"), BodyRegion: strptr("Lower Extremity"), WithContrast: false, RequiresAuth: true},
		{Code: "72131", Description: "CT lumbar spine without contrast", ServiceType: strptr("CT Scan"), Modality: strptr("Imaging"), BodyRegion: strptr("Spine"), WithContrast: false, RequiresAuth: true},
		{Code: "72132", Description: "CT lumbar spine with contrast", ServiceType: strptr("CT Scan"), Modality: strptr("Imaging"), BodyRegion: strptr("Spine"), WithContrast: true, RequiresAuth: true},
		{Code: "72100", Description: "X-ray lumbar spine 2-3 views", ServiceType: strptr("X-Ray"), Modality: strptr("Imaging"), BodyRegion: strptr("Spine"), WithContrast: false},
		{Code: "73030", Description: "X-ray shoulder 2+ views", ServiceType: strptr("X-Ray"), Modality: strptr("Imaging"), BodyRegion: strptr("Upper Extremity"), WithContrast: false},
		{Code: "76881", Description: "Ultrasound extremity complete", ServiceType: strptr("Ultrasound"), Modality: strptr("Imaging"), BodyRegion: strptr("Upper Extremity"), WithContrast: false},
		{Code: "97161", Description: "PT evaluation low complexity", ServiceType: strptr("PT Evaluation"), Modality: strptr("Physical Therapy")},
		{Code: "97162", Description: "PT evaluation moderate complexity", ServiceType: strptr("PT Evaluation"), Modality: strptr("Physical Therapy")},
		{Code: "97110", Description: "Therapeutic exercise 15 min", ServiceType: strptr("PT Treatment"), Modality: strptr("Physical Therapy")},
		{Code: "97140", Description: "Manual therapy 15 min", ServiceType: strptr("PT Treatment"), Modality: strptr("Physical Therapy")},
		{Code: "97165", Description: "OT evaluation low complexity", ServiceType: strptr("OT Evaluation"), Modality: strptr("Occupational Therapy")},
		{Code: "97530", Description: "Therapeutic activities 15 min", ServiceType: strptr("OT Treatment"), Modality: strptr("Occupational Therapy")},
		{Code: "98940", Description: "Chiropractic manipulation 1-2 regions", ServiceType: strptr("Chiropractic"), Modality: strptr("Chiropractic")},
		{Code: "99456", Description: "Independent medical examination", ServiceType: strptr("IME"), Modality: strptr("Evaluation")},
		{Code: "97750", Description: "Functional capacity evaluation", ServiceType: strptr("FCE"), Modality: strptr("Evaluation")},
		{Code: "62323", Description: "Lumbar epidural steroid injection", ServiceType: strptr("Injection"), Modality: strptr("Pain Management"), BodyRegion: strptr("Spine"), RequiresAuth: true},
	}
	for _, p := range procedures {
		if err := s.procedures.Upsert(ctx, p); err != nil {
			return fmt.Errorf("seeding procedure %s: %w", p.Code, err)
		}
	}

	diagnoses := []*DiagnosisCode{
		{Code: "M54.5", Description: "Low back pain", Category: strptr("Dorsopathies"), BodyRegion: strptr("Lumbar Spine")},
		{Code: "M54.2", Description: "Cervicalgia", Category: strptr("Dorsopathies"), BodyRegion: strptr("Cervical Spine")},
		{Code: "M25.511", Description: "Pain in right shoulder", Category: strptr("Arthropathies"), BodyRegion: strptr("Shoulder")},
		{Code: "M25.512", Description: "Pain in left shoulder", Category: strptr("Arthropathies"), BodyRegion: strptr("Shoulder")},
		{Code: "M25.561", Description: "Pain in right knee", Category: strptr("Arthropathies"), BodyRegion: strptr("Knee")},
		{Code: "M25.562", Description: "Pain in left knee", Category: strptr("Arthropathies"), BodyRegion: strptr("Knee")},
		{Code: "S33.5XXA", Description: "Sprain of ligaments of lumbar spine, initial encounter", Category: strptr("Injury"), BodyRegion: strptr("Lumbar Spine")},
		{Code: "S43.401A", Description: "Unspecified sprain of right shoulder joint, initial encounter", Category: strptr("Injury"), BodyRegion: strptr("Shoulder")},
		{Code: "G56.01", Description: "Carpal tunnel syndrome, right upper limb", Category: strptr("Nerve disorders"), BodyRegion: strptr("Wrist")},
		{Code: "S83.511A", Description: "Sprain of anterior cruciate ligament of right knee, initial encounter", Category: strptr("Injury"), BodyRegion: strptr("Knee")},
	}
	for _, d := range diagnoses {
		if err := s.diagnoses.Upsert(ctx, d); err != nil {
			return fmt.Errorf("seeding diagnosis %s: %w", d.Code, err)
		}
	}
	return nil
}

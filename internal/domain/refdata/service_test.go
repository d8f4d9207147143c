package refdata

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
)

// Map-backed repositories for tests.

type mockDiagnosisRepo struct {
	byCode map[string]*DiagnosisCode
}

func newMockDiagnosisRepo() *mockDiagnosisRepo {
	return &mockDiagnosisRepo{byCode: make(map[string]*DiagnosisCode)}
}

func (m *mockDiagnosisRepo) Upsert(_ context.Context, d *DiagnosisCode) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	m.byCode[strings.ToUpper(d.Code)] = d
	return nil
}

func (m *mockDiagnosisRepo) GetByCode(_ context.Context, code string) (*DiagnosisCode, error) {
	d, ok := m.byCode[strings.ToUpper(code)]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (m *mockDiagnosisRepo) ListByCategory(_ context.Context, category string) ([]*DiagnosisCode, error) {
	var out []*DiagnosisCode
	for _, d := range m.byCode {
		if d.Category != nil && strings.EqualFold(*d.Category, category) {
			out = append(out, d)
		}
	}
	return out, nil
}

type mockProcedureRepo struct {
	rows []*ProcedureCode
}

func (m *mockProcedureRepo) Upsert(_ context.Context, p *ProcedureCode) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	for i, row := range m.rows {
		if strings.EqualFold(row.Code, p.Code) {
			m.rows[i] = p
			return nil
		}
	}
	m.rows = append(m.rows, p)
	return nil
}

func (m *mockProcedureRepo) GetByCode(_ context.Context, code string) (*ProcedureCode, error) {
	for _, row := range m.rows {
		if strings.EqualFold(row.Code, code) {
			return row, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockProcedureRepo) ListByServiceTypes(_ context.Context, serviceTypes []string, withContrast *bool) ([]*ProcedureCode, error) {
	var out []*ProcedureCode
	for _, row := range m.rows {
		if row.ServiceType == nil {
			continue
		}
		matched := false
		for _, st := range serviceTypes {
			if strings.EqualFold(*row.ServiceType, st) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if withContrast != nil && row.WithContrast != *withContrast {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc := NewService(newMockDiagnosisRepo(), &mockProcedureRepo{})
	if err := svc.Seed(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return svc
}

func TestNormalizeICD10(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"m54.5", "M54.5"},
		{" M54.5 ", "M54.5"},
		{"m54 . 5", "M54.5"},
		{"S33.5XXA", "S33.5XXA"},
	}
	for _, tt := range tests {
		if got := NormalizeICD10(tt.in); got != tt.want {
			t.Errorf("NormalizeICD10(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateDiagnosis(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	res, err := svc.ValidateDiagnosis(ctx, "m54.5")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !res.IsValid {
		t.Errorf("expected m54.5 valid, got %+v", res)
	}
	if res.NormalizedCode != "M54.5" {
		t.Errorf("expected normalized M54.5, got %q", res.NormalizedCode)
	}
	if res.Description == nil || *res.Description != "Low back pain" {
		t.Errorf("expected description enrichment, got %+v", res.Description)
	}
}

func TestValidateDiagnosis_BadFormat(t *testing.T) {
	svc := newTestService(t)

	for _, code := range []string{"54.5", "MM54", "M5", "M54.55555"} {
		res, err := svc.ValidateDiagnosis(context.Background(), code)
		if err != nil {
			t.Fatalf("validate %q: %v", code, err)
		}
		if res.IsValid {
			t.Errorf("expected %q invalid", code)
		}
	}
}

func TestValidateDiagnosis_NotInTable(t *testing.T) {
	svc := newTestService(t)

	res, err := svc.ValidateDiagnosis(context.Background(), "Z99.9")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.IsValid {
		t.Error("expected unknown code to be invalid")
	}
	if res.NormalizedCode != "Z99.9" {
		t.Errorf("expected normalized code carried through, got %q", res.NormalizedCode)
	}
}

func TestValidateDiagnosis_Empty(t *testing.T) {
	svc := newTestService(t)
	res, err := svc.ValidateDiagnosis(context.Background(), "")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.IsValid {
		t.Error("expected empty code invalid")
	}
}

func TestCategorizeService(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"PT evaluation and treatment", "PT Evaluation"},
		{"physical therapy 3x week", "PT Treatment"},
		{"MRI lumbar spine", "MRI"},
		{"ct scan of head", "CT Scan"},
		{"computed tomography chest", "CT Scan"},
		{"x-ray right shoulder", "X-Ray"},
		{"xray wrist", "X-Ray"},
		{"ultrasound left knee", "Ultrasound"},
		{"ime with Dr. Jones", "IME"},
		{"independent medical exam", "IME"},
		{"functional capacity eval", "FCE"},
		{"chiropractic care", "Chiropractic"},
		{"occupational therapy", "OT Treatment"},
		{"acupuncture", ""},
	}
	for _, tt := range tests {
		if got := CategorizeService(tt.in); got != tt.want {
			t.Errorf("CategorizeService(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLookupProceduresForService(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	res, err := svc.LookupProceduresForService(ctx, "MRI lumbar spine without contrast")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !res.Found || res.ServiceType != "MRI" {
		t.Fatalf("expected MRI lookup hit, got %+v", res)
	}
	if len(res.Codes) == 0 {
		t.Error("expected MRI procedure rows")
	}
}

func TestLookupProceduresForService_Uncategorized(t *testing.T) {
	svc := newTestService(t)

	res, err := svc.LookupProceduresForService(context.Background(), "massage therapy")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if res.Found || res.ServiceType != "unknown" {
		t.Errorf("expected explicit miss, got %+v", res)
	}
}

func TestProceduresForServiceTypes_ContrastFilter(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	with := true
	rows, err := svc.ProceduresForServiceTypes(ctx, []string{"MRI", "CT Scan", "X-Ray", "Ultrasound"}, &with)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, r := range rows {
		if !r.WithContrast {
			t.Errorf("expected only with-contrast rows, got %s", r.Code)
		}
	}
	if len(rows) == 0 {
		t.Error("expected with-contrast imaging rows in seed data")
	}
}

func TestLoadDiagnosisCSV(t *testing.T) {
	svc := NewService(newMockDiagnosisRepo(), &mockProcedureRepo{})
	csvData := `code,description,category,body_region
m54.5,Low back pain,Dorsopathies,Lumbar Spine
M79.3,Panniculitis,Soft tissue,
,skipped row,,
`
	n, err := svc.LoadDiagnosisCSV(context.Background(), strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows loaded, got %d", n)
	}

	res, err := svc.ValidateDiagnosis(context.Background(), "M54.5")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !res.IsValid {
		t.Error("expected loaded code to validate")
	}
}

func TestLoadProcedureCSV_Upsert(t *testing.T) {
	procs := &mockProcedureRepo{}
	svc := NewService(newMockDiagnosisRepo(), procs)
	ctx := context.Background()

	first := `code,description,service_type,modality,body_region,with_contrast
72148,MRI lumbar spine,MRI,Imaging,Spine,false
`
	if _, err := svc.LoadProcedureCSV(ctx, strings.NewReader(first)); err != nil {
		t.Fatalf("first load: %v", err)
	}

	second := `code,description,service_type,modality,body_region,with_contrast
72148,MRI lumbar spine w/o contrast,MRI,Imaging,Spine,false
`
	if _, err := svc.LoadProcedureCSV(ctx, strings.NewReader(second)); err != nil {
		t.Fatalf("second load: %v", err)
	}

	if len(procs.rows) != 1 {
		t.Fatalf("expected upsert to keep 1 row, got %d", len(procs.rows))
	}
	if procs.rows[0].Description != "MRI lumbar spine w/o contrast" {
		t.Errorf("expected description overwritten, got %q", procs.rows[0].Description)
	}
}

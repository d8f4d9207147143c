package extraction

import (
	"encoding/json"
	"testing"
)

func TestDecode(t *testing.T) {
	raw := json.RawMessage(`{
		"claimant_first_name": "John",
		"claimant_last_name": "Doe",
		"claim_number": "WC-2025-001234",
		"claimant_zip": 62701,
		"not_a_real_field": "ignored",
		"confidence_scores": {
			"claimant_first_name": 95,
			"claimant_last_name": 92,
			"claim_number": 88,
			"claimant_zip": 70
		}
	}`)

	rec, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ClaimantFirstName.Text() != "John" || rec.ClaimantFirstName.Score() != 95 {
		t.Errorf("first name field = %+v", rec.ClaimantFirstName)
	}
	if rec.ClaimantZip.Text() != "62701" {
		t.Errorf("numeric zip = %q", rec.ClaimantZip.Text())
	}
	if rec.ClaimantPhone != nil {
		t.Errorf("absent field should stay nil, got %+v", rec.ClaimantPhone)
	}
}

func TestDecode_ConfidenceFloor(t *testing.T) {
	raw := json.RawMessage(`{
		"claim_number": "WC-1",
		"claimant_phone": "555-123-4567",
		"confidence_scores": {"claim_number": 49, "claimant_phone": 50}
	}`)

	rec, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ClaimNumber != nil {
		t.Error("field below confidence floor should be absent")
	}
	if rec.ClaimantPhone.Text() != "555-123-4567" {
		t.Error("field at the floor should be kept")
	}
}

func TestDecode_MissingScoreDefaultsToFloor(t *testing.T) {
	rec, err := Decode(json.RawMessage(`{"claim_number": "WC-1"}`))
	if err != nil {
		t.Fatal(err)
	}
	if rec.ClaimNumber.Score() != ConfidenceFloor {
		t.Errorf("confidence = %d", rec.ClaimNumber.Score())
	}
}

func TestDecode_EmptyAndNullValues(t *testing.T) {
	rec, err := Decode(json.RawMessage(`{
		"claim_number": "",
		"claimant_city": null,
		"confidence_scores": {"claim_number": 90, "claimant_city": 90}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Empty() {
		t.Errorf("record = %+v", rec)
	}
}

func TestDecode_EveryFieldHasASlot(t *testing.T) {
	rec := &Record{}
	seen := map[string]bool{}
	for _, s := range rec.slots() {
		if s.name == "" || s.dst == nil {
			t.Fatalf("malformed slot %+v", s)
		}
		if seen[s.name] {
			t.Errorf("duplicate slot name %q", s.name)
		}
		seen[s.name] = true
	}
	if len(seen) != 35 {
		t.Errorf("slot count = %d", len(seen))
	}
}

func TestDecode_InvalidJSON(t *testing.T) {
	if _, err := Decode(json.RawMessage(`not json`)); err == nil {
		t.Fatal("expected error")
	}
}

package referral

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/refcrm/refcrm/internal/platform/blobstore"
	"github.com/refcrm/refcrm/pkg/pagination"
)

type mockRepo struct {
	byID map[uuid.UUID]*Referral
}

func newMockRepo() *mockRepo {
	return &mockRepo{byID: map[uuid.UUID]*Referral{}}
}

func (m *mockRepo) Create(_ context.Context, r *Referral) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = StatusDraft
	}
	cp := *r
	m.byID[r.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Referral, error) {
	r, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRepo) GetByEmailID(_ context.Context, emailID uuid.UUID) (*Referral, error) {
	for _, r := range m.byID {
		if r.EmailID != nil && *r.EmailID == emailID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) Update(_ context.Context, r *Referral) error {
	if _, ok := m.byID[r.ID]; !ok {
		return ErrNotFound
	}
	cp := *r
	m.byID[r.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.byID[id]; !ok {
		return ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, filter ListFilter, _ pagination.Params) ([]Referral, int, error) {
	var out []Referral
	for _, r := range m.byID {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, *r)
	}
	return out, len(out), nil
}

func (m *mockRepo) CountByStatus(_ context.Context) (map[string]int, error) {
	counts := map[string]int{}
	for _, r := range m.byID {
		counts[r.Status]++
	}
	return counts, nil
}

type mockLineItems struct {
	byReferral map[uuid.UUID][]LineItem
}

func newMockLineItems() *mockLineItems {
	return &mockLineItems{byReferral: map[uuid.UUID][]LineItem{}}
}

func (m *mockLineItems) Create(_ context.Context, item *LineItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	m.byReferral[item.ReferralID] = append(m.byReferral[item.ReferralID], *item)
	return nil
}

func (m *mockLineItems) GetByID(_ context.Context, id uuid.UUID) (*LineItem, error) {
	for _, items := range m.byReferral {
		for _, item := range items {
			if item.ID == id {
				cp := item
				return &cp, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (m *mockLineItems) ListByReferral(_ context.Context, referralID uuid.UUID) ([]LineItem, error) {
	items := append([]LineItem(nil), m.byReferral[referralID]...)
	sort.Slice(items, func(i, j int) bool { return items[i].LineNumber < items[j].LineNumber })
	return items, nil
}

func (m *mockLineItems) Update(_ context.Context, item *LineItem) error {
	items := m.byReferral[item.ReferralID]
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = *item
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockLineItems) Delete(_ context.Context, id uuid.UUID) error {
	for rid, items := range m.byReferral {
		for i := range items {
			if items[i].ID == id {
				m.byReferral[rid] = append(items[:i], items[i+1:]...)
				return nil
			}
		}
	}
	return ErrNotFound
}

func (m *mockLineItems) NextLineNumber(_ context.Context, referralID uuid.UUID) (int, error) {
	max := 0
	for _, item := range m.byReferral[referralID] {
		if item.LineNumber > max {
			max = item.LineNumber
		}
	}
	return max + 1, nil
}

type mockCarriers struct {
	byName map[string]*Carrier
}

func newMockCarriers() *mockCarriers {
	return &mockCarriers{byName: map[string]*Carrier{}}
}

func (m *mockCarriers) Create(_ context.Context, c *Carrier) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.IsActive = true
	cp := *c
	m.byName[strings.ToLower(c.Name)] = &cp
	return nil
}

func (m *mockCarriers) GetByID(_ context.Context, id uuid.UUID) (*Carrier, error) {
	for _, c := range m.byName {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockCarriers) GetByName(_ context.Context, name string) (*Carrier, error) {
	c, ok := m.byName[strings.ToLower(name)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCarriers) List(_ context.Context) ([]Carrier, error) {
	var out []Carrier
	for _, c := range m.byName {
		out = append(out, *c)
	}
	return out, nil
}

type mockHistory struct {
	changes []StatusChange
}

func (m *mockHistory) Add(_ context.Context, change *StatusChange) error {
	if change.ID == uuid.Nil {
		change.ID = uuid.New()
	}
	change.CreatedAt = time.Now().UTC()
	m.changes = append(m.changes, *change)
	return nil
}

func (m *mockHistory) ListByReferral(_ context.Context, referralID uuid.UUID) ([]StatusChange, error) {
	var out []StatusChange
	for _, c := range m.changes {
		if c.ReferralID == referralID {
			out = append(out, c)
		}
	}
	return out, nil
}

type stubSubmitter struct {
	fields   map[string]string
	recordID string
	err      error
}

func (s *stubSubmitter) CreateRecord(_ context.Context, fields map[string]string) (string, error) {
	s.fields = fields
	if s.err != nil {
		return "", s.err
	}
	return s.recordID, nil
}

type testEnv struct {
	svc       *Service
	repo      *mockRepo
	lineItems *mockLineItems
	carriers  *mockCarriers
	history   *mockHistory
	submitter *stubSubmitter
	blobs     *blobstore.Memory
}

func newTestEnv() *testEnv {
	env := &testEnv{
		repo:      newMockRepo(),
		lineItems: newMockLineItems(),
		carriers:  newMockCarriers(),
		history:   &mockHistory{},
		submitter: &stubSubmitter{recordID: "1042"},
		blobs:     blobstore.NewMemory(),
	}
	env.svc = NewService(env.repo, env.lineItems, env.carriers, env.history,
		NewParser(nil), env.submitter, env.blobs, zerolog.Nop())
	return env
}

func TestService_CreateMatchesCarrier(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	existing := &Carrier{Name: "Acme Insurance"}
	if err := env.carriers.Create(ctx, existing); err != nil {
		t.Fatal(err)
	}

	r := validReferral()
	if err := env.svc.Create(ctx, r); err != nil {
		t.Fatal(err)
	}
	if r.CarrierID == nil || *r.CarrierID != existing.ID {
		t.Errorf("carrier_id = %v, want %v", r.CarrierID, existing.ID)
	}

	// unknown carrier names get registered
	r2 := validReferral()
	r2.CarrierNameRaw = strp("New Carrier Co")
	if err := env.svc.Create(ctx, r2); err != nil {
		t.Fatal(err)
	}
	if r2.CarrierID == nil {
		t.Fatal("new carrier should have been created")
	}
	if _, err := env.carriers.GetByName(ctx, "new carrier co"); err != nil {
		t.Errorf("carrier lookup failed: %v", err)
	}
}

func TestService_TransitionRecordsHistory(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	r := validReferral()
	if err := env.svc.Create(ctx, r); err != nil {
		t.Fatal(err)
	}

	actor := "intake-team"
	updated, err := env.svc.Transition(ctx, r.ID, StatusPendingValidation, &actor, nil)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != StatusPendingValidation {
		t.Errorf("status = %s", updated.Status)
	}

	changes, err := env.svc.History(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 {
		t.Fatalf("history = %v", changes)
	}
	if changes[0].FromStatus != StatusDraft || changes[0].ToStatus != StatusPendingValidation {
		t.Errorf("change = %+v", changes[0])
	}
	if changes[0].Actor == nil || *changes[0].Actor != "intake-team" {
		t.Errorf("actor = %v", changes[0].Actor)
	}
}

func TestService_TransitionRejectsInvalid(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	r := validReferral()
	if err := env.svc.Create(ctx, r); err != nil {
		t.Fatal(err)
	}

	if _, err := env.svc.Transition(ctx, r.ID, StatusCompleted, nil, nil); err == nil {
		t.Fatal("draft -> completed should fail")
	}
	if len(env.history.changes) != 0 {
		t.Errorf("failed transition should not record history")
	}

	stored, _ := env.svc.Get(ctx, r.ID)
	if stored.Status != StatusDraft {
		t.Errorf("status = %s, want draft", stored.Status)
	}
}

func TestService_TransitionStampsTimestamps(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	r := validReferral()
	if err := env.svc.Create(ctx, r); err != nil {
		t.Fatal(err)
	}

	chain := []string{
		StatusPendingValidation, StatusValidated, StatusPendingScheduling,
		StatusScheduled, StatusInProgress, StatusCompleted,
	}
	for _, next := range chain {
		if _, err := env.svc.Transition(ctx, r.ID, next, nil, nil); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}

	stored, _ := env.svc.Get(ctx, r.ID)
	if stored.ValidatedAt == nil || stored.ScheduledAt == nil || stored.CompletedAt == nil {
		t.Errorf("timestamps not stamped: %+v", stored)
	}
}

func TestService_AddLineItemNumbersSequentially(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	r := validReferral()
	if err := env.svc.Create(ctx, r); err != nil {
		t.Fatal(err)
	}

	for _, desc := range []string{"MRI lumbar spine", "PT x 6 visits"} {
		item := &LineItem{ServiceDescription: desc, Modality: ModalityOther, Quantity: 1, Status: LineItemPending}
		if err := env.svc.AddLineItem(ctx, r.ID, item); err != nil {
			t.Fatal(err)
		}
	}

	items, err := env.svc.ListLineItems(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].LineNumber != 1 || items[1].LineNumber != 2 {
		t.Errorf("items = %+v", items)
	}
	if items[0].Source != "manual" {
		t.Errorf("source = %s", items[0].Source)
	}
}

func TestService_AddLineItemUnknownReferral(t *testing.T) {
	env := newTestEnv()
	item := &LineItem{ServiceDescription: "MRI"}
	if err := env.svc.AddLineItem(context.Background(), uuid.New(), item); err == nil {
		t.Fatal("expected error for unknown referral")
	}
}

func TestService_SubmitToFileMaker(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	r := validReferral()
	r.Status = StatusCompleted
	if err := env.svc.Create(ctx, r); err != nil {
		t.Fatal(err)
	}

	updated, err := env.svc.SubmitToFileMaker(ctx, r.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != StatusSubmittedFileMaker {
		t.Errorf("status = %s", updated.Status)
	}
	if updated.FileMakerRecordID == nil || *updated.FileMakerRecordID != "1042" {
		t.Errorf("filemaker_record_id = %v", updated.FileMakerRecordID)
	}
	if env.submitter.fields["Intake Client First Name"] != "John" {
		t.Errorf("submitted fields = %v", env.submitter.fields)
	}
	if env.submitter.fields["Status"] != "Pending" {
		t.Errorf("Status field = %q", env.submitter.fields["Status"])
	}
}

func TestService_SubmitRequiresCompleted(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	r := validReferral()
	if err := env.svc.Create(ctx, r); err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.SubmitToFileMaker(ctx, r.ID, nil); err == nil {
		t.Fatal("draft referral should not submit")
	}
}

func TestService_SubmitBlockedByValidation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	r := validReferral()
	r.Status = StatusCompleted
	r.PatientPhone = strp("555.123.4567")
	if err := env.svc.Create(ctx, r); err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.SubmitToFileMaker(ctx, r.ID, nil); err == nil {
		t.Fatal("invalid referral should not submit")
	}
	if env.submitter.fields != nil {
		t.Error("submitter should not have been called")
	}
}

func TestService_ArtifactLinks(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	r := validReferral()
	if err := env.svc.Create(ctx, r); err != nil {
		t.Fatal(err)
	}

	id := r.ID.String()
	for _, key := range []string{
		blobstore.EmailHTMLKey(id),
		blobstore.ExtractionKey(id),
		blobstore.AttachmentKey(id, "order.pdf"),
	} {
		if err := env.blobs.Put(ctx, key, bytes.NewReader([]byte("x")), 1, "application/octet-stream"); err != nil {
			t.Fatal(err)
		}
	}

	links, err := env.svc.ArtifactLinks(ctx, r.ID, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 3 {
		t.Fatalf("links = %v", links)
	}
	for key, url := range links {
		if url == "" {
			t.Errorf("empty link for %s", key)
		}
	}
}

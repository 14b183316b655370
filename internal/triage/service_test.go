package triage

import (
	"context"
	"errors"
	"math"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/triagem/internal/casebase"
	"github.com/linnemanlabs/triagem/internal/casebase/memstore"
)

// mockStore implements Store for testing.
type mockStore struct {
	mu        sync.Mutex
	records   map[string]*Record
	createErr error
	getErr    error
	markErr   error
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[string]*Record)}
}

func (m *mockStore) Create(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	cp := *r
	m.records[r.ID] = &cp
	return nil
}

func (m *mockStore) Get(_ context.Context, id string) (*Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	r, ok := m.records[id]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

func (m *mockStore) List(_ context.Context, filter StatusFilter) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Record
	for _, r := range m.records {
		if filter.Matches(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockStore) MarkValidated(_ context.Context, id, feedback, by string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	r, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	if r.Validated {
		return ErrAlreadyValidated
	}
	r.Validated = true
	r.Feedback = feedback
	r.ValidatedBy = by
	r.ValidatedAt = &at
	return nil
}

func (m *mockStore) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return false, nil
	}
	delete(m.records, id)
	return true, nil
}

func (m *mockStore) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	validated := 0
	reviewers := map[string]struct{}{}
	for _, r := range m.records {
		if r.Validated {
			validated++
		}
		if r.ValidatedBy != "" {
			reviewers[r.ValidatedBy] = struct{}{}
		}
	}
	return NewStats(len(m.records), validated, len(reviewers)), nil
}

// chanNotifier forwards notifications on channels.
type chanNotifier struct {
	submitted chan *Record
	validated chan *ValidationResult
	err       error
}

func newChanNotifier() *chanNotifier {
	return &chanNotifier{
		submitted: make(chan *Record, 4),
		validated: make(chan *ValidationResult, 4),
	}
}

func (n *chanNotifier) NotifySubmitted(_ context.Context, r *Record) error {
	n.submitted <- r
	return n.err
}

func (n *chanNotifier) NotifyValidated(_ context.Context, _ *Record, res *ValidationResult) error {
	n.validated <- res
	return n.err
}

func newTestService(store Store, cases casebase.Store, embedder casebase.Embedder, notifier Notifier) *Service {
	return NewService(store, cases, embedder, notifier, log.Nop(), Hooks{})
}

func TestSubmit_CreatesPendingRecord(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	svc := newTestService(store, memstore.New(), &wordEmbedder{}, nil)

	r, err := svc.Submit(context.Background(), "  febre alta ", sampleResponse)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if r.ID == "" {
		t.Fatal("expected generated id")
	}
	if r.Validated || r.ValidatedBy != "" || r.ValidatedAt != nil || r.Feedback != "" {
		t.Errorf("new record should be pending with no validation fields: %+v", r)
	}
	if r.CreatedAt.IsZero() {
		t.Error("expected CreatedAt")
	}

	got, err := svc.Get(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Symptoms != "febre alta" || got.Response != sampleResponse {
		t.Errorf("round trip = %q/%q", got.Symptoms, got.Response)
	}
}

func TestSubmit_Validation(t *testing.T) {
	t.Parallel()

	svc := newTestService(newMockStore(), memstore.New(), &wordEmbedder{}, nil)

	tests := []struct {
		name     string
		symptoms string
		response string
		wantErr  error
	}{
		{"empty symptoms", "", "resposta", ErrEmptySymptoms},
		{"blank symptoms", "   ", "resposta", ErrEmptySymptoms},
		{"empty response", "febre", "", ErrEmptyResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := svc.Submit(context.Background(), tt.symptoms, tt.response); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubmit_StoreError(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.createErr = errors.New("db down")
	svc := newTestService(store, memstore.New(), &wordEmbedder{}, nil)

	if _, err := svc.Submit(context.Background(), "febre", "resposta"); err == nil {
		t.Fatal("expected store error")
	}
}

func TestSubmit_Notifies(t *testing.T) {
	t.Parallel()

	n := newChanNotifier()
	n.err = errors.New("slack down") // must not fail the submission
	svc := newTestService(newMockStore(), memstore.New(), &wordEmbedder{}, n)

	r, err := svc.Submit(context.Background(), "febre", "resposta")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case got := <-n.submitted:
		if got.ID != r.ID {
			t.Errorf("notified id = %q, want %q", got.ID, r.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("submission notification not sent")
	}
}

func TestGet_NotFound(t *testing.T) {
	t.Parallel()

	svc := newTestService(newMockStore(), memstore.New(), &wordEmbedder{}, nil)
	if _, err := svc.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	svc := newTestService(store, memstore.New(), &wordEmbedder{}, nil)
	ctx := context.Background()

	r, _ := svc.Submit(ctx, "febre", "resposta")
	if err := svc.Delete(ctx, r.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, r.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete err = %v, want ErrNotFound", err)
	}
	list, _ := svc.List(ctx, StatusAll)
	if len(list) != 0 {
		t.Errorf("list after delete = %d, want 0", len(list))
	}
	if err := svc.Delete(ctx, r.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete err = %v, want ErrNotFound", err)
	}
}

func TestDelete_LeavesCaseBase(t *testing.T) {
	t.Parallel()

	cases := memstore.New()
	svc := newTestService(newMockStore(), cases, &wordEmbedder{}, nil)
	ctx := context.Background()

	r, _ := svc.Submit(ctx, "febre", sampleResponse)
	res, err := svc.Validate(ctx, r.ID, "dra.silva", "ok")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := svc.Delete(ctx, r.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ids, _ := cases.IDs(ctx)
	if !slices.Contains(ids, res.CaseID) {
		t.Errorf("case %s should survive record deletion, ids = %v", res.CaseID, ids)
	}
}

func TestList_FilterAndOrder(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	svc := newTestService(store, memstore.New(), &wordEmbedder{}, nil)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	a, _ := svc.Submit(ctx, "a", "resposta")
	b, _ := svc.Submit(ctx, "b", "resposta")
	c, _ := svc.Submit(ctx, "c", "resposta")
	if _, err := svc.Validate(ctx, b.ID, "rev", ""); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	tests := []struct {
		filter StatusFilter
		want   []string
	}{
		{StatusAll, []string{c.ID, b.ID, a.ID}},
		{StatusPending, []string{c.ID, a.ID}},
		{StatusValidated, []string{b.ID}},
	}
	for _, tt := range tests {
		list, err := svc.List(ctx, tt.filter)
		if err != nil {
			t.Fatalf("List(%s): %v", tt.filter, err)
		}
		var got []string
		for _, r := range list {
			got = append(got, r.ID)
		}
		if !slices.Equal(got, tt.want) {
			t.Errorf("List(%s) = %v, want %v", tt.filter, got, tt.want)
		}
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	svc := newTestService(newMockStore(), memstore.New(), &wordEmbedder{}, nil)
	ctx := context.Background()

	st, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 0 || st.ValidationRate != 0 {
		t.Errorf("empty stats = %+v, want zeros", st)
	}

	var ids []string
	for _, s := range []string{"a", "b", "c", "d"} {
		r, _ := svc.Submit(ctx, s, "resposta")
		ids = append(ids, r.ID)
	}
	_, _ = svc.Validate(ctx, ids[0], "rev1", "")
	_, _ = svc.Validate(ctx, ids[1], "rev1", "")
	_, _ = svc.Validate(ctx, ids[2], "rev2", "")

	st, _ = svc.Stats(ctx)
	want := Stats{Total: 4, Validated: 3, Pending: 1, Reviewers: 2, ValidationRate: 75}
	if st != want {
		t.Errorf("stats = %+v, want %+v", st, want)
	}
}

func TestValidationRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		validated, total int
		want             float64
	}{
		{0, 0, 0},
		{0, 5, 0},
		{1, 3, 33.333333333},
		{2, 2, 100},
	}
	for _, tt := range tests {
		if got := ValidationRate(tt.validated, tt.total); math.Abs(got-tt.want) > 1e-6 {
			t.Errorf("ValidationRate(%d, %d) = %v, want %v", tt.validated, tt.total, got, tt.want)
		}
	}
}

func TestParseStatusFilter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    StatusFilter
		wantErr bool
	}{
		{"", StatusAll, false},
		{"all", StatusAll, false},
		{"pending", StatusPending, false},
		{"validated", StatusValidated, false},
		{"done", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStatusFilter(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseStatusFilter(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestCaseBaseStatsAndEntries(t *testing.T) {
	t.Parallel()

	cases := memstore.New()
	embedder := &wordEmbedder{}
	ctx := context.Background()
	if _, err := casebase.LoadSeeds(ctx, cases, embedder, testSeeds); err != nil {
		t.Fatalf("LoadSeeds: %v", err)
	}
	svc := newTestService(newMockStore(), cases, embedder, nil)

	r, _ := svc.Submit(ctx, "febre", sampleResponse)
	if _, err := svc.Validate(ctx, r.ID, "rev", ""); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	st, err := svc.CaseBaseStats(ctx)
	if err != nil {
		t.Fatalf("CaseBaseStats: %v", err)
	}
	if st != (casebase.Stats{Total: len(testSeeds) + 1, Seed: len(testSeeds), Validated: 1}) {
		t.Errorf("case base stats = %+v", st)
	}

	validated, err := svc.CaseBaseEntries(ctx, casebase.OriginValidated)
	if err != nil {
		t.Fatalf("CaseBaseEntries: %v", err)
	}
	if len(validated) != 1 || validated[0].Origin != casebase.OriginValidated {
		t.Errorf("validated entries = %+v", validated)
	}
}

package rules

import (
	"context"
	"strings"
	"sync"
	"testing"

	apperr "argus-vms/internal/errors"
	"argus-vms/internal/schema"
)

// memStore is an in-memory Store for exercising the rule engine without a
// database. Association rows are kept separately so binding semantics are
// observable.
type memStore struct {
	mu        sync.Mutex
	cameras   map[int64]schema.Camera
	rulesByID map[int64]*schema.AnomalyRule
	bindings  map[int64][]int64 // rule ID -> camera IDs
	nextID    int64
	queries   int // storage calls observed
}

func newMemStore() *memStore {
	return &memStore{
		cameras:   make(map[int64]schema.Camera),
		rulesByID: make(map[int64]*schema.AnomalyRule),
		bindings:  make(map[int64][]int64),
		nextID:    1,
	}
}

func (m *memStore) addCamera(id, orgID int64, name string) {
	m.cameras[id] = schema.Camera{
		ID:             id,
		OrganizationID: orgID,
		Name:           name,
		Location:       "lobby",
		Address:        "10.0.0.1",
		Type:           "dome",
		Status:         schema.CameraOnline,
	}
}

func (m *memStore) OwnedCameras(_ context.Context, orgID int64, ids []int64) ([]schema.Camera, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++

	var out []schema.Camera
	for _, id := range ids {
		if cam, ok := m.cameras[id]; ok && cam.OrganizationID == orgID {
			out = append(out, cam)
		}
	}
	return out, nil
}

func (m *memStore) OwnedCamera(_ context.Context, orgID, cameraID int64) (*schema.Camera, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++

	if cam, ok := m.cameras[cameraID]; ok && cam.OrganizationID == orgID {
		c := cam
		return &c, nil
	}
	return nil, nil
}

func (m *memStore) GetRule(_ context.Context, orgID, ruleID int64) (*schema.AnomalyRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++

	rule, ok := m.rulesByID[ruleID]
	if !ok || rule.OrganizationID != orgID {
		return nil, ErrRuleNotFound
	}
	cp := *rule
	cp.Cameras = m.boundCameras(ruleID)
	return &cp, nil
}

func (m *memStore) ListRules(_ context.Context, orgID int64) ([]schema.AnomalyRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++

	var out []schema.AnomalyRule
	for id, rule := range m.rulesByID {
		if rule.OrganizationID != orgID {
			continue
		}
		cp := *rule
		cp.Cameras = m.boundCameras(id)
		out = append(out, cp)
	}
	return out, nil
}

func (m *memStore) InsertRule(_ context.Context, rule *schema.AnomalyRule, cameraIDs []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++

	id := m.nextID
	m.nextID++
	cp := *rule
	cp.ID = id
	m.rulesByID[id] = &cp
	m.bindings[id] = append([]int64(nil), cameraIDs...)
	return id, nil
}

func (m *memStore) UpdateRule(_ context.Context, rule *schema.AnomalyRule, cameraIDs []int64, rebind bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++

	if _, ok := m.rulesByID[rule.ID]; !ok {
		return ErrRuleNotFound
	}
	cp := *rule
	cp.Cameras = nil
	m.rulesByID[rule.ID] = &cp
	if rebind {
		m.bindings[rule.ID] = append([]int64(nil), cameraIDs...)
	}
	return nil
}

func (m *memStore) DeleteRule(_ context.Context, orgID, ruleID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++

	rule, ok := m.rulesByID[ruleID]
	if !ok || rule.OrganizationID != orgID {
		return ErrRuleNotFound
	}
	// Associations go first; the rule row must never outlive its bindings.
	delete(m.bindings, ruleID)
	delete(m.rulesByID, ruleID)
	return nil
}

func (m *memStore) boundCameras(ruleID int64) []schema.Camera {
	var out []schema.Camera
	for _, camID := range m.bindings[ruleID] {
		if cam, ok := m.cameras[camID]; ok {
			out = append(out, cam)
		}
	}
	return out
}

func (m *memStore) queryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries
}

// ---------------------------------------------------------------------------

func validCreate() CreateInput {
	return CreateInput{
		Title:       "Perimeter intrusion",
		Description: "Person detected outside business hours",
		Criticality: schema.CriticalityHigh,
		ModelName:   "person-v2",
		CameraIDs:   []int64{1, 2},
		StartTime:   "22:00",
		EndTime:     "06:00",
		DaysOfWeek:  []schema.Weekday{schema.Monday, schema.Tuesday},
	}
}

func newTestService() (*Service, *memStore) {
	store := newMemStore()
	store.addCamera(1, 7, "lobby-east")
	store.addCamera(2, 7, "lobby-west")
	store.addCamera(99, 3, "foreign-cam")
	return NewService(store, DefaultConfig()), store
}

func TestCreate_Success(t *testing.T) {
	svc, _ := newTestService()

	rule, err := svc.Create(context.Background(), 7, validCreate())
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if rule.ID == 0 {
		t.Error("expected assigned rule ID")
	}
	if rule.Status != schema.RuleStatusActive {
		t.Errorf("new rule status = %s, want active", rule.Status)
	}
	if len(rule.Cameras) != 2 {
		t.Fatalf("expected 2 associated cameras, got %d", len(rule.Cameras))
	}
	got := map[int64]bool{}
	for _, c := range rule.Cameras {
		got[c.ID] = true
	}
	if !got[1] || !got[2] {
		t.Errorf("camera set mismatch: %v", got)
	}
}

func TestCreate_ForeignCameraFails(t *testing.T) {
	svc, store := newTestService()

	// Camera 99 belongs to org 3
	in := validCreate()
	in.CameraIDs = []int64{1, 99}

	_, err := svc.Create(context.Background(), 7, in)
	if !apperr.IsKind(err, apperr.KindNotFoundOrForbidden) {
		t.Fatalf("expected NotFoundOrForbidden, got %v", err)
	}

	// No rule record may survive a failed create.
	if len(store.rulesByID) != 0 {
		t.Error("failed create persisted a rule record")
	}
}

func TestCreate_NonexistentCameraFails(t *testing.T) {
	svc, _ := newTestService()

	in := validCreate()
	in.CameraIDs = []int64{1, 1234}

	_, err := svc.Create(context.Background(), 7, in)
	if !apperr.IsKind(err, apperr.KindNotFoundOrForbidden) {
		t.Fatalf("expected NotFoundOrForbidden, got %v", err)
	}
}

func TestCreate_MissingFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"title", func(in *CreateInput) { in.Title = "" }},
		{"description", func(in *CreateInput) { in.Description = "" }},
		{"model_name", func(in *CreateInput) { in.ModelName = "" }},
		{"camera_ids", func(in *CreateInput) { in.CameraIDs = nil }},
		{"start_time", func(in *CreateInput) { in.StartTime = "" }},
		{"end_time", func(in *CreateInput) { in.EndTime = "" }},
		{"days_of_week", func(in *CreateInput) { in.DaysOfWeek = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestService()
			in := validCreate()
			tt.mutate(&in)

			_, err := svc.Create(context.Background(), 7, in)
			if !apperr.IsKind(err, apperr.KindMissingField) {
				t.Fatalf("expected MissingField, got %v", err)
			}
			// Required-field validation is strictly first: nothing hits storage.
			if store.queryCount() != 0 {
				t.Error("validation failure reached storage")
			}
		})
	}
}

func TestCreate_InvalidWeekdayNoStorageCall(t *testing.T) {
	svc, store := newTestService()

	in := validCreate()
	in.DaysOfWeek = []schema.Weekday{schema.Monday, "funday"}

	_, err := svc.Create(context.Background(), 7, in)
	if !apperr.IsKind(err, apperr.KindInvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
	if store.queryCount() != 0 {
		t.Error("invalid weekday reached storage")
	}
}

func TestCreate_FieldLengthLimits(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"title too long", func(in *CreateInput) { in.Title = strings.Repeat("x", 257) }},
		{"description too long", func(in *CreateInput) { in.Description = strings.Repeat("x", 4097) }},
		{"model_name too long", func(in *CreateInput) { in.ModelName = strings.Repeat("x", 257) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestService()
			in := validCreate()
			tt.mutate(&in)

			_, err := svc.Create(context.Background(), 7, in)
			if !apperr.IsKind(err, apperr.KindInvalidInput) {
				t.Fatalf("expected InvalidInput, got %v", err)
			}
			if store.queryCount() != 0 {
				t.Error("over-length field reached storage")
			}
		})
	}
}

func TestUpdate_FieldLengthLimits(t *testing.T) {
	svc, _ := newTestService()

	created, err := svc.Create(context.Background(), 7, validCreate())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	long := strings.Repeat("x", 257)
	_, err = svc.Update(context.Background(), 7, created.ID, UpdateInput{Title: &long})
	if !apperr.IsKind(err, apperr.KindInvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestCreate_EmptyCameraSet(t *testing.T) {
	svc, _ := newTestService()

	in := validCreate()
	in.CameraIDs = []int64{}

	_, err := svc.Create(context.Background(), 7, in)
	if !apperr.IsKind(err, apperr.KindInvalidInput) {
		t.Fatalf("expected InvalidInput for empty camera set, got %v", err)
	}
}

func TestCreate_DuplicateCameraIDs(t *testing.T) {
	svc, store := newTestService()

	in := validCreate()
	in.CameraIDs = []int64{1, 1}

	_, err := svc.Create(context.Background(), 7, in)
	if !apperr.IsKind(err, apperr.KindInvalidInput) {
		t.Fatalf("expected InvalidInput for duplicate ids, got %v", err)
	}
	if store.queryCount() != 0 {
		t.Error("duplicate ids reached storage")
	}
}

func TestCreate_EmptyScheduleRejectedByDefault(t *testing.T) {
	svc, _ := newTestService()

	in := validCreate()
	in.DaysOfWeek = []schema.Weekday{}

	_, err := svc.Create(context.Background(), 7, in)
	if !apperr.IsKind(err, apperr.KindInvalidInput) {
		t.Fatalf("expected InvalidInput for empty schedule, got %v", err)
	}
}

func TestCreate_EmptyScheduleAllowedByConfig(t *testing.T) {
	store := newMemStore()
	store.addCamera(1, 7, "cam")
	cfg := DefaultConfig()
	cfg.AllowEmptySchedule = true
	svc := NewService(store, cfg)

	in := validCreate()
	in.CameraIDs = []int64{1}
	in.DaysOfWeek = []schema.Weekday{}

	if _, err := svc.Create(context.Background(), 7, in); err != nil {
		t.Fatalf("expected empty schedule accepted, got %v", err)
	}
}

func TestCreate_DefaultCriticality(t *testing.T) {
	svc, _ := newTestService()

	in := validCreate()
	in.Criticality = ""

	rule, err := svc.Create(context.Background(), 7, in)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if rule.Criticality != schema.CriticalityLow {
		t.Errorf("default criticality = %s, want low", rule.Criticality)
	}
}

func TestCreate_DeduplicatesWeekdays(t *testing.T) {
	svc, _ := newTestService()

	in := validCreate()
	in.DaysOfWeek = []schema.Weekday{schema.Monday, schema.Monday, schema.Friday}

	rule, err := svc.Create(context.Background(), 7, in)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if len(rule.DaysOfWeek) != 2 {
		t.Errorf("weekday set = %v, want deduplicated to 2", rule.DaysOfWeek)
	}
}

func TestUpdate_MergeSemantics(t *testing.T) {
	svc, _ := newTestService()

	created, err := svc.Create(context.Background(), 7, validCreate())
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	// Scenario C: supply only criticality, everything else keeps its value.
	crit := schema.CriticalityCritical
	updated, err := svc.Update(context.Background(), 7, created.ID, UpdateInput{Criticality: &crit})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	if updated.Criticality != schema.CriticalityCritical {
		t.Errorf("criticality = %s, want critical", updated.Criticality)
	}
	if updated.Title != created.Title {
		t.Errorf("title changed on partial update: %q", updated.Title)
	}
	if updated.Description != created.Description {
		t.Error("description changed on partial update")
	}

	// Camera associations untouched when CameraIDs is nil.
	stored, err := svc.Get(context.Background(), 7, created.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if len(stored.Cameras) != 2 {
		t.Errorf("camera set changed on partial update: %d cameras", len(stored.Cameras))
	}
}

func TestUpdate_ReplacesCameraSet(t *testing.T) {
	svc, store := newTestService()
	store.addCamera(3, 7, "garage")

	created, err := svc.Create(context.Background(), 7, validCreate())
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	updated, err := svc.Update(context.Background(), 7, created.ID, UpdateInput{CameraIDs: []int64{3}})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	if len(updated.Cameras) != 1 || updated.Cameras[0].ID != 3 {
		t.Errorf("camera set after rebind = %v, want exactly [3]", updated.Cameras)
	}

	// Old associations must be gone from storage too.
	stored, _ := svc.Get(context.Background(), 7, created.ID)
	if len(stored.Cameras) != 1 || stored.Cameras[0].ID != 3 {
		t.Errorf("stored camera set = %v, want exactly [3]", stored.Cameras)
	}
}

func TestUpdate_ForeignCameraRejected(t *testing.T) {
	svc, _ := newTestService()

	created, err := svc.Create(context.Background(), 7, validCreate())
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	_, err = svc.Update(context.Background(), 7, created.ID, UpdateInput{CameraIDs: []int64{99}})
	if !apperr.IsKind(err, apperr.KindNotFoundOrForbidden) {
		t.Fatalf("expected NotFoundOrForbidden, got %v", err)
	}

	// Associations unchanged after the failed rebind.
	stored, _ := svc.Get(context.Background(), 7, created.ID)
	if len(stored.Cameras) != 2 {
		t.Errorf("camera set changed after failed update: %d", len(stored.Cameras))
	}
}

func TestUpdate_UnknownRule(t *testing.T) {
	svc, _ := newTestService()

	title := "x"
	_, err := svc.Update(context.Background(), 7, 12345, UpdateInput{Title: &title})
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestUpdate_ForeignRuleIsNotFound(t *testing.T) {
	svc, _ := newTestService()

	created, err := svc.Create(context.Background(), 7, validCreate())
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	// Another organization must see the rule as absent, not forbidden.
	title := "hijack"
	_, err = svc.Update(context.Background(), 3, created.ID, UpdateInput{Title: &title})
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected NotFound for foreign rule, got %v", err)
	}
}

func TestUpdate_ScheduleValidatedOnChange(t *testing.T) {
	svc, _ := newTestService()

	created, err := svc.Create(context.Background(), 7, validCreate())
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	_, err = svc.Update(context.Background(), 7, created.ID, UpdateInput{
		DaysOfWeek: []schema.Weekday{"noday"},
	})
	if !apperr.IsKind(err, apperr.KindInvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestUpdate_StatusTransition(t *testing.T) {
	svc, _ := newTestService()

	created, err := svc.Create(context.Background(), 7, validCreate())
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	inactive := schema.RuleStatusInactive
	updated, err := svc.Update(context.Background(), 7, created.ID, UpdateInput{Status: &inactive})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if updated.Status != schema.RuleStatusInactive {
		t.Errorf("status = %s, want inactive", updated.Status)
	}

	active := schema.RuleStatusActive
	updated, err = svc.Update(context.Background(), 7, created.ID, UpdateInput{Status: &active})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if updated.Status != schema.RuleStatusActive {
		t.Errorf("status = %s, want active", updated.Status)
	}
}

func TestDelete_RemovesRuleAndAssociations(t *testing.T) {
	svc, store := newTestService()

	created, err := svc.Create(context.Background(), 7, validCreate())
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if err := svc.Delete(context.Background(), 7, created.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	// Scenario D: subsequent list must not include the rule.
	listed, err := svc.List(context.Background(), 7)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	for _, r := range listed {
		if r.ID == created.ID {
			t.Error("deleted rule still listed")
		}
	}

	// Association rows must not outlive the rule.
	if _, ok := store.bindings[created.ID]; ok {
		t.Error("associations survived rule deletion")
	}
}

func TestDelete_UnknownRule(t *testing.T) {
	svc, _ := newTestService()

	err := svc.Delete(context.Background(), 7, 9999)
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestDelete_ForeignRule(t *testing.T) {
	svc, _ := newTestService()

	created, err := svc.Create(context.Background(), 7, validCreate())
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if err := svc.Delete(context.Background(), 3, created.ID); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected NotFound deleting foreign rule, got %v", err)
	}

	// Rule still present for its owner.
	if _, err := svc.Get(context.Background(), 7, created.ID); err != nil {
		t.Errorf("rule missing after foreign delete attempt: %v", err)
	}
}

func TestList_ScopedToOrganization(t *testing.T) {
	svc, store := newTestService()
	store.addCamera(10, 3, "other-org-cam")

	if _, err := svc.Create(context.Background(), 7, validCreate()); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	foreign := validCreate()
	foreign.CameraIDs = []int64{10}
	if _, err := svc.Create(context.Background(), 3, foreign); err != nil {
		t.Fatalf("Create() for org 3 error: %v", err)
	}

	listed, err := svc.List(context.Background(), 7)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("org 7 list length = %d, want 1", len(listed))
	}
	if listed[0].OrganizationID != 7 {
		t.Error("foreign rule leaked into listing")
	}
}

package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/formflowhq/formflow/internal/domain"
	"github.com/formflowhq/formflow/internal/engine"
)

type MockSubmissionStore struct {
	FindByIDFunc        func(id int64) (*domain.Submission, error)
	FindByReferenceFunc func(ref string) (*domain.Submission, error)
	SaveFunc            func(s *domain.Submission) (int64, error)
	MarkSubmittedFunc   func(id int64, at time.Time) error
	FindBySubmitterFunc func(submitterID int64, limit int) (*[]domain.Submission, error)
}

func (m *MockSubmissionStore) FindByID(id int64) (*domain.Submission, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(id)
	}
	return nil, nil
}
func (m *MockSubmissionStore) FindByReference(ref string) (*domain.Submission, error) {
	if m.FindByReferenceFunc != nil {
		return m.FindByReferenceFunc(ref)
	}
	return nil, nil
}
func (m *MockSubmissionStore) Save(s *domain.Submission) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(s)
	}
	return 0, nil
}
func (m *MockSubmissionStore) MarkSubmitted(id int64, at time.Time) error {
	if m.MarkSubmittedFunc != nil {
		return m.MarkSubmittedFunc(id, at)
	}
	return nil
}
func (m *MockSubmissionStore) FindBySubmitter(submitterID int64, limit int) (*[]domain.Submission, error) {
	if m.FindBySubmitterFunc != nil {
		return m.FindBySubmitterFunc(submitterID, limit)
	}
	return nil, nil
}

type MockAuditStore struct {
	FindAllBySubmissionIDFunc func(submissionID int64) (*[]domain.AuditEntry, error)
}

func (m *MockAuditStore) FindAllBySubmissionID(submissionID int64) (*[]domain.AuditEntry, error) {
	if m.FindAllBySubmissionIDFunc != nil {
		return m.FindAllBySubmissionIDFunc(submissionID)
	}
	return nil, nil
}

func TestSubmissionsController_Create_StartsApproval(t *testing.T) {
	var saved *domain.Submission
	started := false
	mockSubs := &MockSubmissionStore{
		SaveFunc: func(s *domain.Submission) (int64, error) {
			s.ID = 11
			saved = s
			return 11, nil
		},
		FindByIDFunc: func(id int64) (*domain.Submission, error) {
			return &domain.Submission{ID: id, FormID: 2, SubmitterID: 7, Status: domain.SubmissionInReview}, nil
		},
	}
	mockEngine := &MockApprover{
		StartApprovalFunc: func(ctx context.Context, submissionID int64) error {
			started = true
			if submissionID != 11 {
				t.Errorf("Expected submission 11, got %d", submissionID)
			}
			return nil
		},
	}
	c := NewSubmissionsController(&MockUserRepo{}, mockSubs, &MockTaskStore{}, &MockAuditStore{}, mockEngine)

	body, _ := json.Marshal(map[string]any{"formId": 2, "fieldData": map[string]any{"amount": 900}})
	req := authedRequest(httptest.NewRequest("POST", "/api/submissions", bytes.NewReader(body)), 7)
	w := httptest.NewRecorder()

	c.handleCreateSubmission(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", w.Code)
	}
	if !started {
		t.Error("Expected approval to start")
	}
	if saved == nil || saved.SubmitterID != 7 {
		t.Errorf("Expected submitter 7 on saved submission, got %+v", saved)
	}
	if saved.Reference == "" {
		t.Error("Expected a generated reference")
	}
	if saved.Status != domain.SubmissionSubmitted {
		t.Errorf("Expected status submitted, got %s", saved.Status)
	}
}

func TestSubmissionsController_Create_DraftDoesNotStartApproval(t *testing.T) {
	mockSubs := &MockSubmissionStore{
		SaveFunc: func(s *domain.Submission) (int64, error) {
			s.ID = 12
			if s.Status != domain.SubmissionDraft {
				t.Errorf("Expected draft status, got %s", s.Status)
			}
			return 12, nil
		},
		FindByIDFunc: func(id int64) (*domain.Submission, error) {
			return &domain.Submission{ID: id, Status: domain.SubmissionDraft, SubmitterID: 7}, nil
		},
	}
	mockEngine := &MockApprover{
		StartApprovalFunc: func(ctx context.Context, submissionID int64) error {
			t.Error("StartApproval should not be called for a draft")
			return nil
		},
	}
	c := NewSubmissionsController(&MockUserRepo{}, mockSubs, &MockTaskStore{}, &MockAuditStore{}, mockEngine)

	body, _ := json.Marshal(map[string]any{"formId": 2, "draft": true})
	req := authedRequest(httptest.NewRequest("POST", "/api/submissions", bytes.NewReader(body)), 7)
	w := httptest.NewRecorder()

	c.handleCreateSubmission(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", w.Code)
	}
}

func TestSubmissionsController_SubmitDraft(t *testing.T) {
	marked := false
	started := false
	mockSubs := &MockSubmissionStore{
		FindByIDFunc: func(id int64) (*domain.Submission, error) {
			return &domain.Submission{ID: id, SubmitterID: 7, Status: domain.SubmissionDraft}, nil
		},
		MarkSubmittedFunc: func(id int64, at time.Time) error {
			marked = true
			return nil
		},
	}
	mockEngine := &MockApprover{
		StartApprovalFunc: func(ctx context.Context, submissionID int64) error {
			started = true
			return nil
		},
	}
	c := NewSubmissionsController(&MockUserRepo{}, mockSubs, &MockTaskStore{}, &MockAuditStore{}, mockEngine)

	req := authedRequest(httptest.NewRequest("POST", "/api/submissions/4/submit", nil), 7)
	req.SetPathValue("id", "4")
	w := httptest.NewRecorder()

	c.handleSubmitDraft(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if !marked || !started {
		t.Errorf("Expected draft marked submitted and approval started, got marked=%v started=%v", marked, started)
	}
}

func TestSubmissionsController_SubmitDraft_NotDraft(t *testing.T) {
	mockSubs := &MockSubmissionStore{
		FindByIDFunc: func(id int64) (*domain.Submission, error) {
			return &domain.Submission{ID: id, SubmitterID: 7, Status: domain.SubmissionInReview}, nil
		},
	}
	c := NewSubmissionsController(&MockUserRepo{}, mockSubs, &MockTaskStore{}, &MockAuditStore{}, &MockApprover{})

	req := authedRequest(httptest.NewRequest("POST", "/api/submissions/4/submit", nil), 7)
	req.SetPathValue("id", "4")
	w := httptest.NewRecorder()

	c.handleSubmitDraft(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}
}

func TestSubmissionsController_Withdraw_NotSubmitter(t *testing.T) {
	mockSubs := &MockSubmissionStore{
		FindByIDFunc: func(id int64) (*domain.Submission, error) {
			return &domain.Submission{ID: id, SubmitterID: 99, Status: domain.SubmissionInReview}, nil
		},
	}
	mockEngine := &MockApprover{
		WithdrawFunc: func(ctx context.Context, submissionID int64, actorID int64) error {
			return engine.ErrNotSubmitter
		},
	}
	c := NewSubmissionsController(&MockUserRepo{}, mockSubs, &MockTaskStore{}, &MockAuditStore{}, mockEngine)

	req := authedRequest(httptest.NewRequest("POST", "/api/submissions/4/withdraw", nil), 7)
	req.SetPathValue("id", "4")
	w := httptest.NewRecorder()

	c.handleWithdraw(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
}

func TestSubmissionsController_Withdraw_Terminal(t *testing.T) {
	mockSubs := &MockSubmissionStore{
		FindByIDFunc: func(id int64) (*domain.Submission, error) {
			return &domain.Submission{ID: id, SubmitterID: 7, Status: domain.SubmissionApproved}, nil
		},
	}
	mockEngine := &MockApprover{
		WithdrawFunc: func(ctx context.Context, submissionID int64, actorID int64) error {
			return engine.ErrSubmissionNotOpen
		},
	}
	c := NewSubmissionsController(&MockUserRepo{}, mockSubs, &MockTaskStore{}, &MockAuditStore{}, mockEngine)

	req := authedRequest(httptest.NewRequest("POST", "/api/submissions/4/withdraw", nil), 7)
	req.SetPathValue("id", "4")
	w := httptest.NewRecorder()

	c.handleWithdraw(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}
}

func TestSubmissionsController_GetByReference(t *testing.T) {
	mockSubs := &MockSubmissionStore{
		FindByReferenceFunc: func(ref string) (*domain.Submission, error) {
			if ref != "abc-def" {
				t.Errorf("Expected reference abc-def, got %s", ref)
			}
			return &domain.Submission{ID: 4, Reference: ref, Status: domain.SubmissionInReview}, nil
		},
	}
	c := NewSubmissionsController(&MockUserRepo{}, mockSubs, &MockTaskStore{}, &MockAuditStore{}, &MockApprover{})

	req := authedRequest(httptest.NewRequest("GET", "/api/submissions/abc-def", nil), 7)
	req.SetPathValue("id", "abc-def")
	w := httptest.NewRecorder()

	c.handleGetSubmission(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestSubmissionsController_GetAudit(t *testing.T) {
	mockAudit := &MockAuditStore{
		FindAllBySubmissionIDFunc: func(submissionID int64) (*[]domain.AuditEntry, error) {
			return &[]domain.AuditEntry{
				{ID: 2, SubmissionID: submissionID, Action: "DECISION", Detail: "approved"},
				{ID: 1, SubmissionID: submissionID, Action: "SUBMITTED", Detail: "entered workflow"},
			}, nil
		},
	}
	mockSubs := &MockSubmissionStore{
		FindByIDFunc: func(id int64) (*domain.Submission, error) {
			return &domain.Submission{ID: id, Status: domain.SubmissionInReview}, nil
		},
	}
	c := NewSubmissionsController(&MockUserRepo{}, mockSubs, &MockTaskStore{}, mockAudit, &MockApprover{})

	req := authedRequest(httptest.NewRequest("GET", "/api/submissions/4/audit", nil), 7)
	req.SetPathValue("id", "4")
	w := httptest.NewRecorder()

	c.handleGetSubmissionAudit(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	var entries []map[string]any
	if err := json.NewDecoder(w.Result().Body).Decode(&entries); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("Expected 2 audit entries, got %d", len(entries))
	}
}

package controllers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/formflowhq/formflow/internal/domain"
	"github.com/formflowhq/formflow/internal/engine"
	"github.com/formflowhq/formflow/internal/models"
	"github.com/formflowhq/formflow/internal/util"
)

type SubmissionsController struct {
	AuthController
	SubmissionRepo SubmissionStore
	TaskRepo       TaskStore
	AuditRepo      AuditStore
	Engine         Approver
}

func NewSubmissionsController(userRepo UserRepo, submissionRepo SubmissionStore,
	taskRepo TaskStore, auditRepo AuditStore, eng Approver) *SubmissionsController {
	return &SubmissionsController{
		AuthController: AuthController{UserRepo: userRepo},
		SubmissionRepo: submissionRepo,
		TaskRepo:       taskRepo,
		AuditRepo:      auditRepo,
		Engine:         eng,
	}
}

// RegisterRoutes wires up the HTTP routes for this controller
func (c *SubmissionsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/submissions", c.RequireAuth(c.handleCreateSubmission))
	mux.HandleFunc("GET /api/submissions", c.RequireAuth(c.handleGetMySubmissions))
	mux.HandleFunc("GET /api/submissions/{id}", c.RequireAuth(c.handleGetSubmission))
	mux.HandleFunc("POST /api/submissions/{id}/submit", c.RequireAuth(c.handleSubmitDraft))
	mux.HandleFunc("POST /api/submissions/{id}/withdraw", c.RequireAuth(c.handleWithdraw))
	mux.HandleFunc("GET /api/submissions/{id}/tasks", c.RequireAuth(c.handleGetSubmissionTasks))
	mux.HandleFunc("GET /api/submissions/{id}/audit", c.RequireAuth(c.handleGetSubmissionAudit))
}

// handleCreateSubmission stores a new submission and, unless it is a draft,
// routes it into the approval workflow.
func (c *SubmissionsController) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.CreateSubmissionRequest](r)
	if err != nil {
		util.WriteJSONError(w, http.StatusBadRequest, "Invalid submission data")
		return
	}
	if req.FormID == 0 {
		util.WriteJSONError(w, http.StatusBadRequest, "formId is required")
		return
	}

	fieldJSON, err := json.Marshal(req.FieldData)
	if err != nil {
		util.WriteJSONError(w, http.StatusBadRequest, "Invalid field data")
		return
	}

	status := domain.SubmissionSubmitted
	if req.Draft {
		status = domain.SubmissionDraft
	}
	sub := &domain.Submission{
		FormID:      req.FormID,
		SubmitterID: currentUserID(r),
		Reference:   uuid.NewString(),
		Status:      status,
		FieldData:   sql.NullString{String: string(fieldJSON), Valid: true},
		Created:     time.Now(),
	}
	if !req.Draft {
		sub.SubmittedAt = sql.NullTime{Time: sub.Created, Valid: true}
	}

	if _, err := c.SubmissionRepo.Save(sub); err != nil {
		slog.Error("Failed to save submission", "error", err)
		util.WriteJSONError(w, http.StatusInternalServerError, "Failed to save submission")
		return
	}

	if !req.Draft {
		if err := c.Engine.StartApproval(r.Context(), sub.ID); err != nil {
			slog.Error("Failed to start approval", "submission_id", sub.ID, "error", err)
			util.WriteJSONError(w, http.StatusInternalServerError, "Submission saved but approval could not start")
			return
		}
	}

	current, err := c.SubmissionRepo.FindByID(sub.ID)
	if err != nil {
		slog.Error("Failed to reload submission", "submission_id", sub.ID, "error", err)
		util.WriteJSONError(w, http.StatusInternalServerError, "Failed to load submission")
		return
	}
	util.WriteJSONResponse(w, http.StatusCreated, models.ToSubmissionResponse(current))
}

// handleSubmitDraft moves a draft into the approval workflow.
func (c *SubmissionsController) handleSubmitDraft(w http.ResponseWriter, r *http.Request) {
	sub, ok := c.loadSubmission(w, r)
	if !ok {
		return
	}
	if sub.SubmitterID != currentUserID(r) {
		util.WriteJSONError(w, http.StatusForbidden, "Only the submitter may submit this draft")
		return
	}
	if sub.Status != domain.SubmissionDraft {
		util.WriteJSONError(w, http.StatusConflict, "Submission is not a draft")
		return
	}

	if err := c.SubmissionRepo.MarkSubmitted(sub.ID, time.Now()); err != nil {
		slog.Error("Failed to mark submission submitted", "submission_id", sub.ID, "error", err)
		util.WriteJSONError(w, http.StatusInternalServerError, "Failed to submit")
		return
	}
	if err := c.Engine.StartApproval(r.Context(), sub.ID); err != nil {
		slog.Error("Failed to start approval", "submission_id", sub.ID, "error", err)
		util.WriteJSONError(w, http.StatusInternalServerError, "Submitted but approval could not start")
		return
	}

	current, err := c.SubmissionRepo.FindByID(sub.ID)
	if err != nil {
		util.WriteJSONError(w, http.StatusInternalServerError, "Failed to load submission")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.ToSubmissionResponse(current))
}

func (c *SubmissionsController) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, ok := c.loadSubmission(w, r)
	if !ok {
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.ToSubmissionResponse(sub))
}

func (c *SubmissionsController) handleGetMySubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := c.SubmissionRepo.FindBySubmitter(currentUserID(r), 100)
	if err != nil {
		slog.Error("Failed to list submissions", "error", err)
		util.WriteJSONError(w, http.StatusInternalServerError, "Failed to list submissions")
		return
	}
	out := []models.SubmissionResponse{}
	if subs != nil {
		for i := range *subs {
			out = append(out, models.ToSubmissionResponse(&(*subs)[i]))
		}
	}
	util.WriteJSONResponse(w, http.StatusOK, out)
}

func (c *SubmissionsController) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	sub, ok := c.loadSubmission(w, r)
	if !ok {
		return
	}
	err := c.Engine.Withdraw(r.Context(), sub.ID, currentUserID(r))
	switch {
	case errors.Is(err, engine.ErrNotSubmitter):
		util.WriteJSONError(w, http.StatusForbidden, "Only the submitter may withdraw")
		return
	case errors.Is(err, engine.ErrSubmissionNotOpen):
		util.WriteJSONError(w, http.StatusConflict, "Submission can no longer be withdrawn")
		return
	case err != nil:
		slog.Error("Failed to withdraw submission", "submission_id", sub.ID, "error", err)
		util.WriteJSONError(w, http.StatusInternalServerError, "Failed to withdraw")
		return
	}

	current, err := c.SubmissionRepo.FindByID(sub.ID)
	if err != nil {
		util.WriteJSONError(w, http.StatusInternalServerError, "Failed to load submission")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.ToSubmissionResponse(current))
}

func (c *SubmissionsController) handleGetSubmissionTasks(w http.ResponseWriter, r *http.Request) {
	sub, ok := c.loadSubmission(w, r)
	if !ok {
		return
	}
	tasks, err := c.TaskRepo.FindBySubmission(sub.ID)
	if err != nil {
		slog.Error("Failed to list submission tasks", "submission_id", sub.ID, "error", err)
		util.WriteJSONError(w, http.StatusInternalServerError, "Failed to list tasks")
		return
	}
	out := []models.TaskResponse{}
	if tasks != nil {
		for i := range *tasks {
			out = append(out, models.ToTaskResponse(&(*tasks)[i]))
		}
	}
	util.WriteJSONResponse(w, http.StatusOK, out)
}

func (c *SubmissionsController) handleGetSubmissionAudit(w http.ResponseWriter, r *http.Request) {
	sub, ok := c.loadSubmission(w, r)
	if !ok {
		return
	}
	entries, err := c.AuditRepo.FindAllBySubmissionID(sub.ID)
	if err != nil {
		slog.Error("Failed to list audit trail", "submission_id", sub.ID, "error", err)
		util.WriteJSONError(w, http.StatusInternalServerError, "Failed to list audit trail")
		return
	}
	out := []models.AuditEntryResponse{}
	if entries != nil {
		for i := range *entries {
			out = append(out, models.ToAuditEntryResponse(&(*entries)[i]))
		}
	}
	util.WriteJSONResponse(w, http.StatusOK, out)
}

// loadSubmission resolves the {id} path value, accepting either a numeric id
// or a reference uuid.
func (c *SubmissionsController) loadSubmission(w http.ResponseWriter, r *http.Request) (*domain.Submission, bool) {
	idStr := r.PathValue("id")
	var sub *domain.Submission
	var err error
	if id, perr := strconv.ParseInt(idStr, 10, 64); perr == nil {
		sub, err = c.SubmissionRepo.FindByID(id)
	} else {
		sub, err = c.SubmissionRepo.FindByReference(idStr)
	}
	if err == sql.ErrNoRows {
		util.WriteJSONError(w, http.StatusNotFound, "Submission not found")
		return nil, false
	}
	if err != nil {
		slog.Error("Failed to load submission", "id", idStr, "error", err)
		util.WriteJSONError(w, http.StatusInternalServerError, "Failed to load submission")
		return nil, false
	}
	return sub, true
}

package controllers

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/formflowhq/formflow/internal/conditions"
	"github.com/formflowhq/formflow/internal/domain"
	"github.com/formflowhq/formflow/internal/engine"
	"github.com/formflowhq/formflow/internal/models"
	"github.com/formflowhq/formflow/internal/util"
)

type WorkflowsController struct {
	AuthController
	DefinitionRepo DefinitionStore
	FormRepo       FormStore
	ActionRepo     ActionStore
}

func NewWorkflowsController(userRepo UserRepo, definitionRepo DefinitionStore,
	formRepo FormStore, actionRepo ActionStore) *WorkflowsController {
	return &WorkflowsController{
		AuthController: AuthController{UserRepo: userRepo},
		DefinitionRepo: definitionRepo,
		FormRepo:       formRepo,
		ActionRepo:     actionRepo,
	}
}

// RegisterRoutes wires up the HTTP routes for this controller
func (c *WorkflowsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/workflow-definitions", c.RequireAuth(c.handleGetDefinitions))
	mux.HandleFunc("POST /api/workflow-definitions", c.RequireAuth(c.handleSaveDefinition))
	mux.HandleFunc("GET /api/workflow-definitions/{id}", c.RequireAuth(c.handleGetDefinitionById))
	mux.HandleFunc("POST /api/forms", c.RequireAuth(c.handleSaveForm))
	mux.HandleFunc("GET /api/forms/{slug}", c.RequireAuth(c.handleGetFormBySlug))
	mux.HandleFunc("POST /api/actions", c.RequireAuth(c.handleSaveAction))
}

func (c *WorkflowsController) handleGetDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := c.DefinitionRepo.FindAll()
	if err != nil {
		slog.Error("Failed to list workflow definitions", "error", err)
		util.WriteJSONError(w, http.StatusInternalServerError, "Failed to list workflow definitions")
		return
	}
	out := []domain.WorkflowDefinition{}
	if defs != nil {
		out = *defs
	}
	util.WriteJSONResponse(w, http.StatusOK, out)
}

// handleSaveDefinition validates stage configuration before anything is
// written, so routing can never encounter a malformed definition.
func (c *WorkflowsController) handleSaveDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := util.DecodeJSONBody[domain.WorkflowDefinition](r)
	if err != nil {
		util.WriteJSONError(w, http.StatusBadRequest, "Invalid workflow definition")
		return
	}
	if err := engine.ValidateDefinition(&def); err != nil {
		var cfgErr *engine.StageConfigurationError
		if errors.As(err, &cfgErr) {
			util.WriteJSONError(w, http.StatusBadRequest, cfgErr.Error())
			return
		}
		util.WriteJSONError(w, http.StatusBadRequest, "Invalid workflow definition")
		return
	}

	if err := c.DefinitionRepo.Save(&def); err != nil {
		slog.Error("Failed to save workflow definition", "error", err)
		util.WriteJSONError(w, http.StatusInternalServerError, "Failed to save workflow definition")
		return
	}
	util.WriteJSONResponse(w, http.StatusCreated, def)
}

func (c *WorkflowsController) handleGetDefinitionById(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		util.WriteJSONError(w, http.StatusBadRequest, "Invalid workflow definition ID")
		return
	}
	def, err := c.DefinitionRepo.FindByID(id)
	if err == sql.ErrNoRows {
		util.WriteJSONError(w, http.StatusNotFound, "Workflow definition not found")
		return
	}
	if err != nil {
		slog.Error("Failed to load workflow definition", "id", id, "error", err)
		util.WriteJSONError(w, http.StatusInternalServerError, "Failed to load workflow definition")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, def)
}

func (c *WorkflowsController) handleSaveForm(w http.ResponseWriter, r *http.Request) {
	form, err := util.DecodeJSONBody[domain.FormDefinition](r)
	if err != nil || form.Name == "" || form.Slug == "" {
		util.WriteJSONError(w, http.StatusBadRequest, "Form name and slug are required")
		return
	}
	id, err := c.FormRepo.Save(&form)
	if err != nil {
		slog.Error("Failed to save form", "error", err)
		util.WriteJSONError(w, http.StatusInternalServerError, "Failed to save form")
		return
	}
	form.ID = id
	util.WriteJSONResponse(w, http.StatusCreated, form)
}

func (c *WorkflowsController) handleGetFormBySlug(w http.ResponseWriter, r *http.Request) {
	form, err := c.FormRepo.FindBySlug(r.PathValue("slug"))
	if err == sql.ErrNoRows {
		util.WriteJSONError(w, http.StatusNotFound, "Form not found")
		return
	}
	if err != nil {
		slog.Error("Failed to load form", "error", err)
		util.WriteJSONError(w, http.StatusInternalServerError, "Failed to load form")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, form)
}

func (c *WorkflowsController) handleSaveAction(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.SaveActionRequest](r)
	if err != nil || req.FormID == 0 || req.Name == "" {
		util.WriteJSONError(w, http.StatusBadRequest, "Action formId and name are required")
		return
	}
	action := req.ToDomain()
	switch action.ActionType {
	case domain.ActionTypeDatabase, domain.ActionTypeDirectory, domain.ActionTypeHTTP, domain.ActionTypeCustom:
	default:
		util.WriteJSONError(w, http.StatusBadRequest, "Unknown action type")
		return
	}
	switch action.Trigger {
	case domain.TriggerOnSubmit, domain.TriggerOnApprove, domain.TriggerOnReject, domain.TriggerOnComplete:
	default:
		util.WriteJSONError(w, http.StatusBadRequest, "Unknown trigger")
		return
	}
	if action.Condition.Valid {
		if _, err := conditions.Parse(action.Condition.String); err != nil {
			util.WriteJSONError(w, http.StatusBadRequest, "Invalid condition expression")
			return
		}
	}

	id, err := c.ActionRepo.Save(&action)
	if err != nil {
		slog.Error("Failed to save action", "error", err)
		util.WriteJSONError(w, http.StatusInternalServerError, "Failed to save action")
		return
	}
	action.ID = id
	util.WriteJSONResponse(w, http.StatusCreated, action)
}

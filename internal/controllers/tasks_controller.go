package controllers

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/formflowhq/formflow/internal/domain"
	"github.com/formflowhq/formflow/internal/engine"
	"github.com/formflowhq/formflow/internal/models"
	"github.com/formflowhq/formflow/internal/util"
)

type TasksController struct {
	AuthController
	TaskRepo TaskStore
	Engine   Approver
}

func NewTasksController(userRepo UserRepo, taskRepo TaskStore, eng Approver) *TasksController {
	return &TasksController{
		AuthController: AuthController{UserRepo: userRepo},
		TaskRepo:       taskRepo,
		Engine:         eng,
	}
}

// RegisterRoutes wires up the HTTP routes for this controller
func (c *TasksController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tasks", c.RequireAuth(c.handleGetMyTasks))
	mux.HandleFunc("GET /api/tasks/{id}", c.RequireAuth(c.handleGetTask))
	mux.HandleFunc("POST /api/tasks/{id}/decision", c.RequireAuth(c.handleDecision))
}

// handleGetMyTasks returns the caller's pending approval tasks.
func (c *TasksController) handleGetMyTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := c.TaskRepo.FindPendingByAssignee(currentUserID(r))
	if err != nil {
		slog.Error("Failed to list pending tasks", "error", err)
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

func (c *TasksController) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := c.loadTask(w, r)
	if !ok {
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.ToTaskResponse(task))
}

// handleDecision records an approve or reject. A task that was already
// decided, superseded or cancelled answers 409; clients retrying a decision
// get that instead of a double record.
func (c *TasksController) handleDecision(w http.ResponseWriter, r *http.Request) {
	task, ok := c.loadTask(w, r)
	if !ok {
		return
	}
	req, err := util.DecodeJSONBody[models.DecisionRequest](r)
	if err != nil {
		util.WriteJSONError(w, http.StatusBadRequest, "Invalid decision data")
		return
	}
	if req.Decision != domain.DecisionApprove && req.Decision != domain.DecisionReject {
		util.WriteJSONError(w, http.StatusBadRequest, "Decision must be approve or reject")
		return
	}
	actorID := currentUserID(r)
	if task.AssigneeID != actorID {
		util.WriteJSONError(w, http.StatusForbidden, "Task is assigned to another user")
		return
	}

	err = c.Engine.RecordDecision(r.Context(), task.ID, actorID, req.Decision, req.Comment)
	switch {
	case errors.Is(err, engine.ErrTaskNotPending):
		util.WriteJSONError(w, http.StatusConflict, "Task is no longer pending")
		return
	case err != nil:
		slog.Error("Failed to record decision", "task_id", task.ID, "error", err)
		util.WriteJSONError(w, http.StatusInternalServerError, "Failed to record decision")
		return
	}

	current, err := c.TaskRepo.FindByID(task.ID)
	if err != nil {
		util.WriteJSONError(w, http.StatusInternalServerError, "Failed to load task")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.ToTaskResponse(current))
}

func (c *TasksController) loadTask(w http.ResponseWriter, r *http.Request) (*domain.ApprovalTask, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		util.WriteJSONError(w, http.StatusBadRequest, "Invalid task ID")
		return nil, false
	}
	task, err := c.TaskRepo.FindByID(id)
	if err == sql.ErrNoRows {
		util.WriteJSONError(w, http.StatusNotFound, "Task not found")
		return nil, false
	}
	if err != nil {
		slog.Error("Failed to load task", "task_id", id, "error", err)
		util.WriteJSONError(w, http.StatusInternalServerError, "Failed to load task")
		return nil, false
	}
	return task, true
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"zvello-project/microservices/taskgraph-service/logging"
	"zvello-project/microservices/taskgraph-service/models"
	"zvello-project/microservices/taskgraph-service/services"
	"zvello-project/microservices/taskgraph-service/utils"

	"github.com/gorilla/mux"
)

type TaskHandler struct {
	service *services.TaskService
}

func NewTaskHandler(service *services.TaskService) *TaskHandler {
	return &TaskHandler{service: service}
}

// writeError maps engine errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var partial *models.PartialFailureError
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrSelfReference):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, models.ErrPermissionDenied):
		http.Error(w, "Access forbidden: insufficient permissions", http.StatusForbidden)
	case errors.Is(err, models.ErrTaskNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrCycleDetected), errors.Is(err, models.ErrHasChildren):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &partial):
		http.Error(w, err.Error(), http.StatusInternalServerError)
	case errors.Is(err, models.ErrStorageUnavailable):
		http.Error(w, "Storage temporarily unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	actorID, err := utils.UserFromRequest(r)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	var request struct {
		Title        string            `json:"title"`
		Description  string            `json:"description"`
		Status       models.TaskStatus `json:"status"`
		SoftDeadline *time.Time        `json:"softDeadline"`
		HardDeadline *time.Time        `json:"hardDeadline"`
		ParentID     string            `json:"parentId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	task, err := h.service.CreateTask(r.Context(), actorID, request.Title, request.Description, request.Status, request.SoftDeadline, request.HardDeadline, request.ParentID)
	if err != nil {
		logging.Logger.Errorf("Event ID: TASK_CREATE_FAILED, Description: %v", err)
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(task)
}

func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	actorID, err := utils.UserFromRequest(r)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	taskID := vars["taskId"]
	if taskID == "" {
		http.Error(w, "taskId is required", http.StatusBadRequest)
		return
	}

	view, err := h.service.GetTask(r.Context(), actorID, taskID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	actorID, err := utils.UserFromRequest(r)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	taskID := vars["taskId"]

	var update models.TaskUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	task, err := h.service.UpdateTask(r.Context(), actorID, taskID, update)
	if err != nil {
		logging.Logger.Errorf("Event ID: TASK_UPDATE_FAILED, Description: Task %s: %v", taskID, err)
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(task)
}

func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	actorID, err := utils.UserFromRequest(r)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	taskID := vars["taskId"]

	if err := h.service.DeleteTask(r.Context(), actorID, taskID); err != nil {
		logging.Logger.Errorf("Event ID: TASK_DELETE_FAILED, Description: Task %s: %v", taskID, err)
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *TaskHandler) ShareTask(w http.ResponseWriter, r *http.Request) {
	actorID, err := utils.UserFromRequest(r)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	taskID := vars["taskId"]

	var request struct {
		UserID string                 `json:"userId"`
		Level  models.PermissionLevel `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if request.UserID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	if err := h.service.ShareTask(r.Context(), actorID, taskID, request.UserID, request.Level); err != nil {
		logging.Logger.Errorf("Event ID: TASK_SHARE_FAILED, Description: Task %s: %v", taskID, err)
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"message": "Task shared successfully"}`))
}

func (h *TaskHandler) ListVisibleTasks(w http.ResponseWriter, r *http.Request) {
	actorID, err := utils.UserFromRequest(r)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	summaries, err := h.service.ListVisibleTasks(r.Context(), actorID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summaries)
}

func (h *TaskHandler) GetTaskHistory(w http.ResponseWriter, r *http.Request) {
	actorID, err := utils.UserFromRequest(r)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	taskID := vars["taskId"]

	entries, err := h.service.GetTaskHistory(r.Context(), actorID, taskID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

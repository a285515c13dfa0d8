package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"zvello-project/microservices/taskgraph-service/graph"
	"zvello-project/microservices/taskgraph-service/models"
	"zvello-project/microservices/taskgraph-service/permissions"
	"zvello-project/microservices/taskgraph-service/repositories"
	"zvello-project/microservices/taskgraph-service/services"
	"zvello-project/microservices/taskgraph-service/utils"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) *mux.Router {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")

	engine := permissions.NewPermissionEngine(repositories.NewInMemoryGrantRepository())
	service := services.NewTaskService(
		repositories.NewInMemoryTaskRepository(),
		repositories.NewInMemoryHistoryRepository(),
		engine,
		graph.NewMemoryDependencyGraph(),
		nil,
	)
	handler := NewTaskHandler(service)

	r := mux.NewRouter()
	r.HandleFunc("/api/tasks", handler.CreateTask).Methods(http.MethodPost)
	r.HandleFunc("/api/tasks/visible", handler.ListVisibleTasks).Methods(http.MethodGet)
	r.HandleFunc("/api/tasks/{taskId}", handler.GetTask).Methods(http.MethodGet)
	r.HandleFunc("/api/tasks/{taskId}", handler.UpdateTask).Methods(http.MethodPut)
	r.HandleFunc("/api/tasks/{taskId}", handler.DeleteTask).Methods(http.MethodDelete)
	r.HandleFunc("/api/tasks/{taskId}/share", handler.ShareTask).Methods(http.MethodPost)
	r.HandleFunc("/api/tasks/{taskId}/history", handler.GetTaskHistory).Methods(http.MethodGet)
	return r
}

func doRequest(t *testing.T, router *mux.Router, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		token, err := utils.GenerateToken(user, "member")
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func createTask(t *testing.T, router *mux.Router, user, title, parentID string) models.Task {
	t.Helper()
	resp := doRequest(t, router, http.MethodPost, "/api/tasks", user, map[string]any{
		"title":    title,
		"parentId": parentID,
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var task models.Task
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &task))
	return task
}

func TestCreateTaskRequiresToken(t *testing.T) {
	router := newRouter(t)
	resp := doRequest(t, router, http.MethodPost, "/api/tasks", "", map[string]any{"title": "x"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestCreateTaskEmptyTitleIsBadRequest(t *testing.T) {
	router := newRouter(t)
	resp := doRequest(t, router, http.MethodPost, "/api/tasks", "u1", map[string]any{"title": ""})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestGetTaskNotFound(t *testing.T) {
	router := newRouter(t)
	resp := doRequest(t, router, http.MethodGet, "/api/tasks/missing", "u1", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestGetTaskForbiddenForStranger(t *testing.T) {
	router := newRouter(t)
	task := createTask(t, router, "u1", "private", "")

	resp := doRequest(t, router, http.MethodGet, "/api/tasks/"+task.ID, "u2", nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestReparentCycleIsConflict(t *testing.T) {
	router := newRouter(t)
	a := createTask(t, router, "u1", "a", "")
	b := createTask(t, router, "u1", "b", a.ID)

	resp := doRequest(t, router, http.MethodPut, "/api/tasks/"+a.ID, "u1", map[string]any{
		"parentId": b.ID,
	})
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestDeleteWithChildrenIsConflict(t *testing.T) {
	router := newRouter(t)
	a := createTask(t, router, "u1", "a", "")
	createTask(t, router, "u1", "b", a.ID)

	resp := doRequest(t, router, http.MethodDelete, "/api/tasks/"+a.ID, "u1", nil)
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestShareThenVisibleList(t *testing.T) {
	router := newRouter(t)
	task := createTask(t, router, "u1", "shared", "")

	resp := doRequest(t, router, http.MethodPost, "/api/tasks/"+task.ID+"/share", "u1", map[string]any{
		"userId": "u2",
		"level":  "read",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = doRequest(t, router, http.MethodGet, "/api/tasks/visible", "u2", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var summaries []models.TaskSummary
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, task.ID, summaries[0].ID)
}

func TestShareRequiresOwner(t *testing.T) {
	router := newRouter(t)
	task := createTask(t, router, "u1", "guarded", "")

	resp := doRequest(t, router, http.MethodPost, "/api/tasks/"+task.ID+"/share", "u1", map[string]any{
		"userId": "u2",
		"level":  "edit",
	})
	require.Equal(t, http.StatusOK, resp.Code)

	// An editor cannot re-share.
	resp = doRequest(t, router, http.MethodPost, "/api/tasks/"+task.ID+"/share", "u2", map[string]any{
		"userId": "u3",
		"level":  "read",
	})
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestShareOwnerLevelIsBadRequest(t *testing.T) {
	router := newRouter(t)
	task := createTask(t, router, "u1", "guarded", "")

	resp := doRequest(t, router, http.MethodPost, "/api/tasks/"+task.ID+"/share", "u1", map[string]any{
		"userId": "u2",
		"level":  "owner",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	router := newRouter(t)
	task := createTask(t, router, "u1", "tracked", "")

	resp := doRequest(t, router, http.MethodPut, "/api/tasks/"+task.ID, "u1", map[string]any{
		"title": "tracked v2",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = doRequest(t, router, http.MethodGet, "/api/tasks/"+task.ID+"/history", "u1", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var entries []models.HistoryEntry
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "title", entries[0].FieldChanged)
	assert.Equal(t, "tracked", entries[0].OldValue)
	assert.Equal(t, "tracked v2", entries[0].NewValue)
}

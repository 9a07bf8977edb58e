package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/hupe1980/agentcouncil"
	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/dispatch"
	"github.com/hupe1980/agentcouncil/pipeline"
)

type codeGenerationRequest struct {
	Prompt  string         `json:"prompt"`
	UserID  string         `json:"user_id"`
	Context map[string]any `json:"context"`
}

type consensusRequest struct {
	Question string              `json:"question"`
	Options  []string            `json:"options"`
	Agents   []core.AgentBinding `json:"agents,omitempty"`
}

type specializedTaskRequest struct {
	TaskType string `json:"task_type"`
	Prompt   string `json:"prompt"`
	UserID   string `json:"user_id"`
}

func (t specializedTaskRequest) toTask() (dispatch.TaskRequest, error) {
	role, err := core.ParseRole(t.TaskType)
	if err != nil {
		return dispatch.TaskRequest{}, fmt.Errorf("invalid task_type %q, must be one of %v", t.TaskType, core.Roles())
	}
	return dispatch.TaskRequest{Role: role, Prompt: t.Prompt, RequesterID: t.UserID}, nil
}

// toBatchTask keeps unrecognized task types so the registry fallback serves
// them; an empty task type fails only its own batch item.
func (t specializedTaskRequest) toBatchTask() dispatch.TaskRequest {
	return dispatch.TaskRequest{
		Role:        core.Role(strings.ToLower(strings.TrimSpace(t.TaskType))),
		Prompt:      t.Prompt,
		RequesterID: t.UserID,
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	jsonResponse(w, map[string]any{
		"status":      "healthy",
		"active_runs": len(s.council.ActiveRuns()),
		"ws_clients":  s.wsClients(),
		"uptime":      time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Server) wsClients() int {
	if s.opts.Hub == nil {
		return 0
	}
	return s.opts.Hub.ClientCount()
}

func (s *Server) collaborativeCode(w http.ResponseWriter, r *http.Request) {
	var req codeGenerationRequest
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	run, err := s.council.RunCollaborativeGeneration(ctx, pipeline.Input{
		Prompt:      req.Prompt,
		RequesterID: req.UserID,
		Context:     req.Context,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	jsonResponse(w, run)
}

func (s *Server) consensus(w http.ResponseWriter, r *http.Request) {
	var req consensusRequest
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	result, err := s.council.Decide(ctx, req.Question, req.Options, req.Agents)
	if err != nil {
		s.fail(w, err)
		return
	}
	jsonResponse(w, result)
}

func (s *Server) specialized(w http.ResponseWriter, r *http.Request) {
	var req specializedTaskRequest
	if !decode(w, r, &req) {
		return
	}
	task, err := req.toTask()
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	rec, err := s.council.Dispatch(ctx, task)
	if err != nil {
		s.fail(w, err)
		return
	}
	jsonResponse(w, rec)
}

func (s *Server) batch(w http.ResponseWriter, r *http.Request) {
	var reqs []specializedTaskRequest
	if !decode(w, r, &reqs) {
		return
	}

	tasks := make([]dispatch.TaskRequest, len(reqs))
	for i, req := range reqs {
		tasks[i] = req.toBatchTask()
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	results := s.council.DispatchBatch(ctx, tasks)
	jsonResponse(w, map[string]any{"results": results, "total": len(results)})
}

func (s *Server) models(w http.ResponseWriter, _ *http.Request) {
	jsonResponse(w, s.council.Models())
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	runs, err := s.council.History(r.Context(), mux.Vars(r)["user_id"], limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	if runs == nil {
		runs = []*core.PipelineRun{}
	}
	jsonResponse(w, map[string]any{"history": runs, "count": len(runs)})
}

func (s *Server) tasks(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	tasks, err := s.council.Tasks(r.Context(), mux.Vars(r)["user_id"], limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	if tasks == nil {
		tasks = []*core.TaskRecord{}
	}
	jsonResponse(w, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	run, err := s.council.Run(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	if run == nil {
		jsonError(w, fmt.Sprintf("run %q not found", id), http.StatusNotFound)
		return
	}
	jsonResponse(w, run)
}

// queryLimit reads the optional limit parameter, writing a 400 when it is
// not a positive integer.
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return agentcouncil.DefaultHistoryLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

// fail maps an orchestration error to a status code.
func (s *Server) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, agentcouncil.ErrHistoryUnavailable) {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	switch core.KindOf(err) {
	case core.KindInvalidInput, core.KindUnknownRole:
		jsonError(w, err.Error(), http.StatusBadRequest)
	case core.KindCanceled:
		jsonError(w, err.Error(), http.StatusGatewayTimeout)
	case core.KindRemoteCallExhausted, core.KindResponseParse:
		jsonError(w, err.Error(), http.StatusBadGateway)
	default:
		s.opts.Logger.Error("Request failed", "error", err.Error())
		jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

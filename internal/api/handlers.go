package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/waabox/dockworker/internal/domain"
	"github.com/waabox/dockworker/internal/jobs"
	"github.com/waabox/dockworker/internal/service"
)

const (
	commandFork = "fork"
	commandPull = "pull"

	defaultJobsLimit = 20
	maxBodyBytes     = 64 << 10
)

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleTrigger handles POST /trigger. By default it waits for the run to
// finish; ?async=true answers 202 as soon as the run has been located.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		s.writeError(w, http.StatusBadRequest, "source is required")
		return
	}
	command := req.Command
	if command == "" {
		command = commandFork
	}
	if command != commandFork && command != commandPull {
		s.writeError(w, http.StatusBadRequest, "invalid command "+strconv.Quote(req.Command))
		return
	}

	fr := service.ForkRequest{
		Source:     req.Source,
		Target:     req.Target,
		Workflow:   req.Workflow,
		DistinctID: req.DistinctID,
		Pull:       command == commandPull,
		DryRun:     req.TestMode,
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		job, _, err := s.forker.StartFork(r.Context(), fr)
		if err != nil {
			s.writeServiceError(w, err, &TriggerResponse{Job: job, Error: err.Error()})
			return
		}
		respondJSON(w, http.StatusAccepted, TriggerResponse{Job: job, State: string(job.Status)})
		return
	}

	result, err := s.forker.Fork(r.Context(), fr, nil)
	resp := TriggerResponse{
		Job:        result.Job,
		State:      string(result.Outcome.State),
		Conclusion: result.Outcome.Conclusion,
		Image:      result.Outcome.Image,
	}
	if err != nil {
		resp.Error = err.Error()
		s.writeServiceError(w, err, &resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleListWorkflows handles GET /workflows.
func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	list, err := s.forker.ListWorkflows(r.Context())
	if err != nil {
		s.writeServiceError(w, err, nil)
		return
	}
	resp := WorkflowsResponse{Total: list.TotalCount, Workflows: make([]WorkflowSummary, 0, len(list.Workflows))}
	for _, wf := range list.Workflows {
		resp.Workflows = append(resp.Workflows, WorkflowSummary{
			ID:        wf.ID,
			Name:      wf.Name,
			State:     wf.State,
			CreatedAt: wf.CreatedAt,
			UpdatedAt: wf.UpdatedAt,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleListRuns handles GET /workflow/{workflowID}/runs?status=&per_page=3&page=1.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	workflowID, err := strconv.ParseInt(chi.URLParam(r, "workflowID"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "workflow id must be an integer")
		return
	}
	q := r.URL.Query()
	filter := domain.RunFilter{Status: q.Get("status"), PerPage: 3, Page: 1}
	for key, target := range map[string]*int{"per_page": &filter.PerPage, "page": &filter.Page} {
		if raw := q.Get(key); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				s.writeError(w, http.StatusBadRequest, key+" must be a positive integer")
				return
			}
			*target = n
		}
	}

	list, err := s.forker.ListRuns(r.Context(), workflowID, filter)
	if err != nil {
		s.writeServiceError(w, err, nil)
		return
	}
	resp := RunsResponse{TotalCount: list.TotalCount, WorkflowRuns: make([]RunSummary, 0, len(list.Runs))}
	for _, run := range list.Runs {
		resp.WorkflowRuns = append(resp.WorkflowRuns, RunSummary{
			ID:         run.ID,
			RunNumber:  run.RunNumber,
			Name:       run.Name,
			Status:     string(run.Status),
			Conclusion: run.Conclusion,
			Event:      run.Event,
			HTMLURL:    run.HTMLURL,
			CreatedAt:  run.CreatedAt,
			UpdatedAt:  run.UpdatedAt,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleListJobs handles GET /jobs?limit=.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	list, err := s.forker.Jobs(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, err, nil)
		return
	}
	if list == nil {
		list = []jobs.Job{}
	}
	respondJSON(w, http.StatusOK, JobsResponse{Jobs: list})
}

// handleGetJob handles GET /jobs/{jobID}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "job id must be an integer")
		return
	}
	job, err := s.forker.Job(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// writeServiceError maps err to a status. body replaces the plain error
// envelope when the caller has more context to return.
func (s *Server) writeServiceError(w http.ResponseWriter, err error, body *TriggerResponse) {
	status := service.HTTPStatus(err)
	if status >= http.StatusInternalServerError && !errors.Is(err, domain.ErrRunFailed) {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	if body != nil {
		respondJSON(w, status, body)
		return
	}
	s.writeError(w, status, err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

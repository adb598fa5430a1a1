package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/hochfrequenz/batch-engine/internal/definition"
	"github.com/hochfrequenz/batch-engine/internal/domain"
	"github.com/hochfrequenz/batch-engine/internal/engine"
	"github.com/hochfrequenz/batch-engine/internal/ledger"
	"github.com/hochfrequenz/batch-engine/internal/observer"
	"github.com/hochfrequenz/batch-engine/internal/report"
)

const defaultListLimit = 20

// RunResponse is the API response for a run
type RunResponse struct {
	ID         string     `json:"id"`
	BatchRunID string     `json:"batch_run_id"`
	Task       string     `json:"task"`
	Type       string     `json:"type"`
	Position   int        `json:"position"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Duration   string     `json:"duration,omitempty"`
	Message    string     `json:"message,omitempty"`
}

// BatchRunResponse is the API response for a batch run. Status, message and
// times are derived from its last run.
type BatchRunResponse struct {
	ID                 string        `json:"id"`
	Batch              string        `json:"batch"`
	Configuration      string        `json:"configuration,omitempty"`
	Workspace          string        `json:"workspace,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	Status             string        `json:"status"`
	Message            string        `json:"message,omitempty"`
	StartedAt          *time.Time    `json:"started_at,omitempty"`
	FinishedAt         *time.Time    `json:"finished_at,omitempty"`
	InterruptRequested bool          `json:"interrupt_requested"`
	Runs               []RunResponse `json:"runs"`
}

// BatchResponse is the API response for a batch definition
type BatchResponse struct {
	Name          string   `json:"name"`
	Configuration string   `json:"configuration,omitempty"`
	Workspace     string   `json:"workspace,omitempty"`
	Tasks         []string `json:"tasks"`
}

// StatusResponse is the API response for overall status
type StatusResponse struct {
	Active    []string          `json:"active"`
	TaskTypes []string          `json:"task_types"`
	Stuck     []string          `json:"stuck,omitempty"`
	Metrics   *observer.Metrics `json:"metrics,omitempty"`
}

func runToResponse(r *domain.Run) RunResponse {
	resp := RunResponse{
		ID:         r.ID,
		BatchRunID: r.BatchRunID,
		Task:       r.TaskName,
		Type:       r.TaskType,
		Position:   r.Position,
		Status:     string(r.Status),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Message:    r.Message,
	}
	if r.FinishedAt != nil {
		resp.Duration = report.FormatDuration(r.Duration())
	}
	return resp
}

func batchRunToResponse(br *domain.BatchRun) BatchRunResponse {
	resp := BatchRunResponse{
		ID:                 br.ID,
		Batch:              br.BatchName,
		Configuration:      br.Configuration,
		Workspace:          br.Workspace,
		CreatedAt:          br.CreatedAt,
		Status:             string(br.Status()),
		Message:            br.Message(),
		StartedAt:          br.StartedAt(),
		FinishedAt:         br.FinishedAt(),
		InterruptRequested: br.InterruptRequested(),
		Runs:               make([]RunResponse, len(br.Runs)),
	}
	for i, r := range br.Runs {
		resp.Runs[i] = runToResponse(r)
	}
	return resp
}

func batchToResponse(b *domain.Batch) BatchResponse {
	resp := BatchResponse{
		Name:          b.Name,
		Configuration: b.Configuration,
		Workspace:     b.Workspace,
		Tasks:         []string{},
	}
	ordered, err := b.Ordered()
	if err != nil {
		ordered = b.Elements
	}
	for _, el := range ordered {
		if el.Task != nil {
			resp.Tasks = append(resp.Tasks, el.Task.Name)
		}
	}
	return resp
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := StatusResponse{
			Active:    s.engine.Active(),
			TaskTypes: s.engine.Registry().Names(),
		}
		if s.observer != nil {
			m := s.observer.GetMetrics()
			status.Metrics = &m
			for _, id := range status.Active {
				br, err := s.history.GetBatchRun(r.Context(), id)
				if err == nil && s.observer.IsStuck(br.Last()) {
					status.Stuck = append(status.Stuck, id)
				}
			}
		}
		writeJSON(w, status)
	}
}

func (s *Server) listBatchesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batches := s.launcher.Catalog().Batches()
		responses := make([]BatchResponse, len(batches))
		for i, b := range batches {
			responses[i] = batchToResponse(b)
		}
		writeJSON(w, responses)
	}
}

func (s *Server) runBatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if _, _, err := s.launcher.Catalog().Batch(name); err != nil {
			if errors.Is(err, definition.ErrNotFound) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		s.runs.Add(1)
		go func() {
			defer s.runs.Done()
			br, err := s.launcher.Run(s.baseCtx, name, s.maxDuration)
			if err != nil {
				s.logger.Error().Err(err).Str("batch", name).Msg("batch run failed")
				return
			}
			s.logger.Info().Str("batch", name).Str("batch_run", br.ID).Str("status", string(br.Status())).Msg("batch run finished")
		}()

		writeJSONStatus(w, http.StatusAccepted, map[string]string{"batch": name, "status": "accepted"})
	}
}

func (s *Server) listRunsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := ledger.ListOptions{
			BatchName: r.URL.Query().Get("batch"),
			Limit:     defaultListLimit,
		}
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			opts.Limit = n
		}

		runs, err := s.history.ListBatchRuns(r.Context(), opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		responses := make([]BatchRunResponse, len(runs))
		for i, br := range runs {
			responses[i] = batchRunToResponse(br)
		}
		writeJSON(w, responses)
	}
}

func (s *Server) getRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		br, err := s.history.GetBatchRun(r.Context(), r.PathValue("id"))
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				writeError(w, http.StatusNotFound, "batch run not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, batchRunToResponse(br))
	}
}

func (s *Server) interruptHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := s.engine.RequestInterrupt(r.Context(), id); err != nil {
			if errors.Is(err, engine.ErrNotActive) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSONStatus(w, http.StatusAccepted, map[string]string{"batch_run": id, "status": "interrupt requested"})
	}
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"google.golang.org/grpc/codes"

	"github.com/joseph-ayodele/pdf-watermarker/constants"
	"github.com/joseph-ayodele/pdf-watermarker/internal/common"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core/async"
	"github.com/joseph-ayodele/pdf-watermarker/internal/entity"
	"github.com/joseph-ayodele/pdf-watermarker/internal/jobfile"
)

const (
	maxJobBody    = 1 << 20
	submitTimeout = 5 * time.Second
)

// RunView is the JSON shape of a queued, running or finished controller.
type RunView struct {
	ID         uuid.UUID            `json:"id"`
	State      constants.RunState   `json:"state"`
	Percent    int                  `json:"percent"`
	Progress   entity.ProgressState `json:"progress"`
	InputRoots []string             `json:"input_roots"`
	OutputRoot string               `json:"output_root"`
	Summary    *entity.Summary      `json:"summary,omitempty"`
}

func viewOf(c *core.Controller) RunView {
	p := c.Progress()
	v := RunView{
		ID:         c.ID(),
		State:      c.State(),
		Percent:    p.Percent(),
		Progress:   p,
		InputRoots: c.Job().InputRoots,
		OutputRoot: c.Job().OutputRoot,
	}
	if sum, ok := finished(c); ok {
		v.Summary = &sum
	}
	return v
}

func finished(c *core.Controller) (entity.Summary, bool) {
	select {
	case <-c.Done():
		sum, err := c.Wait(context.Background())
		return sum, err == nil
	default:
		return entity.Summary{}, false
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok", "service": "watermarkd"}
	code := http.StatusOK
	if s.ledger != nil {
		if err := s.ledger.HealthCheck(r.Context(), 2*time.Second); err != nil {
			s.logger.Warn("ledger health check failed", "error", err)
			resp["status"], resp["ledger"] = "degraded", err.Error()
			code = http.StatusServiceUnavailable
		} else {
			resp["ledger"] = "ok"
		}
	}
	s.writeJSON(w, code, resp)
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	cfg, err := jobfile.Decode(http.MaxBytesReader(w, r.Body, maxJobBody))
	if err != nil {
		s.writeError(w, err)
		return
	}
	c, err := s.runs.NewRun(cfg)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.hub.Forward(c)
	ctx, cancel := context.WithTimeout(r.Context(), submitTimeout)
	defer cancel()
	if err := s.queue.Submit(ctx, c); err != nil {
		c.Stop()
		s.logger.Warn("job submission rejected", "run_id", c.ID(), "error", err)
		s.writeError(w, err)
		return
	}
	s.logger.Info("job submitted", "run_id", c.ID())
	w.Header().Set("Location", "/api/v1/jobs/"+c.ID().String())
	s.writeJSON(w, http.StatusAccepted, viewOf(c))
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	runs := s.queue.List()
	out := make([]RunView, 0, len(runs))
	for _, c := range runs {
		out = append(out, viewOf(c))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	c, err := s.controller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(c))
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	c, err := s.controller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	action := mux.Vars(r)["action"]
	switch action {
	case "pause":
		err = c.Pause()
	case "resume":
		err = c.Resume()
	case "stop":
		c.Stop()
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("job control", "run_id", c.ID(), "action", action, "state", c.State())
	s.writeJSON(w, http.StatusOK, viewOf(c))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no run ledger configured"})
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, common.InvalidArgumentErrorf("limit must be an integer, got %q", raw))
			return
		}
		limit = n
	}
	v := common.NewValidator().Field("limit", limit, common.IntRange(1, 500))
	if err := common.ValidateAndReturnError(v); err != nil {
		s.writeError(w, err)
		return
	}

	runs, err := s.ledger.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs failed", "error", err)
		s.writeError(w, err)
		return
	}
	if runs == nil {
		runs = []entity.Run{}
	}
	s.writeJSON(w, http.StatusOK, runs)
}

// handleReport serves the ledger report of a run, falling back to the
// in-memory summary of a finished run this process still holds.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id, err := runID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var data []byte
	c, queued := s.queue.Get(id)
	switch {
	case s.ledger != nil:
		data, err = s.reports.RunReportXLSX(r.Context(), id)
		if errors.Is(err, common.ErrNotFound) && queued {
			data, err = s.summaryReport(c)
		}
	case queued:
		data, err = s.summaryReport(c)
	default:
		err = common.NotFoundError("run not found")
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="run-%s.xlsx"`, id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) summaryReport(c *core.Controller) ([]byte, error) {
	sum, ok := finished(c)
	if !ok {
		return nil, fmt.Errorf("run %s is %s: %w", c.ID(), c.State(), common.ErrInvalidState)
	}
	return s.reports.SummaryXLSX(c.Job(), sum)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	runs := s.queue.List()
	views := make([]RunView, 0, len(runs))
	for _, c := range runs {
		views = append(views, viewOf(c))
	}
	hello, err := json.Marshal(map[string]any{"type": "initial_runs", "runs": views})
	if err != nil {
		hello = nil
	}
	s.hub.ServeWS(w, r, hello)
}

func runID(r *http.Request) (uuid.UUID, error) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, common.InvalidArgumentErrorf("run id %q is not a UUID", raw)
	}
	return id, nil
}

func (s *Server) controller(r *http.Request) (*core.Controller, error) {
	id, err := runID(r)
	if err != nil {
		return nil, err
	}
	c, ok := s.queue.Get(id)
	if !ok {
		return nil, common.NotFoundError("run not found")
	}
	return c, nil
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response with the status matching err.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", code, "error", err)
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error(), "code": common.CodeOf(err)})
}

// HTTPStatus maps an error onto the HTTP status code of the API.
func HTTPStatus(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, async.ErrClosed), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	switch common.GRPCCode(err) {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition:
		return http.StatusConflict
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

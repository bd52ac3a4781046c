package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/nicktill/ldmon/pkg/analysis"
	"github.com/nicktill/ldmon/pkg/config"
	"github.com/nicktill/ldmon/pkg/export"
	"github.com/nicktill/ldmon/pkg/httpx"
	"github.com/nicktill/ldmon/pkg/metadata"
	"github.com/nicktill/ldmon/pkg/report"
	"github.com/nicktill/ldmon/pkg/selection"
	"github.com/nicktill/ldmon/pkg/server/monitor"
	"github.com/nicktill/ldmon/pkg/storage"
	"github.com/nicktill/ldmon/pkg/table"
)

var startTime = time.Now()

// Version is reported by /v1/health.
const Version = "1.0.0"

// Handler serves the analysis API.
type Handler struct {
	analyzer *analysis.Analyzer
	store    storage.Storage
	hub      *Hub
	results  *resultCache
	locks    keyLocks

	// Analyses records server-side analysis failures for /v1/health
	Analyses *monitor.JobMonitor
}

// NewHandler creates the analysis handler. store may be nil, in which case
// only selections with output "none" can run.
func NewHandler(analyzer *analysis.Analyzer, store storage.Storage, hub *Hub, cacheSize int) *Handler {
	return &Handler{
		analyzer: analyzer,
		store:    store,
		hub:      hub,
		results:  newResultCache(cacheSize),
		Analyses: monitor.NewJobMonitor("analysis"),
	}
}

// AnalyzeRequest is the JSON body of POST /v1/analyze.
type AnalyzeRequest struct {
	Selection selection.Spec `json:"selection"`
	Events    *table.Table   `json:"events"`

	// Aux also runs the pulser-monitor analyses
	Aux bool `json:"aux,omitempty"`
}

// RunSummary describes one analysis result.
type RunSummary struct {
	ID         uuid.UUID          `json:"id"`
	EventType  string             `json:"event_type"`
	Subsystem  string             `json:"subsystem"`
	Parameters []string           `json:"parameters"`
	Rows       int                `json:"rows"`
	Channels   int                `json:"channels"`
	Warnings   []analysis.Warning `json:"warnings,omitempty"`

	// Baselines holds each channel's mean per parameter, null for NaN
	Baselines map[string]map[int]*float64 `json:"baselines"`
}

// AnalyzeResponse is returned by POST /v1/analyze.
type AnalyzeResponse struct {
	RunSummary
	Aux []RunSummary `json:"aux,omitempty"`
}

func summarize(res *analysis.Result) RunSummary {
	s := RunSummary{
		ID:         res.ID,
		EventType:  string(res.Selection.EventType()),
		Subsystem:  res.SubsystemKey,
		Parameters: res.Selection.Parameters(),
		Warnings:   res.Warnings,
		Baselines:  make(map[string]map[int]*float64),
	}
	if res.Data != nil {
		s.Rows = res.Data.Len()
		s.Channels = len(res.Data.Channels())
	}
	for _, p := range s.Parameters {
		means := make(map[int]*float64)
		for ch, m := range res.Baseline(p) {
			if math.IsNaN(m) || math.IsInf(m, 0) {
				means[ch] = nil
				continue
			}
			v := m
			means[ch] = &v
		}
		s.Baselines[p] = means
	}
	return s
}

// HandleAnalyze handles POST /v1/analyze.
// JSON bodies carry the selection and events; text/csv bodies carry the
// events and take the selection from the query string:
//
//	?parameters=baseline,wf_max&event_type=pulser&cuts=is_valid_bl&time_window=30min&saving=append&aux=true
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeAnalyzeRequest(w, r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	sel, err := selection.New(req.Selection, h.analyzer.Registry())
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if sel.Output() != selection.OutputNone && h.store == nil {
		httpx.RespondError(w, http.StatusConflict, analysis.ErrNoStorage)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.AnalyzeTimeout)
	defer cancel()

	resp, err := h.analyzeLocked(ctx, req.Events, sel, req.Aux)

	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.Analyses.RecordFailure(err)
		}
		log.Printf("❌ Analysis of %s failed: %v", sel, err)
		h.hub.Publish(EventAnalysisFailed, map[string]interface{}{"selection": sel, "error": err.Error()})
		httpx.RespondError(w, status, err)
		return
	}
	h.Analyses.RecordSuccess()
	h.hub.Publish(EventAnalysisCompleted, resp)

	httpx.RespondJSON(w, http.StatusOK, resp)
}

// analyzeLocked runs an analysis holding the locks of every key it may write.
func (h *Handler) analyzeLocked(ctx context.Context, events *table.Table, sel selection.Selection, aux bool) (*AnalyzeResponse, error) {
	unlock := h.locks.lockAll(lockKeys(sel))
	defer unlock()
	return h.analyze(ctx, events, sel, aux)
}

func (h *Handler) analyze(ctx context.Context, events *table.Table, sel selection.Selection, aux bool) (*AnalyzeResponse, error) {
	res, err := h.analyzer.Run(ctx, events, sel)
	if err != nil {
		return nil, err
	}
	h.results.put(res)
	resp := &AnalyzeResponse{RunSummary: summarize(res)}

	if !aux {
		return resp, nil
	}
	auxRes, err := h.analyzer.RunAux(ctx, events, sel)
	if err != nil {
		return nil, fmt.Errorf("aux analysis: %w", err)
	}
	if auxRes != nil {
		for _, r := range []*analysis.Result{auxRes.Aux, auxRes.Ratio, auxRes.Diff} {
			h.results.put(r)
			resp.Aux = append(resp.Aux, summarize(r))
		}
	}
	return resp, nil
}

func (h *Handler) decodeAnalyzeRequest(w http.ResponseWriter, r *http.Request) (*AnalyzeRequest, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, errors.New("content type must be application/json or text/csv")
	}

	switch mediaType {
	case "application/json":
		var req AnalyzeRequest
		if err := httpx.DecodeJSON(w, r, config.MaxUploadBytes, &req); err != nil {
			return nil, err
		}
		if req.Events == nil {
			return nil, errors.New("events are required")
		}
		return &req, nil

	case "text/csv":
		r.Body = http.MaxBytesReader(w, r.Body, config.MaxUploadBytes)
		events, err := table.ReadCSV(r.Body, nil)
		if err != nil {
			return nil, err
		}
		q := r.URL.Query()
		return &AnalyzeRequest{
			Selection: specFromQuery(q),
			Events:    events,
			Aux:       q.Get("aux") == "true",
		}, nil
	}
	return nil, errors.New("content type must be application/json or text/csv")
}

func specFromQuery(q url.Values) selection.Spec {
	return selection.Spec{
		Parameters: splitList(q.Get("parameters")),
		EventType:  q.Get("event_type"),
		Cuts:       splitList(q.Get("cuts")),
		TimeWindow: q.Get("time_window"),
		Output:     q.Get("saving"),
	}
}

func splitList(s string) selection.StringList {
	var out selection.StringList
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// lockKeys names the store keys a selection may write, without the subsystem
// which is only known after the run.
func lockKeys(sel selection.Selection) []string {
	keys := make([]string, 0, len(sel.Parameters()))
	for _, p := range sel.Parameters() {
		keys = append(keys, string(sel.EventType())+"/"+p)
	}
	return keys
}

// statusFor maps analysis errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, selection.ErrInvalidSelection),
		errors.Is(err, selection.ErrIncompatibleParameters),
		errors.Is(err, selection.ErrUnknownParameter),
		errors.Is(err, selection.ErrInvalidWindow),
		errors.Is(err, analysis.ErrMissingFlagColumn),
		errors.Is(err, analysis.ErrMissingColumn):
		return http.StatusBadRequest
	case errors.Is(err, analysis.ErrNoStorage), errors.Is(err, analysis.ErrNoMetadata):
		return http.StatusConflict
	case errors.Is(err, metadata.ErrNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (h *Handler) result(w http.ResponseWriter, r *http.Request) (*analysis.Result, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid result id")
		return nil, false
	}
	res, ok := h.results.get(id)
	if !ok {
		httpx.RespondErrorString(w, http.StatusNotFound, fmt.Sprintf("result %s not found (it may have been evicted)", id))
		return nil, false
	}
	return res, true
}

// HandleResult handles GET /v1/results/{id}.
func (h *Handler) HandleResult(w http.ResponseWriter, r *http.Request) {
	if res, ok := h.result(w, r); ok {
		httpx.RespondJSON(w, http.StatusOK, res)
	}
}

// HandleReport handles GET /v1/results/{id}/report?format=md|html|json.
func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	res, ok := h.result(w, r)
	if !ok {
		return
	}

	rep := report.Build(res, h.analyzer.Registry())
	switch format := r.URL.Query().Get("format"); format {
	case "json":
		httpx.RespondJSON(w, http.StatusOK, rep)
	case "", string(report.FormatMarkdown):
		httpx.RespondBytes(w, http.StatusOK, "text/markdown; charset=utf-8", []byte(rep.Markdown()))
	case string(report.FormatHTML):
		httpx.RespondBytes(w, http.StatusOK, "text/html; charset=utf-8", rep.HTML())
	default:
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid format, use md, html or json")
	}
}

// HandleResultExport handles GET /v1/results/{id}/export?format=csv|json|xlsx.
func (h *Handler) HandleResultExport(w http.ResponseWriter, r *http.Request) {
	res, ok := h.result(w, r)
	if !ok {
		return
	}

	name := r.URL.Query().Get("format")
	if name == "" {
		name = string(export.FormatCSV)
	}
	format, err := export.ParseFormat(name)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", "attachment; filename="+export.FileName(res, format))
	if err := export.WriteResult(w, res, format); err != nil {
		log.Printf("❌ Export of result %s failed: %v", res.ID, err)
		http.Error(w, fmt.Sprintf("Export failed: %v", err), http.StatusInternalServerError)
	}
}

func keyFromQuery(q url.Values) (storage.Key, error) {
	k := storage.Key{
		EventType: q.Get("event_type"),
		Parameter: q.Get("parameter"),
		Subsystem: q.Get("subsystem"),
	}
	return k, k.Validate()
}

// BaselineResponse is returned by GET /v1/baselines.
type BaselineResponse struct {
	Key       string          `json:"key"`
	Samples   int             `json:"samples"`
	Channels  int             `json:"channels"`
	UpdatedAt time.Time       `json:"updated_at"`
	Oldest    time.Time       `json:"oldest"`
	Newest    time.Time       `json:"newest"`
	Threshold time.Time       `json:"threshold"`
	Means     map[int]float64 `json:"means"`
}

// HandleBaselines handles GET /v1/baselines?event_type=&parameter=&subsystem=.
// It recomputes the baseline means over the persisted samples.
func (h *Handler) HandleBaselines(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		httpx.RespondError(w, http.StatusConflict, analysis.ErrNoStorage)
		return
	}
	key, err := keyFromQuery(r.URL.Query())
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	snap, err := h.store.Load(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.RespondError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	resp := BaselineResponse{
		Key:       key.String(),
		Samples:   len(snap.Samples),
		UpdatedAt: snap.UpdatedAt,
		Means:     analysis.BaselineMeans(snap.Samples),
	}
	resp.Oldest, resp.Newest = snap.TimeSpan()
	resp.Threshold, _ = analysis.BaselineThreshold(snap.Samples)
	channels := make(map[int]bool)
	for _, s := range snap.Samples {
		channels[s.Channel] = true
	}
	resp.Channels = len(channels)

	httpx.RespondJSON(w, http.StatusOK, resp)
}

// HandleDeleteBaseline handles DELETE /v1/baselines?event_type=&parameter=&subsystem=.
func (h *Handler) HandleDeleteBaseline(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		httpx.RespondError(w, http.StatusConflict, analysis.ErrNoStorage)
		return
	}
	key, err := keyFromQuery(r.URL.Query())
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	unlock := h.locks.lockAll([]string{key.EventType + "/" + key.Parameter})
	defer unlock()
	if err := h.store.Delete(r.Context(), key); err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	log.Printf("🗑️  Deleted baseline %s", key)
	w.WriteHeader(http.StatusNoContent)
}

// HandleKeys handles GET /v1/keys.
func (h *Handler) HandleKeys(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		httpx.RespondError(w, http.StatusConflict, analysis.ErrNoStorage)
		return
	}
	keys, err := h.store.List(r.Context())
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"keys":  out,
		"count": len(out),
	})
}

// HandleParameters handles GET /v1/parameters.
func (h *Handler) HandleParameters(w http.ResponseWriter, r *http.Request) {
	reg := h.analyzer.Registry()
	params := make([]selection.Parameter, 0)
	for _, name := range reg.Names() {
		p, _ := reg.Lookup(name)
		params = append(params, p)
	}
	httpx.RespondJSON(w, http.StatusOK, params)
}

// StorageResponse is returned by GET /v1/storage.
type StorageResponse struct {
	Disk  monitor.StorageUsage `json:"disk"`
	Store *storage.Stats       `json:"store,omitempty"`
}

// handleStorageUsage returns disk usage and store totals.
func handleStorageUsage(store storage.Storage, sm *monitor.StorageMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usage, err := sm.Usage()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		resp := StorageResponse{Disk: usage}

		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), config.StorageStatTimeout)
			defer cancel()
			stats, err := store.Stats(ctx)
			if err != nil {
				httpx.RespondError(w, http.StatusInternalServerError, err)
				return
			}
			resp.Store = stats
		}

		httpx.RespondJSON(w, http.StatusOK, resp)
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string              `json:"status"`
	Version string              `json:"version"`
	Uptime  string              `json:"uptime"`
	Jobs    []monitor.JobStatus `json:"jobs"`
}

// handleHealth returns service health status, degraded when a job keeps failing.
func handleHealth(jobs ...*monitor.JobMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:  "healthy",
			Version: Version,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Jobs:    make([]monitor.JobStatus, 0, len(jobs)),
		}
		status := http.StatusOK
		for _, jm := range jobs {
			js := jm.Status()
			if !js.Healthy {
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
			}
			resp.Jobs = append(resp.Jobs, js)
		}
		httpx.RespondJSON(w, status, resp)
	}
}

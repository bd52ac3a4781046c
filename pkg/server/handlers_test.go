package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/ldmon/pkg/analysis"
	"github.com/nicktill/ldmon/pkg/export"
	"github.com/nicktill/ldmon/pkg/selection"
	"github.com/nicktill/ldmon/pkg/server/monitor"
	"github.com/nicktill/ldmon/pkg/storage"
	"github.com/nicktill/ldmon/pkg/storage/memory"
	"github.com/nicktill/ldmon/pkg/table"
)

var t0 = time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)

type testServer struct {
	router  *mux.Router
	handler *Handler
	store   storage.Storage
	hub     *Hub
}

func newTestServer(t *testing.T, store storage.Storage) *testServer {
	t.Helper()
	opts := []analysis.Option{analysis.WithLogger(log.New(io.Discard, "", 0))}
	if store != nil {
		opts = append(opts, analysis.WithStorage(store))
	}

	hub := NewHub()
	handler := NewHandler(analysis.New(opts...), store, hub, 8)
	var exportHandler *export.Handler
	if store != nil {
		exportHandler = export.NewHandler(store)
	}

	router := mux.NewRouter()
	SetupRoutes(router, handler, exportHandler, monitor.NewStorageMonitor("", 1024), nil, hub, "8080")
	return &testServer{router: router, handler: handler, store: store, hub: hub}
}

func (s *testServer) do(t *testing.T, method, target, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// pulserEvents returns 10 pulser events per channel, one every 100 s, with a
// constant baseline per channel.
func pulserEvents(withFlag bool) *table.Table {
	var rows []table.Row
	for ch, value := range map[int]float64{1: 14000, 2: 15000} {
		for i := 0; i < 10; i++ {
			r := table.Row{
				Datetime: t0.Add(time.Duration(i*100) * time.Second),
				Channel:  ch,
				Name:     fmt.Sprintf("V%05d", ch),
				Location: table.IntGeometry(1),
				Position: table.IntGeometry(ch),
				Values:   map[string]float64{"baseline": value},
			}
			if withFlag {
				r.Flags = map[string]bool{selection.FlagPulser: true}
			}
			rows = append(rows, r)
		}
	}
	var flags []string
	if withFlag {
		flags = []string{selection.FlagPulser}
	}
	return table.New(flags, []string{"baseline"}, rows)
}

func analyzeBody(t *testing.T, spec selection.Spec, events *table.Table) []byte {
	t.Helper()
	body, err := json.Marshal(AnalyzeRequest{Selection: spec, Events: events})
	if err != nil {
		t.Fatalf("Failed to encode request: %v", err)
	}
	return body
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestAnalyzeAndPersist(t *testing.T) {
	s := newTestServer(t, memory.New())

	spec := selection.Spec{Parameters: selection.StringList{"baseline"}, EventType: "pulser", Output: "overwrite"}
	rec := s.do(t, http.MethodPost, "/v1/analyze", "application/json", analyzeBody(t, spec, pulserEvents(true)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[AnalyzeResponse](t, rec)
	require.Equal(t, "geds", resp.Subsystem)
	require.Equal(t, 20, resp.Rows)
	require.Equal(t, 2, resp.Channels)
	require.NotNil(t, resp.Baselines["baseline"][1])
	require.Equal(t, 14000.0, *resp.Baselines["baseline"][1])
	require.Equal(t, 15000.0, *resp.Baselines["baseline"][2])

	rec = s.do(t, http.MethodGet, "/v1/keys", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "monitoring/pulser/baseline/df_geds")

	rec = s.do(t, http.MethodGet, "/v1/baselines?event_type=pulser&parameter=baseline&subsystem=geds", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	baseline := decode[BaselineResponse](t, rec)
	require.Equal(t, 20, baseline.Samples)
	require.Equal(t, 2, baseline.Channels)
	require.Equal(t, map[int]float64{1: 14000, 2: 15000}, baseline.Means)

	rec = s.do(t, http.MethodGet, "/v1/results/"+resp.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/results/"+resp.ID.String()+"/report?format=html", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "<table>")

	rec = s.do(t, http.MethodGet, "/v1/results/"+resp.ID.String()+"/report?format=json", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"subsystem":"geds"`)

	rec = s.do(t, http.MethodGet, "/v1/results/"+resp.ID.String()+"/export?format=xlsx", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, export.FormatXLSX.ContentType(), rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "pulser-geds-baseline.xlsx")

	rec = s.do(t, http.MethodDelete, "/v1/baselines?event_type=pulser&parameter=baseline&subsystem=geds", "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/v1/baselines?event_type=pulser&parameter=baseline&subsystem=geds", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyzeCSV(t *testing.T) {
	s := newTestServer(t, nil)

	var buf bytes.Buffer
	buf.WriteString("datetime,channel,name,location,position,flag_pulser,baseline\n")
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&buf, "%s,7,V00007,2,3,true,%d\n", t0.Add(time.Duration(i)*time.Minute).Format(time.RFC3339), 14000+i)
	}

	rec := s.do(t, http.MethodPost, "/v1/analyze?parameters=baseline&event_type=pulser", "text/csv", buf.Bytes())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[AnalyzeResponse](t, rec)
	require.Equal(t, 5, resp.Rows)
	require.Equal(t, []string{"baseline"}, resp.Parameters)
	require.Equal(t, 14000.0, *resp.Baselines["baseline"][7])
}

func TestAnalyzeErrors(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name        string
		contentType string
		body        []byte
		want        int
	}{
		{
			name:        "unknown parameter",
			contentType: "application/json",
			body:        analyzeBody(t, selection.Spec{Parameters: selection.StringList{"is_valid_bl"}, EventType: "pulser"}, pulserEvents(true)),
			want:        http.StatusBadRequest,
		},
		{
			name:        "missing flag column",
			contentType: "application/json",
			body:        analyzeBody(t, selection.Spec{Parameters: selection.StringList{"baseline"}, EventType: "pulser"}, pulserEvents(false)),
			want:        http.StatusBadRequest,
		},
		{
			name:        "saving without store",
			contentType: "application/json",
			body:        analyzeBody(t, selection.Spec{Parameters: selection.StringList{"baseline"}, EventType: "pulser", Output: "append"}, pulserEvents(true)),
			want:        http.StatusConflict,
		},
		{
			name:        "no events",
			contentType: "application/json",
			body:        []byte(`{"selection":{"parameters":"baseline","event_type":"pulser"}}`),
			want:        http.StatusBadRequest,
		},
		{
			name:        "unsupported content type",
			contentType: "text/plain",
			body:        []byte("baseline"),
			want:        http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/v1/analyze", tt.contentType, tt.body)
			require.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	// Client errors do not degrade health
	require.True(t, s.handler.Analyses.IsHealthy())
	require.Zero(t, s.handler.Analyses.Status().ConsecutiveErrors)
}

func TestResultNotFound(t *testing.T) {
	s := newTestServer(t, memory.New())

	rec := s.do(t, http.MethodGet, "/v1/results/"+uuid.NewString()+"/report", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/results/not-a-uuid", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStoreEndpointsWithoutStore(t *testing.T) {
	s := newTestServer(t, nil)

	for _, target := range []string{"/v1/keys", "/v1/baselines?event_type=phy&parameter=baseline&subsystem=geds"} {
		rec := s.do(t, http.MethodGet, target, "", nil)
		require.Equal(t, http.StatusConflict, rec.Code, target)
	}
	rec := s.do(t, http.MethodGet, "/v1/store/export", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBaselinesBadKey(t *testing.T) {
	s := newTestServer(t, memory.New())
	rec := s.do(t, http.MethodGet, "/v1/baselines?event_type=phy", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndStorage(t *testing.T) {
	store := memory.New()
	s := newTestServer(t, store)

	rec := s.do(t, http.MethodGet, "/v1/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	require.Equal(t, "healthy", health.Status)
	require.Len(t, health.Jobs, 1)

	for i := 0; i <= monitor.MaxConsecutiveErrors; i++ {
		s.handler.Analyses.RecordFailure(errors.New("store unavailable"))
	}
	rec = s.do(t, http.MethodGet, "/v1/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	err := store.Save(context.Background(), &storage.Snapshot{
		Key:     storage.Key{EventType: "phy", Parameter: "baseline", Subsystem: "geds"},
		Samples: []storage.Sample{{Channel: 1, Datetime: t0, Value: 1}},
	})
	require.NoError(t, err)

	rec = s.do(t, http.MethodGet, "/v1/storage", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	usage := decode[StorageResponse](t, rec)
	require.NotNil(t, usage.Store)
	require.Equal(t, uint64(1), usage.Store.TotalSnapshots)
}

func TestParameters(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/v1/parameters", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	params := decode[[]selection.Parameter](t, rec)
	require.NotEmpty(t, params)
	require.Contains(t, rec.Body.String(), `"name":"event_rate"`)
}

func TestWebSocketFeed(t *testing.T) {
	s := newTestServer(t, memory.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/ws", nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()
	require.Eventually(t, s.hub.HasClients, 2*time.Second, 10*time.Millisecond)

	spec := selection.Spec{Parameters: selection.StringList{"baseline"}, EventType: "pulser"}
	resp, err := http.Post(srv.URL+"/v1/analyze", "application/json", bytes.NewReader(analyzeBody(t, spec, pulserEvents(true))))
	if err != nil {
		t.Fatalf("Failed to post analysis: %v", err)
	}
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	var event Event
	if err := json.Unmarshal(msg, &event); err != nil {
		t.Fatalf("Failed to decode event: %v", err)
	}
	require.Equal(t, EventAnalysisCompleted, event.Type)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrapped: %w", selection.ErrUnknownParameter), http.StatusBadRequest},
		{analysis.ErrMissingColumn, http.StatusBadRequest},
		{analysis.ErrNoMetadata, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("disk failure"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestAnalyzeReleasesKeyLockOnError(t *testing.T) {
	s := newTestServer(t, memory.New())

	far := table.New(nil, nil, []table.Row{
		{Datetime: t0, Channel: 1, Location: table.IntGeometry(1), Position: table.IntGeometry(1)},
		{Datetime: t0.Add(72 * time.Hour), Channel: 1, Location: table.IntGeometry(1), Position: table.IntGeometry(1)},
	})
	spec := selection.Spec{Parameters: selection.StringList{"event_rate"}, EventType: "all", TimeWindow: "1ns"}
	rec := s.do(t, http.MethodPost, "/v1/analyze", "application/json", analyzeBody(t, spec, far))
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	// Same (event type, parameter) key; hangs if the lock leaked
	spec.TimeWindow = "1h"
	body := analyzeBody(t, spec, far)
	done := make(chan int, 1)
	go func() {
		done <- s.do(t, http.MethodPost, "/v1/analyze", "application/json", body).Code
	}()
	select {
	case code := <-done:
		require.Equal(t, http.StatusOK, code)
	case <-time.After(5 * time.Second):
		t.Fatalf("Second analysis of the same key did not complete")
	}
}

package export

import (
	"fmt"
	"log"
	"mime"
	"net/http"
	"time"

	"github.com/nicktill/ldmon/pkg/httpx"
	"github.com/nicktill/ldmon/pkg/storage"
)

// maxLoggedErrors caps the validation errors written to the log per import
const maxLoggedErrors = 10

// Handler serves backups of the baseline store over HTTP
type Handler struct {
	exporter *Exporter
	importer *Importer

	// OnImport, when set, is called after every successful import
	OnImport func(*ImportResult)
}

// NewHandler creates a backup handler for store
func NewHandler(store storage.Storage) *Handler {
	return &Handler{
		exporter: NewExporter(store),
		importer: NewImporter(store),
	}
}

// backupWriter returns the writer of a backup format, false when the format has none
func (h *Handler) backupWriter(f Format) (func(*http.Request, http.ResponseWriter, ExportOptions) (*ExportResult, error), bool) {
	switch f {
	case FormatJSON:
		return func(r *http.Request, w http.ResponseWriter, o ExportOptions) (*ExportResult, error) {
			return h.exporter.ExportToJSON(r.Context(), w, o)
		}, true
	case FormatCSV:
		return func(r *http.Request, w http.ResponseWriter, o ExportOptions) (*ExportResult, error) {
			return h.exporter.ExportToCSV(r.Context(), w, o)
		}, true
	}
	return nil, false
}

// HandleExport streams the persisted baselines as a download.
//
//	GET /v1/store/export?format=json|csv&event_type=pulser&parameter=baseline
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "use GET")
		return
	}

	q := r.URL.Query()
	format := FormatJSON
	if v := q.Get("format"); v != "" {
		format = Format(v)
	}
	write, ok := h.backupWriter(format)
	if !ok {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid backup format %q, use json or csv", format))
		return
	}

	opts := ExportOptions{
		EventType: q.Get("event_type"),
		Parameter: q.Get("parameter"),
		Format:    string(format),
	}

	name := fmt.Sprintf("ldmon-export-%s.%s", time.Now().Format("20060102-150405"), format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", "attachment; filename="+name)

	// Headers are sent with the first byte, so a failure mid-stream can only be logged
	result, err := write(r, w, opts)
	if err != nil {
		log.Printf("❌ Store export failed: %v", err)
		if result == nil || result.SnapshotsExported == 0 {
			httpx.RespondError(w, http.StatusInternalServerError, err)
		}
		return
	}

	log.Printf("💾 Exported %d baselines (%d samples) as %s", result.SnapshotsExported, result.SamplesExported, format)
}

// HandleImport restores a JSON backup written by HandleExport.
//
//	POST /v1/store/import?mode=merge|replace
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "use POST")
		return
	}

	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "content type must be application/json")
		return
	}

	mode := ImportMode(r.URL.Query().Get("mode"))
	switch mode {
	case "", ImportMerge, ImportReplace:
	default:
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid import mode %q, use merge or replace", mode))
		return
	}

	result, err := h.importer.ImportFromJSON(r.Context(), r.Body, mode)
	if err != nil {
		log.Printf("❌ Store import failed: %v", err)
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	if n := len(result.Errors); n > 0 {
		log.Printf("⚠️  Skipped %d invalid baselines during import", n)
		for i, msg := range result.Errors {
			if i == maxLoggedErrors {
				log.Printf("   ... and %d more", n-maxLoggedErrors)
				break
			}
			log.Printf("   - %s", msg)
		}
	}
	log.Printf("✅ Imported %d baselines (%d samples, mode %s)", result.SnapshotsImported, result.SamplesImported, result.Mode)

	if h.OnImport != nil {
		h.OnImport(result)
	}
	httpx.RespondJSON(w, http.StatusOK, result)
}

package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/loqalabs/loqa-capture/internal/apperr"
	"github.com/loqalabs/loqa-capture/internal/eventstore"
	"github.com/loqalabs/loqa-capture/internal/stt"
)

const maxRequestBody = 64 << 10

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type recordingView struct {
	Name            string   `json:"name"`
	Transcripts     []string `json:"transcripts"`
	SizeBytes       int64    `json:"size_bytes"`
	DurationSeconds float64  `json:"duration_seconds"`
}

type indexResponse struct {
	Recordings []recordingView `json:"recordings"`
	Active     bool            `json:"active"`
	Models     []string        `json:"models"`
}

type activeResponse struct {
	Active      bool `json:"active"`
	IsRecording bool `json:"is_recording"`
}

type transcribeRequest struct {
	FileName string `json:"file_name"`
	Model    string `json:"model"`
}

type transcribeResponse struct {
	Status         string `json:"status"`
	Message        string `json:"message"`
	Transcript     string `json:"transcript"`
	TranscriptFile string `json:"transcript_file"`
}

func (r *Runtime) routes(metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", r.handleIndex)
	mux.HandleFunc("POST /start_recording", r.handleStart)
	mux.HandleFunc("POST /stop_recording", r.handleStop)
	mux.HandleFunc("GET /status", r.handleStatus)
	mux.HandleFunc("GET /recordings/{name}", r.handleRecording)
	mux.HandleFunc("POST /transcribe", r.handleTranscribe)
	mux.HandleFunc("GET /transcripts/{name}", r.handleTranscript)
	mux.HandleFunc("GET /api/events", r.handleEvents)
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	return mux
}

func (r *Runtime) handleIndex(w http.ResponseWriter, _ *http.Request) {
	entries := r.catalog.List()
	views := make([]recordingView, 0, len(entries))
	for _, e := range entries {
		views = append(views, recordingView{
			Name:            e.Name,
			Transcripts:     e.Transcripts,
			SizeBytes:       e.SizeBytes,
			DurationSeconds: e.Duration.Seconds(),
		})
	}
	writeJSON(w, http.StatusOK, indexResponse{
		Recordings: views,
		Active:     r.supervisor.Status(),
		Models:     stt.SupportedModels(),
	})
}

func (r *Runtime) handleStart(w http.ResponseWriter, _ *http.Request) {
	if _, err := r.supervisor.Start(); err != nil {
		r.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Recording started."})
}

// handleStop always runs the full grace period; a client hanging up must not
// turn a graceful stop into a kill.
func (r *Runtime) handleStop(w http.ResponseWriter, req *http.Request) {
	r.supervisor.Stop(context.WithoutCancel(req.Context()))
	writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Recording stopped."})
}

func (r *Runtime) handleStatus(w http.ResponseWriter, _ *http.Request) {
	active := r.supervisor.Status()
	writeJSON(w, http.StatusOK, activeResponse{Active: active, IsRecording: active})
}

func (r *Runtime) handleRecording(w http.ResponseWriter, req *http.Request) {
	path, err := r.catalog.RecordingPath(req.PathValue("name"))
	if err != nil {
		r.writeError(w, err)
		return
	}
	r.serveFile(w, req, path, "audio/wav")
}

func (r *Runtime) handleTranscript(w http.ResponseWriter, req *http.Request) {
	path, err := r.catalog.TranscriptPath(req.PathValue("name"))
	if err != nil {
		r.writeError(w, err)
		return
	}
	r.serveFile(w, req, path, "text/plain; charset=utf-8")
}

func (r *Runtime) serveFile(w http.ResponseWriter, req *http.Request, path, contentType string) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.writeError(w, apperr.NotFound("fetch file", "file not found"))
			return
		}
		r.writeError(w, apperr.Internal("fetch file", err))
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		r.writeError(w, apperr.Internal("fetch file", err))
		return
	}
	w.Header().Set("Content-Type", contentType)
	http.ServeContent(w, req, st.Name(), st.ModTime(), f)
}

func (r *Runtime) handleTranscribe(w http.ResponseWriter, req *http.Request) {
	var body transcribeRequest
	dec := json.NewDecoder(io.LimitReader(req.Body, maxRequestBody))
	if err := dec.Decode(&body); err != nil {
		r.writeError(w, apperr.BadInput("transcribe", "Invalid JSON body: %v", err))
		return
	}

	res, err := r.dispatcher.Transcribe(req.Context(), body.FileName, body.Model)
	if err != nil {
		r.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transcribeResponse{
		Status:         "success",
		Message:        "Transcription complete.",
		Transcript:     res.Text,
		TranscriptFile: res.TranscriptFile,
	})
}

func (r *Runtime) handleEvents(w http.ResponseWriter, req *http.Request) {
	limit := 100
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			r.writeError(w, apperr.BadInput("list events", "limit must be between 1 and 1000"))
			return
		}
		limit = n
	}
	events, err := r.events.ListEvents(req.Context(), limit)
	if err != nil {
		r.writeError(w, apperr.Internal("list events", err))
		return
	}
	if events == nil {
		events = []eventstore.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.bus == nil || r.bus.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		r.logger.Error("request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, statusResponse{Status: "error", Message: apperr.Message(err)})
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindBadInput:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/scivid/scivid/internal/document"
	"github.com/scivid/scivid/internal/jobs"
	"github.com/scivid/scivid/internal/pipeline"
	"github.com/scivid/scivid/internal/script"
	"github.com/scivid/scivid/internal/session"
	"github.com/scivid/scivid/internal/stages"
)

const (
	// base64 inflates by 4/3; leave room for the JSON envelope.
	maxUploadBody    = document.MaxSize/3*4 + 1<<20
	multipartMemory  = 32 << 20
	defaultPDFName   = "document.pdf"
	sessionListLimit = 100
)

// writeServiceError maps service errors onto status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrSessionNotFound), errors.Is(err, session.ErrNotFound):
		WriteError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
	case errors.Is(err, jobs.ErrJobInProgress), errors.Is(err, jobs.ErrSessionComplete):
		WriteError(w, http.StatusConflict, err.Error(), "CONFLICT")
	case errors.Is(err, session.ErrMissingInput), errors.Is(err, stages.ErrNoVideos):
		WriteError(w, http.StatusConflict, err.Error(), "NOT_READY")
	case errors.Is(err, document.ErrTooLarge):
		WriteError(w, http.StatusRequestEntityTooLarge, err.Error(), "TOO_LARGE")
	case errors.Is(err, document.ErrInvalidPDF):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}

// createSessionHandler accepts either a multipart form with a file and a
// style field, or a JSON body carrying the PDF as base64.
func createSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)

		var (
			name     string
			styleArg string
			pdf      io.Reader
		)
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if mediaType == "multipart/form-data" {
			if err := r.ParseMultipartForm(multipartMemory); err != nil {
				WriteError(w, http.StatusBadRequest, "invalid multipart body", "BAD_REQUEST")
				return
			}
			defer r.MultipartForm.RemoveAll()
			file, header, err := r.FormFile("file")
			if err != nil {
				WriteError(w, http.StatusBadRequest, "file is required", "BAD_REQUEST")
				return
			}
			defer file.Close()
			name, styleArg, pdf = header.Filename, r.FormValue("style"), file
		} else {
			var req CreateSessionRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
				return
			}
			if req.PDFBase64 == "" {
				WriteError(w, http.StatusBadRequest, "pdf_base64 is required", "BAD_REQUEST")
				return
			}
			payload := req.PDFBase64
			if strings.HasPrefix(payload, "data:") {
				_, payload = script.SplitDataURL(payload)
			}
			data, err := base64.StdEncoding.DecodeString(payload)
			if err != nil {
				WriteError(w, http.StatusBadRequest, "pdf_base64 is not valid base64", "BAD_REQUEST")
				return
			}
			name, styleArg, pdf = req.FileName, req.Style, bytes.NewReader(data)
		}

		style, err := script.ParseStyle(styleArg)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		name = filepath.Base(strings.TrimSpace(name))
		if name == "." || name == string(filepath.Separator) {
			name = defaultPDFName
		}

		rec, err := cfg.Service.CreateSession(r.Context(), name, pdf, style)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, SessionToResponse(rec))
	}
}

func listSessionsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := cfg.Service.ListSessions(r.Context(), sessionListLimit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list sessions", "INTERNAL_ERROR")
			return
		}
		resp := SessionsResponse{Sessions: make([]SessionResponse, len(recs))}
		for i, s := range recs {
			resp.Sessions[i] = SessionToResponse(s)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rec, err := cfg.Service.GetSession(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		resp := SessionToResponse(rec)
		if js, err := cfg.Service.SessionJobs(r.Context(), id); err == nil {
			resp.Jobs = jobsToResponse(js)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func deleteSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Service.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func sessionResultHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := cfg.Service.OpenSession(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		res, err := pipeline.LoadResult(sess)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func enqueueStageHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := pipeline.ParseStage(chi.URLParam(r, "stage"))
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		job, err := cfg.Service.EnqueueStage(r.Context(), chi.URLParam(r, "id"), st)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, EnqueueResponse{JobID: job.ID, SessionID: job.SessionID, Stage: job.Stage})
	}
}

func runSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Service.EnqueueRun(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, EnqueueResponse{JobID: job.ID, SessionID: job.SessionID, Stage: job.Stage})
	}
}

func exportTimelineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Timeline == nil {
			WriteError(w, http.StatusServiceUnavailable, "timeline export not available", "UNAVAILABLE")
			return
		}
		sess, err := cfg.Service.OpenSession(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		edl, err := cfg.Timeline.Timeline(r.Context(), sess)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+sess.ID+`.edl"`)
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, edl)
	}
}

func sessionFileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := cfg.Service.OpenSession(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		rel := chi.URLParam(r, "*")
		if err := cfg.PlaybackServer.ServeFile(w, r, sess.Dir, rel); err != nil {
			cfg.Logger.Error("playback error", "error", err, "session_id", sess.ID, "file", rel)
		}
	}
}

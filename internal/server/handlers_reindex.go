package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/user/annodex/internal/index"
	"github.com/user/annodex/internal/reindex"
)

type submitRequest struct {
	JobType        string         `json:"job_type"`
	SelectorKind   string         `json:"selector_kind"`
	SelectorParams selectorParams `json:"selector_params"`
	Force          bool           `json:"force"`
}

type selectorParams struct {
	Start         string `json:"start,omitempty"`
	End           string `json:"end,omitempty"`
	Username      string `json:"username,omitempty"`
	GroupID       string `json:"group_id,omitempty"`
	AnnotationIDs string `json:"annotation_ids,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "request body unreadable", "BAD_REQUEST")
		return
	}

	if msg, err := validateSubmitPayload(raw); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "SCHEMA_ERROR")
		return
	} else if msg != "" {
		writeError(w, http.StatusBadRequest, msg, "VALIDATION_FAILED")
		return
	}

	var req submitRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON: "+err.Error(), "BAD_REQUEST")
		return
	}

	sel, err := buildSelector(req.SelectorKind, req.SelectorParams)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_FAILED")
		return
	}

	job, err := s.dispatcher.Submit(reindex.Request{
		Type:     index.Shape(req.JobType),
		Selector: sel,
		Force:    req.Force,
	})
	if err != nil {
		if reindex.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_FAILED")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

// buildSelector interprets the variant-specific params for the given
// kind. Timestamps are RFC 3339; annotation_ids is newline-separated,
// one id per line, blank lines ignored.
func buildSelector(kind string, p selectorParams) (reindex.Selector, error) {
	switch reindex.SelectorKind(kind) {
	case reindex.SelectDateRange:
		start, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			return reindex.Selector{}, fmt.Errorf("invalid start timestamp: %w", err)
		}
		end, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			return reindex.Selector{}, fmt.Errorf("invalid end timestamp: %w", err)
		}
		return reindex.Selector{Kind: reindex.SelectDateRange, Start: start, End: end}, nil
	case reindex.SelectUser:
		return reindex.Selector{Kind: reindex.SelectUser, Username: p.Username}, nil
	case reindex.SelectGroup:
		return reindex.Selector{Kind: reindex.SelectGroup, GroupID: p.GroupID}, nil
	default:
		return reindex.Selector{
			Kind: reindex.SelectIDs,
			IDs:  reindex.ParseIDList(p.AnnotationIDs),
		}, nil
	}
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.dispatcher.Registry().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "reindex job not found", "NOT_FOUND")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.dispatcher.Registry().List()})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.dispatcher.Registry().Get(id); !ok {
		writeError(w, http.StatusNotFound, "reindex job not found", "NOT_FOUND")
		return
	}
	if !s.dispatcher.Registry().RequestCancel(id) {
		writeError(w, http.StatusConflict, "job already finished", "ALREADY_TERMINAL")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "cancel": "requested"})
}

func (s *Server) handleJobProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	registry := s.dispatcher.Registry()
	job, ok := registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "reindex job not found", "NOT_FOUND")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", "SSE_UNSUPPORTED")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if job.State.Terminal() {
		s.writeTerminalEvent(w, job)
		flusher.Flush()
		return
	}

	ch, ok := registry.EventsFor(id)
	if !ok {
		s.writeTerminalEvent(w, job)
		flusher.Flush()
		return
	}

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			_, _ = fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				if latest, found := registry.Get(id); found {
					s.writeTerminalEvent(w, latest)
					flusher.Flush()
				}
				return
			}
			body, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, body)
			flusher.Flush()
		}
	}
}

func (s *Server) writeTerminalEvent(w http.ResponseWriter, job *reindex.Job) {
	ev := reindex.JobEvent{
		Type:        "reindex.job." + string(job.State),
		JobID:       job.ID,
		State:       string(job.State),
		Total:       job.Total,
		Processed:   job.Processed,
		Skipped:     job.Skipped,
		Errors:      job.Errors,
		Error:       job.Error,
		CreatedAtNs: time.Now().UnixNano(),
	}
	body, _ := json.Marshal(ev)
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, body)
}

package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/qarbon/qingest/pkg/adapters"
	"github.com/qarbon/qingest/pkg/batch"
	"github.com/qarbon/qingest/pkg/payload"
	"github.com/qarbon/qingest/pkg/registry"
	"github.com/qarbon/qingest/pkg/sigcache"
	"github.com/qarbon/qingest/pkg/storage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error     string                    `json:"error"`
	Adapter   string                    `json:"adapter,omitempty"`
	Errors    []string                  `json:"errors,omitempty"`
	Warnings  []string                  `json:"warnings,omitempty"`
	Detection *registry.DetectionResult `json:"detection,omitempty"`
}

func (s *Server) readPayload(w http.ResponseWriter, r *http.Request) (*payload.Payload, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.MaxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return nil, false
	}
	return payload.FromBytes(body), true
}

func detectOptions(r *http.Request) ([]registry.DetectOption, error) {
	var opts []registry.DetectOption
	if t := r.URL.Query().Get("timeout"); t != "" {
		d, err := time.ParseDuration(t)
		if err != nil {
			return nil, err
		}
		opts = append(opts, registry.WithMaxDetectionTime(d))
	}
	if r.URL.Query().Get("nocache") == "true" {
		opts = append(opts, registry.WithoutCache())
	}
	return opts, nil
}

func source(r *http.Request) string {
	if s := r.URL.Query().Get("source"); s != "" {
		return s
	}
	return r.Header.Get("X-Source")
}

func (s *Server) audit(r *http.Request, p *payload.Payload, res *registry.DetectionResult) {
	if s.DB == nil || res == nil {
		return
	}
	if err := s.DB.LogDetection(r.Context(), batch.Audit(source(r), p, res)); err != nil {
		s.Log.Warnf("[server] could not log detection: %v", err)
	}
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	p, ok := s.readPayload(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("simple") == "true" {
		var best *string
		if name := s.Registry.DetectSimple(p); name != "" {
			best = &name
		}
		writeJSON(w, http.StatusOK, map[string]*string{"bestMatch": best})
		return
	}
	opts, err := detectOptions(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	res := s.Registry.DetectFormat(r.Context(), p, opts...)
	s.audit(r, p, res)
	writeJSON(w, http.StatusOK, res)
}

type ingestResponse struct {
	ID        string                    `json:"id,omitempty"`
	Record    *adapters.NormalizedData  `json:"record"`
	Detection *registry.DetectionResult `json:"detection,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	p, ok := s.readPayload(w, r)
	if !ok {
		return
	}
	opts, err := detectOptions(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	data, res, err := s.Registry.IngestDetailed(r.Context(), p, opts...)
	s.audit(r, p, res)
	if err != nil {
		s.writeIngestError(w, err, res)
		return
	}

	out := ingestResponse{Record: data, Detection: res}
	if s.DB != nil && r.URL.Query().Get("store") != "false" {
		id, err := s.DB.SaveRecord(r.Context(), source(r), p.Bytes(), data)
		if err != nil {
			s.Log.Errorf("[server] could not store record: %v", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
		out.ID = id
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeIngestError(w http.ResponseWriter, err error, res *registry.DetectionResult) {
	resp := errorResponse{Error: err.Error(), Detection: res}
	var (
		verr *registry.ValidationError
		ierr *registry.AdapterIngestError
	)
	switch {
	case errors.As(err, &verr):
		resp.Adapter, resp.Errors, resp.Warnings = verr.Adapter, verr.Errors, verr.Warnings
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case errors.As(err, &ierr):
		resp.Adapter = ierr.Adapter
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case errors.Is(err, registry.ErrUnknownFormat):
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case errors.Is(err, registry.ErrTimeout):
		writeJSON(w, http.StatusGatewayTimeout, resp)
	default:
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

func (s *Server) handleAdapters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Registry.List())
}

type statsResponse struct {
	Adapters   int                    `json:"adapters"`
	Cache      sigcache.Stats         `json:"cache"`
	Records    []storage.AdapterStats `json:"records,omitempty"`
	Detections *detectionCounts       `json:"detections,omitempty"`
}

type detectionCounts struct {
	Total     int `json:"total"`
	Unmatched int `json:"unmatched"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out := statsResponse{Adapters: s.Registry.Len(), Cache: s.Registry.CacheStats()}
	if s.DB != nil {
		stats, err := s.DB.GetStats(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
		out.Records = stats
		total, unmatched, err := s.DB.CountDetections(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
		out.Detections = &detectionCounts{Total: total, Unmatched: unmatched}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) requireDB(w http.ResponseWriter) bool {
	if s.DB == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "storage is disabled"})
		return false
	}
	return true
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	// Parse query params for filtering
	q := r.URL.Query()
	opts := storage.ListOptions{
		Adapter: q.Get("adapter"),
		Source:  q.Get("source"),
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		opts.Limit = n
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid since, want RFC3339"})
			return
		}
		opts.Since = t
	}

	records, err := s.DB.ListRecords(r.Context(), opts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	rec, err := s.DB.GetRecord(r.Context(), r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "record not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	dets, err := s.DB.ListDetections(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, dets)
}

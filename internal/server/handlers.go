package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/YuminosukeSato/cropsense/internal/crop"
	cserrors "github.com/YuminosukeSato/cropsense/pkg/errors"
	"github.com/YuminosukeSato/cropsense/pkg/log"
)

// maxBodyBytes bounds form and JSON request bodies.
const maxBodyBytes = 1 << 16

type errorBody struct {
	Error string `json:"error"`
}

type field struct {
	crop.Feature
	Value string
}

type pageData struct {
	Fields []field
	Result *crop.Recommendation
	Error  string
}

func newPageData(s crop.Sample) pageData {
	values := s.Values()
	fields := make([]field, len(crop.Features))
	for i, f := range crop.Features {
		fields[i] = field{Feature: f, Value: f.Format(values[i])}
	}
	return pageData{Fields: fields}
}

// formPageData keeps what the user typed when the input could not be parsed.
func formPageData(form map[string]string) pageData {
	data := newPageData(crop.DefaultSample())
	for i := range data.Fields {
		if v, ok := form[data.Fields[i].Name]; ok {
			data.Fields[i].Value = v
		}
	}
	return data
}

func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, http.StatusOK, newPageData(crop.DefaultSample()))
}

func (s *Server) handleFormSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		data := newPageData(crop.DefaultSample())
		data.Error = "could not read form: " + err.Error()
		s.renderPage(w, r, http.StatusBadRequest, data)
		return
	}

	form := make(map[string]string, len(crop.Features))
	for _, f := range crop.Features {
		if _, ok := r.PostForm[f.Name]; ok {
			form[f.Name] = r.PostForm.Get(f.Name)
		}
	}

	sample, err := crop.ParseSample(form)
	if err != nil {
		data := formPageData(form)
		data.Error = err.Error()
		s.renderPage(w, r, statusFor(err), data)
		return
	}

	data := newPageData(sample)
	rec, err := s.rec.Recommend(sample)
	if err != nil {
		data.Error = err.Error()
		s.renderPage(w, r, statusFor(err), data)
		return
	}
	data.Result = &rec
	s.renderPage(w, r, http.StatusOK, data)
}

func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, status int, data pageData) {
	var b strings.Builder
	if err := pageTemplate.Execute(&b, data); err != nil {
		s.logger.Error("Template failed", err, log.RequestIDKey, RequestID(r.Context()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(b.String()))
}

// handleRecommend accepts a JSON object of feature name to number. Missing
// features take their defaults; numbers may also be sent as strings.
// Unknown keys and anything after the object are rejected.
func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "request body must be a JSON object: " + err.Error()})
		return
	}
	if body == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "request body must be a JSON object, got null"})
		return
	}
	if _, err := dec.Token(); err != io.EOF {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "request body must contain a single JSON object"})
		return
	}

	known := make(map[string]bool, len(crop.Features))
	for _, name := range crop.FeatureNames() {
		known[name] = true
	}
	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !known[k] {
			err := cserrors.NewInvalidInputError(k, strings.TrimSpace(jsonText(body[k])), "unknown feature")
			writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
			return
		}
	}

	form := make(map[string]string, len(crop.Features))
	for _, f := range crop.Features {
		v, ok := body[f.Name]
		if !ok || v == nil {
			continue
		}
		switch v := v.(type) {
		case json.Number:
			form[f.Name] = v.String()
		case string:
			form[f.Name] = v
		default:
			err := cserrors.NewInvalidInputError(f.Name, strings.TrimSpace(jsonText(v)), "not a number")
			writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
			return
		}
	}

	sample, err := crop.ParseSample(form)
	if err != nil {
		writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
		return
	}
	rec, err := s.rec.Recommend(sample)
	if err != nil {
		if statusFor(err) >= 500 {
			s.logger.Error("Recommendation failed", err, log.RequestIDKey, RequestID(r.Context()))
		}
		writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"labels": len(s.rec.Labels()),
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		invalid   *cserrors.InvalidInputError
		notFitted *cserrors.NotFittedError
	)
	switch {
	case cserrors.As(err, &invalid):
		return http.StatusBadRequest
	case cserrors.As(err, &notFitted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonText(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

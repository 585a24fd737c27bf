package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"annotation-backend/internal/cloudstorage"
	"annotation-backend/internal/labels"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/schema"
	"gorm.io/gorm"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(code int, err error) error {
	return &codedError{err: err, code: code}
}

func CodedErrorf(code int, format string, args ...any) error {
	return &codedError{err: fmt.Errorf(format, args...), code: code}
}

// errorCode maps an error returned by a handler to its response status.
func errorCode(err error) int {
	var cerr *codedError
	switch {
	case errors.As(err, &cerr):
		return cerr.code
	case errors.Is(err, labels.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, labels.ErrInvalid), errors.Is(err, cloudstorage.ErrInvalid),
		errors.Is(err, cloudstorage.ErrUnsupportedProvider):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errorCode(err)
	if code == http.StatusInternalServerError {
		slog.Error("internal server error received in endpoint", "path", r.URL.Path, "error", err)
	}
	recordError(r, err, code)
	http.Error(w, err.Error(), code)
}

func ParseRequest[T any](r *http.Request) (T, error) {
	var data T
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		slog.Error("error parsing request body", "error", err)
		return data, CodedErrorf(http.StatusBadRequest, "unable to parse request body")
	}
	return data, nil
}

func ParseRequestQueryParams[T any](r *http.Request) (T, error) {
	var data T

	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	if err := decoder.Decode(&data, r.URL.Query()); err != nil {
		slog.Error("error decoding query params", "error", err)
		return data, CodedErrorf(http.StatusBadRequest, "unable to parse request query params")
	}

	return data, nil
}

func restHandler(status int, handler func(r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := handler(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		if status == http.StatusNoContent {
			w.WriteHeader(status)
			return
		}

		if res == nil {
			res = struct{}{}
		}

		writeJsonResponse(w, status, res)
	}
}

func RestHandler(handler func(r *http.Request) (any, error)) http.HandlerFunc {
	return restHandler(http.StatusOK, handler)
}

// RestCreateHandler responds with 201 Created.
func RestCreateHandler(handler func(r *http.Request) (any, error)) http.HandlerFunc {
	return restHandler(http.StatusCreated, handler)
}

// RestDeleteHandler responds with 204 No Content and discards the result.
func RestDeleteHandler(handler func(r *http.Request) (any, error)) http.HandlerFunc {
	return restHandler(http.StatusNoContent, handler)
}

type StreamResponse func(yield func(any, error) bool)

type StreamMessage struct {
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
	Code  int         `json:"code"`
}

func RestStreamHandler(handler func(r *http.Request) (StreamResponse, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stream, err := handler(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			slog.Error("response writer does not support flushing")
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for data, err := range stream {
			var msg StreamMessage
			if err != nil {
				code := errorCode(err)
				msg = StreamMessage{Error: err.Error(), Code: code}
				if code == http.StatusInternalServerError {
					slog.Error("internal server error received in stream", "error", err)
				}
			} else {
				msg = StreamMessage{Data: data, Code: http.StatusOK}
			}

			if writeErr := json.NewEncoder(w).Encode(msg); writeErr != nil {
				slog.Error("error writing json response", "error", writeErr)
				return
			}

			flusher.Flush()
		}
	}
}

func writeJsonResponse(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		slog.Error("error serializing response body", "error", err)
		http.Error(w, fmt.Sprintf("error serializing response body: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		slog.Error("error writing response body", "error", err)
	}
}

func WriteJsonResponse(w http.ResponseWriter, data interface{}) {
	writeJsonResponse(w, http.StatusOK, data)
}

func URLParamInt(r *http.Request, key string) (int, error) {
	param := chi.URLParam(r, key)

	if len(param) == 0 {
		return 0, CodedErrorf(http.StatusBadRequest, "missing {%v} url parameter", key)
	}

	id, err := strconv.Atoi(param)
	if err != nil {
		return 0, CodedErrorf(http.StatusBadRequest, "invalid integer '%v' url parameter provided: %w", key, err)
	}

	return id, nil
}

func notFound(kind string, id any) error {
	return CodedErrorf(http.StatusNotFound, "%s %v not found", kind, id)
}

// loadById loads a row by primary key, converting a missing row to 404.
func loadById[T any](txn *gorm.DB, kind string, id int, preloads ...string) (T, error) {
	var row T
	query := txn
	for _, p := range preloads {
		query = query.Preload(p)
	}
	if err := query.First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return row, notFound(kind, id)
		}
		return row, fmt.Errorf("error loading %s %d: %w", kind, id, err)
	}
	return row, nil
}

func ptr[T any](v T) *T {
	return &v
}

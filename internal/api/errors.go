package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"audio-frames/internal/types"
)

// errorBody 统一错误响应
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor 错误分类到 HTTP 状态码与错误码
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, types.ErrValidation):
		return http.StatusUnprocessableEntity, "validation_error"
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, types.ErrAlreadyExists):
		return http.StatusConflict, "conflict"
	case errors.Is(err, types.ErrDataIntegrity):
		return http.StatusInternalServerError, "data_integrity_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if code == "internal_error" {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "内部错误"
	} else if status >= 500 {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "code", code, "error", err)
	}
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Write response failed", "error", err)
	}
}

// maxBodyBytes 发布请求体上限
const maxBodyBytes = 256 << 20

func decodeBody(r *http.Request, v any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("%w: 请求体无效: %v", types.ErrValidation, err)
	}
	return nil
}

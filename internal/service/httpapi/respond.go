package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
)

var (
	errInvalidJSON  = errors.New("Invalid request body")
	errInvalidLimit = errors.New("limit must be a positive integer")
)

type messageResponse struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		log.WithError(err).Error("failed to encode response")
		status = http.StatusInternalServerError
		data = []byte(`{"message":"Internal server error"}`)
	}
	writeRaw(w, status, data)
}

func writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func respondMessage(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, messageResponse{Message: message})
}

// errorResponse переводит ошибку в код ответа и тело по её классу.
func errorResponse(err error) (int, messageResponse) {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest, messageResponse{Message: err.Error()}
	case domain.KindNotFound:
		return http.StatusNotFound, messageResponse{Message: err.Error()}
	case domain.KindConflict:
		return http.StatusBadRequest, messageResponse{Message: err.Error()}
	case domain.KindAuthorization:
		return http.StatusForbidden, messageResponse{Message: err.Error()}
	case domain.KindTransient:
		return http.StatusConflict, messageResponse{Message: err.Error(), Retryable: true}
	default:
		return http.StatusInternalServerError, messageResponse{Message: "Internal server error"}
	}
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
	}
	respondJSON(w, status, body)
}

func decodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errInvalidJSON
	}
	return unmarshalBody(body, dst)
}

func unmarshalBody(body []byte, dst any) error {
	if len(body) == 0 {
		return errInvalidJSON
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errInvalidJSON
	}
	return nil
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, errInvalidLimit
	}
	return min(limit, maxListLimit), nil
}

package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/DEVa-26/Disaster/internal/models"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError 按错误类型映射 HTTP 状态码
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForError(err), Fail(err.Error()))
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidRequest), errors.Is(err, models.ErrUnresolvedRegion):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnknownResource), errors.Is(err, models.ErrInsufficientCapacity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrIncidentNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyReleased):
		return http.StatusConflict
	case errors.Is(err, models.ErrAllocationTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func readBodyJSON(r *http.Request, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return fmt.Errorf("%w: empty body", models.ErrInvalidRequest)
	}
	if err := json.Unmarshal(body, out); err != nil {
		if errors.Is(err, models.ErrInvalidRequest) {
			return err
		}
		return fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}
	return nil
}

// parseTimeParam 解析 RFC3339 时间参数；为空返回 nil
func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", models.ErrInvalidRequest, name)
	}
	return &t, nil
}

package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/DEVa-26/Disaster/internal/intake"
	"github.com/DEVa-26/Disaster/internal/models"
	"github.com/DEVa-26/Disaster/internal/report"

	"go.uber.org/zap"
)

// AllocationService 分配引擎能力（engine.Engine 实现）
type AllocationService interface {
	Allocate(ctx context.Context, req models.IncidentRequest) (*models.AllocationRecord, error)
	Release(ctx context.Context, incidentID string) (*models.AllocationRecord, error)
	Query(filter models.QueryFilter) []*models.AllocationRecord
	Inventory() []models.InventoryEntry
	Provision(ctx context.Context, region string, rt models.ResourceType, totalDelta int) (models.InventoryEntry, error)
}

// SignalProcessor 原始上报处理（intake.Pipeline 实现）
type SignalProcessor interface {
	Process(ctx context.Context, sig intake.Signal) (*intake.Outcome, error)
}

// AllocationHandler 分配相关 HTTP 接口
type AllocationHandler struct {
	service AllocationService
	signals SignalProcessor // 可为 nil（未配置分类服务）
	logger  *zap.Logger
}

func NewAllocationHandler(service AllocationService, signals SignalProcessor, logger *zap.Logger) *AllocationHandler {
	return &AllocationHandler{
		service: service,
		signals: signals,
		logger:  logger,
	}
}

// ProvisionRequest 补货请求
type ProvisionRequest struct {
	Region       string              `json:"region"`
	ResourceType models.ResourceType `json:"resource_type"`
	Delta        int                 `json:"delta"`
}

// Allocate POST /api/v1/allocations
func (h *AllocationHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	var req models.IncidentRequest
	if err := readBodyJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.service.Allocate(r.Context(), req)
	if err != nil {
		h.logger.Warn("Allocate request failed",
			zap.String("incident_id", req.IncidentID),
			zap.Error(err),
		)
		writeError(w, err)
		return
	}
	if rec.Status != models.StatusFulfilled {
		writeJSON(w, http.StatusOK, Warn(string(rec.Status), rec))
		return
	}
	writeJSON(w, http.StatusOK, Ok(rec))
}

// Release POST /api/v1/allocations/{incidentId}/release
func (h *AllocationHandler) Release(w http.ResponseWriter, r *http.Request, incidentID string) {
	id, err := url.PathUnescape(incidentID)
	if err != nil {
		writeError(w, fmt.Errorf("%w: bad incident id", models.ErrInvalidRequest))
		return
	}
	rec, err := h.service.Release(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(rec))
}

// QueryAllocations GET /api/v1/allocations
func (h *AllocationHandler) QueryAllocations(w http.ResponseWriter, r *http.Request) {
	filter, err := parseQueryFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.service.Query(filter)))
}

// ExportAllocations GET /api/v1/allocations/export
func (h *AllocationHandler) ExportAllocations(w http.ResponseWriter, r *http.Request) {
	filter, err := parseQueryFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := report.GenerateAllocationExport(h.service.Query(filter), h.service.Inventory())
	if err != nil {
		h.logger.Error("Failed to generate allocation export", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to generate export"))
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="allocations.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// GetInventory GET /api/v1/inventory
func (h *AllocationHandler) GetInventory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.service.Inventory()))
}

// Provision POST /api/v1/inventory/provision
func (h *AllocationHandler) Provision(w http.ResponseWriter, r *http.Request) {
	var req ProvisionRequest
	if err := readBodyJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.Region = strings.TrimSpace(req.Region)
	if req.Region == "" || req.ResourceType == "" {
		writeError(w, fmt.Errorf("%w: region and resource_type are required", models.ErrInvalidRequest))
		return
	}
	entry, err := h.service.Provision(r.Context(), req.Region, req.ResourceType, req.Delta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(entry))
}

// SubmitSignal POST /api/v1/signals
func (h *AllocationHandler) SubmitSignal(w http.ResponseWriter, r *http.Request) {
	if h.signals == nil {
		writeJSON(w, http.StatusServiceUnavailable, Fail("classifier services not configured"))
		return
	}
	var sig intake.Signal
	if err := readBodyJSON(r, &sig); err != nil {
		writeError(w, err)
		return
	}
	out, err := h.signals.Process(r.Context(), sig)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(out))
}

func parseQueryFilter(r *http.Request) (models.QueryFilter, error) {
	q := r.URL.Query()
	filter := models.QueryFilter{
		IncidentID: strings.TrimSpace(q.Get("incident_id")),
		Region:     strings.TrimSpace(q.Get("region")),
	}
	if s := q.Get("disaster_type"); s != "" {
		dt, ok := models.LookupDisasterType(s)
		if !ok {
			return filter, fmt.Errorf("%w: unknown disaster_type %q", models.ErrInvalidRequest, s)
		}
		filter.DisasterType = dt
	}
	if s := q.Get("status"); s != "" {
		status, ok := parseStatus(s)
		if !ok {
			return filter, fmt.Errorf("%w: unknown status %q", models.ErrInvalidRequest, s)
		}
		filter.Status = status
	}
	var err error
	if filter.Since, err = parseTimeParam(r, "since"); err != nil {
		return filter, err
	}
	if filter.Until, err = parseTimeParam(r, "until"); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseStatus(s string) (models.Status, bool) {
	for _, st := range []models.Status{models.StatusFulfilled, models.StatusPartial, models.StatusRejected, models.StatusReleased} {
		if strings.EqualFold(s, string(st)) {
			return st, true
		}
	}
	return "", false
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Daneel-Li/clubpay/internal/events"
	mxm "github.com/Daneel-Li/clubpay/internal/models"
	"github.com/Daneel-Li/clubpay/internal/services"
	"github.com/Daneel-Li/clubpay/pkg/utils"

	"github.com/gorilla/websocket"
)

// Handler 处理 /api/v1 下的全部请求
type Handler struct {
	svc *services.Container
	hub *events.WSHub
}

func NewHandler(svc *services.Container, hub *events.WSHub) *Handler {
	return &Handler{svc: svc, hub: hub}
}

// statusOf maps a service error kind onto an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidState), errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrLockBusy):
		return http.StatusLocked
	case errors.Is(err, services.ErrGatewayFailure):
		return http.StatusBadGateway
	case errors.Is(err, services.ErrSignatureInvalid):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Current string `json:"current,omitempty"`
}

// handleError 统一错误处理
func (h *Handler) handleError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	body := errorBody{Error: err.Error()}
	if status == http.StatusInternalServerError {
		slog.Error("Handler error", "error", err)
		body.Error = "Internal server error"
	} else {
		slog.Info("request refused", "status", status, "error", err)
	}
	var se *services.StateError
	if errors.As(err, &se) {
		body.Current = se.Current
	}
	utils.WriteHttpResponse(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	utils.WriteHttpResponse(w, http.StatusBadRequest, errorBody{Error: msg})
}

// getUserIDFromContext 从上下文获取用户ID
func getUserIDFromContext(ctx context.Context) uint {
	if userID, ok := ctx.Value("userid").(uint); ok {
		return userID
	}
	return 0
}

// pathID reads a numeric path variable, answering 400 when it is malformed.
func pathID(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	id, err := utils.PathUint(r, name)
	if err != nil || id == 0 {
		badRequest(w, fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return id, true
}

// decodeBody decodes a JSON body into v, answering 400 on failure. An empty
// body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "Invalid request body")
		return false
	}
	return true
}

// CreateEnrollment 报名活动
func (h *Handler) CreateEnrollment(w http.ResponseWriter, r *http.Request) {
	activityID, ok := pathID(w, r, "activity_id")
	if !ok {
		return
	}
	e, err := h.svc.Enrollments.CreateEnrollment(r.Context(), getUserIDFromContext(r.Context()), activityID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, e)
}

func (h *Handler) ListMyEnrollments(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Enrollments.ListMyEnrollments(r.Context(), getUserIDFromContext(r.Context()))
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, list)
}

// CancelEnrollment 取消报名
func (h *Handler) CancelEnrollment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	e, err := h.svc.Enrollments.CancelEnrollment(r.Context(), getUserIDFromContext(r.Context()), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, e)
}

// CreateOrder 为报名创建订单
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EnrollmentID uint `json:"enrollment_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.EnrollmentID == 0 {
		badRequest(w, "enrollment_id is required")
		return
	}
	o, err := h.svc.Orders.CreateOrder(r.Context(), getUserIDFromContext(r.Context()), req.EnrollmentID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, o)
}

// ListMyOrders accepts an optional comma separated status filter.
func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	var statuses []mxm.OrderStatus
	if s := r.URL.Query().Get("status"); s != "" {
		for _, part := range strings.Split(s, ",") {
			statuses = append(statuses, mxm.OrderStatus(strings.ToUpper(strings.TrimSpace(part))))
		}
	}
	list, err := h.svc.Orders.ListMyOrders(r.Context(), getUserIDFromContext(r.Context()), statuses)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, list)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	o, err := h.svc.Orders.GetOrder(r.Context(), getUserIDFromContext(r.Context()), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, o)
}

// CancelOrder 取消订单
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	o, err := h.svc.Orders.CancelOrder(r.Context(), getUserIDFromContext(r.Context()), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, o)
}

// CheckIn 核销：俱乐部管理员扫码签到
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Code == "" {
		badRequest(w, "code is required")
		return
	}
	o, err := h.svc.Orders.CheckIn(r.Context(), getUserIDFromContext(r.Context()), req.Code)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, o)
}

// UpgradeWS WebSocket升级处理
func (h *Handler) UpgradeWS(w http.ResponseWriter, r *http.Request) {
	var upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // 根据安全需求调整
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}
	slog.Debug("新建连接", "connptr", fmt.Sprintf("%p", conn))

	// 首帧鉴权并注册
	h.hub.Serve(conn)
}

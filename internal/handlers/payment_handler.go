package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/Daneel-Li/clubpay/internal/services"
	"github.com/Daneel-Li/clubpay/pkg/utils"
)

// notifyReply is the body WeChat Pay expects from a notify_url.
type notifyReply struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Prepay 下单并返回小程序 requestPayment 参数
func (h *Handler) Prepay(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	params, err := h.svc.Payments.Prepay(r.Context(), getUserIDFromContext(r.Context()), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, params)
}

// SyncPayment asks the gateway for the trade state and applies it.
func (h *Handler) SyncPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	o, err := h.svc.Payments.SyncPaymentStatus(r.Context(), getUserIDFromContext(r.Context()), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, o)
}

// GetVerificationCode 获取核销码
func (h *Handler) GetVerificationCode(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	code, err := h.svc.Payments.GetVerificationCode(r.Context(), getUserIDFromContext(r.Context()), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, map[string]string{"verification_code": code})
}

// PaySuccNotify 支付结果回调通知
// Every handled outcome is acknowledged; only a bad signature or an internal
// failure answers FAIL so the gateway redelivers.
func (h *Handler) PaySuccNotify(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.svc.Payments.HandleNotify(r.Context(), r)
	switch {
	case errors.Is(err, services.ErrSignatureInvalid):
		slog.Warn("payment notify rejected", "remote", r.RemoteAddr, "error", err)
		utils.WriteHttpResponse(w, http.StatusUnauthorized, notifyReply{Code: "FAIL", Message: "签名错误"})
	case err != nil:
		slog.Error("payment notify failed", "error", err)
		utils.WriteHttpResponse(w, http.StatusInternalServerError, notifyReply{Code: "FAIL", Message: "处理失败"})
	default:
		slog.Debug("payment notify acknowledged", "outcome", outcome)
		utils.WriteHttpResponse(w, http.StatusOK, notifyReply{Code: "SUCCESS", Message: "成功"})
	}
}

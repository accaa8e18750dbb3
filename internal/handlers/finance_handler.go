package handlers

import (
	"net/http"

	"github.com/Daneel-Li/clubpay/pkg/utils"

	"github.com/shopspring/decimal"
)

type reasonRequest struct {
	Reason string `json:"reason"`
}

// PreviewRefund 退款试算
func (h *Handler) PreviewRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	q, err := h.svc.Refunds.PreviewRefund(r.Context(), getUserIDFromContext(r.Context()), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, q)
}

// CreateRefund 申请退款
func (h *Handler) CreateRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if !decodeBody(w, r, &req) {
		return
	}
	refund, err := h.svc.Refunds.CreateRefund(r.Context(), getUserIDFromContext(r.Context()), id, req.Reason)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, refund)
}

func (h *Handler) GetRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	refund, err := h.svc.Refunds.GetRefund(r.Context(), getUserIDFromContext(r.Context()), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, refund)
}

// ApproveRefund 审核通过并立即发起退款
func (h *Handler) ApproveRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	refund, err := h.svc.Refunds.ApproveRefund(r.Context(), getUserIDFromContext(r.Context()), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, refund)
}

func (h *Handler) RetryRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	refund, err := h.svc.Refunds.RetryRefund(r.Context(), getUserIDFromContext(r.Context()), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, refund)
}

// RejectRefund 驳回退款
func (h *Handler) RejectRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if !decodeBody(w, r, &req) {
		return
	}
	refund, err := h.svc.Refunds.RejectRefund(r.Context(), getUserIDFromContext(r.Context()), id, req.Reason)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, refund)
}

// SettleActivity 活动结算
func (h *Handler) SettleActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "activity_id")
	if !ok {
		return
	}
	st, err := h.svc.Settlements.SettleActivity(r.Context(), getUserIDFromContext(r.Context()), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, st)
}

func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "activity_id")
	if !ok {
		return
	}
	st, err := h.svc.Settlements.GetSettlement(r.Context(), getUserIDFromContext(r.Context()), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, st)
}

// GetAccount 俱乐部账户与流水，分页参数 page/size
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	clubID, ok := pathID(w, r, "club_id")
	if !ok {
		return
	}
	detail, err := h.svc.Ledger.GetAccountDetail(r.Context(), getUserIDFromContext(r.Context()), clubID,
		utils.QueryInt(r, "page", 1), utils.QueryInt(r, "size", 20))
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, detail)
}

func (h *Handler) ReconcileAccount(w http.ResponseWriter, r *http.Request) {
	clubID, ok := pathID(w, r, "club_id")
	if !ok {
		return
	}
	report, err := h.svc.Ledger.ReconcileAccount(r.Context(), getUserIDFromContext(r.Context()), clubID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, report)
}

// CreateWithdrawal 申请提现
func (h *Handler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	clubID, ok := pathID(w, r, "club_id")
	if !ok {
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	wd, err := h.svc.Withdrawals.Create(r.Context(), getUserIDFromContext(r.Context()), clubID, req.Amount)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, wd)
}

func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	clubID, ok := pathID(w, r, "club_id")
	if !ok {
		return
	}
	list, err := h.svc.Withdrawals.ListWithdrawals(r.Context(), getUserIDFromContext(r.Context()), clubID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, list)
}

func (h *Handler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	wd, err := h.svc.Withdrawals.Approve(r.Context(), getUserIDFromContext(r.Context()), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, wd)
}

func (h *Handler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if !decodeBody(w, r, &req) {
		return
	}
	wd, err := h.svc.Withdrawals.Reject(r.Context(), getUserIDFromContext(r.Context()), id, req.Reason)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, wd)
}

// CompleteWithdrawal 标记已打款
func (h *Handler) CompleteWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	wd, err := h.svc.Withdrawals.Complete(r.Context(), getUserIDFromContext(r.Context()), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, wd)
}

package handlers

import (
	"net/http"

	"github.com/Daneel-Li/clubpay/internal/services"

	"github.com/gorilla/mux"
)

// NewRouter 设置路由
func NewRouter(h *Handler, jwt services.JWTService, apiKey string) *mux.Router {
	r := mux.NewRouter()

	midWares := []Middleware{
		JWTMiddleware(jwt),
		ApiAuthCheck(apiKey),
		AccessLog,
	}
	route := func(path string, f http.HandlerFunc, method string) {
		r.HandleFunc(path, WithMidWare(f, midWares...)).Methods(method)
	}

	route("/api/v1/activities/{activity_id}/enrollments", h.CreateEnrollment, "POST")
	route("/api/v1/enrollments", h.ListMyEnrollments, "GET")
	route("/api/v1/enrollments/{id}", h.CancelEnrollment, "DELETE")

	route("/api/v1/orders", h.CreateOrder, "POST")
	route("/api/v1/orders", h.ListMyOrders, "GET")
	route("/api/v1/orders/{id}", h.GetOrder, "GET")
	route("/api/v1/orders/{id}/cancel", h.CancelOrder, "POST")
	route("/api/v1/orders/{id}/prepay", h.Prepay, "POST")
	route("/api/v1/orders/{id}/sync", h.SyncPayment, "POST")
	route("/api/v1/orders/{id}/verification-code", h.GetVerificationCode, "GET")
	route("/api/v1/checkins", h.CheckIn, "POST")

	route("/api/v1/orders/{id}/refund-preview", h.PreviewRefund, "GET")
	route("/api/v1/orders/{id}/refunds", h.CreateRefund, "POST")
	route("/api/v1/refunds/{id}", h.GetRefund, "GET")
	route("/api/v1/refunds/{id}/approve", h.ApproveRefund, "POST")
	route("/api/v1/refunds/{id}/reject", h.RejectRefund, "POST")
	route("/api/v1/refunds/{id}/retry", h.RetryRefund, "POST")

	route("/api/v1/activities/{activity_id}/settlement", h.SettleActivity, "POST")
	route("/api/v1/activities/{activity_id}/settlement", h.GetSettlement, "GET")

	route("/api/v1/clubs/{club_id}/account", h.GetAccount, "GET")
	route("/api/v1/clubs/{club_id}/account/reconcile", h.ReconcileAccount, "GET")
	route("/api/v1/clubs/{club_id}/withdrawals", h.CreateWithdrawal, "POST")
	route("/api/v1/clubs/{club_id}/withdrawals", h.ListWithdrawals, "GET")
	route("/api/v1/withdrawals/{id}/approve", h.ApproveWithdrawal, "POST")
	route("/api/v1/withdrawals/{id}/reject", h.RejectWithdrawal, "POST")
	route("/api/v1/withdrawals/{id}/complete", h.CompleteWithdrawal, "POST")

	// 网关回调与推送通道自带鉴权
	r.HandleFunc("/api/v1/payments/wechat/notify", WithMidWare(h.PaySuccNotify, AccessLog)).Methods("POST")
	r.HandleFunc("/ws", h.UpgradeWS).Methods("GET")
	return r
}

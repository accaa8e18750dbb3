package vendors

import (
	"context"
	"errors"
	"net/http"
	"time"
)

var (
	// ErrSignatureInvalid is returned by ParseNotify when the payload was not
	// signed by the gateway. Nothing in the body has been decrypted yet.
	ErrSignatureInvalid = errors.New("notify signature invalid")
	// ErrGateway marks a failed or timed out call to the payment gateway.
	ErrGateway = errors.New("payment gateway failure")
)

// TradeState 支付网关交易状态
type TradeState string

const (
	TradeStateSuccess    TradeState = "SUCCESS"
	TradeStateRefund     TradeState = "REFUND"
	TradeStateNotPay     TradeState = "NOTPAY"
	TradeStateClosed     TradeState = "CLOSED"
	TradeStateRevoked    TradeState = "REVOKED"
	TradeStateUserPaying TradeState = "USERPAYING"
	TradeStatePayError   TradeState = "PAYERROR"
)

// Paid reports whether money reached the merchant. A REFUND state means the
// trade was paid first.
func (s TradeState) Paid() bool {
	return s == TradeStateSuccess || s == TradeStateRefund
}

// Failed reports a terminal non-success state.
func (s TradeState) Failed() bool {
	return s == TradeStateClosed || s == TradeStateRevoked || s == TradeStatePayError
}

// RefundState 退款状态
type RefundState string

const (
	RefundStateSuccess    RefundState = "SUCCESS"
	RefundStateProcessing RefundState = "PROCESSING"
	RefundStateClosed     RefundState = "CLOSED"
	RefundStateAbnormal   RefundState = "ABNORMAL"
)

// Accepted reports whether the gateway took the refund.
func (s RefundState) Accepted() bool {
	return s == RefundStateSuccess || s == RefundStateProcessing
}

type PrepayRequest struct {
	OrderNo     string
	Description string
	AmountCents int64
	PayerOpenID string
	ExpiresAt   time.Time
}

type PrepayResult struct {
	PrepayID string
}

// TradeResult is what the gateway knows about one merchant order, from a
// query or from a decrypted notification.
type TradeResult struct {
	OrderNo       string
	TransactionID string
	State         TradeState
	StateDesc     string
	AmountCents   int64
	SuccessTime   *time.Time
}

type RefundRequest struct {
	OrderNo     string
	RefundNo    string
	RefundCents int64
	TotalCents  int64
	Reason      string
}

type RefundResult struct {
	RefundID string
	State    RefundState
}

// ClientParams are handed to the mini program's requestPayment call.
type ClientParams struct {
	AppID     string `json:"appId"`
	TimeStamp string `json:"timeStamp"`
	NonceStr  string `json:"nonceStr"`
	Package   string `json:"package"`
	SignType  string `json:"signType"`
	PaySign   string `json:"paySign"`
}

// PaymentGateway is the narrow surface the payment core consumes.
type PaymentGateway interface {
	CreatePrepay(ctx context.Context, req PrepayRequest) (*PrepayResult, error)
	QueryByOrderNo(ctx context.Context, orderNo string) (*TradeResult, error)
	// CloseOrder stops the gateway from accepting payment for orderNo.
	CloseOrder(ctx context.Context, orderNo string) error
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	// ParseNotify verifies the signature of an inbound notification before
	// decrypting it. Signature failures wrap ErrSignatureInvalid.
	ParseNotify(ctx context.Context, r *http.Request) (*TradeResult, error)
	ClientParams(ctx context.Context, prepayID string) (*ClientParams, error)
}

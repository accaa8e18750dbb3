package wechatpay

import (
	"testing"
	"time"

	"github.com/Daneel-Li/clubpay/internal/vendors"

	"github.com/stretchr/testify/assert"
	"github.com/wechatpay-apiv3/wechatpay-go/core"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments"
	"github.com/wechatpay-apiv3/wechatpay-go/services/refunddomestic"
)

func TestFromTransaction(t *testing.T) {
	tx := &payments.Transaction{
		OutTradeNo:    core.String("AO20260101120000123"),
		TransactionId: core.String("4200000001"),
		TradeState:    core.String("SUCCESS"),
		SuccessTime:   core.String("2026-01-01T12:01:02+08:00"),
		Amount:        &payments.TransactionAmount{Total: core.Int64(20000)},
	}

	res := fromTransaction(tx)
	assert.Equal(t, "AO20260101120000123", res.OrderNo)
	assert.Equal(t, "4200000001", res.TransactionID)
	assert.Equal(t, vendors.TradeStateSuccess, res.State)
	assert.True(t, res.State.Paid())
	assert.Equal(t, int64(20000), res.AmountCents)
	if assert.NotNil(t, res.SuccessTime) {
		assert.True(t, res.SuccessTime.Equal(time.Date(2026, 1, 1, 4, 1, 2, 0, time.UTC)))
	}
}

func TestFromTransactionSparse(t *testing.T) {
	res := fromTransaction(&payments.Transaction{TradeState: core.String("NOTPAY")})
	assert.Equal(t, vendors.TradeStateNotPay, res.State)
	assert.False(t, res.State.Paid())
	assert.False(t, res.State.Failed())
	assert.Zero(t, res.AmountCents)
	assert.Nil(t, res.SuccessTime)
}

func TestFromRefund(t *testing.T) {
	status := refunddomestic.STATUS_PROCESSING
	res := fromRefund(&refunddomestic.Refund{RefundId: core.String("50300"), Status: &status})
	assert.Equal(t, "50300", res.RefundID)
	assert.True(t, res.State.Accepted())

	closed := refunddomestic.STATUS_CLOSED
	assert.False(t, fromRefund(&refunddomestic.Refund{Status: &closed}).State.Accepted())
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, 0, statusOf(nil))
	assert.Equal(t, 0, statusOf(&core.APIResult{}))
}

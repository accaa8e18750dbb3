// Package wechatpay adapts WeChat Pay v3 (JSAPI / mini program) to vendors.PaymentGateway.
package wechatpay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Daneel-Li/clubpay/internal/config"
	"github.com/Daneel-Li/clubpay/internal/vendors"
	"github.com/Daneel-Li/clubpay/pkg/utils"

	"github.com/wechatpay-apiv3/wechatpay-go/core"
	"github.com/wechatpay-apiv3/wechatpay-go/core/auth/verifiers"
	"github.com/wechatpay-apiv3/wechatpay-go/core/notify"
	"github.com/wechatpay-apiv3/wechatpay-go/core/option"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments/jsapi"
	"github.com/wechatpay-apiv3/wechatpay-go/services/refunddomestic"
	wechatpay_utils "github.com/wechatpay-apiv3/wechatpay-go/utils"
	"golang.org/x/time/rate"
)

const errCodeOrderNotExist = "ORDER_NOT_EXIST"

type Gateway struct {
	cfg     config.WechatPaymentConfig
	client  *core.Client
	jsapi   jsapi.JsapiApiService
	refunds refunddomestic.RefundsApiService
	notify  *notify.Handler
	limiter *rate.Limiter // 查单限流
}

var _ vendors.PaymentGateway = (*Gateway)(nil)

// New loads the merchant keys and builds the API client and the notify handler.
func New(ctx context.Context, cfg config.WechatPaymentConfig) (*Gateway, error) {
	publicKey, err := wechatpay_utils.LoadPublicKeyWithPath(cfg.WechatpayPublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load public key error: %w", err)
	}

	mchPrivateKey, err := wechatpay_utils.LoadPrivateKeyWithPath(cfg.MchPrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key error: %w", err)
	}

	client, err := core.NewClient(ctx, option.WithWechatPayPublicKeyAuthCipher(
		cfg.MchID,
		cfg.MchCertificateSerial,
		mchPrivateKey,
		cfg.WechatpayPublicKeyID,
		publicKey,
	))
	if err != nil {
		return nil, fmt.Errorf("init wechat pay client: %w", err)
	}

	handler, err := notify.NewRSANotifyHandler(
		cfg.MchAPIV3Key,
		verifiers.NewSHA256WithRSAPubkeyVerifier(cfg.WechatpayPublicKeyID, *publicKey),
	)
	if err != nil {
		return nil, fmt.Errorf("init notify handler: %w", err)
	}

	qps := cfg.QueryQPS
	if qps < 1 {
		qps = 10
	}

	return &Gateway{
		cfg:     cfg,
		client:  client,
		jsapi:   jsapi.JsapiApiService{Client: client},
		refunds: refunddomestic.RefundsApiService{Client: client},
		notify:  handler,
		limiter: rate.NewLimiter(rate.Limit(qps), qps),
	}, nil
}

func (g *Gateway) CreatePrepay(ctx context.Context, req vendors.PrepayRequest) (*vendors.PrepayResult, error) {
	prepay := jsapi.PrepayRequest{
		Appid:       core.String(g.cfg.AppID),
		Mchid:       core.String(g.cfg.MchID),
		Description: core.String(req.Description),
		OutTradeNo:  core.String(req.OrderNo),
		NotifyUrl:   core.String(g.cfg.NotifyURL),
		Payer:       &jsapi.Payer{Openid: core.String(req.PayerOpenID)},
		Amount:      &jsapi.Amount{Total: core.Int64(req.AmountCents), Currency: core.String("CNY")},
	}
	if !req.ExpiresAt.IsZero() {
		prepay.TimeExpire = core.Time(req.ExpiresAt)
	}

	resp, result, err := g.jsapi.Prepay(ctx, prepay)
	if err != nil {
		slog.Error("wechat pay prepay failed", "orderNo", req.OrderNo, "status", statusOf(result), "error", err)
		return nil, fmt.Errorf("%w: prepay %s: %v", vendors.ErrGateway, req.OrderNo, err)
	}
	return &vendors.PrepayResult{PrepayID: utils.Deref(resp.PrepayId, "")}, nil
}

func (g *Gateway) QueryByOrderNo(ctx context.Context, orderNo string) (*vendors.TradeResult, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", vendors.ErrGateway, orderNo, err)
	}

	tx, result, err := g.jsapi.QueryOrderByOutTradeNo(ctx, jsapi.QueryOrderByOutTradeNoRequest{
		OutTradeNo: core.String(orderNo),
		Mchid:      core.String(g.cfg.MchID),
	})
	if err != nil {
		var apiErr *core.APIError
		if errors.As(err, &apiErr) && apiErr.Code == errCodeOrderNotExist {
			return &vendors.TradeResult{OrderNo: orderNo, State: vendors.TradeStateNotPay}, nil
		}
		slog.Error("wechat pay query failed", "orderNo", orderNo, "status", statusOf(result), "error", err)
		return nil, fmt.Errorf("%w: query %s: %v", vendors.ErrGateway, orderNo, err)
	}
	return fromTransaction(tx), nil
}

func (g *Gateway) CloseOrder(ctx context.Context, orderNo string) error {
	result, err := g.jsapi.CloseOrder(ctx, jsapi.CloseOrderRequest{
		OutTradeNo: core.String(orderNo),
		Mchid:      core.String(g.cfg.MchID),
	})
	if err != nil {
		slog.Error("wechat pay close order failed", "orderNo", orderNo, "status", statusOf(result), "error", err)
		return fmt.Errorf("%w: close %s: %v", vendors.ErrGateway, orderNo, err)
	}
	return nil
}

func (g *Gateway) Refund(ctx context.Context, req vendors.RefundRequest) (*vendors.RefundResult, error) {
	create := refunddomestic.CreateRequest{
		OutTradeNo:  core.String(req.OrderNo),
		OutRefundNo: core.String(req.RefundNo),
		Amount: &refunddomestic.AmountReq{
			Refund:   core.Int64(req.RefundCents),
			Total:    core.Int64(req.TotalCents),
			Currency: core.String("CNY"),
		},
	}
	if req.Reason != "" {
		create.Reason = core.String(req.Reason)
	}
	if g.cfg.RefundNotifyURL != "" {
		create.NotifyUrl = core.String(g.cfg.RefundNotifyURL)
	}

	resp, result, err := g.refunds.Create(ctx, create)
	if err != nil {
		slog.Error("wechat pay refund failed", "refundNo", req.RefundNo, "status", statusOf(result), "error", err)
		return nil, fmt.Errorf("%w: refund %s: %v", vendors.ErrGateway, req.RefundNo, err)
	}
	return fromRefund(resp), nil
}

// ParseNotify verifies and decrypts a payment notification. Any failure of
// the notify handler is reported as a signature failure: the payload cannot
// be trusted either way.
func (g *Gateway) ParseNotify(ctx context.Context, r *http.Request) (*vendors.TradeResult, error) {
	tx := new(payments.Transaction)
	if _, err := g.notify.ParseNotifyRequest(ctx, r, tx); err != nil {
		return nil, fmt.Errorf("%w: %v", vendors.ErrSignatureInvalid, err)
	}
	return fromTransaction(tx), nil
}

// ClientParams signs the parameters of wx.requestPayment.
func (g *Gateway) ClientParams(ctx context.Context, prepayID string) (*vendors.ClientParams, error) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	nonceStr := utils.RandomString(32)
	pkg := "prepay_id=" + prepayID
	source := fmt.Sprintf("%s\n%s\n%s\n%s\n", g.cfg.AppID, ts, nonceStr, pkg)

	res, err := g.client.Sign(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("sign error: %w", err)
	}
	return &vendors.ClientParams{
		AppID:     g.cfg.AppID,
		TimeStamp: ts,
		NonceStr:  nonceStr,
		Package:   pkg,
		SignType:  "RSA",
		PaySign:   res.Signature,
	}, nil
}

func fromTransaction(tx *payments.Transaction) *vendors.TradeResult {
	out := &vendors.TradeResult{
		OrderNo:       utils.Deref(tx.OutTradeNo, ""),
		TransactionID: utils.Deref(tx.TransactionId, ""),
		State:         vendors.TradeState(utils.Deref(tx.TradeState, "")),
		StateDesc:     utils.Deref(tx.TradeStateDesc, ""),
	}
	if tx.Amount != nil {
		out.AmountCents = utils.Deref(tx.Amount.Total, 0)
	}
	if s := utils.Deref(tx.SuccessTime, ""); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			out.SuccessTime = &t
		}
	}
	return out
}

func fromRefund(resp *refunddomestic.Refund) *vendors.RefundResult {
	out := &vendors.RefundResult{RefundID: utils.Deref(resp.RefundId, "")}
	if resp.Status != nil {
		out.State = vendors.RefundState(*resp.Status)
	}
	return out
}

func statusOf(result *core.APIResult) int {
	if result == nil || result.Response == nil {
		return 0
	}
	return result.Response.StatusCode
}

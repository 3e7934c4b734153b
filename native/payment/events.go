package payment

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"loyalchain/core/types"
)

const (
	EventTypePaymentOpened = "payment.opened"
	EventTypePaymentClosed = "payment.closed"
	EventTypePaymentFailed = "payment.failed"
	EventTypeCancelOpened  = "payment.cancel.opened"
	EventTypeCancelClosed  = "payment.cancel.closed"
	EventTypeCancelFailed  = "payment.cancel.failed"
)

// newPaymentEvent builds the canonical attribute payload shared by every
// payment state change. balance carries the payer's resulting point balance
// so downstream indexers can audit fund movement without a ledger query.
func newPaymentEvent(eventType string, rec *Record, balance *big.Int, extra map[string]string) *types.Event {
	attrs := make(map[string]string)
	if rec != nil {
		attrs["paymentId"] = hex.EncodeToString(rec.PaymentID[:])
		attrs["purchaseId"] = rec.PurchaseID
		attrs["account"] = hex.EncodeToString(rec.Account[:])
		attrs["shopId"] = hex.EncodeToString(rec.ShopID[:])
		attrs["amount"] = cloneBig(rec.Amount).String()
		attrs["currency"] = rec.Currency
		attrs["paidPoint"] = cloneBig(rec.PaidPoint).String()
		attrs["paidToken"] = cloneBig(rec.PaidToken).String()
		attrs["feePoint"] = cloneBig(rec.FeePoint).String()
		attrs["feeToken"] = cloneBig(rec.FeeToken).String()
		attrs["status"] = rec.Status.String()
		attrs["timestamp"] = strconv.FormatInt(rec.Timestamp, 10)
		if rec.UsedValueShop != nil && rec.UsedValueShop.Sign() > 0 {
			attrs["usedValueShop"] = rec.UsedValueShop.String()
		}
	}
	if balance != nil {
		attrs["balance"] = balance.String()
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

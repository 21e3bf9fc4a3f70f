package transform

import (
	"strings"
	"time"
)

const paymentRecord = "payment"

// DefaultCurrency is used when a legacy payment has no currency code.
const DefaultCurrency = "USD"

// LegacyPayment is a payment as the upstream returns it. The amount arrives
// either as integer cents or as a decimal string.
type LegacyPayment struct {
	ID          string `json:"PMT_ID"`
	CustomerID  string `json:"CUST_ID"`
	AmountCents *int64 `json:"AMT_CENTS"`
	Amount      string `json:"AMT"`
	Currency    string `json:"CURR_CD"`
	Status      string `json:"PMT_STAT"`
	PaidOn      string `json:"PMT_DT"`
}

// Payment is the outward payment schema.
type Payment struct {
	ID          string        `json:"id"`
	CustomerID  string        `json:"customer_id"`
	AmountMinor int64         `json:"amount_minor"`
	Currency    string        `json:"currency"`
	Status      PaymentStatus `json:"status"`
	PaidAt      time.Time     `json:"paid_at,omitzero"`
}

// PaymentFromLegacy transforms a legacy payment. PMT_ID, CUST_ID and an amount are
// required; AMT_CENTS wins over AMT when both are present.
func PaymentFromLegacy(in LegacyPayment) (Payment, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return Payment{}, missing(paymentRecord, "PMT_ID")
	}
	customerID := strings.TrimSpace(in.CustomerID)
	if customerID == "" {
		return Payment{}, missing(paymentRecord, "CUST_ID")
	}

	var amount int64
	switch {
	case in.AmountCents != nil:
		amount = *in.AmountCents
	case strings.TrimSpace(in.Amount) != "":
		minor, err := parseDecimalMinor(in.Amount)
		if err != nil {
			return Payment{}, invalid(paymentRecord, "AMT", "%v", err)
		}
		amount = minor
	default:
		return Payment{}, missing(paymentRecord, "AMT_CENTS")
	}

	currency := code(in.Currency)
	if currency == "" {
		currency = DefaultCurrency
	}
	if !isCurrencyCode(currency) {
		return Payment{}, invalid(paymentRecord, "CURR_CD", "%q is not a 3-letter currency code", in.Currency)
	}

	paid, err := parseDate(in.PaidOn)
	if err != nil {
		return Payment{}, invalid(paymentRecord, "PMT_DT", "%v", err)
	}

	return Payment{
		ID:          id,
		CustomerID:  customerID,
		AmountMinor: amount,
		Currency:    currency,
		Status:      NormalizePaymentStatus(in.Status),
		PaidAt:      paid,
	}, nil
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

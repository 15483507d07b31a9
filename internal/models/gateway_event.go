package models

import "encoding/json"

// Gateway webhook event types handled by the worker.
const (
	GatewayEventCheckoutPaid     = "CHECKOUT_PAID"
	GatewayEventPaymentConfirmed = "PAYMENT_CONFIRMED"
	GatewayEventPaymentReceived  = "PAYMENT_RECEIVED"
	GatewayEventPaymentOverdue   = "PAYMENT_OVERDUE"
	GatewayEventPaymentDeleted   = "PAYMENT_DELETED"
)

// GatewayEvent is the webhook envelope posted by the payment gateway.
type GatewayEvent struct {
	ID       string               `json:"id"`
	Event    string               `json:"event"`
	Checkout *GatewayEventCheckout `json:"checkout,omitempty"`
	Payment  *GatewayEventPayment  `json:"payment,omitempty"`
	Raw      json.RawMessage      `json:"-"`
}

// GatewayEventCheckout identifies the hosted checkout an event refers to.
type GatewayEventCheckout struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
}

// GatewayEventPayment carries the charge fields the worker reconciles.
type GatewayEventPayment struct {
	ID                string  `json:"id"`
	Customer          string  `json:"customer"`
	Subscription      string  `json:"subscription"`
	CheckoutSession   string  `json:"checkoutSession"`
	Value             float64 `json:"value"`
	DueDate           string  `json:"dueDate"`
	PaymentDate       string  `json:"paymentDate"`
	BillingType       string  `json:"billingType"`
	ExternalReference string  `json:"externalReference"`
	Description       string  `json:"description"`
}

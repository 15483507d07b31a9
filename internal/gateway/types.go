package gateway

import (
	"fmt"
	"strings"
)

// Billing and charge type constants understood by the gateway.
const (
	ChargeTypeRecurrent = "RECURRENT"
	CycleMonthly        = "MONTHLY"
)

// Customer is the payer record kept by the gateway.
type Customer struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	CpfCnpj           string `json:"cpfCnpj"`
	Email             string `json:"email,omitempty"`
	MobilePhone       string `json:"mobilePhone,omitempty"`
	ExternalReference string `json:"externalReference,omitempty"`
}

// CreateCustomerRequest is the body of POST /customers.
type CreateCustomerRequest struct {
	Name              string `json:"name"`
	CpfCnpj           string `json:"cpfCnpj"`
	Email             string `json:"email,omitempty"`
	MobilePhone       string `json:"mobilePhone,omitempty"`
	ExternalReference string `json:"externalReference,omitempty"`
}

type customerList struct {
	Data       []Customer `json:"data"`
	TotalCount int        `json:"totalCount"`
}

// CheckoutCallback holds the redirect targets of a hosted checkout.
type CheckoutCallback struct {
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl,omitempty"`
	ExpiredURL string `json:"expiredUrl,omitempty"`
}

// CheckoutItem is one line of the checkout.
type CheckoutItem struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Quantity    int     `json:"quantity"`
	Value       float64 `json:"value"`
}

// CheckoutSubscription configures the recurring charge created once the checkout is paid.
type CheckoutSubscription struct {
	Cycle       string `json:"cycle"`
	NextDueDate string `json:"nextDueDate"`
}

// CreateCheckoutRequest is the body of POST /checkouts.
type CreateCheckoutRequest struct {
	BillingTypes      []string              `json:"billingTypes"`
	ChargeTypes       []string              `json:"chargeTypes"`
	MinutesToExpire   int                   `json:"minutesToExpire,omitempty"`
	Callback          CheckoutCallback      `json:"callback"`
	Items             []CheckoutItem        `json:"items"`
	Customer          string                `json:"customer"`
	Subscription      *CheckoutSubscription `json:"subscription,omitempty"`
	ExternalReference string                `json:"externalReference,omitempty"`
}

// CheckoutSession is a hosted, time-limited payment flow.
type CheckoutSession struct {
	ID   string `json:"id"`
	Link string `json:"link"`
}

type errorBody struct {
	Errors []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"errors"`
}

// APIError is returned when the gateway rejects a call or answers with an unusable body.
type APIError struct {
	Operation    string
	StatusCode   int
	Descriptions []string
}

func (e *APIError) Error() string {
	if len(e.Descriptions) == 0 {
		return fmt.Sprintf("gateway %s failed with status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("gateway %s failed with status %d: %s", e.Operation, e.StatusCode, strings.Join(e.Descriptions, "; "))
}

// MalformedResponseError reports a success status whose body is missing required fields.
type MalformedResponseError struct {
	Operation string
	Reason    string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("gateway %s returned a malformed response: %s", e.Operation, e.Reason)
}

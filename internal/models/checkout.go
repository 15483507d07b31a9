package models

// CheckoutOutcome names the branch the checkout workflow finished on.
type CheckoutOutcome string

const (
	CheckoutOutcomeCreated         CheckoutOutcome = "checkout_created"
	CheckoutOutcomeAlreadyEnrolled CheckoutOutcome = "already_enrolled"
	CheckoutOutcomePending         CheckoutOutcome = "pending_checkout"
	CheckoutOutcomeValidated       CheckoutOutcome = "validated"
)

// CheckoutResult is the response body of the checkout RPC.
type CheckoutResult struct {
	Success        bool            `json:"success"`
	Outcome        CheckoutOutcome `json:"outcome"`
	CheckoutURL    *string         `json:"checkout_url"`
	EnrollmentID   *string         `json:"enrollment_id"`
	CheckoutToken  *string         `json:"checkout_token"`
	EnrollmentData *Enrollment     `json:"enrollment_data"`
	Message        string          `json:"message"`
	Error          string          `json:"error,omitempty"`
}

// CheckoutStatus is returned to the portal when the gateway redirects back.
type CheckoutStatus struct {
	EnrollmentID string           `json:"enrollment_id"`
	ClassID      string           `json:"class_id"`
	Status       EnrollmentStatus `json:"status"`
	Active       bool             `json:"active"`
	Confirmed    bool             `json:"confirmed"`
}

package service

import (
	"errors"
	"fmt"

	"github.com/noah-isme/dance-school-api/internal/gateway"
	appErrors "github.com/noah-isme/dance-school-api/pkg/errors"
)

// gatewayError maps client failures onto GATEWAY_ERROR, keeping the upstream descriptions.
func gatewayError(step string, err error) *appErrors.Error {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		return appErrors.WithDetails(appErrors.ErrGateway,
			fmt.Sprintf("payment gateway rejected %s", step), err, apiErr.Descriptions...)
	}
	var malformed *gateway.MalformedResponseError
	if errors.As(err, &malformed) {
		return appErrors.WithDetails(appErrors.ErrGateway,
			fmt.Sprintf("payment gateway returned an invalid response to %s", step), err, malformed.Reason)
	}
	return appErrors.WithDetails(appErrors.ErrGateway, fmt.Sprintf("payment gateway unavailable during %s", step), err)
}

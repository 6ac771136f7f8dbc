package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"

	"github.com/hyperjump/manabu/internal/apperr"
)

// classifyStatus turns an HTTP status from a vendor API into a provider error.
func classifyStatus(name string, status int, err error) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.Provider(apperr.ReasonAuth, name+" authentication failed, check the API key", err)
	case http.StatusTooManyRequests:
		return apperr.Provider(apperr.ReasonRateLimit, name+" rate limit exceeded, retry later", err)
	case http.StatusServiceUnavailable:
		return apperr.Provider(apperr.ReasonUnavailable, name+" is temporarily unavailable, retry later", err)
	default:
		return apperr.Provider(apperr.ReasonGeneric, fmt.Sprintf("%s request failed (status %d)", name, status), err)
	}
}

// classifyGemini maps errors from the Gemini client. The client surfaces REST failures as
// googleapi.Error and gRPC failures as apierror.APIError.
func classifyGemini(err error) error {
	if err == nil {
		return nil
	}
	const name = "gemini"
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Provider(apperr.ReasonUnavailable, name+" request timed out", err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return classifyStatus(name, gerr.Code, err)
	}

	var aerr *apierror.APIError
	if errors.As(err, &aerr) {
		if code := aerr.HTTPCode(); code > 0 {
			return classifyStatus(name, code, err)
		}
		if st := aerr.GRPCStatus(); st != nil {
			switch st.Code() {
			case codes.Unauthenticated, codes.PermissionDenied:
				return classifyStatus(name, http.StatusUnauthorized, err)
			case codes.ResourceExhausted:
				return classifyStatus(name, http.StatusTooManyRequests, err)
			case codes.Unavailable:
				return classifyStatus(name, http.StatusServiceUnavailable, err)
			}
		}
	}
	return apperr.Provider(apperr.ReasonGeneric, name+" request failed", err)
}

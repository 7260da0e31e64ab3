package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"northstar-hq/polaris/pkg/cost"
	"northstar-hq/polaris/pkg/keys"
	"northstar-hq/polaris/pkg/policy"
	"northstar-hq/polaris/pkg/providers"
	"northstar-hq/polaris/pkg/routing"
	"northstar-hq/polaris/pkg/state"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`

	// Detail carries structured context for errors that have it, such
	// as the violated budget ids on a budget rejection.
	Detail any `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a domain error onto an HTTP status and the shared
// error body. Unrecognized errors become opaque 500s; the message is
// not echoed to avoid leaking internals.
func writeError(w http.ResponseWriter, err error) {
	status, typ, detail := classify(err)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Type: typ, Message: msg, Detail: detail}})
}

func classify(err error) (status int, typ string, detail any) {
	var (
		keyNotFound    *keys.NotFoundError
		polNotFound    *policy.NotFoundError
		budNotFound    *cost.NotFoundError
		keyValidation  *keys.ValidationError
		keyReg         *keys.RegistrationError
		polValidation  *policy.ValidationError
		budValidation  *cost.ValidationError
		reqValidation  *providers.ValidationError
		capability     *providers.CapabilityError
		unknownProv    *providers.UnknownProviderError
		badTransition  *keys.InvalidTransitionError
		budgetExceeded *cost.BudgetExceededError
		noEligible     *routing.NoEligibleKeysError
		sysErr         *providers.SystemError
	)

	switch {
	case errors.As(err, &keyNotFound),
		errors.As(err, &polNotFound),
		errors.As(err, &budNotFound),
		errors.Is(err, state.ErrNotFound):
		return http.StatusNotFound, "not_found", nil

	case errors.As(err, &keyValidation),
		errors.As(err, &keyReg),
		errors.As(err, &polValidation),
		errors.As(err, &budValidation),
		errors.As(err, &reqValidation),
		errors.As(err, &capability),
		errors.As(err, &unknownProv):
		return http.StatusBadRequest, "invalid_request", nil

	case errors.As(err, &badTransition):
		return http.StatusConflict, "invalid_transition", nil

	case errors.As(err, &budgetExceeded):
		return http.StatusPaymentRequired, "budget_exceeded", map[string]any{
			"budget_ids": budgetExceeded.BudgetIDs,
			"cost":       budgetExceeded.Cost,
			"limit":      budgetExceeded.Limit,
			"remaining":  budgetExceeded.Remaining,
		}

	case errors.As(err, &noEligible):
		return http.StatusServiceUnavailable, "no_eligible_keys", nil

	case errors.As(err, &sysErr):
		switch sysErr.Category {
		case providers.CategoryRateLimit:
			return http.StatusTooManyRequests, "provider_rate_limited", nil
		case providers.CategoryTimeout:
			return http.StatusGatewayTimeout, "provider_timeout", nil
		default:
			return http.StatusBadGateway, "provider_error", nil
		}

	default:
		return http.StatusInternalServerError, "internal_error", nil
	}
}

// decodeJSON decodes a request body strictly, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Type: "invalid_request", Message: msg}})
}

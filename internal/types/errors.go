package types

// API error codes. The prefix names the resource, the number mirrors the
// HTTP status.
const (
	CodeAuthBadRequest   = "AUTH_400"
	CodeAuthUnauthorized = "AUTH_401"
	CodeAuthForbidden    = "AUTH_403"

	CodeCrateBadRequest  = "CRATE_400"
	CodeCrateConflict    = "CRATE_409"
	CodeCrateInternal    = "CRATE_500"
	CodeCrateSlotFailure = "CRATE_502"
	CodeCrateUnavailable = "CRATE_503"

	CodeSlotBadRequest = "SLOT_400"
	CodeSlotNotFound   = "SLOT_404"
	CodeSlotInternal   = "SLOT_500"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

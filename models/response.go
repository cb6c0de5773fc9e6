package models

// APIResponse is the envelope of every JSON answer.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"` // not_found, validation, conflict, unauthorized, forbidden, unavailable, internal
	Message string `json:"message,omitempty"`
}

func SuccessResponse(data any) APIResponse {
	return APIResponse{
		Success: true,
		Data:    data,
	}
}

func ErrorResponse(err string) APIResponse {
	return APIResponse{
		Success: false,
		Error:   err,
	}
}

// CodedErrorResponse is ErrorResponse with a stable error code clients
// can switch on.
func CodedErrorResponse(code, err string) APIResponse {
	return APIResponse{
		Success: false,
		Error:   err,
		Code:    code,
	}
}

func MessageResponse(message string) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
	}
}

package api

// AppError is a structured API error with an HTTP status code.
type AppError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *AppError) Error() string { return e.Message }

// Error constructors.
var (
	ErrNotFound = func(msg string) *AppError {
		return &AppError{Code: "NOT_FOUND", Message: msg, Status: 404}
	}
	ErrBadRequest = func(msg string) *AppError {
		return &AppError{Code: "BAD_REQUEST", Message: msg, Status: 400}
	}
	ErrTooLarge = func(msg string) *AppError {
		return &AppError{Code: "TOO_LARGE", Message: msg, Status: 413}
	}
	ErrRateLimited = &AppError{Code: "RATE_LIMITED", Message: "too many encode requests", Status: 429}
	ErrInternal    = func(msg string) *AppError {
		return &AppError{Code: "INTERNAL", Message: msg, Status: 500}
	}
)

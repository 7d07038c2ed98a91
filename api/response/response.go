package response

// ErrorResponse тело ошибки локального API
type ErrorResponse struct {
	Message string `json:"message"`
}

package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"docqa/internal/domain"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func respondWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		ErrorCode: code,
		Message:   message,
		RequestID: requestID(c),
	})
}

// respondWithServiceError maps a service error onto a status and error code.
func respondWithServiceError(c *gin.Context, err error) {
	_ = c.Error(err)
	status, code := classify(err)
	respondWithError(c, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrEmptyQuestion):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, domain.ErrNoCorpus):
		return http.StatusConflict, "no_corpus"
	case errors.Is(err, domain.ErrNoDocuments):
		return http.StatusUnprocessableEntity, "no_documents"
	case errors.Is(err, domain.ErrEmbeddingFailed):
		return http.StatusBadGateway, "embedding_failed"
	case errors.Is(err, domain.ErrGenerationFailed):
		return http.StatusBadGateway, "generation_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, domain.ErrConfiguration):
		return http.StatusInternalServerError, "configuration"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

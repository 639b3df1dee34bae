// Package ingestion lets external producers append to the local stream store
// over HTTP and inspect its streams.
package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"

	httperr "github.com/ggaccel/edgestream/internal/core/errors"
	"github.com/ggaccel/edgestream/internal/core/storage"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
	msgEmptyBody      = "Request body must not be empty"
	msgBodyTooLarge   = "Request body exceeds maximum allowed size"
	msgAppendFailed   = "Failed to append message"
	msgStreamNotFound = "Stream not found"
	msgStreamExists   = "Stream already exists"
	msgStreamFull     = "Stream is full"
	msgStoreDown      = "Stream store is unavailable"
	msgRecordTooLarge = "Message does not fit in a stream segment"
	msgListFailed     = "Failed to list streams"
	msgDescribeFailed = "Failed to describe stream"
	msgCreateFailed   = "Failed to create stream"
)

const contentTypeJSON = "application/json"

// ingestionError carries the structured HTTP error shape from a helper back to the orchestrator.
// Helpers return this instead of writing to gin.Context directly, keeping them decoupled from HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// AppendHandler stores the request body verbatim as one record of the named stream.
func (s *Service) AppendHandler(c *gin.Context) {
	name := c.Param("name")

	payload, err := s.readPayload(c)
	if err != nil {
		writeError(c, err)
		return
	}

	seq, err := s.append(c.Request.Context(), name, payload)
	if err != nil {
		writeError(c, err)
		return
	}

	slog.Debug("[Ingestion] Message appended", "stream", name, "sequence_number", seq, "payload_size", len(payload))
	c.JSON(http.StatusAccepted, gin.H{
		"status":          "accepted",
		"stream":          name,
		"sequence_number": seq,
	})
}

// CreateStreamHandler creates a stream from a JSON StreamDefinition.
// Zero sizes and an empty strategy take the store defaults.
func (s *Service) CreateStreamHandler(c *gin.Context) {
	var def storage.StreamDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		writeError(c, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidRequestError,
			message:    msgInvalidJSON,
		})
		return
	}
	def = def.WithDefaults()
	if err := def.Validate(); err != nil {
		writeError(c, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidRequestError,
			message:    err.Error(),
		})
		return
	}

	if err := s.store.CreateStream(c.Request.Context(), def); err != nil {
		if errors.Is(err, storage.ErrStreamExists) {
			writeError(c, &ingestionError{
				statusCode: http.StatusConflict,
				errorType:  httperr.HttpStreamExistsError,
				message:    msgStreamExists,
				details:    map[string]interface{}{"stream": def.Name},
			})
			return
		}
		writeError(c, storeError(err, def.Name, msgCreateFailed))
		return
	}

	slog.Info("[Ingestion] Stream created", "stream", def.Name, "max_size_bytes", def.MaxSizeBytes, "strategy_on_full", def.StrategyOnFull)
	c.JSON(http.StatusCreated, def)
}

// ListStreamsHandler returns the names of all streams.
func (s *Service) ListStreamsHandler(c *gin.Context) {
	names, err := s.store.ListStreams(c.Request.Context())
	if err != nil {
		writeError(c, storeError(err, "", msgListFailed))
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"streams": names})
}

// DescribeStreamHandler returns retention and sizing for one stream.
func (s *Service) DescribeStreamHandler(c *gin.Context) {
	name := c.Param("name")
	info, err := s.store.DescribeStream(c.Request.Context(), name)
	if err != nil {
		writeError(c, storeError(err, name, msgDescribeFailed))
		return
	}
	c.JSON(http.StatusOK, info)
}

// readPayload reads the bounded request body. A JSON content type must carry valid JSON.
func (s *Service) readPayload(c *gin.Context) ([]byte, *ingestionError) {
	// Enforce maximum body size to prevent OOM attacks
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	body, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("[Ingestion] Failed to read request body", "error", err)
		return nil, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(body)) > maxBytes {
		slog.Warn("[Ingestion] Request body exceeds maximum size", "size", len(body), "max", maxBytes)
		return nil, &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpPayloadTooLargeError,
			message:    msgBodyTooLarge,
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	if len(body) == 0 {
		return nil, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidRequestError,
			message:    msgEmptyBody,
		}
	}

	if mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type")); mediaType == contentTypeJSON && !json.Valid(body) {
		slog.Warn("[Ingestion] Invalid JSON body received", "payload_size", len(body))
		return nil, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidRequestError,
			message:    msgInvalidJSON,
		}
	}

	return body, nil
}

func (s *Service) append(ctx context.Context, name string, payload []byte) (int64, *ingestionError) {
	seq, err := s.store.Append(ctx, name, payload)
	if err != nil {
		return 0, storeError(err, name, msgAppendFailed)
	}
	return seq, nil
}

// storeError maps store sentinel errors onto HTTP responses.
func storeError(err error, stream, fallback string) *ingestionError {
	var details interface{}
	if stream != "" {
		details = map[string]interface{}{"stream": stream}
	}

	switch {
	case errors.Is(err, storage.ErrStreamNotFound):
		return &ingestionError{
			statusCode: http.StatusNotFound,
			errorType:  httperr.HttpStreamNotFoundError,
			message:    msgStreamNotFound,
			details:    details,
		}
	case errors.Is(err, storage.ErrStreamFull):
		slog.Warn("[Ingestion] Append rejected, stream full", "stream", stream)
		return &ingestionError{
			statusCode: http.StatusInsufficientStorage,
			errorType:  httperr.HttpStreamFullError,
			message:    msgStreamFull,
			details:    details,
		}
	case errors.Is(err, storage.ErrRecordTooLarge):
		return &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpPayloadTooLargeError,
			message:    msgRecordTooLarge,
			details:    details,
		}
	case errors.Is(err, storage.ErrStoreUnavailable):
		slog.Error("[Ingestion] Stream store unavailable", "stream", stream, "error", err)
		return &ingestionError{
			statusCode: http.StatusServiceUnavailable,
			errorType:  httperr.HttpStoreUnavailableError,
			message:    msgStoreDown,
			details:    details,
		}
	}

	slog.Error("[Ingestion] "+fallback, "stream", stream, "error", err)
	return &ingestionError{
		statusCode: http.StatusInternalServerError,
		errorType:  httperr.HttpInternalError,
		message:    fallback,
	}
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}

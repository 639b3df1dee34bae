package ingestion

import (
	"github.com/gin-gonic/gin"

	"github.com/ggaccel/edgestream/internal/core/storage"
)

type Service struct {
	store            storage.StreamStore
	maxBodySizeBytes int
}

func NewService(store storage.StreamStore, maxBodySizeMB int) *Service {
	if store == nil {
		panic("ingestion: store must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		store:            store,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/api/v1/streams", s.CreateStreamHandler)
	r.GET("/api/v1/streams", s.ListStreamsHandler)
	r.GET("/api/v1/streams/:name", s.DescribeStreamHandler)
	r.POST("/api/v1/streams/:name/messages", s.AppendHandler)
}

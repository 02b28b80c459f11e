package httpapi

import (
	"context"

	"genserve/internal/queue"
	"genserve/internal/stopper"
	"genserve/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	Status() types.QueueStatus
	Ready() bool
	DefaultStopping() stopper.Config
	Submit(ctx context.Context, req queue.GenerationRequest) (queue.GenerationResponse, error)
	SubmitStream(ctx context.Context, req queue.GenerationRequest) (*queue.ChunkStream, error)
}

// QueueService serves the API from a queue and the models it was loaded with.
type QueueService struct {
	*queue.Queue
	Models []types.Model
}

func (s QueueService) ListModels() []types.Model { return append([]types.Model(nil), s.Models...) }

package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/asciireel/internal/assets"
	"github.com/jmylchreest/asciireel/internal/reel"
)

// ReelHandler describes the reel being served.
type ReelHandler struct {
	fetcher assets.Fetcher
}

// NewReelHandler creates a new reel handler.
func NewReelHandler(fetcher assets.Fetcher) *ReelHandler {
	return &ReelHandler{fetcher: fetcher}
}

// GetReelInput is the input for the reel summary endpoint.
type GetReelInput struct{}

// ReelSummary is the manifest plus derived playback facts.
type ReelSummary struct {
	FPS             int             `json:"fps"`
	Width           int             `json:"width"`
	Height          int             `json:"height"`
	TotalFrames     int             `json:"total_frames"`
	Duration        string          `json:"duration"`
	DurationSeconds float64         `json:"duration_seconds"`
	Chunks          []reel.ChunkRef `json:"chunks"`
}

// GetReelOutput is the output for the reel summary endpoint.
type GetReelOutput struct {
	Body ReelSummary
}

// Register registers the reel routes with the API.
func (h *ReelHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getReel",
		Method:      "GET",
		Path:        "/api/v1/reel",
		Summary:     "Get reel summary",
		Description: "Returns the manifest of the published reel with its duration",
		Tags:        []string{"Playback"},
	}, h.Get)
}

// Get returns the manifest summary.
func (h *ReelHandler) Get(ctx context.Context, _ *GetReelInput) (*GetReelOutput, error) {
	m, err := h.fetcher.FetchManifest(ctx)
	if errors.Is(err, assets.ErrNotFound) {
		return nil, huma.Error404NotFound("no reel has been published")
	}
	if err != nil {
		return nil, huma.Error503ServiceUnavailable("reel manifest unavailable", err)
	}

	duration := time.Duration(m.TotalFrames) * time.Second / time.Duration(m.FPS)
	chunks := m.Chunks
	if chunks == nil {
		chunks = []reel.ChunkRef{}
	}
	return &GetReelOutput{Body: ReelSummary{
		FPS:             m.FPS,
		Width:           m.Width,
		Height:          m.Height,
		TotalFrames:     m.TotalFrames,
		Duration:        duration.Round(time.Millisecond).String(),
		DurationSeconds: duration.Seconds(),
		Chunks:          chunks,
	}}, nil
}

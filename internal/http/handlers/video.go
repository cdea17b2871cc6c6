package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/compressarr/internal/models"
	"github.com/jmylchreest/compressarr/internal/service"
)

// VideoHandler handles video API endpoints.
type VideoHandler struct {
	videoService *service.VideoService
}

// NewVideoHandler creates a new video handler.
func NewVideoHandler(videoService *service.VideoService) *VideoHandler {
	return &VideoHandler{
		videoService: videoService,
	}
}

// Register registers the video routes with the API.
func (h *VideoHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listVideos",
		Method:      "GET",
		Path:        "/api/videos",
		Summary:     "List videos",
		Description: "Returns all tracked videos",
		Tags:        []string{"Videos"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "listVideosByStatus",
		Method:      "GET",
		Path:        "/api/videos/{status}",
		Summary:     "List videos by status",
		Description: "Returns all videos in a given workflow status",
		Tags:        []string{"Videos"},
	}, h.ListByStatus)

	huma.Register(api, huma.Operation{
		OperationID: "countVideosByStatus",
		Method:      "GET",
		Path:        "/api/videos/status/count",
		Summary:     "Count videos by status",
		Description: "Returns per-status video counts, zero-filled for every known status",
		Tags:        []string{"Videos"},
	}, h.CountByStatus)

	huma.Register(api, huma.Operation{
		OperationID: "overrideVideoStatus",
		Method:      "POST",
		Path:        "/api/videos/{id}/status",
		Summary:     "Override video status",
		Description: "Manually sets a video's workflow status. The value must be a known status but any transition is allowed, unlike the worker loops.",
		Tags:        []string{"Videos"},
	}, h.OverrideStatus)

	huma.Register(api, huma.Operation{
		OperationID: "deleteVideo",
		Method:      "DELETE",
		Path:        "/api/videos/{id}",
		Summary:     "Delete video",
		Description: "Removes a video row and its status history",
		Tags:        []string{"Videos"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "getVideoHistory",
		Method:      "GET",
		Path:        "/api/videos/{id}/history",
		Summary:     "Get video status history",
		Description: "Returns the append-only status trail for a video, oldest first",
		Tags:        []string{"Videos"},
	}, h.GetHistory)

	huma.Register(api, huma.Operation{
		OperationID: "getVideoProgress",
		Method:      "GET",
		Path:        "/api/videos/{id}/progress",
		Summary:     "Get transcode progress",
		Description: "Returns the live transcode progress snapshot for a video, or an idle placeholder when no run is tracked",
		Tags:        []string{"Videos"},
	}, h.GetProgress)
}

// ListVideosInput is the input for listing videos.
type ListVideosInput struct{}

// ListVideosOutput is the output for listing videos.
type ListVideosOutput struct {
	Body struct {
		Videos []VideoResponse `json:"videos"`
	}
}

// List returns all videos.
func (h *VideoHandler) List(ctx context.Context, input *ListVideosInput) (*ListVideosOutput, error) {
	videos, err := h.videoService.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list videos", err)
	}

	resp := &ListVideosOutput{}
	resp.Body.Videos = make([]VideoResponse, 0, len(videos))
	for _, v := range videos {
		resp.Body.Videos = append(resp.Body.Videos, VideoFromModel(v))
	}

	return resp, nil
}

// ListVideosByStatusInput is the input for listing videos by status.
type ListVideosByStatusInput struct {
	Status string `path:"status" doc:"Workflow status (pending, confirmed, re-confirmed, ready, optimized, accepted, replaced, skipped, rejected, failed)"`
}

// ListVideosByStatusOutput is the output for listing videos by status.
type ListVideosByStatusOutput struct {
	Body struct {
		Videos []VideoResponse `json:"videos"`
	}
}

// ListByStatus returns all videos in a given status.
func (h *VideoHandler) ListByStatus(ctx context.Context, input *ListVideosByStatusInput) (*ListVideosByStatusOutput, error) {
	videos, err := h.videoService.GetByStatus(ctx, input.Status)
	if err != nil {
		if errors.Is(err, models.ErrInvalidStatus) {
			return nil, huma.Error400BadRequest(fmt.Sprintf("invalid status %q", input.Status), err)
		}
		return nil, huma.Error500InternalServerError("failed to list videos", err)
	}

	resp := &ListVideosByStatusOutput{}
	resp.Body.Videos = make([]VideoResponse, 0, len(videos))
	for _, v := range videos {
		resp.Body.Videos = append(resp.Body.Videos, VideoFromModel(v))
	}

	return resp, nil
}

// CountVideosByStatusInput is the input for counting videos by status.
type CountVideosByStatusInput struct{}

// CountVideosByStatusOutput is the output for counting videos by status.
type CountVideosByStatusOutput struct {
	Body map[string]int64
}

// CountByStatus returns per-status video counts, zero-filled so every known
// status appears even when no rows hold it.
func (h *VideoHandler) CountByStatus(ctx context.Context, input *CountVideosByStatusInput) (*CountVideosByStatusOutput, error) {
	counts, err := h.videoService.StatusCounts(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to count videos", err)
	}

	body := make(map[string]int64, len(models.AllVideoStatuses))
	for _, status := range models.AllVideoStatuses {
		body[status.String()] = 0
	}
	for _, c := range counts {
		body[c.Status.String()] = c.Count
	}

	return &CountVideosByStatusOutput{Body: body}, nil
}

// OverrideVideoStatusInput is the input for overriding a video's status.
type OverrideVideoStatusInput struct {
	ID   uint `path:"id" doc:"Video ID"`
	Body struct {
		Status string `json:"status" doc:"New workflow status"`
	}
}

// OverrideVideoStatusOutput is the output for overriding a video's status.
type OverrideVideoStatusOutput struct {
	Body VideoResponse
}

// OverrideStatus manually sets a video's workflow status.
func (h *VideoHandler) OverrideStatus(ctx context.Context, input *OverrideVideoStatusInput) (*OverrideVideoStatusOutput, error) {
	video, err := h.videoService.OverrideStatus(ctx, input.ID, input.Body.Status)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidStatus):
			return nil, huma.Error400BadRequest(fmt.Sprintf("invalid status %q", input.Body.Status), err)
		case errors.Is(err, models.ErrNotFound):
			return nil, huma.Error404NotFound(fmt.Sprintf("video %d not found", input.ID))
		default:
			return nil, huma.Error500InternalServerError("failed to override status", err)
		}
	}

	return &OverrideVideoStatusOutput{
		Body: VideoFromModel(video),
	}, nil
}

// DeleteVideoInput is the input for deleting a video.
type DeleteVideoInput struct {
	ID uint `path:"id" doc:"Video ID"`
}

// DeleteVideoOutput is the output for deleting a video.
type DeleteVideoOutput struct{}

// Delete removes a video row and its history.
func (h *VideoHandler) Delete(ctx context.Context, input *DeleteVideoInput) (*DeleteVideoOutput, error) {
	if err := h.videoService.Delete(ctx, input.ID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("video %d not found", input.ID))
		}
		return nil, huma.Error500InternalServerError("failed to delete video", err)
	}

	return &DeleteVideoOutput{}, nil
}

// GetVideoHistoryInput is the input for getting a video's status history.
type GetVideoHistoryInput struct {
	ID uint `path:"id" doc:"Video ID"`
}

// GetVideoHistoryOutput is the output for getting a video's status history.
type GetVideoHistoryOutput struct {
	Body struct {
		History []StatusHistoryResponse `json:"history"`
	}
}

// GetHistory returns the status trail for a video.
func (h *VideoHandler) GetHistory(ctx context.Context, input *GetVideoHistoryInput) (*GetVideoHistoryOutput, error) {
	history, err := h.videoService.GetHistory(ctx, input.ID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("video %d not found", input.ID))
		}
		return nil, huma.Error500InternalServerError("failed to get history", err)
	}

	resp := &GetVideoHistoryOutput{}
	resp.Body.History = make([]StatusHistoryResponse, 0, len(history))
	for _, entry := range history {
		resp.Body.History = append(resp.Body.History, StatusHistoryFromModel(entry))
	}

	return resp, nil
}

// GetVideoProgressInput is the input for getting transcode progress.
type GetVideoProgressInput struct {
	ID uint `path:"id" doc:"Video ID"`
}

// GetVideoProgressOutput is the output for getting transcode progress.
type GetVideoProgressOutput struct {
	Body TranscodeProgressResponse
}

// GetProgress returns the live transcode snapshot for a video. Between runs
// there is no snapshot; the row's persisted progress line is returned with an
// idle state instead so pollers are not bounced with 404s.
func (h *VideoHandler) GetProgress(ctx context.Context, input *GetVideoProgressInput) (*GetVideoProgressOutput, error) {
	if snapshot, ok := h.videoService.GetProgress(input.ID); ok {
		return &GetVideoProgressOutput{Body: ProgressFromSnapshot(snapshot)}, nil
	}

	video, err := h.videoService.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get video", err)
	}
	if video == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("video %d not found", input.ID))
	}

	return &GetVideoProgressOutput{
		Body: TranscodeProgressResponse{
			VideoID:  video.ID,
			Filename: video.Basename(),
			State:    "idle",
			LastLine: video.Progress,
		},
	}, nil
}

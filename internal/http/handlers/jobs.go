package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/asciireel/internal/scheduler"
)

// JobLister is implemented by the maintenance scheduler.
type JobLister interface {
	Jobs() []scheduler.JobStatus
}

// JobHandler handles job API endpoints.
type JobHandler struct {
	jobs JobLister
}

// NewJobHandler creates a new job handler.
func NewJobHandler(jobs JobLister) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// ListJobsInput is the input for listing jobs.
type ListJobsInput struct{}

// JobResponse is the API view of a scheduled job.
type JobResponse struct {
	Name      string `json:"name"`
	Schedule  string `json:"schedule"`
	NextRun   string `json:"next_run"`
	LastRun   string `json:"last_run,omitempty"`
	LastError string `json:"last_error,omitempty"`
	Runs      int    `json:"runs"`
	Running   bool   `json:"running"`
}

// ListJobsOutput is the output for listing jobs.
type ListJobsOutput struct {
	Body struct {
		Jobs []JobResponse `json:"jobs"`
	}
}

// Register registers the job routes with the API.
func (h *JobHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listJobs",
		Method:      "GET",
		Path:        "/api/v1/jobs",
		Summary:     "List jobs",
		Description: "Returns the scheduled maintenance jobs",
		Tags:        []string{"Jobs"},
	}, h.List)
}

// List returns all scheduled jobs.
func (h *JobHandler) List(_ context.Context, _ *ListJobsInput) (*ListJobsOutput, error) {
	const layout = "2006-01-02T15:04:05Z07:00"

	out := &ListJobsOutput{}
	out.Body.Jobs = []JobResponse{}
	for _, j := range h.jobs.Jobs() {
		resp := JobResponse{
			Name:      j.Name,
			Schedule:  j.Schedule,
			NextRun:   j.Next.UTC().Format(layout),
			LastError: j.LastError,
			Runs:      j.Runs,
			Running:   j.Running,
		}
		if !j.LastRun.IsZero() {
			resp.LastRun = j.LastRun.UTC().Format(layout)
		}
		out.Body.Jobs = append(out.Body.Jobs, resp)
	}
	return out, nil
}

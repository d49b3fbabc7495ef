package casaclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/caseconnect/casa-cli/pkg/core/model"
	"github.com/caseconnect/casa-cli/pkg/core/pipeline"
)

// ListVolunteers fetches the volunteers visible to the session's
// organization, optionally filtered to one status.
func (c *Client) ListVolunteers(ctx context.Context, status model.VolunteerStatus) ([]model.Volunteer, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", string(status))
	}

	var volunteers []model.Volunteer
	if err := c.authed(ctx, http.MethodGet, "volunteers", query, nil, "", &volunteers); err != nil {
		return nil, fmt.Errorf("failed to list volunteers: %w", err)
	}
	return volunteers, nil
}

// GetVolunteer fetches one volunteer by id.
func (c *Client) GetVolunteer(ctx context.Context, id string) (*model.Volunteer, error) {
	var volunteer model.Volunteer
	if err := c.authed(ctx, http.MethodGet, "volunteers/"+id, nil, nil, "", &volunteer); err != nil {
		return nil, fmt.Errorf("failed to fetch volunteer %s: %w", id, err)
	}
	return &volunteer, nil
}

// PipelineAction issues the single mutating call for a pipeline action and
// returns the updated record the backend sends back.
func (c *Client) PipelineAction(ctx context.Context, volunteerID string, req pipeline.ActionRequest) (*model.Volunteer, error) {
	var updated model.Volunteer
	path := "volunteers/" + volunteerID + "/pipeline-action"
	if err := c.authed(ctx, http.MethodPost, path, nil, req, req.RequestID, &updated); err != nil {
		return nil, err
	}
	if updated.ID == "" {
		// backend acknowledged without a record; the controller applies the
		// local transition
		return nil, nil
	}
	return &updated, nil
}

package rtspcamtest

import (
	"context"
	"fmt"

	"go.viam.com/rdk/app"
	"go.viam.com/rdk/logging"
)

// partAPI is the slice of the app client the harness actually calls.
type partAPI interface {
	UpdateRobotPart(ctx context.Context, id, name string, robotConfig interface{}) (*app.RobotPart, error)
	GetRobotPart(ctx context.Context, id string) (*app.RobotPart, string, error)
}

// CloudClient pushes configuration documents to a machine part through the
// control plane and fetches part metadata.
type CloudClient struct {
	api    partAPI
	logger logging.Logger
}

func NewCloudClient(api partAPI, logger logging.Logger) *CloudClient {
	return &CloudClient{api: api, logger: logger}
}

// PushConfig sends the document for asynchronous application to the part.
// It returns once the control plane acknowledges receipt; the machine
// applies the config on its own time.
func (c *CloudClient) PushConfig(ctx context.Context, partID, partName string, doc *Document) error {
	m, err := doc.AsMap()
	if err != nil {
		return err
	}
	if _, err := c.api.UpdateRobotPart(ctx, partID, partName, m); err != nil {
		return fmt.Errorf("updating part %s: %w", partID, err)
	}
	c.logger.Infof("pushed config to part %s (%s)", partID, partName)
	return nil
}

// FetchPart returns the part's metadata; the display name is what addresses
// subsequent updates.
func (c *CloudClient) FetchPart(ctx context.Context, partID string) (*app.RobotPart, error) {
	part, _, err := c.api.GetRobotPart(ctx, partID)
	if err != nil {
		return nil, fmt.Errorf("getting part %s: %w", partID, err)
	}
	return part, nil
}

package services

import (
	"context"
	"net/url"

	"cognisafe/internal/session"
)

// Status polls the per-modality completion flags for a user.
func (c *Client) Status(ctx context.Context, userID string) (session.RemoteStatus, error) {
	return retry(ctx, c, func() (session.RemoteStatus, error) {
		var rs session.RemoteStatus
		err := c.getJSON(ctx, "status", "/api/unified/status/"+url.PathEscape(userID), &rs)
		return rs, err
	})
}

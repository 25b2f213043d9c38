// Package api - API-Methoden des Clients.

package api

import (
	"context"
	"net/http"
)

// Heartbeat checks if the server has started and is responsive; if yes, it
// returns nil, otherwise an error.
func (c *Client) Heartbeat(ctx context.Context) error {
	if err := c.do(ctx, http.MethodHead, "/", nil, nil); err != nil {
		return err
	}
	return nil
}

// Version returns the dfnet server version as a string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var version struct {
		Version string `json:"version"`
	}

	if err := c.do(ctx, http.MethodGet, "/api/version", nil, &version); err != nil {
		return "", err
	}

	return version.Version, nil
}

// Show obtains information about the loaded model: configuration,
// parameter count and optionally the tensor listing.
func (c *Client) Show(ctx context.Context, req *ShowRequest) (*ShowResponse, error) {
	var resp ShowResponse
	if err := c.do(ctx, http.MethodPost, "/api/show", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Inpaint fills the holes of req.Image marked by req.Mask.
func (c *Client) Inpaint(ctx context.Context, req *InpaintRequest) (*InpaintResponse, error) {
	var resp InpaintResponse
	if err := c.do(ctx, http.MethodPost, "/api/inpaint", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

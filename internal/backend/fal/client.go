// Package fal adapts fal.ai hosted models. Image models run against the
// synchronous endpoint; video models go through the request queue and are
// polled until they complete.
package fal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vnmchuo/botfleet/internal/backend"
)

type Client struct {
	apiKey       string
	runBase      string
	queueBase    string
	pollInterval time.Duration
}

func New(apiKey string) *Client {
	return &Client{
		apiKey:       apiKey,
		runBase:      "https://fal.run",
		queueBase:    "https://queue.fal.run",
		pollInterval: 5 * time.Second,
	}
}

func (c *Client) Name() string { return "fal" }

func (c *Client) Configured() bool { return c.apiKey != "" }

// Image exposes the client as an image backend.
type Image struct {
	c *Client
}

func NewImage(c *Client) Image { return Image{c: c} }

func (i Image) Name() string     { return i.c.Name() }
func (i Image) Configured() bool { return i.c.Configured() }
func (i Image) Generate(ctx context.Context, req backend.ImageRequest) (string, error) {
	return i.c.GenerateImage(ctx, req)
}

// Video exposes the client as a video backend.
type Video struct {
	c *Client
}

func NewVideo(c *Client) Video { return Video{c: c} }

func (v Video) Name() string     { return v.c.Name() }
func (v Video) Configured() bool { return v.c.Configured() }
func (v Video) Generate(ctx context.Context, req backend.VideoRequest) (string, error) {
	return v.c.GenerateVideo(ctx, req)
}

// runSync posts the payload to the synchronous endpoint and decodes the
// response into out.
func (c *Client) runSync(ctx context.Context, path string, payload, out any) error {
	return c.postJSON(ctx, c.runBase+"/"+path, payload, out)
}

type queuedRequest struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

type queueStatus struct {
	Status string `json:"status"`
}

// runQueued submits the payload to the request queue, polls the status URL
// until the request completes and decodes the final response into out.
func (c *Client) runQueued(ctx context.Context, path string, payload, out any) error {
	var queued queuedRequest
	if err := c.postJSON(ctx, c.queueBase+"/"+path, payload, &queued); err != nil {
		return err
	}
	if queued.StatusURL == "" || queued.ResponseURL == "" {
		return fmt.Errorf("fal queue returned no status url for request %q", queued.RequestID)
	}

	deadline := time.Now().Add(backend.MaxPollDuration)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}

		var status queueStatus
		if err := c.getJSON(ctx, queued.StatusURL, &status); err != nil {
			return err
		}
		if status.Status == "COMPLETED" {
			return c.getJSON(ctx, queued.ResponseURL, out)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("fal request %s did not finish within %s", queued.RequestID, backend.MaxPollDuration)
		}
	}
}

func (c *Client) postJSON(ctx context.Context, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Key "+c.apiKey)
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("fal api error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

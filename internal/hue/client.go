package hue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// GroupID is the v1 group the client controls.
const GroupID = "1"

// Call labels.
const (
	LabelStatus     = "status"
	LabelPower      = "power"
	LabelBrightness = "brightness"
)

// Client builds the tagged bridge calls for one light group (v1 API).
type Client struct {
	transport *Transport
	statusURL string
	actionURL string
}

// NewClient creates a client for scheme://address/api/token/groups/1.
// An empty scheme defaults to http.
func NewClient(transport *Transport, scheme, address, token string) (*Client, error) {
	if scheme == "" {
		scheme = "http"
	}
	if address == "" {
		return nil, fmt.Errorf("bridge address is required")
	}
	base := url.URL{
		Scheme: scheme,
		Host:   address,
		Path:   "/api/" + token + "/groups/" + GroupID,
	}
	status := base.String()
	if _, err := url.Parse(status); err != nil {
		return nil, fmt.Errorf("invalid bridge address %q: %w", address, err)
	}
	base.Path += "/action"

	return &Client{
		transport: transport,
		statusURL: status,
		actionURL: base.String(),
	}, nil
}


// NewStatusCall builds GET groups/1.
func (c *Client) NewStatusCall(owner any) *Call {
	req, err := http.NewRequest(http.MethodGet, c.statusURL, nil)
	if err != nil {
		// URL is validated at construction; only a broken address gets here.
		panic(fmt.Sprintf("hue: build status request: %v", err))
	}
	return newCall(c.transport, LabelStatus, owner, req)
}

// NewPowerCall builds PUT groups/1/action {"on": on}.
func (c *Client) NewPowerCall(owner any, on bool) *Call {
	return c.newActionCall(LabelPower, owner, map[string]any{"on": on})
}

// NewBrightnessCall builds PUT groups/1/action {"bri": bri}.
func (c *Client) NewBrightnessCall(owner any, bri int) *Call {
	return c.newActionCall(LabelBrightness, owner, map[string]any{"bri": bri})
}

func (c *Client) newActionCall(label string, owner any, action map[string]any) *Call {
	body, err := json.Marshal(action)
	if err != nil {
		panic(fmt.Sprintf("hue: marshal %s action: %v", label, err))
	}
	req, err := http.NewRequest(http.MethodPut, c.actionURL, bytes.NewReader(body))
	if err != nil {
		panic(fmt.Sprintf("hue: build %s request: %v", label, err))
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	return newCall(c.transport, label, owner, req)
}

// CancelAll cancels every queued or running call tagged with owner.
func (c *Client) CancelAll(owner any) int {
	return c.transport.CancelTagged(owner)
}

// CheckStatus returns a *StatusError for non-2xx responses.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

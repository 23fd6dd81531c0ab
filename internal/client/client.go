package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/charadev96/gatehouse/internal/client/domain"
)

// Client talks to the gatehouse admin API on behalf of an operator.
type Client struct {
	Profile domain.Profile
	Logger  *zerolog.Logger

	httpClient *http.Client
}

type Stats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Expired int `json:"expired"`
}

type Member struct {
	Identity        string    `json:"identity"`
	DisplayName     string    `json:"display_name"`
	PlatformUserID  int64     `json:"platform_user_id"`
	State           string    `json:"state"`
	InviteLink      string    `json:"invite_link"`
	InviteExpiresAt time.Time `json:"invite_expires_at"`
	ActiveFrom      time.Time `json:"active_from"`
	ExpiresAt       time.Time `json:"expires_at"`
	RevokedAt       time.Time `json:"revoked_at"`
}

type Invitation struct {
	Link      string    `json:"link"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c *Client) RosterAdd(ctx context.Context, identity, displayName string) error {
	body := map[string]string{
		"identity":     identity,
		"display_name": displayName,
	}
	return c.do(ctx, http.MethodPost, "/v1/roster", body, nil)
}

func (c *Client) RosterRemove(ctx context.Context, identity string) error {
	return c.do(ctx, http.MethodDelete, "/v1/roster/"+url.PathEscape(identity), nil, nil)
}

func (c *Client) GetMember(ctx context.Context, identity string) (Member, error) {
	var m Member
	err := c.do(ctx, http.MethodGet, "/v1/members/"+url.PathEscape(identity), nil, &m)
	return m, err
}

func (c *Client) ListMembers(ctx context.Context) ([]Member, error) {
	var members []Member
	err := c.do(ctx, http.MethodGet, "/v1/members", nil, &members)
	return members, err
}

func (c *Client) RequestInvitation(ctx context.Context, identity string) (Invitation, error) {
	var inv Invitation
	err := c.do(ctx, http.MethodPost, "/v1/members/"+url.PathEscape(identity)+"/invitation", nil, &inv)
	return inv, err
}

func (c *Client) Reissue(ctx context.Context, identity string) error {
	return c.do(ctx, http.MethodPost, "/v1/members/"+url.PathEscape(identity)+"/reissue", nil, nil)
}

func (c *Client) Sweep(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/sweep", nil, nil)
}

func (c *Client) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &stats)
	return stats, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Profile.Server+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Profile.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http().Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
			return fmt.Errorf("%s (status %d)", payload.Error, resp.StatusCode)
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) http() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	transport := http.DefaultTransport
	if c.Profile.Insecure {
		// Self-signed admin certificates generated on first server
		// start are the normal case for a fresh deployment.
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	c.httpClient = &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
	}
	return c.httpClient
}

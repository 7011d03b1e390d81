// Package identity talks to the identity provider's user API.
package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/movie-ticket-booking/internal/domain"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const AdminRole = "admin"

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type user struct {
	ID              string `json:"id"`
	PrivateMetadata struct {
		Role string `json:"role"`
	} `json:"private_metadata"`
}

// Role returns the role stored in the user's private metadata.
func (c *Client) Role(ctx context.Context, userID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/users/"+url.PathEscape(userID), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", domain.Transient(errors.Wrap(err, "identity provider request"))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", errors.Wrapf(domain.ErrNotFound, "identity user %s", userID)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", domain.Transient(errors.Newf("identity provider returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return "", errors.Newf("identity provider returned %d", resp.StatusCode)
	}

	var u user
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return "", errors.Wrap(err, "decode identity user")
	}
	return u.PrivateMetadata.Role, nil
}

func (c *Client) IsAdmin(ctx context.Context, userID string) (bool, error) {
	role, err := c.Role(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return role == AdminRole, nil
}

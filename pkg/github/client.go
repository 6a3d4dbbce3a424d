// Package github implements the verification client against the
// external metadata service's GraphQL API. The client is a pure
// request/response component: it performs one query per claim, maps the
// response into a typed snapshot and classifies failures into the
// retryable/permanent taxonomy. Retry policy lives in the claim
// processor, not here.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	"github.com/claimbridge/claimbridge/pkg/types"
)

const (
	userAgent       = "claimbridge/1.0"
	jsonContentType = "application/json"

	// DefaultEndpoint is the public GraphQL endpoint.
	DefaultEndpoint = "https://api.github.com/graphql"
)

const userQuery = `query($login: String!) {
  user(login: $login) {
    login
    createdAt
    followers { totalCount }
  }
}`

const issueQuery = `query($id: ID!) {
  node(id: $id) {
    ... on Issue {
      id
      closed
      repository { owner { login } }
    }
  }
}`

const pullRequestQuery = `query($id: ID!) {
  node(id: $id) {
    ... on PullRequest {
      id
      merged
      mergedAt
      author {
        login
        ... on User {
          createdAt
          followers { totalCount }
        }
      }
      repository {
        createdAt
        stargazerCount
        forkCount
        owner { login }
      }
    }
  }
}`

// Config holds the client configuration.
type Config struct {
	// Endpoint is the GraphQL endpoint URL.
	Endpoint string
	// Token is the bearer credential, supplied out-of-band.
	Token string
	// RequestTimeout bounds each query (default: 10s).
	RequestTimeout time.Duration
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Client queries the external service. Safe for concurrent use.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
	lggr       logger.Logger
}

// NewClient creates a verification client from the given configuration.
func NewClient(config Config, lggr logger.Logger) *Client {
	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.RequestTimeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		endpoint:   endpoint,
		token:      config.Token,
		httpClient: httpClient,
		lggr:       lggr,
	}
}

// Snapshot fetches the verification facts for one claim. It returns
// types.ErrSubjectNotFound if the queried entity does not exist and
// types.ErrServiceUnavailable on transport or server failures.
func (c *Client) Snapshot(ctx context.Context, kind types.ClaimKind, subject string) (*types.VerificationSnapshot, error) {
	switch kind {
	case types.KindRegistration:
		return c.userSnapshot(ctx, subject)
	case types.KindRelease:
		return c.issueSnapshot(ctx, subject)
	case types.KindPullRequest:
		return c.pullRequestSnapshot(ctx, subject)
	default:
		return nil, fmt.Errorf("claim kind %s has no verification query", kind)
	}
}

type countField struct {
	TotalCount int `json:"totalCount"`
}

type ownerField struct {
	Login string `json:"login"`
}

func (c *Client) userSnapshot(ctx context.Context, login string) (*types.VerificationSnapshot, error) {
	var resp struct {
		User *struct {
			Login     string     `json:"login"`
			CreatedAt time.Time  `json:"createdAt"`
			Followers countField `json:"followers"`
		} `json:"user"`
	}
	if err := c.do(ctx, userQuery, map[string]any{"login": login}, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, fmt.Errorf("user %q: %w", login, types.ErrSubjectNotFound)
	}
	return &types.VerificationSnapshot{
		Subject:       login,
		FetchedAt:     time.Now(),
		UserLogin:     resp.User.Login,
		UserCreatedAt: resp.User.CreatedAt,
		UserFollowers: resp.User.Followers.TotalCount,
	}, nil
}

func (c *Client) issueSnapshot(ctx context.Context, nodeID string) (*types.VerificationSnapshot, error) {
	var resp struct {
		Node *struct {
			ID         string `json:"id"`
			Closed     bool   `json:"closed"`
			Repository struct {
				Owner ownerField `json:"owner"`
			} `json:"repository"`
		} `json:"node"`
	}
	if err := c.do(ctx, issueQuery, map[string]any{"id": nodeID}, &resp); err != nil {
		return nil, err
	}
	// An inline fragment on the wrong node type yields a node with no
	// fields set, which decodes the same as a missing node.
	if resp.Node == nil || resp.Node.ID == "" {
		return nil, fmt.Errorf("issue %q: %w", nodeID, types.ErrSubjectNotFound)
	}
	return &types.VerificationSnapshot{
		Subject:        nodeID,
		FetchedAt:      time.Now(),
		IssueClosed:    resp.Node.Closed,
		RepoOwnerLogin: resp.Node.Repository.Owner.Login,
	}, nil
}

func (c *Client) pullRequestSnapshot(ctx context.Context, nodeID string) (*types.VerificationSnapshot, error) {
	var resp struct {
		Node *struct {
			ID       string     `json:"id"`
			Merged   bool       `json:"merged"`
			MergedAt *time.Time `json:"mergedAt"`
			Author   *struct {
				Login     string     `json:"login"`
				CreatedAt time.Time  `json:"createdAt"`
				Followers countField `json:"followers"`
			} `json:"author"`
			Repository struct {
				CreatedAt      time.Time  `json:"createdAt"`
				StargazerCount int        `json:"stargazerCount"`
				ForkCount      int        `json:"forkCount"`
				Owner          ownerField `json:"owner"`
			} `json:"repository"`
		} `json:"node"`
	}
	if err := c.do(ctx, pullRequestQuery, map[string]any{"id": nodeID}, &resp); err != nil {
		return nil, err
	}
	if resp.Node == nil || resp.Node.ID == "" {
		return nil, fmt.Errorf("pull request %q: %w", nodeID, types.ErrSubjectNotFound)
	}

	snap := &types.VerificationSnapshot{
		Subject:        nodeID,
		FetchedAt:      time.Now(),
		PRMerged:       resp.Node.Merged,
		RepoCreatedAt:  resp.Node.Repository.CreatedAt,
		RepoStars:      resp.Node.Repository.StargazerCount,
		RepoForks:      resp.Node.Repository.ForkCount,
		RepoOwnerLogin: resp.Node.Repository.Owner.Login,
	}
	if resp.Node.MergedAt != nil {
		snap.PRMergedAt = *resp.Node.MergedAt
	}
	if resp.Node.Author != nil {
		snap.PRAuthorLogin = resp.Node.Author.Login
		snap.AuthorCreatedAt = resp.Node.Author.CreatedAt
		snap.AuthorFollowers = resp.Node.Author.Followers.TotalCount
	}
	return snap, nil
}

type graphQLError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// do executes one GraphQL query and decodes the data payload into out.
func (c *Client) do(ctx context.Context, query string, variables map[string]any, out any) error {
	payload, err := json.Marshal(map[string]any{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", jsonContentType)
	req.Header.Set("Accept", jsonContentType)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "bearer "+c.token)

	response, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("query failed: %w: %w", types.ErrServiceUnavailable, err)
	}
	defer func() {
		if cerr := response.Body.Close(); cerr != nil {
			c.lggr.Warnw("failed to close response body", "error", cerr)
		}
	}()

	if response.StatusCode >= 500 {
		return fmt.Errorf("server returned %d: %w", response.StatusCode, types.ErrServiceUnavailable)
	}
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d: %w", response.StatusCode, types.ErrServiceUnavailable)
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w: %w", types.ErrServiceUnavailable, err)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	for _, gqlErr := range envelope.Errors {
		if gqlErr.Type == "NOT_FOUND" {
			return fmt.Errorf("%s: %w", gqlErr.Message, types.ErrSubjectNotFound)
		}
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("query rejected: %s: %w", envelope.Errors[0].Message, types.ErrServiceUnavailable)
	}

	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to decode data payload: %w", err)
	}
	return nil
}

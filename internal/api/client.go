// Package api is the REST side of the chat backend: login, chat history,
// notifications and user profiles. It satisfies engine.Collaborator.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"

	"go-chat-sync/internal/event"
)

const defaultTimeout = 10 * time.Second

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("api: not found")

// StatusError is any other non-2xx answer.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: %s: status %d: %s", e.Op, e.Status, e.Body)
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ID          int64  `json:"id"`
	Username    string `json:"username"`
}

type Client struct {
	baseURL string
	http    *resty.Client
}

func New(baseURL string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{baseURL: baseURL, http: newResty(baseURL)}
}

// WithToken returns a copy of c that authenticates every request with token.
func (c *Client) WithToken(token string) *Client {
	return &Client{baseURL: c.baseURL, http: newResty(c.baseURL).SetAuthToken(token)}
}

func newResty(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)
}

// Register creates an account. An existing username is reported as a
// StatusError from the server.
func (c *Client) Register(ctx context.Context, cred Credentials) error {
	resp, err := c.http.R().SetContext(ctx).SetBody(cred).Post("/register")
	return check("register", resp, err)
}

func (c *Client) Login(ctx context.Context, cred Credentials) (*LoginResponse, error) {
	var out LoginResponse
	resp, err := c.http.R().SetContext(ctx).SetBody(cred).SetResult(&out).Post("/login")
	if err := check("login", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchHistory returns chatID's messages oldest first, each carrying its
// reaction records.
func (c *Client) FetchHistory(ctx context.Context, chatID int64) ([]event.Message, error) {
	var out []event.Message
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatInt(chatID, 10)).
		SetResult(&out).
		Get("/api/chats/{id}/messages")
	if err := check("history", resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FetchNotifications(ctx context.Context) ([]event.Notification, error) {
	var out []event.Notification
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/api/notifications")
	if err := check("notifications", resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

// LookupUser resolves one profile. A missing user is (nil, nil).
func (c *Client) LookupUser(ctx context.Context, userID int64) (*event.User, error) {
	var out event.User
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatInt(userID, 10)).
		SetResult(&out).
		Get("/api/users/{id}")
	if err := check("lookup user", resp, err); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("api: %s: %w", op, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return fmt.Errorf("api: %s: %w", op, ErrNotFound)
	case resp.IsError():
		return &StatusError{Op: op, Status: resp.StatusCode(), Body: strings.TrimSpace(resp.String())}
	}
	return nil
}

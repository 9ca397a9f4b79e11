package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Config holds Home Assistant connection settings.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// AuthToken returns the configured token, falling back to the supervisor
// token when running as a Home Assistant add-on.
func (c Config) AuthToken() string {
	if c.Token != "" {
		return c.Token
	}
	return os.Getenv("SUPERVISOR_TOKEN")
}

// HAClient programs lock codes through the Home Assistant API.
type HAClient struct {
	config     Config
	httpClient *http.Client
}

var _ LockTransport = (*HAClient)(nil)

// NewHAClient creates a new Home Assistant transport.
func NewHAClient(config Config) *HAClient {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &HAClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// SetCode programs a user code into a slot.
func (c *HAClient) SetCode(ctx context.Context, entityID string, slot int, code string) error {
	data := map[string]any{
		"entity_id": entityID,
		"code_slot": slot,
		"usercode":  code,
	}
	return c.callService(ctx, "set_code", entityID, "lock", "set_usercode", data)
}

// ClearCode removes the user code from a slot.
func (c *HAClient) ClearCode(ctx context.Context, entityID string, slot int) error {
	data := map[string]any{
		"entity_id": entityID,
		"code_slot": slot,
	}
	return c.callService(ctx, "clear_code", entityID, "lock", "clear_usercode", data)
}

// Lock engages the lock.
func (c *HAClient) Lock(ctx context.Context, entityID string) error {
	data := map[string]any{"entity_id": entityID}
	return c.callService(ctx, "lock", entityID, "lock", "lock", data)
}

// Unlock disengages the lock.
func (c *HAClient) Unlock(ctx context.Context, entityID string) error {
	data := map[string]any{"entity_id": entityID}
	return c.callService(ctx, "unlock", entityID, "lock", "unlock", data)
}

// SetAutoLock toggles the device's auto-lock parameter. The switch entity
// follows the lock's entity naming convention.
func (c *HAClient) SetAutoLock(ctx context.Context, entityID string, enabled bool) error {
	service := "turn_off"
	if enabled {
		service = "turn_on"
	}
	data := map[string]any{
		"entity_id": autoLockSwitch(entityID),
	}
	return c.callService(ctx, "set_auto_lock", entityID, "switch", service, data)
}

// Notify raises a persistent notification in the Home Assistant UI.
func (c *HAClient) Notify(ctx context.Context, title, message string) error {
	data := map[string]any{
		"title":   title,
		"message": message,
	}
	return c.callService(ctx, "notify", "", "persistent_notification", "create", data)
}

// Ping verifies the API is reachable and the token is accepted.
func (c *HAClient) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, "GET", "/api/", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.wrap("ping", "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.wrap("ping", "", fmt.Errorf("API error (status %d)", resp.StatusCode))
	}
	return nil
}

// autoLockSwitch derives the auto-lock switch entity from a lock entity,
// e.g. lock.front_door -> switch.front_door_auto_lock.
func autoLockSwitch(entityID string) string {
	name := entityID
	if len(name) > 5 && name[:5] == "lock." {
		name = name[5:]
	}
	return "switch." + name + "_auto_lock"
}

// callService calls a Home Assistant service.
func (c *HAClient) callService(ctx context.Context, op, entityID, domain, service string, data any) error {
	path := fmt.Sprintf("/api/services/%s/%s", domain, service)

	body, err := json.Marshal(data)
	if err != nil {
		return c.wrap(op, entityID, fmt.Errorf("encoding request: %w", err))
	}

	req, err := c.newRequest(ctx, "POST", path, bytes.NewReader(body))
	if err != nil {
		return c.wrap(op, entityID, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.wrap(op, entityID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return c.wrap(op, entityID, fmt.Errorf("API error (status %d): %s", resp.StatusCode, respBody))
	}

	return nil
}

// newRequest creates a new HTTP request with authentication.
func (c *HAClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	url := c.config.BaseURL + path

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.config.AuthToken())
	req.Header.Set("Content-Type", "application/json")

	return req, nil
}

// wrap normalizes any failure into a transport Error.
func (c *HAClient) wrap(op, entityID string, err error) error {
	timeout := errors.Is(err, context.DeadlineExceeded)
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		timeout = true
	}
	return &Error{Op: op, EntityID: entityID, Timeout: timeout, Err: err}
}

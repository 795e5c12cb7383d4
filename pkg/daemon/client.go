package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/loft-sh/wsmaster/pkg/events"
	"github.com/loft-sh/wsmaster/pkg/machine"
	"github.com/loft-sh/wsmaster/pkg/workspace"
	"github.com/pkg/errors"
)

// Client talks to a wsmaster daemon
type Client struct {
	httpClient *http.Client
	address    string
	baseURL    string

	user    string
	account string
}

func NewClient(address, user, account string) *Client {
	baseURL := address
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}

	return &Client{
		httpClient: &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		address:    address,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		user:       user,
		account:    account,
	}
}

func (c *Client) Health(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, routeHealth, nil, nil)
	return err
}

func (c *Client) Version(ctx context.Context) (*VersionInfo, error) {
	info := &VersionInfo{}
	err := c.doJSON(ctx, http.MethodGet, routeVersion, nil, nil, info)
	if err != nil {
		return nil, err
	}

	return info, nil
}

func (c *Client) Validate(ctx context.Context, config *workspace.Config) error {
	return c.doJSON(ctx, http.MethodPost, routeValidate, nil, config, nil)
}

func (c *Client) CreateWorkspace(ctx context.Context, config *workspace.Config) (*workspace.Workspace, error) {
	ws := &workspace.Workspace{}
	err := c.doJSON(ctx, http.MethodPost, routeWorkspaces, nil, config, ws)
	if err != nil {
		return nil, err
	}

	return ws, nil
}

func (c *Client) GetWorkspace(ctx context.Context, workspaceID string) (*workspace.Workspace, error) {
	ws := &workspace.Workspace{}
	err := c.doJSON(ctx, http.MethodGet, workspacePath(routeWorkspace, workspaceID), nil, nil, ws)
	if err != nil {
		return nil, err
	}

	return ws, nil
}

func (c *Client) GetWorkspaceByName(ctx context.Context, name, owner string) (*workspace.Workspace, error) {
	ws := &workspace.Workspace{}
	path := strings.Replace(routeWorkspaceByName, ":name", url.PathEscape(name), 1)
	err := c.doJSON(ctx, http.MethodGet, path, ownerQuery(owner), nil, ws)
	if err != nil {
		return nil, err
	}

	return ws, nil
}

// ResolveWorkspace accepts either a workspace id or a name owned by owner.
// Temporary workspaces are only known to the runtime and resolve by id.
func (c *Client) ResolveWorkspace(ctx context.Context, idOrName, owner string) (*workspace.Workspace, error) {
	ws, err := c.GetWorkspace(ctx, idOrName)
	if err == nil {
		return ws, nil
	}

	byName, nameErr := c.GetWorkspaceByName(ctx, idOrName, owner)
	if nameErr == nil {
		return byName, nil
	}

	runtime, runtimeErr := c.GetRuntimeWorkspace(ctx, idOrName)
	if runtimeErr == nil {
		return &runtime.Workspace, nil
	}
	return nil, err
}

func (c *Client) ListWorkspaces(ctx context.Context, owner string) ([]*workspace.Workspace, error) {
	workspaces := []*workspace.Workspace{}
	err := c.doJSON(ctx, http.MethodGet, routeWorkspaces, ownerQuery(owner), nil, &workspaces)
	if err != nil {
		return nil, err
	}

	return workspaces, nil
}

func (c *Client) UpdateWorkspace(ctx context.Context, workspaceID string, config *workspace.Config) (*workspace.Workspace, error) {
	ws := &workspace.Workspace{}
	err := c.doJSON(ctx, http.MethodPut, workspacePath(routeWorkspace, workspaceID), nil, config, ws)
	if err != nil {
		return nil, err
	}

	return ws, nil
}

func (c *Client) RemoveWorkspace(ctx context.Context, workspaceID string) error {
	return c.doJSON(ctx, http.MethodDelete, workspacePath(routeWorkspace, workspaceID), nil, nil, nil)
}

func (c *Client) StartWorkspace(ctx context.Context, workspaceID, envName string, recover bool) (*workspace.Workspace, error) {
	query := url.Values{}
	if envName != "" {
		query.Set("env", envName)
	}
	if recover {
		query.Set("recover", strconv.FormatBool(recover))
	}

	ws := &workspace.Workspace{}
	err := c.doJSON(ctx, http.MethodPost, workspacePath(routeStartWorkspace, workspaceID), query, nil, ws)
	if err != nil {
		return nil, err
	}

	return ws, nil
}

func (c *Client) StopWorkspace(ctx context.Context, workspaceID string) error {
	return c.doJSON(ctx, http.MethodPost, workspacePath(routeStopWorkspace, workspaceID), nil, nil, nil)
}

func (c *Client) CreateSnapshot(ctx context.Context, workspaceID string) error {
	return c.doJSON(ctx, http.MethodPost, workspacePath(routeSnapshot, workspaceID), nil, nil, nil)
}

func (c *Client) GetSnapshot(ctx context.Context, workspaceID string) ([]*machine.Snapshot, error) {
	snapshots := []*machine.Snapshot{}
	err := c.doJSON(ctx, http.MethodGet, workspacePath(routeSnapshot, workspaceID), nil, nil, &snapshots)
	if err != nil {
		return nil, err
	}

	return snapshots, nil
}

func (c *Client) GetRuntimeWorkspace(ctx context.Context, workspaceID string) (*workspace.RuntimeWorkspace, error) {
	runtime := &workspace.RuntimeWorkspace{}
	err := c.doJSON(ctx, http.MethodGet, workspacePath(routeRuntimeWorkspace, workspaceID), nil, nil, runtime)
	if err != nil {
		return nil, err
	}

	return runtime, nil
}

func (c *Client) ListRuntimeWorkspaces(ctx context.Context, owner string) ([]*workspace.RuntimeWorkspace, error) {
	runtimes := []*workspace.RuntimeWorkspace{}
	err := c.doJSON(ctx, http.MethodGet, routeRuntimes, ownerQuery(owner), nil, &runtimes)
	if err != nil {
		return nil, err
	}

	return runtimes, nil
}

func (c *Client) StartTemporaryWorkspace(ctx context.Context, config *workspace.Config) (*workspace.RuntimeWorkspace, error) {
	runtime := &workspace.RuntimeWorkspace{}
	err := c.doJSON(ctx, http.MethodPost, routeTemporary, nil, config, runtime)
	if err != nil {
		return nil, err
	}

	return runtime, nil
}

// EventStream is an open event subscription
type EventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// Next blocks until the next event arrives. It returns io.EOF once the
// stream is closed.
func (s *EventStream) Next() (events.WorkspaceStatusEvent, error) {
	event := events.WorkspaceStatusEvent{}
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return event, err
		}
		return event, io.EOF
	}

	err := json.Unmarshal(s.scanner.Bytes(), &event)
	if err != nil {
		return event, errors.Wrap(err, "decode event")
	}
	return event, nil
}

func (s *EventStream) Close() error {
	return s.body.Close()
}

// OpenEvents subscribes to the events of workspaceID, or of all workspaces
// if it is empty. Events published after OpenEvents returns are received.
func (c *Client) OpenEvents(ctx context.Context, workspaceID string) (*EventStream, error) {
	query := url.Values{}
	if workspaceID != "" {
		query.Set("workspace", workspaceID)
	}

	res, err := c.send(ctx, http.MethodGet, routeEvents, query, nil)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		defer res.Body.Close()
		body, _ := io.ReadAll(res.Body)
		return nil, decodeError(res.StatusCode, body)
	}

	return &EventStream{body: res.Body, scanner: bufio.NewScanner(res.Body)}, nil
}

// WatchEvents calls fn for every event until ctx is done, the daemon closes
// the stream or fn returns an error
func (c *Client) WatchEvents(ctx context.Context, workspaceID string, fn func(event events.WorkspaceStatusEvent) error) error {
	stream, err := c.OpenEvents(ctx, workspaceID)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		event, err := stream.Next()
		if err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = fn(event)
		if err != nil {
			return err
		}
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, in interface{}, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	raw, err := c.doRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}

	return json.Unmarshal(raw, out)
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) ([]byte, error) {
	res, err := c.send(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if res.StatusCode >= http.StatusBadRequest {
		return nil, decodeError(res.StatusCode, raw)
	}

	return raw, nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.Header.Set(HeaderUser, c.user)
	}
	if c.account != "" {
		req.Header.Set(HeaderAccount, c.account)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		if isConnectToDaemonError(err) {
			return nil, errDaemonNotAvailable{Err: err, Address: c.address}
		}

		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	return res, nil
}

func workspacePath(route, workspaceID string) string {
	return strings.Replace(route, ":id", url.PathEscape(workspaceID), 1)
}

func ownerQuery(owner string) url.Values {
	if owner == "" {
		return nil
	}
	return url.Values{"owner": []string{owner}}
}

package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

var issueKeyPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*-[0-9]+$`)

// ValidKey reports whether key looks like a Jira issue key (PROJ-123).
func ValidKey(key string) bool {
	return issueKeyPattern.MatchString(key)
}

// ServerInfo is the subset of /serverInfo used for connection checks.
type ServerInfo struct {
	BaseURL     string `json:"baseUrl"`
	Version     string `json:"version"`
	ServerTitle string `json:"serverTitle"`
}

// Client talks to the Jira REST v2 API with basic auth (user + API token).
type Client struct {
	baseURL    string
	username   string
	apiToken   string
	httpClient *http.Client
}

// NewClient constructs a Jira client.
func NewClient(baseURL, username, apiToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		apiToken:   apiToken,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the configured Jira URL.
func (c *Client) BaseURL() string {
	if c == nil {
		return ""
	}
	return c.baseURL
}

// GetIssue fetches the issue fields used for triage.
func (c *Client) GetIssue(ctx context.Context, key string) (models.Issue, error) {
	const op = "tracker.GetIssue"
	if err := c.ready(op); err != nil {
		return models.Issue{}, err
	}
	if !ValidKey(key) {
		return models.Issue{}, utils.KindError(utils.ErrValidation, op, fmt.Sprintf("invalid issue key %q", key), nil)
	}

	var response struct {
		Key    string `json:"key"`
		Fields struct {
			Summary     string          `json:"summary"`
			Description json.RawMessage `json:"description"`
			Status      *struct {
				Name string `json:"name"`
			} `json:"status"`
			Assignee *person `json:"assignee"`
			Creator  *person `json:"creator"`
			Created  string  `json:"created"`
			Updated  string  `json:"updated"`
		} `json:"fields"`
	}
	endpoint := c.resolvePath("/rest/api/2/issue/"+url.PathEscape(key)) + "?fields=summary,description,status,assignee,creator,created,updated"
	if err := c.doJSON(ctx, op, http.MethodGet, endpoint, nil, &response); err != nil {
		return models.Issue{}, err
	}

	issue := models.Issue{
		Key:         firstNonEmpty(response.Key, key),
		Summary:     response.Fields.Summary,
		Description: descriptionText(response.Fields.Description),
		Assignee:    response.Fields.Assignee.name(),
		Creator:     response.Fields.Creator.name(),
	}
	if response.Fields.Status != nil {
		issue.Status = response.Fields.Status.Name
	}
	if t, err := utils.ParseTimestamp(response.Fields.Created); err == nil {
		issue.Created = t
	}
	if t, err := utils.ParseTimestamp(response.Fields.Updated); err == nil {
		issue.Updated = t
	}
	return issue, nil
}

// AddComment posts body as a new comment on the issue.
func (c *Client) AddComment(ctx context.Context, key, body string) error {
	const op = "tracker.AddComment"
	if err := c.ready(op); err != nil {
		return err
	}
	if !ValidKey(key) {
		return utils.KindError(utils.ErrValidation, op, fmt.Sprintf("invalid issue key %q", key), nil)
	}
	if strings.TrimSpace(body) == "" {
		return utils.KindError(utils.ErrValidation, op, "comment body is empty", nil)
	}
	endpoint := c.resolvePath("/rest/api/2/issue/" + url.PathEscape(key) + "/comment")
	return c.doJSON(ctx, op, http.MethodPost, endpoint, map[string]string{"body": body}, nil)
}

// ServerInfo checks connectivity and credentials.
func (c *Client) ServerInfo(ctx context.Context) (ServerInfo, error) {
	const op = "tracker.ServerInfo"
	if err := c.ready(op); err != nil {
		return ServerInfo{}, err
	}
	var info ServerInfo
	if err := c.doJSON(ctx, op, http.MethodGet, c.resolvePath("/rest/api/2/serverInfo"), nil, &info); err != nil {
		return ServerInfo{}, err
	}
	return info, nil
}

func (c *Client) ready(op string) error {
	if c == nil || c.baseURL == "" {
		return utils.KindError(utils.ErrNotConfigured, op, "jira base URL not configured", nil)
	}
	if c.username == "" || c.apiToken == "" {
		return utils.KindError(utils.ErrNotConfigured, op, "jira credentials not configured", nil)
	}
	return nil
}

func (c *Client) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *Client) doJSON(ctx context.Context, op, method, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.apiToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return utils.NewAppError(op, "jira request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return utils.KindError(utils.ErrNotFound, op, "jira returned 404", nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return utils.NewAppError(op, fmt.Sprintf("jira returned %s", resp.Status), errors.New(jiraErrorMessage(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type person struct {
	DisplayName  string `json:"displayName"`
	Name         string `json:"name"`
	EmailAddress string `json:"emailAddress"`
}

func (p *person) name() string {
	if p == nil {
		return ""
	}
	return firstNonEmpty(p.DisplayName, p.Name, p.EmailAddress)
}

// descriptionText accepts both plain-text (v2) and Atlassian Document Format descriptions.
func descriptionText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	var b strings.Builder
	doc.collect(&b)
	return strings.TrimSpace(b.String())
}

type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text"`
	Content []adfNode `json:"content"`
}

func (n adfNode) collect(b *strings.Builder) {
	if n.Text != "" {
		b.WriteString(n.Text)
	}
	for _, child := range n.Content {
		child.collect(b)
	}
	switch n.Type {
	case "paragraph", "heading", "listItem", "codeBlock":
		b.WriteByte('\n')
	}
}

func jiraErrorMessage(data []byte) string {
	var payload struct {
		ErrorMessages []string          `json:"errorMessages"`
		Errors        map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		msgs := append([]string(nil), payload.ErrorMessages...)
		for field, msg := range payload.Errors {
			msgs = append(msgs, field+": "+msg)
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}
	return strings.TrimSpace(string(data))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

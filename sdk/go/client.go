package plenariosdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Plenário HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Proposition represents the API proposition model (partial).
type Proposition struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	Number      string `json:"number"`
	Title       string `json:"title"`
	Regime      string `json:"regime"`
	VotingTurn  int    `json:"voting_turn"`
	PresentedAt string `json:"presented_at"`
	Status      string `json:"status"`
}

// Tramitacao represents a proposition's procedural run.
type Tramitacao struct {
	ID             string  `json:"id"`
	PropositionID  string  `json:"proposition_id"`
	FlowID         string  `json:"flow_id"`
	CurrentStageID *string `json:"current_stage_id,omitempty"`
	Status         string  `json:"status"`
	Regime         string  `json:"regime"`
	Deadline       *string `json:"deadline,omitempty"`
}

// Eligibility is the agenda eligibility verdict for a proposition.
type Eligibility struct {
	PropositionID string   `json:"proposition_id"`
	Eligible      bool     `json:"eligible"`
	Code          string   `json:"code,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	StageName     string   `json:"stage_name,omitempty"`
	Stale         bool     `json:"stale"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Session represents a plenary session.
type Session struct {
	ID          string `json:"id"`
	Number      int    `json:"number"`
	Type        string `json:"type"`
	ScheduledAt string `json:"scheduled_at"`
	Status      string `json:"status"`
}

// AgendaItem is one entry of a generated agenda.
type AgendaItem struct {
	ID               string `json:"id"`
	SessionID        string `json:"session_id"`
	PropositionID    string `json:"proposition_id"`
	Section          string `json:"section"`
	Ord              int    `json:"ord"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	Status           string `json:"status"`
}

// Agenda is a session's ordered agenda.
type Agenda struct {
	SessionID    string       `json:"session_id"`
	Items        []AgendaItem `json:"items"`
	TotalMinutes int          `json:"total_minutes"`
	Warnings     []string     `json:"warnings"`
	Published    bool         `json:"published"`
}

// Tally is a derived vote count with its quorum resolution.
type Tally struct {
	PropositionID string `json:"proposition_id"`
	Turn          int    `json:"turn"`
	Yes           int    `json:"yes"`
	No            int    `json:"no"`
	Abstain       int    `json:"abstain"`
	Absent        int    `json:"absent"`
	ValidVotes    int    `json:"valid_votes"`
	QuorumKind    string `json:"quorum_kind"`
	Threshold     int    `json:"threshold"`
	Resolution    string `json:"resolution"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ChamberID  string `json:"chamber_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProposition registers a proposition.
func (c *Client) CreateProposition(ctx context.Context, category, number, title string, attributes map[string]any) (Proposition, error) {
	body := map[string]any{
		"category": category,
		"number":   number,
		"title":    title,
	}
	if len(attributes) > 0 {
		body["attributes"] = attributes
	}
	var resp Proposition
	err := c.do(ctx, http.MethodPost, "v0/propositions", body, &resp)
	return resp, err
}

// StartTramitacao opens the procedural run for a proposition.
func (c *Client) StartTramitacao(ctx context.Context, propositionID string) (Tramitacao, error) {
	var resp Tramitacao
	endpoint := fmt.Sprintf("v0/propositions/%s/tramitacao", url.PathEscape(propositionID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

// AdvanceTramitacao moves a tramitação to its next stage.
func (c *Client) AdvanceTramitacao(ctx context.Context, tramitacaoID, opinion string) (Tramitacao, error) {
	body := map[string]any{}
	if opinion != "" {
		body["opinion"] = opinion
	}
	var resp Tramitacao
	endpoint := fmt.Sprintf("v0/tramitacoes/%s/advance", url.PathEscape(tramitacaoID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ChangeRegime switches the urgency regime and recomputes the deadline.
func (c *Client) ChangeRegime(ctx context.Context, tramitacaoID, regime string) (Tramitacao, error) {
	var resp Tramitacao
	endpoint := fmt.Sprintf("v0/tramitacoes/%s/regime", url.PathEscape(tramitacaoID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"regime": regime}, &resp)
	return resp, err
}

// CheckEligibility returns the agenda eligibility verdict.
func (c *Client) CheckEligibility(ctx context.Context, propositionID string) (Eligibility, error) {
	var resp Eligibility
	endpoint := fmt.Sprintf("v0/propositions/%s/eligibility", url.PathEscape(propositionID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateSession schedules a plenary session.
func (c *Client) CreateSession(ctx context.Context, number int, sessionType string, scheduledAt time.Time) (Session, error) {
	body := map[string]any{
		"number":       number,
		"scheduled_at": scheduledAt.UTC().Format(time.RFC3339),
	}
	if sessionType != "" {
		body["type"] = sessionType
	}
	var resp Session
	err := c.do(ctx, http.MethodPost, "v0/sessions", body, &resp)
	return resp, err
}

// GenerateAgenda builds the agenda for a scheduled session.
func (c *Client) GenerateAgenda(ctx context.Context, sessionID string, maxMinutes int) (Agenda, error) {
	body := map[string]any{}
	if maxMinutes > 0 {
		body["max_minutes"] = maxMinutes
	}
	var resp Agenda
	endpoint := fmt.Sprintf("v0/sessions/%s/agenda/generate", url.PathEscape(sessionID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// PublishAgenda freezes a generated agenda.
func (c *Client) PublishAgenda(ctx context.Context, sessionID string) (Agenda, error) {
	var resp Agenda
	endpoint := fmt.Sprintf("v0/sessions/%s/agenda/publish", url.PathEscape(sessionID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

// RecordVote registers a nominal vote on an item in voting.
func (c *Client) RecordVote(ctx context.Context, itemID, legislatorID, choice string) error {
	body := map[string]any{
		"legislator_id": legislatorID,
		"choice":        choice,
	}
	endpoint := fmt.Sprintf("v0/agenda-items/%s/votes", url.PathEscape(itemID))
	return c.do(ctx, http.MethodPost, endpoint, body, nil)
}

// CloseVoting resolves an item and returns the final tally.
func (c *Client) CloseVoting(ctx context.Context, itemID string) (Tally, error) {
	var resp Tally
	endpoint := fmt.Sprintf("v0/agenda-items/%s/voting/close", url.PathEscape(itemID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

// Minutes returns the composed minutes text of a concluded session.
func (c *Client) Minutes(ctx context.Context, sessionID string) (string, error) {
	var resp struct {
		Text string `json:"text"`
	}
	endpoint := fmt.Sprintf("v0/sessions/%s/minutes", url.PathEscape(sessionID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Text, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

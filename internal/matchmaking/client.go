// Package matchmaking wraps the external ticket-based match search service.
// The client is stateless: tickets live on the room row, match results come
// back through the async event callback.
package matchmaking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rigidity/lobby-backend/internal/apperr"
)

// Player is one roster entry submitted with a search. Attributes carry
// whatever the match rule set wants to see per player (team position,
// archetype, nickname).
type Player struct {
	PlayerID   string         `json:"player_id"`
	Team       string         `json:"team"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type Client interface {
	// StartSearch submits a roster under a fresh ticket id and returns it.
	StartSearch(ctx context.Context, roster []Player, configuration string) (string, error)
	CancelSearch(ctx context.Context, ticketID string) error
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPClient talks JSON to the matchmaking backend. Ticket ids are generated
// client-side and passed along, so a request that dies in flight can still be
// cancelled by id.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *zap.Logger
}

func NewHTTPClient(cfg Config, log *zap.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		log:     log.Named("matchmaking"),
	}
}

type startSearchRequest struct {
	TicketID          string   `json:"ticket_id"`
	ConfigurationName string   `json:"configuration_name"`
	Players           []Player `json:"players"`
}

func (c *HTTPClient) StartSearch(ctx context.Context, roster []Player, configuration string) (string, error) {
	ticketID := uuid.NewString()
	body, err := json.Marshal(startSearchRequest{
		TicketID:          ticketID,
		ConfigurationName: configuration,
		Players:           roster,
	})
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "encoding search request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tickets", bytes.NewReader(body))
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "building search request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.Unavailable, "matchmaking service unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperr.Newf(apperr.Unavailable, "matchmaking service returned %d", resp.StatusCode)
	}

	c.log.Info("search started",
		zap.String("ticket_id", ticketID),
		zap.String("configuration", configuration),
		zap.Int("players", len(roster)))
	return ticketID, nil
}

func (c *HTTPClient) CancelSearch(ctx context.Context, ticketID string) error {
	url := fmt.Sprintf("%s/tickets/%s", c.baseURL, ticketID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "building cancel request", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.Unavailable, "matchmaking service unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.Newf(apperr.Unavailable, "matchmaking service returned %d", resp.StatusCode)
	}

	c.log.Info("search cancelled", zap.String("ticket_id", ticketID))
	return nil
}

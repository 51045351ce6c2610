// Package chesscom is a thin client for the chess.com published-data
// API: monthly game archives per player.
package chesscom

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultBaseURL = "https://api.chess.com/pub"
	userAgent      = "ChessAnalyzer/1.0"
)

// Player is one side of an archived game.
type Player struct {
	Username string `json:"username"`
	Rating   int    `json:"rating"`
	Result   string `json:"result"`
}

// Game is one archived game.
type Game struct {
	URL       string `json:"url"`
	PGN       string `json:"pgn"`
	EndTime   int64  `json:"end_time"`
	TimeClass string `json:"time_class"`
	Rated     bool   `json:"rated"`
	White     Player `json:"white"`
	Black     Player `json:"black"`
}

// Client fetches player archives. The published-data API needs no
// authentication, only a User-Agent.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a client. baseURL may be empty for the public API.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

// Archives returns the player's monthly archive URLs, oldest first.
func (c *Client) Archives(ctx context.Context, username string) ([]string, error) {
	url := fmt.Sprintf("%s/player/%s/games/archives", c.baseURL, username)
	var payload struct {
		Archives []string `json:"archives"`
	}
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return nil, err
	}
	return payload.Archives, nil
}

// Games fetches one monthly archive by its URL.
func (c *Client) Games(ctx context.Context, archiveURL string) ([]Game, error) {
	var payload struct {
		Games []Game `json:"games"`
	}
	if err := c.getJSON(ctx, archiveURL, &payload); err != nil {
		return nil, err
	}
	return payload.Games, nil
}

// RecentGames returns up to n of the player's most recent games,
// newest first, walking archives backwards until n are collected.
func (c *Client) RecentGames(ctx context.Context, username string, n int) ([]Game, error) {
	archives, err := c.Archives(ctx, username)
	if err != nil {
		return nil, err
	}
	if len(archives) == 0 {
		return nil, nil
	}

	var out []Game
	for i := len(archives) - 1; i >= 0 && len(out) < n; i-- {
		games, err := c.Games(ctx, archives[i])
		if err != nil {
			c.log.Warn().Err(err).Str("archive", archives[i]).Msg("skipping archive")
			continue
		}
		// Archives list games oldest first.
		for j := len(games) - 1; j >= 0 && len(out) < n; j-- {
			out = append(out, games[j])
		}
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("get %s: status %d", url, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

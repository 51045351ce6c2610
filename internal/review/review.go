// Package review generates a prose game review from an OpenAI-style
// chat-completions endpoint, seeded with the classified analysis.
package review

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gamereview/api/internal/analysis"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("review client not configured")

// ClientConfig configures the review client.
type ClientConfig struct {
	APIKey  string
	Model   string // default gpt-4-turbo
	BaseURL string // default https://api.openai.com/v1
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Client calls a chat-completions endpoint. Any OpenAI-compatible
// server works; only the completions route is used.
type Client struct {
	cfg  ClientConfig
	http *http.Client
	log  zerolog.Logger
}

// NewClient creates a review client. The client is usable with an
// empty API key but every Review call returns ErrNotConfigured.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Model == "" {
		cfg.Model = "gpt-4-turbo"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  cfg.Logger,
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

// Review is a generated game review.
type Review struct {
	Summary       string `json:"summary"`
	PlayerFocused bool   `json:"player_focused"`
	Markdown      bool   `json:"markdown_format"`
}

// Request carries everything the prompt needs.
type Request struct {
	PGN      string
	Username string // optional; focuses advice on this player
	Analysis *analysis.GameAnalysis
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

const systemPrompt = "You are a chess master providing insightful game analysis. " +
	"Format your response in well-structured markdown with headings, bullet points, " +
	"and emphasis for key insights. Provide thorough, educational reviews with " +
	"practical advice that can be directly rendered in a web application."

// Generate produces a review for the game.
func (c *Client) Generate(ctx context.Context, req Request) (*Review, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	perspective := playerPerspective(req)
	prompt := buildPrompt(req, perspective)

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.7,
		MaxTokens:   2000,
	})
	if err != nil {
		return nil, err
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("review request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode review response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("review request failed: %s", msg)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("review response has no choices")
	}

	c.log.Debug().Str("model", c.cfg.Model).Int("prompt_bytes", len(prompt)).Msg("review generated")

	return &Review{
		Summary:       strings.TrimSpace(parsed.Choices[0].Message.Content),
		PlayerFocused: perspective != "",
		Markdown:      true,
	}, nil
}

// playerPerspective returns a focus line when the username matches a
// player, case-insensitively and by substring as players often carry
// titles or ratings in the tag.
func playerPerspective(req Request) string {
	if req.Username == "" || req.Analysis == nil {
		return ""
	}
	u := strings.ToLower(req.Username)
	if strings.Contains(strings.ToLower(req.Analysis.White), u) {
		return fmt.Sprintf("Focus on advice for %s (White).", req.Analysis.White)
	}
	if strings.Contains(strings.ToLower(req.Analysis.Black), u) {
		return fmt.Sprintf("Focus on advice for %s (Black).", req.Analysis.Black)
	}
	return ""
}

func buildPrompt(req Request, perspective string) string {
	var b strings.Builder
	b.WriteString("Analyze this chess game in PGN format and provide a detailed review.\n")
	if req.Analysis != nil {
		fmt.Fprintf(&b, "Game: %s (White) vs %s (Black), Result: %s\n",
			req.Analysis.White, req.Analysis.Black, req.Analysis.Result)
	}
	b.WriteString("\n")
	if perspective != "" {
		b.WriteString(perspective)
		b.WriteString("\n\n")
	}

	if digest := moveDigest(req.Analysis); digest != "" {
		b.WriteString("Engine analysis highlights:\n")
		b.WriteString(digest)
		b.WriteString("\n")
	}

	b.WriteString(`Please provide your review in markdown format with appropriate formatting:
1. Use # for main headings and ## for subheadings
2. Use bullet points (* or -) for listing key points
3. **Bold** important insights and move suggestions
4. Use > blockquotes for highlighting important positions or principles
5. Organize your analysis with clear section breaks

Include the following sections:
# Game Summary
A brief overview of the key moments and result

## Opening Analysis
Review of the opening choices and early game

## Middlegame Analysis
Key tactical and strategic themes

## Endgame Analysis (if applicable)
How the endgame was handled

## Critical Moments
The most important decisions that affected the outcome

## Improvement Suggestions
Specific advice for future games

PGN:
`)
	b.WriteString(req.PGN)
	return b.String()
}

// moveDigest lists the review-worthy moves so the model grounds its
// prose in the engine's verdicts instead of guessing.
func moveDigest(a *analysis.GameAnalysis) string {
	if a == nil {
		return ""
	}
	var b strings.Builder
	for _, m := range a.Moves {
		switch m.Quality {
		case analysis.Brilliant, analysis.Miss, analysis.Mistake, analysis.Blunder:
		default:
			continue
		}
		moveNo := m.Ply/2 + 1
		side := "White"
		if m.Ply%2 == 1 {
			side = "Black"
		}
		fmt.Fprintf(&b, "- Move %d (%s): %s was a %s", moveNo, side, m.SAN, m.Quality)
		if m.BestMove != "" {
			fmt.Fprintf(&b, "; engine preferred %s", m.BestMove)
		}
		b.WriteString("\n")
	}
	return b.String()
}

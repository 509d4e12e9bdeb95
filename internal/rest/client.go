// Package rest is the client for the chat backend's REST API: history
// pages, member rosters, like/react toggles and DM threads. The stream
// connection handles everything live; rest covers everything fetched.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/kmarchetti/go-chatsync/internal/types"
)

type Client struct {
	base   *url.URL
	http   *http.Client
	tokens TokenSource
	log    zerolog.Logger
}

func NewClient(baseURL string, tokens TokenSource, logger zerolog.Logger) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}

	return &Client{
		base:   base,
		http:   &http.Client{Timeout: 15 * time.Second},
		tokens: tokens,
		log:    logger.With().Str("component", "rest").Logger(),
	}, nil
}

// HistoryPage is one page of room history. Messages arrive newest-first;
// the sync layer stores them ascending.
type HistoryPage struct {
	Room     types.Room      `json:"room"`
	Messages []types.Message `json:"messages"`
}

// RoomHistory fetches a history page. beforeId 0 requests the newest page.
func (c *Client) RoomHistory(ctx context.Context, roomId, beforeId int64, limit int) (*HistoryPage, error) {
	path := fmt.Sprintf("rooms/%d", roomId)
	q := url.Values{}
	if beforeId > 0 {
		q.Set("beforeId", strconv.FormatInt(beforeId, 10))
		q.Set("limit", strconv.Itoa(limit))
	}

	var page HistoryPage
	if err := c.doJSON(ctx, http.MethodGet, path, q, nil, &page); err != nil {
		return nil, fmt.Errorf("fetch room history: %w", err)
	}
	return &page, nil
}

// RoomMembers fetches the current member roster for a room.
func (c *Client) RoomMembers(ctx context.Context, roomId int64) ([]string, error) {
	var payload struct {
		Members []string `json:"members"`
	}
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("rooms/%d/members", roomId), nil, nil, &payload); err != nil {
		return nil, fmt.Errorf("fetch room members: %w", err)
	}
	return payload.Members, nil
}

// LikeResult is the server-confirmed outcome of a like toggle.
type LikeResult struct {
	Liked  bool  `json:"liked"`
	LikeId int64 `json:"likeId"`
}

// ToggleLike flips the current user's like on a message and returns the
// resulting state. Local state is applied only after this returns.
func (c *Client) ToggleLike(ctx context.Context, messageId int64) (*LikeResult, error) {
	var res LikeResult
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("messages/%d/like", messageId), nil, nil, &res); err != nil {
		return nil, fmt.Errorf("toggle like: %w", err)
	}
	return &res, nil
}

// ReactionResult is the server-confirmed outcome of a reaction toggle.
type ReactionResult struct {
	ReactedTo bool  `json:"reactedTo"`
	ReactId   int64 `json:"reactId"`
}

// ToggleReaction flips the current user's emoji reaction on a message.
func (c *Client) ToggleReaction(ctx context.Context, messageId int64, emoji string) (*ReactionResult, error) {
	var res ReactionResult
	body := map[string]string{"emoji": emoji}
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("messages/%d/react", messageId), nil, body, &res); err != nil {
		return nil, fmt.Errorf("toggle reaction: %w", err)
	}
	return &res, nil
}

// ListThreads fetches the DM thread summaries for the sidebar.
func (c *Client) ListThreads(ctx context.Context) ([]types.DirectMessage, error) {
	var payload struct {
		Messages []types.DirectMessage `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "dms/threads", nil, nil, &payload); err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	return payload.Messages, nil
}

// ThreadState is the full state of one DM thread.
type ThreadState struct {
	ThreadId        int64                   `json:"threadId"`
	Messages        []types.DbDirectMessage `json:"messages"`
	UserDmRead      *types.UserDmRead       `json:"userDmRead"`
	OtherUserDmRead *types.UserDmRead       `json:"otherUserDmRead"`
}

// OpenThread fetches the thread with the given user, creating it when it
// does not exist yet. A freshly created thread has no messages.
func (c *Client) OpenThread(ctx context.Context, otherUserId int64) (*ThreadState, error) {
	path := fmt.Sprintf("dms/thread/%d", otherUserId)

	var state ThreadState
	err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &state)
	if err == nil {
		return &state, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("open thread: %w", err)
	}

	var created struct {
		ThreadId int64 `json:"threadId"`
	}
	if err := c.doJSON(ctx, http.MethodPost, path, nil, nil, &created); err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}

	return &ThreadState{
		ThreadId: created.ThreadId,
		Messages: []types.DbDirectMessage{},
	}, nil
}

// doJSON performs an authenticated request, refreshing the token and
// retrying once on 401.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	resp, err := c.send(ctx, method, path, query, body, token)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		token, err = c.tokens.Refresh(ctx)
		if err != nil {
			return err
		}
		c.log.Debug().Str("path", path).Msg("retrying after token refresh")
		if resp, err = c.send(ctx, method, path, query, body, token); err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body any, token string) (*http.Response, error) {
	u := c.base.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	return c.http.Do(req)
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrAuthExpired
	case http.StatusNotFound:
		return ErrNotFound
	}

	var apiErr apiError
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Message != "" {
		return &statusError{status: resp.StatusCode, body: apiErr.Message}
	}
	return &statusError{status: resp.StatusCode, body: string(raw)}
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}

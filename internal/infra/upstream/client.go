// Package upstream talks to the order-management HTTP API: it lists orders
// waiting for fulfillment and writes their final status back.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"orderflow/internal/config"
	"orderflow/internal/domain"
	"orderflow/internal/ports"

	goerrors "github.com/goliatone/go-errors"
	"github.com/rs/zerolog/log"
)

const (
	ErrCodeRequestFailed = "UPSTREAM_REQUEST_FAILED"
	ErrCodeBadStatus     = "UPSTREAM_BAD_STATUS"
	ErrCodeBadResponse   = "UPSTREAM_BAD_RESPONSE"

	maxErrorBody = 512
)

var (
	_ ports.OrderSource   = (*Client)(nil)
	_ ports.StatusUpdater = (*Client)(nil)
)

type Client struct {
	BaseURL  string
	Token    string
	Status   string
	PageSize int
	MaxPages int
	HTTP     *http.Client
}

func New(cfg config.Upstream) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(cfg.URL, "/"),
		Token:    cfg.Token,
		Status:   cfg.Status,
		PageSize: cfg.PageSize,
		MaxPages: cfg.MaxPages,
		HTTP:     &http.Client{Timeout: cfg.Timeout},
	}
}

type ordersPage struct {
	Orders  []json.RawMessage `json:"orders"`
	HasMore *bool             `json:"has_more"`
}

// Fetch lists orders in the configured status, page by page, up to MaxPages.
// Records without a usable id are skipped.
func (c *Client) Fetch(ctx context.Context) ([]domain.Order, error) {
	var out []domain.Order
	for page := 1; page <= c.MaxPages; page++ {
		raw, hasMore, err := c.fetchPage(ctx, page)
		if err != nil {
			return nil, err
		}
		for _, item := range raw {
			var o domain.Order
			if err := json.Unmarshal(item, &o); err != nil {
				log.Ctx(ctx).Warn().Err(err).Int("page", page).Msg("skipping upstream order without usable id")
				continue
			}
			out = append(out, o)
		}
		if !hasMore || len(raw) < c.PageSize {
			break
		}
	}
	return out, nil
}

func (c *Client) fetchPage(ctx context.Context, page int) ([]json.RawMessage, bool, error) {
	q := url.Values{}
	q.Set("status", c.Status)
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(c.PageSize))
	endpoint := c.BaseURL + "/orders?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	body, err := c.do(req, "fetch orders")
	if err != nil {
		return nil, false, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, false, badResponse(err, endpoint)
		}
		return list, len(list) >= c.PageSize, nil
	}

	var p ordersPage
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, false, badResponse(err, endpoint)
	}
	hasMore := len(p.Orders) >= c.PageSize
	if p.HasMore != nil {
		hasMore = *p.HasMore
	}
	return p.Orders, hasMore, nil
}

type statusUpdate struct {
	Status  string `json:"status"`
	Comment string `json:"comment,omitempty"`
}

func (c *Client) UpdateStatus(ctx context.Context, id domain.OrderID, status, comment string) error {
	payload, err := json.Marshal(statusUpdate{Status: status, Comment: comment})
	if err != nil {
		return fmt.Errorf("encode status update: %w", err)
	}
	endpoint := fmt.Sprintf("%s/orders/%s/status", c.BaseURL, url.PathEscape(id.String()))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = c.do(req, "update order status")
	return err
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, op+" request failed").
			WithTextCode(ErrCodeRequestFailed).
			WithMetadata(map[string]any{"url": req.URL.String()})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, op+": read response").
			WithTextCode(ErrCodeBadResponse)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, goerrors.New(fmt.Sprintf("%s: unexpected status %d: %s", op, resp.StatusCode, snippet), goerrors.CategoryExternal).
			WithTextCode(ErrCodeBadStatus).
			WithMetadata(map[string]any{"url": req.URL.String(), "status": resp.StatusCode})
	}
	return body, nil
}

func badResponse(err error, endpoint string) error {
	return goerrors.Wrap(err, goerrors.CategoryExternal, "decode orders response").
		WithTextCode(ErrCodeBadResponse).
		WithMetadata(map[string]any{"url": endpoint})
}

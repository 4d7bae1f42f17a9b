// Package rest is a RemoteStore backed by a PostgREST-style HTTP API.
// Every row carries an owner_id column; the client scopes all reads and
// writes to its configured owner.
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
	"unicode/utf8"

	apperrors "github.com/alexjbarnes/retro-sync/internal/errors"
	"github.com/alexjbarnes/retro-sync/internal/models"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads.
	maxAPIResponseBytes = 8 * 1024 * 1024

	// pageSize is the number of rows requested per listing page.
	pageSize = 500

	ownerField = "owner_id"
)

var tables = map[models.EntityType]string{
	models.EntityPlace:        "lieux",
	models.EntityRevenueEntry: "journees",
	models.EntityTransfer:     "virements",
}

// Client talks to the remote REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	ownerID    string
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so the API key never leaks to a
// third-party domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates an API client for baseURL. If httpClient is nil, a
// client with a 30-second timeout and same-host redirect policy is
// created.
func NewClient(baseURL, apiKey, ownerID string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		ownerID:    ownerID,
	}
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

func tableFor(entity models.EntityType) (string, error) {
	table, ok := tables[entity]
	if !ok {
		return "", fmt.Errorf("%w: no table for entity type %q", apperrors.ErrAPIRequest, entity)
	}

	return table, nil
}

// do sends one request and returns the response body of a 2xx reply.
func (c *Client) do(ctx context.Context, method, table string, query url.Values, body []byte, prefer string) ([]byte, error) {
	endpoint := c.baseURL + "/rest/v1/" + table
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %w", apperrors.ErrAPIRequest, err)
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors (timeouts, connection refused, DNS failures)
		// are transient by nature.
		return nil, &apperrors.TransientError{Err: fmt.Errorf("%w: %s %s: %w", apperrors.ErrAPIRequest, method, table, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response from %s: %w", apperrors.ErrAPIResponse, table, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}

	msg := gjson.GetBytes(respBody, "message").String()
	if msg == "" {
		msg = sanitizeResponseBody(respBody)
	}

	sentinel := apperrors.ErrAPIResponse
	if resp.StatusCode == http.StatusNotFound {
		sentinel = apperrors.ErrNotFound
	}

	err = fmt.Errorf("%w: %s %s returned status %d: %s", sentinel, method, table, resp.StatusCode, msg)
	if isTransientStatus(resp.StatusCode) {
		return nil, &apperrors.TransientError{Err: err}
	}

	return nil, err
}

func (c *Client) rowFilter(id string) url.Values {
	return url.Values{
		"id":       {"eq." + id},
		ownerField: {"eq." + c.ownerID},
	}
}

// Insert creates rec remotely, tagged with the client's owner.
func (c *Client) Insert(ctx context.Context, rec models.Record) error {
	table, err := tableFor(rec.Entity())
	if err != nil {
		return err
	}

	body, err := c.encode(rec)
	if err != nil {
		return err
	}

	if _, err := c.do(ctx, http.MethodPost, table, nil, body, "return=minimal"); err != nil {
		return fmt.Errorf("inserting %s %s: %w", rec.Entity(), rec.RecordID(), err)
	}

	return nil
}

// Update replaces every field of the row id with those of rec.
func (c *Client) Update(ctx context.Context, id string, rec models.Record) error {
	table, err := tableFor(rec.Entity())
	if err != nil {
		return err
	}

	body, err := c.encode(rec)
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPatch, table, c.rowFilter(id), body, "return=representation")
	if err != nil {
		return fmt.Errorf("updating %s %s: %w", rec.Entity(), id, err)
	}

	if !touchedRows(resp) {
		return fmt.Errorf("updating %s %s: %w", rec.Entity(), id, apperrors.ErrNotFound)
	}

	return nil
}

// Delete removes the row id of entity.
func (c *Client) Delete(ctx context.Context, entity models.EntityType, id string) error {
	table, err := tableFor(entity)
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodDelete, table, c.rowFilter(id), nil, "return=representation")
	if err != nil {
		return fmt.Errorf("deleting %s %s: %w", entity, id, err)
	}

	if !touchedRows(resp) {
		return fmt.Errorf("deleting %s %s: %w", entity, id, apperrors.ErrNotFound)
	}

	return nil
}

// ListAll returns every row of entity owned by the client, ordered by id.
// Rows are fetched page by page.
func (c *Client) ListAll(ctx context.Context, entity models.EntityType) ([]models.Record, error) {
	table, err := tableFor(entity)
	if err != nil {
		return nil, err
	}

	var out []models.Record

	for offset := 0; ; offset += pageSize {
		query := url.Values{
			ownerField: {"eq." + c.ownerID},
			"select":   {"*"},
			"order":    {"id.asc"},
			"limit":    {strconv.Itoa(pageSize)},
			"offset":   {strconv.Itoa(offset)},
		}

		resp, err := c.do(ctx, http.MethodGet, table, query, nil, "")
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", entity, err)
		}

		rows := gjson.ParseBytes(resp)
		if !rows.IsArray() {
			return nil, fmt.Errorf("%w: listing %s: expected a JSON array, got %s", apperrors.ErrAPIResponse, entity, sanitizeResponseBody(resp))
		}

		page := rows.Array()

		for _, row := range page {
			rec, err := models.DecodeRecord(entity, []byte(row.Raw))
			if err != nil {
				return nil, fmt.Errorf("%w: decoding %s %s: %w", apperrors.ErrAPIResponse, entity, row.Get("id").String(), err)
			}

			out = append(out, rec)
		}

		if len(page) < pageSize {
			return out, nil
		}
	}
}

// encode marshals rec and stamps the owner column.
func (c *Client) encode(rec models.Record) ([]byte, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshalling %s %s: %w", rec.Entity(), rec.RecordID(), err)
	}

	body, err = sjson.SetBytes(body, ownerField, c.ownerID)
	if err != nil {
		return nil, fmt.Errorf("stamping owner on %s %s: %w", rec.Entity(), rec.RecordID(), err)
	}

	return body, nil
}

// touchedRows reports whether a return=representation reply lists at
// least one row.
func touchedRows(resp []byte) bool {
	return gjson.GetBytes(resp, "#").Int() > 0
}

// Package upstream is the HTTP client for the Baltek REST API. The gateway
// owns no data of its own; rooms, message history, uploads, jobs, and
// organizations all live behind this client.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/Nirovitsky/baltek-chat-gateway/internal/models"
)

const DefaultBaseURL = "https://api.baltek.net/api"

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	Status int
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d for %s", e.Status, e.URL)
}

type Client struct {
	base  string
	token string
	http  *http.Client
}

// New builds a client for the given API base. token may be empty; it is sent
// as a bearer credential when present.
func New(base, token string) *Client {
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// RoomsPage is one page of the paginated conversation list.
type RoomsPage struct {
	Count    int                   `json:"count"`
	Next     string                `json:"next,omitempty"`
	Previous string                `json:"previous,omitempty"`
	Results  []models.Conversation `json:"results"`
}

// MessagesPage is one page of message history for a room.
type MessagesPage struct {
	Count    int              `json:"count"`
	Next     string           `json:"next,omitempty"`
	Previous string           `json:"previous,omitempty"`
	Results  []models.Message `json:"results"`
}

func (c *Client) GetChatRooms(ctx context.Context) (RoomsPage, error) {
	var page RoomsPage
	err := c.getJSON(ctx, "/chat/rooms/", nil, &page)
	return page, errors.Wrap(err, "get chat rooms")
}

func (c *Client) GetChatMessages(ctx context.Context, room int) (MessagesPage, error) {
	q := url.Values{"room": []string{strconv.Itoa(room)}}
	var page MessagesPage
	err := c.getJSON(ctx, "/chat/messages/", q, &page)
	return page, errors.Wrapf(err, "get messages for room %d", room)
}

// CreateMessage persists a message upstream. This is the boundary the relay
// calls when persistence is enabled; attachment metadata is reduced to ids.
func (c *Client) CreateMessage(ctx context.Context, room int, text string, attachments []models.Attachment) (models.Message, error) {
	ids := make([]models.FlexID, 0, len(attachments))
	for _, a := range attachments {
		ids = append(ids, a.ID)
	}
	body := struct {
		Room        int             `json:"room"`
		Text        string          `json:"text"`
		Attachments []models.FlexID `json:"attachments,omitempty"`
	}{Room: room, Text: text, Attachments: ids}

	payload, err := json.Marshal(body)
	if err != nil {
		return models.Message{}, errors.Wrap(err, "encode message")
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/chat/messages/", nil, bytes.NewReader(payload))
	if err != nil {
		return models.Message{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var msg models.Message
	if err := c.doJSON(req, &msg); err != nil {
		return models.Message{}, errors.Wrapf(err, "create message in room %d", room)
	}
	return msg, nil
}

// UploadFile posts a file as multipart form data to /files/.
func (c *Client) UploadFile(ctx context.Context, name string, r io.Reader) (models.UploadedFile, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return models.UploadedFile{}, errors.Wrap(err, "create form file")
	}
	if _, err := io.Copy(part, r); err != nil {
		return models.UploadedFile{}, errors.Wrap(err, "copy file body")
	}
	if err := writer.Close(); err != nil {
		return models.UploadedFile{}, errors.Wrap(err, "finish multipart body")
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/files/", nil, &buf)
	if err != nil {
		return models.UploadedFile{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var file models.UploadedFile
	if err := c.doJSON(req, &file); err != nil {
		return models.UploadedFile{}, errors.Wrapf(err, "upload %s", name)
	}
	if file.Name == "" {
		file.Name = name
	}
	return file, nil
}

// The proxy reads below forward the upstream body untouched; the gateway
// only reshapes the request.

func (c *Client) GetJobs(ctx context.Context, query url.Values) (json.RawMessage, error) {
	raw, err := c.getRaw(ctx, "/jobs/", query)
	return raw, errors.Wrap(err, "get jobs")
}

func (c *Client) GetOrganizations(ctx context.Context, query url.Values) (json.RawMessage, error) {
	raw, err := c.getRaw(ctx, "/organizations/", query)
	return raw, errors.Wrap(err, "get organizations")
}

func (c *Client) GetOrganization(ctx context.Context, id string) (json.RawMessage, error) {
	raw, err := c.getRaw(ctx, "/organizations/"+url.PathEscape(id)+"/", nil)
	return raw, errors.Wrapf(err, "get organization %s", id)
}

func (c *Client) GetOrganizationJobs(ctx context.Context, id, page, limit string) (json.RawMessage, error) {
	q := url.Values{"organization": []string{id}}
	if page != "" {
		q.Set("page", page)
	}
	if limit != "" {
		q.Set("limit", limit)
	}
	raw, err := c.getRaw(ctx, "/jobs/", q)
	return raw, errors.Wrapf(err, "get jobs for organization %s", id)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, out)
}

func (c *Client) getRaw(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Status: resp.StatusCode, URL: req.URL.String()}
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response body")
	}
	return raw, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Status: resp.StatusCode, URL: req.URL.String()}
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}

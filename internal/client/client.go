// Package client downloads a customer's files from the delivery API, either
// one file at a time to disk or into a single archive built locally.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/rohits-web03/clientvault/internal/apperr"
)

// File is one manifest entry. Name is the relative path to write it to.
type File struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Size int64     `json:"size"`
}

type Manifest struct {
	OwnerID    uuid.UUID `json:"ownerId"`
	Files      []File    `json:"files"`
	TotalFiles int       `json:"totalFiles"`
	TotalBytes int64     `json:"totalBytes"`
}

// Bytes sums the file sizes.
func (m *Manifest) Bytes() int64 {
	var n int64
	for _, f := range m.Files {
		n += f.Size
	}
	return n
}

// Fetcher opens one file of the manifest.
type Fetcher interface {
	OpenFile(ctx context.Context, id uuid.UUID) (io.ReadCloser, int64, error)
}

// NewHTTPClient returns an http.Client that sends token as a bearer
// credential. Redirects are not followed so the credential never reaches
// the object store; Client follows them itself.
func NewHTTPClient(ctx context.Context, token string, timeout time.Duration) *http.Client {
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	hc.Timeout = timeout
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return hc
}

// Client talks to the delivery API on behalf of one owner.
type Client struct {
	base  string
	owner uuid.UUID
	api   *http.Client
	plain *http.Client // signed URLs, no credentials
}

func New(baseURL string, owner uuid.UUID, api *http.Client) *Client {
	return &Client{
		base:  baseURL,
		owner: owner,
		api:   api,
		plain: &http.Client{},
	}
}

// envelope mirrors the API response body.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Kind    apperr.Kind `json:"kind"`
		Message string      `json:"message"`
	} `json:"error"`
}

func (c *Client) ownerURL(path string) string {
	return fmt.Sprintf("%s/api/v1/owners/%s%s", c.base, c.owner, path)
}

// Manifest fetches the list of files the owner can download.
func (c *Client) Manifest(ctx context.Context) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ownerURL("/manifest"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.api.Do(req)
	if err != nil {
		return nil, classify("client.manifest", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError("client.manifest", resp)
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "client.manifest", err)
	}
	var m Manifest
	if err := json.Unmarshal(env.Data, &m); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "client.manifest", err)
	}
	return &m, nil
}

// OpenFile streams one file. A redirect to a signed URL is followed
// without the API credential.
func (c *Client) OpenFile(ctx context.Context, id uuid.UUID) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ownerURL("/files/"+id.String()), nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.api.Do(req)
	if err != nil {
		return nil, 0, classify("client.file", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp.Body, resp.ContentLength, nil
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		resp.Body.Close()
		loc, err := resp.Location()
		if err != nil {
			return nil, 0, apperr.Wrap(apperr.KindInternal, "client.file", err)
		}
		return c.openSigned(ctx, loc)
	default:
		defer resp.Body.Close()
		return nil, 0, responseError("client.file", resp)
	}
}

func (c *Client) openSigned(ctx context.Context, u *url.URL) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.plain.Do(req)
	if err != nil {
		return nil, 0, classify("client.signed", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		kind := apperr.KindInternal
		switch resp.StatusCode {
		case http.StatusNotFound:
			kind = apperr.KindNotFound
		case http.StatusForbidden:
			// signed URLs answer 403 once they lapse
			kind = apperr.KindExpired
		}
		return nil, 0, apperr.New(kind, "client.signed", resp.Status)
	}
	return resp.Body, resp.ContentLength, nil
}

func responseError(op string, resp *http.Response) error {
	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err == nil && env.Error != nil {
		return apperr.New(env.Error.Kind, op, env.Error.Message)
	}
	kind := apperr.KindInternal
	switch resp.StatusCode {
	case http.StatusNotFound:
		kind = apperr.KindNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = apperr.KindAccessDenied
	case http.StatusGone:
		kind = apperr.KindExpired
	case http.StatusGatewayTimeout:
		kind = apperr.KindTimeout
	}
	return apperr.New(kind, op, resp.Status)
}

func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return apperr.Wrap(apperr.KindTimeout, op, err)
	}
	return apperr.Wrap(apperr.KindInternal, op, err)
}

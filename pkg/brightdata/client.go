package brightdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Default base URL for the Bright Data API.
const defaultBaseURL = "https://api.brightdata.com"

const keyPrefix = "snapshot_"

// Delivery key suffix. The vendor appends .gz to the configured extension
// when compression is requested.
const keySuffix = ".json.gz"

// ErrMissingCredentials is returned before any network call when the API key
// or dataset id is not configured.
var ErrMissingCredentials = eris.New("brightdata: missing api key or dataset id")

// Client triggers dataset scrapes that deliver into an object store.
type Client interface {
	Trigger(ctx context.Context, urls []string) (string, error)
}

// Delivery describes where the vendor writes snapshot results.
type Delivery struct {
	Type      string // "gcs" or "s3"
	Bucket    string
	Directory string
}

// Config holds the credentials and delivery target for a Client.
type Config struct {
	APIKey    string
	DatasetID string
	Delivery  Delivery
}

// APIError is returned when Bright Data responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("brightdata: HTTP %d: %s", e.StatusCode, e.Body)
}

// DeliveryKey returns the object key the vendor writes snapshot id to under
// directory.
func DeliveryKey(directory, snapshotID string) string {
	return path.Join(strings.Trim(directory, "/"), keyPrefix+snapshotID+keySuffix)
}

// DeliveryPrefix is the listing prefix shared by every delivery object under
// directory.
func DeliveryPrefix(directory string) string {
	return path.Join(strings.Trim(directory, "/"), keyPrefix)
}

// SnapshotFromKey extracts the snapshot id from a delivery object key. It
// reports false for keys that are not delivery objects.
func SnapshotFromKey(key string) (string, bool) {
	name := path.Base(key)
	if !strings.HasPrefix(name, keyPrefix) || !strings.HasSuffix(name, keySuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(name, keyPrefix), keySuffix)
	if id == "" {
		return "", false
	}
	return id, true
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	cfg     Config
	baseURL string
	http    *http.Client
}

// NewClient creates a new Bright Data client.
func NewClient(cfg Config, opts ...Option) Client {
	c := &httpClient{
		cfg:     cfg,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type triggerRequest struct {
	Deliver deliverSpec  `json:"deliver"`
	Input   []inputEntry `json:"input"`
}

type deliverSpec struct {
	Type      string       `json:"type"`
	Bucket    string       `json:"bucket"`
	Directory string       `json:"directory,omitempty"`
	Filename  filenameSpec `json:"filename"`
	Compress  bool         `json:"compress"`
}

type filenameSpec struct {
	Template  string `json:"template"`
	Extension string `json:"extension"`
}

type inputEntry struct {
	URL string `json:"url"`
}

type triggerResponse struct {
	SnapshotID string `json:"snapshot_id"`
}

// Trigger starts a scrape of urls and returns the vendor snapshot id. Per-URL
// failures are delivered as error records instead of failing the batch. No
// retries happen here.
func (c *httpClient) Trigger(ctx context.Context, urls []string) (string, error) {
	if c.cfg.APIKey == "" || c.cfg.DatasetID == "" {
		return "", ErrMissingCredentials
	}
	if len(urls) == 0 {
		return "", eris.New("brightdata: trigger with no urls")
	}

	body := triggerRequest{
		Deliver: deliverSpec{
			Type:      c.cfg.Delivery.Type,
			Bucket:    c.cfg.Delivery.Bucket,
			Directory: strings.Trim(c.cfg.Delivery.Directory, "/"),
			Filename: filenameSpec{
				Template:  keyPrefix + "{[snapshot_id]}",
				Extension: "json",
			},
			Compress: true,
		},
		Input: make([]inputEntry, len(urls)),
	}
	if body.Deliver.Type == "" {
		body.Deliver.Type = "gcs"
	}
	for i, u := range urls {
		body.Input[i] = inputEntry{URL: u}
	}

	q := url.Values{}
	q.Set("dataset_id", c.cfg.DatasetID)
	q.Set("include_errors", "true")

	var resp triggerResponse
	if err := c.post(ctx, "/datasets/v3/trigger?"+q.Encode(), body, &resp); err != nil {
		return "", eris.Wrap(err, "brightdata: trigger")
	}
	if resp.SnapshotID == "" {
		return "", eris.New("brightdata: trigger response has no snapshot_id")
	}
	return resp.SnapshotID, nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}

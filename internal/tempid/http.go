package tempid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPFetcher reads temp-ids from an identity service exposing
// GET {base}/tempid and GET {base}/tempids.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
}

type tempIDJSON struct {
	TempID     string `json:"tempID"`
	ExpiryTime int64  `json:"expiryTime"`
}

func (t tempIDJSON) value() TempID {
	return TempID{Value: t.TempID, ExpiresAt: time.Unix(t.ExpiryTime, 0).UTC()}
}

type batchJSON struct {
	TempIDs []tempIDJSON `json:"tempIDs"`
}

func (f *HTTPFetcher) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return fmt.Errorf("identity service %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound:
		return ErrNoValue
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("identity service %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("identity service %s decode: %w", path, err)
	}
	return nil
}

func (f *HTTPFetcher) FetchTempID(ctx context.Context) (TempID, error) {
	var body tempIDJSON
	if err := f.get(ctx, "/tempid", &body); err != nil {
		return TempID{}, err
	}
	if body.TempID == "" {
		return TempID{}, ErrNoValue
	}
	return body.value(), nil
}

func (f *HTTPFetcher) FetchBatchTempIDs(ctx context.Context) ([]TempID, error) {
	var body batchJSON
	if err := f.get(ctx, "/tempids", &body); err != nil {
		return nil, err
	}
	out := make([]TempID, 0, len(body.TempIDs))
	for _, t := range body.TempIDs {
		if t.TempID != "" {
			out = append(out, t.value())
		}
	}
	if len(out) == 0 {
		return nil, ErrNoValue
	}
	return out, nil
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"chatrelay/config"

	"github.com/mattn/go-runewidth"
)

// errorPreviewWidth bounds how much of an error body ends up in messages.
const errorPreviewWidth = 300

// postJSON marshals body, POSTs it to endpoint and returns the raw response
// body. Connection failures, timeouts and non-2xx statuses are errors; the
// body is not interpreted. Errors never carry endpoint's query string, which
// may hold a credential.
func postJSON(ctx context.Context, client *http.Client, endpoint string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error marshaling body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", redactURL(err, endpoint))
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", redactURL(err, endpoint))
	}
	defer func() {
		if closeErr := res.Body.Close(); closeErr != nil {
			config.Debugf("[HTTP] failed to close response body: %v", closeErr)
		}
	}()

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		preview := runewidth.Truncate(string(respBody), errorPreviewWidth, "...")
		return nil, fmt.Errorf("non-2xx status %d: %s", res.StatusCode, preview)
	}

	return respBody, nil
}

// redactURL strips the query string from the URL a *url.Error reports.
func redactURL(err error, endpoint string) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = stripQuery(endpoint)
	}
	return err
}

func stripQuery(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}

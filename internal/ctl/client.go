package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/large-farva/operator-console/internal/api"
)

var httpClient = &http.Client{Timeout: 5 * time.Second}

// newClient returns the REST client every one-shot command uses.
func newClient(baseURL string) *api.Client {
	return api.New(baseURL, api.WithHTTPClient(httpClient))
}

// requestContext bounds a one-shot command.
func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

// getJSON sends a GET request and decodes the JSON response into dst.
func getJSON(baseURL, path string, dst any) error {
	status, body, err := getRaw(baseURL, path)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("HTTP %d: %s", status, msg)
		}
		return fmt.Errorf("HTTP %d from %s", status, path)
	}
	return json.Unmarshal(body, dst)
}

// getRaw sends a GET request asking for JSON and returns the raw response body.
func getRaw(baseURL, path string) (int, []byte, error) {
	url := strings.TrimRight(baseURL, "/") + path
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// printJSON prints v as indented JSON to stdout.
func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, string(b))
	return nil
}

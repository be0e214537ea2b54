// Package httpclient provides basic http fetch functions
package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GetBytes retrieves the body at url, failing on non-200 responses
func GetBytes(url string, timeout time.Duration) ([]byte, error) {
	client := http.Client{Timeout: timeout}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}

// GetJSON retrieves the body at url and unmarshals it into v
func GetJSON(url string, timeout time.Duration, v interface{}) error {
	body, err := GetBytes(url, timeout)
	if err != nil {
		return err
	}
	if err = json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("unmarshaling response from %s: %w", url, err)
	}
	return nil
}

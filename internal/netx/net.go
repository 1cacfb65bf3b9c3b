// Package netx holds the HTTP plumbing the client uses to talk to the proxy.
package netx

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

// maxTextBody bounds text responses read into memory.
const maxTextBody = 64 << 10

// GetText fetches url and returns the body of a 200 response.
func GetText(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxTextBody))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s failed: %s; body: %s", url, resp.Status, strings.TrimSpace(string(b)))
	}
	return string(b), nil
}

// UploadMultipart posts body as the file part field/filename of a
// multipart form. The body is streamed; nothing is buffered in memory.
// The caller must close the response body.
func UploadMultipart(ctx context.Context, client *http.Client, url, field, filename string, body io.Reader) (*http.Response, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile(field, filename)
		if err == nil {
			_, err = io.Copy(part, body)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	return resp, nil
}

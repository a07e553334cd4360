package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/tyler-agent/tyler/pkg/models"
)

// maxWebBody caps how much of a response body a web tool will read.
const maxWebBody = 10 << 20

// HTTPDoer is the subset of http.Client the web module uses.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type webFetchArgs struct {
	URL string `json:"url" jsonschema:"description=URL to fetch"`
}

type webDownloadArgs struct {
	URL      string `json:"url" jsonschema:"description=URL to download"`
	Filename string `json:"filename,omitempty" jsonschema:"description=Filename for the downloaded attachment"`
}

func webModule(deps ModuleDeps) []Tool {
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return []Tool{
		{
			Definition: Definition{
				Name:        "web-fetch",
				Description: "Fetch a URL and return its textual content.",
				Parameters:  schemaFor(&webFetchArgs{}),
			},
			Run: func(ctx context.Context, args map[string]any) (*Result, error) {
				var in webFetchArgs
				if err := decodeArgs(args, &in); err != nil {
					return nil, err
				}
				body, _, err := fetchURL(ctx, client, in.URL)
				if err != nil {
					return nil, err
				}
				return &Result{Content: string(body)}, nil
			},
		},
		{
			Definition: Definition{
				Name:        "web-download",
				Description: "Download a URL and attach the bytes as a file.",
				Parameters:  schemaFor(&webDownloadArgs{}),
			},
			Run: func(ctx context.Context, args map[string]any) (*Result, error) {
				var in webDownloadArgs
				if err := decodeArgs(args, &in); err != nil {
					return nil, err
				}
				body, contentType, err := fetchURL(ctx, client, in.URL)
				if err != nil {
					return nil, err
				}
				filename := in.Filename
				if filename == "" {
					filename = path.Base(strings.TrimSuffix(in.URL, "/"))
					if filename == "" || filename == "." || filename == "/" {
						filename = "download"
					}
				}
				return &Result{
					Content: fmt.Sprintf("Downloaded %d bytes from %s", len(body), in.URL),
					Files: []*models.Attachment{{
						Filename: filename,
						MimeType: contentType,
						Content:  body,
					}},
				}, nil
			},
		},
	}
}

func fetchURL(ctx context.Context, client HTTPDoer, url string) ([]byte, string, error) {
	if url == "" {
		return nil, "", fmt.Errorf("url is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWebBody))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return body, contentType, nil
}

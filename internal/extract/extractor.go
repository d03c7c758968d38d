package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/sharesplit/internal/domain"
	"github.com/vertextoedge/sharesplit/internal/port"
)

// maxHTMLBytes bounds how much of a share page we read while looking
// for media metadata.
const maxHTMLBytes = 2 << 20

// Config contains share-link resolution settings
type Config struct {
	Timeout   time.Duration
	UserAgent string
}

// HTTPExtractor resolves a share URL to a direct media URL. It follows
// redirects, accepts responses that already carry a media content type,
// and otherwise scrapes Open Graph media tags from the HTML page.
type HTTPExtractor struct {
	cfg    *Config
	client *http.Client
	logger *zap.Logger
}

// Ensure HTTPExtractor implements port.Extractor
var _ port.Extractor = (*HTTPExtractor)(nil)

// metaTagPattern matches a <meta> element carrying one of the media
// properties we understand, in either attribute order.
var metaTagPattern = regexp.MustCompile(`(?is)<meta\s+[^>]*>`)

var metaAttrPattern = regexp.MustCompile(`(?i)(property|name|content)\s*=\s*["']([^"']*)["']`)

// mediaProperties are checked in priority order; the first one present
// on the page wins.
var mediaProperties = []string{
	"og:video:secure_url",
	"og:video:url",
	"og:video",
	"og:audio:secure_url",
	"og:audio",
	"twitter:player:stream",
}

// NewHTTPExtractor creates a new HTTPExtractor
func NewHTTPExtractor(cfg *Config, logger *zap.Logger) *HTTPExtractor {
	return &HTTPExtractor{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// Extract resolves sourceURL to a direct media URL.
func (e *HTTPExtractor) Extract(ctx context.Context, sourceURL string) (string, *domain.AppError) {
	parsed, aerr := validateSourceURL(sourceURL)
	if aerr != nil {
		return "", aerr
	}

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", domain.NewInvalidURLError(sourceURL)
	}
	req.Header.Set("User-Agent", e.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,video/*,audio/*,*/*")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", domain.Classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", domain.NewNetworkError(
			fmt.Sprintf("share link returned HTTP %d", resp.StatusCode),
			resp.StatusCode, nil)
	}

	// The landing URL after redirects, used both as a direct result and
	// as the base for relative media URLs.
	finalURL := resp.Request.URL

	contentType := resp.Header.Get("Content-Type")
	if isMediaContentType(contentType) {
		e.logger.Debug("share link resolved directly",
			zap.String("source_url", sourceURL),
			zap.String("content_type", contentType))
		return finalURL.String(), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTMLBytes))
	if err != nil {
		return "", domain.Classify(err)
	}

	mediaURL, ok := findMediaURL(string(body))
	if !ok {
		return "", domain.NewProcessingError(
			fmt.Sprintf("no media found at %s", finalURL.String()),
			domain.StageExtraction, nil)
	}

	resolved, err := finalURL.Parse(mediaURL)
	if err != nil || !isFetchableScheme(resolved.Scheme) {
		return "", domain.NewProcessingError(
			fmt.Sprintf("share page advertises unusable media URL %q", mediaURL),
			domain.StageExtraction, err)
	}

	e.logger.Debug("share link resolved from page metadata",
		zap.String("source_url", sourceURL),
		zap.String("media_url", resolved.String()))

	return resolved.String(), nil
}

// validateSourceURL rejects URLs a download could never be attempted
// for, before any network traffic.
func validateSourceURL(sourceURL string) (*url.URL, *domain.AppError) {
	trimmed := strings.TrimSpace(sourceURL)
	if trimmed == "" {
		return nil, domain.NewInvalidURLError(sourceURL)
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || !isFetchableScheme(parsed.Scheme) || parsed.Host == "" {
		return nil, domain.NewInvalidURLError(sourceURL)
	}

	return parsed, nil
}

func isFetchableScheme(scheme string) bool {
	switch strings.ToLower(scheme) {
	case "http", "https":
		return true
	}
	return false
}

func isMediaContentType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return strings.HasPrefix(ct, "video/") ||
		strings.HasPrefix(ct, "audio/") ||
		ct == "application/octet-stream"
}

// findMediaURL scans page HTML for the highest-priority media meta tag.
func findMediaURL(html string) (string, bool) {
	found := make(map[string]string)

	for _, tag := range metaTagPattern.FindAllString(html, -1) {
		var property, content string
		for _, attr := range metaAttrPattern.FindAllStringSubmatch(tag, -1) {
			switch strings.ToLower(attr[1]) {
			case "property", "name":
				property = strings.ToLower(attr[2])
			case "content":
				content = attr[2]
			}
		}
		if property != "" && content != "" {
			if _, seen := found[property]; !seen {
				found[property] = content
			}
		}
	}

	for _, prop := range mediaProperties {
		if u, ok := found[prop]; ok {
			return u, true
		}
	}
	return "", false
}

package document

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/publicsuffix"
)

const (
	// DefaultUserAgent mimics a desktop browser; several ToS pages refuse bare clients.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	DefaultTimeout   = 10 * time.Second
	DefaultMaxBytes  = 512 << 10
)

var (
	// ErrInvalidURL indicates the address is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("invalid document url")
	// ErrUnexpectedStatus indicates the server answered with a non-2xx status.
	ErrUnexpectedStatus = errors.New("unexpected response status")
	// ErrUnsupportedContent indicates the body is neither HTML nor plain text.
	ErrUnsupportedContent = errors.New("unsupported document content type")
	// ErrEmptyDocument indicates no readable text remained after cleanup.
	ErrEmptyDocument = errors.New("document has no readable text")
)

// Config controls fetch limits.
type Config struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
	Client    *http.Client
}

// Document is the readable text of a fetched page.
type Document struct {
	URL       string
	Company   string
	MIME      string
	Text      string
	Truncated bool
}

// Fetcher retrieves terms-of-service pages and reduces them to text.
type Fetcher struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
	policy    *bluemonday.Policy
}

// NewFetcher applies defaults to cfg and returns a ready Fetcher.
func NewFetcher(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	policy := bluemonday.StrictPolicy()
	policy.AddSpaceWhenStrippingTag(true)

	return &Fetcher{
		client:    client,
		maxBytes:  cfg.MaxBytes,
		userAgent: cfg.UserAgent,
		policy:    policy,
	}
}

// Fetch downloads rawURL and returns its readable text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Document, error) {
	target, err := parseURL(rawURL)
	if err != nil {
		return Document{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Document{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.1")

	resp, err := f.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("fetch %s: %w", target.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Document{}, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return Document{}, fmt.Errorf("read body: %w", err)
	}
	truncated := int64(len(body)) > f.maxBytes
	if truncated {
		body = body[:f.maxBytes]
	}

	detected := mimetype.Detect(body)
	text, err := f.readable(body, detected, resp.Header.Get("Content-Type"))
	if err != nil {
		return Document{}, err
	}

	return Document{
		URL:       target.String(),
		Company:   CompanyName(target.String()),
		MIME:      detected.String(),
		Text:      text,
		Truncated: truncated,
	}, nil
}

func (f *Fetcher) readable(body []byte, detected *mimetype.MIME, contentType string) (string, error) {
	var text string
	switch {
	case detected.Is("text/html") || (isText(detected) && strings.Contains(strings.ToLower(contentType), "html")):
		text = html.UnescapeString(f.policy.Sanitize(body2string(body)))
	case isText(detected):
		text = body2string(body)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedContent, detected.String())
	}

	text = collapseSpace(text)
	if text == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}

func isText(detected *mimetype.MIME) bool {
	for m := detected; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// body2string drops invalid sequences, including a rune split by truncation.
func body2string(body []byte) string {
	return strings.ToValidUTF8(string(body), "")
}

func collapseSpace(text string) string {
	var builder strings.Builder
	builder.Grow(len(text))
	pendingSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			pendingSpace = builder.Len() > 0
			continue
		}
		if pendingSpace {
			builder.WriteByte(' ')
			pendingSpace = false
		}
		builder.WriteRune(r)
	}
	return builder.String()
}

func parseURL(rawURL string) (*url.URL, error) {
	target, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return target, nil
}

// CompanyName derives a display name from the registrable domain of rawURL,
// e.g. "https://www.example.co.uk/terms" yields "Example".
func CompanyName(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(target.Hostname())
	if host == "" || net.ParseIP(host) != nil {
		return host
	}

	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		domain = host
	}
	label, _, _ := strings.Cut(domain, ".")
	if label == "" {
		return ""
	}
	first, size := utf8.DecodeRuneInString(label)
	return string(unicode.ToUpper(first)) + label[size:]
}

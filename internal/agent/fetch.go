// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/digo9606/Notate-sub000/chat"
	"github.com/digo9606/Notate-sub000/config"
)

// =============================================================================
// SSRF PROTECTION
// =============================================================================

// blockedCIDRs lists private and reserved address spaces model-chosen URLs
// must never reach.
var blockedCIDRs = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"100.64.0.0/10",
	"192.0.2.0/24",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"::1/128",
	"::/128",
	"fc00::/7",
	"fe80::/10",
	"ff00::/8",
}

// blockedHosts lists cloud metadata endpoints and loopback aliases.
var blockedHosts = []string{
	"metadata.google.internal",
	"169.254.169.254",
	"metadata",
	"instance-data",
	"localhost",
}

var blockedNetworks []*net.IPNet

func init() {
	blockedNetworks = make([]*net.IPNet, 0, len(blockedCIDRs))
	for _, cidr := range blockedCIDRs {
		if _, network, err := net.ParseCIDR(cidr); err == nil {
			blockedNetworks = append(blockedNetworks, network)
		}
	}
}

var (
	ErrBlockedIP        = errors.New("IP address is blocked (private/internal range)")
	ErrBlockedHost      = errors.New("hostname is blocked")
	ErrInvalidScheme    = errors.New("only http and https schemes are allowed")
	ErrInvalidURL       = errors.New("invalid URL")
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrResponseTooLarge = errors.New("response body too large")
)

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func validateURL(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, ErrInvalidURL
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, ErrInvalidScheme
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return nil, ErrInvalidURL
	}

	lower := strings.ToLower(hostname)
	for _, blocked := range blockedHosts {
		if lower == blocked || strings.HasSuffix(lower, "."+blocked) {
			return nil, ErrBlockedHost
		}
	}

	if ip := net.ParseIP(hostname); ip != nil && isBlockedIP(ip) {
		return nil, ErrBlockedIP
	}

	return parsed, nil
}

// =============================================================================
// FETCHER
// =============================================================================

// Fetcher retrieves a page and extracts its metadata and visible text.
type Fetcher struct {
	cfg    config.WebConfig
	client *http.Client
}

// NewFetcher builds a Fetcher whose HTTP client re-validates every resolved
// IP at dial time, closing the DNS rebinding hole that a parse-time check
// alone leaves open.
func NewFetcher(cfg config.WebConfig) *Fetcher {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
			if err != nil {
				return nil, err
			}
			for _, ip := range ips {
				if isBlockedIP(ip) {
					return nil, ErrBlockedIP
				}
			}
			if len(ips) == 0 {
				return nil, errors.New("no IP addresses resolved")
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
		},
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}

	maxRedirects := cfg.MaxRedirects
	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.FetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return ErrTooManyRedirects
			}
			_, err := validateURL(req.URL.String())
			return err
		},
	}

	return &Fetcher{cfg: cfg, client: client}
}

// Fetch downloads the page at rawURL and extracts metadata plus up to the
// configured number of characters of visible text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*chat.WebResult, error) {
	target, err := validateURL(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.7")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", target.Hostname(), resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, f.cfg.MaxResponseSize+1)
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	return f.extract(doc, resp.Request.URL.String()), nil
}

// =============================================================================
// EXTRACTION
// =============================================================================

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && v != "" {
			return v
		}
	}
	return ""
}

func (f *Fetcher) extract(doc *goquery.Document, finalURL string) *chat.WebResult {
	doc.Find("script, style, noscript, iframe, svg").Remove()

	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if len(text) > f.cfg.MaxTextChars {
		text = text[:f.cfg.MaxTextChars]
	}

	return &chat.WebResult{
		Metadata: chat.WebMetadata{
			Title:       strings.TrimSpace(doc.Find("title").First().Text()),
			Source:      finalURL,
			Description: metaContent(doc, `meta[name="description"]`, `meta[property="og:description"]`),
			Author:      metaContent(doc, `meta[name="author"]`),
			Keywords:    metaContent(doc, `meta[name="keywords"]`),
			OGImage:     metaContent(doc, `meta[property="og:image"]`),
		},
		TextContent: text,
	}
}

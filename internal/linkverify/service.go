package linkverify

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"

	"git.home.luguber.info/inful/docpages/internal/config"
	"git.home.luguber.info/inful/docpages/internal/logfields"
)

// Service verifies links inside a rendered HTML tree. Internal links are
// resolved against the tree itself; external links are optionally checked over
// HTTP with a NATS-backed result cache.
type Service struct {
	cfg        config.LinksConfig
	httpClient *http.Client
	nats       *NATSClient // nil when NATS is disabled
}

// NewService builds a verification service. nats may be nil.
func NewService(cfg config.LinksConfig, nats *NATSClient) *Service {
	timeout := config.ParseDurationDefault(cfg.Timeout, 10*time.Second)
	return &Service{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		nats:       nats,
	}
}

// Close releases the NATS connection, if any.
func (s *Service) Close() error {
	if s.nats != nil {
		return s.nats.Close()
	}
	return nil
}

// VerifyTree walks every HTML page under root and returns the number of
// broken links found.
func (s *Service) VerifyTree(ctx context.Context, root string) (int, error) {
	var pages []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".html") {
			pages = append(pages, p)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk output tree: %w", err)
	}

	anchors := newAnchorIndex()
	broken := 0
	for _, page := range pages {
		select {
		case <-ctx.Done():
			return broken, ctx.Err()
		default:
		}
		n, err := s.verifyPage(ctx, root, page, anchors)
		if err != nil {
			return broken, err
		}
		broken += n
	}

	if broken > 0 {
		slog.Warn("Link verification found broken links", slog.Int("broken", broken))
	}
	return broken, nil
}

// verifyPage checks all links on one page.
func (s *Service) verifyPage(ctx context.Context, root, page string, anchors *anchorIndex) (int, error) {
	links, err := ExtractLinks(page, "")
	if err != nil {
		return 0, err
	}

	rel, err := filepath.Rel(root, page)
	if err != nil {
		return 0, err
	}
	rel = filepath.ToSlash(rel)

	broken := 0
	for _, link := range links {
		if !ShouldVerifyLink(link) || s.skipped(link.URL) {
			continue
		}
		if link.IsInternal {
			if ev := s.checkInternalLink(root, rel, link, anchors); ev != nil {
				s.reportBroken(ev)
				broken++
			}
			continue
		}
		if !s.cfg.ExternalEnabled {
			continue
		}
		if ev := s.checkExternalLink(ctx, rel, link); ev != nil {
			s.reportBroken(ev)
			broken++
		}
	}
	return broken, nil
}

func (s *Service) skipped(linkURL string) bool {
	for _, prefix := range s.cfg.SkipPrefixes {
		if prefix != "" && strings.HasPrefix(linkURL, prefix) {
			return true
		}
	}
	return false
}

// checkInternalLink resolves a link against the output tree. Returns a broken
// link event or nil.
func (s *Service) checkInternalLink(root, page string, link *Link, anchors *anchorIndex) *BrokenLinkEvent {
	u, err := url.Parse(link.URL)
	if err != nil {
		return &BrokenLinkEvent{URL: link.URL, Error: "unparseable url", IsInternal: true, Page: page}
	}

	target := u.Path
	if target == "" {
		target = page // fragment-only link, same page
	} else if strings.HasPrefix(target, "/") {
		target = strings.TrimPrefix(path.Clean(target), "/")
	} else {
		target = path.Join(path.Dir(page), target)
	}
	if strings.HasPrefix(target, "..") {
		return &BrokenLinkEvent{URL: link.URL, Error: "link escapes output tree", IsInternal: true, Page: page}
	}

	full := filepath.Join(root, filepath.FromSlash(target))
	info, err := os.Stat(full)
	if err == nil && info.IsDir() {
		target = path.Join(target, "index.html")
		full = filepath.Join(full, "index.html")
		info, err = os.Stat(full)
	}
	if err != nil || info.IsDir() {
		return &BrokenLinkEvent{URL: link.URL, Error: "target not found", IsInternal: true, Page: page}
	}

	if u.Fragment != "" && strings.EqualFold(path.Ext(target), ".html") {
		ok, aerr := anchors.has(full, u.Fragment)
		if aerr != nil {
			return &BrokenLinkEvent{URL: link.URL, Error: aerr.Error(), IsInternal: true, Page: page}
		}
		if !ok {
			return &BrokenLinkEvent{URL: link.URL, Error: "missing anchor", IsInternal: true, Page: page, Anchor: u.Fragment}
		}
	}
	return nil
}

// checkExternalLink verifies an external link over HTTP, consulting the cache
// first.
func (s *Service) checkExternalLink(ctx context.Context, page string, link *Link) *BrokenLinkEvent {
	if s.nats != nil {
		if cached, err := s.nats.GetCachedResult(link.URL); err == nil && s.nats.IsCacheValid(cached) {
			if cached.IsValid {
				return nil
			}
			return &BrokenLinkEvent{
				URL: link.URL, Status: cached.Status, Error: cached.Error,
				Page: page, LastChecked: cached.LastChecked,
				FailureCount: cached.FailureCount, FirstFailedAt: cached.FirstFailedAt,
			}
		}
	}

	status, err := s.headCheck(ctx, link.URL)
	entry := &CacheEntry{URL: link.URL, Status: status, IsValid: err == nil}
	if err != nil {
		entry.Error = err.Error()
		entry.FailureCount = 1
		entry.FirstFailedAt = time.Now()
	}
	if s.nats != nil {
		if cerr := s.nats.SetCachedResult(entry); cerr != nil {
			slog.Debug("Failed to cache link result", logfields.URL(link.URL), logfields.Error(cerr))
		}
	}

	if err != nil {
		return &BrokenLinkEvent{URL: link.URL, Status: status, Error: err.Error(), Page: page}
	}
	return nil
}

// headCheck performs a HEAD request, falling back to GET when HEAD is
// rejected.
func (s *Service) headCheck(ctx context.Context, linkURL string) (int, error) {
	status, err := s.request(ctx, http.MethodHead, linkURL)
	if err == nil && status == http.StatusMethodNotAllowed {
		return s.request(ctx, http.MethodGet, linkURL)
	}
	return status, err
}

func (s *Service) request(ctx context.Context, method, linkURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, linkURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "docpages-linkverifier/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	// Auth-gated URLs exist; credentials are just missing.
	if isAuthStatus(resp.StatusCode) {
		return resp.StatusCode, nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusMethodNotAllowed {
		return resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	return resp.StatusCode, nil
}

func isAuthStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

func (s *Service) reportBroken(ev *BrokenLinkEvent) {
	slog.Warn("Broken link",
		logfields.URL(ev.URL), logfields.Path(ev.Page), logfields.Error(fmt.Errorf("%s", ev.Error)))
	if s.nats != nil {
		if err := s.nats.PublishBrokenLink(ev); err != nil {
			slog.Debug("Failed to publish broken link event", logfields.Error(err))
		}
	}
}

// anchorIndex lazily collects element ids per page. Fragments are compared in
// NFC form so visually identical unicode anchors match.
type anchorIndex struct {
	pages map[string]map[string]struct{}
}

func newAnchorIndex() *anchorIndex {
	return &anchorIndex{pages: make(map[string]map[string]struct{})}
}

func (a *anchorIndex) has(page, fragment string) (bool, error) {
	ids, ok := a.pages[page]
	if !ok {
		var err error
		ids, err = collectAnchors(page)
		if err != nil {
			return false, err
		}
		a.pages[page] = ids
	}
	_, found := ids[norm.NFC.String(fragment)]
	return found, nil
}

// collectAnchors parses a page and gathers all id attributes and named
// anchors.
func collectAnchors(page string) (map[string]struct{}, error) {
	file, err := os.Open(filepath.Clean(page))
	if err != nil {
		return nil, fmt.Errorf("open anchor target: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	doc, err := html.Parse(file)
	if err != nil {
		return nil, fmt.Errorf("parse anchor target: %w", err)
	}

	ids := make(map[string]struct{})
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if id := getAttr(n, "id"); id != "" {
				ids[norm.NFC.String(id)] = struct{}{}
			}
			if n.Data == "a" {
				if name := getAttr(n, "name"); name != "" {
					ids[norm.NFC.String(name)] = struct{}{}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return ids, nil
}

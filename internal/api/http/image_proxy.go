package apihttp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

const maxImageBytes = 16 << 20

var errBlockedHost = errors.New("blocked url host")

// Hostnames of the compose stack the proxy must never reach.
var internalHosts = map[string]bool{
	"localhost":      true,
	"redis":          true,
	"mongo":          true,
	"catalog":        true,
	"otel-collector": true,
}

// Headers copied from the upstream image response.
var relayedImageHeaders = []string{"Content-Type", "Content-Length", "ETag", "Last-Modified"}

// handleImageProxy relays chapter pages and covers from hosts that demand a
// Referer the browser cannot send. ?referer= overrides the default origin.
func (s *Server) handleImageProxy(w http.ResponseWriter, r *http.Request) {
	target, err := parseImageURL(r.URL.Query().Get("url"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid url")
		return
	}
	req.Header.Set("User-Agent", "animestream-catalog/1.0")
	req.Header.Set("Accept", "image/avif,image/webp,image/*;q=0.9,*/*;q=0.5")
	req.Header.Set("Referer", proxyReferer(r.URL.Query().Get("referer"), target))
	for _, name := range []string{"If-None-Match", "If-Modified-Since"} {
		if v := r.Header.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}

	resp, err := s.images.Do(req)
	if err != nil {
		if errors.Is(err, errBlockedHost) {
			writeError(w, http.StatusBadRequest, "invalid_request", errBlockedHost.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "upstream_error", "failed to fetch image")
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		copyImageHeaders(w.Header(), resp.Header)
		w.WriteHeader(http.StatusNotModified)
		return
	case resp.StatusCode != http.StatusOK:
		writeError(w, http.StatusBadGateway, "upstream_error", fmt.Sprintf("upstream returned HTTP %d", resp.StatusCode))
		return
	case resp.ContentLength > maxImageBytes:
		writeError(w, http.StatusBadGateway, "upstream_error", "image too large")
		return
	}

	body := io.LimitReader(resp.Body, maxImageBytes)
	sniff := make([]byte, 512)
	n, err := io.ReadFull(body, sniff)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadGateway, "upstream_error", "failed to read image")
		return
	}
	sniff = sniff[:n]
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "image/") {
		resp.Header.Set("Content-Type", http.DetectContentType(sniff))
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "image/") {
		writeError(w, http.StatusBadGateway, "upstream_error", "not an image")
		return
	}

	copyImageHeaders(w.Header(), resp.Header)
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(sniff)
	_, _ = io.Copy(w, body)
}

func copyImageHeaders(dst, src http.Header) {
	for _, name := range relayedImageHeaders {
		if v := src.Get(name); v != "" {
			dst.Set(name, v)
		}
	}
}

func parseImageURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("missing url")
	}
	target, err := url.Parse(raw)
	if err != nil {
		return nil, errors.New("invalid url")
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, errors.New("unsupported url scheme")
	}
	if err := checkImageHost(target.Hostname()); err != nil {
		return nil, err
	}
	return target, nil
}

// checkImageHost rejects names and literal addresses that point inside the
// deployment. Names that resolve privately are caught at dial time.
func checkImageHost(host string) error {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return errors.New("invalid url host")
	}
	if internalHosts[host] || strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".internal") {
		return errBlockedHost
	}
	if addr, err := netip.ParseAddr(host); err == nil && !isPublicAddr(addr) {
		return errBlockedHost
	}
	return nil
}

func isPublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsValid() && addr.IsGlobalUnicast() && !addr.IsPrivate()
}

// newImageClient dials only public addresses, which also covers redirects
// and DNS names that resolve inside the network.
func newImageClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   8 * time.Second,
		KeepAlive: 30 * time.Second,
		Control: func(_, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			addr, err := netip.ParseAddr(host)
			if err != nil || !isPublicAddr(addr) {
				return errBlockedHost
			}
			return nil
		},
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{
		Timeout:   15 * time.Second,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects")
			}
			return checkImageHost(req.URL.Hostname())
		},
	}
}

// proxyReferer accepts an absolute http(s) referer and falls back to the
// target's origin.
func proxyReferer(raw string, target *url.URL) string {
	if parsed, err := url.Parse(strings.TrimSpace(raw)); err == nil && parsed.Host != "" &&
		(parsed.Scheme == "http" || parsed.Scheme == "https") {
		return parsed.String()
	}
	return target.Scheme + "://" + target.Host + "/"
}

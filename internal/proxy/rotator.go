package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// Rotator owns the proxy list and the cursor into it. It is also an
// http.RoundTripper that sends each request through the current proxy.
type Rotator struct {
	path string

	loadOnce sync.Once
	loadErr  error

	mu         sync.Mutex
	proxies    []string
	idx        int
	transports map[string]*http.Transport
	direct     *http.Transport
}

// NewRotator reads proxies from path on first use. A missing file means direct connections.
func NewRotator(path string) *Rotator {
	return &Rotator{
		path:       path,
		transports: make(map[string]*http.Transport),
		direct:     newTransport(),
	}
}

// NewStaticRotator uses a fixed list instead of a file.
func NewStaticRotator(proxies []string) *Rotator {
	r := NewRotator("")
	r.loadOnce.Do(func() {
		r.proxies = normalizeAll(proxies)
	})
	return r
}

func (r *Rotator) load() {
	r.loadOnce.Do(func() {
		if r.path == "" {
			return
		}
		f, err := os.Open(r.path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				r.loadErr = err
				log.Printf("⚠️ Failed to read proxies from %s: %v", r.path, err)
			}
			return
		}
		defer f.Close()

		var lines []string
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		r.proxies = normalizeAll(lines)
		log.Printf("📦 Loaded %d proxies from %s", len(r.proxies), r.path)
	})
}

// Err reports a non-ENOENT error from loading the proxy file.
func (r *Rotator) Err() error {
	r.load()
	return r.loadErr
}

func (r *Rotator) Len() int {
	r.load()
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.proxies)
}

// Current returns the active proxy URL, or "" when running direct.
func (r *Rotator) Current() string {
	r.load()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.proxies) == 0 {
		return ""
	}
	return r.proxies[r.idx]
}

// Advance moves to the next proxy, wrapping at the end, and returns it.
func (r *Rotator) Advance() string {
	r.load()
	r.mu.Lock()
	if len(r.proxies) == 0 {
		r.mu.Unlock()
		return ""
	}
	r.idx = (r.idx + 1) % len(r.proxies)
	next := r.proxies[r.idx]
	r.mu.Unlock()

	log.Printf("🔄 Switched to proxy %s", Hostname(next))
	return next
}

func (r *Rotator) RoundTrip(req *http.Request) (*http.Response, error) {
	t, err := r.transportFor(r.Current())
	if err != nil {
		return nil, err
	}
	return t.RoundTrip(req)
}

func (r *Rotator) transportFor(raw string) (*http.Transport, error) {
	if raw == "" {
		return r.direct, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.transports[raw]; ok {
		return t, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %q: %w", Hostname(raw), err)
	}

	t := newTransport()
	switch u.Scheme {
	case "http", "https":
		t.Proxy = http.ProxyURL(u)
	case "socks5", "socks5h":
		dialer, err := xproxy.FromURL(u, xproxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks proxy %s: %w", u.Host, err)
		}
		if cd, ok := dialer.(xproxy.ContextDialer); ok {
			t.DialContext = cd.DialContext
		} else {
			t.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	r.transports[raw] = t
	return t, nil
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

func normalizeAll(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.Contains(line, "://") {
			line = "http://" + line
		}
		out = append(out, line)
	}
	return out
}

// Hostname strips credentials so proxy URLs can be logged.
func Hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Hostname()
}

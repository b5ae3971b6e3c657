package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Invoker performs one retrieval. It never returns an error: every failure is
// folded into the returned status string.
type Invoker interface {
	Fetch(ctx context.Context, req Request) string
}

// InvokerFunc adapts a function into an Invoker.
type InvokerFunc func(ctx context.Context, req Request) string

func (f InvokerFunc) Fetch(ctx context.Context, req Request) string {
	return f(ctx, req)
}

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// HTTPInvoker streams a GET response body into the target path.
type HTTPInvoker struct {
	Client    *http.Client
	UserAgent string
}

func NewHTTPInvoker(timeout time.Duration) *HTTPInvoker {
	return &HTTPInvoker{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: DefaultUserAgent,
	}
}

func (h *HTTPInvoker) Fetch(ctx context.Context, req Request) string {
	path := req.TargetPath()
	if err := h.download(ctx, req.URL, req.ResolvedDir(), path); err != nil {
		log.Warn().Str("kind", string(req.Spec.Kind)).Str("url", req.URL).Err(err).Msg("fetch failed")
		return fmt.Sprintf("Error downloading %s: %v", req.Spec.Label, err)
	}
	return fmt.Sprintf("%s downloaded successfully as %s", req.Spec.Label, path)
}

func (h *HTTPInvoker) download(ctx context.Context, url, dir, path string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSpace(url), nil)
	if err != nil {
		return err
	}
	ua := h.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	httpReq.Header.Set("User-Agent", ua)

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%d %s for url: %s", resp.StatusCode, http.StatusText(resp.StatusCode), url)
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Router dispatches requests to a per-kind invoker with a fallback.
type Router struct {
	byKind   map[Kind]Invoker
	fallback Invoker
}

func NewRouter(fallback Invoker) *Router {
	return &Router{byKind: make(map[Kind]Invoker), fallback: fallback}
}

// Handle registers inv for kind, replacing any previous registration.
func (r *Router) Handle(kind Kind, inv Invoker) *Router {
	r.byKind[kind] = inv
	return r
}

func (r *Router) Fetch(ctx context.Context, req Request) string {
	if inv, ok := r.byKind[req.Spec.Kind]; ok && inv != nil {
		return inv.Fetch(ctx, req)
	}
	if r.fallback == nil {
		return fmt.Sprintf("Error downloading %s: no downloader configured", req.Spec.Label)
	}
	return r.fallback.Fetch(ctx, req)
}

// Succeeded reports whether an invoker status describes a completed download.
func Succeeded(status string) bool {
	return !strings.HasPrefix(status, "Error")
}

package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/twoframe/internal/domain"
	"github.com/dunamismax/twoframe/internal/pipeline"
	"go.uber.org/zap/zaptest"
)

func TestConvertEndToEnd(t *testing.T) {
	origin := newOrigin(t, 200, 200)
	srv := newTestServer(t, ResponseOptions{CacheControl: "max-age=31536000", AcceptRanges: true})

	for _, target := range []string{origin.URL + "/avatar.png", origin.URL + "/avatar.png.gif"} {
		resp, body := get(t, srv, "/?url="+url.QueryEscape(target), nil)

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", target, resp.StatusCode, body)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "image/gif" {
			t.Fatalf("expected image/gif, got %q", ct)
		}
		if cc := resp.Header.Get("Cache-Control"); cc != "max-age=31536000" {
			t.Fatalf("expected cache control header, got %q", cc)
		}
		if ar := resp.Header.Get("Accept-Ranges"); ar != "bytes" {
			t.Fatalf("expected accept ranges header, got %q", ar)
		}

		doc, err := gif.DecodeAll(bytes.NewReader(body))
		if err != nil {
			t.Fatalf("decode response gif: %v", err)
		}
		if len(doc.Image) != 2 {
			t.Fatalf("expected 2 frames, got %d", len(doc.Image))
		}
		for i, frame := range doc.Image {
			if frame.Bounds().Dx() != 200 || frame.Bounds().Dy() != 200 {
				t.Fatalf("frame %d: expected 200x200, got %v", i, frame.Bounds())
			}
		}
	}

	if got := origin.paths(); len(got) != 2 || got[0] != "/avatar.png" || got[1] != "/avatar.png" {
		t.Fatalf("expected origin to see /avatar.png twice, got %v", got)
	}
}

func TestConvertOptionalHeadersDisabled(t *testing.T) {
	origin := newOrigin(t, 8, 8)
	srv := newTestServer(t, ResponseOptions{})

	resp, body := get(t, srv, "/?url="+url.QueryEscape(origin.URL+"/a.png"), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Cache-Control") != "" || resp.Header.Get("Accept-Ranges") != "" {
		t.Fatalf("expected no optional headers, got %v", resp.Header)
	}
	if resp.Header.Get("Content-Length") != fmt.Sprint(len(body)) {
		t.Fatalf("expected content length %d, got %s", len(body), resp.Header.Get("Content-Length"))
	}
}

func TestConvertHonorsRangeRequests(t *testing.T) {
	origin := newOrigin(t, 8, 8)
	srv := newTestServer(t, ResponseOptions{AcceptRanges: true})
	path := "/?url=" + url.QueryEscape(origin.URL+"/a.png")

	_, full := get(t, srv, path, nil)
	resp, part := get(t, srv, path, http.Header{"Range": []string{"bytes=0-5"}})

	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", resp.StatusCode)
	}
	if !bytes.Equal(part, full[:6]) || string(part) != "GIF89a" {
		t.Fatalf("expected gif signature range, got %q", part)
	}
}

func TestConvertFailures(t *testing.T) {
	textOrigin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain text, definitely not pixels"))
	}))
	defer textOrigin.Close()

	bigOrigin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 4096))
	}))
	defer bigOrigin.Close()

	srv := newTestServerWithCap(t, 1024, ResponseOptions{})

	cases := []struct {
		name     string
		path     string
		contains string
	}{
		{name: "missing url", path: "/", contains: "missing query parameter"},
		{name: "empty url", path: "/?url=", contains: "missing query parameter"},
		{name: "not an image", path: "/?url=" + url.QueryEscape(textOrigin.URL), contains: "unsupported image format"},
		{name: "oversized", path: "/?url=" + url.QueryEscape(bigOrigin.URL), contains: "exceeds size limit"},
		{name: "unreachable", path: "/?url=" + url.QueryEscape("http://127.0.0.1:1/a.png"), contains: "upstream fetch failed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := get(t, srv, tc.path, nil)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", resp.StatusCode, body)
			}
			if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
				t.Fatalf("expected text/plain error, got %q", resp.Header.Get("Content-Type"))
			}
			if !strings.Contains(string(body), tc.contains) {
				t.Fatalf("expected body to contain %q, got %q", tc.contains, body)
			}
		})
	}
}

func TestConvertMissingURLDoesNotCallConverter(t *testing.T) {
	conv := &stubConverter{}
	srv := httptest.NewServer(NewServer(zaptest.NewLogger(t), conv, ResponseOptions{}).Handler())
	defer srv.Close()

	resp, _ := get(t, srv, "/", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if conv.calls != 0 {
		t.Fatalf("expected converter not to be called, got %d calls", conv.calls)
	}
}

func TestEncodeFailureIsInternalError(t *testing.T) {
	conv := &stubConverter{err: fmt.Errorf("assemble stage: %w", errors.Join(pipeline.ErrEncode, errors.New("boom")))}
	srv := httptest.NewServer(NewServer(zaptest.NewLogger(t), conv, ResponseOptions{}).Handler())
	defer srv.Close()

	resp, _ := get(t, srv, "/?url=x", nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}

func TestPanicDoesNotStopServer(t *testing.T) {
	conv := &stubConverter{panicOnce: true, result: pipeline.Result{GIF: []byte("GIF89a")}}
	srv := httptest.NewServer(NewServer(zaptest.NewLogger(t), conv, ResponseOptions{}).Handler())
	defer srv.Close()

	resp, _ := get(t, srv, "/?url=x", nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", resp.StatusCode)
	}

	resp, body := get(t, srv, "/?url=x", nil)
	if resp.StatusCode != http.StatusOK || string(body) != "GIF89a" {
		t.Fatalf("expected server to keep serving, got %d %q", resp.StatusCode, body)
	}
}

func TestRequestIDHeader(t *testing.T) {
	conv := &stubConverter{result: pipeline.Result{GIF: []byte("GIF89a")}}
	srv := httptest.NewServer(NewServer(zaptest.NewLogger(t), conv, ResponseOptions{}).Handler())
	defer srv.Close()

	resp, _ := get(t, srv, "/?url=x", http.Header{"X-Request-Id": []string{"edge-7"}})
	if got := resp.Header.Get("X-Request-ID"); got != "edge-7" {
		t.Fatalf("expected inbound request id echoed, got %q", got)
	}

	resp, _ = get(t, srv, "/", nil)
	if got := resp.Header.Get("X-Request-ID"); len(got) != 32 {
		t.Fatalf("expected minted request id on error response, got %q", got)
	}
}

func TestRoutes(t *testing.T) {
	srv := httptest.NewServer(NewServer(zaptest.NewLogger(t), &stubConverter{}, ResponseOptions{}).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/?url=x", "text/plain", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}

	resp, _ = get(t, srv, "/other?url=x", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestAdminHandler(t *testing.T) {
	s := NewServer(zaptest.NewLogger(t), &stubConverter{result: pipeline.Result{GIF: []byte("GIF89a"), Width: 2, Height: 3}}, ResponseOptions{})
	public := httptest.NewServer(s.Handler())
	defer public.Close()
	admin := httptest.NewServer(s.AdminHandler())
	defer admin.Close()

	get(t, public, "/?url=x", nil)

	resp, body := get(t, admin, "/healthz", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"ok"`) {
		t.Fatalf("unexpected healthz response %d %s", resp.StatusCode, body)
	}

	resp, body = get(t, admin, "/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from metrics, got %d", resp.StatusCode)
	}
	for _, want := range []string{
		`twoframe_conversions_total{outcome="converted"} 1`,
		`twoframe_pixels_converted_total 6`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected metrics to contain %q", want)
		}
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		domain.ErrMissingParameter:    http.StatusBadRequest,
		pipeline.ErrUpstreamFetch:     http.StatusBadRequest,
		pipeline.ErrUnsupportedFormat: http.StatusBadRequest,
		pipeline.ErrDecode:            http.StatusBadRequest,
		pipeline.ErrEncode:            http.StatusInternalServerError,
		errors.New("mystery"):         http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Fatalf("statusFor(%v): expected %d, got %d", err, want, got)
		}
	}
}

type stubConverter struct {
	result    pipeline.Result
	err       error
	panicOnce bool
	calls     int
}

func (c *stubConverter) Convert(_ context.Context, req domain.ConvertRequest) (pipeline.Result, error) {
	c.calls++
	if c.panicOnce {
		c.panicOnce = false
		panic("decoder blew up")
	}
	return c.result, c.err
}

type fakeOrigin struct {
	*httptest.Server
	seen chan string
}

func (o *fakeOrigin) paths() []string {
	var out []string
	for {
		select {
		case p := <-o.seen:
			out = append(out, p)
		default:
			return out
		}
	}
}

func newOrigin(t *testing.T, w, h int) *fakeOrigin {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x % 8 * 30), G: uint8(y % 4 * 60), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode origin png: %v", err)
	}

	o := &fakeOrigin{seen: make(chan string, 16)}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.seen <- r.URL.Path
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	}))
	t.Cleanup(o.Close)
	return o
}

func newTestServer(t *testing.T, opts ResponseOptions) *httptest.Server {
	return newTestServerWithCap(t, pipeline.DefaultMaxBytes, opts)
}

func newTestServerWithCap(t *testing.T, maxBytes int64, opts ResponseOptions) *httptest.Server {
	t.Helper()

	processor, err := pipeline.NewProcessor(pipeline.NewHTTPFetcher(5*time.Second, maxBytes, ""), pipeline.DecodeLimits{}, 0)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	srv := httptest.NewServer(NewServer(zaptest.NewLogger(t), processor, opts).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path string, header http.Header) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

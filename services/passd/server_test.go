package passd

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"wazoopass/passes/avatar"
	"wazoopass/passes/compose"
	"wazoopass/passes/flow"
	"wazoopass/passes/store"
)

const testSecret = "passd-test-secret"

type harness struct {
	api   *httptest.Server
	cdn   string
	store *store.Memory
}

func newHarness(t *testing.T, auth AuthConfig, limit RateLimit) *harness {
	t.Helper()
	avatarPNG := encodeSolid(t, 48, 48, color.RGBA{R: 120, G: 40, B: 200, A: 255})
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(avatarPNG)
	}))
	t.Cleanup(cdn.Close)

	tmpl := image.NewRGBA(image.Rect(0, 0, 900, 800))
	draw.Draw(tmpl, tmpl.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	compositor, err := compose.New(tmpl, compose.DefaultLayout())
	require.NoError(t, err)

	mem := store.NewMemory()
	machine, err := flow.New(flow.Config{
		Store:     mem,
		Avatars:   avatar.New(avatar.Config{Timeout: time.Second}, avatar.WithHTTPClient(cdn.Client())),
		Renderer:  compositor,
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err)

	server, err := NewServer(machine, ServerConfig{
		PublicBaseURL: "https://passes.example.com/",
		Auth:          NewAuthenticator(auth, nil),
		RateLimiter:   NewRateLimiter(limit),
	})
	require.NoError(t, err)
	api := httptest.NewServer(server)
	t.Cleanup(api.Close)
	return &harness{api: api, cdn: cdn.URL, store: mem}
}

func encodeSolid(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func (h *harness) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, h.api.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.api.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func signToken(t *testing.T, scope string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "wazoo-bot",
		"iss":   "wazoo-bot",
		"scope": scope,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func errorMessage(t *testing.T, raw []byte) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(raw, &body))
	return body["error"]
}

func TestPassFlowOverHTTP(t *testing.T) {
	h := newHarness(t, AuthConfig{}, RateLimit{})
	profile := map[string]any{"identity": "42", "displayName": "fugz", "labels": []string{"OG Gang"}, "avatarUrl": h.cdn + "/avatars/42.png"}

	resp, raw := h.do(t, http.MethodPost, "/v1/passes/42/link", "", map[string]string{"link": "https://x.com/p/1"})
	require.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	require.Equal(t, "Please generate your pass first.", errorMessage(t, raw))

	resp, raw = h.do(t, http.MethodPost, "/v1/passes", "", profile)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	require.NotEmpty(t, resp.Header.Get(headerRequestID))
	var generated generateResponse
	require.NoError(t, json.Unmarshal(raw, &generated))
	require.Equal(t, uint64(1), generated.PassID)
	require.Equal(t, "OG", generated.Role)
	require.Equal(t, "https://passes.example.com/v1/images/1", generated.ImageURL)

	resp, raw = h.do(t, http.MethodPost, "/v1/passes", "", profile)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &generated))
	require.True(t, generated.Resumed)
	require.Equal(t, uint64(1), generated.PassID)

	resp, raw = h.do(t, http.MethodPost, "/v1/passes/42/wallet", "", map[string]string{"wallet": "0xAAA"})
	require.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	require.Equal(t, "Please submit your post link first.", errorMessage(t, raw))

	resp, _ = h.do(t, http.MethodPost, "/v1/passes/42/link", "", map[string]string{"link": "https://x.com/p/1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw = h.do(t, http.MethodPost, "/v1/passes/42/wallet", "", map[string]string{"wallet": "abc"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, "Invalid wallet address. It must start with 0x.", errorMessage(t, raw))

	resp, raw = h.do(t, http.MethodPost, "/v1/passes/42/wallet", "", map[string]string{"wallet": "0xAAA"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var done messageResponse
	require.NoError(t, json.Unmarshal(raw, &done))
	require.NotNil(t, done.Submission)
	require.Equal(t, "0xAAA", done.Submission.Wallet)

	resp, raw = h.do(t, http.MethodPost, "/v1/passes", "", profile)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "You already generated your pass.", errorMessage(t, raw))

	resp, raw = h.do(t, http.MethodGet, "/admin/submissions?format=csv", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	records, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	require.NoError(t, err)
	require.Equal(t, []string{"42", "fugz", "OG", "1", "https://x.com/p/1", "0xAAA"}, records[1])
}

func TestImageEndpoint(t *testing.T) {
	h := newHarness(t, AuthConfig{}, RateLimit{})
	profile := map[string]any{"identity": "7", "displayName": "wazoo", "avatarUrl": h.cdn + "/a.png"}
	resp, _ := h.do(t, http.MethodPost, "/v1/passes", "", profile)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, raw := h.do(t, http.MethodGet, "/v1/images/1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)

	req, err := http.NewRequest(http.MethodGet, h.api.URL+"/v1/images/1", nil)
	require.NoError(t, err)
	req.Header.Set("If-None-Match", etag)
	cached, err := h.api.Client().Do(req)
	require.NoError(t, err)
	cached.Body.Close()
	require.Equal(t, http.StatusNotModified, cached.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/v1/images/99", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = h.do(t, http.MethodGet, "/v1/images/abc", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAvatarFailureIsBadGateway(t *testing.T) {
	h := newHarness(t, AuthConfig{}, RateLimit{})
	resp, raw := h.do(t, http.MethodPost, "/v1/passes", "", map[string]any{"identity": "5", "avatarUrl": "http://127.0.0.1:1/a.png"})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Equal(t, "We could not fetch your avatar. Please try again.", errorMessage(t, raw))
	last, err := h.store.Counter(context.Background())
	require.NoError(t, err)
	require.Zero(t, last)
}

func TestAuthScopes(t *testing.T) {
	h := newHarness(t, AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "wazoo-bot"}, RateLimit{})

	resp, _ := h.do(t, http.MethodGet, "/admin/submissions", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = h.do(t, http.MethodGet, "/admin/submissions", signToken(t, ScopeWrite), nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = h.do(t, http.MethodGet, "/admin/submissions", "not-a-jwt", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, raw := h.do(t, http.MethodGet, "/admin/submissions?format=json", signToken(t, ScopeExport), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, "[]", string(raw))

	resp, raw = h.do(t, http.MethodGet, "/admin/submissions?format=parquet", signToken(t, ScopeExport), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []byte("PAR1"), raw[:4])

	resp, _ = h.do(t, http.MethodGet, "/admin/submissions?format=xml", signToken(t, ScopeExport), nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	profile := map[string]any{"identity": "8", "avatarUrl": h.cdn + "/a.png"}
	resp, _ = h.do(t, http.MethodPost, "/v1/passes", "", profile)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = h.do(t, http.MethodPost, "/v1/passes", signToken(t, ScopeWrite+" "+ScopeExport), profile)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, AuthConfig{}, RateLimit{RequestsPerMinute: 1, Burst: 2})
	for i := 0; i < 2; i++ {
		resp, _ := h.do(t, http.MethodGet, "/v1/images/1", "", nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	}
	resp, _ := h.do(t, http.MethodGet, "/v1/images/1", "", nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRejectsMalformedBodies(t *testing.T) {
	h := newHarness(t, AuthConfig{}, RateLimit{})
	resp, _ := h.do(t, http.MethodPost, "/v1/passes", "", map[string]any{"identity": "1", "unexpected": true})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, raw := h.do(t, http.MethodPost, "/v1/passes", "", map[string]any{"identity": "  "})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, "We could not identify your account.", errorMessage(t, raw))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, AuthConfig{}, RateLimit{})
	_, _ = h.do(t, http.MethodGet, "/v1/images/3", "", nil)
	resp, raw := h.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(raw), "passd_requests_total")
}

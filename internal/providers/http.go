package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"kurz/internal/config"
	"kurz/internal/logging"
	"kurz/internal/manifest"
	"kurz/internal/services"
)

// assetResponse is the wire shape remote generators reply with.
type assetResponse struct {
	URI        string `json:"uri"`
	DurationMS int64  `json:"duration_ms"`
}

type httpClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

func newHTTPClient(p config.Provider, logger *slog.Logger) httpClient {
	return httpClient{
		client:  &http.Client{Timeout: providerTimeout(p)},
		baseURL: strings.TrimRight(p.BaseURL, "/"),
		apiKey:  p.APIKey,
		logger:  logger,
	}
}

// postJSON sends the payload and decodes the response into out.
// Remote and transport failures are tagged retryable; a 4xx means the
// request itself is bad and retrying will not help.
func (c httpClient) postJSON(ctx context.Context, stage, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", stage, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", stage, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrProvider, stage, "request", "remote call failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return services.Wrap(services.ErrProvider, stage, "request",
			fmt.Sprintf("remote returned HTTP %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return services.Wrap(services.ErrConfiguration, stage, "request",
			fmt.Sprintf("remote rejected request with HTTP %d", resp.StatusCode), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrProvider, stage, "request", "decode response", err)
	}
	return nil
}

type httpScript struct {
	http httpClient
}

func newHTTPScript(p config.Provider, logger *slog.Logger) *httpScript {
	return &httpScript{http: newHTTPClient(p, logger)}
}

func (s *httpScript) GeneratePlan(ctx context.Context, spec PlanSpec) (*manifest.Manifest, error) {
	payload := map[string]any{
		"run_id":      spec.RunID,
		"prompt":      spec.Prompt,
		"mode":        spec.Mode,
		"scene_count": spec.SceneCount,
		"style":       spec.Style,
		"voice":       spec.Voice,
		"include_bgm": spec.IncludeBGM,
	}
	var m manifest.Manifest
	if err := s.http.postJSON(ctx, "planner", "/v1/plan", payload, &m); err != nil {
		return nil, err
	}
	m.RunID = spec.RunID
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// httpImage fetches generated images over plain GET so it works with
// prompt-in-URL services. The seed is derived from the slot key to
// make retries reproducible.
type httpImage struct {
	http   httpClient
	width  int
	height int
}

func newHTTPImage(p config.Provider, width, height int, logger *slog.Logger) *httpImage {
	return &httpImage{http: newHTTPClient(p, logger), width: width, height: height}
}

func (g *httpImage) GenerateImage(ctx context.Context, job JobSpec) (manifest.AssetRef, error) {
	if job.OutputPath == "" {
		return manifest.AssetRef{}, services.Wrap(services.ErrConfiguration, "image", "generate", "image job has no output path", nil)
	}

	h := fnv.New32a()
	h.Write([]byte(job.Key().String()))
	imageURL := fmt.Sprintf("%s/prompt/%s?width=%d&height=%d&nologo=true&seed=%d",
		g.http.baseURL, url.PathEscape(job.Prompt), g.width, g.height, h.Sum32())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return manifest.AssetRef{}, fmt.Errorf("build image request: %w", err)
	}
	resp, err := g.http.client.Do(req)
	if err != nil {
		return manifest.AssetRef{}, services.Wrap(services.ErrProvider, "image", "generate", "image fetch failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return manifest.AssetRef{}, services.Wrap(services.ErrProvider, "image", "generate",
			fmt.Sprintf("image service returned HTTP %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return manifest.AssetRef{}, services.Wrap(services.ErrProvider, "image", "generate", "read image body", err)
	}
	// A tiny body is an error page, not an image.
	if len(data) < 100 {
		return manifest.AssetRef{}, services.Wrap(services.ErrProvider, "image", "generate",
			fmt.Sprintf("image service returned %d bytes", len(data)), nil)
	}

	if err := os.MkdirAll(filepath.Dir(job.OutputPath), 0o755); err != nil {
		return manifest.AssetRef{}, fmt.Errorf("create image dir: %w", err)
	}
	if err := os.WriteFile(job.OutputPath, data, 0o644); err != nil {
		return manifest.AssetRef{}, fmt.Errorf("write image: %w", err)
	}

	g.http.logger.Debug("fetched image",
		logging.String(logging.FieldRunID, job.RunID),
		logging.String("path", job.OutputPath))
	return manifest.AssetRef{URI: job.OutputPath}, nil
}

type httpVoice struct {
	http httpClient
}

func newHTTPVoice(p config.Provider, logger *slog.Logger) *httpVoice {
	return &httpVoice{http: newHTTPClient(p, logger)}
}

func (v *httpVoice) SynthesizeVoice(ctx context.Context, job JobSpec) (manifest.AssetRef, error) {
	var resp assetResponse
	payload := map[string]any{
		"run_id": job.RunID,
		"text":   job.Text,
		"voice":  job.Voice,
	}
	if err := v.http.postJSON(ctx, "voice", "/v1/speech", payload, &resp); err != nil {
		return manifest.AssetRef{}, err
	}
	return manifest.AssetRef{URI: resp.URI, DurationMS: resp.DurationMS}, nil
}

type httpMusic struct {
	http httpClient
}

func newHTTPMusic(p config.Provider, logger *slog.Logger) *httpMusic {
	return &httpMusic{http: newHTTPClient(p, logger)}
}

func (m *httpMusic) SelectMusic(ctx context.Context, job JobSpec) (manifest.AssetRef, error) {
	var resp assetResponse
	payload := map[string]any{
		"run_id":      job.RunID,
		"tags":        job.Tags,
		"duration_ms": job.DurationMS,
	}
	if err := m.http.postJSON(ctx, "music", "/v1/music", payload, &resp); err != nil {
		return manifest.AssetRef{}, err
	}
	return manifest.AssetRef{URI: resp.URI, DurationMS: resp.DurationMS}, nil
}

type httpVideo struct {
	http httpClient
}

func newHTTPVideo(p config.Provider, logger *slog.Logger) *httpVideo {
	return &httpVideo{http: newHTTPClient(p, logger)}
}

func (v *httpVideo) SynthesizeVideo(ctx context.Context, job JobSpec) (manifest.AssetRef, error) {
	var resp assetResponse
	payload := map[string]any{
		"run_id":      job.RunID,
		"prompt":      job.Prompt,
		"style":       job.Style,
		"duration_ms": job.DurationMS,
	}
	if err := v.http.postJSON(ctx, "video", "/v1/video", payload, &resp); err != nil {
		return manifest.AssetRef{}, err
	}
	return manifest.AssetRef{URI: resp.URI, DurationMS: resp.DurationMS}, nil
}

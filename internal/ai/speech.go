package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type SpeechConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Voice   string
}

// SpeechClient synthesizes mp3 audio with an OpenAI-compatible /audio/speech endpoint.
type SpeechClient struct {
	cfg        SpeechConfig
	httpClient *http.Client
}

func NewSpeechClient(cfg SpeechConfig) *SpeechClient {
	return &SpeechClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *SpeechClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("speech input is empty")
	}
	bodyBytes, err := json.Marshal(map[string]interface{}{
		"model":           c.cfg.Model,
		"voice":           c.cfg.Voice,
		"input":           text,
		"response_format": "mp3",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal speech request failed: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/audio/speech"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build speech request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("speech response status %d: %s", resp.StatusCode, truncate(string(audio), 512))
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("empty speech audio")
	}
	return audio, nil
}

// Package genai talks to the generative text and image model services over
// JSON/HTTP.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go-lookflow/internal/domain"
)

// StatusError is a non-2xx answer from a model service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model service returned %d: %s", e.Code, e.Body)
}

// StatusCode lets the retry classifier map the error by HTTP status.
func (e *StatusError) StatusCode() int { return e.Code }

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newClient(cfg Config) *client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return domain.NewTerminalError(fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return domain.NewTerminalError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return domain.NewRetryableError(err)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewTerminalError(fmt.Errorf("decode %s response: %w", path, err))
	}
	return nil
}

// TextModel composes outfits.
type TextModel struct {
	c *client
}

func NewTextModel(cfg Config) *TextModel {
	return &TextModel{c: newClient(cfg)}
}

type composeRequest struct {
	Gender      string             `json:"gender"`
	BudgetRange domain.BudgetRange `json:"budgetRange"`
}

type composeResponse struct {
	Outfits []domain.OutfitComposition `json:"outfits"`
}

func (m *TextModel) ComposeOutfits(ctx context.Context, profile domain.UserProfile) ([]domain.OutfitComposition, error) {
	var resp composeResponse
	err := m.c.post(ctx, "/v1/outfits", composeRequest{
		Gender:      profile.Gender,
		BudgetRange: profile.BudgetRange.Data(),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Outfits, nil
}

// ImageModel renders try-on images.
type ImageModel struct {
	c *client
}

func NewImageModel(cfg Config) *ImageModel {
	return &ImageModel{c: newClient(cfg)}
}

type tryOnRequest struct {
	UserPhotoRef  string   `json:"userPhotoRef"`
	ItemImageRefs []string `json:"itemImageRefs"`
}

type tryOnResponse struct {
	AssetRef string `json:"assetRef"`
}

func (m *ImageModel) RenderTryOn(ctx context.Context, userPhotoRef string, itemImageRefs []string) (string, error) {
	var resp tryOnResponse
	err := m.c.post(ctx, "/v1/try-on", tryOnRequest{
		UserPhotoRef:  userPhotoRef,
		ItemImageRefs: itemImageRefs,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.AssetRef == "" {
		return "", domain.NewTerminalError(errors.New("try-on response has no asset reference"))
	}
	return resp.AssetRef, nil
}

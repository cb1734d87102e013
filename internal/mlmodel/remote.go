package mlmodel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// RemoteModel calls an external scoring endpoint. It is wired in when a model
// service URL is configured; otherwise the LogisticModel stands in.
type RemoteModel struct {
	endpoint string
	apiKey   string
	client   *http.Client
	version  string
}

func NewRemoteModel(endpoint, apiKey string, timeout time.Duration) *RemoteModel {
	return &RemoteModel{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		version:  "remote",
	}
}

func (m *RemoteModel) Version() string { return m.version }

func (m *RemoteModel) Predict(ctx context.Context, features *Features) (*Prediction, error) {
	body, err := json.Marshal(features)
	if err != nil {
		return nil, fmt.Errorf("failed to encode features: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint+"/v1/score", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model endpoint call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model endpoint returned status %d", resp.StatusCode)
	}

	var pred Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, fmt.Errorf("failed to decode model response: %w", err)
	}

	log.Debug().
		Float64("score", pred.Score).
		Str("model_version", pred.Version).
		Msg("Remote model scored")
	return &pred, nil
}

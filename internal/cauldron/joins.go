package cauldron

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/holiman/uint256"
)

// JoinClient is the HTTP adapter for one asset's custody join.
type JoinClient struct {
	baseURL string
	assetID string
	http    *http.Client
}

func NewJoinClient(baseURL, assetID string) *JoinClient {
	return &JoinClient{
		baseURL: baseURL,
		assetID: assetID,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (j *JoinClient) ReceiveFrom(ctx context.Context, payer string, amount *uint256.Int) (*uint256.Int, error) {
	req := struct {
		Payer  string `json:"payer"`
		Amount string `json:"amount"`
	}{Payer: payer, Amount: amount.Dec()}

	var dto struct {
		Received string `json:"received"`
	}
	if err := j.post(ctx, "/receive", req, &dto); err != nil {
		return nil, fmt.Errorf("join %s receive: %w", j.assetID, err)
	}
	received, err := uint256.FromDecimal(dto.Received)
	if err != nil {
		return nil, fmt.Errorf("join %s receive: parse %q: %w", j.assetID, dto.Received, err)
	}
	return received, nil
}

func (j *JoinClient) ReleaseTo(ctx context.Context, receiver string, amount *uint256.Int) error {
	req := struct {
		Receiver string `json:"receiver"`
		Amount   string `json:"amount"`
	}{Receiver: receiver, Amount: amount.Dec()}

	if err := j.post(ctx, "/release", req, nil); err != nil {
		return fmt.Errorf("join %s release: %w", j.assetID, err)
	}
	return nil
}

func (j *JoinClient) post(ctx context.Context, op string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	target := j.baseURL + "/v1/joins/" + url.PathEscape(j.assetID) + op
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("POST %s: status %d", target, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// JoinDirectory lazily builds and caches join adapters per asset against a
// single custody service endpoint.
type JoinDirectory struct {
	baseURL string

	mu    sync.Mutex
	joins map[string]*JoinClient
}

func NewJoinDirectory(baseURL string) *JoinDirectory {
	return &JoinDirectory{
		baseURL: baseURL,
		joins:   make(map[string]*JoinClient),
	}
}

func (d *JoinDirectory) Join(assetID string) (Join, error) {
	if assetID == "" {
		return nil, fmt.Errorf("join directory: empty asset id")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if j, ok := d.joins[assetID]; ok {
		return j, nil
	}
	j := NewJoinClient(d.baseURL, assetID)
	d.joins[assetID] = j
	return j, nil
}

// TokenClient is the HTTP adapter for the debt token's burn operation.
type TokenClient struct {
	baseURL string
	http    *http.Client
}

func NewTokenClient(baseURL string) *TokenClient {
	return &TokenClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TokenClient) Burn(ctx context.Context, payer string, amount *uint256.Int) error {
	reqBody := struct {
		Payer  string `json:"payer"`
		Amount string `json:"amount"`
	}{Payer: payer, Amount: amount.Dec()}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/token/burn", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("token burn: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token burn: status %d", resp.StatusCode)
	}
	return nil
}

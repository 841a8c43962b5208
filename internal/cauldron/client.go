package cauldron

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Client talks JSON-over-HTTP to the cauldron ledger service.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type vaultDTO struct {
	Owner        string `json:"owner"`
	CollateralID string `json:"collateral_id"`
	BaseID       string `json:"base_id"`
	SeriesID     string `json:"series_id"`
}

type balancesDTO struct {
	Ink string `json:"ink"`
	Art string `json:"art"`
}

type debtParamsDTO struct {
	Min      uint64 `json:"min"`
	Decimals uint8  `json:"decimals"`
}

func (c *Client) Vault(ctx context.Context, id uuid.UUID) (Vault, error) {
	var dto vaultDTO
	if err := c.get(ctx, "/v1/vaults/"+id.String(), &dto); err != nil {
		return Vault{}, fmt.Errorf("cauldron vault: %w", err)
	}
	return Vault{
		Owner:        dto.Owner,
		CollateralID: dto.CollateralID,
		BaseID:       dto.BaseID,
		SeriesID:     dto.SeriesID,
	}, nil
}

func (c *Client) Balances(ctx context.Context, id uuid.UUID) (Balances, error) {
	var dto balancesDTO
	if err := c.get(ctx, "/v1/vaults/"+id.String()+"/balances", &dto); err != nil {
		return Balances{}, fmt.Errorf("cauldron balances: %w", err)
	}
	ink, err := uint256.FromDecimal(dto.Ink)
	if err != nil {
		return Balances{}, fmt.Errorf("cauldron balances: parse ink %q: %w", dto.Ink, err)
	}
	art, err := uint256.FromDecimal(dto.Art)
	if err != nil {
		return Balances{}, fmt.Errorf("cauldron balances: parse art %q: %w", dto.Art, err)
	}
	return Balances{Ink: ink, Art: art}, nil
}

func (c *Client) IsUndercollateralized(ctx context.Context, id uuid.UUID) (bool, error) {
	var dto struct {
		Undercollateralized bool `json:"undercollateralized"`
	}
	if err := c.get(ctx, "/v1/vaults/"+id.String()+"/level", &dto); err != nil {
		return false, fmt.Errorf("cauldron level: %w", err)
	}
	return dto.Undercollateralized, nil
}

func (c *Client) TransferVaultCustody(ctx context.Context, id uuid.UUID, newOwner string) error {
	req := struct {
		NewOwner string `json:"new_owner"`
	}{NewOwner: newOwner}
	if err := c.post(ctx, "/v1/vaults/"+id.String()+"/custody", req, nil); err != nil {
		return fmt.Errorf("cauldron custody transfer: %w", err)
	}
	return nil
}

func (c *Client) ReduceBalances(ctx context.Context, id uuid.UUID, ink, art *uint256.Int) (Balances, error) {
	req := struct {
		Ink string `json:"ink"`
		Art string `json:"art"`
	}{Ink: ink.Dec(), Art: art.Dec()}

	var dto balancesDTO
	if err := c.post(ctx, "/v1/vaults/"+id.String()+"/reduce", req, &dto); err != nil {
		return Balances{}, fmt.Errorf("cauldron reduce balances: %w", err)
	}
	newInk, err := uint256.FromDecimal(dto.Ink)
	if err != nil {
		return Balances{}, fmt.Errorf("cauldron reduce balances: parse ink %q: %w", dto.Ink, err)
	}
	newArt, err := uint256.FromDecimal(dto.Art)
	if err != nil {
		return Balances{}, fmt.Errorf("cauldron reduce balances: parse art %q: %w", dto.Art, err)
	}
	return Balances{Ink: newInk, Art: newArt}, nil
}

func (c *Client) DebtParams(ctx context.Context, baseID string) (DebtParams, error) {
	var dto debtParamsDTO
	if err := c.get(ctx, "/v1/debt/"+url.PathEscape(baseID), &dto); err != nil {
		return DebtParams{}, fmt.Errorf("cauldron debt params: %w", err)
	}
	return DebtParams{Min: dto.Min, Decimals: dto.Decimals}, nil
}

func (c *Client) DebtToTokenUnits(ctx context.Context, baseID string, amount *uint256.Int) (*uint256.Int, error) {
	return c.convert(ctx, "/v1/debt/"+url.PathEscape(baseID)+"/to-token", amount)
}

func (c *Client) DebtFromTokenUnits(ctx context.Context, baseID string, units *uint256.Int) (*uint256.Int, error) {
	return c.convert(ctx, "/v1/debt/"+url.PathEscape(baseID)+"/from-token", units)
}

func (c *Client) convert(ctx context.Context, path string, amount *uint256.Int) (*uint256.Int, error) {
	req := struct {
		Amount string `json:"amount"`
	}{Amount: amount.Dec()}

	var dto struct {
		Amount string `json:"amount"`
	}
	if err := c.post(ctx, path, req, &dto); err != nil {
		return nil, fmt.Errorf("cauldron convert: %w", err)
	}
	out, err := uint256.FromDecimal(dto.Amount)
	if err != nil {
		return nil, fmt.Errorf("cauldron convert: parse %q: %w", dto.Amount, err)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", req.Method, req.URL.Path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

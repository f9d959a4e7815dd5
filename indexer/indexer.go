package indexer

import (
	"context"
	"fmt"
	"time"

	"goeverbridge/logger"

	"github.com/go-resty/resty/v2"
)

type BurnCallbackQuery struct {
	ChainID                int64  `json:"chainId"`
	CreditProcessorAddress string `json:"creditProcessorAddress"`
	Limit                  int    `json:"limit"`
	Offset                 int    `json:"offset"`
	Ordering               string `json:"ordering"`
}

// BurnCallback is one indexed burn of a credit processor's output.
type BurnCallback struct {
	TonEventContractAddress string `json:"tonEventContractAddress"`
	CreditProcessorAddress  string `json:"creditProcessorAddress"`
	EthUserAddress          string `json:"ethUserAddress"`
	Amount                  string `json:"amount"`
	ChainID                 int64  `json:"chainId"`
	CreatedAt               int64  `json:"createdAt"`
}

type burnCallbacksResponse struct {
	Transfers  []BurnCallback `json:"transfers"`
	TotalCount int            `json:"totalCount"`
}

type Client struct {
	http *resty.Client
	lggr logger.Logger
}

func NewClient(baseURL string, lggr logger.Logger) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15*time.Second).
		SetHeader("Content-Type", "application/json")
	return &Client{http: rc, lggr: lggr.Named("indexer")}
}

// SearchBurnCallbacks returns the matching callbacks, an empty result means not indexed yet.
func (c *Client) SearchBurnCallbacks(ctx context.Context, q BurnCallbackQuery) ([]BurnCallback, error) {
	if q.Ordering == "" {
		q.Ordering = "createdatdescending"
	}
	var out burnCallbacksResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(q).
		SetResult(&out).
		Post("/burn_callbacks/search")
	if err != nil {
		return nil, fmt.Errorf("burn callbacks search: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("burn callbacks search: status %d: %s", resp.StatusCode(), resp.String())
	}
	return out.Transfers, nil
}

// Package trend reads and fetches search-interest series.
package trend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const naverDataLabURL = "https://openapi.naver.com/v1/datalab/search"

// ErrCredentials is returned when the DataLab client id or secret is missing.
var ErrCredentials = errors.New("naver datalab credentials not configured")

// Point is one period of a keyword's relative search volume.
type Point struct {
	Period string          `json:"period"`
	Ratio  decimal.Decimal `json:"ratio"`
}

type NaverClient struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	Client       *http.Client
}

func NewNaverClient(clientID, clientSecret, baseURL string) (*NaverClient, error) {
	if strings.TrimSpace(clientID) == "" || strings.TrimSpace(clientSecret) == "" {
		return nil, ErrCredentials
	}
	if baseURL == "" {
		baseURL = naverDataLabURL
	}
	return &NaverClient{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		BaseURL:      baseURL,
		Client:       &http.Client{Timeout: 10 * time.Second},
	}, nil
}

type keywordGroup struct {
	GroupName string   `json:"groupName"`
	Keywords  []string `json:"keywords"`
}

type trendRequest struct {
	StartDate     string         `json:"startDate"`
	EndDate       string         `json:"endDate"`
	TimeUnit      string         `json:"timeUnit"`
	KeywordGroups []keywordGroup `json:"keywordGroups"`
}

type trendResponse struct {
	Results []struct {
		Title string  `json:"title"`
		Data  []Point `json:"data"`
	} `json:"results"`
}

// FetchTrend asks DataLab for one keyword group and returns the points of
// the first group. start and end are YYYY-MM-DD; unit is date, week or month.
func (c *NaverClient) FetchTrend(ctx context.Context, keyword, start, end, unit string) ([]Point, error) {
	if unit == "" {
		unit = "month"
	}
	body, err := json.Marshal(trendRequest{
		StartDate:     start,
		EndDate:       end,
		TimeUnit:      unit,
		KeywordGroups: []keywordGroup{{GroupName: keyword, Keywords: []string{keyword}}},
	})
	if err != nil {
		return nil, fmt.Errorf("naver: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("naver: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Naver-Client-Id", c.ClientID)
	req.Header.Set("X-Naver-Client-Secret", c.ClientSecret)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("naver: request: %w", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("naver: status %d: %s", resp.StatusCode, string(raw))
	}

	var tr trendResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("naver: decode: %w", err)
	}
	if len(tr.Results) == 0 {
		return nil, nil
	}
	return tr.Results[0].Data, nil
}

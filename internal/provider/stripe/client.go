package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	providerdomain "github.com/smallbiznis/couture/internal/provider/domain"
)

// Client talks to the Stripe REST API with form-encoded requests.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) CreateProduct(ctx context.Context, req providerdomain.CreateProductRequest) (*providerdomain.Product, error) {
	form := url.Values{}
	form.Set("name", req.Name)
	form.Set("metadata[plan_code]", req.PlanCode)

	var out struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/v1/products", form, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, providerdomain.ErrInvalidResponse
	}
	return &providerdomain.Product{ID: out.ID}, nil
}

func (c *Client) CreatePrice(ctx context.Context, req providerdomain.CreatePriceRequest) (*providerdomain.Price, error) {
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "usd"
	}
	form := url.Values{}
	form.Set("product", req.ProductID)
	form.Set("currency", currency)
	form.Set("unit_amount", strconv.FormatInt(req.UnitAmount, 10))
	form.Set("recurring[interval]", req.Interval)
	form.Set("metadata[plan_code]", req.PlanCode)

	var out struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/v1/prices", form, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, providerdomain.ErrInvalidResponse
	}
	return &providerdomain.Price{ID: out.ID}, nil
}

func (c *Client) GetSubscription(ctx context.Context, externalSubscriptionID string) (*providerdomain.SubscriptionSnapshot, error) {
	externalSubscriptionID = strings.TrimSpace(externalSubscriptionID)
	if externalSubscriptionID == "" {
		return nil, providerdomain.ErrSubscriptionNotFound
	}

	var out stripeSubscription
	status, err := c.do(ctx, http.MethodGet, "/v1/subscriptions/"+url.PathEscape(externalSubscriptionID), nil, &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, providerdomain.ErrSubscriptionNotFound
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, providerdomain.ErrInvalidResponse
	}

	return &providerdomain.SubscriptionSnapshot{
		ID:                out.ID,
		Status:            strings.TrimSpace(out.Status),
		PlanCode:          strings.TrimSpace(out.Metadata["plan_code"]),
		CancelAtPeriodEnd: out.CancelAtPeriodEnd,
		CurrentPeriodEnd:  unixTime(out.CurrentPeriodEnd),
		StartedAt:         unixTime(out.StartDate),
		EndedAt:           unixTime(out.EndedAt),
		SnapshotAt:        time.Now().UTC(),
	}, nil
}

func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

type stripeSubscription struct {
	ID                string            `json:"id"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	StartDate         int64             `json:"start_date"`
	EndedAt           int64             `json:"ended_at"`
	Metadata          map[string]string `json:"metadata"`
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	status, err := c.do(ctx, http.MethodPost, path, strings.NewReader(form.Encode()), out)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("%w: status %d", providerdomain.ErrProviderUnavailable, status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", providerdomain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode >= 500 {
		return resp.StatusCode, fmt.Errorf("%w: status %d", providerdomain.ErrProviderUnavailable, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, providerdomain.ErrInvalidResponse
		}
	}
	return resp.StatusCode, nil
}

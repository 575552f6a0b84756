package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/TrackSync/internal/integrations/logistics"
	"github.com/pkg/errors"
)

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9100"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type sessionResp struct {
	LoggedIn bool   `json:"logged_in"`
	Identity string `json:"identity"`
}

type deliveriesResp struct {
	Deliveries []struct {
		ReceiverName   string    `json:"receiver_name"`
		CourierName    string    `json:"courier_name"`
		TrackingNumber string    `json:"tracking_number"`
		ProductName    string    `json:"product_name"`
		CollectedAt    time.Time `json:"collected_at"`
	} `json:"deliveries"`
}

func (c *Client) LoginStatus(ctx context.Context) (logistics.Session, error) {
	var r sessionResp
	if err := c.getJSON(ctx, "/v1/session", nil, &r); err != nil {
		return logistics.Session{}, err
	}
	return logistics.Session{LoggedIn: r.LoggedIn, Identity: r.Identity}, nil
}

func (c *Client) FetchDeliveries(ctx context.Context, since time.Time) ([]logistics.Notice, error) {
	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339))

	var r deliveriesResp
	if err := c.getJSON(ctx, "/v1/deliveries", q, &r); err != nil {
		return nil, err
	}

	out := make([]logistics.Notice, 0, len(r.Deliveries))
	for _, d := range r.Deliveries {
		if d.TrackingNumber == "" {
			continue
		}
		out = append(out, logistics.Notice{
			ReceiverName:   d.ReceiverName,
			CourierName:    d.CourierName,
			TrackingNumber: d.TrackingNumber,
			ProductName:    d.ProductName,
			CollectedAt:    d.CollectedAt.UTC(),
		})
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, dst any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return errors.Wrap(err, "parse base url")
	}
	u.Path = path
	if q != nil {
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return errors.Errorf("logistics http %d on %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return errors.Wrap(err, "decode")
	}
	return nil
}

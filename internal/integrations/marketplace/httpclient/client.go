package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/BearBump/TrackSync/internal/integrations/marketplace"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	limiter *rate.Limiter
}

// New creates a client throttled to qps requests per second; qps <= 0 disables throttling.
func New(baseURL, apiKey string, qps float64) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9200"
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if qps > 0 {
		burst := int(qps)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(qps), burst)
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: limiter,
	}
}

type ordersResp struct {
	Orders []struct {
		OrderID       string    `json:"order_id"`
		ShipmentBoxID string    `json:"shipment_box_id"`
		VendorItemID  string    `json:"vendor_item_id"`
		ReceiverName  string    `json:"receiver_name"`
		ProductName   string    `json:"product_name"`
		OrderedAt     time.Time `json:"ordered_at"`
	} `json:"orders"`
}

type invoiceReq struct {
	ShipmentBoxID  string `json:"shipment_box_id"`
	VendorItemID   string `json:"vendor_item_id"`
	CourierName    string `json:"courier_name"`
	TrackingNumber string `json:"tracking_number"`
}

type errorResp struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) FetchPendingOrders(ctx context.Context, accountID string, hoursBack int) ([]marketplace.Order, error) {
	q := url.Values{}
	q.Set("hours_back", strconv.Itoa(hoursBack))

	body, err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(accountID)+"/orders", q, nil)
	if err != nil {
		return nil, err
	}

	var r ordersResp
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	out := make([]marketplace.Order, 0, len(r.Orders))
	for _, o := range r.Orders {
		out = append(out, marketplace.Order{
			OrderID:       o.OrderID,
			ShipmentBoxID: o.ShipmentBoxID,
			VendorItemID:  o.VendorItemID,
			ReceiverName:  o.ReceiverName,
			ProductName:   o.ProductName,
			OrderedAt:     o.OrderedAt.UTC(),
		})
	}
	return out, nil
}

func (c *Client) SubmitTrackingNumber(ctx context.Context, sub marketplace.TrackingSubmission) error {
	payload, err := json.Marshal(invoiceReq{
		ShipmentBoxID:  sub.Order.ShipmentBoxID,
		VendorItemID:   sub.Order.VendorItemID,
		CourierName:    sub.CourierName,
		TrackingNumber: sub.TrackingNumber,
	})
	if err != nil {
		return errors.Wrap(err, "encode invoice")
	}

	path := "/v1/accounts/" + url.PathEscape(sub.AccountID) + "/orders/" + url.PathEscape(sub.Order.OrderID) + "/invoice"
	_, err = c.do(ctx, http.MethodPut, path, nil, payload)
	return err
}

// do performs one request and maps the outcome onto the package sentinels:
// 400/404/409/422 are rejections, everything else that is not 2xx is unavailability.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(marketplace.ErrUnavailable, err.Error())
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = path
	if q != nil {
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(marketplace.ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.Wrapf(marketplace.ErrUnavailable, "read body: %v", err)
	}

	switch {
	case resp.StatusCode/100 == 2:
		return data, nil
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, errors.Wrapf(marketplace.ErrRejected, "http %d%s", resp.StatusCode, describe(data))
	default:
		return nil, errors.Wrapf(marketplace.ErrUnavailable, "http %d%s", resp.StatusCode, describe(data))
	}
}

func describe(body []byte) string {
	var e errorResp
	if json.Unmarshal(body, &e) != nil || (e.Code == "" && e.Message == "") {
		return ""
	}
	return fmt.Sprintf(": %s - %s", e.Code, e.Message)
}

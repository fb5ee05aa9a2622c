// Package servicelayer is a minimal SAP B1 Service Layer client covering
// the calls the write-back pipelines need: login, approval PATCH, item
// paging and order creation.
//
// Session handling: the Service Layer issues a B1SESSION cookie on login;
// the client keeps it in a cookie jar and re-logs-in once on a 401.
package servicelayer

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"deliverybot/internal/config"
	"deliverybot/internal/domain"
)

type Client struct {
	base string
	cfg  config.ServiceLayerConfig
	http *http.Client
	log  zerolog.Logger

	mu       sync.Mutex
	loggedIn bool
}

func New(cfg config.ServiceLayerConfig, log zerolog.Logger) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		base: strings.TrimRight(cfg.Host, "/"),
		cfg:  cfg,
		http: &http.Client{
			Jar:       jar,
			Transport: transport,
			Timeout:   cfg.Timeout.OrDefault(30 * time.Second),
		},
		log: log,
	}, nil
}

type loginRequest struct {
	CompanyDB string `json:"CompanyDB"`
	UserName  string `json:"UserName"`
	Password  string `json:"Password"`
}

func (c *Client) login(ctx context.Context) error {
	body, err := json.Marshal(loginRequest{
		CompanyDB: c.cfg.CompanyDB,
		UserName:  c.cfg.User,
		Password:  c.cfg.Password,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/Login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("service layer login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service layer login: status %d: %s", resp.StatusCode, readShort(resp.Body))
	}
	c.mu.Lock()
	c.loggedIn = true
	c.mu.Unlock()
	return nil
}

// do issues one authenticated request, logging in lazily and retrying
// exactly once after a 401 (expired session).
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	c.mu.Lock()
	loggedIn := c.loggedIn
	c.mu.Unlock()
	if !loggedIn {
		if err := c.login(ctx); err != nil {
			return nil, err
		}
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			_ = resp.Body.Close()
			c.mu.Lock()
			c.loggedIn = false
			c.mu.Unlock()
			if err := c.login(ctx); err != nil {
				return nil, err
			}
			continue
		}
		return resp, nil
	}
}

// ApproveDelivery flips the source-side approval flag for one delivery.
func (c *Client) ApproveDelivery(ctx context.Context, docEntry int64) error {
	body, _ := json.Marshal(map[string]string{"U_Approved": "Y"})
	resp, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/DeliveryNotes(%d)", docEntry), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("approve delivery %d: status %d: %s", docEntry, resp.StatusCode, readShort(resp.Body))
	}
	return nil
}

type slItemPrice struct {
	PriceList int     `json:"PriceList"`
	Price     float64 `json:"Price"`
	Currency  string  `json:"Currency"`
}

type slItem struct {
	ItemCode        string        `json:"ItemCode"`
	ItemName        string        `json:"ItemName"`
	QuantityOnStock float64       `json:"QuantityOnStock"`
	ItemPrices      []slItemPrice `json:"ItemPrices"`
}

type slItemPage struct {
	Value []slItem `json:"value"`
}

// Items fetches valid, non-frozen sales items. Price and currency come
// from price list 1 (the base list); items without it price at zero.
func (c *Client) Items(ctx context.Context) ([]domain.Item, error) {
	q := url.Values{}
	q.Set("$select", "ItemCode,ItemName,QuantityOnStock,ItemPrices")
	q.Set("$filter", "Valid eq 'Y' and Frozen eq 'N'")
	q.Set("$top", "5000")

	resp, err := c.do(ctx, http.MethodGet, "/Items?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch items: status %d: %s", resp.StatusCode, readShort(resp.Body))
	}

	var page slItemPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}

	out := make([]domain.Item, 0, len(page.Value))
	for _, it := range page.Value {
		item := domain.Item{
			ItemCode: it.ItemCode,
			ItemName: it.ItemName,
			Stock:    it.QuantityOnStock,
			Currency: "UZS",
		}
		for _, p := range it.ItemPrices {
			if p.PriceList == 1 {
				item.Price = p.Price
				if p.Currency != "" {
					item.Currency = p.Currency
				}
				break
			}
		}
		out = append(out, item)
	}
	return out, nil
}

type orderLine struct {
	ItemCode string  `json:"ItemCode"`
	Quantity float64 `json:"Quantity"`
}

type orderRequest struct {
	CardCode      string      `json:"CardCode"`
	DocDate       string      `json:"DocDate"`
	DocDueDate    string      `json:"DocDueDate"`
	DocumentLines []orderLine `json:"DocumentLines"`
	Comments      string      `json:"Comments"`
}

type orderResponse struct {
	DocEntry int64 `json:"DocEntry"`
	DocNum   int64 `json:"DocNum"`
}

// CreateOrder pushes one outbound sales order and returns the
// source-assigned (DocEntry, DocNum).
func (c *Client) CreateOrder(ctx context.Context, o domain.Order) (int64, string, error) {
	lines := make([]orderLine, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, orderLine{ItemCode: l.ItemCode, Quantity: l.Quantity})
	}
	today := time.Now().Format("2006-01-02")
	body, err := json.Marshal(orderRequest{
		CardCode:      o.CardCode,
		DocDate:       today,
		DocDueDate:    today,
		DocumentLines: lines,
		Comments:      fmt.Sprintf("From Telegram bot (order #%d)", o.ID),
	})
	if err != nil {
		return 0, "", err
	}

	resp, err := c.do(ctx, http.MethodPost, "/Orders", body)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return 0, "", fmt.Errorf("create order %d: status %d: %s", o.ID, resp.StatusCode, readShort(resp.Body))
	}

	var created orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return 0, "", fmt.Errorf("decode order response: %w", err)
	}
	return created.DocEntry, fmt.Sprintf("%d", created.DocNum), nil
}

func readShort(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}

package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/bulk-logistics/internal/models"
)

// Client talks to the commercial bank's HTTP API: account lookup, loan
// figures for the cost model, loan applications, and registering the
// webhook endpoint that receives transaction notifications.
type Client struct {
	BaseURL string
	Account string
	HTTP    *http.Client
}

func NewClient(baseURL, account string) *Client {
	return &Client{
		BaseURL: baseURL,
		Account: account,
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

// OutstandingLoans fetches the company's open loans.
func (c *Client) OutstandingLoans(ctx context.Context) ([]models.Loan, error) {
	var out struct {
		Loans []struct {
			LoanNumber        string  `json:"loan_number"`
			InitialAmount     float64 `json:"initial_amount"`
			OutstandingAmount float64 `json:"outstanding_amount"`
			InterestRate      float64 `json:"interest_rate"`
		} `json:"loans"`
	}
	if err := c.getJSON(ctx, "/loans", &out); err != nil {
		return nil, err
	}
	loans := make([]models.Loan, 0, len(out.Loans))
	for i, l := range out.Loans {
		loans = append(loans, models.Loan{
			ID:           int64(i + 1),
			LoanNumber:   l.LoanNumber,
			Principal:    l.OutstandingAmount,
			InterestRate: l.InterestRate,
		})
	}
	return loans, nil
}

// Balance returns the current account balance.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	var out struct {
		Balance float64 `json:"balance"`
	}
	if err := c.getJSON(ctx, "/accounts/"+c.Account+"/balance", &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

// OpenAccount registers the company with the bank and returns the
// assigned account number.
func (c *Client) OpenAccount(ctx context.Context) (string, error) {
	var out struct {
		AccountNumber string `json:"account_number"`
	}
	body := map[string]any{"name": c.Account}
	if err := c.postJSON(ctx, "/accounts", body, &out); err != nil {
		return "", err
	}
	if out.AccountNumber != "" {
		c.Account = out.AccountNumber
	}
	return out.AccountNumber, nil
}

// ApplyForLoan requests working capital, typically to fund fleet growth.
func (c *Client) ApplyForLoan(ctx context.Context, amount float64) (string, error) {
	var out struct {
		LoanNumber string `json:"loan_number"`
	}
	body := map[string]any{"account": c.Account, "amount": amount}
	if err := c.postJSON(ctx, "/loans/apply", body, &out); err != nil {
		return "", err
	}
	return out.LoanNumber, nil
}

// RegisterNotificationURL tells the bank where to deliver transaction
// webhooks for our account.
func (c *Client) RegisterNotificationURL(ctx context.Context, url string) error {
	body := map[string]any{"account": c.Account, "notification_url": url}
	return c.postJSON(ctx, "/accounts/notifications", body, nil)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("bank %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

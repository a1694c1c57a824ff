package phonenumbers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"agentpool/clients"
	"agentpool/core"
)

// DefaultBaseURL is the phone-number provider's API endpoint.
const DefaultBaseURL = "https://api.telnyx.com/v2"

// ErrNumberTaken signals a purchase conflict: the candidate number was bought
// by someone else between search and purchase. Callers re-search for a
// different candidate instead of retrying the same one.
var ErrNumberTaken = errors.New("number already taken")

// AvailableNumber is a purchasable candidate from the provider's search API.
type AvailableNumber struct {
	PhoneNumber  string `json:"phone_number"`
	MonthlyPrice string `json:"monthly_price"`
}

// PurchasedNumber is a number owned by the account.
type PurchasedNumber struct {
	SID          string `json:"id"`
	PhoneNumber  string `json:"phone_number"`
	MonthlyPrice string `json:"monthly_price"`
}

// Client is the thin wrapper over the upstream phone-number API. Pool reuse
// and retry policy live in the phone provider service, not here.
type Client struct {
	httpClient         *http.Client
	baseURL            string
	accountSID         string
	authToken          string
	messagingProfileID string
}

// NewClient creates a new phone-number provider client
func NewClient(baseURL, accountSID, authToken, messagingProfileID string) *Client {
	return &Client{
		httpClient:         &http.Client{Timeout: 30 * time.Second},
		baseURL:            baseURL,
		accountSID:         accountSID,
		authToken:          authToken,
		messagingProfileID: messagingProfileID,
	}
}

type searchResponse struct {
	Numbers []AvailableNumber `json:"numbers"`
}

type purchaseRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type listNumbersResponse struct {
	Numbers []PurchasedNumber `json:"numbers"`
}

type assignProfileRequest struct {
	MessagingProfileID *string `json:"messaging_profile_id"`
}

// SearchAvailableNumbers returns purchasable candidates, cheapest first.
func (c *Client) SearchAvailableNumbers(ctx context.Context, limit int) ([]AvailableNumber, error) {
	path := fmt.Sprintf("/available_phone_numbers?features=sms&limit=%d", limit)

	var resp searchResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to search available numbers: %w", err)
	}

	// Normalize prices so callers can compare and persist them
	for i := range resp.Numbers {
		if price, err := decimal.NewFromString(resp.Numbers[i].MonthlyPrice); err == nil {
			resp.Numbers[i].MonthlyPrice = price.StringFixed(2)
		}
	}

	return resp.Numbers, nil
}

// PurchaseNumber buys one candidate. A 409 from the provider maps to
// ErrNumberTaken so the caller can re-search.
func (c *Client) PurchaseNumber(ctx context.Context, phoneNumber string) (*PurchasedNumber, error) {
	reqBody := purchaseRequest{PhoneNumber: phoneNumber}

	var purchased PurchasedNumber
	err := c.doJSON(ctx, http.MethodPost, "/phone_numbers", reqBody, &purchased)
	if err != nil {
		var statusErr *core.HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict {
			return nil, fmt.Errorf("%w: %s", ErrNumberTaken, phoneNumber)
		}
		return nil, fmt.Errorf("failed to purchase number: %w", err)
	}
	if purchased.SID == "" {
		return nil, fmt.Errorf("no number id in purchase response")
	}

	return &purchased, nil
}

// AssignToMessagingProfile binds the number to the configured messaging profile.
func (c *Client) AssignToMessagingProfile(ctx context.Context, numberSID string) error {
	reqBody := assignProfileRequest{MessagingProfileID: &c.messagingProfileID}
	if err := c.doJSON(ctx, http.MethodPatch, "/phone_numbers/"+numberSID, reqBody, nil); err != nil {
		return fmt.Errorf("failed to assign messaging profile: %w", err)
	}
	return nil
}

// UnassignFromMessagingProfile detaches the number so it can be pooled for reuse.
func (c *Client) UnassignFromMessagingProfile(ctx context.Context, numberSID string) error {
	reqBody := assignProfileRequest{MessagingProfileID: nil}
	err := c.doJSON(ctx, http.MethodPatch, "/phone_numbers/"+numberSID, reqBody, nil)
	if err != nil && !core.IsNotFoundError(err) {
		return fmt.Errorf("failed to unassign messaging profile: %w", err)
	}
	return nil
}

// ListNumbers returns every number owned by the account.
func (c *Client) ListNumbers(ctx context.Context) ([]clients.LiveResource, error) {
	var resp listNumbersResponse
	if err := c.doJSON(ctx, http.MethodGet, "/phone_numbers", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list numbers: %w", err)
	}

	live := make([]clients.LiveResource, 0, len(resp.Numbers))
	for _, number := range resp.Numbers {
		live = append(live, clients.LiveResource{ResourceID: number.SID, Name: number.PhoneNumber})
	}

	return live, nil
}

// ReleaseNumberUpstream permanently deletes the number at the provider. Only
// the orphan pass does this; normal teardown pools numbers for reuse.
func (c *Client) ReleaseNumberUpstream(ctx context.Context, numberSID string) (bool, error) {
	err := c.doJSON(ctx, http.MethodDelete, "/phone_numbers/"+numberSID, nil, nil)
	if err != nil {
		if core.IsNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to release number upstream: %w", err)
	}
	return true, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return core.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return &core.HTTPStatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

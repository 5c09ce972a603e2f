// Package ledger provides typed calls for the budget API's transaction
// and allocation endpoints. Amounts are integer cents.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/alexjbarnes/budget-client/internal/api"
)

const (
	transactionPath = "/api/transaction/"
	allocationPath  = "/api/allocation/"
	splitPath       = "/api/allocation/split/"
	mergePath       = "/api/allocation/merge/"
)

// Transaction is one bank transaction.
type Transaction struct {
	ID          *int   `json:"id,omitempty" yaml:"id,omitempty"`
	Date        string `json:"date" yaml:"date"`
	Amount      int    `json:"amount" yaml:"amount"`
	Description string `json:"description" yaml:"description"`
	Source      string `json:"source" yaml:"source"`
	Balance     int    `json:"balance" yaml:"balance"`
}

// Allocation assigns some or all of a transaction's amount to a
// category and location.
type Allocation struct {
	ID          *int    `json:"id,omitempty" yaml:"id,omitempty"`
	TxnID       int     `json:"txn_id" yaml:"txn_id"`
	Date        string  `json:"date" yaml:"date"`
	Amount      int     `json:"amount" yaml:"amount"`
	Description string  `json:"description" yaml:"description"`
	Source      string  `json:"source" yaml:"source"`
	Category    string  `json:"category" yaml:"category"`
	Location    string  `json:"location" yaml:"location"`
	Note        *string `json:"note" yaml:"note"`
}

var transactionSchema = api.Schema{
	{Path: "id", Kind: api.FieldNumber, Optional: true},
	{Path: "date", Kind: api.FieldString},
	{Path: "amount", Kind: api.FieldNumber},
	{Path: "description", Kind: api.FieldString},
	{Path: "source", Kind: api.FieldString},
	{Path: "balance", Kind: api.FieldNumber, Optional: true},
}

var allocationSchema = api.Schema{
	{Path: "id", Kind: api.FieldNumber, Optional: true},
	{Path: "txn_id", Kind: api.FieldNumber},
	{Path: "date", Kind: api.FieldString},
	{Path: "amount", Kind: api.FieldNumber},
	{Path: "description", Kind: api.FieldString},
	{Path: "source", Kind: api.FieldString},
	{Path: "category", Kind: api.FieldString},
	{Path: "location", Kind: api.FieldString},
	{Path: "note", Kind: api.FieldString, Optional: true},
}

// Requester sends an authenticated request. *api.Session satisfies it.
type Requester interface {
	Request(ctx context.Context, req api.Request) (*api.Response, error)
}

// Client calls the ledger endpoints through a Requester.
type Client struct {
	r Requester
}

// New returns a Client that sends its requests through r.
func New(r Requester) *Client {
	return &Client{r: r}
}

// ListTransactions returns the transactions matching query, or all of
// them when query is empty.
func (c *Client) ListTransactions(ctx context.Context, query string) ([]Transaction, error) {
	u := transactionPath
	if query != "" {
		u += "?" + url.Values{"query": {query}}.Encode()
	}

	var out []Transaction
	if err := c.call(ctx, http.MethodGet, u, nil, transactionSchema.Each(), &out); err != nil {
		return nil, err
	}

	return out, nil
}

// AddTransaction records txn and returns it as stored.
func (c *Client) AddTransaction(ctx context.Context, txn Transaction) (Transaction, error) {
	var out Transaction
	if err := c.call(ctx, http.MethodPost, transactionPath, txn, transactionSchema, &out); err != nil {
		return Transaction{}, err
	}

	return out, nil
}

// ListAllocations returns the allocations matching query. The server
// requires a query.
func (c *Client) ListAllocations(ctx context.Context, query string) ([]Allocation, error) {
	u := allocationPath + "?" + url.Values{"query": {query}}.Encode()

	var out []Allocation
	if err := c.call(ctx, http.MethodGet, u, nil, allocationSchema.Each(), &out); err != nil {
		return nil, err
	}

	return out, nil
}

// UpdateAllocation saves alloc, matched on its ID.
func (c *Client) UpdateAllocation(ctx context.Context, alloc Allocation) error {
	if alloc.ID == nil {
		return fmt.Errorf("updating allocation: id is required")
	}

	return c.call(ctx, http.MethodPut, allocationPath, alloc, nil, nil)
}

// SplitAllocation moves amount out of allocation id into a new
// allocation, which is returned.
func (c *Client) SplitAllocation(ctx context.Context, id, amount int) (Allocation, error) {
	q := url.Values{
		"id":     {strconv.Itoa(id)},
		"amount": {strconv.Itoa(amount)},
	}

	var out Allocation
	if err := c.call(ctx, http.MethodGet, splitPath+"?"+q.Encode(), nil, allocationSchema, &out); err != nil {
		return Allocation{}, err
	}

	return out, nil
}

// MergeAllocations combines the allocations in ids into one, which is
// returned. All of them must belong to the same transaction.
func (c *Client) MergeAllocations(ctx context.Context, ids []int) (Allocation, error) {
	if len(ids) < 2 {
		return Allocation{}, fmt.Errorf("merging allocations: need at least two ids, got %d", len(ids))
	}

	q := url.Values{}
	for _, id := range ids {
		q.Add("ids", strconv.Itoa(id))
	}

	var out Allocation
	if err := c.call(ctx, http.MethodGet, mergePath+"?"+q.Encode(), nil, allocationSchema, &out); err != nil {
		return Allocation{}, err
	}

	return out, nil
}

// call sends one request. A nil body sends none; a nil out discards the
// response.
func (c *Client) call(ctx context.Context, method, u string, body any, v api.Validator, out any) error {
	req := api.Request{Method: method, URL: u, Validator: v}

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s %s body: %w", method, u, err)
		}

		req.Body = data
	}

	resp, err := c.r.Request(ctx, req)
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}

	return resp.Decode(out)
}

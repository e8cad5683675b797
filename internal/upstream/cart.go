package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tbourn/go-labsync-backend/internal/domain"
	"github.com/tbourn/go-labsync-backend/internal/gate"
)

// QuoteRequest is one combined pricing request for a cart.
type QuoteRequest struct {
	Products      []string
	Rates         []decimal.Decimal
	Beneficiaries int
	ReportCopy    bool
}

// Quote is the partner's pricing answer.
type Quote struct {
	// Payable is the amount the partner will charge, surcharges included.
	Payable decimal.Decimal
	// Margin is the raw maximum-margin value, nil when absent. Whether it is
	// an amount or a fraction is left to the caller.
	Margin   *decimal.Decimal
	Products []string
	Rates    []decimal.Decimal
	RespID   string
	Raw      json.RawMessage
}

type quoteWire struct {
	Product  string `json:"product"`
	Rates    string `json:"rates"`
	BenCount int    `json:"benCount"`
	Report   string `json:"report"`
	RespID   string `json:"respId,omitempty"`
}

type quoteResponse struct {
	Response string       `json:"response"`
	Payable  flexDecimal  `json:"payable"`
	Margin   flexDecimal  `json:"margin"`
	Product  flexStrings  `json:"product"`
	Rates    flexDecimals `json:"rates"`
	RespID   flexString   `json:"respId"`
}

// Quote prices the listed products with cred.
func (c *Client) Quote(ctx context.Context, cred domain.Credential, req QuoteRequest) (Quote, error) {
	if len(req.Products) == 0 {
		return Quote{}, fmt.Errorf("%w: quote without products", ErrRejected)
	}
	if len(req.Rates) != len(req.Products) {
		return Quote{}, fmt.Errorf("%w: %d rates for %d products", ErrRejected, len(req.Rates), len(req.Products))
	}
	rates := make([]string, len(req.Rates))
	for i, r := range req.Rates {
		rates[i] = r.String()
	}
	ben := req.Beneficiaries
	if ben < 1 {
		ben = 1
	}
	report := "N"
	if req.ReportCopy {
		report = "Y"
	}

	body, err := c.post(ctx, call{
		endpoint: EndpointQuote,
		path:     PathQuote,
		priority: gate.PriorityNormal,
		cred:     &cred,
		body: quoteWire{
			Product:  strings.Join(req.Products, ","),
			Rates:    strings.Join(rates, ","),
			BenCount: ben,
			Report:   report,
			RespID:   cred.RespID,
		},
	})
	if err != nil {
		return Quote{}, err
	}
	return decodeQuote(body)
}

func decodeQuote(body []byte) (Quote, error) {
	var env envelope
	_ = json.Unmarshal(body, &env)
	if err := checkEnvelope(EndpointQuote, env.Response); err != nil {
		return Quote{}, err
	}

	var qr quoteResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return Quote{}, fmt.Errorf("%w: decode quote: %v", ErrRejected, err)
	}
	if !qr.Payable.Valid {
		return Quote{}, fmt.Errorf("%w: quote without payable amount", ErrRejected)
	}
	if !qr.Payable.Value.IsPositive() {
		return Quote{}, fmt.Errorf("%w: quote payable %s is not positive", ErrRejected, qr.Payable.Value)
	}
	q := Quote{
		Payable:  qr.Payable.Value,
		Products: []string(qr.Product),
		Rates:    []decimal.Decimal(qr.Rates),
		RespID:   string(qr.RespID),
		Raw:      json.RawMessage(body),
	}
	if qr.Margin.Valid {
		m := qr.Margin.Value
		q.Margin = &m
	}
	return q, nil
}

// DistinctProducts returns the number of distinct product codes in the quote.
func (q Quote) DistinctProducts() int {
	seen := make(map[string]struct{}, len(q.Products))
	for _, p := range q.Products {
		seen[strings.ToUpper(strings.TrimSpace(p))] = struct{}{}
	}
	return len(seen)
}

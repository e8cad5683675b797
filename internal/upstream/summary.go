package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tbourn/go-labsync-backend/internal/domain"
	"github.com/tbourn/go-labsync-backend/internal/gate"
)

// SummaryKind tags the decoded order-summary shape.
type SummaryKind int

const (
	// SummaryUnrecognized means no status field was found in any known shape.
	SummaryUnrecognized SummaryKind = iota
	// SummaryRecognized means Status holds the partner's current status.
	SummaryRecognized
	// SummaryAuthError means the body carried the invalid-credential signal.
	SummaryAuthError
)

func (k SummaryKind) String() string {
	switch k {
	case SummaryRecognized:
		return "recognized"
	case SummaryAuthError:
		return "auth_error"
	default:
		return "unrecognized"
	}
}

// BeneficiaryReport is one benMaster row.
type BeneficiaryReport struct {
	ID     string
	Name   string
	URL    string
	Status string
}

// Summary is the decoded order-summary response.
type Summary struct {
	Kind SummaryKind
	// Status is set for SummaryRecognized, trimmed and upper-cased.
	Status string
	// Message is the partner's response text (auth error detail).
	Message       string
	Beneficiaries []BeneficiaryReport
	Raw           json.RawMessage
}

// ReportURLs maps beneficiary id (or name when the id is missing) to the
// report artifact URL. Rows without a URL are skipped.
func (s Summary) ReportURLs() map[string]string {
	out := map[string]string{}
	for _, b := range s.Beneficiaries {
		if b.URL == "" {
			continue
		}
		key := b.ID
		if key == "" {
			key = b.Name
		}
		if key == "" {
			continue
		}
		out[key] = b.URL
	}
	return out
}

type summaryRequest struct {
	OrderNo string `json:"orderNo"`
	RespID  string `json:"respId,omitempty"`
}

type summaryWire struct {
	Response    string `json:"response"`
	OrderMaster []struct {
		Status flexString `json:"status"`
	} `json:"orderMaster"`
	BenMaster []struct {
		ID     flexString `json:"id"`
		Name   flexString `json:"name"`
		URL    flexString `json:"url"`
		Status flexString `json:"status"`
	} `json:"benMaster"`
	// Data is decoded lazily: legacy responses sometimes send a list or a
	// string here.
	Data json.RawMessage `json:"data"`
}

type legacyData struct {
	Status        flexString `json:"status"`
	OrderStatus   flexString `json:"OrderStatus"`
	CurrentStatus flexString `json:"currentStatus"`
}

// OrderSummary fetches the partner's view of the order with reference ref.
// An auth signal in the body is returned as a SummaryAuthError value, not as
// an error; transport and HTTP-level failures are errors.
func (c *Client) OrderSummary(ctx context.Context, cred domain.Credential, ref string) (Summary, error) {
	body, err := c.post(ctx, call{
		endpoint: EndpointOrderSummary,
		path:     PathOrderSummary,
		priority: gate.PriorityLow,
		cred:     &cred,
		body:     summaryRequest{OrderNo: ref, RespID: cred.RespID},
	})
	if err != nil {
		return Summary{}, err
	}
	return DecodeSummary(body)
}

// DecodeSummary classifies an order-summary body. The primary orderMaster
// shape wins over the legacy data object; within the legacy object status,
// OrderStatus and currentStatus are tried in that order.
func DecodeSummary(body []byte) (Summary, error) {
	var w summaryWire
	if err := json.Unmarshal(body, &w); err != nil {
		return Summary{}, fmt.Errorf("%w: decode order summary: %v", ErrRejected, err)
	}

	s := Summary{Message: strings.TrimSpace(w.Response), Raw: json.RawMessage(body)}
	if IsAuthFailureText(w.Response) {
		s.Kind = SummaryAuthError
		return s, nil
	}

	for _, b := range w.BenMaster {
		s.Beneficiaries = append(s.Beneficiaries, BeneficiaryReport{
			ID:     string(b.ID),
			Name:   string(b.Name),
			URL:    string(b.URL),
			Status: string(b.Status),
		})
	}

	if status := primaryStatus(w); status != "" {
		s.Kind, s.Status = SummaryRecognized, status
		return s, nil
	}
	if status := legacyStatus(w); status != "" {
		s.Kind, s.Status = SummaryRecognized, status
		return s, nil
	}
	s.Kind = SummaryUnrecognized
	return s, nil
}

func primaryStatus(w summaryWire) string {
	for _, om := range w.OrderMaster {
		if st := normalizeStatus(string(om.Status)); st != "" {
			return st
		}
	}
	return ""
}

func legacyStatus(w summaryWire) string {
	var d legacyData
	if len(w.Data) == 0 || json.Unmarshal(w.Data, &d) != nil {
		return ""
	}
	for _, v := range []flexString{d.Status, d.OrderStatus, d.CurrentStatus} {
		if st := normalizeStatus(string(v)); st != "" {
			return st
		}
	}
	return ""
}

func normalizeStatus(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

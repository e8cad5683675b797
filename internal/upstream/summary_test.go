package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/tbourn/go-labsync-backend/internal/domain"
)

func TestDecodeSummary(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		kind   SummaryKind
		status string
	}{
		{
			name:   "primary shape",
			body:   `{"response":"Success","orderMaster":[{"status":" done "}],"data":{"status":"PENDING"}}`,
			kind:   SummaryRecognized,
			status: "DONE",
		},
		{
			name:   "legacy status",
			body:   `{"data":{"status":"Report Ready"}}`,
			kind:   SummaryRecognized,
			status: "REPORT READY",
		},
		{
			name:   "legacy OrderStatus",
			body:   `{"data":{"OrderStatus":"failed"}}`,
			kind:   SummaryRecognized,
			status: "FAILED",
		},
		{
			name:   "legacy currentStatus",
			body:   `{"data":{"status":"","currentStatus":"SAMPLE COLLECTED"}}`,
			kind:   SummaryRecognized,
			status: "SAMPLE COLLECTED",
		},
		{
			name: "empty primary falls through to legacy",
			body: `{"orderMaster":[{"status":""}],"data":{"OrderStatus":"DONE"}}`,
			kind: SummaryRecognized, status: "DONE",
		},
		{
			name: "unrecognized",
			body: `{"response":"Success","orderMaster":[]}`,
			kind: SummaryUnrecognized,
		},
		{
			name: "legacy data that is not an object",
			body: `{"data":[]}`,
			kind: SummaryUnrecognized,
		},
		{
			name: "auth error wins over status",
			body: `{"response":"Invalid Api Key","orderMaster":[{"status":"DONE"}]}`,
			kind: SummaryAuthError,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := DecodeSummary([]byte(tc.body))
			if err != nil {
				t.Fatalf("DecodeSummary: %v", err)
			}
			if s.Kind != tc.kind || s.Status != tc.status {
				t.Fatalf("got (%s, %q); want (%s, %q)", s.Kind, s.Status, tc.kind, tc.status)
			}
			if string(s.Raw) != tc.body {
				t.Fatalf("raw body not preserved")
			}
		})
	}
}

func TestDecodeSummary_Malformed(t *testing.T) {
	if _, err := DecodeSummary([]byte(`<html>bad gateway</html>`)); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestSummary_ReportURLs(t *testing.T) {
	s, err := DecodeSummary([]byte(`{"orderMaster":[{"status":"DONE"}],"benMaster":[
		{"id":101,"name":"Asha","url":"https://r/101.pdf","status":"DONE"},
		{"id":"","name":"Ravi","url":"https://r/ravi.pdf"},
		{"id":"103","name":"Meera","url":""}
	]}`))
	if err != nil {
		t.Fatalf("DecodeSummary: %v", err)
	}
	urls := s.ReportURLs()
	if len(urls) != 2 || urls["101"] != "https://r/101.pdf" || urls["Ravi"] != "https://r/ravi.pdf" {
		t.Fatalf("unexpected report urls %v", urls)
	}
}

func TestOrderSummary_AuthSignalIsAValue(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"response":"Token Expired"}`)
	})
	s, err := c.OrderSummary(context.Background(), domain.Credential{APIKey: "K"}, "REF-1")
	if err != nil {
		t.Fatalf("OrderSummary: %v", err)
	}
	if s.Kind != SummaryAuthError || s.Message != "Token Expired" {
		t.Fatalf("unexpected summary %+v", s)
	}
}

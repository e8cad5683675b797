package docs

import (
	"encoding/json"
	"testing"

	"github.com/swaggo/swag"
)

func TestSwaggerDoc_RegisteredAndValidJSON(t *testing.T) {
	SwaggerInfo.BasePath = "/api/v9"
	t.Cleanup(func() { SwaggerInfo.BasePath = "/api/v1" })

	doc, err := swag.ReadDoc(SwaggerInfo.InstanceName())
	if err != nil {
		t.Fatalf("ReadDoc: %v", err)
	}
	var out struct {
		BasePath string                     `json:"basePath"`
		Paths    map[string]json.RawMessage `json:"paths"`
	}
	if err := json.Unmarshal([]byte(doc), &out); err != nil {
		t.Fatalf("doc is not JSON: %v", err)
	}
	if out.BasePath != "/api/v9" {
		t.Fatalf("basePath = %q", out.BasePath)
	}
	for _, p := range []string{"/orders", "/admin/orders/sync", "/upstream/status"} {
		if _, ok := out.Paths[p]; !ok {
			t.Fatalf("missing path %s", p)
		}
	}
}

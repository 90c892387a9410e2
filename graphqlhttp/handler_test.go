package graphqlhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/graphql-go/graphql"
	"golang.org/x/text/language"

	"github.com/graphbind/graphbind/eventbus"
	"github.com/graphbind/graphbind/events"
	"github.com/graphbind/graphbind/execution"
	"github.com/graphbind/graphbind/gqlctx"
)

// capture remembers request state observed inside the hello resolver.
type capture struct {
	mu        sync.Mutex
	carrier   gqlctx.Carrier
	locale    language.Tag
	hasLocale bool
}

func newTestHandler(t *testing.T, opts ...Option) (*Handler, *capture) {
	t.Helper()
	cap := &capture{}
	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"hello": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					cap.mu.Lock()
					cap.carrier = gqlctx.CarrierFrom(p.Context)
					cap.locale, cap.hasLocale = gqlctx.LocaleFrom(p.Context)
					cap.mu.Unlock()
					return "world", nil
				},
			},
			"fail": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return nil, &execution.Error{Message: "nope", Type: execution.ErrorTypeForbidden}
				},
			},
		},
	})
	src, err := execution.NewSource(graphql.SchemaConfig{Query: queryType})
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	return New(execution.NewService(src), opts...), cap
}

func postJSON(t *testing.T, h *Handler, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/graphql", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid response JSON: %v\n%s", err, w.Body.String())
	}
	return out
}

func TestPostQuery(t *testing.T) {
	h, _ := newTestHandler(t)

	w := postJSON(t, h, `{"query":"{ hello }"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	body := decodeBody(t, w)
	data := body["data"].(map[string]any)
	if data["hello"] != "world" {
		t.Fatalf("unexpected data: %v", body)
	}
	if _, ok := body["errors"]; ok {
		t.Fatalf("unexpected errors: %v", body)
	}
}

func TestGetQuery(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest("GET", "/graphql?query={hello}", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	data := decodeBody(t, w)["data"].(map[string]any)
	if data["hello"] != "world" {
		t.Fatalf("unexpected data: %v", data)
	}
}

func TestCarrierHeadersForwarded(t *testing.T) {
	h, cap := newTestHandler(t, WithCarrierHeaders("X-Tenant"))

	w := postJSON(t, h, `{"query":"{ hello }"}`, func(r *http.Request) {
		r.Header.Set("X-Tenant", "acme")
		r.Header.Set("X-Other", "nope")
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}

	cap.mu.Lock()
	defer cap.mu.Unlock()
	v, ok := cap.carrier.Value(HeaderKey("x-tenant"))
	if !ok {
		t.Fatalf("x-tenant missing from carrier")
	}
	if vals := v.([]string); len(vals) != 1 || vals[0] != "acme" {
		t.Fatalf("unexpected x-tenant values: %v", vals)
	}
	if _, ok := cap.carrier.Value(HeaderKey("x-other")); ok {
		t.Fatalf("x-other should not be forwarded")
	}
}

func TestCarrierHeadersDefaultEmpty(t *testing.T) {
	h, cap := newTestHandler(t)

	w := postJSON(t, h, `{"query":"{ hello }"}`, func(r *http.Request) {
		r.Header.Set("X-Tenant", "acme")
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}

	cap.mu.Lock()
	defer cap.mu.Unlock()
	if _, ok := cap.carrier.Value(HeaderKey("x-tenant")); ok {
		t.Fatalf("header should not be forwarded by default")
	}
}

func TestCarrierFuncEnriches(t *testing.T) {
	type tenantKey struct{}
	h, cap := newTestHandler(t, WithCarrierFunc(func(r *http.Request, c gqlctx.Carrier) gqlctx.Carrier {
		return c.With(tenantKey{}, r.Header.Get("X-Tenant"))
	}))

	w := postJSON(t, h, `{"query":"{ hello }"}`, func(r *http.Request) {
		r.Header.Set("X-Tenant", "acme")
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}

	cap.mu.Lock()
	defer cap.mu.Unlock()
	if v, _ := cap.carrier.Value(tenantKey{}); v != "acme" {
		t.Fatalf("carrier func value missing: %v", v)
	}
}

func TestAcceptLanguageBecomesLocale(t *testing.T) {
	h, cap := newTestHandler(t)

	w := postJSON(t, h, `{"query":"{ hello }"}`, func(r *http.Request) {
		r.Header.Set("Accept-Language", "ko-KR,ko;q=0.9")
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}

	cap.mu.Lock()
	defer cap.mu.Unlock()
	if !cap.hasLocale {
		t.Fatalf("locale missing from request context")
	}
	if got := cap.locale.String(); got != "ko-KR" {
		t.Fatalf("unexpected locale %q", got)
	}
}

func TestMaxBodyBytes(t *testing.T) {
	h, _ := newTestHandler(t, WithMaxBodyBytes(10))

	w := postJSON(t, h, `{"query":"{ hello hello hello }"}`)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 got %d", w.Code)
	}
}

func TestBatchRequests(t *testing.T) {
	h, _ := newTestHandler(t)

	w := postJSON(t, h, `[{"query":"{ hello }"},{"query":"{ fail }"}]`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}

	var out []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid batch JSON: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	if data := out[0]["data"].(map[string]any); data["hello"] != "world" {
		t.Fatalf("unexpected first result: %v", out[0])
	}
	errs := out[1]["errors"].([]any)
	if msg := errs[0].(map[string]any)["message"]; msg != "nope" {
		t.Fatalf("unexpected second result error: %v", out[1])
	}
}

func TestApplicationGraphQLBody(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest("POST", "/graphql", strings.NewReader(`{ hello }`))
	req.Header.Set("Content-Type", "application/graphql")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	data := decodeBody(t, w)["data"].(map[string]any)
	if data["hello"] != "world" {
		t.Fatalf("unexpected data: %v", data)
	}
}

func TestFormURLEncodedBody(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest("POST", "/graphql", strings.NewReader("query={ hello }"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	data := decodeBody(t, w)["data"].(map[string]any)
	if data["hello"] != "world" {
		t.Fatalf("unexpected data: %v", data)
	}
}

func TestUnsupportedContentType(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest("POST", "/graphql", strings.NewReader(`{ hello }`))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415 got %d", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest("PUT", "/graphql", strings.NewReader(`{"query":"{ hello }"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", w.Code)
	}
}

func TestGraphiQLServedToBrowsers(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest("GET", "/graphql", nil)
	req.Header.Set("Accept", "text/html")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(w.Body.String(), "GraphiQL") {
		t.Fatalf("IDE page not served")
	}

	// A query parameter takes precedence over the IDE.
	req = httptest.NewRequest("GET", "/graphql?query={hello}", nil)
	req.Header.Set("Accept", "text/html")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("expected JSON response, got %q", ct)
	}
}

func TestSubscriptionOverHTTPRejected(t *testing.T) {
	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"ok": &graphql.Field{
				Type:    graphql.Boolean,
				Resolve: func(graphql.ResolveParams) (interface{}, error) { return true, nil },
			},
		},
	})
	subType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Subscription",
		Fields: graphql.Fields{
			"ticks": &graphql.Field{
				Type:      graphql.Int,
				Subscribe: func(graphql.ResolveParams) (interface{}, error) { return nil, nil },
			},
		},
	})
	src, err := execution.NewSource(graphql.SchemaConfig{Query: queryType, Subscription: subType})
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	h := New(execution.NewService(src))

	w := postJSON(t, h, `{"query":"subscription { ticks }"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", w.Code)
	}
}

func TestHandlerPublishesHTTPEvents(t *testing.T) {
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })

	var mu sync.Mutex
	var statuses []int
	t.Cleanup(eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, e.Status)
	}))

	h, _ := newTestHandler(t)
	w := postJSON(t, h, `{"query":"{ hello }"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(statuses) != 1 || statuses[0] != http.StatusOK {
		t.Fatalf("unexpected HTTPFinish statuses: %v", statuses)
	}
}

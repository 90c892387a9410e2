// Package graphqlhttp serves GraphQL over HTTP. It parses single and
// batched requests, builds the per-request carrier from headers and the
// client connection, runs the execution service, and writes responses in
// the standard GraphQL response shape.
package graphqlhttp

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/graphbind/graphbind/eventbus"
	"github.com/graphbind/graphbind/events"
	"github.com/graphbind/graphbind/execution"
	"github.com/graphbind/graphbind/gqlctx"
	"github.com/graphbind/graphbind/requestid"
)

// Handler is an http.Handler that serves a GraphQL endpoint.
type Handler struct {
	svc *execution.Service
	opt Options
}

// CarrierFunc enriches the request carrier from the incoming request.
type CarrierFunc func(r *http.Request, c gqlctx.Carrier) gqlctx.Carrier

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CarrierHeaders lists HTTP headers to copy into the request carrier.
	// Header names are case-insensitive. Default is none.
	CarrierHeaders []string

	// CarrierFunc, when set, runs after header forwarding and may extend or
	// replace the carrier.
	CarrierFunc CarrierFunc

	// GraphiQL enables the in-browser IDE when true.
	GraphiQL bool

	// Log receives transport-level failures.
	Log *zap.Logger
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCarrierHeaders(headers ...string) Option {
	return func(o *Options) { o.CarrierHeaders = headers }
}
func WithCarrierFunc(fn CarrierFunc) Option { return func(o *Options) { o.CarrierFunc = fn } }
func WithGraphiQL(enable bool) Option       { return func(o *Options) { o.GraphiQL = enable } }
func WithLogger(log *zap.Logger) Option     { return func(o *Options) { o.Log = log } }

// HeaderKey is the carrier key under which a forwarded HTTP header's values
// are stored. Header names are lower-cased.
type HeaderKey string

// New creates a GraphQL HTTP handler executing against svc.
func New(svc *execution.Service, opts ...Option) *Handler {
	op := Options{Timeout: 10 * time.Second, GraphiQL: true, Log: zap.NewNop()}
	for _, f := range opts {
		f(&op)
	}
	return &Handler{svc: svc, opt: op}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, _ = requestid.NewContext(ctx)
	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: status, Duration: time.Since(start)})
	}()

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, errorResponse("method not allowed"), h.opt.Pretty)
		return
	}

	// Serve the GraphiQL IDE when enabled and the client expects HTML.
	if r.Method == http.MethodGet && h.opt.GraphiQL && acceptsHTML(r.Header.Get("Accept")) && r.URL.Query().Get("query") == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(graphiqlPage)
		return
	}

	if tag, ok := acceptLanguage(r.Header.Get("Accept-Language")); ok {
		ctx = gqlctx.WithLocale(ctx, tag)
	}

	single, batch, perr := parseRequest(r, h.opt.MaxBodyBytes)
	if perr != nil {
		status = perr.Status
		writeJSON(w, status, errorResponse(perr.Message), h.opt.Pretty)
		return
	}

	if batch != nil {
		out := make([]any, len(batch))
		for i := range batch {
			out[i], _ = h.executeOne(ctx, r, batch[i])
		}
		writeJSON(w, status, out, h.opt.Pretty)
		return
	}

	res, st := h.executeOne(ctx, r, single)
	status = st
	writeJSON(w, status, res, h.opt.Pretty)
}

func (h *Handler) executeOne(ctx context.Context, r *http.Request, req request) (any, int) {
	resp, err := h.svc.Execute(ctx, execution.Request{
		Query:         req.Query,
		OperationName: req.OperationName,
		Variables:     req.Variables,
		Carrier:       h.buildCarrier(ctx, r),
	})
	if err != nil {
		h.opt.Log.Warn("graphql request rejected", zap.Error(err))
		return errorResponse(err.Error()), http.StatusBadRequest
	}
	return toResponse(resp), http.StatusOK
}

// buildCarrier assembles the transport carrier: forwarded headers, the
// caller's enrichment, and a cancellation signal fired when the client
// connection goes away.
func (h *Handler) buildCarrier(ctx context.Context, r *http.Request) gqlctx.Carrier {
	c := gqlctx.New()
	for _, name := range h.opt.CarrierHeaders {
		if vals, ok := r.Header[http.CanonicalHeaderKey(name)]; ok {
			c = c.With(HeaderKey(strings.ToLower(name)), append([]string(nil), vals...))
		}
	}
	if h.opt.CarrierFunc != nil {
		c = h.opt.CarrierFunc(r, c)
	}
	sig := gqlctx.NewCancelSignal()
	go func() {
		<-ctx.Done()
		sig.Fire()
	}()
	return gqlctx.WithCancel(c, sig)
}

func acceptLanguage(header string) (language.Tag, bool) {
	if header == "" {
		return language.Und, false
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return language.Und, false
	}
	return tags[0], true
}

// ------------------ Request parsing ------------------

type request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

type parseError struct {
	Message string
	Status  int
}

func parseRequest(r *http.Request, maxBody int64) (request, []request, *parseError) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return request{}, nil, &parseError{Message: "missing 'query'", Status: http.StatusBadRequest}
		}
		vars := map[string]any{}
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &vars); err != nil {
				return request{}, nil, &parseError{Message: "invalid 'variables' JSON", Status: http.StatusBadRequest}
			}
		}
		op := r.URL.Query().Get("operationName")
		return request{Query: q, Variables: vars, OperationName: op}, nil, nil
	}

	// POST
	mediaType := "application/json"
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil {
			return request{}, nil, &parseError{Message: "invalid Content-Type", Status: http.StatusUnsupportedMediaType}
		}
		mediaType = mt
	}

	switch mediaType {
	case "application/json":
		body, perr := readBody(r, maxBody)
		if perr != nil {
			return request{}, nil, perr
		}

		// Try array (batch)
		if len(body) > 0 && body[0] == '[' {
			var arr []request
			if err := json.Unmarshal(body, &arr); err != nil {
				return request{}, nil, &parseError{Message: "invalid JSON", Status: http.StatusBadRequest}
			}
			if len(arr) == 0 {
				return request{}, nil, &parseError{Message: "empty batch", Status: http.StatusBadRequest}
			}
			return request{}, arr, nil
		}
		// Single
		var req request
		if err := json.Unmarshal(body, &req); err != nil {
			return request{}, nil, &parseError{Message: "invalid JSON", Status: http.StatusBadRequest}
		}
		if req.Query == "" {
			return request{}, nil, &parseError{Message: "missing 'query'", Status: http.StatusBadRequest}
		}
		if req.Variables == nil {
			req.Variables = map[string]any{}
		}
		return req, nil, nil

	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return request{}, nil, &parseError{Message: "invalid form body", Status: http.StatusBadRequest}
		}
		q := r.PostFormValue("query")
		if q == "" {
			return request{}, nil, &parseError{Message: "missing 'query'", Status: http.StatusBadRequest}
		}
		return request{Query: q, OperationName: r.PostFormValue("operationName")}, nil, nil

	case "application/graphql":
		body, perr := readBody(r, maxBody)
		if perr != nil {
			return request{}, nil, perr
		}
		if len(body) == 0 {
			return request{}, nil, &parseError{Message: "missing 'query'", Status: http.StatusBadRequest}
		}
		return request{Query: string(body)}, nil, nil
	}

	return request{}, nil, &parseError{Message: "unsupported Content-Type", Status: http.StatusUnsupportedMediaType}
}

func readBody(r *http.Request, maxBody int64) ([]byte, *parseError) {
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &parseError{Message: "failed to read body", Status: http.StatusBadRequest}
	}
	if maxBody > 0 && int64(len(body)) > maxBody {
		return nil, &parseError{Message: "body too large", Status: http.StatusRequestEntityTooLarge}
	}
	return body, nil
}

// ------------------ Response formatting ------------------

type responseLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type responseError struct {
	Message    string             `json:"message"`
	Locations  []responseLocation `json:"locations,omitempty"`
	Path       []any              `json:"path,omitempty"`
	Extensions map[string]any     `json:"extensions,omitempty"`
}

type response struct {
	Data   any             `json:"data"`
	Errors []responseError `json:"errors,omitempty"`
}

func errorResponse(message string) response {
	return response{Errors: []responseError{{Message: message}}}
}

func toResponse(resp *execution.Response) response {
	out := response{Data: resp.Data}
	if len(resp.Errors) == 0 {
		return out
	}
	out.Errors = make([]responseError, len(resp.Errors))
	for i, e := range resp.Errors {
		re := responseError{Message: e.Message, Extensions: e.Extensions}
		for _, loc := range e.Locations {
			re.Locations = append(re.Locations, responseLocation{Line: loc.Line, Column: loc.Column})
		}
		if len(e.Path) > 0 {
			re.Path = append([]any(nil), e.Path...)
		}
		out.Errors[i] = re
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

func acceptsHTML(accept string) bool {
	if accept == "" {
		return false
	}
	for _, p := range strings.Split(accept, ",") {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, "text/html") || p == "*/*" {
			return true
		}
	}
	return false
}

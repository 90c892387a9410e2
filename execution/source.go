package execution

import (
	"strings"

	"github.com/graphql-go/graphql"
	"go.uber.org/zap"

	"github.com/graphbind/graphbind/batchload"
	"github.com/graphbind/graphbind/gqlctx"
)

// Source assembles the engine schema with every registered resolver
// decorated. Build it once at startup; afterwards it is immutable and safe
// for concurrent read-only use across all requests.
type Source struct {
	schema       graphql.Schema
	registry     *batchload.Registry
	accessors    []gqlctx.Accessor
	adapters     []Adapter
	errors       errorChain
	streamErrors streamChain
	log          *zap.Logger
}

type sourceOptions struct {
	registry        *batchload.Registry
	accessors       []gqlctx.Accessor
	adapters        []Adapter
	errorResolvers  []ErrorResolver
	streamResolvers []StreamErrorResolver
	log             *zap.Logger
}

// Option configures a Source.
type Option func(*sourceOptions)

// WithRegistry installs the application's batch loader registry. Every
// request executed against the source gets its own dispatcher set from it.
func WithRegistry(r *batchload.Registry) Option {
	return func(o *sourceOptions) { o.registry = r }
}

// WithAccessor appends an ambient-state accessor captured into every
// request snapshot.
func WithAccessor(a gqlctx.Accessor) Option {
	return func(o *sourceOptions) { o.accessors = append(o.accessors, a) }
}

// WithAdapter registers a result adapter consulted before the built-ins.
func WithAdapter(a Adapter) Option {
	return func(o *sourceOptions) { o.adapters = append(o.adapters, a) }
}

// WithErrorResolver appends a resolver to the ordinary chain. Order of
// registration is order of consultation.
func WithErrorResolver(r ErrorResolver) Option {
	return func(o *sourceOptions) { o.errorResolvers = append(o.errorResolvers, r) }
}

// WithStreamErrorResolver appends a resolver to the subscription chain.
func WithStreamErrorResolver(r StreamErrorResolver) Option {
	return func(o *sourceOptions) { o.streamResolvers = append(o.streamResolvers, r) }
}

// WithLogger sets the logger used for resolver-chain and stream failures.
func WithLogger(log *zap.Logger) Option {
	return func(o *sourceOptions) { o.log = log }
}

func defaultSourceOptions() sourceOptions {
	return sourceOptions{log: zap.NewNop()}
}

// NewSource builds the engine schema from config and decorates its code
// registry: a one-time, non-concurrent, post-construction walk over the
// schema tree.
func NewSource(config graphql.SchemaConfig, opts ...Option) (*Source, error) {
	o := defaultSourceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	schema, err := graphql.NewSchema(config)
	if err != nil {
		return nil, err
	}
	s := &Source{
		schema:       schema,
		registry:     o.registry,
		accessors:    o.accessors,
		adapters:     append(o.adapters, builtinAdapters()...),
		errors:       errorChain{resolvers: o.errorResolvers, log: o.log},
		streamErrors: streamChain{resolvers: o.streamResolvers, log: o.log},
		log:          o.log,
	}
	s.decorateSchema()
	return s, nil
}

// Schema returns the engine schema with decorated resolvers.
func (s *Source) Schema() *graphql.Schema { return &s.schema }

// decorateSchema rewrites the schema's code registry in place. Fields with
// no resolver of their own fall back to the engine's default property
// accessor and stay undecorated, as do the engine's introspection types.
// Subscription-root fields get the stream-enforcing wrappers instead.
func (s *Source) decorateSchema() {
	subRoot := s.schema.SubscriptionType()
	for name, t := range s.schema.TypeMap() {
		obj, ok := t.(*graphql.Object)
		if !ok || strings.HasPrefix(name, "__") {
			continue
		}
		for fieldName, fd := range obj.Fields() {
			if subRoot != nil && obj == subRoot {
				inner := fd.Resolve
				var resolved graphql.FieldResolveFn
				if inner != nil {
					resolved = s.decorate(obj.Name(), fieldName, inner)
				}
				fd.Resolve = s.subscriptionResolve(resolved)
				if fd.Subscribe != nil {
					fd.Subscribe = s.decorateSubscribe(obj.Name(), fieldName, fd.Subscribe)
				}
				continue
			}
			if fd.Resolve == nil {
				continue
			}
			fd.Resolve = s.decorate(obj.Name(), fieldName, fd.Resolve)
		}
	}
}

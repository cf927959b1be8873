// Package registry wraps the external citation registry used to verify the
// normative basis references of decision points. The registry itself is an
// external collaborator; only its typed contract, a bounded local cache and
// the time-boxed rediscovery policy live here. Lookup failures are never
// fatal: an unverifiable basis becomes an unknown, not an error.
package registry

import (
	"context"
	"time"

	"github.com/veridict/veridict/internal/logging"
)

// Tri is a three-valued lookup answer.
type Tri int

const (
	TriUnknown Tri = iota
	TriYes
	TriNo
)

func (t Tri) String() string {
	switch t {
	case TriYes:
		return "yes"
	case TriNo:
		return "no"
	default:
		return "unknown"
	}
}

// Client is the registry's boundary contract.
type Client interface {
	// Resolve maps a registry name to its id.
	Resolve(ctx context.Context, name string) (string, error)

	// Exists checks whether a reference exists under an id.
	Exists(ctx context.Context, id, reference string) (Tri, error)
}

// Verifier checks basis references through a Client, caching resolved names
// and time-boxing every remote lookup.
type Verifier struct {
	client  Client
	cache   *Cache
	timeout time.Duration
	logger  *logging.Logger
}

// NewVerifier creates a Verifier. timeout bounds each rediscovery attempt
// when a lookup misses the cache.
func NewVerifier(client Client, cacheSize int, timeout time.Duration, logger *logging.Logger) *Verifier {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Verifier{
		client:  client,
		cache:   NewCache(cacheSize),
		timeout: timeout,
		logger:  logger,
	}
}

// VerifyRef checks one basis reference against the registry. Resolution
// misses trigger a time-boxed rediscovery; any failure degrades to
// TriUnknown.
func (v *Verifier) VerifyRef(ctx context.Context, name, reference string) Tri {
	id, ok := v.cache.Get(name)
	if !ok {
		var err error
		id, err = v.rediscover(ctx, name)
		if err != nil {
			v.logger.Debug("registry resolution failed", "name", name, "error", err)
			return TriUnknown
		}
		v.cache.Put(name, id)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	result, err := v.client.Exists(lookupCtx, id, reference)
	if err != nil {
		v.logger.Debug("registry existence check failed",
			"name", name, "reference", reference, "error", err)
		return TriUnknown
	}
	return result
}

func (v *Verifier) rediscover(ctx context.Context, name string) (string, error) {
	resolveCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	return v.client.Resolve(resolveCtx, name)
}

// Package graph exposes a narrow API over the property graph store. All
// callers see read/write scoped transaction closures; sessions never leak
// across calls.
package graph

import (
	"context"
	"regexp"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	neo4jcfg "github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
	"github.com/sirupsen/logrus"

	"hivehub.dev/common"
	"hivehub.dev/fault"
)

// Options configures the session pool.
type Options struct {
	URI      string
	Username string
	Password string
	Database string

	// MaxPoolSize is the maximum number of pooled connections
	MaxPoolSize int

	// MaxRetryTime bounds managed-transaction retries
	MaxRetryTime time.Duration

	// AcquireTimeout bounds connection acquisition; exhaustion surfaces
	// as BackendUnavailable
	AcquireTimeout time.Duration
}

// Pool wraps the bolt driver with scoped transaction helpers.
type Pool struct {
	driver   neo4j.DriverWithContext
	database string
}

// TxFunc is the unit of work executed inside a managed transaction.
// The pool commits on nil error and rolls back otherwise.
type TxFunc func(ctx context.Context, tx neo4j.ManagedTransaction) (interface{}, error)

// NewPool connects to the graph store and verifies connectivity.
func NewPool(ctx context.Context, opts Options) (*Pool, error) {
	driver, err := neo4j.NewDriverWithContext(opts.URI, neo4j.BasicAuth(opts.Username, opts.Password, ""),
		func(c *neo4jcfg.Config) {
			if opts.MaxPoolSize > 0 {
				c.MaxConnectionPoolSize = opts.MaxPoolSize
			}
			if opts.MaxRetryTime > 0 {
				c.MaxTransactionRetryTime = opts.MaxRetryTime
			}
			if opts.AcquireTimeout > 0 {
				c.ConnectionAcquisitionTimeout = opts.AcquireTimeout
			}
		})
	if err != nil {
		return nil, fault.Unavailable(err, "failed to create graph driver")
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fault.Unavailable(err, "failed to connect to graph store at %s", opts.URI)
	}

	common.Logger.WithFields(logrus.Fields{
		"uri":      opts.URI,
		"database": opts.Database,
		"pool":     opts.MaxPoolSize,
	}).Info("Graph pool connected")

	return &Pool{
		driver:   driver,
		database: opts.Database,
	}, nil
}

// ReadTx runs fn inside a read transaction on a fresh session.
func (p *Pool) ReadTx(ctx context.Context, fn TxFunc) (interface{}, error) {
	session := p.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: p.database,
	})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return fn(ctx, tx)
	})
	if err != nil {
		return nil, translate(err)
	}
	return result, nil
}

// WriteTx runs fn inside a write transaction on a fresh session.
func (p *Pool) WriteTx(ctx context.Context, fn TxFunc) (interface{}, error) {
	session := p.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: p.database,
	})
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return fn(ctx, tx)
	})
	if err != nil {
		return nil, translate(err)
	}
	return result, nil
}

// Health holds the outcome of a connectivity probe.
type Health struct {
	Healthy   bool   `json:"healthy"`
	LatencyMS int64  `json:"latency_ms"`
	Reason    string `json:"reason,omitempty"`
}

// Health executes RETURN 1 on a fresh session and reports latency.
func (p *Pool) Health(ctx context.Context) Health {
	start := time.Now()

	session := p.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: p.database,
	})
	defer session.Close(ctx)

	result, err := session.Run(ctx, "RETURN 1", nil)
	if err == nil {
		_, err = result.Consume(ctx)
	}

	h := Health{
		Healthy:   err == nil,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		h.Reason = err.Error()
	}
	return h
}

// Close drains the pool.
func (p *Pool) Close(ctx context.Context) error {
	return p.driver.Close(ctx)
}

// identRe matches safe Cypher identifiers. Labels and relationship types
// are interpolated into query text (Cypher cannot parameterize them), so
// anything else is rejected before it reaches the store.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func safeLabel(label string) (string, error) {
	if !identRe.MatchString(label) {
		return "", fault.Invalid("invalid label %q", label)
	}
	return label, nil
}

func safeRelType(relType string) (string, error) {
	if !identRe.MatchString(relType) {
		return "", fault.Invalid("invalid relationship type %q", relType)
	}
	return relType, nil
}

// checkProps rejects property values the store cannot hold. Values must be
// scalars or lists of scalars; nested maps are not node properties.
func checkProps(props map[string]interface{}) error {
	for key, value := range props {
		if _, ok := value.(map[string]interface{}); ok {
			return fault.Invalid("property %q: nested maps are not supported", key)
		}
	}
	return nil
}

// requireID extracts the mandatory id property.
func requireID(props map[string]interface{}) (string, error) {
	raw, ok := props["id"]
	if !ok {
		return "", fault.Invalid("props.id is required")
	}
	id, ok := raw.(string)
	if !ok || id == "" {
		return "", fault.Invalid("props.id must be a non-empty string")
	}
	return id, nil
}

func clampLimit(limit, fallback, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

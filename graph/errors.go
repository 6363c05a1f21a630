package graph

import (
	"context"
	"errors"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"hivehub.dev/fault"
)

// translate maps driver errors onto the hub taxonomy. Errors that already
// carry a kind pass through untouched so handler-level NotFound/Duplicate
// survive the transaction boundary.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Expired(err, "graph operation deadline exceeded")
	}
	if errors.Is(err, context.Canceled) {
		return fault.Expired(err, "graph operation canceled")
	}

	if neo4j.IsConnectivityError(err) {
		return fault.Unavailable(err, "graph store unreachable")
	}

	var serverErr *neo4j.Neo4jError
	if errors.As(err, &serverErr) {
		switch {
		case strings.Contains(serverErr.Code, "ConstraintValidation"):
			return fault.Wrap(fault.Duplicate, err, "unique constraint violated")
		case strings.Contains(serverErr.Code, "Security"):
			return fault.Unavailable(err, "graph store rejected credentials")
		default:
			return fault.Unexpected(err, "graph store error")
		}
	}

	return fault.Unexpected(err, "graph operation failed")
}

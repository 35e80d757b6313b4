// Package transport wraps the external labeling service. The service's
// label-schema validation, signing, and transaction construction are its
// own concern; the bridge treats submission as an opaque call that can fail.
package transport

import (
	"context"
	"fmt"

	"github.com/openlabels/sourcify-bridge/internal/tags"
)

// Label is one submission payload: a checksummed address, a namespaced
// chain id, and the record's tag set.
type Label struct {
	Address string   `json:"address"`
	ChainID string   `json:"chain_id"`
	Tags    tags.Set `json:"tags"`
}

// Client submits labels to the external attestation service.
type Client interface {
	// SubmitOne sends a single label and returns the transport
	// reference: a transaction hash on-chain, an opaque response id
	// off-chain.
	SubmitOne(ctx context.Context, label Label) (string, error)

	// SubmitMany sends multiple labels in one atomic on-chain call.
	// A non-nil error means nothing in the batch can be assumed
	// submitted; the caller falls back to the individual path.
	SubmitMany(ctx context.Context, labels []Label) (txHash string, refs []string, err error)

	// Validate checks a label against the service's schema rules
	// without submitting it.
	Validate(ctx context.Context, label Label) (bool, error)

	Close() error
}

// ChainID renders a numeric chain id in the service's namespaced form,
// e.g. "eip155:1". The service never accepts a bare integer.
func ChainID(namespace string, id int64) string {
	return fmt.Sprintf("%s:%d", namespace, id)
}

// Package tags converts candidate records into the OLI tag vocabulary.
package tags

import "encoding/json"

// Tag names from the OLI label schema.
const (
	TagSourceVerified  = "source_code_verified"
	TagIsContract      = "is_contract"
	TagCodeLanguage    = "code_language"
	TagCodeCompiler    = "code_compiler"
	TagDeploymentBlock = "deployment_block"
	TagDeploymentTx    = "deployment_tx"
	TagDeployer        = "deployer_address"
	TagContractName    = "contract_name"
)

// SourceValue marks where the verification came from. Constant for this
// bridge: every candidate originates from Sourcify.
const SourceValue = "sourcify"

// Set is one label's tags: tag name to typed value (string, bool or int64).
// A fresh Set is produced per record and owned by the submission that
// carries it; the ledger stores an immutable canonical copy for audit.
type Set map[string]any

// Canonical returns the deterministic JSON serialization of the set.
// encoding/json sorts map keys, so equal sets always serialize
// byte-identically.
func (s Set) Canonical() ([]byte, error) {
	return json.Marshal(s)
}

// MustCanonical is Canonical for sets known to hold only JSON-safe values.
func (s Set) MustCanonical() []byte {
	b, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}
	return b
}

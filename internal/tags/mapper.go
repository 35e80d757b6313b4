package tags

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openlabels/sourcify-bridge/internal/candidate"
)

// languageAllowList holds the languages the OLI schema accepts. Anything
// else is dropped from the tag set rather than rejected.
var languageAllowList = map[string]bool{
	"solidity": true,
	"vyper":    true,
	"yul":      true,
	"fe":       true,
	"huff":     true,
}

// Map converts a candidate record into its OLI tag set. The mapping is pure
// and deterministic: the two mandatory tags are always present, optional
// tags appear only when the source field is present and well formed, and a
// malformed optional field is silently omitted, never an error.
func Map(rec candidate.Record) Set {
	s := Set{
		TagSourceVerified: SourceValue,
		TagIsContract:     true,
	}

	if lang := strings.ToLower(strings.TrimSpace(rec.Language)); languageAllowList[lang] {
		s[TagCodeLanguage] = lang
	}

	if rec.Compiler != "" {
		s[TagCodeCompiler] = rec.Compiler
	}

	if rec.DeploymentBlock != nil {
		s[TagDeploymentBlock] = *rec.DeploymentBlock
	}

	if ValidTxHash(rec.DeploymentTx) {
		s[TagDeploymentTx] = rec.DeploymentTx
	}

	if common.IsHexAddress(rec.Deployer) && strings.HasPrefix(rec.Deployer, "0x") {
		s[TagDeployer] = rec.Deployer
	}

	if name := strings.TrimSpace(rec.Name); name != "" {
		s[TagContractName] = name
	}

	return s
}

// ValidTxHash reports whether s has the 0x-prefixed 32-byte hex hash shape.
func ValidTxHash(s string) bool {
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, c := range s[2:] {
		if !isHexChar(byte(c)) {
			return false
		}
	}
	return true
}

func isHexChar(c byte) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case c >= 'a' && c <= 'f':
		return true
	case c >= 'A' && c <= 'F':
		return true
	}
	return false
}

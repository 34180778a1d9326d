package scaffold

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/jonathan/role-audition/internal/types"
)

// BankIDPrefix starts every bank_id.
const BankIDPrefix = "bank_"

// bankIDHexLen is the number of digest hex characters kept (128 bits).
const bankIDHexLen = 32

type fingerprintInput struct {
	Definition map[string]string `json:"definition"`
	Family     string            `json:"role_family"`
	Seniority  string            `json:"seniority"`
	Startup    bool              `json:"is_startup_context"`
	People     bool              `json:"is_people_management"`
	Dimensions []types.Dimension `json:"dimensions"`
}

// Fingerprint derives the bank_id for a (definition, flags, dimensions) tuple.
// Whitespace differences and empty-versus-"Not specified" fields do not change
// the result; dimension order does.
func Fingerprint(def types.RoleDefinitionData, flags types.RoleContextFlags, dims []types.Dimension) string {
	normalized := def
	normalized.AdditionalContext = nil
	normalized.FillDefaults()

	in := fingerprintInput{
		Definition: make(map[string]string, len(types.RoleDefinitionFields)+len(def.AdditionalContext)),
		Family:     strings.ToLower(collapse(flags.RoleFamily)),
		Seniority:  collapse(flags.Seniority),
		Startup:    flags.IsStartupContext,
		People:     flags.IsPeopleManagement,
		Dimensions: dims,
	}
	if in.Seniority == "" {
		in.Seniority = types.SeniorityNotSpecified
	}
	for _, name := range types.RoleDefinitionFields {
		v, _ := normalized.Get(name)
		in.Definition[name] = collapse(v)
	}
	for k, v := range def.AdditionalContext {
		if v = collapse(v); v != "" {
			in.Definition["x:"+collapse(k)] = v
		}
	}

	// encoding/json sorts map keys, so the encoding is canonical.
	payload, _ := json.Marshal(in)
	sum := sha256.Sum256(payload)
	return BankIDPrefix + hex.EncodeToString(sum[:])[:bankIDHexLen]
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

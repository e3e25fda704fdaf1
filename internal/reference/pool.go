package reference

import "strings"

// PoolType is the pool-type variant reported by the classification layer.
type PoolType int32

const (
	PoolTypeUnknown PoolType = iota
	PoolTypePlain
	PoolTypeCrypto
	PoolTypeTricrypto
	PoolTypeMeta
	PoolTypeLending
	PoolTypeWildcard
)

func (t PoolType) String() string {
	switch t {
	case PoolTypePlain:
		return "plain"
	case PoolTypeCrypto:
		return "crypto"
	case PoolTypeTricrypto:
		return "tricrypto"
	case PoolTypeMeta:
		return "meta"
	case PoolTypeLending:
		return "lending"
	case PoolTypeWildcard:
		return "wildcard"
	default:
		return "unknown"
	}
}

// ParsePoolType maps a wire name to a PoolType. Unknown names map to
// PoolTypeUnknown.
func ParsePoolType(s string) PoolType {
	switch strings.ToLower(s) {
	case "plain":
		return PoolTypePlain
	case "crypto":
		return PoolTypeCrypto
	case "tricrypto":
		return PoolTypeTricrypto
	case "meta":
		return PoolTypeMeta
	case "lending":
		return PoolTypeLending
	case "wildcard":
		return PoolTypeWildcard
	default:
		return PoolTypeUnknown
	}
}

// Pool is an immutable pool record. Addresses are lower-case hex.
type Pool struct {
	Address      string   `json:"address"`
	Name         string   `json:"name"`
	Symbol       string   `json:"symbol"`
	InputTokens  []string `json:"input_tokens"`
	OutputToken  string   `json:"output_token"`
	Type         PoolType `json:"type"`
	Registry     string   `json:"registry"`
	BasePool     string   `json:"base_pool,omitempty"`
	CreatedBlock uint64   `json:"created_block"`
	CreatedAt    int64    `json:"created_at"`
}

// TokenIndex returns the position of token among the pool's input tokens.
func (p Pool) TokenIndex(token string) (int, bool) {
	token = NormalizeAddress(token)
	for i, t := range p.InputTokens {
		if t == token {
			return i, true
		}
	}
	return -1, false
}

// NormalizeAddress lower-cases and trims an address.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

package reference

// Directory is the read-only pool and token table consulted by the
// aggregators.
type Directory interface {
	Pool(address string) (Pool, bool)
	Token(address string) (Token, bool)
}

// StaticDirectory is an in-memory Directory, used by tests and tools.
type StaticDirectory struct {
	pools  map[string]Pool
	tokens map[string]Token
}

func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		pools:  make(map[string]Pool),
		tokens: make(map[string]Token),
	}
}

func (d *StaticDirectory) AddPool(p Pool) {
	d.pools[NormalizeAddress(p.Address)] = p
}

func (d *StaticDirectory) AddToken(t Token) {
	d.tokens[NormalizeAddress(t.Address)] = t
}

func (d *StaticDirectory) Pool(address string) (Pool, bool) {
	p, ok := d.pools[NormalizeAddress(address)]
	return p, ok
}

func (d *StaticDirectory) Token(address string) (Token, bool) {
	t, ok := d.tokens[NormalizeAddress(address)]
	return t, ok
}

package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Family tags a group of keys that share one meaning (pool TVL, daily pool
// volume, unique users, ...). It is a field of Key, never a string prefix, so
// two families can never be confused by a prefix match.
type Family string

const keySeparator = ":"

// Key addresses one value in a store: a metric family, the primary entity,
// an optional secondary entity and an optional bucket id.
type Key struct {
	Family    Family
	Primary   string
	Secondary string
	Bucket    int64
	Scoped    bool // Bucket is set
}

// NewKey creates an unscoped key for a single entity.
func NewKey(family Family, primary string) Key {
	return Key{Family: family, Primary: primary}
}

// With returns a copy of k with the secondary entity set.
func (k Key) With(secondary string) Key {
	k.Secondary = secondary
	return k
}

// InBucket returns a copy of k scoped to the given bucket.
func (k Key) InBucket(bucket int64) Key {
	k.Bucket = bucket
	k.Scoped = true
	return k
}

// String encodes the key as family:bucket:primary:secondary.
// An unscoped key has an empty bucket segment.
func (k Key) String() string {
	bucket := ""
	if k.Scoped {
		bucket = strconv.FormatInt(k.Bucket, 10)
	}
	return strings.Join([]string{
		escape(string(k.Family)),
		bucket,
		escape(k.Primary),
		escape(k.Secondary),
	}, keySeparator)
}

// ParseKey decodes a key produced by Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, keySeparator)
	if len(parts) != 4 {
		return Key{}, fmt.Errorf("malformed store key %q: want 4 segments, got %d", s, len(parts))
	}

	family, err := unescape(parts[0])
	if err != nil {
		return Key{}, fmt.Errorf("malformed store key %q: family: %w", s, err)
	}
	if family == "" {
		return Key{}, fmt.Errorf("malformed store key %q: empty family", s)
	}

	k := Key{Family: Family(family)}

	if parts[1] != "" {
		bucket, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return Key{}, fmt.Errorf("malformed store key %q: bucket: %w", s, err)
		}
		k.Bucket = bucket
		k.Scoped = true
	}

	if k.Primary, err = unescape(parts[2]); err != nil {
		return Key{}, fmt.Errorf("malformed store key %q: primary: %w", s, err)
	}
	if k.Secondary, err = unescape(parts[3]); err != nil {
		return Key{}, fmt.Errorf("malformed store key %q: secondary: %w", s, err)
	}

	return k, nil
}

// Prefix selects every key of a family, optionally narrowed to one bucket
// and/or one primary entity. It is matched field by field.
type Prefix struct {
	Family     Family
	Bucket     int64
	Scoped     bool
	Primary    string
	HasPrimary bool
}

// FamilyPrefix selects every key of a family.
func FamilyPrefix(family Family) Prefix {
	return Prefix{Family: family}
}

// BucketPrefix selects every key of a family that is scoped to bucket.
func BucketPrefix(family Family, bucket int64) Prefix {
	return Prefix{Family: family, Bucket: bucket, Scoped: true}
}

// EntityPrefix selects every key of a family owned by one primary entity.
func EntityPrefix(family Family, primary string) Prefix {
	return Prefix{Family: family, Primary: primary, HasPrimary: true}
}

// InBucket returns a copy of p narrowed to one bucket.
func (p Prefix) InBucket(bucket int64) Prefix {
	p.Bucket = bucket
	p.Scoped = true
	return p
}

// Matches reports whether k falls under p.
func (p Prefix) Matches(k Key) bool {
	if k.Family != p.Family {
		return false
	}
	if p.Scoped && (!k.Scoped || k.Bucket != p.Bucket) {
		return false
	}
	if p.HasPrimary && k.Primary != p.Primary {
		return false
	}
	return true
}

func (p Prefix) String() string {
	var b strings.Builder
	b.WriteString(escape(string(p.Family)))
	b.WriteString(keySeparator)
	if p.Scoped {
		b.WriteString(strconv.FormatInt(p.Bucket, 10))
	} else {
		b.WriteString("*")
	}
	b.WriteString(keySeparator)
	if p.HasPrimary {
		b.WriteString(escape(p.Primary))
	} else {
		b.WriteString("*")
	}
	return b.String()
}

var (
	escaper   = strings.NewReplacer("%", "%25", ":", "%3A")
	unescaper = strings.NewReplacer("%3A", ":", "%25", "%")
)

func escape(s string) string {
	return escaper.Replace(s)
}

func unescape(s string) (string, error) {
	if strings.Contains(strings.NewReplacer("%3A", "", "%25", "").Replace(s), "%") {
		return "", fmt.Errorf("invalid escape in %q", s)
	}
	return unescaper.Replace(s), nil
}

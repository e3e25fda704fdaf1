package timeframe

import "fmt"

// Granularity is a bucket width.
type Granularity uint8

const (
	GranularityUnknown Granularity = iota
	Daily
	Hourly
)

const (
	SecondsPerDay  int64 = 86400
	SecondsPerHour int64 = 3600
)

// All lists the tracked granularities in dispatch order.
var All = []Granularity{Daily, Hourly}

// Width returns the bucket width in seconds.
func (g Granularity) Width() int64 {
	switch g {
	case Daily:
		return SecondsPerDay
	case Hourly:
		return SecondsPerHour
	default:
		panic(fmt.Sprintf("FATAL: width of unknown granularity %d", g))
	}
}

func (g Granularity) String() string {
	switch g {
	case Daily:
		return "daily"
	case Hourly:
		return "hourly"
	default:
		return "unknown"
	}
}

// ParseGranularity maps a name back to a Granularity.
func ParseGranularity(s string) (Granularity, error) {
	switch s {
	case "daily":
		return Daily, nil
	case "hourly":
		return Hourly, nil
	default:
		return GranularityUnknown, fmt.Errorf("unknown granularity %q", s)
	}
}

// BucketID returns floor(timestamp / width).
func BucketID(timestamp int64, g Granularity) int64 {
	w := g.Width()
	id := timestamp / w
	if timestamp%w != 0 && timestamp < 0 {
		id--
	}
	return id
}

// BucketStart returns the first second of a bucket.
func BucketStart(bucket int64, g Granularity) int64 {
	return bucket * g.Width()
}

// DayID and HourID are shorthands used by the aggregators.
func DayID(timestamp int64) int64  { return BucketID(timestamp, Daily) }
func HourID(timestamp int64) int64 { return BucketID(timestamp, Hourly) }

func (g Granularity) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

func (g *Granularity) UnmarshalText(b []byte) error {
	parsed, err := ParseGranularity(string(b))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

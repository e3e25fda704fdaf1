package aggregate

import (
	"context"

	"DexMetrics/internal/event"
	"DexMetrics/internal/reference"
	"DexMetrics/internal/store"
	"DexMetrics/internal/timeframe"
)

// UsersStage marks users as seen (globally and per bucket) and counts
// transactions per type.
type UsersStage struct {
	env      Env
	users    *store.Store[int64]
	txCounts *store.Store[int64]
}

func NewUsersStage(env Env, s *State) *UsersStage {
	return &UsersStage{env: env, users: s.Users, txCounts: s.TxCounts}
}

func (s *UsersStage) Name() string { return "users" }

func (s *UsersStage) Outputs() []store.Unit {
	return []store.Unit{s.users, s.txCounts}
}

// txKind maps a user-facing event to its counter id.
func txKind(evt event.Event) (string, bool) {
	switch evt.Kind() {
	case event.KindSwap, event.KindSwapUnderlying:
		return TxSwap, true
	case event.KindDeposit:
		return TxDeposit, true
	case event.KindWithdraw:
		return TxWithdraw, true
	default:
		return "", false
	}
}

func (s *UsersStage) Apply(ctx context.Context, u *event.Unit) error {
	for _, evt := range u.Events {
		kind, ok := txKind(evt)
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		ord := evt.Ordinal()
		ts := evt.Time()

		for _, id := range []string{kind, TxTotal} {
			s.txCounts.Add(ord, TxCountKey(id), 1)
			for _, g := range timeframe.All {
				s.txCounts.Add(ord, TxCountBucketKey(g, id, timeframe.BucketID(ts, g)), 1)
			}
		}

		actor, ok := evt.(event.Actor)
		if !ok {
			continue
		}
		user := reference.NormalizeAddress(actor.Account())
		if user == "" {
			continue
		}
		s.users.SetIfNotExists(ord, store.NewKey(FamilyUser, user), 1)
		for _, g := range timeframe.All {
			key := store.NewKey(UserBuckets.For(g), user).InBucket(timeframe.BucketID(ts, g))
			s.users.SetIfNotExists(ord, key, 1)
		}
	}
	return nil
}

// UsageCountStage turns first sightings of users into unique and active
// user counts. It counts Create deltas, not values.
type UsageCountStage struct {
	env    Env
	users  store.Reader[int64]
	counts *store.Store[int64]
}

func NewUsageCountStage(env Env, s *State) *UsageCountStage {
	return &UsageCountStage{env: env, users: s.Users.Reader(), counts: s.UsageCounts}
}

func (s *UsageCountStage) Name() string { return "usage_counts" }

func (s *UsageCountStage) Outputs() []store.Unit {
	return []store.Unit{s.counts}
}

func (s *UsageCountStage) Apply(ctx context.Context, _ *event.Unit) error {
	for _, d := range s.users.Deltas() {
		if d.Operation != store.OpCreate {
			continue
		}
		switch d.Key.Family {
		case FamilyUser:
			s.counts.Add(d.Ordinal, UniqueUsersKey(), 1)
		case FamilyUserDaily:
			s.counts.Add(d.Ordinal, ActiveUsersKey(timeframe.Daily, d.Key.Bucket), 1)
		case FamilyUserHourly:
			s.counts.Add(d.Ordinal, ActiveUsersKey(timeframe.Hourly, d.Key.Bucket), 1)
		}
	}
	return ctx.Err()
}

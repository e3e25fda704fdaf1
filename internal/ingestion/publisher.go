package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"DexMetrics/internal/changeset"
	"DexMetrics/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Publisher is the subset of jetstream.JetStream the changeset publisher uses.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// ChangesetPublisher publishes committed changesets to dex.changesets.<unit>
// for downstream consumers. The message id is the changeset id, so a
// replayed unit is dropped by the stream's duplicate window.
type ChangesetPublisher struct {
	js        Publisher
	inputChan <-chan *changeset.Changeset
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewChangesetPublisher(
	js Publisher,
	inputChan <-chan *changeset.Changeset,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *ChangesetPublisher {
	return &ChangesetPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		log:       log,
	}
}

// Run publishes until ctx is done or the input channel closes. Publish
// failures are logged and counted; the changeset log remains the source
// of truth.
func (p *ChangesetPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case cs, ok := <-p.inputChan:
			if !ok {
				return nil
			}
			if err := p.Publish(ctx, cs); err != nil {
				p.log.Warn().Err(err).Uint64("unit", cs.UnitNumber).Msg("changeset publish failed")
				if p.metrics != nil {
					p.metrics.SinkErrors.WithLabelValues("nats").Inc()
				}
			}
		}
	}
}

// Publish sends one changeset.
func (p *ChangesetPublisher) Publish(ctx context.Context, cs *changeset.Changeset) error {
	data, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("marshal changeset %d: %w", cs.UnitNumber, err)
	}

	if _, err := p.js.Publish(ctx, SubjectFor(cs.UnitNumber), data, jetstream.WithMsgID(cs.ID.String())); err != nil {
		return fmt.Errorf("publish changeset %d: %w", cs.UnitNumber, err)
	}
	if p.metrics != nil {
		p.metrics.SinkWrites.WithLabelValues("nats").Inc()
	}
	return nil
}

// SubjectFor returns the publication subject of a unit's changeset.
func SubjectFor(unitNumber uint64) string {
	return "dex.changesets." + strconv.FormatUint(unitNumber, 10)
}

package observe

import (
	"context"
	"encoding/json"

	"github.com/anaghasid/CacheSim/internal/mqtt"
	"github.com/sirupsen/logrus"
)

// Publisher forwards observation records to an MQTT broker as JSON, one
// message per executed instruction. Publishing is best-effort: a failed
// publish is logged and the stream continues.
type Publisher struct {
	client *mqtt.Client
	logger *logrus.Logger
}

// NewPublisher returns a publisher writing to client's event topic.
func NewPublisher(client *mqtt.Client, logger *logrus.Logger) *Publisher {
	return &Publisher{client: client, logger: logger}
}

// Run consumes records from ch until the channel closes or ctx is
// cancelled.
func (p *Publisher) Run(ctx context.Context, ch <-chan *Record) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-ch:
			if !ok {
				return nil
			}
			p.publish(r)
		}
	}
}

func (p *Publisher) publish(r *Record) {
	payload, err := json.Marshal(struct {
		Core    int    `json:"core"`
		Op      string `json:"op"`
		Address int    `json:"address"`
		Value   int    `json:"value"`
		State   int    `json:"state"`
	}{r.Core, r.Op.String(), r.Address, r.Value, int(r.State)})
	if err != nil {
		p.logger.WithError(err).Warn("Failed to encode observation record")
		return
	}
	if err := p.client.Publish(p.client.EventTopic(), payload, false); err != nil {
		p.logger.WithError(err).Warn("Failed to publish observation record")
	}
}

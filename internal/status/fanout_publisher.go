package status

import (
	"context"
	"encoding/json"
)

// Broadcaster pushes serialized events to connected clients.
type Broadcaster interface {
	Broadcast(msg []byte)
}

// FanoutPublisher forwards events to durable storage first, then broadcasts
// them to live subscribers. A storage failure suppresses the broadcast so
// clients never see an event that was not recorded.
type FanoutPublisher struct {
	storage     Publisher
	broadcaster Broadcaster
}

// NewFanoutPublisher constructs a publisher that fans out to storage and a
// broadcaster. Either may be nil.
func NewFanoutPublisher(storage Publisher, broadcaster Broadcaster) *FanoutPublisher {
	return &FanoutPublisher{storage: storage, broadcaster: broadcaster}
}

// Publish writes to storage then broadcasts the event.
func (p *FanoutPublisher) Publish(ctx context.Context, ev Event) error {
	if p.storage != nil {
		if err := p.storage.Publish(ctx, ev); err != nil {
			return err
		}
	}

	if p.broadcaster != nil {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		p.broadcaster.Broadcast(data)
	}

	return nil
}

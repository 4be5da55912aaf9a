package status

import "context"

// LocalPublisher buffers events on a channel. Used in dev mode and tests
// where no Redis stream is configured.
type LocalPublisher struct {
	events chan Event
}

// NewLocalPublisher constructs a publisher with the given buffer size.
func NewLocalPublisher(buffer int) *LocalPublisher {
	if buffer <= 0 {
		buffer = 64
	}
	return &LocalPublisher{events: make(chan Event, buffer)}
}

// Publish enqueues the event, dropping the oldest when the buffer is full.
func (p *LocalPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for {
		select {
		case p.events <- ev:
			return nil
		default:
			select {
			case <-p.events:
			default:
			}
		}
	}
}

// Events exposes the buffered event stream.
func (p *LocalPublisher) Events() <-chan Event {
	return p.events
}

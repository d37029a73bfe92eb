package mqtt

import log "github.com/sirupsen/logrus"

// queued stores a serialized MQTT message for replay after reconnection.
type queued struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// backlog is a bounded FIFO holding messages while the broker is
// unreachable. When full, the oldest message is dropped. Not safe for
// concurrent use; the caller synchronizes.
type backlog struct {
	items   []queued
	max     int
	dropped int
}

func newBacklog(max int) *backlog {
	return &backlog{max: max}
}

func (b *backlog) add(m queued) {
	if len(b.items) == b.max {
		if b.dropped == 0 {
			log.Warnf("mqtt backlog full (%d messages), dropping oldest", b.max)
		}
		b.dropped++
		b.items = b.items[1:]
	}
	b.items = append(b.items, m)
}

// drain returns the queued messages in publish order and empties the
// backlog.
func (b *backlog) drain() []queued {
	if len(b.items) == 0 {
		return nil
	}
	out := b.items
	b.items = nil
	b.dropped = 0
	return out
}

func (b *backlog) len() int {
	return len(b.items)
}

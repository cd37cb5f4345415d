package broadcaster

import (
	"context"
	"fmt"
	"net"

	"github.com/emitpy/broadcaster/pkg/store"
)

// PubSubChannelPrefix namespaces the data-plane pub/sub channel a
// Broadcaster publishes a queue's payloads on (§6.1 "emitpy:<name>").
const PubSubChannelPrefix = "emitpy:"

// Publisher delivers one popped payload somewhere outside the store. A
// Broadcaster calls Publish once per due entry; a failure is logged and the
// entry dropped, never retried (§4.5 failure semantics — freshness beats
// delivery).
type Publisher interface {
	Publish(ctx context.Context, payload string) error
}

// PubSubPublisher republishes a queue's payloads on its pub/sub channel.
type PubSubPublisher struct {
	store   store.Store
	channel string
}

// NewPubSubPublisher builds a Publisher that writes to the given queue's
// data-plane channel.
func NewPubSubPublisher(s store.Store, queueName string) *PubSubPublisher {
	return &PubSubPublisher{store: s, channel: PubSubChannelPrefix + queueName}
}

func (p *PubSubPublisher) Publish(ctx context.Context, payload string) error {
	return p.store.Publish(ctx, p.channel, payload)
}

// UDPPublisher forwards payloads as UDP datagrams to a fixed target,
// used by the reserved external-simulator feed queue instead of pub/sub.
type UDPPublisher struct {
	conn *net.UDPConn
}

// NewUDPPublisher dials a UDP "connection" to host:port. UDP is
// connectionless; dialing only binds the destination so Write can be used
// without specifying it on every datagram.
func NewUDPPublisher(host string, port int) (*UDPPublisher, error) {
	raddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("broadcaster: resolve udp target %s:%d: %w", host, port, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("broadcaster: dial udp target %s:%d: %w", host, port, err)
	}
	return &UDPPublisher{conn: conn}, nil
}

func (p *UDPPublisher) Publish(ctx context.Context, payload string) error {
	_, err := p.conn.Write([]byte(payload))
	return err
}

// Close releases the underlying UDP socket.
func (p *UDPPublisher) Close() error {
	return p.conn.Close()
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

const DefaultSubjectPrefix = "edgefetch"

// Publisher is the subset of *nats.Conn used by NATSSink.
type Publisher interface {
	Publish(subj string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// NATSSink publishes JSON events:
//
//	<prefix>.session.opened / <prefix>.session.closed
//	<prefix>.result.<kind> and <prefix>.result.all
type NATSSink struct {
	pub    Publisher
	prefix string
}

func NewNATSSink(pub Publisher, prefix string) *NATSSink {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{pub: pub, prefix: prefix}
}

// ConnectNATS dials url with a named connection.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	return nats.Connect(url, nats.Name(name))
}

func (n *NATSSink) SessionOpened(_ context.Context, info SessionInfo) error {
	return n.publish(n.prefix+".session.opened", info)
}

func (n *NATSSink) SessionClosed(_ context.Context, info SessionInfo) error {
	return n.publish(n.prefix+".session.closed", info)
}

func (n *NATSSink) CommandFinished(_ context.Context, out Outcome) error {
	if err := n.publish(fmt.Sprintf("%s.result.%s", n.prefix, out.Kind), out); err != nil {
		return err
	}
	return n.publish(n.prefix+".result.all", out)
}

func (n *NATSSink) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := n.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("events: publish %s: %w", subject, err)
	}
	return nil
}

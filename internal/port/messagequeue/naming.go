package messagequeue

import (
	"fmt"
	"strings"
)

// RoutingKey builds the per-(tenant, channel, direction) routing key:
// tenant.<id>.channel.<type>.<direction>.
func RoutingKey(tenantID, channelType, direction string) string {
	return fmt.Sprintf("tenant.%s.channel.%s.%s", tenantID, channelType, direction)
}

// QueueName derives the durable queue name from a routing key.
func QueueName(routingKey string) string {
	return routingKey + ".queue"
}

// DeadLetterSubject derives the dead-letter destination from a queue name.
func DeadLetterSubject(queueName string) string {
	return queueName + ".dead-letter"
}

// ParseRoutingKey splits a routing key back into its parts. The inverse of
// RoutingKey; fails on anything that does not match the scheme.
func ParseRoutingKey(subject string) (tenantID, channelType, direction string, err error) {
	parts := strings.Split(subject, ".")
	if len(parts) != 5 || parts[0] != "tenant" || parts[2] != "channel" {
		return "", "", "", fmt.Errorf("malformed routing key %q", subject)
	}
	return parts[1], parts[3], parts[4], nil
}

// InboundTopology builds the full topology for a (tenant, channel) inbound
// consumer.
func InboundTopology(tenantID, channelType string) Topology {
	rk := RoutingKey(tenantID, channelType, "inbound")
	queue := QueueName(rk)
	return Topology{
		Subject:           rk,
		Queue:             queue,
		DeadLetterSubject: DeadLetterSubject(queue),
	}
}

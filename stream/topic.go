package stream

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Topic names follow a pattern:
//
//	entity:<entityID>   events for one entity
//	type:<entityType>   all events for one entity type
//	failures            failed and abandoned events of every type
//	firehose            everything

const (
	TopicFailures = "failures"
	TopicFirehose = "firehose"
)

// EntityTopic returns the topic name for a specific entity.
func EntityTopic(entityID string) string { return "entity:" + entityID }

// TypeTopic returns the topic name for an entity type.
func TypeTopic(entityType string) string { return "type:" + entityType }

// TopicRegistry maps topics to their subscribers. It is safe for
// concurrent use. Empty topics are removed.
type TopicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber // topic, then subscriber ID
}

// NewTopicRegistry creates an empty topic registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{topics: make(map[string]map[string]*Subscriber)}
}

// Subscribe attaches sub to topic.
func (tr *TopicRegistry) Subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs := tr.topics[topic]
	if subs == nil {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
	sub.trackTopic(topic, true)
}

// Unsubscribe detaches a subscriber from one topic.
func (tr *TopicRegistry) Unsubscribe(topic, subscriberID string) {
	tr.mu.Lock()
	tr.detachLocked(topic, subscriberID)
	tr.mu.Unlock()
}

// UnsubscribeAll detaches a subscriber from every topic.
func (tr *TopicRegistry) UnsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	for topic := range tr.topics {
		tr.detachLocked(topic, subscriberID)
	}
	tr.mu.Unlock()
}

func (tr *TopicRegistry) detachLocked(topic, subscriberID string) {
	subs := tr.topics[topic]
	if sub, ok := subs[subscriberID]; ok {
		sub.trackTopic(topic, false)
		delete(subs, subscriberID)
	}
	if len(subs) == 0 {
		delete(tr.topics, topic)
	}
}

// Publish sends an event to the subscribers of one topic and returns how
// many took it.
func (tr *TopicRegistry) Publish(topic string, evt *Event) int {
	sent, _ := tr.broadcast([]string{topic}, evt)
	return sent
}

// Broadcast sends an event to the subscribers of several topics. A
// subscriber on more than one of them receives the event once.
func (tr *TopicRegistry) Broadcast(topics []string, evt *Event) int {
	sent, _ := tr.broadcast(topics, evt)
	return sent
}

// broadcast delivers outside the lock and reports deliveries and drops.
func (tr *TopicRegistry) broadcast(topics []string, evt *Event) (sent, missed int) {
	tr.mu.RLock()
	targets := make(map[string]*Subscriber)
	for _, topic := range topics {
		for subID, sub := range tr.topics[topic] {
			targets[subID] = sub
		}
	}
	tr.mu.RUnlock()

	for _, sub := range targets {
		switch sub.offer(evt) {
		case delivered:
			sent++
		case dropped:
			missed++
		case filtered:
		}
	}
	return sent, missed
}

// Names returns the active topics in sorted order.
func (tr *TopicRegistry) Names() []string {
	tr.mu.RLock()
	out := make([]string, 0, len(tr.topics))
	for topic := range tr.topics {
		out = append(out, topic)
	}
	tr.mu.RUnlock()
	slices.Sort(out)
	return out
}

// TopicCount returns the number of active topics.
func (tr *TopicRegistry) TopicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}

// SubscriberCount returns the number of subscribers on a topic.
func (tr *TopicRegistry) SubscriberCount(topic string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics[topic])
}

// resolveTopics returns all topics an event should be published to
// based on its type and routing fields.
func resolveTopics(evt *Event) []string {
	topics := []string{TopicFirehose}

	switch evt.Type {
	case EventEntityFailed, EventEntityAbandoned:
		topics = append(topics, TopicFailures)
	}
	if evt.EntityType != "" {
		topics = append(topics, TypeTopic(evt.EntityType))
	}
	if evt.Topic != "" {
		topics = append(topics, evt.Topic)
	}

	return topics
}

// ParseTopic splits a scoped topic into its kind and key. For example,
// "entity:tp_0192..." returns ("entity", "tp_0192...").
// Returns ("", "") for global topics like "failures" or "firehose".
func ParseTopic(topic string) (kind, key string) {
	idx := strings.IndexByte(topic, ':')
	if idx < 0 {
		return "", ""
	}
	return topic[:idx], topic[idx+1:]
}

// ValidateTopic checks whether a topic string is valid.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicFailures, TopicFirehose:
		return nil
	}

	kind, key := ParseTopic(topic)
	if kind == "" || key == "" {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}

	switch kind {
	case "entity", "type":
		return nil
	default:
		return fmt.Errorf("stream: unknown topic kind %q", kind)
	}
}

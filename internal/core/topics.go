// services/gateway/internal/core/topics.go
package core

import (
	"sort"
	"strings"
)

// Default topic names, used when the configuration leaves them blank.
const (
	DefaultDataTopic         = "data"
	DefaultCommandTopic      = "command"
	DefaultGroupMessageTopic = "groupmessage"
)

// TopicConfig carries the raw configured topic values before resolution.
// AuthorizedTopics is a comma-separated list.
type TopicConfig struct {
	DataTopic         string
	CommandTopic      string
	GroupMessageTopic string
	AuthorizedTopics  string
}

// TopicSet is the resolved, immutable topic configuration. The authorized
// set always contains the data, command and group-message topics.
type TopicSet struct {
	data       string
	command    string
	group      string
	authorized map[string]struct{}
}

// ResolveTopics normalizes the configured topic names: defaults applied,
// entries trimmed and de-duplicated, canonical topics always authorized.
func ResolveTopics(cfg TopicConfig) *TopicSet {
	data := strings.TrimSpace(cfg.DataTopic)
	if data == "" {
		data = DefaultDataTopic
	}
	command := strings.TrimSpace(cfg.CommandTopic)
	if command == "" {
		command = DefaultCommandTopic
	}
	group := strings.TrimSpace(cfg.GroupMessageTopic)
	if group == "" {
		group = DefaultGroupMessageTopic
	}

	authorized := map[string]struct{}{
		data:    {},
		command: {},
		group:   {},
	}
	for _, topic := range strings.Split(cfg.AuthorizedTopics, ",") {
		if topic = strings.TrimSpace(topic); topic != "" {
			authorized[topic] = struct{}{}
		}
	}

	return &TopicSet{
		data:       data,
		command:    command,
		group:      group,
		authorized: authorized,
	}
}

// Data returns the telemetry data topic.
func (t *TopicSet) Data() string { return t.data }

// Command returns the device command/message topic.
func (t *TopicSet) Command() string { return t.command }

// GroupMessage returns the group message topic.
func (t *TopicSet) GroupMessage() string { return t.group }

// Authorized reports whether topic is on the static allow-list.
func (t *TopicSet) Authorized(topic string) bool {
	_, ok := t.authorized[topic]
	return ok
}

// AuthorizedList returns the allow-list sorted, for logs and the ops API.
func (t *TopicSet) AuthorizedList() []string {
	topics := make([]string, 0, len(t.authorized))
	for topic := range t.authorized {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

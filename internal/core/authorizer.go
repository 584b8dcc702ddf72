// services/gateway/internal/core/authorizer.go
package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// AuthorizerConfig configures an Authorizer. User and Password are the
// optional static connection credentials; both empty disables the check.
type AuthorizerConfig struct {
	Registry *Registry
	Topics   *TopicSet
	Backend  Backend
	User     string
	Password string
	Logger   *logrus.Logger
}

// Authorizer makes the per-operation authorization decisions for the
// broker's callbacks. Decisions are stateless; all state lives in the
// registry and the topic set.
type Authorizer struct {
	registry *Registry
	topics   *TopicSet
	backend  Backend
	user     string
	password string
	logger   *logrus.Logger
}

// NewAuthorizer creates an authorization engine.
func NewAuthorizer(cfg AuthorizerConfig) *Authorizer {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Authorizer{
		registry: cfg.Registry,
		topics:   cfg.Topics,
		backend:  cfg.Backend,
		user:     cfg.User,
		password: cfg.Password,
		logger:   cfg.Logger,
	}
}

// Authenticate checks the static connection credentials. Without configured
// credentials every connection is accepted; otherwise an exact match on both
// fields is required. Failures are reported to the backend as well as the
// local log.
func (a *Authorizer) Authenticate(ctx context.Context, clientID, username, password string) bool {
	if a.user == "" && a.password == "" {
		return true
	}
	if username == a.user && password == a.password {
		return true
	}

	client := clientID
	if client == "" {
		client = "No Client ID"
	}
	a.logger.WithField("client", client).Warn("MQTT Gateway - Authentication Failed")
	if a.backend != nil {
		record := fmt.Sprintf("MQTT Gateway - Authentication Failed on Client: %s.", client)
		if err := a.backend.Log(ctx, record); err != nil {
			a.logger.WithError(err).Warn("Failed to report authentication failure to backend")
		}
	}
	return false
}

// AuthorizePublish allows a publish iff the client is a known device, the
// topic is the client's own id, or the topic is on the static allow-list.
func (a *Authorizer) AuthorizePublish(ctx context.Context, clientID, topic string) bool {
	return a.authorizeTopic(ctx, clientID, topic, "publish")
}

// AuthorizeSubscribe applies the same policy as AuthorizePublish to
// subscription requests.
func (a *Authorizer) AuthorizeSubscribe(ctx context.Context, clientID, topic string) bool {
	return a.authorizeTopic(ctx, clientID, topic, "subscribe")
}

// AuthorizeForward allows message delivery to a client iff the client is a
// known device. No self-topic or allow-list exception applies here.
func (a *Authorizer) AuthorizeForward(ctx context.Context, clientID string) bool {
	_, known, err := a.registry.Lookup(ctx, clientID)
	if known {
		return true
	}
	a.deny(ctx, err, fmt.Errorf("device %s is not authorized to forward messages: device not registered", clientID))
	return false
}

func (a *Authorizer) authorizeTopic(ctx context.Context, clientID, topic, operation string) bool {
	// Self-topic and allow-list publishes are permitted even for devices the
	// registry does not know, so feedback can reach unregistered clients.
	if topic == clientID || a.topics.Authorized(topic) {
		return true
	}

	_, known, err := a.registry.Lookup(ctx, clientID)
	if known {
		return true
	}
	a.deny(ctx, err, fmt.Errorf("device %s is not authorized to %s to topic %s: device not registered", clientID, operation, topic))
	return false
}

// deny records an authorization exception. Logging is a side effect only;
// the denial itself is returned by the caller.
func (a *Authorizer) deny(ctx context.Context, lookupErr, denial error) {
	entry := a.logger.WithField("reason", denial.Error())
	if errors.Is(lookupErr, ErrLookupTimeout) {
		// Distinct record so operators can tell "unknown device" from
		// "directory unavailable".
		entry.WithError(lookupErr).Warn("Authorization denied: device info lookup timed out")
	} else {
		entry.Warn("Authorization denied")
	}

	if a.backend != nil {
		if err := a.backend.LogException(ctx, denial); err != nil {
			a.logger.WithError(err).Warn("Failed to report authorization exception to backend")
		}
	}
}

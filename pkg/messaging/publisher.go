// Package messaging publishes engine events to an AMQP exchange: XP
// awards for the gamification ledger, finished meeting scripts and
// coaching insights for the insight store, and career refresh requests.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"skillcoach-engine/pkg/coaching"
	"skillcoach-engine/pkg/config"
	"skillcoach-engine/pkg/errors"
	"skillcoach-engine/pkg/metrics"
	"skillcoach-engine/pkg/postsession"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// Event types carried in the envelope
const (
	EventXPAwarded      = "xp.awarded"
	EventMeetingScript  = "meeting_script.generated"
	EventCoachingResult = "coaching_insight.generated"
	EventCareerRefresh  = "career.refresh_requested"
)

const (
	publishTimeout    = 2 * time.Second
	maxReconnectTries = 10
)

// Envelope wraps every published payload
type Envelope struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// XPAward is the payload of an xp.awarded event
type XPAward struct {
	Action     string                 `json:"action"`
	Multiplier float64                `json:"multiplier"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// CareerRefresh is the payload of a career.refresh_requested event
type CareerRefresh struct {
	ParticipantID string  `json:"participant_id"`
	Focus         string  `json:"focus"`
	Performance   float64 `json:"performance"`
}

// amqpChannel is the subset of *amqp.Channel the publisher uses
type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends engine events to a topic exchange. It implements the
// gamification, insight store and career advisor collaborators.
type Publisher struct {
	logger *logrus.Logger
	config config.MessagingConfig

	connMutex sync.RWMutex
	conn      *amqp.Connection
	channel   amqpChannel
	connected bool
	stopChan  chan struct{}
}

// NewPublisher creates a disconnected publisher
func NewPublisher(logger *logrus.Logger, cfg config.MessagingConfig) *Publisher {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Publisher{
		logger:   logger,
		config:   cfg,
		stopChan: make(chan struct{}),
	}
}

// Connect dials the broker, opens a channel and declares the exchange
func (p *Publisher) Connect() error {
	p.connMutex.Lock()
	defer p.connMutex.Unlock()

	if p.connected {
		return nil
	}
	if p.config.URL == "" || p.config.Exchange == "" {
		return errors.NewInvalidInput("AMQP URL or exchange not configured")
	}

	conn, err := amqp.DialConfig(p.config.URL, amqp.Config{
		Dial: amqp.DefaultDial(p.config.ConnectTimeout),
	})
	if err != nil {
		metrics.SetAMQPConnectionStatus(false)
		return errors.Wrap(err, "failed to connect to AMQP server")
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "failed to open AMQP channel")
	}

	if err := ch.ExchangeDeclare(
		p.config.Exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return errors.Wrap(err, "failed to declare AMQP exchange", map[string]interface{}{"exchange": p.config.Exchange})
	}

	p.conn = conn
	p.channel = ch
	p.connected = true
	p.stopChan = make(chan struct{})
	metrics.SetAMQPConnectionStatus(true)

	p.logger.WithFields(logrus.Fields{
		"exchange": p.config.Exchange,
	}).Info("Connected to AMQP server")

	go p.monitorConnection(conn)
	return nil
}

// Disconnect closes the channel and connection
func (p *Publisher) Disconnect() {
	p.connMutex.Lock()
	defer p.connMutex.Unlock()

	if !p.connected {
		return
	}
	close(p.stopChan)

	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	p.connected = false
	metrics.SetAMQPConnectionStatus(false)
	p.logger.Info("Disconnected from AMQP server")
}

// IsConnected returns the connection status
func (p *Publisher) IsConnected() bool {
	p.connMutex.RLock()
	defer p.connMutex.RUnlock()
	return p.connected
}

// AwardXP publishes an XP award to the gamification routing key
func (p *Publisher) AwardXP(ctx context.Context, action string, details map[string]interface{}, multiplier float64) error {
	return p.publish(ctx, p.config.XPRoutingKey, EventXPAwarded, XPAward{
		Action:     action,
		Multiplier: multiplier,
		Context:    details,
	})
}

// SaveScript publishes a finished meeting script
func (p *Publisher) SaveScript(ctx context.Context, script *postsession.MeetingScript) error {
	return p.publish(ctx, p.config.ScriptRoutingKey, EventMeetingScript, script)
}

// SaveInsight publishes a coaching insight
func (p *Publisher) SaveInsight(ctx context.Context, insight *coaching.Insight) error {
	return p.publish(ctx, p.config.InsightRoutingKey, EventCoachingResult, insight)
}

// RefreshRecommendations asks the career service to recompute paths
func (p *Publisher) RefreshRecommendations(ctx context.Context, participantID, focus string, performance float64) error {
	return p.publish(ctx, p.config.CareerRoutingKey, EventCareerRefresh, CareerRefresh{
		ParticipantID: participantID,
		Focus:         focus,
		Performance:   performance,
	})
}

func (p *Publisher) publish(ctx context.Context, routingKey, eventType string, payload interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logrus.Fields{
				"routing_key": routingKey,
				"recover":     r,
			}).Error("Recovered from panic in AMQP publish")
			err = errors.New(fmt.Sprintf("panic while publishing: %v", r))
		}
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.RecordAMQPPublish(routingKey, status)
	}()

	body, err := json.Marshal(Envelope{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal event", map[string]interface{}{"type": eventType})
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		p.connMutex.RLock()
		defer p.connMutex.RUnlock()
		if !p.connected || p.channel == nil {
			done <- errors.New("not connected to AMQP server")
			return
		}
		done <- p.channel.Publish(
			p.config.Exchange,
			routingKey,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				Type:         eventType,
				Body:         body,
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
			},
		)
	}()

	select {
	case err = <-done:
		if err != nil {
			return errors.Wrap(err, "failed to publish event", map[string]interface{}{
				"routing_key": routingKey,
				"type":        eventType,
			})
		}
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "publishing to AMQP timed out", map[string]interface{}{"routing_key": routingKey})
	}

	p.logger.WithFields(logrus.Fields{
		"routing_key": routingKey,
		"type":        eventType,
		"bytes":       len(body),
	}).Debug("Published event to AMQP")
	return nil
}

// monitorConnection reconnects with exponential backoff when the broker
// closes the connection
func (p *Publisher) monitorConnection(conn *amqp.Connection) {
	closeChan := conn.NotifyClose(make(chan *amqp.Error, 1))

	p.connMutex.RLock()
	stop := p.stopChan
	p.connMutex.RUnlock()

	select {
	case <-stop:
		return
	case closeErr, ok := <-closeChan:
		if !ok {
			return
		}
		p.connMutex.Lock()
		p.connected = false
		p.connMutex.Unlock()
		metrics.SetAMQPConnectionStatus(false)
		p.logger.WithError(closeErr).Warn("AMQP connection closed, attempting to reconnect")
	}

	for attempt := 1; attempt <= maxReconnectTries; attempt++ {
		err := p.Connect()
		if err == nil {
			p.logger.Info("Successfully reconnected to AMQP server")
			return
		}
		p.logger.WithError(err).WithField("attempt", attempt).Error("Failed to reconnect to AMQP server")

		backoff := time.Duration(1<<uint(attempt-1)) * time.Second
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
		select {
		case <-stop:
			return
		case <-time.After(backoff):
		}
	}
}

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/feltops/blindclock/internal/clock"
)

// ControlEvent is the inbound control-plane envelope relayed over JetStream.
// The control plane (admin API or a relayed webhook) decides whether a
// tournament starts or pauses; the engine only executes the instruction.
type ControlEvent struct {
	TournamentID string          `json:"tournamentId"`
	Type         string          `json:"type"`
	Data         json.RawMessage `json:"data"`
}

// controlSeed is an optional Data payload carrying pre-computed timing
// facts, letting a resume skip the backend round-trip.
type controlSeed struct {
	StartTime    time.Time     `json:"startTime"`
	CurrentLevel int           `json:"currentLevel"`
	Levels       []clock.Level `json:"levels"`
}

type controlLevel struct {
	Level int `json:"level"`
}

// ConsumerConfig holds configuration for the JetStream control consumer.
type ConsumerConfig struct {
	URL           string
	StreamName    string
	ConsumerName  string
	SubjectFilter string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConsumerConfig returns the default control consumer configuration.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		URL:           nats.DefaultURL,
		StreamName:    "TOURNAMENT_CONTROL",
		ConsumerName:  "blindclock-engine",
		SubjectFilter: "tournament.control.>",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// ControlConsumer consumes control events from JetStream and feeds them to
// the engine's command surface.
type ControlConsumer struct {
	engine   *Engine
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	config   ConsumerConfig
}

// NewControlConsumer connects to NATS and ensures the durable consumer.
func NewControlConsumer(e *Engine, config ConsumerConfig) (*ControlConsumer, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	cc := &ControlConsumer{
		engine: e,
		nc:     nc,
		js:     js,
		config: config,
	}

	if err := cc.ensureConsumer(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}

	return cc, nil
}

// ensureConsumer creates or gets the durable JetStream consumer.
func (cc *ControlConsumer) ensureConsumer(ctx context.Context) error {
	stream, err := cc.js.Stream(ctx, cc.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		Name:          cc.config.ConsumerName,
		Durable:       cc.config.ConsumerName,
		Description:   "blindclock engine control consumer",
		FilterSubject: cc.config.SubjectFilter,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    cc.config.MaxDeliver,
		AckWait:       cc.config.AckWait,
		MaxAckPending: cc.config.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	}

	consumer, err := stream.Consumer(ctx, cc.config.ConsumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, consumerConfig)
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().
			Str("consumer", cc.config.ConsumerName).
			Str("stream", cc.config.StreamName).
			Msg("created JetStream control consumer")
	} else {
		log.Info().
			Str("consumer", cc.config.ConsumerName).
			Str("stream", cc.config.StreamName).
			Msg("using existing JetStream control consumer")
	}

	cc.consumer = consumer
	return nil
}

// Start consumes control events until the context is cancelled.
func (cc *ControlConsumer) Start(ctx context.Context) error {
	log.Info().
		Str("consumer", cc.config.ConsumerName).
		Str("stream", cc.config.StreamName).
		Msg("starting control consumer")

	messageCh := make(chan jetstream.Msg, 100)

	consumeCtx, err := cc.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("control consumer shutting down")
			return nil
		case msg := <-messageCh:
			if err := cc.processMessage(ctx, msg); err != nil {
				log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process control event")
				if nakErr := msg.Nak(); nakErr != nil {
					log.Error().Err(nakErr).Msg("failed to NAK message")
				}
			} else {
				if ackErr := msg.Ack(); ackErr != nil {
					log.Error().Err(ackErr).Msg("failed to ACK message")
				}
			}
		}
	}
}

// processMessage handles one control event. Malformed payloads are logged
// and dropped rather than retried; redelivery cannot fix them.
func (cc *ControlConsumer) processMessage(ctx context.Context, msg jetstream.Msg) error {
	var ev ControlEvent
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		log.Warn().Err(err).Str("subject", msg.Subject()).Msg("dropping malformed control event")
		return nil
	}

	log.Debug().
		Str("subject", msg.Subject()).
		Str("tournament_id", ev.TournamentID).
		Str("type", ev.Type).
		Msg("processing control event")

	return cc.engine.HandleControlEvent(ctx, ev)
}

// Stop closes the NATS connection.
func (cc *ControlConsumer) Stop() error {
	log.Info().Msg("stopping control consumer")
	if cc.nc != nil {
		cc.nc.Close()
	}
	return nil
}

// HandleControlEvent routes an inbound control event to the matching
// command. Events missing required fields are rejected early; unknown types
// are logged and ignored.
func (e *Engine) HandleControlEvent(ctx context.Context, ev ControlEvent) error {
	if ev.TournamentID == "" || ev.Type == "" {
		return fmt.Errorf("control event missing tournamentId or type")
	}

	switch ev.Type {
	case "start":
		return e.Start(ctx, ev.TournamentID)

	case "pause":
		e.Pause(ctx, ev.TournamentID)
		return nil

	case "resume":
		if len(ev.Data) > 0 {
			var seed controlSeed
			if err := json.Unmarshal(ev.Data, &seed); err == nil && !seed.StartTime.IsZero() && len(seed.Levels) > 0 {
				e.SeedFromFacts(ev.TournamentID, seed.StartTime, seed.Levels, seed.CurrentLevel)
				return nil
			}
		}
		return e.Resume(ctx, ev.TournamentID)

	case "finish":
		e.Finish(ctx, ev.TournamentID)
		return nil

	case "update-level":
		var lc controlLevel
		if err := json.Unmarshal(ev.Data, &lc); err != nil || lc.Level <= 0 {
			return fmt.Errorf("update-level event with invalid level payload")
		}
		e.OverrideLevel(ev.TournamentID, lc.Level)
		return nil

	default:
		log.Warn().
			Str("type", ev.Type).
			Str("tournament_id", ev.TournamentID).
			Msg("unknown control event type - ignoring")
		return nil
	}
}

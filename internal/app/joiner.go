package app

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/vovakirdan/quizwire/internal/config"
	"github.com/vovakirdan/quizwire/internal/core"
	"github.com/vovakirdan/quizwire/internal/proto"
	"github.com/vovakirdan/quizwire/internal/transport/tcp"
)

// ErrNoUserName is returned when joining without a user name.
var ErrNoUserName = errors.New("user name is required to join")

// Joiner runs a joining node with a console participant.
type Joiner struct {
	node    *core.SecondaryNode
	slave   *tcp.SlaveServer
	console *Console
	name    string
	// reconnect mirrors the slave's auto-reconnect setting.
	reconnect bool
	log       *zerolog.Logger
}

// NewJoiner builds a joiner for cfg.UserName reading input from in and
// printing traffic to out.
func NewJoiner(cfg *config.Config, in io.Reader, out io.Writer, logger *zerolog.Logger) (*Joiner, error) {
	if cfg.UserName == "" {
		return nil, ErrNoUserName
	}
	node := core.NewSecondaryNode(nodeOptions(cfg, nil, logger))
	slave := tcp.NewSlaveServer(node, tcp.SlaveOptions{
		Host:           cfg.ConnectHost,
		Port:           cfg.ConnectPort,
		ConnectTimeout: cfg.ConnectTimeout,
		Upgrade:        cfg.Upgrade,
		AutoReconnect:  cfg.AutoReconnect,
		UserName:       cfg.UserName,
		Clients:        []string{cfg.UserName},
		Conn:           connOptions(cfg, logger),
	})
	l := logger.With().Str("component", "joiner").Logger()
	return &Joiner{
		node:      node,
		slave:     slave,
		console:   NewConsole("", in, out),
		name:      cfg.UserName,
		reconnect: cfg.AutoReconnect,
		log:       &l,
	}, nil
}

// Node returns the joining node.
func (j *Joiner) Node() *core.SecondaryNode {
	return j.node
}

// Run connects, asks the host authority for the configured name and pumps
// the console until ctx is cancelled or the link is gone for good.
func (j *Joiner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, unsubscribe := j.node.Subscribe(16)
	defer unsubscribe()
	stopFollow := j.node.Follow(j.slave)
	defer stopFollow()

	if err := j.console.Attach(j.node); err != nil {
		return err
	}
	if err := j.slave.Connect(ctx); err != nil {
		return multierr.Append(err, j.shutdown())
	}
	j.requestJoin()

	consoleDone := make(chan struct{})
	go func() {
		defer close(consoleDone)
		j.console.Run(ctx)
	}()

	err := j.watch(ctx, events)
	cancel()
	shutdownErr := j.shutdown()
	<-consoleDone
	return multierr.Append(err, shutdownErr)
}

func (j *Joiner) watch(ctx context.Context, events <-chan core.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case core.EventReconnected:
				j.requestJoin()
			case core.EventConnectionClosed:
				if !ev.WithError || !j.reconnect {
					j.log.Info().Msg("disconnected from host")
					return nil
				}
			case core.EventError:
				if ev.IsWarning {
					j.log.Warn().Err(ev.Err).Msg("link warning")
				}
			}
		}
	}
}

// requestJoin is sent anonymously; the host answers the anonymous address.
func (j *Joiner) requestJoin() {
	j.node.SendMessage(proto.NewSystem("", proto.Authority, JoinCommand+" "+j.name))
}

func (j *Joiner) shutdown() error {
	j.slave.Close()
	return j.node.Dispose()
}

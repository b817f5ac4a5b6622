package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omochice/socket-feed/internal/chat"
	"github.com/omochice/socket-feed/internal/logger"
	"github.com/omochice/socket-feed/pkg/protocol"
)

// ErrJoinDenied is returned when the authorizer refuses a conversation join.
var ErrJoinDenied = errors.New("conversation join denied")

type pinger interface {
	Ping() error
}

// handleClient runs the read loop of one connection with its writer beside
// it. Whichever loop ends first triggers the single cleanup: leave every
// channel, close the send queue and the socket, and decrement presence once.
func (s *Server) handleClient(client *chat.Client, counted bool) {
	ctx, cancel := context.WithCancel(s.ctx)

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			cancel()
			s.hub.Unregister(client)
			_ = client.Conn.Close()
			if counted {
				dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
				if _, err := s.presence.Decrement(dctx, client.UserID); err != nil {
					logger.Error("presence decrement failed", zap.String("user", client.UserID), zap.Error(err))
				}
				dcancel()
			}
			logger.Info("client disconnected", zap.String("conn", client.ID), zap.String("user", client.UserID))
		})
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cleanup()
		s.writeLoop(ctx, client)
	}()

	s.readLoop(ctx, client)
	cleanup()
	wg.Wait()
	s.untrack(client)
}

func (s *Server) writeLoop(ctx context.Context, client *chat.Client) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-client.Outgoing:
			if !ok {
				return
			}
			if err := client.Conn.Write(ctx, data); err != nil {
				logger.Warn("failed to send frame", zap.String("conn", client.ID), zap.Error(err))
				return
			}
			if client.TakeOverflow() {
				if err := client.Conn.Write(ctx, protocol.ResyncRequiredFrame()); err != nil {
					return
				}
			}
		case <-ticker.C:
			if p, ok := client.Conn.(pinger); ok {
				if err := p.Ping(); err != nil {
					logger.Debug("ping failed", zap.String("conn", client.ID), zap.Error(err))
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) readLoop(ctx context.Context, client *chat.Client) {
	for {
		data, err := client.Conn.Read(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logger.Debug("read ended", zap.String("conn", client.ID), zap.Error(err))
			}
			return
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			logger.Warn("failed to decode frame", zap.String("conn", client.ID), zap.Error(err))
			continue
		}
		if err := s.handleCommand(ctx, client, frame); err != nil {
			logger.Warn("command rejected",
				zap.String("conn", client.ID), zap.String("kind", frame.Kind.String()), zap.Error(err))
		}
	}
}

func (s *Server) handleCommand(ctx context.Context, client *chat.Client, frame protocol.Frame) error {
	switch frame.Kind {
	case protocol.CommandJoin:
		cmd, err := protocol.DecodePayload[protocol.ChannelCommand](frame)
		if err != nil {
			return err
		}
		conversationID, err := chat.ClientJoinable(cmd.Channel)
		if err != nil {
			return err
		}
		if s.opts.Authorizer != nil {
			ok, err := s.opts.Authorizer.CanJoin(ctx, client.UserID, conversationID)
			if err != nil {
				return fmt.Errorf("authorize %s: %w", cmd.Channel, err)
			}
			if !ok {
				return fmt.Errorf("%w: %s", ErrJoinDenied, cmd.Channel)
			}
		}
		return s.hub.Join(client, cmd.Channel)

	case protocol.CommandLeave:
		cmd, err := protocol.DecodePayload[protocol.ChannelCommand](frame)
		if err != nil {
			return err
		}
		if _, err := chat.ClientJoinable(cmd.Channel); err != nil {
			return err
		}
		return s.hub.Leave(client, cmd.Channel)

	case protocol.CommandTyping:
		cmd, err := protocol.DecodePayload[protocol.TypingCommand](frame)
		if err != nil {
			return err
		}
		conversationID := strings.TrimSpace(cmd.ChannelID)
		if strings.Contains(conversationID, ":") || conversationID == protocol.FeedChannel {
			id, err := chat.ClientJoinable(conversationID)
			if err != nil {
				return err
			}
			conversationID = id
		}
		if conversationID == "" {
			return fmt.Errorf("typing: %w", protocol.ErrInvalidChannel)
		}
		return s.publisher.Typing(ctx, conversationID, client.UserID, client.ID, cmd.IsTyping)

	case protocol.CommandRequestResync:
		s.hub.Send(client, protocol.ResyncRequiredFrame())
		return nil

	default:
		return fmt.Errorf("%w: %s is not a client command", protocol.ErrUnknownKind, frame.Kind)
	}
}

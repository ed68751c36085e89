package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/skobkin/meshola/internal/connectors"
	"github.com/skobkin/meshola/internal/domain"
	"github.com/skobkin/meshola/internal/persistence"
	"github.com/skobkin/meshola/internal/profile"
	"github.com/skobkin/meshola/internal/protocol"
)

// session is everything bound to one active profile: its protocol instance,
// state database and the queue persisting contact updates.
type session struct {
	profile profile.Profile
	proto   protocol.Protocol
	db      *sql.DB
	state   *persistence.StateStore
	writer  *persistence.WriterQueue
	logger  *slog.Logger

	stopWriter context.CancelFunc

	ackMu sync.Mutex
	// acks holds the delivery status of recent direct messages by ack id.
	acks map[uint32]domain.MessageStatus
}

// maxTrackedAcks bounds acks; the oldest ids are dropped first.
const maxTrackedAcks = 256

func (s *Service) openSession(ctx context.Context, p profile.Profile) (*session, error) {
	dbPath := StateDBPath(s.cfg.DataDir, p.ID)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	db, err := persistence.Open(ctx, dbPath)
	if err != nil {
		return nil, err
	}

	proto, err := s.registry.Create(p.ProtocolID)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("create protocol: %w", err)
	}

	state := persistence.NewStateStore(db)
	if aware, ok := proto.(protocol.StateAware); ok {
		aware.SetStateStore(state)
	}
	proto.SetLocalIdentity(p.PublicKey, p.NodeName)

	logger := s.logger.With("profile", p.ID)
	if err := proto.LoadState(); err != nil {
		logger.Warn("load protocol state", "error", err)
	}

	writerCtx, stopWriter := context.WithCancel(context.Background())
	writer := persistence.NewWriterQueue(logger, writerQueueCapacity)
	writer.Start(writerCtx)

	sess := &session{
		profile:    p,
		proto:      proto,
		db:         db,
		state:      state,
		writer:     writer,
		logger:     logger,
		stopWriter: stopWriter,
		acks:       make(map[uint32]domain.MessageStatus),
	}
	s.bindHandlers(sess)
	logger.Info("session opened", "protocol", p.ProtocolID, "contacts", proto.ContactCount(), "channels", proto.ChannelCount())

	return sess, nil
}

// close flushes pending writes, saves the protocol tables and releases the database.
// The radio must already be stopped.
func (sess *session) close() error {
	var errs []error

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sess.writer.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush writes: %w", err))
	}
	sess.stopWriter()

	if err := sess.proto.SaveState(); err != nil {
		errs = append(errs, fmt.Errorf("save state: %w", err))
	}
	if err := sess.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close state db: %w", err))
	}
	sess.logger.Info("session closed")

	return errors.Join(errs...)
}

func (sess *session) persistContact(c domain.Contact) {
	if c.IsStatic || c.PublicKey.IsZero() {
		return
	}
	repo := sess.state.Contacts()
	sess.writer.Enqueue("upsert contact", func(ctx context.Context) error {
		return repo.Upsert(ctx, c)
	})
}

func (sess *session) forgetContact(key domain.PublicKey) {
	repo := sess.state.Contacts()
	sess.writer.Enqueue("delete contact", func(ctx context.Context) error {
		return repo.Delete(ctx, key)
	})
}

func (sess *session) persistChannels() {
	channels := protocol.Channels(sess.proto)
	sess.writer.Enqueue("replace channels", func(context.Context) error {
		return sess.state.SaveChannels(channels)
	})
}

// trackAck starts following the delivery status of a sent direct message.
func (sess *session) trackAck(ackID uint32) {
	sess.ackMu.Lock()
	defer sess.ackMu.Unlock()

	if len(sess.acks) >= maxTrackedAcks {
		oldest := ackID
		for id := range sess.acks {
			if id < oldest {
				oldest = id
			}
		}
		delete(sess.acks, oldest)
	}
	sess.acks[ackID] = domain.MessageStatusSent
}

// resolveAck applies a delivery report. It returns false for unknown ids and
// for reports that would not move the status forward.
func (sess *session) resolveAck(ackID uint32, success bool) (domain.MessageStatus, bool) {
	next := domain.MessageStatusDelivered
	if !success {
		next = domain.MessageStatusFailed
	}

	sess.ackMu.Lock()
	defer sess.ackMu.Unlock()

	cur, ok := sess.acks[ackID]
	if !ok || !domain.ShouldTransitionMessageStatus(cur, next) {
		return cur, false
	}
	if next == domain.MessageStatusDelivered {
		delete(sess.acks, ackID)
	} else {
		sess.acks[ackID] = next
	}

	return next, true
}

// bindHandlers routes protocol callbacks of sess to the store and the bus.
// Handlers run on the mesh goroutine and never take Service locks.
func (s *Service) bindHandlers(sess *session) {
	profileID := sess.profile.ID

	sess.proto.OnMessage(func(msg domain.Message) {
		if err := s.store.AppendMessage(msg); err != nil {
			sess.logger.Error("store incoming message", "conversation", msg.ConversationKey(), "error", err)
		}
		s.bus.Publish(connectors.TopicMessage, connectors.MessageEvent{
			ProfileID:  profileID,
			Message:    msg,
			IsIncoming: true,
			IsNew:      true,
		})
	})
	sess.proto.OnContact(func(c domain.Contact, isNew bool) {
		sess.persistContact(c)
		s.bus.Publish(connectors.TopicContact, connectors.ContactEvent{
			ProfileID: profileID,
			Contact:   c,
			IsNew:     isNew,
		})
	})
	sess.proto.OnStatus(func(st domain.NodeStatus) {
		s.bus.Publish(connectors.TopicStatus, s.statusEvent(sess, st))
	})
	sess.proto.OnAck(func(ackID uint32, success bool) {
		s.handleAck(sess, ackID, success)
	})
	sess.proto.OnError(func(code int, message string) {
		sess.logger.Warn("protocol error", "code", code, "message", message)
		s.bus.Publish(connectors.TopicError, connectors.ErrorEvent{
			ProfileID: profileID,
			Code:      code,
			Message:   message,
			Timestamp: s.now(),
		})
	})
}

// handleAck publishes a delivery report for a message sent in sess.
func (s *Service) handleAck(sess *session, ackID uint32, success bool) {
	status, ok := sess.resolveAck(ackID, success)
	if !ok {
		sess.logger.Debug("ignoring ack", "ack_id", ackID, "success", success)

		return
	}
	s.bus.Publish(connectors.TopicAck, connectors.AckEvent{
		ProfileID: sess.profile.ID,
		AckID:     ackID,
		Success:   success,
		Status:    status,
	})
}

func (s *Service) statusEvent(sess *session, st domain.NodeStatus) connectors.StatusEvent {
	return connectors.StatusEvent{
		ProfileID:    sess.profile.ID,
		RadioRunning: st.RadioRunning,
		ProtocolID:   sess.proto.Info().ID,
		ContactCount: sess.proto.ContactCount(),
		ChannelCount: sess.proto.ChannelCount(),
		Node:         st,
		Timestamp:    s.now().UTC().Truncate(time.Millisecond),
	}
}

// Package store keeps per-profile message history as append-only JSON Lines
// files, one file per conversation.
package store

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/skobkin/meshola/internal/domain"
)

const (
	fileExt    = ".jsonl"
	dirPerm    = 0o755
	filePerm   = 0o644
	maxLineLen = 64 * 1024
)

var (
	ErrNoActiveProfile  = errors.New("no active profile")
	ErrInvalidProfileID = errors.New("invalid profile id")
)

// record is the on-disk shape of one message line.
type record struct {
	TS    int64  `json:"ts"`
	SK    string `json:"sk"`
	RK    string `json:"rk"`
	CH    string `json:"ch"`
	SN    string `json:"sn"`
	Txt   string `json:"txt"`
	TxtB  string `json:"txtb,omitempty"`
	St    int    `json:"st"`
	Ack   uint32 `json:"ack"`
	IsCh  bool   `json:"isCh"`
	IsOut bool   `json:"isOut"`
	RSSI  int16  `json:"rssi"`
	SNR   int8   `json:"snr"`
}

type Store struct {
	base   string
	logger *slog.Logger

	mu      sync.Mutex
	profile string
}

func New(base string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{base: base, logger: logger}
}

// SetActiveProfile selects the profile whose history is read and written and
// creates its message directory.
func (s *Store) SetActiveProfile(id string) error {
	if err := validateProfileID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dirFor(id), dirPerm); err != nil {
		return fmt.Errorf("create message dir: %w", err)
	}
	s.profile = id

	return nil
}

func (s *Store) ActiveProfile() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.profile
}

// AppendMessage writes m as one line to its conversation file.
func (s *Store) AppendMessage(m domain.Message) error {
	line, err := encodeRecord(m)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.pathLocked(m.ConversationKey())
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePerm)
	if err != nil {
		return fmt.Errorf("open conversation file: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()

		return fmt.Errorf("append message: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close conversation file: %w", err)
	}

	return nil
}

// LoadContactMessages returns the last max messages exchanged with key in file
// order. A max of 0 returns all of them.
func (s *Store) LoadContactMessages(key domain.PublicKey, max int) ([]domain.Message, error) {
	return s.load(domain.ConversationKeyForContact(key), max)
}

func (s *Store) LoadChannelMessages(id domain.ChannelID, max int) ([]domain.Message, error) {
	return s.load(domain.ConversationKeyForChannel(id), max)
}

func (s *Store) ContactMessageCount(key domain.PublicKey) (int, error) {
	msgs, err := s.load(domain.ConversationKeyForContact(key), 0)

	return len(msgs), err
}

func (s *Store) ChannelMessageCount(id domain.ChannelID) (int, error) {
	msgs, err := s.load(domain.ConversationKeyForChannel(id), 0)

	return len(msgs), err
}

func (s *Store) DeleteContactMessages(key domain.PublicKey) error {
	return s.remove(domain.ConversationKeyForContact(key))
}

func (s *Store) DeleteChannelMessages(id domain.ChannelID) error {
	return s.remove(domain.ConversationKeyForChannel(id))
}

// DeleteAllMessages removes every conversation file of the active profile.
func (s *Store) DeleteAllMessages() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.profile == "" {
		return ErrNoActiveProfile
	}
	keys, err := s.conversationsLocked()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := removeIfExists(filepath.Join(s.dirFor(s.profile), key+fileExt)); err != nil {
			return err
		}
	}

	return nil
}

// Conversations lists the conversation keys that have a history file, sorted.
func (s *Store) Conversations() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.profile == "" {
		return nil, ErrNoActiveProfile
	}

	return s.conversationsLocked()
}

func (s *Store) conversationsLocked() ([]string, error) {
	entries, err := os.ReadDir(s.dirFor(s.profile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		key := strings.TrimSuffix(name, fileExt)
		if _, ok := domain.ContactKeyFromConversation(key); ok {
			keys = append(keys, key)
		} else if _, ok := domain.ChannelIDFromConversation(key); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	return keys, nil
}

func (s *Store) load(convKey string, max int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.pathLocked(convKey)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []domain.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open conversation file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	var (
		out     []domain.Message
		skipped int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLen)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		m, err := decodeRecord(line)
		if err != nil {
			skipped++

			continue
		}
		out = append(out, m)
		if max > 0 && len(out) > max {
			out = out[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read conversation file: %w", err)
	}
	if skipped > 0 {
		s.logger.Debug("skipped malformed history lines", "conversation", convKey, "skipped", skipped)
	}
	if out == nil {
		out = []domain.Message{}
	}

	return out, nil
}

func (s *Store) remove(convKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.pathLocked(convKey)
	if err != nil {
		return err
	}

	return removeIfExists(path)
}

func (s *Store) pathLocked(convKey string) (string, error) {
	if s.profile == "" {
		return "", ErrNoActiveProfile
	}

	return filepath.Join(s.dirFor(s.profile), convKey+fileExt), nil
}

func (s *Store) dirFor(profileID string) string {
	return filepath.Join(s.base, "profiles", profileID, "messages")
}

func validateProfileID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidProfileID, id)
	}

	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", filepath.Base(path), err)
	}

	return nil
}

func encodeRecord(m domain.Message) ([]byte, error) {
	r := record{
		TS:    m.Timestamp.UnixMilli(),
		SK:    m.SenderKey.String(),
		RK:    m.RecipientKey.String(),
		CH:    m.ChannelID.String(),
		SN:    m.SenderName,
		St:    int(m.Status),
		Ack:   m.AckID,
		IsCh:  m.IsChannel,
		IsOut: m.IsOutgoing,
		RSSI:  m.RSSI,
		SNR:   m.SNR,
	}
	if utf8.ValidString(m.Text) {
		r.Txt = m.Text
	} else {
		r.TxtB = base64.StdEncoding.EncodeToString([]byte(m.Text))
	}

	line, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	return append(line, '\n'), nil
}

func decodeRecord(line []byte) (domain.Message, error) {
	var r record
	if err := json.Unmarshal(line, &r); err != nil {
		return domain.Message{}, err
	}

	m := domain.Message{
		SenderName: r.SN,
		Text:       r.Txt,
		Timestamp:  time.UnixMilli(r.TS).UTC(),
		AckID:      r.Ack,
		Status:     domain.MessageStatus(r.St),
		IsChannel:  r.IsCh,
		IsOutgoing: r.IsOut,
		RSSI:       r.RSSI,
		SNR:        r.SNR,
	}
	if r.TxtB != "" {
		raw, err := base64.StdEncoding.DecodeString(r.TxtB)
		if err != nil {
			return domain.Message{}, fmt.Errorf("decode text bytes: %w", err)
		}
		m.Text = string(raw)
	}

	var err error
	if m.SenderKey, err = parseOptionalKey(r.SK); err != nil {
		return domain.Message{}, err
	}
	if m.RecipientKey, err = parseOptionalKey(r.RK); err != nil {
		return domain.Message{}, err
	}
	if r.CH != "" {
		if m.ChannelID, err = domain.ParseChannelID(r.CH); err != nil {
			return domain.Message{}, err
		}
	}

	return m, nil
}

func parseOptionalKey(raw string) (domain.PublicKey, error) {
	if raw == "" {
		return domain.PublicKey{}, nil
	}

	return domain.ParsePublicKey(raw)
}

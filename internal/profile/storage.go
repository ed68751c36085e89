package profile

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/skobkin/meshola/internal/domain"
)

const (
	listFilename    = "profiles.json"
	configFilename  = "config.json"
	profilesDirName = "profiles"
)

type listFile struct {
	ActiveProfileID string      `json:"activeProfileId"`
	Profiles        []listEntry `json:"profiles"`
}

type listEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type configFile struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	CreatedAt  int64              `json:"createdAt"`
	LastUsedAt int64              `json:"lastUsedAt"`
	ProtocolID string             `json:"protocolId"`
	Radio      domain.RadioConfig `json:"radio"`
	NodeName   string             `json:"nodeName"`
	PublicKey  string             `json:"publicKey"`
	PrivateKey string             `json:"privateKey"`
	HasKeys    bool               `json:"hasKeys"`
	Settings   []settingEntry     `json:"settings"`
}

type settingEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (m *Manager) profileDir(id string) string {
	return filepath.Join(m.base, profilesDirName, id)
}

func (m *Manager) readList() (listFile, bool, error) {
	var list listFile
	// #nosec G304 -- path is built from the configured data dir.
	raw, err := os.ReadFile(filepath.Join(m.base, listFilename))
	if errors.Is(err, os.ErrNotExist) {
		return list, false, nil
	}
	if err != nil {
		return list, false, fmt.Errorf("read profile list: %w", err)
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return list, false, fmt.Errorf("decode profile list: %w", err)
	}

	return list, true, nil
}

func (m *Manager) writeListLocked() error {
	return m.writeList(m.activeID, m.profiles)
}

// writeList persists a candidate list without touching the in-memory state.
func (m *Manager) writeList(activeID string, profiles []Profile) error {
	list := listFile{
		ActiveProfileID: activeID,
		Profiles:        make([]listEntry, 0, len(profiles)),
	}
	for _, p := range profiles {
		list.Profiles = append(list.Profiles, listEntry{ID: p.ID, Name: p.Name})
	}

	return writeJSON(filepath.Join(m.base, listFilename), list)
}

func (m *Manager) readProfile(id string) (Profile, error) {
	// #nosec G304 -- id comes from the profile list and is validated.
	raw, err := os.ReadFile(filepath.Join(m.profileDir(id), configFilename))
	if err != nil {
		return Profile{}, fmt.Errorf("read profile config: %w", err)
	}
	var cf configFile
	if err := json.Unmarshal(raw, &cf); err != nil {
		return Profile{}, fmt.Errorf("decode profile config: %w", err)
	}

	p := Profile{
		ID:         id,
		Name:       cf.Name,
		CreatedAt:  fromUnix(cf.CreatedAt),
		LastUsedAt: fromUnix(cf.LastUsedAt),
		ProtocolID: cf.ProtocolID,
		Radio:      cf.Radio,
		NodeName:   cf.NodeName,
		HasKeys:    cf.HasKeys,
	}
	if p.ProtocolID == "" {
		p.ProtocolID = DefaultProtocolID
	}
	if p.Radio.Validate() != nil {
		p.Radio = domain.DefaultRadioConfig()
	}
	if cf.HasKeys {
		pub, err := domain.ParsePublicKey(cf.PublicKey)
		if err != nil {
			return Profile{}, err
		}
		p.PublicKey = pub
		if err := decodeHexInto(cf.PrivateKey, p.PrivateKey[:]); err != nil {
			return Profile{}, fmt.Errorf("parse private key: %w", err)
		}
	}
	for _, s := range cf.Settings {
		p.Settings = append(p.Settings, Setting{Key: s.Key, Value: s.Value})
	}

	return p, nil
}

func (m *Manager) writeProfile(p Profile) error {
	cf := configFile{
		ID:         p.ID,
		Name:       p.Name,
		CreatedAt:  toUnix(p.CreatedAt),
		LastUsedAt: toUnix(p.LastUsedAt),
		ProtocolID: p.ProtocolID,
		Radio:      p.Radio,
		NodeName:   p.NodeName,
		HasKeys:    p.HasKeys,
		Settings:   make([]settingEntry, 0, len(p.Settings)),
	}
	if p.HasKeys {
		cf.PublicKey = p.PublicKey.String()
		cf.PrivateKey = hex.EncodeToString(p.PrivateKey[:])
	}
	for _, s := range p.Settings {
		cf.Settings = append(cf.Settings, settingEntry{Key: s.Key, Value: s.Value})
	}

	dir := m.profileDir(p.ID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	return writeJSON(filepath.Join(dir, configFilename), cf)
}

// writeJSON replaces path atomically through a temp file.
func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp %s: %w", filepath.Base(path), err)
	}

	return nil
}

func decodeHexInto(raw string, dst []byte) error {
	if len(raw) != hex.EncodedLen(len(dst)) {
		return fmt.Errorf("want %d hex chars, got %d", hex.EncodedLen(len(dst)), len(raw))
	}
	_, err := hex.Decode(dst, []byte(raw))

	return err
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.Unix()
}

func fromUnix(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}

	return time.Unix(v, 0)
}

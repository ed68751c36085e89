// Package profile manages user profiles: identity keys, radio settings and
// protocol choice, persisted as JSON under the data directory.
package profile

import (
	"errors"
	"fmt"
	"time"

	"github.com/skobkin/meshola/internal/domain"
)

const (
	MaxProfiles         = 16
	MaxProtocolSettings = 32
	MaxSettingKeyLen    = 32
	MaxSettingValueLen  = 64
	PrivateKeySize      = 64

	DefaultName       = "Default"
	DefaultProtocolID = "meshcore"
)

var (
	ErrNotFound       = errors.New("profile not found")
	ErrMaxProfiles    = errors.New("maximum number of profiles reached")
	ErrLastProfile    = errors.New("cannot delete the last profile")
	ErrInvalidName    = errors.New("invalid profile name")
	ErrInvalidSetting = errors.New("invalid protocol setting")
	ErrNotInitialized = errors.New("profile manager not initialized")
)

// Setting is one protocol-specific key/value pair. Order is preserved on disk.
type Setting struct {
	Key   string
	Value string
}

type Profile struct {
	ID         string
	Name       string
	CreatedAt  time.Time
	LastUsedAt time.Time
	ProtocolID string
	Radio      domain.RadioConfig
	NodeName   string
	PublicKey  domain.PublicKey
	PrivateKey [PrivateKeySize]byte
	HasKeys    bool
	Settings   []Setting
}

func (p Profile) Setting(key string) (string, bool) {
	for _, s := range p.Settings {
		if s.Key == key {
			return s.Value, true
		}
	}

	return "", false
}

// SetSetting inserts or replaces a protocol setting.
func (p *Profile) SetSetting(key, value string) error {
	if key == "" || len(key) >= MaxSettingKeyLen {
		return fmt.Errorf("%w: key must be 1-%d bytes", ErrInvalidSetting, MaxSettingKeyLen-1)
	}
	if len(value) >= MaxSettingValueLen {
		return fmt.Errorf("%w: value must be under %d bytes", ErrInvalidSetting, MaxSettingValueLen)
	}
	for i := range p.Settings {
		if p.Settings[i].Key == key {
			p.Settings[i].Value = value

			return nil
		}
	}
	if len(p.Settings) >= MaxProtocolSettings {
		return fmt.Errorf("%w: at most %d settings", ErrInvalidSetting, MaxProtocolSettings)
	}
	p.Settings = append(p.Settings, Setting{Key: key, Value: value})

	return nil
}

func (p Profile) clone() Profile {
	p.Settings = append([]Setting(nil), p.Settings...)

	return p
}

package app

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/skobkin/meshola/internal/config"
	"github.com/skobkin/meshola/internal/radio"
	"github.com/skobkin/meshola/internal/transport"
)

// NewRadioDriver builds the driver selected by cfg. Link drivers connect lazily on Begin.
func NewRadioDriver(cfg config.RadioConfig, logger *slog.Logger) (radio.Driver, error) {
	tr, err := newTransportForRadio(cfg, logger)
	if err != nil {
		return nil, err
	}
	if tr == nil {
		return radio.NewSimDriver(), nil
	}

	return radio.NewLinkDriver(logger, tr), nil
}

// newTransportForRadio returns nil for the in-memory simulator.
func newTransportForRadio(cfg config.RadioConfig, logger *slog.Logger) (transport.Transport, error) {
	switch cfg.Driver {
	case config.RadioDriverSim:
		return nil, nil
	case config.RadioDriverSerial:
		if strings.TrimSpace(cfg.SerialPort) == "" {
			return nil, fmt.Errorf("serial driver requires a port")
		}

		return transport.NewSerialTransport(logger, cfg.SerialPort, cfg.SerialBaud), nil
	case config.RadioDriverIP:
		if strings.TrimSpace(cfg.Host) == "" {
			return nil, fmt.Errorf("ip driver requires a host")
		}

		return transport.NewTCPTransport(logger, cfg.Host, cfg.Port), nil
	default:
		return nil, fmt.Errorf("unknown radio driver: %q", cfg.Driver)
	}
}

// ConnectionTarget renders where the configured radio lives, for status output.
func ConnectionTarget(cfg config.RadioConfig) string {
	switch cfg.Driver {
	case config.RadioDriverSerial:
		return strings.TrimSpace(cfg.SerialPort)
	case config.RadioDriverIP:
		host := strings.TrimSpace(cfg.Host)
		if host == "" {
			return ""
		}

		return net.JoinHostPort(host, strconv.Itoa(cfg.Port))
	case config.RadioDriverSim:
		return "simulator"
	default:
		return ""
	}
}

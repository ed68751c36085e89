// Command framedump decodes mesh frames and sniffs a radio modem link.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/skobkin/meshola/internal/app"
	"github.com/skobkin/meshola/internal/config"
	"github.com/skobkin/meshola/internal/domain"
	"github.com/skobkin/meshola/internal/logging"
	"github.com/skobkin/meshola/internal/radio"
	"github.com/skobkin/meshola/internal/transport"
	"github.com/skobkin/meshola/internal/wire"
)

const (
	pollInterval     = 10 * time.Millisecond
	maxHexPreviewLen = 64
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("run framedump", "error", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: framedump <decode|encode|ports|sniff> [flags]")
	fmt.Fprintln(w, "  decode [hex...]   decode frames given as arguments or one per stdin line")
	fmt.Fprintln(w, "  encode            build a frame and print it as hex")
	fmt.Fprintln(w, "  ports             list serial ports")
	fmt.Fprintln(w, "  sniff             print frames received by a serial or ip modem")
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		usage(stdout)

		return fmt.Errorf("missing command")
	}

	switch args[0] {
	case "decode":
		return runDecode(args[1:], stdin, stdout)
	case "encode":
		return runEncode(args[1:], stdout)
	case "ports":
		return runPorts(stdout)
	case "sniff":
		return runSniff(args[1:], stdout)
	case "-h", "--help", "help":
		usage(stdout)

		return nil
	default:
		usage(stdout)

		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runDecode(args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) > 0 {
		for _, raw := range args {
			printDecoded(stdout, raw)
		}

		return nil
	}

	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		printDecoded(stdout, line)
	}

	return scanner.Err()
}

func printDecoded(w io.Writer, raw string) {
	payload, err := parseHex(raw)
	if err != nil {
		fmt.Fprintf(w, "invalid hex %q: %v\n", previewHex(raw), err)
		return
	}
	fmt.Fprintln(w, describePayload(payload))
}

// parseHex accepts plain, 0x-prefixed, space or colon separated hex.
func parseHex(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	raw = strings.NewReplacer(" ", "", ":", "", "\t", "").Replace(raw)

	return hex.DecodeString(raw)
}

// describePayload renders a received payload the way the engine would interpret it.
func describePayload(payload []byte) string {
	frame, err := wire.Decode(payload)
	if err != nil {
		return fmt.Sprintf("len=%d error=%q plain=%q", len(payload), err.Error(), wire.PlainTextMessage(payload, time.Time{}).Text)
	}

	switch {
	case frame.IsAdvert():
		return fmt.Sprintf("len=%d kind=advert from=%s name=%q", len(payload), frame.SenderKey.Short(), frame.Text)
	case frame.IsChannel():
		return fmt.Sprintf("len=%d kind=channel from=%s channel=%s text=%q", len(payload), frame.SenderKey.Short(), frame.ChannelID, frame.Text)
	default:
		return fmt.Sprintf("len=%d kind=direct from=%s to=%s text=%q", len(payload), frame.SenderKey.Short(), frame.RecipientKey.Short(), frame.Text)
	}
}

func runEncode(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("encode", flag.ContinueOnError)
	from := fs.String("from", "", "sender public key (hex)")
	to := fs.String("to", "", "recipient public key (hex), direct frame")
	channel := fs.String("channel", "", "channel id (hex), channel frame")
	advert := fs.Bool("advert", false, "build an advert; text is the node name")
	text := fs.String("text", "", "message text")
	if err := fs.Parse(args); err != nil {
		return err
	}

	frame, err := buildFrame(*from, *to, *channel, *text, *advert)
	if err != nil {
		return err
	}
	payload, err := wire.Encode(frame)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, hex.EncodeToString(payload))

	return nil
}

func buildFrame(from, to, channel, text string, advert bool) (wire.Frame, error) {
	sender, err := domain.ParsePublicKey(from)
	if err != nil {
		return wire.Frame{}, err
	}

	switch {
	case advert:
		return wire.AdvertFrame(sender, text), nil
	case channel != "":
		id, err := domain.ParseChannelID(channel)
		if err != nil {
			return wire.Frame{}, err
		}

		return wire.ChannelFrame(sender, id, text), nil
	case to != "":
		recipient, err := domain.ParsePublicKey(to)
		if err != nil {
			return wire.Frame{}, err
		}

		return wire.DirectFrame(sender, recipient, text), nil
	default:
		return wire.Frame{}, fmt.Errorf("one of -to, -channel or -advert is required")
	}
}

func runPorts(stdout io.Writer) error {
	ports, err := transport.ListSerialPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(stdout, "no serial ports found")
	}
	for _, p := range ports {
		fmt.Fprintln(stdout, p)
	}

	return nil
}

func runSniff(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("sniff", flag.ContinueOnError)
	driver := fs.String("driver", string(config.RadioDriverSerial), "modem link: serial or ip")
	port := fs.String("port", "", "serial port")
	baud := fs.Int("baud", config.DefaultSerialBaud, "serial baud rate")
	host := fs.String("host", "", "ip modem host")
	ipPort := fs.Int("ip-port", config.DefaultIPPort, "ip modem port")
	listenFor := fs.Duration("listen-for", 0, "listen duration, e.g. 30s")
	logLevel := fs.String("log-level", "info", "log level")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(config.LoggingConfig{Level: *logLevel}, ""); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		_ = logMgr.Close()
	}()
	logger := logMgr.Logger("framedump")

	radioCfg := config.RadioConfig{
		Driver:     config.RadioDriver(*driver),
		SerialPort: *port,
		SerialBaud: *baud,
		Host:       *host,
		Port:       *ipPort,
	}
	if radioCfg.Driver == config.RadioDriverSim {
		return fmt.Errorf("sniffing needs a serial or ip modem")
	}
	drv, err := app.NewRadioDriver(radioCfg, logMgr.Logger("radio"))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := drv.Close(); closeErr != nil {
			logger.Warn("close radio", "error", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *listenFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *listenFor)
		defer cancel()
	}

	if err := drv.Begin(domain.DefaultRadioConfig()); err != nil {
		return fmt.Errorf("begin radio: %w", err)
	}
	if err := drv.StartReceive(); err != nil {
		return fmt.Errorf("start receive: %w", err)
	}
	logger.Info("sniffing", "target", app.ConnectionTarget(radioCfg))

	return sniff(ctx, drv, stdout, logger)
}

// sniff polls drv until ctx is done, printing every received packet.
func sniff(ctx context.Context, drv radio.Driver, stdout io.Writer, logger *slog.Logger) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		flags := drv.IRQFlags()
		if flags == 0 {
			continue
		}
		drv.ClearIRQFlags(flags)

		if flags&radio.IRQCRCError != 0 {
			logger.Warn("crc error")
		}
		if flags&radio.IRQRxDone == 0 {
			continue
		}
		payload, err := drv.ReadPacket()
		if err != nil {
			logger.Warn("read packet", "error", err)
			continue
		}
		fmt.Fprintf(stdout, "%s rssi=%d snr=%d %s\n",
			time.Now().Format(time.TimeOnly), drv.PacketRSSI(), drv.PacketSNR(), describePayload(payload))
		logger.Debug("raw packet", "hex", previewHex(hex.EncodeToString(payload)))
	}
}

func previewHex(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxHexPreviewLen {
		return s
	}

	return s[:maxHexPreviewLen] + "..."
}

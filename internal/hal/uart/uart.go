// Package uart opens the RX's flight-controller serial link. It is kept
// as an opaque byte transport: decoding whatever protocol the FC speaks
// (MSP, CRSF telemetry, etc.) is out of scope here, so this
// HAL only exposes conn.Conn for a higher layer to read/write.
package uart

import (
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/uart"
	"periph.io/x/conn/v3/uart/uartreg"
	"periph.io/x/host/v3"

	"github.com/openairlink/airlink/internal/config"
)

func open(device string) (uart.PortCloser, error) {
	log := slog.With("func", "uart.open", "params", "(string)", "return", "(uart.PortCloser, error)", "package", "uart")
	log.Info("opening UART bus", "device", device)

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("uart: host init failed: %w", err)
	}

	bus, err := uartreg.Open(device)
	if err != nil {
		return nil, fmt.Errorf("uart: failed to open bus %s: %w", device, err)
	}
	return bus, nil
}

// Setup opens and connects the FC serial link at cfg.RX.FCSerialBaud.
func Setup(cfg *config.RX) (conn.Conn, func(), error) {
	log := slog.With("func", "uart.Setup", "params", "(*config.RX)", "return", "(conn.Conn, func(), error)", "package", "uart")
	log.Info("FC serial setup", "device", cfg.FCSerialDevice, "baud", cfg.FCSerialBaud)

	port, err := open(cfg.FCSerialDevice)
	if err != nil {
		return nil, func() {}, err
	}
	closer := func() {
		slog.Debug("closing FC serial connection")
		_ = port.Close()
	}

	c, err := port.Connect(physic.Frequency(cfg.FCSerialBaud), uart.One, uart.NoParity, uart.NoFlow, 8)
	if err != nil {
		closer()
		return nil, func() {}, fmt.Errorf("uart: failed to configure %s: %w", cfg.FCSerialDevice, err)
	}

	return c, closer, nil
}

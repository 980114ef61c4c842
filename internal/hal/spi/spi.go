// Package spi opens and configures the SPI bus the radio transceiver is
// wired to.
package spi

import (
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/openairlink/airlink/internal/config"
)

func open(device string) (spi.PortCloser, error) {
	log := slog.With("func", "spi.open", "params", "(string)", "return", "(spi.PortCloser, error)", "package", "spi")
	log.Info("opening SPI bus", "device", device)

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("spi: host init failed: %w", err)
	}

	bus, err := spireg.Open(device)
	if err != nil {
		return nil, fmt.Errorf("spi: failed to open bus %s: %w", device, err)
	}
	return bus, nil
}

// Setup opens and connects the single SPI bus the radio lives on,
// returning the connection and a closer.
func Setup(cfg *config.SPI) (spi.Conn, func(), error) {
	log := slog.With("func", "spi.Setup", "params", "(*config.SPI)", "return", "(spi.Conn, func(), error)", "package", "spi")
	log.Info("SPI bus setup")

	if !cfg.Enable {
		return nil, func() {}, fmt.Errorf("spi: bus disabled in config")
	}

	port, err := open(cfg.Device)
	if err != nil {
		return nil, func() {}, err
	}
	closer := func() {
		slog.Debug("closing SPI bus connection")
		_ = port.Close()
	}

	conn, err := port.Connect(physic.Frequency(cfg.Speed), cfg.Mode, cfg.BitsPerWord)
	if err != nil {
		closer()
		return nil, func() {}, fmt.Errorf("spi: failed to configure bus %s: %w", cfg.Device, err)
	}

	log.Debug("SPI bus configured", "device", cfg.Device, "speed", cfg.Speed, "mode", cfg.Mode, "bitsPerWord", cfg.BitsPerWord)
	return conn, closer, nil
}

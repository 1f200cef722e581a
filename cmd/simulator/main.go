// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

// Command simulator runs a simulated Modbus slave on a pseudo-terminal.
// It prints the client device path on startup; point any RTU or ASCII
// master at that path.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/lumberbarons/mbserial"
	"github.com/lumberbarons/mbserial/internal/sim"
	"github.com/lumberbarons/mbserial/internal/simulator"
)

// config is the simulator configuration loaded with viper.
type config struct {
	UnitID   byte   `mapstructure:"unit_id"`
	Mode     string `mapstructure:"mode"`
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	StopBits int    `mapstructure:"stop_bits"`
	Parity   string `mapstructure:"parity"`

	DelayBeforeReply time.Duration `mapstructure:"delay_before_reply"`
	ListenOnly       bool          `mapstructure:"listen_only"`

	Persistence persistenceConfig `mapstructure:"persistence"`

	HoldingRegisters map[string]uint16 `mapstructure:"holding_registers"`
	InputRegisters   map[string]uint16 `mapstructure:"input_registers"`
	Coils            map[string]bool   `mapstructure:"coils"`
	DiscreteInputs   map[string]bool   `mapstructure:"discrete_inputs"`
}

type persistenceConfig struct {
	Type string `mapstructure:"type"` // "memory" or "mmap"
	Path string `mapstructure:"path"`
}

func loadConfig(path string) (*config, error) {
	v := viper.New()
	v.SetDefault("unit_id", 1)
	v.SetDefault("mode", "rtu")
	v.SetDefault("baud_rate", 19200)
	v.SetDefault("data_bits", 8)
	v.SetDefault("stop_bits", 1)
	v.SetDefault("parity", "even")
	v.SetDefault("persistence.type", "memory")
	v.SetEnvPrefix("MBSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func parseMode(s string) (mbserial.Mode, error) {
	switch strings.ToLower(s) {
	case "rtu":
		return mbserial.ModeRTU, nil
	case "ascii":
		return mbserial.ModeASCII, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

func parseParity(s string) (mbserial.Parity, error) {
	switch strings.ToLower(s) {
	case "none":
		return mbserial.NoParity, nil
	case "odd":
		return mbserial.OddParity, nil
	case "even":
		return mbserial.EvenParity, nil
	case "mark":
		return mbserial.MarkParity, nil
	case "space":
		return mbserial.SpaceParity, nil
	default:
		return 0, fmt.Errorf("unknown parity %q", s)
	}
}

func parseStopBits(n int) (mbserial.StopBits, error) {
	switch n {
	case 1:
		return mbserial.OneStopBit, nil
	case 2:
		return mbserial.TwoStopBits, nil
	default:
		return 0, fmt.Errorf("unsupported stop bits %d", n)
	}
}

func parseAddress(key string) (uint16, error) {
	address, err := strconv.ParseUint(key, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("bad address %q: %w", key, err)
	}
	return uint16(address), nil
}

func seedDataStore(ds *simulator.DataStore, cfg *config) error {
	for key, value := range cfg.HoldingRegisters {
		address, err := parseAddress(key)
		if err != nil {
			return err
		}
		if err := ds.WriteSingleRegister(address, value); err != nil {
			return err
		}
	}
	for key, value := range cfg.InputRegisters {
		address, err := parseAddress(key)
		if err != nil {
			return err
		}
		ds.SetInputRegister(address, value)
	}
	for key, value := range cfg.Coils {
		address, err := parseAddress(key)
		if err != nil {
			return err
		}
		if err := ds.WriteSingleCoil(address, value); err != nil {
			return err
		}
	}
	for key, value := range cfg.DiscreteInputs {
		address, err := parseAddress(key)
		if err != nil {
			return err
		}
		ds.SetDiscreteInput(address, value)
	}
	return nil
}

func run(c *cli.Context) error {
	logger := log.New(os.Stdout, "simulator: ", log.LstdFlags)

	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	mode, err := parseMode(cfg.Mode)
	if err != nil {
		return err
	}
	parity, err := parseParity(cfg.Parity)
	if err != nil {
		return err
	}
	stopBits, err := parseStopBits(cfg.StopBits)
	if err != nil {
		return err
	}

	ds := simulator.NewDataStore()
	var persist *simulator.MmapPersistence
	if cfg.Persistence.Type == "mmap" {
		persist, err = simulator.OpenMmapPersistence(cfg.Persistence.Path)
		if err != nil {
			return err
		}
		defer persist.Close()
		persist.Load(ds)
		logger.Printf("loaded state from %s", cfg.Persistence.Path)
	}
	if err := seedDataStore(ds, cfg); err != nil {
		return err
	}

	pair, err := sim.CreatePtyPair()
	if err != nil {
		return err
	}
	defer pair.Close()

	tr, err := mbserial.NewTransceiver(sim.NewFileDriver(pair.Master), &mbserial.TransceiverConfig{
		Mode: mode,
		Setup: mbserial.SerialSetup{
			BaudRate: cfg.BaudRate,
			DataBits: cfg.DataBits,
			StopBits: stopBits,
			Parity:   parity,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	if err := tr.Open(); err != nil {
		return err
	}
	defer tr.Close()

	slave, err := mbserial.NewSlave(tr, &mbserial.SlaveConfig{
		UnitID:           cfg.UnitID,
		DelayBeforeReply: cfg.DelayBeforeReply,
		PollTick:         500 * time.Millisecond,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	if err := mbserial.RegisterBuiltinCommands(slave.Table(), ds); err != nil {
		return err
	}
	if cfg.ListenOnly {
		if err := slave.EnterListenOnly(); err != nil {
			return err
		}
	}

	logger.Printf("%s slave (unit %d) listening - connect to %s", mode, cfg.UnitID, pair.SlavePath)
	fmt.Println(pair.SlavePath)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		slave.Serve(stop)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Printf("shutting down")
	close(stop)
	<-done

	if persist != nil {
		if err := persist.Store(ds); err != nil {
			return err
		}
		logger.Printf("state saved to %s", cfg.Persistence.Path)
	}
	counters := slave.Counters()
	logger.Printf("bus messages %d, comm errors %d, slave messages %d, exceptions %d, no-response %d",
		counters.BusMessages, counters.BusCommErrors, counters.SlaveMessages,
		counters.SlaveExceptions, counters.SlaveNoResponse)
	return nil
}

func main() {
	app := &cli.App{
		Name:  "simulator",
		Usage: "Simulated Modbus RTU/ASCII slave on a pseudo-terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

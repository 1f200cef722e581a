// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

// Command mbcli is a command-line Modbus master for RTU and ASCII
// serial lines.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/lumberbarons/mbserial"
)

func main() {
	app := &cli.App{
		Name:  "mbcli",
		Usage: "Command-line tool for Modbus serial communication",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "mode",
				Aliases:  []string{"m"},
				Usage:    "Transmission mode: rtu or ascii",
				Value:    "rtu",
			},
			&cli.StringFlag{
				Name:     "device",
				Aliases:  []string{"d"},
				Usage:    "Serial device path (e.g. /dev/ttyUSB0)",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "slave-id",
				Aliases: []string{"s"},
				Usage:   "Modbus slave/unit ID (0 broadcasts)",
				Value:   1,
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "Per-transaction timeout",
				Value:   5 * time.Second,
			},
			&cli.IntFlag{
				Name:  "baud",
				Usage: "Baud rate",
				Value: 19200,
			},
			&cli.IntFlag{
				Name:  "data-bits",
				Usage: "Data bits (7 or 8)",
				Value: 8,
			},
			&cli.IntFlag{
				Name:  "stop-bits",
				Usage: "Stop bits (1 or 2)",
				Value: 1,
			},
			&cli.StringFlag{
				Name:  "parity",
				Usage: "Parity: none, odd, even, mark, space",
				Value: "even",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log frames on stderr",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "read-coils",
				Usage: "Read coils (function code 1)",
				Flags: readFlags(2000),
				Action: func(c *cli.Context) error {
					return withClient(c, func(client *mbserial.Client) error {
						values, err := client.ReadCoils(uint16(c.Uint("start")), uint16(c.Uint("count")))
						if err != nil {
							return err
						}
						printBits(uint16(c.Uint("start")), values)
						return nil
					})
				},
			},
			{
				Name:  "read-discrete-inputs",
				Usage: "Read discrete inputs (function code 2)",
				Flags: readFlags(2000),
				Action: func(c *cli.Context) error {
					return withClient(c, func(client *mbserial.Client) error {
						values, err := client.ReadDiscreteInputs(uint16(c.Uint("start")), uint16(c.Uint("count")))
						if err != nil {
							return err
						}
						printBits(uint16(c.Uint("start")), values)
						return nil
					})
				},
			},
			{
				Name:  "read-holding-registers",
				Usage: "Read holding registers (function code 3)",
				Flags: readFlags(125),
				Action: func(c *cli.Context) error {
					return withClient(c, func(client *mbserial.Client) error {
						values, err := client.ReadHoldingRegisters(uint16(c.Uint("start")), uint16(c.Uint("count")))
						if err != nil {
							return err
						}
						printRegisters(uint16(c.Uint("start")), values)
						return nil
					})
				},
			},
			{
				Name:  "read-input-registers",
				Usage: "Read input registers (function code 4)",
				Flags: readFlags(125),
				Action: func(c *cli.Context) error {
					return withClient(c, func(client *mbserial.Client) error {
						values, err := client.ReadInputRegisters(uint16(c.Uint("start")), uint16(c.Uint("count")))
						if err != nil {
							return err
						}
						printRegisters(uint16(c.Uint("start")), values)
						return nil
					})
				},
			},
			{
				Name:  "write-coil",
				Usage: "Write a single coil (function code 5)",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "address", Usage: "Coil address", Required: true},
					&cli.BoolFlag{Name: "on", Usage: "Set the coil on (off when absent)"},
				},
				Action: func(c *cli.Context) error {
					return withClient(c, func(client *mbserial.Client) error {
						return client.WriteSingleCoil(uint16(c.Uint("address")), c.Bool("on"))
					})
				},
			},
			{
				Name:  "write-register",
				Usage: "Write a single holding register (function code 6)",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "address", Usage: "Register address", Required: true},
					&cli.UintFlag{Name: "value", Usage: "Register value", Required: true},
				},
				Action: func(c *cli.Context) error {
					return withClient(c, func(client *mbserial.Client) error {
						return client.WriteSingleRegister(uint16(c.Uint("address")), uint16(c.Uint("value")))
					})
				},
			},
			{
				Name:  "write-registers",
				Usage: "Write multiple holding registers (function code 16)",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "start", Usage: "Starting address", Required: true},
					&cli.StringFlag{
						Name:     "values",
						Usage:    "Comma-separated register values (decimal or 0x hex)",
						Required: true,
					},
				},
				Action: func(c *cli.Context) error {
					values, err := parseValues(c.String("values"))
					if err != nil {
						return err
					}
					return withClient(c, func(client *mbserial.Client) error {
						return client.WriteMultipleRegisters(uint16(c.Uint("start")), values)
					})
				},
			},
			{
				Name:  "mask-write-register",
				Usage: "Mask-write a holding register (function code 22)",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "address", Usage: "Register address", Required: true},
					&cli.UintFlag{Name: "and-mask", Usage: "AND mask", Required: true},
					&cli.UintFlag{Name: "or-mask", Usage: "OR mask", Required: true},
				},
				Action: func(c *cli.Context) error {
					return withClient(c, func(client *mbserial.Client) error {
						return client.MaskWriteRegister(uint16(c.Uint("address")),
							uint16(c.Uint("and-mask")), uint16(c.Uint("or-mask")))
					})
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func readFlags(maxCount uint) []cli.Flag {
	return []cli.Flag{
		&cli.UintFlag{Name: "start", Usage: "Starting address", Required: true},
		&cli.UintFlag{
			Name:     "count",
			Usage:    fmt.Sprintf("Number of items to read (1-%d)", maxCount),
			Required: true,
		},
	}
}

func parseValues(s string) ([]uint16, error) {
	parts := strings.Split(s, ",")
	values := make([]uint16, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 0, 16)
		if err != nil {
			return nil, fmt.Errorf("bad value %q: %w", part, err)
		}
		values = append(values, uint16(v))
	}
	return values, nil
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

// withClient wires the serial driver, transmission core, master and
// client, runs fn, and tears everything down.
func withClient(c *cli.Context, fn func(*mbserial.Client) error) error {
	mode, err := parseMode(c.String("mode"))
	if err != nil {
		return err
	}
	parity, err := parseParity(c.String("parity"))
	if err != nil {
		return err
	}
	stopBits, err := parseStopBits(c.Int("stop-bits"))
	if err != nil {
		return err
	}

	var logger *log.Logger
	if c.Bool("verbose") {
		logger = log.New(os.Stderr, "mbcli: ", log.LstdFlags)
	}

	driver := mbserial.NewSerialDriver(c.String("device"))
	tr, err := mbserial.NewTransceiver(driver, &mbserial.TransceiverConfig{
		Mode: mode,
		Setup: mbserial.SerialSetup{
			BaudRate: c.Int("baud"),
			DataBits: c.Int("data-bits"),
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

	master, err := mbserial.NewMaster(tr, &mbserial.MasterConfig{
		Timeout: c.Duration("timeout"),
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	client, err := mbserial.NewClient(master, byte(c.Int("slave-id")), c.Duration("timeout"))
	if err != nil {
		return err
	}
	return fn(client)
}

func printBits(start uint16, values []bool) {
	for i, v := range values {
		bit := 0
		if v {
			bit = 1
		}
		fmt.Printf("%d: %d\n", start+uint16(i), bit)
	}
}

func printRegisters(start uint16, values []uint16) {
	for i, v := range values {
		fmt.Printf("%d: %d (0x%04X)\n", start+uint16(i), v, v)
	}
}

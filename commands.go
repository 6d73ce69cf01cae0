package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gregLibert/ccid/pkg/ccid"
	"github.com/gregLibert/ccid/pkg/iso7816"
	"github.com/gregLibert/ccid/pkg/logging"
	"github.com/gregLibert/ccid/pkg/reader"
	"github.com/gregLibert/ccid/pkg/relay"
	"github.com/gregLibert/ccid/pkg/tlv"
	"github.com/gregLibert/ccid/pkg/usbtransport"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var (
	listCommand = &cli.Command{
		Name:   "list",
		Usage:  "Lists connected USB devices with a smart card interface",
		Action: list,
	}
	descriptorsCommand = &cli.Command{
		Name:   "descriptors",
		Usage:  "Prints the CCID interfaces of the reader",
		Action: descriptors,
	}
	statusCommand = &cli.Command{
		Name:   "status",
		Usage:  "Prints the slot status and, with a card, its ATR and parameters",
		Action: status,
	}
	waitCommand = &cli.Command{
		Name:   "wait",
		Usage:  "Waits for a card, powers it and prints the ATR",
		Action: wait,
	}
	watchCommand = &cli.Command{
		Name:   "watch",
		Usage:  "Reports card insertion and removal until interrupted",
		Action: watch,
	}
	apduCommand = &cli.Command{
		Name:      "apdu",
		Usage:     "Sends a command APDU and prints the response",
		ArgsUsage: "hex",
		Flags:     []cli.Flag{rawFlag},
		Action:    apdu,
	}
	challengeCommand = &cli.Command{
		Name:      "challenge",
		Usage:     "Asks the card for random bytes (GET CHALLENGE)",
		ArgsUsage: "[length]",
		Action:    challenge,
	}
	relayCommand = &cli.Command{
		Name:      "relay",
		Usage:     "Lends the card to a remote host over WebSocket",
		ArgsUsage: "ws-url",
		Action:    relayCard,
	}
)

var rawFlag = &cli.BoolFlag{
	Name:  "raw",
	Usage: "send the bytes as is, without GET RESPONSE or Le correction",
}

var (
	okColor     = color.New(color.FgGreen).SprintfFunc()
	noticeColor = color.New(color.FgYellow).SprintfFunc()
	labelColor  = color.New(color.Bold).SprintfFunc()
)

func list(c *cli.Context) error {
	found, err := usbtransport.Scan()
	if err != nil {
		return err
	}
	table, err := readerTable(c)
	if err != nil {
		return err
	}

	out := tablewriter.NewWriter(os.Stdout)
	out.SetHeader([]string{"ID", "Bus", "Address", "Interfaces", "Known as"})
	out.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, d := range found {
		name := ""
		if k, ok := table.Lookup(d.ID); ok {
			name = k.Name
		}
		out.Append([]string{
			fmt.Sprintf("%04X:%04X", d.ID.VendorID, d.ID.ProductID),
			strconv.Itoa(d.Bus),
			strconv.Itoa(d.Address),
			fmt.Sprint(d.Interfaces),
			name,
		})
	}
	out.Render()
	return nil
}

func descriptors(c *cli.Context) error {
	transport, err := usbTransport(c)
	if err != nil {
		return err
	}
	s := reader.NewSession(transport, reader.WithNotifier(printEvent))
	defer s.Close()
	if err := s.Init(c.Context); err != nil {
		return err
	}
	desc := s.Descriptor()

	fmt.Printf("%s configuration %d, %d interface(s), max power %d mA\n",
		labelColor("%04X:%04X", transport.DeviceID().VendorID, transport.DeviceID().ProductID),
		desc.ConfigurationValue, desc.NumInterfaces, int(desc.MaxPower)*2)

	out := tablewriter.NewWriter(os.Stdout)
	out.SetHeader([]string{"Interface", "Class", "CCID", "Protocols", "Exchange", "Voltages", "Max message", "Endpoints"})
	out.SetAlignment(tablewriter.ALIGN_LEFT)
	out.SetAutoWrapText(false)
	for _, iface := range desc.Interfaces {
		sc := iface.SmartCard
		var protocols []string
		if sc.SupportsT0() {
			protocols = append(protocols, "T=0")
		}
		if sc.SupportsT1() {
			protocols = append(protocols, "T=1")
		}
		var endpoints []string
		for _, ep := range iface.Endpoints {
			endpoints = append(endpoints, ep.String())
		}
		out.Append([]string{
			fmt.Sprintf("%d.%d", iface.InterfaceNumber, iface.AlternateSetting),
			fmt.Sprintf("0x%02X", iface.InterfaceClass),
			fmt.Sprintf("%X.%02X", sc.CCIDVersion>>8, sc.CCIDVersion&0xFF),
			strings.Join(protocols, " "),
			sc.ExchangeLevel(),
			strings.Join(sc.Voltages(), " "),
			strconv.Itoa(int(sc.MaxCCIDMessageLength)),
			strings.Join(endpoints, "\n"),
		})
	}
	out.Render()
	return nil
}

func status(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	cfg, _ := s.Configuration()
	fmt.Println(labelColor("Reader:"), cfg)

	ss, err := s.SlotStatus(c.Context)
	if err != nil {
		return err
	}
	fmt.Println(labelColor("Card:  "), ss.ICCStatus())
	fmt.Println(labelColor("Clock: "), ss.ClockStatus)
	if !ss.ICCStatus().Present() {
		return nil
	}

	if _, err := s.InitCard(c.Context); err != nil {
		return err
	}
	fmt.Println(labelColor("ATR:   "), fmt.Sprintf("%X", s.ATR()))

	params, err := s.Parameters(c.Context)
	if err != nil {
		return err
	}
	fmt.Println(labelColor("Params:"), fmt.Sprintf("T=%d %X", params.ProtocolNum, params.ProtocolData))
	return nil
}

func wait(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := readyCard(c.Context, s, c.Duration(pollFlag.Name)); err != nil {
		return err
	}
	fmt.Println(okColor("ATR %X", s.ATR()))
	return nil
}

func watch(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	g, ctx := errgroup.WithContext(c.Context)
	g.Go(func() error {
		return s.WatchCard(ctx, c.Duration(pollFlag.Name), func(status ccid.ICCStatus) {
			line := fmt.Sprintf("card %s", shortICC(status))
			if status.Present() {
				fmt.Println(okColor("%s", line))
			} else {
				fmt.Println(noticeColor("%s", line))
			}
		})
	})
	if cfg, _ := s.Configuration(); cfg.InterruptIn != 0 {
		g.Go(func() error {
			return s.ListenInterrupt(ctx, func(irq *ccid.Interrupt) {
				switch {
				case irq.SlotChange != nil:
					fmt.Printf("interrupt: slot change, present %v changed %v\n",
						irq.SlotChange.Present(0), irq.SlotChange.Changed(0))
				case irq.HardwareError != nil:
					fmt.Println(errorColor("interrupt: hardware error 0x%02X (seq %d)",
						irq.HardwareError.Code, irq.HardwareError.Seq))
				}
			})
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func apdu(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("need a command APDU in hex as argument")
	}
	raw, err := parseHex(strings.Join(c.Args().Slice(), ""))
	if err != nil {
		return err
	}

	card, done, err := openCard(c)
	if err != nil {
		return err
	}
	defer done()

	client := iso7816.NewClient(card)
	cmd, parseErr := iso7816.ParseCommandAPDU(raw)
	if c.Bool(rawFlag.Name) || parseErr != nil {
		resp, err := client.SendRaw(raw)
		if err != nil {
			return err
		}
		fmt.Println(resp)
		printData(resp.Data)
		return nil
	}

	trace, err := client.Send(cmd)
	if err != nil {
		return err
	}
	fmt.Println(trace.Describe())
	printData(trace.Data())
	return nil
}

func challenge(c *cli.Context) error {
	n := 8
	if c.NArg() > 0 {
		v, err := strconv.Atoi(c.Args().First())
		if err != nil || v < 1 || v > iso7816.MaxExtendedLe {
			return fmt.Errorf("invalid challenge length %q", c.Args().First())
		}
		n = v
	}

	card, done, err := openCard(c)
	if err != nil {
		return err
	}
	defer done()

	trace, err := iso7816.NewClient(card).Send(iso7816.GetChallenge(n))
	if err != nil {
		return err
	}
	if !trace.IsSuccess() {
		return fmt.Errorf("GET CHALLENGE failed: %s", trace.Last().Response.Status.Verbose())
	}
	fmt.Printf("%X\n", trace.Data())
	return nil
}

func relayCard(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("need the relay host URL as argument")
	}
	url := c.Args().First()

	if c.String(backendFlag.Name) == "pcsc" {
		card, done, err := openCard(c)
		if err != nil {
			return err
		}
		defer done()
		return relay.New(url, card).Run(c.Context)
	}

	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := readyCard(c.Context, s, c.Duration(pollFlag.Name)); err != nil {
		return err
	}

	// The relay runs until the host is done or the card leaves the slot.
	errCardRemoved := errors.New("card removed")
	g, gctx := errgroup.WithContext(c.Context)
	ctx, cancel := context.WithCancel(gctx)
	defer cancel()
	client := relay.New(url, s)
	g.Go(func() error {
		defer cancel()
		return client.Run(ctx)
	})
	g.Go(func() error {
		err := s.WatchCard(ctx, c.Duration(pollFlag.Name), func(status ccid.ICCStatus) {
			if !status.Present() {
				logging.Warn(logging.CatRelay, "Card removed, stopping relay", nil)
				s.Disconnect()
			}
		})
		if errors.Is(err, reader.ErrDisconnected) {
			return errCardRemoved
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	err = g.Wait()
	fmt.Printf("%d APDU(s) relayed\n", client.Exchanges())
	return err
}

// openSession opens the USB reader selected by the global flags and
// negotiates its configuration.
func openSession(c *cli.Context) (*reader.Session, error) {
	transport, err := usbTransport(c)
	if err != nil {
		return nil, err
	}
	table, err := readerTable(c)
	if err != nil {
		return nil, err
	}

	opts := []reader.Option{
		reader.WithReaderTable(table),
		reader.WithPollInterval(c.Duration(pollFlag.Name)),
		reader.WithNotifier(printEvent),
	}
	if c.IsSet(interfaceFlag.Name) {
		opts = append(opts, reader.WithStaticConfiguration(reader.StaticConfiguration{
			Configuration: c.Int(configFlag.Name),
			Interface:     c.Int(interfaceFlag.Name),
			Alternate:     c.Int(alternateFlag.Name),
		}))
	}
	return reader.Open(c.Context, transport, opts...)
}

// usbTransport resolves --vid/--pid, falling back to the only connected
// device with a smart card interface.
func usbTransport(c *cli.Context) (*usbtransport.Device, error) {
	if c.IsSet(vidFlag.Name) || c.IsSet(pidFlag.Name) {
		vid, err := parseID(c.String(vidFlag.Name))
		if err != nil {
			return nil, fmt.Errorf("--vid: %w", err)
		}
		pid, err := parseID(c.String(pidFlag.Name))
		if err != nil {
			return nil, fmt.Errorf("--pid: %w", err)
		}
		return usbtransport.New(vid, pid), nil
	}

	found, err := usbtransport.Scan()
	if err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: no smart card reader connected", usbtransport.ErrNotFound)
	case 1:
		logging.Info(logging.CatApp, "Using reader", map[string]any{"device": found[0].String()})
		return usbtransport.New(found[0].ID.VendorID, found[0].ID.ProductID), nil
	default:
		var ids []string
		for _, d := range found {
			ids = append(ids, fmt.Sprintf("%04X:%04X", d.ID.VendorID, d.ID.ProductID))
		}
		return nil, fmt.Errorf("several readers connected (%s), select one with --vid and --pid", strings.Join(ids, ", "))
	}
}

// openCard returns the APDU channel of the selected backend. For USB the
// card is powered first.
func openCard(c *cli.Context) (iso7816.Transmitter, func(), error) {
	switch backend := c.String(backendFlag.Name); backend {
	case "pcsc":
		card, err := connectPCSC(c.String(pcscReaderFlag.Name))
		if err != nil {
			return nil, nil, err
		}
		return card, func() { card.Close() }, nil
	case "usb":
		s, err := openSession(c)
		if err != nil {
			return nil, nil, err
		}
		if err := readyCard(c.Context, s, c.Duration(pollFlag.Name)); err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q, want usb or pcsc", backend)
	}
}

// readyCard waits for a card and powers it.
func readyCard(ctx context.Context, s *reader.Session, interval time.Duration) error {
	present, err := s.HasCard(ctx)
	if err != nil {
		return err
	}
	if !present {
		fmt.Println(noticeColor("Insert a smart card."))
		if err := s.WaitForCard(ctx, interval); err != nil {
			return err
		}
	}
	powered, err := s.InitCard(ctx)
	if err != nil {
		return err
	}
	if !powered {
		return errors.New("card removed before power on")
	}
	return nil
}

func readerTable(c *cli.Context) (reader.Table, error) {
	table := reader.DefaultTable()
	if path := c.Path(readersFlag.Name); path != "" {
		custom, err := reader.LoadTable(path)
		if err != nil {
			return nil, err
		}
		table = table.Merge(custom)
	}
	return table, nil
}

func printEvent(e reader.Event) {
	switch e.Kind {
	case reader.EventICCStatus:
		// Every exchange reports one; only worth a debug line.
		logging.Debug(logging.CatReader, "ICC status", map[string]any{"status": e.Message})
	case reader.EventPrompt, reader.EventWarning:
		fmt.Fprintln(os.Stderr, noticeColor("%s", e.Message))
	case reader.EventDeviceError, reader.EventDisconnected:
		fmt.Fprintln(os.Stderr, errorColor("%s", e))
	case reader.EventConfigured:
		fmt.Fprintln(os.Stderr, okColor("configured %s", e.Message))
	}
}

func printData(data []byte) {
	if len(data) == 0 {
		return
	}
	fmt.Println(labelColor("Data:"))
	fmt.Println(tlv.DescribeOrHex(data))
}

func shortICC(s ccid.ICCStatus) string {
	switch s {
	case ccid.ICCPresentActive:
		return "present (active)"
	case ccid.ICCPresentInactive:
		return "present (inactive)"
	case ccid.ICCAbsent:
		return "absent"
	default:
		return s.String()
	}
}

func parseID(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid USB ID %q", s)
	}
	return uint16(v), nil
}

func parseHex(s string) ([]byte, error) {
	out, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return out, nil
}

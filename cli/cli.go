// Package cli provides command-line interface functionality for vpnd-client.
// This allows users to inspect and drive the VPN daemon from the terminal
// and from scripts.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/yllada/vpnd-client/common"
	"github.com/yllada/vpnd-client/config"
	"github.com/yllada/vpnd-client/keyring"
	"github.com/yllada/vpnd-client/metrics"
	"github.com/yllada/vpnd-client/ui"
	"github.com/yllada/vpnd-client/vpn"
)

// CLI represents the command-line interface.
type CLI struct {
	cfg      *config.Config
	out      io.Writer
	creds    common.CredentialStore
	recorder metrics.Recorder

	client *vpn.Client
}

// New creates a new CLI instance. Nothing is dialled until a command runs.
func New(cfg *config.Config, out io.Writer) *CLI {
	return &CLI{cfg: cfg, out: out}
}

// clientOptions maps the configuration onto the client.
func clientOptions(cfg *config.Config, recorder metrics.Recorder) vpn.ClientOptions {
	return vpn.ClientOptions{
		SocketPath:  cfg.SocketPath,
		DialTimeout: cfg.DialTimeout,
		CallTimeout: cfg.CallTimeout,
		Backoff:     vpn.NewBackoff(cfg.Reconnect.InitialDelay, cfg.Reconnect.MaxDelay),
		QueueSize:   cfg.QueueSize,
		WatchSocket: cfg.WatchSocket,
		Logger:      common.GetLogger().With("client"),
		Recorder:    recorder,
	}
}

// credentials returns the store for the account number, opening it on
// first use.
func (c *CLI) credentials() common.CredentialStore {
	if c.creds == nil {
		dir, err := common.GetConfigDir()
		if err != nil {
			dir = os.TempDir()
		}
		store := keyring.New(dir)
		if store.IsLocal() {
			common.LogInfo("System keyring unavailable, using encrypted file in %s", dir)
		}
		c.creds = store
	}
	return c.creds
}

// open starts the client in the background. A client that has stopped
// cannot run again and is replaced.
func (c *CLI) open(ctx context.Context) *vpn.Client {
	if c.client != nil && c.client.IsRunning() {
		return c.client
	}
	c.client = vpn.NewClient(clientOptions(c.cfg, c.recorder))
	c.client.Start(ctx)
	return c.client
}

// Close stops the client.
func (c *CLI) Close() {
	if c.client == nil {
		return
	}
	c.client.Stop()
	c.client = nil
}

// synced opens the client and waits for the first snapshot that reflects
// the daemon. It gives up as soon as a connection attempt has failed, or
// after one dial and resync worth of time.
func (c *CLI) synced(ctx context.Context) (*vpn.Snapshot, error) {
	client := c.open(ctx)
	sub := client.Subscribe()
	defer sub.Close()

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout+2*c.cfg.CallTimeout)
	defer cancel()

	for {
		pollCtx, stop := context.WithTimeout(waitCtx, 100*time.Millisecond)
		snap, err := sub.Next(pollCtx)
		stop()
		if err == nil {
			if !snap.Stale {
				return snap, nil
			}
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		h := client.Health()
		if h.State == vpn.HealthUnhealthy && h.LastError != nil {
			return nil, fmt.Errorf("daemon not reachable at %s: %w", c.cfg.SocketPath, h.LastError)
		}
		if waitCtx.Err() != nil {
			return nil, fmt.Errorf("daemon not reachable at %s: %w", c.cfg.SocketPath, common.ErrTimeout)
		}
	}
}

// Status shows the current tunnel, account and daemon state.
func (c *CLI) Status(ctx context.Context) error {
	snap, err := c.synced(ctx)
	if err != nil {
		return err
	}
	c.printStatus(snap)
	return nil
}

func (c *CLI) printStatus(snap *vpn.Snapshot) {
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Status:\t%s\n", ui.Headline(snap))
	for _, row := range ui.Details(snap, time.Now()) {
		fmt.Fprintf(w, "%s:\t%s\n", row[0], row[1])
	}

	relay := "any"
	if loc := snap.Settings.Relay.Location; loc != nil {
		relay = loc.String()
	}
	if p := snap.Settings.Relay.TunnelProtocol; p != "" && p != vpn.ProtocolAutomatic {
		relay += " (" + p.String() + ")"
	}
	fmt.Fprintf(w, "Relay constraint:\t%s\n", relay)
	if snap.Account.LoggedIn && snap.Account.Device != nil {
		fmt.Fprintf(w, "Device:\t%s\n", snap.Account.Device.Name)
	}
	w.Flush()
}

// Watch prints a line for every published snapshot until ctx is done.
func (c *CLI) Watch(ctx context.Context) error {
	sub := c.open(ctx).Subscribe()
	defer sub.Close()

	for {
		snap, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, common.ErrClosed) {
				return nil
			}
			return err
		}
		line := fmt.Sprintf("[%d] %s", snap.Generation, ui.Headline(snap))
		if loc := vpn.LocationOf(snap.Tunnel); loc != nil && !snap.Stale && loc.Place() != "" {
			line += "  " + loc.Place()
		}
		fmt.Fprintln(c.out, line)
	}
}

// Connect secures the connection. With wait it blocks until the tunnel is
// up or has failed.
func (c *CLI) Connect(ctx context.Context, wait bool) error {
	return c.run(ctx, vpn.ConnectCommand{}, wait, func() func(*vpn.Snapshot) bool {
		return func(s *vpn.Snapshot) bool { return s.IsConnected() }
	})
}

// Disconnect tears the tunnel down. With wait it blocks until the tunnel
// is down.
func (c *CLI) Disconnect(ctx context.Context, wait bool) error {
	return c.run(ctx, vpn.DisconnectCommand{}, wait, func() func(*vpn.Snapshot) bool {
		return func(s *vpn.Snapshot) bool {
			_, down := s.Tunnel.(vpn.Disconnected)
			return !s.Stale && down
		}
	})
}

// Reconnect moves the tunnel to a new relay. With wait it blocks until the
// tunnel has gone down and come back up.
func (c *CLI) Reconnect(ctx context.Context, wait bool) error {
	return c.run(ctx, vpn.ReconnectCommand{}, wait, func() func(*vpn.Snapshot) bool {
		left := false
		return func(s *vpn.Snapshot) bool {
			if !s.IsConnected() {
				left = true
				return false
			}
			return left
		}
	})
}

// run submits cmd and, with wait, blocks until a snapshot published after
// the command was sent satisfies the predicate made by done.
func (c *CLI) run(ctx context.Context, cmd vpn.Command, wait bool, done func() func(*vpn.Snapshot) bool) error {
	if _, err := c.synced(ctx); err != nil {
		return err
	}
	client := c.open(ctx)
	sub := client.Subscribe()
	defer sub.Close()
	before := client.Current().Generation

	ack, err := client.Submit(ctx, cmd)
	if err != nil {
		return err
	}
	if !ack.Changed {
		fmt.Fprintf(c.out, "%s: nothing to do\n", cmd.Name())
		return nil
	}
	if !wait {
		fmt.Fprintf(c.out, "%s: accepted\n", cmd.Name())
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, common.ConnectionTimeout)
	defer cancel()
	pred := done()
	for {
		snap, err := sub.Next(waitCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%s: timed out waiting for the tunnel", cmd.Name())
			}
			return err
		}
		if snap.Generation <= before {
			continue
		}
		if e, ok := snap.Tunnel.(vpn.ErrorState); ok && !snap.Stale {
			return fmt.Errorf("%s failed: %s", cmd.Name(), e.Cause)
		}
		if pred(snap) {
			fmt.Fprintf(c.out, "✓ %s\n", ui.Headline(snap))
			return nil
		}
	}
}

// Relays lists the relays known to the daemon.
func (c *CLI) Relays(ctx context.Context) error {
	snap, err := c.synced(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LOCATION\tHOSTNAME\tPROTOCOL\tPROVIDER\tACTIVE")
	for _, country := range snap.Relays.Countries {
		for _, city := range country.Cities {
			for _, relay := range city.Relays {
				active := "No"
				if relay.Active {
					active = "Yes"
				}
				fmt.Fprintf(w, "%s/%s\t%s\t%s\t%s\t%s\n",
					country.Code, city.Code, relay.Hostname, relay.TunnelType, relay.Provider, active)
			}
		}
	}
	w.Flush()

	active, total := snap.Relays.Count()
	fmt.Fprintf(c.out, "%d of %d relays active\n", active, total)
	return nil
}

// ParseLocation parses "any", "se", "se/got" or "se/got/se-got-wg-001".
func ParseLocation(s string) (*vpn.LocationConstraint, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "any" {
		return nil, nil
	}
	parts := strings.Split(s, "/")
	if len(parts) > 3 {
		return nil, fmt.Errorf("invalid location %q: want country[/city[/hostname]]", s)
	}
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("invalid location %q: empty component", s)
		}
	}
	loc := &vpn.LocationConstraint{Country: parts[0]}
	if len(parts) > 1 {
		loc.City = parts[1]
	}
	if len(parts) > 2 {
		loc.Hostname = parts[2]
	}
	return loc, nil
}

// SetRelay changes the relay constraint.
func (c *CLI) SetRelay(ctx context.Context, location string, protocol vpn.TunnelProtocol) error {
	loc, err := ParseLocation(location)
	if err != nil {
		return err
	}
	return c.run(ctx, vpn.SetRelayConstraintCommand{
		Constraint: vpn.RelayConstraint{Location: loc, TunnelProtocol: protocol},
	}, false, nil)
}

// ParseDNSServers parses a comma separated list of resolver addresses.
func ParseDNSServers(s string) ([]netip.Addr, error) {
	var servers []netip.Addr
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		addr, err := netip.ParseAddr(field)
		if err != nil {
			return nil, fmt.Errorf("invalid DNS server %q: %w", field, err)
		}
		servers = append(servers, addr)
	}
	return servers, nil
}

// UpdateSettings applies a settings patch.
func (c *CLI) UpdateSettings(ctx context.Context, patch vpn.SettingsPatch) error {
	return c.run(ctx, vpn.UpdateSettingsCommand{Patch: patch}, false, nil)
}

// Login logs in with accountNumber. When it is empty the number is read
// from the credential store, or prompted for on a terminal.
func (c *CLI) Login(ctx context.Context, accountNumber string) error {
	if accountNumber == "" {
		stored, err := c.credentials().Get(keyring.AccountKey)
		switch {
		case err == nil:
			accountNumber = stored
		case term.IsTerminal(int(os.Stdin.Fd())):
			accountNumber, err = promptSecret("Account number: ")
			if err != nil {
				return err
			}
		default:
			return errors.New("no account number given and none stored")
		}
	}

	number, err := vpn.NormalizeAccountNumber(accountNumber)
	if err != nil {
		return err
	}
	if err := c.run(ctx, vpn.LoginCommand{AccountNumber: number}, false, nil); err != nil {
		return err
	}

	if c.cfg.RememberAccount {
		if err := c.credentials().Store(keyring.AccountKey, number); err != nil {
			common.LogWarn("Could not remember account number: %v", err)
		}
	}
	fmt.Fprintf(c.out, "Logged in as %s\n", common.MaskSecret(number))
	return nil
}

// Logout logs out and forgets the stored account number.
func (c *CLI) Logout(ctx context.Context) error {
	if err := c.run(ctx, vpn.LogoutCommand{}, false, nil); err != nil {
		return err
	}
	creds := c.credentials()
	if !creds.Exists(keyring.AccountKey) {
		return nil
	}
	if err := creds.Delete(keyring.AccountKey); err != nil {
		common.LogWarn("Could not forget account number: %v", err)
		return nil
	}
	fmt.Fprintln(c.out, "Forgot the stored account number")
	return nil
}

// promptSecret reads a line from the terminal without echo.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}

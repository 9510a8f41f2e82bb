package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/yllada/vpnd-client/common"
	"github.com/yllada/vpnd-client/config"
	"github.com/yllada/vpnd-client/metrics"
	"github.com/yllada/vpnd-client/ui"
	"github.com/yllada/vpnd-client/vpn"
)

// BuildInfo is injected via ldflags in main.
type BuildInfo struct {
	Version string
	Time    string
	Commit  string
}

// Execute runs the command line until ctx is cancelled.
func Execute(ctx context.Context, build BuildInfo) error {
	return NewRootCommand(os.Stdout, build).ExecuteContext(ctx)
}

// NewRootCommand builds the command tree. All output goes to out; logs go
// to stderr.
func NewRootCommand(out io.Writer, build BuildInfo) *cobra.Command {
	var (
		app        *CLI
		configPath string
		socketPath string
		verbose    bool
	)

	root := &cobra.Command{
		Use:           "vpnd-client",
		Short:         "Monitor and control the VPN daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg *config.Config
				err error
			)
			if configPath != "" {
				cfg, err = config.LoadFrom(configPath)
			} else {
				cfg, err = config.Load()
			}
			if err != nil {
				return err
			}
			if socketPath != "" {
				cfg.SocketPath = socketPath
			}

			level := cfg.LogLevel()
			if verbose {
				level = common.LevelDebug
			}
			if err := common.InitLogger(common.LogConfig{
				Level:      level,
				Console:    os.Stderr,
				EnableFile: cfg.Log.File,
			}); err != nil {
				common.LogWarn("File logging disabled: %v", err)
			}
			common.LogDebug("Using configuration %s", cfg.Path())

			app = New(cfg, out)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app != nil {
				app.Close()
			}
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&configPath, "config", "", "configuration file (default ~/.config/vpnd-client/config.yaml)")
	root.PersistentFlags().StringVarP(&socketPath, "socket", "s", "", "daemon management socket")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	get := func() *CLI { return app }
	root.AddCommand(
		statusCmd(get),
		watchCmd(get),
		tunnelCmd("connect", "Secure the connection", get, (*CLI).Connect),
		tunnelCmd("disconnect", "Disconnect the tunnel", get, (*CLI).Disconnect),
		tunnelCmd("reconnect", "Reconnect to a new relay", get, (*CLI).Reconnect),
		relaysCmd(get),
		relayCmd(get),
		settingsCmd(get),
		loginCmd(get),
		logoutCmd(get),
		tuiCmd(get),
		trayCmd(get),
		versionCmd(out, build),
	)
	return root
}

func statusCmd(get func() *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show tunnel, account and daemon state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return get().Status(cmd.Context())
		},
	}
}

func watchCmd(get func() *CLI) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print every state change until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := get()
			if metricsAddr == "" {
				metricsAddr = c.cfg.MetricsAddr
			}
			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				c.recorder = metrics.NewPrometheusRecorder(reg)
				srv := &http.Server{
					Addr:              metricsAddr,
					Handler:           metrics.HTTPHandler(reg),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					common.LogInfo("Serving metrics on http://%s/metrics", metricsAddr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						common.LogError("Metrics server failed: %v", err)
					}
				}()
				defer srv.Close()
			}
			return c.Watch(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func tunnelCmd(name, short string, get func() *CLI, action func(*CLI, context.Context, bool) error) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return action(get(), cmd.Context(), wait)
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait until the tunnel has settled")
	return cmd
}

func relaysCmd(get func() *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "relays",
		Short: "List the relays known to the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return get().Relays(cmd.Context())
		},
	}
}

func relayCmd(get func() *CLI) *cobra.Command {
	var protocol string
	set := &cobra.Command{
		Use:   "set <country>[/<city>[/<hostname>]] | any",
		Short: "Constrain relay selection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return get().SetRelay(cmd.Context(), args[0], vpn.TunnelProtocol(strings.ToLower(protocol)))
		},
	}
	set.Flags().StringVarP(&protocol, "protocol", "p", "", "tunnel protocol: automatic, wireguard or openvpn")

	relay := &cobra.Command{
		Use:   "relay",
		Short: "Manage the relay constraint",
	}
	relay.AddCommand(set)
	return relay
}

func settingsCmd(get func() *CLI) *cobra.Command {
	var (
		allowLAN, ipv6, block, autoConnect bool
		protocol, obfuscation, quantum     string
		dns                                string
		blockAds, blockTrackers            bool
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Change daemon settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			var patch vpn.SettingsPatch
			if flags.Changed("allow-lan") {
				patch.AllowLAN = &allowLAN
			}
			if flags.Changed("ipv6") {
				patch.EnableIPv6 = &ipv6
			}
			if flags.Changed("block-when-disconnected") {
				patch.BlockWhenDisconnected = &block
			}
			if flags.Changed("auto-connect") {
				patch.AutoConnect = &autoConnect
			}
			if flags.Changed("protocol") {
				p := vpn.TunnelProtocol(strings.ToLower(protocol))
				patch.TunnelProtocol = &p
			}
			if flags.Changed("obfuscation") {
				o := vpn.Obfuscation(strings.ToLower(obfuscation))
				patch.Obfuscation = &o
			}
			if flags.Changed("quantum") {
				q := vpn.QuantumResistance(strings.ToLower(quantum))
				patch.QuantumResistant = &q
			}
			if flags.Changed("dns") || flags.Changed("block-ads") || flags.Changed("block-trackers") {
				servers, err := ParseDNSServers(dns)
				if err != nil {
					return err
				}
				patch.DNS = &vpn.DNSOptions{
					BlockAds:      blockAds,
					BlockTrackers: blockTrackers,
					Custom:        len(servers) > 0,
					Servers:       servers,
				}
			}
			if patch.IsEmpty() {
				return errors.New("no setting given, see --help")
			}
			return get().UpdateSettings(cmd.Context(), patch)
		},
	}
	f := set.Flags()
	f.BoolVar(&allowLAN, "allow-lan", false, "allow access to the local network")
	f.BoolVar(&ipv6, "ipv6", false, "route IPv6 through the tunnel")
	f.BoolVar(&block, "block-when-disconnected", false, "block traffic while the tunnel is down")
	f.BoolVar(&autoConnect, "auto-connect", false, "connect when the daemon starts")
	f.StringVar(&protocol, "protocol", "", "tunnel protocol: automatic, wireguard or openvpn")
	f.StringVar(&obfuscation, "obfuscation", "", "obfuscation: automatic, off, udp2tcp or shadowsocks")
	f.StringVar(&quantum, "quantum", "", "quantum resistant tunnel: auto, on or off")
	f.StringVar(&dns, "dns", "", "comma separated custom DNS servers, empty for the default resolver")
	f.BoolVar(&blockAds, "block-ads", false, "block ad domains")
	f.BoolVar(&blockTrackers, "block-trackers", false, "block tracker domains")

	settings := &cobra.Command{
		Use:   "settings",
		Short: "Manage daemon settings",
	}
	settings.AddCommand(set)
	return settings
}

func loginCmd(get func() *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "login [account-number]",
		Short: "Log in to an account",
		Long: "Log in to an account. Without an argument the stored account number is used,\n" +
			"or it is prompted for when running in a terminal.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var number string
			if len(args) == 1 {
				number = args[0]
			}
			return get().Login(cmd.Context(), number)
		},
	}
}

func logoutCmd(get func() *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and forget the stored account number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return get().Logout(cmd.Context())
		},
	}
}

func tuiCmd(get func() *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive terminal dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// The dashboard owns the terminal.
			common.GetLogger().SetOutput(io.Discard)
			c := get()
			return ui.RunTUI(c.open(cmd.Context()), c.cfg.Theme)
		},
	}
}

func trayCmd(get func() *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "tray",
		Short: "Run the system tray indicator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := get()
			client := c.open(cmd.Context())

			if c.cfg.ShowNotifications {
				notifier := ui.NewDesktopNotifier()
				defer notifier.Close()
				sub := client.Subscribe()
				defer sub.Close()
				go func() {
					if err := ui.RunNotifications(cmd.Context(), sub, notifier); err != nil {
						common.LogDebug("Notifications stopped: %v", err)
					}
				}()
			}

			ui.NewTrayIndicator(client).Run(cmd.Context())
			return nil
		},
	}
}

func versionCmd(out io.Writer, build BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Printing the version needs neither configuration nor a daemon.
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(out, "%s %s\n", common.AppName, build.Version)
			if build.Time != "" && build.Time != "unknown" {
				fmt.Fprintf(out, "  Build:  %s\n", build.Time)
				fmt.Fprintf(out, "  Commit: %s\n", build.Commit)
			}
		},
	}
}

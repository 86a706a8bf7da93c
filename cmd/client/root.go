package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/media/pion"
	relayws "github.com/Wyydra/yacall/internal/adapter/driven/relay/ws"
	"github.com/Wyydra/yacall/internal/adapter/driving/console"
	"github.com/Wyydra/yacall/internal/adapter/wire"
	"github.com/Wyydra/yacall/internal/config"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/Wyydra/yacall/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagServer      string
	flagName        string
	flagSTUN        string
	flagRingTimeout time.Duration
	flagCodec       string
	flagLogLevel    string
	flagNoMedia     bool
)

var rootCmd = &cobra.Command{
	Use:   "yacall",
	Short: "One-to-one calls over a signal relay",
	Long: `yacall connects to a relay server, shows who is online and places or
answers one-to-one WebRTC calls from the terminal.

Examples:
  yacall --name alice
  yacall --server wss://relay.example.com/ws --codec msgpack`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&flagServer, "server", "s", "", "relay websocket URL (env "+config.EnvServerURL+")")
	f.StringVarP(&flagName, "name", "n", "", "display name to announce")
	f.StringVar(&flagSTUN, "stun", "", `comma separated STUN servers, "none" to disable (env `+config.EnvSTUN+")")
	f.DurationVar(&flagRingTimeout, "ring-timeout", 0, "how long a call may ring, negative disables (env "+config.EnvRingTimeout+")")
	f.StringVar(&flagCodec, "codec", "", "wire codec: json or msgpack (env "+config.EnvCodec+")")
	f.StringVar(&flagLogLevel, "log-level", "", "log level (env "+config.EnvLogLevel+")")
	f.BoolVar(&flagNoMedia, "no-media", false, "receive only, send no local tracks")
}

func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, console.ErrorStyle.Render(err.Error()))
		os.Exit(1)
	}
}

func run(parent context.Context) error {
	cfg, err := config.Load(config.Options{
		ServerURL:   flagServer,
		STUN:        flagSTUN,
		RingTimeout: flagRingTimeout,
		LogLevel:    flagLogLevel,
		Codec:       flagCodec,
	})
	if err != nil {
		return err
	}
	logging.Setup(cfg.LogLevel, true)

	codec, err := wire.CodecByName(cfg.Codec)
	if err != nil {
		return err
	}
	relay, err := relayws.NewClient(relayws.Options{URL: cfg.ServerURL, Codec: codec})
	if err != nil {
		return err
	}
	peers, err := pion.NewFactory(pion.Config{ICEServers: cfg.STUNServers})
	if err != nil {
		return err
	}

	var media port.MediaSource
	if !flagNoMedia {
		media = pion.SyntheticSource{Audio: true, Video: true}
	}
	ringTimeout := cfg.RingTimeout
	if ringTimeout <= 0 {
		ringTimeout = -1
	}

	presenter := console.NewPresenter(os.Stdout)
	calls := service.NewCallService(service.CallConfig{
		Relay:       relay,
		Peers:       peers,
		Media:       media,
		Presence:    service.NewPresenceRegistry(relay),
		Presenter:   presenter,
		RingTimeout: ringTimeout,
	})

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	wait := startServices(ctx, relay, calls)

	fmt.Println(console.TitleStyle.Render("yacall") + " " + console.MutedStyle.Render(relay.URL()))
	if flagName != "" {
		if err := calls.SetName(ctx, flagName); err != nil {
			log.Warn().Err(err).Msg("Failed to set name")
		}
	}

	err = console.NewREPL(calls, os.Stdin, os.Stdout).Run(ctx)
	stop()
	wait()
	return err
}

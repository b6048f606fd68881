// Command callagent is a headless call endpoint. It logs in to the
// signaling server, answers incoming calls and can place one itself.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/chatcall/internal/adapters/rtc"
	sig "github.com/dkeye/chatcall/internal/adapters/signal"
	"github.com/dkeye/chatcall/internal/app/call"
	"github.com/dkeye/chatcall/internal/config"
	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	config.AgentFlags(pflag.CommandLine)
	pflag.Parse()
	cfg, err := config.LoadAgent(pflag.CommandLine)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	me, err := domain.ParseIdentity(cfg.Identity)
	if err != nil {
		log.Fatal().Err(err).Msg("identity")
	}
	kind, err := domain.ParseCallKind(cfg.Kind)
	if err != nil {
		log.Fatal().Err(err).Msg("kind")
	}
	var peer domain.Identity
	if cfg.Call != "" {
		if peer, err = domain.ParseIdentity(cfg.Call); err != nil {
			log.Fatal().Err(err).Msg("call")
		}
	}

	client, err := sig.Dial(ctx, cfg.Server, me, sig.ClientOptions{
		WriteWait:  cfg.WriteWait,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("connect")
	}
	defer client.Close()

	var mgr *call.Manager
	mgr = call.NewManager(call.Config{
		Sender:        client,
		Media:         rtc.NewEndpoint(rtc.DefaultWebRTCConfig(cfg.ICEServers...)),
		AnswerTimeout: cfg.AnswerTimeout,
		OnEvent: func(ev call.Event) {
			log.Info().
				Str("module", "callagent").
				Str("event", string(ev.Type)).
				Str("peer", ev.Peer.String()).
				Str("kind", string(ev.Kind)).
				Str("reason", string(ev.Reason)).
				Msg("call event")
			if ev.Type == call.EventIncoming && cfg.AutoAccept {
				go func() {
					if err := mgr.Accept(ctx); err != nil {
						log.Warn().Err(err).Str("module", "callagent").Msg("accept")
					}
				}()
			}
		},
	})

	var dialOnce sync.Once
	onPresence := func(p core.Presence) {
		log.Info().Str("module", "callagent").Int("online", len(p.Users)).Uint64("revision", p.Revision).Msg("presence")
		if peer == "" || !slices.Contains(p.Users, peer) {
			return
		}
		dialOnce.Do(func() {
			go func() {
				if _, err := mgr.StartCall(ctx, peer, kind); err != nil {
					log.Error().Err(err).Str("module", "callagent").Str("peer", peer.String()).Msg("start call")
				}
			}()
		})
	}

	err = client.Run(ctx, mgr.HandleMessage, onPresence)
	mgr.Disconnect()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("signaling connection lost")
		os.Exit(1)
	}
	log.Info().Msg("agent exited")
}

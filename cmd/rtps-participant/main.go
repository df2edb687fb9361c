package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rtpsgo/rtps/internal/config"
	"github.com/rtpsgo/rtps/internal/guid"
	"github.com/rtpsgo/rtps/participant"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string
}

var rootCmd = &cobra.Command{
	Use:   "rtps-participant",
	Short: "Standalone RTPS participant",
	Run: func(rawCmd *cobra.Command, _ []string) {
		if err := run(cmd); err != nil {
			if errors.Is(err, Interrupted{}) {
				return
			}

			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file (required)")
	rootCmd.MarkFlagRequired("config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd Cmd) error {
	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.Development = false
	zapCfg.Level.SetLevel(zap.DebugLevel)

	logger, err := zapCfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	log := logger.Sugar()

	cfg, err := config.LoadConfig(cmd.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	p, err := newParticipant(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize participant: %w", err)
	}
	defer p.Close()

	ctx := context.Background()
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return p.Run(ctx)
	})
	wg.Go(func() error {
		err := WaitInterrupted(ctx)
		log.Infof("caught signal: %v", err)
		return err
	})

	return wg.Wait()
}

func newParticipant(cfg *config.Config, log *zap.SugaredLogger) (*participant.Participant, error) {
	prefix, err := guidPrefixFor(cfg.Participant.GuidPrefix)
	if err != nil {
		return nil, err
	}

	defaultLocators, err := config.ResolveLocators(cfg.Participant.DefaultLocators)
	if err != nil {
		return nil, fmt.Errorf("resolve default locators: %w", err)
	}
	metatrafficLocators, err := config.ResolveLocators(cfg.Participant.MetatrafficLocators)
	if err != nil {
		return nil, fmt.Errorf("resolve metatraffic locators: %w", err)
	}
	multicastLocator, err := config.ResolveLocators([]string{cfg.Participant.MulticastLocator})
	if err != nil {
		return nil, fmt.Errorf("resolve multicast locator: %w", err)
	}

	opts := []participant.Option{
		participant.WithAnnouncementPeriod(cfg.Participant.AnnouncementPeriod),
		participant.WithLeaseDuration(cfg.Participant.LeaseDuration),
		participant.WithListenReopenMax(cfg.Participant.ListenReopenMax),
		participant.WithSendPeriod(cfg.Participant.SendPeriod),
		participant.WithHeartbeatPeriod(cfg.Participant.HeartbeatPeriod),
		participant.WithNackResponseDelay(cfg.Participant.NackResponseDelay),
		participant.WithMTU(cfg.Participant.MTU),
		participant.WithLog(log),
	}
	if cfg.Participant.StaticEDP {
		opts = append(opts, participant.WithStaticEDP())
	}

	return participant.New(prefix, defaultLocators, metatrafficLocators, multicastLocator[0], opts...)
}

func guidPrefixFor(s string) (guid.GuidPrefix, error) {
	if s == "" {
		return guid.NewRandomGuidPrefix()
	}
	return guid.ParseGuidPrefix(s)
}

type Interrupted struct {
	os.Signal
}

func (m Interrupted) Error() string {
	return m.String()
}

// WaitInterrupted blocks until either SIGINT or SIGTERM signal is received or
// the provided context is canceled.
func WaitInterrupted(ctx context.Context) error {
	ch := make(chan os.Signal, 1)

	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	select {
	case v := <-ch:
		return Interrupted{Signal: v}
	case <-ctx.Done():
		return ctx.Err()
	}
}

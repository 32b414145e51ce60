package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/kros/pkg/api"
	"github.com/cuemby/kros/pkg/behaviour"
	"github.com/cuemby/kros/pkg/bus"
	"github.com/cuemby/kros/pkg/component"
	"github.com/cuemby/kros/pkg/config"
	"github.com/cuemby/kros/pkg/controller"
	"github.com/cuemby/kros/pkg/event"
	"github.com/cuemby/kros/pkg/gc"
	"github.com/cuemby/kros/pkg/lifecycle"
	"github.com/cuemby/kros/pkg/log"
	"github.com/cuemby/kros/pkg/message"
	"github.com/cuemby/kros/pkg/metrics"
	"github.com/cuemby/kros/pkg/motor"
	"github.com/cuemby/kros/pkg/notify"
	"github.com/cuemby/kros/pkg/publisher"
	"github.com/cuemby/kros/pkg/storage"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bus, arbitrator and diagnostics server",
	Long: `Run starts the message bus with its garbage collector, the behaviour
arbitrator, a motion subscriber, the motor controller and the queue
publisher, then serves diagnostics until interrupted.

With --script the given YAML script is fed through the queue publisher.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		script, _ := cmd.Flags().GetString("script")
		addr, _ := cmd.Flags().GetString("addr")
		if addr != "" {
			cfg.Kros.Diagnostics.Addr = addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		defer stop()
		return run(ctx, cfg, script)
	},
}

func init() {
	runCmd.Flags().String("script", "", "YAML script of events to publish")
	runCmd.Flags().String("addr", "", "Override the diagnostics listen address")
}

// system holds every running part in start order
type system struct {
	broker    *notify.Broker
	journal   *storage.AsyncJournal
	store     *storage.BoltStore
	bus       *bus.MessageBus
	gc        *gc.Collector
	manager   *behaviour.Manager
	motion    *component.Subscriber
	queue     *publisher.QueuePublisher
	ctrl      *controller.Controller
	collector *metrics.Collector
	server    *api.Server

	collecting bool
}

func run(ctx context.Context, cfg *config.Config, scriptPath string) error {
	logger := log.WithComponent("kros")
	metrics.SetVersion(Version)

	var script *publisher.Script
	if scriptPath != "" {
		f, err := os.Open(scriptPath)
		if err != nil {
			return fmt.Errorf("failed to open script: %w", err)
		}
		script, err = publisher.LoadScript(f)
		f.Close()
		if err != nil {
			return err
		}
	}

	sys, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	if err := sys.enable(); err != nil {
		sys.shutdown()
		return err
	}
	logger.Info().
		Int("subscribers", sys.bus.SubscriberCount()).
		Str("active", sys.manager.ActiveBehaviourName()).
		Msg("kros is running, press Ctrl+C to stop")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(sys.server.Start)
	if script != nil {
		g.Go(func() error {
			if err := script.Run(gctx, sys.queue); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("script stopped")
				return nil
			}
			logger.Info().Str("script", script.Name).Msg("script complete")
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		sys.shutdown()
		return nil
	})

	return g.Wait()
}

func build(ctx context.Context, cfg *config.Config) (_ *system, err error) {
	k := cfg.Kros
	sys := &system{broker: notify.NewBroker()}
	sys.broker.Start()
	defer func() {
		if err != nil {
			sys.release()
		}
	}()

	if k.Storage.DataDir != "" {
		store, err := storage.NewBoltStore(k.Storage.DataDir)
		if err != nil {
			return nil, err
		}
		sys.store = store
		sys.journal = storage.NewAsyncJournal(store, 256)
		sys.journal.Start()
	}

	sys.bus = bus.New(bus.Config{
		MaxAge:       k.MessageBus.MaxAge(),
		PollInterval: k.MessageBus.PollInterval(),
		CleanupDelay: k.MessageBus.CleanupDelay(),
		Notifier:     sys.broker,
	})
	if err := sys.bus.Start(ctx); err != nil {
		return nil, err
	}

	motors := motor.NewSimulated()
	sys.ctrl = controller.NewMotorController("controller", motors)
	sys.ctrl.Enable()
	sys.bus.RegisterController(sys.ctrl)

	gcOpts := []gc.Option{gc.WithNotifier(sys.broker)}
	if sys.journal != nil {
		gcOpts = append(gcOpts, gc.WithJournal(sys.journal))
	}
	sys.gc = gc.New(sys.bus, gcOpts...)

	sys.manager = behaviour.NewManager(sys.bus, behaviour.Config{
		TickInterval: k.Behaviour.TickInterval(),
		Tasks:        sys.bus,
		Notifier:     sys.broker,
	})
	behaviours, err := behaviour.DefaultRegistry().Build(k.Behaviour.Enabled, behaviour.Dependencies{
		Motors:   motors,
		Clock:    sys.bus,
		Settings: settings(k.Behaviour),
	})
	if err != nil {
		return nil, err
	}
	for _, b := range behaviours {
		if err := sys.manager.Register(b); err != nil {
			return nil, err
		}
	}

	sys.motion = component.NewSubscriber("motion", sys.bus, component.HandlerFunc(func(ctx context.Context, msg *message.Message) error {
		logger := log.WithSubscriber("motion")
		logger.Debug().
			Str("envelope", msg.Name()).
			Str("event", msg.Event().String()).
			Float64("speed", msg.Event().Speed()).
			Msg("motion event")
		return nil
	}))
	sys.motion.AddGroups(event.GroupStop, event.GroupMovement, event.GroupEmergency)

	for _, s := range []bus.Subscriber{sys.manager, sys.motion, sys.gc} {
		if err := sys.bus.RegisterSubscriber(s); err != nil {
			return nil, err
		}
	}

	sys.queue = publisher.NewQueuePublisher(sys.bus, sys.bus, message.NewFactory(sys.bus), k.Publisher.Queue.LoopFreqHz)
	sys.bus.RegisterPublisher(sys.queue)

	sys.collector = metrics.NewCollector(time.Second, sys.bus, sys.manager, sys.bus, sys.gc, sys.manager)
	sys.server = api.NewServer(api.Config{
		Addr:               k.Diagnostics.Addr,
		RateLimitPerMinute: k.Diagnostics.RateLimitPerMinute,
	}, sys.bus, sys.manager, sys.broker)
	return sys, nil
}

// release tears down what build managed to start
func (s *system) release() {
	if s.bus != nil && s.bus.State() != lifecycle.StateClosed {
		if err := s.bus.Close(); err != nil {
			logger := log.WithComponent("kros")
			logger.Warn().Err(err).Msg("message bus close failed")
		}
	}
	if s.journal != nil {
		s.journal.Stop()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
	s.broker.Stop()
}

func settings(b config.Behaviour) behaviour.Settings {
	return behaviour.Settings{
		Roam: behaviour.RoamConfig{
			CruiseSpeed: b.Roam.CruiseSpeed,
			Suppressed:  b.Roam.Suppressed,
		},
		Avoid: behaviour.AvoidConfig{
			MinDistance:  b.Avoid.MinDistance,
			ReverseSpeed: b.Avoid.ReverseSpeed,
			Suppressed:   b.Avoid.Suppressed,
		},
		Idle: behaviour.IdleConfig{
			Threshold:  b.Idle.Threshold(),
			Suppressed: b.Idle.Suppressed,
		},
	}
}

// enable brings every part to ENABLED; the bus first so that tasks can start
func (s *system) enable() error {
	for _, start := range []func() error{s.gc.Start, s.motion.Start, s.manager.Start, s.queue.Start} {
		if err := start(); err != nil {
			return err
		}
	}
	if err := s.bus.Enable(); err != nil {
		return err
	}
	for _, enable := range []func() error{s.gc.Enable, s.motion.Enable, s.manager.Enable, s.queue.Enable} {
		if err := enable(); err != nil {
			return err
		}
	}
	s.collector.Start()
	s.collecting = true
	return nil
}

// shutdown stops everything in reverse start order
func (s *system) shutdown() {
	logger := log.WithComponent("kros")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("diagnostics server shutdown")
	}
	if s.collecting {
		s.collector.Stop()
	}

	closers := []struct {
		name  string
		close func() error
	}{
		{"queue publisher", s.queue.Close},
		{"arbitrator", s.manager.Close},
		{"motion", s.motion.Close},
		{"garbage collector", s.gc.Close},
		{"message bus", s.bus.Close},
	}
	for _, c := range closers {
		if err := c.close(); err != nil {
			logger.Warn().Err(err).Str("part", c.name).Msg("close failed")
		}
	}
	s.ctrl.Disable()

	if s.journal != nil {
		s.journal.Stop()
		logger.Info().Int64("written", s.journal.Written()).Int64("dropped", s.journal.Dropped()).Msg("journal flushed")
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			logger.Warn().Err(err).Msg("journal close failed")
		}
	}
	s.broker.Stop()
}

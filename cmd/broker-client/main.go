package main

import (
	"context"
	"flag"
	"fmt"
	"github.com/fatih/color"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker/loopback"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/client"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/config"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/environment"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/event"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/logger"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/store"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/utils"
	"os"
	"strings"
	"time"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "path of the configuration file")
	envName    = flag.String("env", "", "environment to connect to, defaults to default_environment")
	publish    = flag.String("publish", "", "publish topic=payload after subscribing")
	request    = flag.String("request", "", "send request topic=payload and print the reply")
	persistent = flag.Bool("persistent", false, "publish with guaranteed delivery")
	timeout    = flag.String("timeout", "10s", "operation timeout")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] pattern...\n", os.Args[0])
	flag.PrintDefaults()
}

func splitAssignment(value string) (string, []byte, error) {
	topic, payload, found := strings.Cut(value, "=")
	if !found || topic == "" {
		return "", nil, fmt.Errorf("expected topic=payload, got %q", value)
	}
	return topic, []byte(payload), nil
}

func printEnvelope(prefix string, env *client.Envelope) {
	line := color.CyanString("%s %s", prefix, env.Topic())
	if len(env.Params) > 0 {
		line += color.YellowString(" %v", env.Params)
	}
	fmt.Printf("%s %s\n", line, env.Payload())
}

func watchConnection(c *client.Client) {
	watch := c.ConnectionState()
	go func() {
		for connected := range watch.C() {
			if connected {
				fmt.Println(color.GreenString("[%s] connected", c.Name()))
				continue
			}
			fmt.Println(color.RedString("[%s] disconnected", c.Name()))
		}
	}()
}

func observe(c *client.Client, pattern string, opTimeout time.Duration) *client.Subscription {
	sub := c.Observe(pattern,
		client.WithTimeout(opTimeout),
		client.WithOnSubscribed(func() { logger.InfoF("Subscribed to %s", pattern) }),
	)
	go func() {
		for env := range sub.C() {
			printEnvelope(pattern, env)
		}
		if err := sub.Err(); err != nil {
			logger.ErrorF("Subscription %s failed: %v", pattern, err)
		}
	}()
	return sub
}

// awaitSubscribed waits until every subscription is confirmed or has ended.
func awaitSubscribed(ctx context.Context, subs []*client.Subscription) {
	for _, sub := range subs {
		select {
		case <-sub.Subscribed():
		case <-sub.Done():
		case <-ctx.Done():
			return
		}
	}
}

func main() {
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.ReadConfig(*configPath)
	if err != nil {
		logger.FatalF("Error occured while reading config %v", err)
		return
	}
	loggerCallback := logger.Init(cfg)
	logger.Debug("Application initializing...")
	cleaner := event.NewCleaner(loggerCallback)
	cleaner.Listen()

	opTimeout, err := utils.ParseStringTime(*timeout)
	if err != nil || opTimeout == 0 {
		opTimeout = client.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var profiles store.ProfileStore = store.NewMemoryStore(cfg.Environments)
	if cfg.Database.Enabled() {
		db, err := store.ConnectDatabase(ctx, cfg)
		if err != nil {
			logger.ErrorF("Error occured while initializing database, details: %v", err)
			cleaner.Shutdown()
			os.Exit(1)
		}
		cleaner.Add(db)
		profiles = store.Chain{profiles, db}
	}

	registry := environment.NewRegistry(profiles, environment.DefaultFactories(loopback.NewHub()))
	cleaner.Add(registry)

	name := *envName
	if name == "" {
		name = cfg.DefaultEnvironment
	}
	c := registry.Client(name)
	watchConnection(c)
	if _, err := registry.Connect(ctx, name); err != nil {
		logger.ErrorF("%v", err)
		cleaner.Shutdown()
		os.Exit(1)
	}

	subs := make([]*client.Subscription, 0, flag.NArg())
	for _, pattern := range flag.Args() {
		subs = append(subs, observe(c, pattern, opTimeout))
	}
	awaitSubscribed(ctx, subs)

	if *publish != "" {
		destination, payload, err := splitAssignment(*publish)
		if err != nil {
			logger.ErrorF("%v", err)
		} else {
			opts := []client.Option{client.WithTimeout(opTimeout)}
			if *persistent {
				opts = append(opts, client.WithDelivery(broker.Persistent))
			}
			if err := c.Publish(ctx, destination, payload, opts...); err != nil {
				logger.ErrorF("Error occured while publishing to %s: %v", destination, err)
			}
		}
	}

	if *request != "" {
		destination, payload, err := splitAssignment(*request)
		if err != nil {
			logger.ErrorF("%v", err)
		} else {
			env, err := c.Request(ctx, destination, payload, client.WithTimeout(opTimeout)).Await(ctx)
			switch {
			case err != nil:
				logger.ErrorF("Request to %s failed: %v", destination, err)
			case env != nil:
				printEnvelope("reply", env)
			}
		}
	}

	if len(flag.Args()) == 0 {
		cleaner.Shutdown()
		return
	}
	<-cleaner.Done()
}

// Command harness runs the manual smoke tests for the viamrtsp camera
// module against a live machine: it walks the machine part through a fixed
// series of configs and pauses for visual confirmation between steps.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"go.viam.com/rdk/app"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/robot/client"
	"go.viam.com/utils/rpc"

	"rtspcamtest"
)

func main() {
	if err := realMain(); err != nil {
		logging.NewLogger("harness").Fatal(err)
	}
}

func realMain() error {
	debug := false
	warmupSeconds := 30
	pollInterval := time.Second
	maxAttempts := 0

	flag.BoolVar(&debug, "debug", debug, "debug logging")
	flag.IntVar(&warmupSeconds, "warmup", warmupSeconds, "seconds of buffering before a video save")
	flag.DurationVar(&pollInterval, "poll-interval", pollInterval, "sleep between resource lookup attempts")
	flag.IntVar(&maxAttempts, "max-attempts", maxAttempts, "bound on resource lookup attempts, 0 waits forever")
	flag.Parse()

	logger := logging.NewLogger("harness")
	if debug {
		logger.SetLevel(logging.DEBUG)
	}

	cfg, err := rtspcamtest.LoadEnvConfig()
	if err != nil {
		return err
	}
	resolver, err := cfg.AddressResolver()
	if err != nil {
		return err
	}

	ctx := context.Background()

	viamClient, err := app.CreateViamClientWithAPIKey(ctx, app.Options{}, cfg.APIKey, cfg.APIKeyID, logger)
	if err != nil {
		return err
	}
	defer viamClient.Close()

	cloud := rtspcamtest.NewCloudClient(viamClient.AppClient(), logger)
	part, err := cloud.FetchPart(ctx, cfg.PartID)
	if err != nil {
		return err
	}

	machine, err := client.New(
		ctx,
		cfg.MachineAddress,
		logger,
		client.WithDialOptions(rpc.WithEntityCredentials(
			cfg.APIKeyID,
			rpc.Credentials{
				Type:    rpc.CredentialsTypeAPIKey,
				Payload: cfg.APIKey,
			})),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := machine.Close(ctx); err != nil {
			logger.Warnf("closing machine client: %v", err)
		}
	}()

	session := rtspcamtest.NewSession(machine, logger)
	session.PollInterval = pollInterval
	session.MaxAttempts = maxAttempts

	confirm := rtspcamtest.NewStdioConfirm(os.Stdin, os.Stdout)
	runner := rtspcamtest.NewRunner(cloud, session, confirm, logger, cfg.PartID, part.Name)
	runner.Warmup = time.Duration(warmupSeconds) * time.Second

	builder := rtspcamtest.NewBuilder(resolver)
	if err := runner.Run(ctx, rtspcamtest.DefaultScenarios(builder, machine)); err != nil {
		return err
	}

	logger.Info("all tests ran, byebye")
	return nil
}

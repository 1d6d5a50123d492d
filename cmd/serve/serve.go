package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hyperledger/fabric-sdk-go/pkg/core/config"
	"github.com/hyperledger/fabric-sdk-go/pkg/fabsdk"
	"github.com/kfsoftware/drivenet/auth"
	appconfig "github.com/kfsoftware/drivenet/config"
	"github.com/kfsoftware/drivenet/log"
	"github.com/kfsoftware/drivenet/server"
	"github.com/kfsoftware/drivenet/server/metrics"
	"github.com/kfsoftware/drivenet/store/ledger"
	"github.com/kfsoftware/drivenet/store/wallet"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const (
	serveDesc = `
'serve' command starts the DriveNet API and, when --ui-dir is set, serves the web UI`
	serveExample = `drivenet serve --address="0.0.0.0:8080" --config=./drivenet.yaml --hlf-config=./connection-profile.yaml`
)

type serveCmd struct {
	address        string
	metricsAddress string
	config         string
	hlfConfig      string
	uiDir          string
	logLevel       string
}

func NewServeCmd() *cobra.Command {
	s := &serveCmd{}
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Starts the server",
		Long:    serveDesc,
		Example: serveExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.validate(); err != nil {
				return err
			}
			return s.run(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.StringVar(&s.address, "address", "0.0.0.0:8080", "address for the server")
	f.StringVar(&s.metricsAddress, "metrics-address", "", "address for the metrics server, disabled when empty")
	f.StringVar(&s.config, "config", "", "path to the config file")
	f.StringVar(&s.hlfConfig, "hlf-config", "", "path to the hlf connection profile")
	f.StringVar(&s.uiDir, "ui-dir", "", "directory with the built web UI, overrides ui.dir")
	f.StringVar(&s.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

func (c *serveCmd) validate() error {
	if c.address == "" {
		return errors.New("--address is required for the server")
	}
	if c.config == "" {
		return errors.New("--config is required for the server")
	}
	if c.hlfConfig == "" {
		return errors.New("--hlf-config is required for the server")
	}
	return nil
}

func (c *serveCmd) run(ctx context.Context) error {
	log.SetLevel(c.logLevel)
	driveNetConfig, err := appconfig.Load(c.config)
	if err != nil {
		return err
	}
	if c.uiDir != "" {
		driveNetConfig.UI.Dir = c.uiDir
	}

	configBackend := config.FromFile(c.hlfConfig)
	sdk, err := fabsdk.New(configBackend)
	if err != nil {
		return errors.Wrap(err, "failed to create fabric sdk")
	}
	defer sdk.Close()

	store, err := wallet.NewBadgerStore(driveNetConfig.Wallet.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Errorf("failed to close wallet: %v", err)
		}
	}()

	recorder := metrics.Recorder{}
	proxy, err := ledger.NewProxy(ledger.ProxyOpts{
		Wallet:           store,
		Network:          ledger.NewSDKNetwork(sdk, driveNetConfig.Network),
		HashSalt:         driveNetConfig.Auth.HashSalt,
		SessionCacheSize: driveNetConfig.Wallet.SessionCacheSize,
		Observer:         recorder,
	})
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := server.NewServer(server.DriveNetServerOpts{
		Address:        c.address,
		MetricsAddress: c.metricsAddress,
		Ledger:         proxy,
		Issuer: auth.NewIssuer(
			driveNetConfig.Auth.SigningSecret,
			driveNetConfig.Auth.AccessTokenTTL,
			driveNetConfig.Auth.RefreshTokenTTL,
		),
		UIDir:   driveNetConfig.UI.Dir,
		Metrics: recorder,
	})
	log.Infof("serving channel %s contract %s", driveNetConfig.Network.Channel, driveNetConfig.Network.Contract)
	return s.Run(ctx)
}

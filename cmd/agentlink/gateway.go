package main

import (
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/credential"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/gateway"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/protocol"
)

func newGatewayCmd(a *app) *cobra.Command {
	var (
		listen     string
		requireJWT bool
	)

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Serve a loopback gateway for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}

			logger, err := logging.New(logging.ForProfile(cfg.Logging.Level, cfg.Logging.Development))
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			settings := gateway.DefaultSettings()
			settings.Endpoints = protocol.Endpoints{
				ChatPath:     cfg.Endpoint.ChatPath,
				AgentLogPath: cfg.Endpoint.AgentLogPath,
				NonePath:     cfg.Endpoint.NonePath,
			}
			settings.Logger = logger.Component("gateway")
			if requireJWT {
				settings.Validator = credential.JWTValidator{}
			}

			srv, err := gateway.NewServer(settings)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context(), listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8000", "address to serve on")
	cmd.Flags().BoolVar(&requireJWT, "require-jwt", false, "only accept unexpired JWT tokens")
	return cmd
}

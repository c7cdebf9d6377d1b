package main

import (
	"errors"
	"fmt"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/flemzord/hafiza/pkg/app"
)

// daemon runs hafiza under the host service manager.
type daemon struct {
	params app.Params
	app    *app.App
}

var _ service.Interface = (*daemon)(nil)

// Start must not block.
func (d *daemon) Start(_ service.Service) error {
	a, err := app.Open(d.params)
	if err != nil {
		return err
	}
	if err := a.Start(); err != nil {
		a.Close()
		return err
	}
	d.app = a
	a.Logger.Info("service started", "config", a.ConfigPath)
	return nil
}

func (d *daemon) Stop(_ service.Service) error {
	if d.app == nil {
		return nil
	}
	d.app.Logger.Info("service stopping")
	d.app.Stop()
	d.app.Close()
	d.app = nil
	return nil
}

func serviceConfig(g *globalFlags) *service.Config {
	args := []string{"service", "run"}
	if g.config != "" {
		args = append(args, "--config", g.config)
	}
	if g.dataDir != "" {
		args = append(args, "--data-dir", g.dataDir)
	}
	if g.logLevel != "" {
		args = append(args, "--log-level", g.logLevel)
	}
	return &service.Config{
		Name:        "hafiza",
		DisplayName: "hafiza",
		Description: "Long-term memory for a personal assistant",
		Arguments:   args,
		Option:      service.KeyValue{"UserService": true},
	}
}

func serviceCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage hafiza as a background service",
	}

	for _, action := range service.ControlAction {
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the hafiza service", action),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, err := service.New(&daemon{params: g.params(false)}, serviceConfig(g))
				if err != nil {
					return err
				}
				if err := service.Control(s, action); err != nil {
					return fmt.Errorf("service %s: %w", action, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Service %s: done.\n", action)
				return nil
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:    "run",
		Short:  "Run under the service manager",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			s, err := service.New(&daemon{params: g.params(false)}, serviceConfig(g))
			if err != nil {
				return err
			}
			return s.Run()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := service.New(&daemon{}, serviceConfig(g))
			if err != nil {
				return err
			}
			st, err := s.Status()
			if err != nil && !errors.Is(err, service.ErrNotInstalled) {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), statusName(st))
			return nil
		},
	})
	return cmd
}

func statusName(st service.Status) string {
	switch st {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	}
	return "not installed"
}


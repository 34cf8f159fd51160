// Copyright 2024 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/cubefs/infrakit/node"
	"github.com/cubefs/infrakit/util/log"
	"github.com/cubefs/infrakit/util/scheduler"
)

type options struct {
	configFile string
	addr       string
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           path.Base(os.Args[0]),
		Short:         "infrakit chunk storage node and client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "f", "", "node config file, JSON or YAML")
	root.PersistentFlags().StringVar(&opts.addr, "addr", "", "node address, server address of config by default")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "request timeout")

	root.AddCommand(
		newServeCmd(opts),
		newPingCmd(opts),
		newAppendCmd(opts),
		newReadCmd(opts),
	)
	return root
}

func (o *options) loadConfig(required bool) (*node.Config, error) {
	if o.configFile == "" {
		if required {
			return nil, fmt.Errorf("config file required")
		}
		return &node.Config{}, nil
	}
	return node.LoadConfig(o.configFile)
}

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run a storage node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(true)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *node.Config) error {
	logger, logFile := log.Setup(&cfg.Log)
	defer logFile.Close()
	cfg.Logger = logger
	if _, err := maxprocs.Set(maxprocs.Logger(logger.Infof)); err != nil {
		logger.Warnf("set maxprocs: %v", err)
	}

	n, err := node.New(cfg)
	if err != nil {
		return err
	}
	if err = n.Start(context.Background()); err != nil {
		return err
	}

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigC
		logger.Infof("receive signal %s, shutdown", sig)
		n.Shutdown()
	}()
	n.Sync()
	return nil
}

// withClient runs fn with a started node client.
func withClient(opts *options, fn func(c *node.Client) error) error {
	cfg, err := opts.loadConfig(false)
	if err != nil {
		return err
	}
	addr := opts.addr
	if addr == "" {
		addr = cfg.Server.Address
	}
	if addr == "" {
		return fmt.Errorf("node address required")
	}
	if opts.timeout > 0 {
		cfg.RequestTimeout = opts.timeout
	}

	sched := scheduler.New(scheduler.Config{Logger: cfg.Logger})
	defer sched.Stop()
	c := node.NewClient(addr, cfg, sched)
	if err = c.Start(); err != nil {
		return err
	}
	defer c.Shutdown()
	return fn(c)
}

func newPingCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "ping a node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(opts, func(c *node.Client) error {
				start := time.Now()
				pong, err := c.Ping()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s in %s\n", pong, time.Since(start))
				return nil
			})
		},
	}
}

func newAppendCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "append <data>...",
		Short: "append records, prints their positions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(opts, func(c *node.Client) error {
				for _, data := range args {
					pos, err := c.Append([]byte(data))
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), pos)
				}
				return nil
			})
		},
	}
}

func newReadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "read <position>...",
		Short: "read records at positions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			positions := make([]int64, 0, len(args))
			for _, arg := range args {
				pos, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid position %q", arg)
				}
				positions = append(positions, pos)
			}
			return withClient(opts, func(c *node.Client) error {
				for _, pos := range positions {
					data, err := c.Read(pos)
					if err != nil {
						return fmt.Errorf("read %d: %w", pos, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", pos, data)
				}
				return nil
			})
		},
	}
}

// Licensed to the Apache Software Foundation (ASF) under one or more
// contributor license agreements.  See the NOTICE file distributed with
// this work for additional information regarding copyright ownership.
// The ASF licenses this file to You under the Apache License, Version 2.0
// (the "License"); you may not use this file except in compliance with
// the License.  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmd contains the commands of fnrun.
package cmd

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/apache/beam-fnexec/pkg/beam/log"
)

var (
	logLevel  string
	logFormat string

	Root = &cobra.Command{
		Use:               "fnrun",
		Short:             "fnrun executes a DoFn over a bundle of elements described by a run file",
		SilenceUsage:      true,
		PersistentPreRunE: setupLogging,
	}
)

func init() {
	Root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Minimum log level: debug, info, warn or error")
	Root.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log format: console, json, text or std")
	Root.AddCommand(runCmd)
}

func setupLogging(cmd *cobra.Command, _ []string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(logLevel))
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	w := cmd.ErrOrStderr()

	switch logFormat {
	case "json":
		log.SetLogger(log.NewZerolog(zerolog.New(w).Level(lvl).With().Timestamp().Logger()))
	case "console":
		console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		log.SetLogger(log.NewZerolog(zerolog.New(console).Level(lvl).With().Timestamp().Logger()))
	case "text":
		var level slog.Level
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
		log.SetLogger(&log.Structural{Handler: slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})})
	case "std":
		log.SetLogger(&log.Standard{Min: log.ParseSeverity(strings.ToUpper(logLevel))})
	default:
		return fmt.Errorf("invalid --log-format %q", logFormat)
	}
	return nil
}

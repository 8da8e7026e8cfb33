/*
   SDSPI - SD card driver for the serial peripheral bus
   Copyright (c) 2022, Alexander Vollschwitz

   This file is part of SDSPI.

   SDSPI is free software: you can redistribute it and/or modify
   it under the terms of the GNU General Public License as published by
   the Free Software Foundation, either version 3 of the License, or
   (at your option) any later version.

   SDSPI is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
   GNU General Public License for more details.

   You should have received a copy of the GNU General Public License
   along with SDSPI. If not, see <http://www.gnu.org/licenses/>.
*/

package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/xelalexv/sdspi/pkg/run"
)

//
func main() {

	var level, format string

	root := &cobra.Command{
		Use:   "sdctl",
		Short: "sdctl operates SD cards over the serial peripheral interface",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(level, format)
		},
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&level, "log-level",
		envOr("LOG_LEVEL", "info"),
		"log level: trace, debug, info, warn, error (env LOG_LEVEL)")
	root.PersistentFlags().StringVar(&format, "log-format",
		envOr("LOG_FORMAT", "text"), "log format: text or json (env LOG_FORMAT)")

	root.AddCommand(
		&run.NewServe().Command,
		&run.NewInfo().Command,
		&run.NewRead().Command,
		&run.NewWrite().Command,
		&run.NewErase().Command,
		&run.NewBench().Command,
		&run.NewLog().Command,
		&run.NewSpool().Command,
		&run.NewSearch().Command,
		&run.NewVersion().Command,
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\nerror: %v\n\n", err)
		os.Exit(1)
	}
}

//
func setupLogging(level, format string) error {

	l, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(l)

	switch format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format '%s'", format)
	}

	return nil
}

//
func envOr(key, dflt string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return dflt
}

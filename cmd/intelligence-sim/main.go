// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main is a standalone stand-in for the external intelligence
// service, useful for running the consumer end-to-end without a real
// ML-backed backend. It serves the same two endpoints a production
// intelligence service would: /api/bridge/generate-intelligence and
// /process/document.
//
// Usage:
//
//	intelligence-sim --port 9000
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/enrichment-consumer/internal/devtools/intelligencesvc"
)

func main() {
	port := flag.IntP("port", "p", 9000, "Port to listen on")
	flag.Parse()

	banner("intelligence-sim", fmt.Sprintf("listening on :%d", *port))

	svc := intelligencesvc.New()
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           intelligencesvc.Handler(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "intelligence-sim: %v\n", err)
		os.Exit(1)
	}
}

// banner prints a small colored startup banner when stdout is a terminal,
// and a plain line otherwise so piped/CI output stays parseable.
func banner(name, detail string) {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Printf("%s: %s\n", name, detail)
		return
	}
	bold := color.New(color.Bold, color.FgCyan)
	bold.Printf("%s", name)
	fmt.Printf(" — %s\n", detail)
}

// Copyright 2017 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/grimoire/elk/ingest"
	"github.com/jaffee/commandeer"
	"github.com/spf13/cobra"
)

// EnrichMain is wrapped by NewEnrichCommand and only exported for testing
// purposes.
var EnrichMain *ingest.Main

// NewEnrichCommand returns a new cobra command wrapping EnrichMain.
func NewEnrichCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	EnrichMain = ingest.NewMain()
	enrichCommand := &cobra.Command{
		Use:   "enrich",
		Short: "enrich - enrich raw items and bulk load them into Elasticsearch",
		Long: `Reads raw bugzilla or gerrit items, adds identity, organization and
project fields, and writes them to Elasticsearch in bulk requests of at most
max-batch-items documents.

An interrupt stops reading and flushes what was read. A second interrupt
aborts, discarding the partial batch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			interrupts := make(chan os.Signal, 2)
			signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(interrupts)
			done := make(chan struct{})
			defer close(done)
			go stopOnInterrupt(interrupts, done, stderr, cancel, EnrichMain.Abort)
			return EnrichMain.Run(ctx)
		},
	}
	flags := enrichCommand.Flags()
	err := commandeer.Flags(flags, EnrichMain)
	if err != nil {
		panic(err)
	}
	return enrichCommand
}

// stopOnInterrupt calls stop on the first interrupt and abort on the second.
// It returns once done is closed.
func stopOnInterrupt(interrupts <-chan os.Signal, done <-chan struct{}, stderr io.Writer, stop, abort func()) {
	select {
	case <-interrupts:
	case <-done:
		return
	}
	fmt.Fprintln(stderr, "stopping, interrupt again to abort")
	stop()
	select {
	case <-interrupts:
		abort()
	case <-done:
	}
}

func init() {
	subcommandFns["enrich"] = NewEnrichCommand
}

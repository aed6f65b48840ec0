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
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	// Version of this software - filled in by ldflags in Makefile.
	Version string
	// BuildTime of this software - filled in by ldflags in Makefile.
	BuildTime string
)

// envPrefix is prepended to the environment variable of every option.
const envPrefix = "ELK"

var subcommandFns = map[string]func(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command{}

func versionInfo() (version, built string) {
	version, built = Version, BuildTime
	if version == "" {
		version = "v0.0.0"
	}
	if built == "" {
		built = "not recorded"
	}
	return version, built
}

// NewRootCommand creates the top level elk command with every registered
// subcommand under it, in name order.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	version, built := versionInfo()
	rc := &cobra.Command{
		Use:   "elk",
		Short: "elk - enrich raw software project data into Elasticsearch",
		Long: fmt.Sprintf(`Enriches raw items collected from bugzilla and gerrit with
identities, organizations and projects, and bulk loads them into
Elasticsearch.

Options are read from flags, then %s_ environment variables, then the
TOML file given with --config.

Version: %s
Build Time: %s
`, envPrefix, version, built),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setAllConfig(viper.New(), cmd.Flags(), envPrefix)
		},
	}
	rc.PersistentFlags().StringP("config", "c", "", "Configuration file to read from.")

	names := make([]string, 0, len(subcommandFns))
	for name := range subcommandFns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rc.AddCommand(subcommandFns[name](stdin, stdout, stderr))
	}
	rc.SetOutput(stderr)
	return rc
}

// setAllConfig fills every flag in flags which wasn't given on the command
// line. Values come from an environment variable named after the flag
// (upper case, prefixed with prefix and an underscore, dashes and dots
// turned into underscores) or else from the TOML file named by the config
// flag. Flags found in neither keep their defaults.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet, prefix string) error {
	if err := bindConfig(v, flags, prefix); err != nil {
		return err
	}
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		// Set appends to slice flags, so a flag given on the command line
		// must not be set again.
		if err != nil || f.Changed {
			return
		}
		if serr := f.Value.Set(configValue(v, f)); serr != nil {
			err = errors.Wrapf(serr, "setting %s", f.Name)
		}
	})
	return err
}

// bindConfig registers the sources of v in priority order.
func bindConfig(v *viper.Viper, flags *pflag.FlagSet, prefix string) error {
	if err := v.BindPFlags(flags); err != nil {
		return errors.Wrap(err, "binding flags")
	}
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	path := v.GetString("config")
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "reading configuration file '%s'", path)
	}
	return nil
}

// configValue renders the value v holds for f the way f.Value.Set parses it.
func configValue(v *viper.Viper, f *pflag.Flag) string {
	switch f.Value.Type() {
	case "stringSlice":
		// GetString is empty for a TOML array.
		return strings.Join(v.GetStringSlice(f.Name), ",")
	default:
		return v.GetString(f.Name)
	}
}

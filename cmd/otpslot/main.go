// Program otpslot is a command-line tool for a single-secret one-time code slot.
package main

import (
	"os"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/otpslot/cmd/otpslot/config"

	"github.com/creachadair/otpslot/cmd/otpslot/internal/cmdcli"
	"github.com/creachadair/otpslot/cmd/otpslot/internal/cmddebug"
	"github.com/creachadair/otpslot/cmd/otpslot/internal/cmdserver"
)

func main() {
	var flags struct {
		Config string `flag:"config,default=$OTPSLOT_CONFIG,Settings file path"`
		Store  string `flag:"store,Store path (overrides the settings file)"`
	}
	root := &command.C{
		Name: command.ProgramName(),
		Help: `A command-line tool for a single-secret one-time code slot.

A slot holds at most one named secret. Once a secret is submitted, the
slot produces six-digit time-based codes from it until it is reset, and
a new secret may then be submitted.

The slot record is kept in a store described by a YAML settings file.
Use --config to specify the settings path, or set OTPSLOT_CONFIG. Use
--store to name a store file directly. Unless the store is configured
as plaintext, its contents are encrypted with a passphrase, read from
OTPSLOT_PASSPHRASE if it is set or else prompted for.`,

		SetFlags: command.Flags(flax.MustBind, &flags),

		Init: func(env *command.Env) error {
			set := &config.Settings{ConfigPath: flags.Config, StorePath: flags.Store}
			if err := set.Load(); err != nil {
				return err
			}
			env.Config = set
			return nil
		},

		Commands: append(
			cmdcli.Commands,
			cmdserver.Command,
			command.HelpCommand([]command.HelpTopic{{
				Name: "settings",
				Help: `Format of the settings file.

The settings file is YAML. All fields are optional except the store.

  store:
    kind: file        # file (default), sqlite, or redis
    path: slot.json   # file or sqlite path, relative to the settings file
    addr: host:6379   # redis server address
    password: ...     # redis password
    db: 0             # redis database number
    key: ...          # redis key (default otpslot:record)
    plaintext: false  # store without encryption
  issuer: Example     # issuer label for provisioning URLs
  scrubOnReset: false # clear the stored secret on reset
  server:
    addr: localhost:8080
    allow: [127.0.0.0/8]`,
			}}),
			command.VersionCommand(),
			cmddebug.Command,
		),
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

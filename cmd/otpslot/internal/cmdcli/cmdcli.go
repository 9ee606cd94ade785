// Package cmdcli implements the subcommands that operate on the slot.
package cmdcli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/otpslot/clipboard"
	"github.com/creachadair/otpslot/cmd/otpslot/config"
	"github.com/creachadair/otpslot/record"
	"github.com/creachadair/otpslot/slot"
	"github.com/creachadair/otpslot/slotlib"
)

var Commands = []*command.C{
	{
		Name: "init",
		Help: `Initialize an empty slot in the configured store.

If the store already holds a slot, init reports an error unless --force
is set, in which case the slot is replaced by an empty one. When a new
encrypted store is created, the passphrase is read twice to confirm it.`,
		SetFlags: command.Flags(flax.MustBind, &initFlags),
		Run:      command.Adapt(runInit),
	},
	{
		Name:  "submit",
		Usage: "<name>",
		Help: `Submit a named secret to the slot.

The secret is prompted for without echo if stdin is a terminal, or is
read from the first line of stdin otherwise. A slot holds only one
secret: submitting to a slot that has one is an error until it is reset.`,
		Run: command.Adapt(runSubmit),
	},
	{
		Name: "reset",
		Help: `Reset the slot so that a new secret may be submitted.

Unless scrubOnReset is set in the settings, the stored credential is
retained until it is replaced.`,
		Run: command.Adapt(runReset),
	},
	{
		Name: "token",
		Help: `Print the one-time code for the current time step.

With --copy the code is sent to the clipboard instead, and the time
remaining in its window is printed.`,
		SetFlags: command.Flags(flax.MustBind, &tokenFlags),
		Run:      command.Adapt(runToken),
	},
	{
		Name: "status",
		Help: "Print the phase of the slot and the name of its secret, if any.",
		Run:  command.Adapt(runStatus),
	},
	{
		Name: "uri",
		Help: `Print an otpauth URL for the stored secret.

The URL can be used to enroll an authenticator app that produces the
same codes as the slot. It contains the secret, so handle it with care.`,
		SetFlags: command.Flags(flax.MustBind, &uriFlags),
		Run:      command.Adapt(runURI),
	},
}

var initFlags struct {
	Force bool `flag:"force,Replace an existing slot"`
}

// runInit implements the "init" subcommand.
func runInit(env *command.Env) error {
	set := config.Get(env)
	if err := set.File.Store.Check(); err != nil {
		return err
	}
	var pp string
	if !set.File.Store.Plaintext {
		if v, ok := os.LookupEnv(config.PassphraseEnv); ok {
			pp = v
		} else {
			var err error
			pp, err = slotlib.ConfirmPassphrase("Passphrase: ")
			if err != nil {
				return err
			}
		}
	}
	b, err := slotlib.OpenStore(env.Context(), set.File.Store, pp)
	if err != nil {
		return err
	}
	defer b.Close()

	m := slot.New(b, &slot.Options{ScrubOnReset: set.File.ScrubOnReset})
	if _, err := m.Phase(env.Context()); err == nil && !initFlags.Force {
		return fmt.Errorf("a slot already exists at %q (use --force to replace it)", set.File.Store.Location())
	} else if err != nil && !errors.Is(err, record.ErrNotFound) {
		return err
	}
	if err := m.Instantiate(env.Context()); err != nil {
		return err
	}
	fmt.Fprintf(env, "Initialized slot at %q\n", set.File.Store.Location())
	return nil
}

// runSubmit implements the "submit" subcommand.
func runSubmit(env *command.Env, name string) error {
	m, b, err := config.Machine(env)
	if err != nil {
		return err
	}
	defer b.Close()

	// Check the phase before prompting, so the user is not asked for a secret
	// that cannot be stored.
	if p, err := m.Phase(env.Context()); err != nil {
		return err
	} else if p == record.Done {
		return slot.ErrAlreadyHasSecret
	}
	secret, err := slotlib.ReadSecret("Secret: ")
	if err != nil {
		return err
	}
	if err := m.SubmitSecret(env.Context(), name, secret); err != nil {
		return err
	}
	fmt.Fprintf(env, "Stored secret %q\n", name)
	return nil
}

// runReset implements the "reset" subcommand.
func runReset(env *command.Env) error {
	m, b, err := config.Machine(env)
	if err != nil {
		return err
	}
	defer b.Close()
	if err := m.Reset(env.Context()); err != nil {
		return err
	}
	fmt.Fprintln(env, "<reset>")
	return nil
}

var tokenFlags struct {
	Copy bool `flag:"copy,Copy the code to the clipboard"`
}

// runToken implements the "token" subcommand.
func runToken(env *command.Env) error {
	m, b, err := config.Machine(env)
	if err != nil {
		return err
	}
	defer b.Close()

	tok, err := m.Token(env.Context())
	if err != nil {
		return err
	}
	if !tokenFlags.Copy {
		fmt.Println(tok.Code)
		return nil
	}
	if err := clipboard.WriteString(tok.Code); err != nil {
		return fmt.Errorf("copying code: %w", err)
	}
	left := time.Until(tok.ValidUntil).Round(time.Second)
	fmt.Printf("<copied> valid for %v\n", left)
	return nil
}

// runStatus implements the "status" subcommand.
func runStatus(env *command.Env) error {
	m, b, err := config.Machine(env)
	if err != nil {
		return err
	}
	defer b.Close()

	st, err := m.Status(env.Context())
	if err != nil {
		return err
	}
	if st.Name != "" {
		fmt.Printf("%s\t%s\n", st.Phase, st.Name)
	} else {
		fmt.Println(st.Phase)
	}
	return nil
}

var uriFlags struct {
	Issuer string `flag:"issuer,Issuer label (overrides the settings file)"`
}

// runURI implements the "uri" subcommand.
func runURI(env *command.Env) error {
	m, b, err := config.Machine(env)
	if err != nil {
		return err
	}
	defer b.Close()

	cred, err := m.Credential(env.Context())
	if err != nil {
		return err
	}
	fmt.Println(slotlib.ProvisionURL(cred, config.Issuer(env, uriFlags.Issuer)))
	return nil
}

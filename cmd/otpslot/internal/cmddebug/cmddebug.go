package cmddebug

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/creachadair/command"
	"github.com/creachadair/otpslot/cmd/otpslot/config"
	"github.com/creachadair/otpslot/slotlib"
	"github.com/creachadair/otpslot/slotstore"
)

var Command = &command.C{
	Name:     "debug",
	Help:     "Debug commands (potentially dangerous).",
	Unlisted: true,

	Commands: []*command.C{{
		Name: "export",
		Help: "Export the slot record in plaintext as JSON, including the secret.",
		Run:  command.Adapt(runDebugExport),
	}, {
		Name: "edit",
		Help: "Edit the slot record directly, bypassing the phase rules.",
		Run:  command.Adapt(runDebugEdit),
	}, {
		Name: "change-key",
		Help: "Change the passphrase on an encrypted store file.",
		Run:  command.Adapt(runDebugChangeKey),
	}},
}

// runDebugExport implements the "debug export" subcommand.
func runDebugExport(env *command.Env) error {
	b, err := config.OpenStore(env)
	if err != nil {
		return err
	}
	defer b.Close()

	r, err := b.Load(env.Context())
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// runDebugEdit implements the "debug edit" subcommand.
func runDebugEdit(env *command.Env) error {
	b, err := config.OpenStore(env)
	if err != nil {
		return err
	}
	defer b.Close()

	r, err := b.Load(env.Context())
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}
	repl, err := slotlib.EditRecord(env.Context(), r)
	if errors.Is(err, slotlib.ErrNoChange) {
		fmt.Fprintln(env, "No change")
		return nil
	} else if err != nil {
		return err
	}
	if err := b.Save(env.Context(), repl); err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	fmt.Fprintf(env, "Edit applied to %q\n", config.Get(env).File.Store.Location())
	return nil
}

// runDebugChangeKey implements the "debug change-key" subcommand.
func runDebugChangeKey(env *command.Env) error {
	set := config.Get(env)
	if set.File.Store.Plaintext {
		return errors.New("the store is not encrypted")
	}
	b, err := config.OpenStore(env)
	if err != nil {
		return err
	}
	defer b.Close()
	if b.File == nil {
		return fmt.Errorf("store kind %q does not support changing the key", set.File.Store.Kind)
	}

	pp, err := slotlib.ConfirmPassphrase("New passphrase: ")
	if err != nil {
		return err
	} else if pp == "" {
		return errors.New("empty passphrase")
	}
	if err := b.File.Rekey(env.Context(), slotstore.NewSealed(pp)); err != nil {
		return err
	}
	fmt.Fprintf(env, "Changed key on %q\n", b.File.Path())
	return nil
}

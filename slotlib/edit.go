package slotlib

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/creachadair/mds/mdiff"
	"github.com/creachadair/mds/mstr"
	"github.com/creachadair/otpslot/record"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNoChange is reported by EditRecord if the record was not changed.
	ErrNoChange = errors.New("record was not changed")

	// ErrUserReject is reported by EditRecord if the user rejected the edits.
	ErrUserReject = errors.New("the user rejected the edits")
)

// EditRecord invokes an editor on r rendered as YAML. The editor is chosen by
// $VISUAL or $EDITOR, falling back to vi. If the text changed, the user is
// shown a diff and asked to confirm it; the edited record must then satisfy
// its invariants.
//
// If the edit did not change the input, EditRecord returns (r, ErrNoChange).
// If the user rejected the changes, it returns (r, ErrUserReject).
func EditRecord(ctx context.Context, r record.Record) (record.Record, error) {
	orig, err := yaml.Marshal(r)
	if err != nil {
		return r, fmt.Errorf("marshal record: %w", err)
	}

	// Edit a fixed name in a temp directory so the editor shows a clean name.
	dir, err := os.MkdirTemp("", "otpslot*")
	if err != nil {
		return r, err
	}
	defer os.RemoveAll(dir)

	epath := filepath.Join(dir, "record.yaml")
	if err := os.WriteFile(epath, orig, 0600); err != nil {
		return r, err
	}
	cmd := exec.CommandContext(ctx, editor(), "record.yaml")
	cmd.Dir = dir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return r, fmt.Errorf("editor failed: %w", err)
	}
	edited, err := os.ReadFile(epath)
	if err != nil {
		return r, fmt.Errorf("read editor output: %w", err)
	}

	diff := mdiff.New(mstr.Lines(string(orig)), mstr.Lines(string(edited)))
	if len(diff.Chunks) == 0 {
		return r, ErrNoChange
	}
	if err := confirmDiff(diff); err != nil {
		return r, err
	}

	var out record.Record
	if err := yaml.Unmarshal(edited, &out); err != nil {
		return r, fmt.Errorf("parse edited record: %w", err)
	} else if err := out.Check(); err != nil {
		return r, fmt.Errorf("edited record: %w", err)
	}
	return out, nil
}

func editor() string {
	return cmp.Or(os.Getenv("VISUAL"), os.Getenv("EDITOR"), "vi")
}

// confirmDiff shows diff on the terminal and asks the user to accept it.
func confirmDiff(diff *mdiff.Diff) error {
	fd := int(os.Stdin.Fd())
	oldst, err := term.MakeRaw(fd)
	if err != nil {
		return err
	}
	defer term.Restore(fd, oldst)
	vt := term.NewTerminal(os.Stdin, "")

	diff.AddContext(3).Unify().Format(vt, mdiff.Unified, nil)
	for {
		fmt.Fprint(vt, "Keep changes? (y/n) ")
		ln, err := vt.ReadLine()
		if err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(ln)) {
		case "y", "yes":
			return nil
		case "n", "no":
			return ErrUserReject
		default:
			fmt.Fprintln(vt, "Please enter y(es) or n(o)")
		}
	}
}

// Package cmdserver implements the slot server subcommand.
package cmdserver

import (
	"cmp"
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/otpslot/cmd/otpslot/config"
	"github.com/creachadair/otpslot/dispatch"
	"github.com/creachadair/otpslot/slot"
	"github.com/creachadair/otpslot/slotstore"
)

var Command = &command.C{
	Name: "server",
	Help: `Run a server for the slot.

The server accepts instantiate, execute, and query messages as JSON over
HTTP, and also serves GET /token and GET /status. Run "help settings"
for the server settings. If the store is a file, the server watches it
and picks up changes made by other processes.`,
	SetFlags: command.Flags(flax.MustBind, &serverFlags),
	Run:      command.Adapt(runServer),
}

var serverFlags struct {
	Addr  string `flag:"addr,Service address (host:port, overrides the settings file)"`
	Allow string `flag:"allow,Comma-separated CIDR masks of allowed callers"`
}

func runServer(env *command.Env) error {
	set := config.Get(env)
	addr := cmp.Or(serverFlags.Addr, set.File.Server.Addr)
	if addr == "" {
		return env.Usagef("you must provide a service --addr")
	}
	allow := set.File.Server.Allow
	if serverFlags.Allow != "" {
		allow = strings.Split(serverFlags.Allow, ",")
	}
	hf, err := dispatch.NewHostFilter(allow)
	if err != nil {
		return env.Usagef("invalid allow mask: %v", err)
	}

	b, err := config.OpenStore(env)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, cancel := signal.NotifyContext(env.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var store slot.Store = b
	if b.File != nil {
		w, err := slotstore.NewWatcher(b.File)
		if err != nil {
			return err
		}
		store = w
		go func() {
			log.Printf("Watching for updates at %q", b.File.Path())
			w.Run(ctx)
		}()
	}

	h := dispatch.Handler{
		Machine: slot.New(store, &slot.Options{ScrubOnReset: set.File.ScrubOnReset}),
	}
	if len(hf) != 0 {
		h.CheckAllow = hf.CheckAllow
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.ServeMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serve(ctx, srv)
}

// serve runs srv until ctx ends, then shuts it down. If the server fails to
// start or stops on its own, serve reports that error.
func serve(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() {
		log.Printf("Serving at %q", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}
	log.Printf("Signal received, stopping server")
	return srv.Shutdown(context.Background())
}

package cmds

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/memscout/memscout/pkg/config"
	"github.com/memscout/memscout/pkg/logflags"
	"github.com/memscout/memscout/pkg/proc/native"
	"github.com/memscout/memscout/pkg/version"
	"github.com/memscout/memscout/service/debugger"
	"github.com/memscout/memscout/service/rest"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// addr is the HTTP server listen address.
	addr string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const memscoutCommandLongDesc = `Memscout is a live process memory inspection engine.

It attaches to a running process and exposes memory scanning, pointer path
discovery and hardware breakpoints over an HTTP JSON API.`

// New returns an initialized command tree.
func New() *cobra.Command {
	conf = config.LoadConfig()

	listenDefault := conf.Listen
	if listenDefault == "" {
		listenDefault = "127.0.0.1:3030"
	}

	rootCommand = &cobra.Command{
		Use:   "memscout",
		Short: "Memscout is a memory inspection engine for live processes.",
		Long:  memscoutCommandLongDesc,
	}

	rootCommand.PersistentFlags().StringVarP(&addr, "listen", "l", listenDefault, "HTTP server listen address.")
	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable server logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", "Comma separated list of components that should produce debug output (debugger,scan,pathfind,rest,native).")
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor.")

	serveCommand := &cobra.Command{
		Use:   "serve",
		Short: "Start the memory inspection server.",
		Long: `Start the HTTP server and wait for a client to open a process.

The server holds at most one process session at a time; a client attaches
with POST /process and releases the session with a detach state change.`,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(serve())
		},
	}
	rootCommand.AddCommand(serveCommand)

	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Memscout Server\n%s\n", version.MemscoutVersion)
		},
	}
	rootCommand.AddCommand(versionCommand)

	return rootCommand
}

func serve() int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	acc, err := native.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "couldn't start listener: %s\n", err)
		return 1
	}
	defer listener.Close()

	dbgConf := &debugger.Config{Accessor: acc}
	if conf.ScanMaxCandidates != nil {
		dbgConf.ScanMaxCandidates = *conf.ScanMaxCandidates
	}
	if conf.ScanAlignment != nil {
		dbgConf.ScanAlignment = *conf.ScanAlignment
	}
	if conf.PointerMaxDepth != nil {
		dbgConf.PointerMaxDepth = *conf.PointerMaxDepth
	}
	if conf.PointerMaxOffset != nil {
		dbgConf.PointerMaxOffset = *conf.PointerMaxOffset
	}
	if conf.PointerMaxResults != nil {
		dbgConf.PointerMaxResults = *conf.PointerMaxResults
	}

	server := rest.NewServer(&rest.Config{
		Listener: listener,
		Debugger: debugger.New(dbgConf),
	})

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	fmt.Printf("Memscout server listening at: %s\n", listener.Addr())

	select {
	case <-ch:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Stop(ctx); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	case err := <-errCh:
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}
	return 0
}

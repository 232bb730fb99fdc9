// Command cansend sends a single frame to a running canserver's inbound
// IPC channel.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/bridge"
	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/cliutil"
	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/config"
	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/ipc"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: cansend <channel> <ID>#<DATA> [--runtime-dir DIR]\n")
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("cansend", flag.ContinueOnError)
	runtimeDir := fs.String("runtime-dir", config.Default().RuntimeDir, "directory holding the IPC sockets")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	rest := fs.Args()
	if len(rest) != 2 {
		usage()
		return 1
	}
	channel, spec := rest[0], rest[1]

	frame, err := cliutil.ParseSendFrame(spec)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cansend:", err)
		return 1
	}

	inPath, _ := bridge.SocketPaths(*runtimeDir, channel)
	client, err := ipc.Dial(inPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cansend:", err)
		return 1
	}
	defer client.Close()

	payload, err := ipc.EncodeFrame(frame)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cansend:", err)
		return 1
	}
	if err := client.Send(payload); err != nil {
		fmt.Fprintln(os.Stderr, "cansend:", err)
		return 1
	}
	return 0
}

// Command candump connects to a running canserver's outbound IPC channel
// and prints received frames, optionally restricted by filter tokens.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/bridge"
	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/canframe"
	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/cliutil"
	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/config"
	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/ipc"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: candump <iface>[,filter]*... [--runtime-dir DIR]\n")
	fmt.Fprintf(os.Stderr, "  filter tokens: <id>:<mask>, <id>~<mask>, #<errmask>, j/J, or a bare hex id\n")
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("candump", flag.ContinueOnError)
	runtimeDir := fs.String("runtime-dir", config.Default().RuntimeDir, "directory holding the IPC sockets")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	ifaceArgs := fs.Args()
	if len(ifaceArgs) == 0 {
		usage()
		return 1
	}

	type subscription struct {
		channel string
		filters cliutil.FilterSet
	}
	subs := make([]subscription, 0, len(ifaceArgs))
	for _, arg := range ifaceArgs {
		parts := strings.Split(arg, ",")
		channel := parts[0]
		fset, err := cliutil.ParseFilterTokens(parts[1:])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		subs = append(subs, subscription{channel: channel, filters: fset})
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	exitCode := 0

	for _, sub := range subs {
		_, outPath := socketNames(*runtimeDir, sub.channel)
		client, err := ipc.Dial(outPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "candump: %s: %v\n", sub.channel, err)
			mu.Lock()
			exitCode = 1
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(sub subscription, client *ipc.Client) {
			defer wg.Done()
			defer client.Close()
			for {
				payload, err := client.Receive()
				if err != nil {
					return
				}
				frame, err := ipc.DecodeFrame(payload)
				if err != nil {
					fmt.Fprintf(os.Stderr, "candump: %s: %v\n", sub.channel, err)
					mu.Lock()
					exitCode = 1
					mu.Unlock()
					continue
				}
				if !sub.filters.Match(frame) {
					continue
				}
				printFrame(sub.channel, frame)
			}
		}(sub, client)
	}

	wg.Wait()
	return exitCode
}

func printFrame(channel string, frame canframe.Frame) {
	kind := ""
	switch {
	case frame.Error:
		kind = "ERR"
	case frame.RTR:
		kind = "R"
	}
	fmt.Printf("  %-8s %08X   [%d] % X %s\n", channel, frame.ID, frame.DLC, frame.Data, kind)
}

func socketNames(runtimeDir, name string) (in, out string) {
	return bridge.SocketPaths(runtimeDir, name)
}

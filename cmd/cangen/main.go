// Command cangen generates random CAN frames and sends them to a running
// canserver's inbound IPC channel, for load testing and smoke-testing the
// bridge without real hardware.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/bridge"
	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/canframe"
	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/config"
	"github.com/cyborg-dynamics-engineering/go-can-bridge/internal/ipc"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: cangen <channel> [--count N] [--gap DURATION] [--extended] [--runtime-dir DIR]\n")
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("cangen", flag.ContinueOnError)
	runtimeDir := fs.String("runtime-dir", config.Default().RuntimeDir, "directory holding the IPC sockets")
	count := fs.Int("count", 0, "number of frames to send, 0 for unlimited")
	gap := fs.Duration("gap", 200*time.Millisecond, "delay between frames")
	extended := fs.Bool("extended", false, "generate 29-bit extended ids")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	rest := fs.Args()
	if len(rest) != 1 {
		usage()
		return 1
	}
	channel := rest[0]

	inPath, _ := bridge.SocketPaths(*runtimeDir, channel)
	client, err := ipc.Dial(inPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cangen:", err)
		return 1
	}
	defer client.Close()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	sent := 0
	for *count == 0 || sent < *count {
		frame, err := randomFrame(rng, *extended)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cangen:", err)
			return 1
		}
		payload, err := ipc.EncodeFrame(frame)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cangen:", err)
			return 1
		}
		if err := client.Send(payload); err != nil {
			fmt.Fprintln(os.Stderr, "cangen:", err)
			return 1
		}
		sent++
		if *count != 0 && sent >= *count {
			break
		}
		time.Sleep(*gap)
	}
	return 0
}

func randomFrame(rng *rand.Rand, extended bool) (canframe.Frame, error) {
	n := rng.Intn(9) // 0..8 bytes, classic-frame lengths only
	data := make([]byte, n)
	rng.Read(data)

	if extended {
		id := uint32(rng.Int31n(int32(canframe.EFFMask + 1)))
		return canframe.NewExtended(id, data)
	}
	id := uint32(rng.Int31n(int32(canframe.SFFMask + 1)))
	return canframe.New(id, data)
}

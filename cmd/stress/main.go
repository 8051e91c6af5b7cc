// Command stress pumps set_value(0..9_999_999) at a peer in buffered
// mode, terminated by set_value(-1), grounded in
// original_source/examples/stress/stress_client.c (TESTABLE
// PROPERTIES §8 scenario 2). Run with -server on one process and
// without it on another, both pointed at the same multicast group.
package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pengkunfan/dstc-go"
)

const setValueFn = "set_value"

func encodeInt(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func decodeInt(args []byte) int32 {
	return int32(binary.LittleEndian.Uint32(args))
}

func runServer(engine *dstc.Engine) {
	lastValue := int32(-1)
	done := make(chan struct{})
	err := engine.RegisterServerFunction(setValueFn, func(ref dstc.CallbackRef, caller dstc.NodeID, name string, args []byte) {
		v := decodeInt(args)
		if v == -1 {
			fmt.Println("Server: client signaled completion")
			close(done)
			return
		}
		if v%100000 == 0 {
			fmt.Printf("Server value: %d\n", v)
		}
		if lastValue != -1 && v != lastValue+1 {
			fmt.Fprintf(os.Stderr, "integrity failure: want %d got %d\n", lastValue+1, v)
			os.Exit(255)
		}
		lastValue = v
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "register server:", err)
		os.Exit(1)
	}

	for {
		select {
		case <-done:
			return
		default:
		}
		if _, err := engine.ProcessEvents(100000); err != nil {
			fmt.Fprintln(os.Stderr, "process events:", err)
			os.Exit(1)
		}
	}
}

func runClient(engine *dstc.Engine) {
	stub, err := engine.RegisterClientFunction(setValueFn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "register client:", err)
		os.Exit(1)
	}
	for !engine.RemoteFunctionAvailableByStub(stub) {
		if _, err := engine.ProcessEvents(100000); err != nil {
			fmt.Fprintln(os.Stderr, "process events:", err)
			os.Exit(1)
		}
	}

	engine.Buffered(true)
	for val := int32(0); val < 10000000; val++ {
		for {
			err := engine.QueueFunc(setValueFn, encodeInt(val))
			if !errors.Is(err, dstc.ErrBusy) {
				if err != nil {
					fmt.Fprintln(os.Stderr, "queue:", err)
					os.Exit(1)
				}
				break
			}
			engine.ProcessEvents(1000)
		}
		if val%100000 == 0 {
			fmt.Printf("Client value: %d\n", val)
		}
	}

	engine.Buffered(false)
	fmt.Println("Client telling server to exit")
	for {
		err := engine.QueueFunc(setValueFn, encodeInt(-1))
		if !errors.Is(err, dstc.ErrBusy) {
			if err != nil {
				fmt.Fprintln(os.Stderr, "queue:", err)
				os.Exit(1)
			}
			break
		}
		engine.ProcessEvents(0)
	}

	fmt.Println("Processing events telling server to exit")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		engine.ProcessEvents(int64(time.Until(deadline) / time.Microsecond))
	}
	fmt.Println("Client exiting")
}

func main() {
	server := flag.Bool("server", false, "run as the set_value server instead of the stress client")
	flag.Parse()

	cfg := dstc.ConfigFromEnv()
	engine, err := dstc.Setup(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "setup:", err)
		os.Exit(1)
	}

	if *server {
		runServer(engine)
		return
	}
	runClient(engine)
}

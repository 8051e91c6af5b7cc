// Command loopback registers both a client and a server for the same
// function and calls itself over the multicast group, grounded in
// original_source/examples/loopback/loopback.c (SPEC_FULL.md's
// MODULE LAYOUT: cmd/loopback implements TESTABLE PROPERTIES §8
// scenario 1 end to end). dstc-go has no stub-generation facility
// (spec's own Non-goal), so the fixed-width argument encoding the
// generated DSTC_CLIENT/DSTC_SERVER macros would have produced is
// written out by hand here.
package main

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/pengkunfan/dstc-go"
)

const loopbackFn = "loopback"

func encodeLoopbackArgs(name string, age int32) []byte {
	buf := make([]byte, 32+4)
	copy(buf[:32], name)
	binary.LittleEndian.PutUint32(buf[32:36], uint32(age))
	return buf
}

func decodeLoopbackArgs(args []byte) (name string, age int32) {
	nul := 32
	for i := 0; i < 32 && i < len(args); i++ {
		if args[i] == 0 {
			nul = i
			break
		}
	}
	name = string(args[:nul])
	age = int32(binary.LittleEndian.Uint32(args[32:36]))
	return
}

func main() {
	cfg := dstc.ConfigFromEnv()
	engine, err := dstc.Setup(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "setup:", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	if err := engine.RegisterServerFunction(loopbackFn, func(ref dstc.CallbackRef, caller dstc.NodeID, name string, args []byte) {
		who, age := decodeLoopbackArgs(args)
		fmt.Printf("Name: %s\n", who)
		fmt.Printf("Age:  %d\n", age)
		close(done)
	}); err != nil {
		fmt.Fprintln(os.Stderr, "register server:", err)
		os.Exit(1)
	}

	stub, err := engine.RegisterClientFunction(loopbackFn)
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

	if err := engine.QueueFunc(loopbackFn, encodeLoopbackArgs("Bob Smith", 25)); err != nil {
		fmt.Fprintln(os.Stderr, "queue:", err)
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

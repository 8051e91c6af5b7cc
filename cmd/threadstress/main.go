// Command threadstress demonstrates driving one Engine from several
// goroutines under external synchronization, grounded in
// original_source/examples/thread_stress/{thread_stress_client,thread_stress_server}.c
// (SUPPLEMENTED FEATURES: spec §5 explicitly allows multi-threaded
// callers that serialize their own access; dstc-go's Engine provides
// the optional internal mutex that makes this safe without every
// caller hand-rolling its own lock).
package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"

	"github.com/pengkunfan/dstc-go"
)

var setValueFns = [4]string{"set_value1", "set_value2", "set_value3", "set_value4"}

func encodeInt(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func decodeInt(args []byte) int32 {
	return int32(binary.LittleEndian.Uint32(args))
}

func runServer(engine *dstc.Engine) {
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		i := i
		lastValue := int32(-1)
		done := make(chan struct{})
		err := engine.RegisterServerFunction(setValueFns[i], func(ref dstc.CallbackRef, caller dstc.NodeID, name string, args []byte) {
			v := decodeInt(args)
			if v == -1 {
				fmt.Printf("Thread[%d] done\n", i)
				close(done)
				return
			}
			if v%100000 == 0 {
				fmt.Printf("Thread[%d] Value: %d\n", i, v)
			}
			if lastValue != -1 && v != lastValue+1 {
				fmt.Fprintf(os.Stderr, "Thread[%d] integrity failure: want %d got %d\n", i, lastValue+1, v)
				os.Exit(255)
			}
			lastValue = v
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "register server:", err)
			os.Exit(1)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if _, err := engine.ProcessEvents(100000); err != nil {
					fmt.Fprintln(os.Stderr, "process events:", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func runClient(engine *dstc.Engine) {
	stubs := make([]*dstc.StubHandle, 4)
	for i := 0; i < 4; i++ {
		stub, err := engine.RegisterClientFunction(setValueFns[i])
		if err != nil {
			fmt.Fprintln(os.Stderr, "register client:", err)
			os.Exit(1)
		}
		stubs[i] = stub
	}

	allAvailable := func() bool {
		for _, s := range stubs {
			if !engine.RemoteFunctionAvailableByStub(s) {
				return false
			}
		}
		return true
	}
	for !allAvailable() {
		if _, err := engine.ProcessEvents(100000); err != nil {
			fmt.Fprintln(os.Stderr, "process events:", err)
			os.Exit(1)
		}
	}

	engine.Buffered(true)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for val := int32(0); val < 1000000; val++ {
				for {
					err := engine.QueueFunc(setValueFns[i], encodeInt(val))
					if !errors.Is(err, dstc.ErrBusy) {
						break
					}
					engine.ProcessEvents(0)
				}
				if val%100000 == 0 {
					fmt.Printf("Client thread[%d] Value: %d\n", i, val)
				}
			}
		}()
	}
	wg.Wait()
	engine.Buffered(false)

	for i := 0; i < 4; i++ {
		for {
			err := engine.QueueFunc(setValueFns[i], encodeInt(-1))
			if !errors.Is(err, dstc.ErrBusy) {
				break
			}
			engine.ProcessEvents(1000)
		}
	}
	fmt.Println("Client exiting")
}

func main() {
	server := flag.Bool("server", false, "run as the four-threaded set_value server instead of the client")
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

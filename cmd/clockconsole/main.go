//go:build !rp2040

// Command clockconsole runs the gateway command pipeline interactively on a
// host, against the emulated clock. It plays the role of the BLE client:
// lines typed at the prompt become JSON commands on the raw-command queue,
// and responses and events are printed as they drain.
//
//	> settime 1 0 5 0 1 0 5 0
//	> run 1 1
//	> tick
//	> gettime
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/shlex"

	"dgtgateway-go/drivers/dgt3000"
	"dgtgateway-go/platform"
	"dgtgateway-go/queue"
	"dgtgateway-go/services/clocktask"
	"dgtgateway-go/types"
	"dgtgateway-go/x/logx"
	"dgtgateway-go/x/timex"
)

const help = `commands:
  settime LM LH LMIN LS RM RH RMIN RS   set both timers (mode 0=stop 1=down 2=up)
  display TEXT [BEEP]                   show text (<=11 chars)
  enddisplay                            clear the display
  stop | run [LM RM]                    stop / start the timers
  gettime | getstatus                   query the gateway
  tick                                  emulate one clock time frame
  button CUR [PREV]                     emulate a button state frame
  fail N                                fail the next N I2C sends
  quit`

func main() {
	logx.SetLevel(logx.LevelWarn)

	clock := platform.NewHostClock()
	status := &types.SystemStatus{}
	queues := queue.NewManager()

	task := clocktask.New(queues, status, func() *dgt3000.Device {
		return dgt3000.New(clock, clock, dgt3000.Config{
			AckTimeout:         20 * time.Millisecond,
			AckPoll:            time.Millisecond,
			PingTimeout:        20 * time.Millisecond,
			RetryDelay:         time.Millisecond,
			AddressSwitchDelay: time.Millisecond,
			CommandDelay:       time.Millisecond,
		})
	}, platform.NoopWatchdog{})
	if err := task.Initialize(); err != nil {
		fmt.Fprintln(os.Stderr, "initialize:", err)
		os.Exit(1)
	}
	if err := task.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "start:", err)
		os.Exit(1)
	}
	defer task.Stop()

	// Attach like a BLE client would; this configures the clock.
	task.OnBLEConnected()
	drain(queues)

	fmt.Println("clockconsole: emulated DGT3000 gateway")
	fmt.Println(help)

	in := bufio.NewScanner(os.Stdin)
	seq := 0
	for {
		fmt.Print("> ")
		if !in.Scan() {
			break
		}
		args, err := shlex.Split(in.Text())
		if err != nil {
			fmt.Println("parse error:", err)
			continue
		}
		if len(args) == 0 {
			drain(queues)
			continue
		}

		switch args[0] {
		case "quit", "exit":
			task.OnBLEDisconnected()
			return
		case "help":
			fmt.Println(help)
			continue
		case "tick":
			clock.Tick()
			time.Sleep(50 * time.Millisecond)
			drain(queues)
			continue
		case "button":
			cur := argU8(args, 1, 0)
			prev := argU8(args, 2, 0)
			clock.PushButtons(cur, prev)
			time.Sleep(50 * time.Millisecond)
			drain(queues)
			continue
		case "fail":
			clock.FailSends = int(argU8(args, 1, 1))
			fmt.Printf("next %d sends will fail\n", clock.FailSends)
			continue
		}

		seq++
		payload, ok := buildCommand(fmt.Sprintf("c%d", seq), args)
		if !ok {
			fmt.Println("unknown command, try 'help'")
			continue
		}

		cmd := &types.RawCommand{Timestamp: timex.NowMs(), Payload: payload}
		if !queues.SendRawCommand(cmd, 100) {
			fmt.Println("command queue full")
			continue
		}

		// The task drains one command per 10 ms iteration.
		deadline := time.Now().Add(500 * time.Millisecond)
		for time.Now().Before(deadline) {
			if resp := queues.RecvResponse(10); resp != nil {
				printResponse(resp)
				break
			}
		}
		drain(queues)
	}
}

// buildCommand turns a tokenized console line into the JSON command payload
// a BLE client would write.
func buildCommand(id string, args []string) ([]byte, bool) {
	doc := map[string]any{"id": id}
	params := map[string]any{}

	switch args[0] {
	case "settime":
		doc["command"] = "setTime"
		keys := []string{"leftMode", "leftHours", "leftMinutes", "leftSeconds",
			"rightMode", "rightHours", "rightMinutes", "rightSeconds"}
		for i, k := range keys {
			params[k] = argU8(args, i+1, 0)
		}
	case "display":
		doc["command"] = "displayText"
		if len(args) > 1 {
			params["text"] = args[1]
		}
		if len(args) > 2 {
			params["beep"] = argU8(args, 2, 0)
		}
	case "enddisplay":
		doc["command"] = "endDisplay"
	case "stop":
		doc["command"] = "stop"
	case "run":
		doc["command"] = "run"
		params["leftMode"] = argU8(args, 1, 1)
		params["rightMode"] = argU8(args, 2, 1)
	case "gettime":
		doc["command"] = "getTime"
	case "getstatus", "status":
		doc["command"] = "getStatus"
	default:
		return nil, false
	}

	if len(params) > 0 {
		doc["params"] = params
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, false
	}
	return payload, true
}

func argU8(args []string, i int, def uint8) uint8 {
	if i >= len(args) {
		return def
	}
	n, err := strconv.Atoi(args[i])
	if err != nil || n < 0 || n > 255 {
		return def
	}
	return uint8(n)
}

func printResponse(resp *types.CommandResponse) {
	if resp.Success {
		out, _ := json.Marshal(resp.Result)
		fmt.Printf("[%s] ok %s\n", resp.ID, out)
		return
	}
	fmt.Printf("[%s] error %d: %s\n", resp.ID, uint16(resp.ErrorCode), resp.ErrorMessage)
}

// drain prints everything pending on the event and response queues.
func drain(queues *queue.Manager) {
	for {
		ev := queues.RecvEvent(0)
		if ev == nil {
			break
		}
		out, _ := json.Marshal(ev.Data)
		fmt.Printf("event %s %s\n", ev.Kind, out)
	}
	for {
		resp := queues.RecvResponse(0)
		if resp == nil {
			break
		}
		printResponse(resp)
	}
}

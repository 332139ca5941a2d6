package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/shlex"

	"godcc/host/roster"
	"godcc/host/serial"
	"godcc/host/station"
)

var (
	device     = flag.String("device", "/dev/ttyACM0", "Serial device path")
	baud       = flag.Int("baud", 115200, "Baud rate (ignored for USB CDC)")
	trackPin   = flag.Uint("pin", 2, "Track output GPIO pin")
	rosterPath = flag.String("roster", "", "Locomotive roster YAML file")
	ackChannel = flag.Uint("ack-channel", 0, "ADC channel for CV write acknowledgement")
	ackLevel   = flag.Uint("ack-level", 600, "ADC threshold for acknowledgement pulses")
)

func main() {
	flag.Parse()

	fmt.Println("godcc cab - DCC command station throttle")

	var locos *roster.Roster
	if *rosterPath != "" {
		r, err := roster.Load(*rosterPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		locos = r
		fmt.Printf("Roster loaded: %d locomotives\n", len(locos.Names()))
	}

	st := station.New()
	cfg := serial.DefaultConfig(*device)
	cfg.Baud = *baud
	fmt.Printf("Connecting to station on %s...\n", *device)
	if err := st.ConnectWithConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if uptime, err := st.GetUptime(2 * time.Second); err == nil {
		fmt.Printf("Connected, station uptime %d µs\n", uptime)
	} else {
		fmt.Printf("Connected (uptime query failed: %v)\n", err)
	}

	if err := st.ConfigTrack(uint32(*trackPin)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to configure track pin %d: %v\n", *trackPin, err)
		os.Exit(1)
	}
	fmt.Printf("Track output on pin %d, sending Idle\n", *trackPin)

	fmt.Println("Enter commands ('help' for the list, 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		args, err := shlex.Split(scanner.Text())
		if err != nil {
			fmt.Printf("parse error: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}

		switch args[0] {
		case "quit", "exit", "q":
			fmt.Println("Goodbye!")
			return

		case "help", "?":
			printHelp()

		case "drive":
			runDrive(st, locos, args[1:])

		case "stop":
			if err := st.BroadcastStop(false); err != nil {
				fmt.Printf("error: %v\n", err)
			} else {
				fmt.Println("Broadcast stop sent")
			}

		case "estop":
			if err := st.BroadcastStop(true); err != nil {
				fmt.Printf("error: %v\n", err)
			} else {
				fmt.Println("EMERGENCY STOP sent")
			}

		case "idle":
			if err := st.SendIdle(); err != nil {
				fmt.Printf("error: %v\n", err)
			}

		case "reset":
			if err := st.SendReset(); err != nil {
				fmt.Printf("error: %v\n", err)
			}

		case "cv":
			runWriteCV(st, args[1:])

		case "roster":
			printRoster(locos)

		case "uptime":
			if uptime, err := st.GetUptime(2 * time.Second); err != nil {
				fmt.Printf("error: %v\n", err)
			} else {
				fmt.Printf("station uptime: %d µs\n", uptime)
			}

		default:
			fmt.Printf("unknown command %q (try 'help')\n", args[0])
		}
	}
}

// runDrive handles: drive <address|name> <speed> [forward|backward]
func runDrive(st *station.Station, locos *roster.Roster, args []string) {
	if len(args) < 2 {
		fmt.Println("usage: drive <address|name> <speed 0-28> [forward|backward]")
		return
	}

	var address uint8
	var entry *roster.Locomotive
	if n, err := strconv.ParseUint(args[0], 10, 8); err == nil {
		address = uint8(n)
	} else if locos != nil {
		loco, ok := locos.Lookup(args[0])
		if !ok {
			fmt.Printf("no locomotive %q in the roster\n", args[0])
			return
		}
		address = loco.Address
		entry = loco
	} else {
		fmt.Printf("invalid address %q and no roster loaded\n", args[0])
		return
	}

	n, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil || n > 28 {
		fmt.Println("speed must be 0-28")
		return
	}
	speed := uint8(n)
	if entry != nil {
		if clamped := entry.ClampSpeed(speed); clamped != speed {
			fmt.Printf("speed capped at %d for %s\n", clamped, entry.Name)
			speed = clamped
		}
	}

	dir := station.Forward
	if len(args) > 2 {
		switch args[2] {
		case "forward", "fwd", "f":
			dir = station.Forward
		case "backward", "back", "rev", "b", "r":
			dir = station.Backward
		default:
			fmt.Printf("unknown direction %q\n", args[2])
			return
		}
	}

	if err := st.Drive(address, dir, speed); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Printf("address %d: speed %d %s\n", address, speed, directionName(dir))
}

// runWriteCV handles: cv <number> <value>
func runWriteCV(st *station.Station, args []string) {
	if len(args) != 2 {
		fmt.Println("usage: cv <number 1-1024> <value 0-255>")
		return
	}
	cv, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil || cv < 1 || cv > 1024 {
		fmt.Println("CV number must be 1-1024")
		return
	}
	value, err := strconv.ParseUint(args[1], 0, 8)
	if err != nil {
		fmt.Println("value must be 0-255")
		return
	}

	fmt.Printf("Writing CV%d = %d (service mode)...\n", cv, value)
	acked, err := st.WriteCV(uint16(cv), byte(value), uint8(*ackChannel), uint16(*ackLevel))
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	if acked {
		fmt.Println("Decoder acknowledged the write")
	} else {
		fmt.Println("No acknowledgement (write may still have taken)")
	}
}

func printRoster(locos *roster.Roster) {
	if locos == nil {
		fmt.Println("no roster loaded (use -roster)")
		return
	}
	for _, name := range locos.Names() {
		loco, _ := locos.Lookup(name)
		line := fmt.Sprintf("  %-16s address %3d", loco.Name, loco.Address)
		if loco.MaxSpeed > 0 {
			line += fmt.Sprintf("  max speed %d", loco.MaxSpeed)
		}
		if loco.Notes != "" {
			line += "  (" + loco.Notes + ")"
		}
		fmt.Println(line)
	}
}

func directionName(dir station.Direction) string {
	if dir == station.Forward {
		return "forward"
	}
	return "backward"
}

func printHelp() {
	fmt.Println(`Commands:
  drive <address|name> <speed> [forward|backward]  set locomotive speed
  stop                                             broadcast stop (ramp down)
  estop                                            broadcast emergency stop
  idle                                             return track to Idle packets
  reset                                            broadcast decoder reset
  cv <number> <value>                              service-mode CV write
  roster                                           list known locomotives
  uptime                                           query station uptime
  quit                                             exit`)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/ec-fan-controller/db"
	"github.com/thatsimonsguy/ec-fan-controller/internal/apply"
	"github.com/thatsimonsguy/ec-fan-controller/internal/fanconfig"
	"github.com/thatsimonsguy/ec-fan-controller/internal/ipc"
)

const requestTimeout = 10 * time.Second

type options struct {
	addr       string
	configPath string
	dbPath     string
	command    string
	value      string
	fan        int
	curve      int
	step       int
	interval   time.Duration
	count      int
}

func main() {
	DebugCLI()
}

func DebugCLI() {
	var o options
	flag.StringVar(&o.addr, "addr", "127.0.0.1:2961", "Daemon listen address")
	flag.StringVar(&o.configPath, "config", "fanconfig.xml", "Path to a fan config document (.xml, .yaml)")
	flag.StringVar(&o.dbPath, "db", "/var/lib/ecfan/history.db", "Path to the history database")
	flag.StringVar(&o.command, "cmd", "", "Command to run (see -help)")
	flag.StringVar(&o.value, "value", "", "Value for set commands")
	flag.IntVar(&o.fan, "fan", 0, "Fan profile index")
	flag.IntVar(&o.curve, "curve", 0, "Curve index for edit commands")
	flag.IntVar(&o.step, "step", 0, "Threshold step for edit commands")
	flag.DurationVar(&o.interval, "interval", time.Second, "Poll interval")
	flag.IntVar(&o.count, "count", 0, "Number of polls (0 = until interrupted), or history rows")
	verbose := flag.Bool("v", false, "Debug logging")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).Level(level).With().Timestamp().Logger()

	if *help || o.command == "" {
		fmt.Println("\nUsage of ecfan-debug:")
		fmt.Println("  -cmd template\t\tWrite the built-in template to -config")
		fmt.Println("  -cmd validate\t\tValidate -config")
		fmt.Println("  -cmd plan\t\tList the register writes for -fan of -config")
		fmt.Println("  -cmd set-speed\tSet -fan/-curve/-step fan speed to -value in -config")
		fmt.Println("  -cmd set-up\t\tSet -fan/-curve/-step up threshold to -value in -config")
		fmt.Println("  -cmd set-down\t\tSet -fan/-curve/-step down threshold to -value in -config")
		fmt.Println("  -cmd select-curve\tSelect -curve for -fan in -config")
		fmt.Println("  -cmd apply\t\tSend -config to the daemon")
		fmt.Println("  -cmd chargelimit\tSet the charge limit to -value")
		fmt.Println("  -cmd perfmode\t\tSelect performance mode -value")
		fmt.Println("  -cmd keyswap\t\tSet key swap -value (on/off)")
		fmt.Println("  -cmd poll\t\tPrint telemetry for -fan every -interval")
		fmt.Println("  -cmd fullblast\tForce full blast while polling; reverted on exit")
		fmt.Println("  -cmd history\t\tPrint the last -count samples for -fan from -db")
		fmt.Println("  -help\t\t\tShow this help message")
		os.Exit(0)
	}

	if err := run(o); err != nil {
		fmt.Printf("Command %s failed: %v\n", o.command, err)
		os.Exit(1)
	}
}

func run(o options) error {
	switch o.command {
	case "template":
		if err := fanconfig.SaveFile(fanconfig.Template(), o.configPath); err != nil {
			return err
		}
		fmt.Printf("Template written to %s\n", o.configPath)
		return nil
	case "validate":
		cfg, err := fanconfig.LoadFile(o.configPath)
		if err != nil {
			return err
		}
		fmt.Printf("%s is valid: %s by %s, %d fans\n", o.configPath, cfg.Model, cfg.Author, len(cfg.FanProfiles))
		return nil
	case "plan":
		return printPlan(o)
	case "set-speed", "set-up", "set-down", "select-curve":
		return edit(o)
	case "apply":
		cfg, err := fanconfig.LoadFile(o.configPath)
		if err != nil {
			return err
		}
		doc, err := fanconfig.Save(cfg)
		if err != nil {
			return err
		}
		return oneShot(o.addr, ipc.ApplyConfig{Document: string(doc)})
	case "chargelimit":
		v, err := parseByte(o.value)
		if err != nil {
			return err
		}
		return oneShot(o.addr, ipc.SetChargeLimit{Value: v})
	case "perfmode":
		mode, err := strconv.Atoi(o.value)
		if err != nil {
			return fmt.Errorf("invalid performance mode %q", o.value)
		}
		return oneShot(o.addr, ipc.SetPerformanceMode{Mode: mode})
	case "keyswap":
		enabled, err := parseSwitch(o.value)
		if err != nil {
			return err
		}
		return oneShot(o.addr, ipc.SetKeySwap{Enabled: enabled})
	case "poll":
		return poll(o, false)
	case "fullblast":
		return poll(o, true)
	case "history":
		limit := o.count
		if limit <= 0 {
			limit = 20
		}
		return db.PrintHistoryCLI(o.dbPath, o.fan, limit, os.Stdout)
	default:
		return errors.New("invalid command")
	}
}

func printPlan(o options) error {
	cfg, err := fanconfig.LoadFile(o.configPath)
	if err != nil {
		return err
	}
	plan, err := apply.Plan(cfg, o.fan)
	if err != nil {
		return err
	}
	for _, w := range plan {
		fmt.Printf("0x%02X <- %3d  %s\n", w.Reg, w.Value, w.What)
	}
	return nil
}

// edit changes one field of the document at -config and writes it back. The
// result must still validate.
func edit(o options) error {
	cfg, err := fanconfig.LoadFile(o.configPath)
	if err != nil {
		return err
	}
	draft := cfg.Clone()

	switch o.command {
	case "select-curve":
		err = draft.SelectCurve(o.fan, o.curve)
	default:
		var v uint8
		if v, err = parseByte(o.value); err != nil {
			return err
		}
		switch o.command {
		case "set-speed":
			err = draft.SetFanSpeed(o.fan, o.curve, o.step, v)
		case "set-up":
			err = draft.SetUpThreshold(o.fan, o.curve, o.step, v)
		case "set-down":
			err = draft.SetDownThreshold(o.fan, o.curve, o.step, v)
		}
	}
	if err != nil {
		return err
	}
	if err := fanconfig.Validate(draft); err != nil {
		return err
	}
	if err := fanconfig.SaveFile(draft, o.configPath); err != nil {
		return err
	}
	fmt.Printf("Updated %s\n", o.configPath)
	return nil
}

func wsURL(addr string) string {
	return "ws://" + addr + "/ipc"
}

// oneShot sends cmd and prints the daemon's reply.
func oneShot(addr string, cmd ipc.Command) error {
	responses := make(chan ipc.Response, 1)
	client := ipc.NewClient(ipc.ClientConfig{
		URL: wsURL(addr),
		OnResponse: func(r ipc.Response) {
			select {
			case responses <- r:
			default:
			}
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	client.Start(ctx)
	defer client.Close()

	if err := client.Send(cmd); err != nil {
		return err
	}

	select {
	case resp := <-responses:
		if f, ok := resp.(ipc.Failure); ok {
			return errors.New(f.Error)
		}
		fmt.Printf("Command %s completed successfully\n", cmd.CommandKind())
		return nil
	case <-ctx.Done():
		return fmt.Errorf("no response from daemon at %s", addr)
	}
}

// poll prints telemetry until interrupted or -count polls. With fullBlast it
// holds full blast on for the session and turns it off before closing.
func poll(o options, fullBlast bool) error {
	monitor := ipc.NewMonitor()
	client := ipc.NewClient(ipc.ClientConfig{
		URL:        wsURL(o.addr),
		OnResponse: monitor.Handle,
		OnState: func(s ipc.State) {
			fmt.Printf("-- %s\n", s)
		},
	})

	// The client outlives the signal context so Close can still flush.
	client.Start(context.Background())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if fullBlast {
		if err := client.Send(ipc.SetFullBlast{Enabled: true}); err != nil {
			client.Close()
			return err
		}
	}

	poller := ipc.NewPoller(client, o.fan, o.interval)
	poller.Start()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for n := 0; o.count == 0 || n < o.count; n++ {
		select {
		case <-ctx.Done():
		case <-ticker.C:
			if t, ok := monitor.Snapshot(o.fan); ok {
				fmt.Println(t)
			}
			if f, ok := monitor.LastFailure(); ok {
				fmt.Printf("daemon: %s failed: %s\n", f.Command, f.Error)
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	poller.Stop()
	if fullBlast {
		// Close flushes the queue, so the revert reaches the daemon first.
		_ = client.Send(ipc.SetFullBlast{Enabled: false})
	}
	client.Close()
	return nil
}

func parseByte(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("value %q must be 0-255", s)
	}
	return uint8(v), nil
}

func parseSwitch(s string) (bool, error) {
	switch s {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("value %q must be on or off", s)
}

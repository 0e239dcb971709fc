package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"github.com/itohio/pumpctl/pkg/config"
)

func main() {
	var (
		portFlag     = flag.String("p", "", "Serial port override (e.g., COM23 or /dev/ttyUSB0)")
		baudFlag     = flag.Int("baud", 0, "Baud rate override")
		configFlag   = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag     = flag.Bool("mock", false, "Use simulated controller instead of serial port")
		headlessFlag = flag.Bool("headless", false, "Run without a window, logging to stderr")
		autoFlag     = flag.Bool("auto", false, "Start in Auto mode (headless only)")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *baudFlag > 0 {
		cfg.Serial.BaudRate = *baudFlag
	}

	log, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log configuration: %v\n", err)
		os.Exit(1)
	}

	if *headlessFlag {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err := runHeadless(ctx, cfg, *mockFlag, *autoFlag, log)
		stop()
		if err != nil {
			log.Error().Err(err).Msg("stopped")
			os.Exit(1)
		}
		return
	}

	application := app.NewWithID("com.itohio.pumpctl")

	window := application.NewWindow("Pump Controller")
	window.Resize(fyne.NewSize(1100, 750))
	window.CenterOnScreen()

	state := newAppState(cfg, *configFlag, window, *mockFlag, log)
	window.SetContent(state.build())
	window.SetOnClosed(state.disconnect)
	window.ShowAndRun()
}

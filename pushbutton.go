package main

import (
	"context"
	"flag"
	"strconv"
	"time"
)

// Push-button counter wiring: SPST momentary switch to VCC with a 10K
// pull-down, so a press drives the input high.
const buttonPin = 5

// defaultDebounceMS filters out switch contact bounce.
const defaultDebounceMS = 200

// runPushButton counts rising edges on the button input and publishes the
// running total.  The document is also refreshed every publish interval so
// its timestamp reflects liveness, not just the last press.
func runPushButton(ctx context.Context, env *agentEnv) error {
	fs := flag.NewFlagSet("pushbutton", flag.ContinueOnError)
	debounceMS := fs.Float64("b", defaultDebounceMS, "debounce time in milliseconds")
	if err := fs.Parse(env.spec.DefaultArgs); err != nil {
		return err
	}
	debounce := time.Duration(*debounceMS * float64(time.Millisecond))
	if debounce < 0 {
		debounce = -debounce
	}

	count := 0
	publish := func() {
		doc := ButtonDocument{Time: timeStamp(), Count: strconv.Itoa(count)}
		if err := env.pub.Publish(doc); err != nil {
			env.log.Warnw("publishing", "error", err)
		}
	}
	publish()

	// The input is sampled rather than interrupt-driven; 10 ms resolution
	// is far below human press speed and well under the debounce window.
	scan := time.NewTicker(10 * time.Millisecond)
	defer scan.Stop()
	refresh := time.NewTicker(env.spec.Interval)
	defer refresh.Stop()

	prev := readPin(buttonPin)
	var lastEdge time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-scan.C:
			level := readPin(buttonPin)
			if level && !prev && time.Since(lastEdge) >= debounce {
				lastEdge = time.Now()
				count++
				env.log.Debugw("button press", "count", count)
				publish()
			}
			prev = level
		case <-refresh.C:
			publish()
		}
	}
}

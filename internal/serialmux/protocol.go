package serialmux

import (
	"fmt"
	"strings"

	"github.com/banshee-data/exit.guide/internal/guide/l4signal"
)

// Controller line protocol. Commands are newline-terminated ASCII:
//
//	INIT <n>           host → controller, number of indicators
//	DOT <id> <DIR>     host → controller, DIR is UP/DOWN/LEFT/RIGHT/STOP
//	HAZARD <0|1>       host → controller, fire alarm lamp
//	LOCK <0|1>         host → controller, wall lock lamp
//	BTN LOCK           controller → host, lock button pressed
//	PING               controller → host, keepalive
const (
	EventButtonLock = "button_lock"
	EventPing       = "ping"
	EventUnknown    = "unknown"
)

// ClassifyLine returns the event type of a line read from the controller.
func ClassifyLine(line string) string {
	fields := strings.Fields(strings.ToUpper(line))
	switch {
	case len(fields) == 2 && fields[0] == "BTN" && fields[1] == "LOCK":
		return EventButtonLock
	case len(fields) == 1 && fields[0] == "PING":
		return EventPing
	default:
		return EventUnknown
	}
}

func InitCommand(points int) string { return fmt.Sprintf("INIT %d", points) }

func DotCommand(id int, d l4signal.Direction) string {
	return fmt.Sprintf("DOT %d %s", id, d)
}

func HazardCommand(on bool) string { return "HAZARD " + flag(on) }

func LockCommand(on bool) string { return "LOCK " + flag(on) }

func flag(on bool) string {
	if on {
		return "1"
	}
	return "0"
}

// Command simbridge-trace views protocol trace files.
//
// Trace files are written by simbridge-relay when started with the
// -trace flag (or SIMBRIDGE_TRACE_FILE). Each record is a CBOR-encoded
// event covering a session lifecycle change, a relayed frame, or a
// queue interaction.
//
// Usage:
//
//	simbridge-trace [flags] <file.strace>
//
// Flags:
//
//	-conn string      Filter by session id
//	-device int       Filter by device id
//	-dir string       Filter by direction: in, out
//	-category string  Filter by category: frame, session, queue
//	-since string     Only events at or after this RFC 3339 time
//	-until string     Only events before this RFC 3339 time
//	-json             Emit events as JSON lines instead of text
//
// Examples:
//
//	# View everything
//	simbridge-trace relay.strace
//
//	# Frames sent to device 3 since a point in time
//	simbridge-trace -device 3 -dir out -since 2026-08-26T00:00:00Z relay.strace
//
//	# Queue activity as JSONL
//	simbridge-trace -category queue -json relay.strace
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/simbridge-dev/simbridge-go/pkg/tracelog"
)

var (
	connID    string
	deviceID  int64
	dirName   string
	catName   string
	sinceStr  string
	untilStr  string
	jsonLines bool
)

func init() {
	flag.StringVar(&connID, "conn", "", "Filter by session id")
	flag.Int64Var(&deviceID, "device", 0, "Filter by device id")
	flag.StringVar(&dirName, "dir", "", "Filter by direction: in, out")
	flag.StringVar(&catName, "category", "", "Filter by category: frame, session, queue")
	flag.StringVar(&sinceStr, "since", "", "Only events at or after this RFC 3339 time")
	flag.StringVar(&untilStr, "until", "", "Only events before this RFC 3339 time")
	flag.BoolVar(&jsonLines, "json", false, "Emit events as JSON lines instead of text")
}

func main() {
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: simbridge-trace [flags] <file.strace>")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := run(flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "simbridge-trace: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	filter, err := buildFilter()
	if err != nil {
		return err
	}

	r, err := tracelog.NewFilteredReader(path, filter)
	if err != nil {
		return err
	}
	defer r.Close()

	var count int
	for {
		event, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read event %d: %w", count+1, err)
		}
		count++

		if jsonLines {
			if err := printJSON(event); err != nil {
				return err
			}
		} else {
			printText(event)
		}
	}

	if !jsonLines {
		fmt.Printf("\n%d events\n", count)
	}
	return nil
}

func buildFilter() (tracelog.Filter, error) {
	filter := tracelog.Filter{
		ConnectionID: connID,
		DeviceID:     deviceID,
	}

	switch dirName {
	case "":
	case "in":
		d := tracelog.DirectionIn
		filter.Direction = &d
	case "out":
		d := tracelog.DirectionOut
		filter.Direction = &d
	default:
		return tracelog.Filter{}, fmt.Errorf("unknown direction %q (want in or out)", dirName)
	}

	switch catName {
	case "":
	case "frame":
		c := tracelog.CategoryFrame
		filter.Category = &c
	case "session":
		c := tracelog.CategorySession
		filter.Category = &c
	case "queue":
		c := tracelog.CategoryQueue
		filter.Category = &c
	default:
		return tracelog.Filter{}, fmt.Errorf("unknown category %q (want frame, session, or queue)", catName)
	}

	if sinceStr != "" {
		t, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			return tracelog.Filter{}, fmt.Errorf("bad -since time: %w", err)
		}
		filter.TimeStart = &t
	}
	if untilStr != "" {
		t, err := time.Parse(time.RFC3339, untilStr)
		if err != nil {
			return tracelog.Filter{}, fmt.Errorf("bad -until time: %w", err)
		}
		filter.TimeEnd = &t
	}

	return filter, nil
}

func printText(e tracelog.Event) {
	fmt.Printf("%s  %-7s %-3s", e.Timestamp.Format("15:04:05.000000"), e.Category, e.Direction)
	if e.ConnectionID != "" {
		fmt.Printf("  conn=%s", shortID(e.ConnectionID))
	}
	if e.DeviceID != 0 {
		fmt.Printf("  device=%d", e.DeviceID)
	}
	if e.Kind != "" {
		fmt.Printf("  kind=%s", e.Kind)
	}
	if e.ReqID != "" {
		fmt.Printf("  req=%s", shortID(e.ReqID))
	}
	if e.Detail != "" {
		fmt.Printf("  %s", e.Detail)
	}
	if len(e.Payload) > 0 {
		fmt.Printf("  %s", truncate(string(e.Payload), 120))
	}
	fmt.Println()
}

// jsonEvent is the JSON shape of a trace event, with enums as names
// and the payload inlined when it is valid JSON.
type jsonEvent struct {
	Timestamp    time.Time       `json:"ts"`
	ConnectionID string          `json:"conn,omitempty"`
	DeviceID     int64           `json:"device,omitempty"`
	Direction    string          `json:"dir"`
	Category     string          `json:"category"`
	Kind         string          `json:"kind,omitempty"`
	ReqID        string          `json:"req_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Detail       string          `json:"detail,omitempty"`
}

func printJSON(e tracelog.Event) error {
	out := jsonEvent{
		Timestamp:    e.Timestamp,
		ConnectionID: e.ConnectionID,
		DeviceID:     e.DeviceID,
		Direction:    e.Direction.String(),
		Category:     e.Category.String(),
		Kind:         e.Kind,
		ReqID:        e.ReqID,
		Detail:       e.Detail,
	}
	if json.Valid(e.Payload) {
		out.Payload = e.Payload
	}

	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// Package protocol encodes and decodes the caret-delimited messages
// exchanged over the pub/sub channels.
//
// Inbound:
//
//	clear
//	draw^<imagePath>^<text>^<mode>^<color>^<shadow>^<grid 0|1>
//
// Outbound:
//
//	result^<op>^<code>[^<detail>]
//	busy^updated
package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"epdpi/internal/compose"
	"epdpi/internal/layout"
	"epdpi/internal/palette"
)

// Sep separates fields in every message.
const Sep = "^"

// Message tags.
const (
	TagClear   = "clear"
	TagDraw    = "draw"
	TagResult  = "result"
	TagBusy    = "busy"
	TagUpdated = "updated"
)

// Op is the operation a command or result refers to.
type Op string

const (
	OpClear Op = TagClear
	OpDraw  Op = TagDraw
)

// Code is the numeric outcome published in a result.
type Code int

const (
	Success        Code = 0
	InvalidMachine Code = -1
	Busy           Code = -2
	Exception      Code = -3
)

func (c Code) String() string {
	switch c {
	case Success:
		return "SUCCESS"
	case InvalidMachine:
		return "INVALID_MACHINE"
	case Busy:
		return "BUSY"
	case Exception:
		return "EXCEPTION"
	default:
		return "Code(" + strconv.Itoa(int(c)) + ")"
	}
}

// Detail strings sent with policy rejections.
const (
	DetailInvalidMachine = "Invalid machine."
	DetailBusy           = "E-Paper display is busy."
)

// Command is a decoded inbound message. Draw is only set for OpDraw.
type Command struct {
	Op   Op
	Draw compose.Request
}

// DecodeError describes a malformed inbound message. Op is set when the
// operation tag was recognized, so the caller can still answer with a result.
type DecodeError struct {
	Op     Op
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Op == "" {
		return "protocol: " + e.Reason
	}
	return fmt.Sprintf("protocol: invalid %s command: %s", e.Op, e.Reason)
}

const drawFields = 7

// Decode parses an inbound payload.
func Decode(payload string) (Command, error) {
	fields := strings.Split(payload, Sep)

	switch fields[0] {
	case TagClear:
		if len(fields) != 1 {
			return Command{}, &DecodeError{Op: OpClear, Reason: fmt.Sprintf("expected no arguments, got %d", len(fields)-1)}
		}
		return Command{Op: OpClear}, nil

	case TagDraw:
		req, err := decodeDraw(fields)
		if err != nil {
			return Command{}, err
		}
		return Command{Op: OpDraw, Draw: req}, nil

	default:
		return Command{}, &DecodeError{Reason: fmt.Sprintf("unknown operation %q", fields[0])}
	}
}

func decodeDraw(fields []string) (compose.Request, error) {
	fail := func(format string, args ...any) (compose.Request, error) {
		return compose.Request{}, &DecodeError{Op: OpDraw, Reason: fmt.Sprintf(format, args...)}
	}

	if len(fields) != drawFields {
		return fail("expected %d fields, got %d", drawFields, len(fields))
	}

	mode, err := strconv.Atoi(fields[3])
	if err != nil {
		return fail("mode %q is not an integer", fields[3])
	}
	if !layout.Mode(mode).Valid() {
		return fail("mode %d out of range", mode)
	}

	fg, err := decodeColor("color", fields[4])
	if err != nil {
		return fail("%v", err)
	}
	shadow, err := decodeColor("shadow", fields[5])
	if err != nil {
		return fail("%v", err)
	}

	var grid bool
	switch fields[6] {
	case "1":
		grid = true
	case "0":
	default:
		return fail("grid flag %q must be 0 or 1", fields[6])
	}

	return compose.Request{
		ImagePath: fields[1],
		Text:      fields[2],
		Mode:      layout.Mode(mode),
		Color:     fg,
		Shadow:    shadow,
		Grid:      grid,
	}, nil
}

func decodeColor(name, s string) (palette.Color, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s %q is not an integer", name, s)
	}
	c := palette.Color(n)
	if !c.Valid() {
		return 0, fmt.Errorf("%s %d out of range", name, n)
	}
	return c, nil
}

// EncodeDraw renders req as an inbound draw message. It is the inverse of
// Decode for draw commands and is used by the local clock and tests.
func EncodeDraw(req compose.Request) string {
	grid := "0"
	if req.Grid {
		grid = "1"
	}
	return strings.Join([]string{
		TagDraw,
		req.ImagePath,
		req.Text,
		strconv.Itoa(int(req.Mode)),
		strconv.Itoa(int(req.Color)),
		strconv.Itoa(int(req.Shadow)),
		grid,
	}, Sep)
}

// Result is the outcome of one command.
type Result struct {
	Op     Op
	Code   Code
	Detail string
}

// Encode renders r as result^<op>^<code>[^<detail>].
func (r Result) Encode() string {
	s := TagResult + Sep + string(r.Op) + Sep + strconv.Itoa(int(r.Code))
	if r.Detail != "" {
		s += Sep + r.Detail
	}
	return s
}

// BusyUpdated is published whenever the busy flag is written.
func BusyUpdated() string {
	return TagBusy + Sep + TagUpdated
}

// WithID prefixes an outbound message with the device ID, if one is set.
func WithID(id, msg string) string {
	if id == "" {
		return msg
	}
	return id + Sep + msg
}

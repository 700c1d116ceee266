// Package mcp drives a persistent JSON-RPC session against the remote tool
// server over a server-initiated event stream: handshake, capability
// negotiation, tool listing and tool invocation with request/response
// correlation.
package mcp

import (
	"bytes"
	"strings"
)

// Frame is one parsed stream event.
type Frame struct {
	Event string
	Data  string
}

// FrameAssembler turns raw stream chunks into complete frames, carrying
// partial lines and partial frames across Feed calls so the read loop can
// hand it whatever the transport delivers.
type FrameAssembler struct {
	buf   bytes.Buffer
	event string
	data  []string
}

// Feed appends a chunk and returns every frame completed by it.
func (a *FrameAssembler) Feed(p []byte) []Frame {
	a.buf.Write(p)

	var frames []Frame
	for {
		raw := a.buf.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(raw[:idx]), "\r")
		a.buf.Next(idx + 1)

		// Blank line terminates the current frame.
		if line == "" {
			if a.event != "" || len(a.data) > 0 {
				frames = append(frames, Frame{Event: a.event, Data: strings.Join(a.data, "\n")})
				a.event = ""
				a.data = nil
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			a.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			a.data = append(a.data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		// Comments (":" prefix) and unknown fields are ignored.
	}
	return frames
}

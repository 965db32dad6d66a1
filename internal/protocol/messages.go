package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/tanq16/mydm/internal/types"
)

type CommandName string

const (
	CommandDownload CommandName = "download"
	CommandPause    CommandName = "pause"
	CommandResume   CommandName = "resume"
	CommandCancel   CommandName = "cancel"
	CommandRemove   CommandName = "remove"
)

// Command is one inbound message. The implementations below are the whole
// set; DecodeCommand never returns anything else.
type Command interface {
	Name() CommandName
}

type DownloadCommand struct {
	URL     string
	Referer string
}

// JobCommand covers every command that addresses an existing job by id.
type JobCommand struct {
	Command CommandName
	ID      string
}

func (DownloadCommand) Name() CommandName { return CommandDownload }
func (c JobCommand) Name() CommandName    { return c.Command }

type downloadWire struct {
	Command string  `json:"command"`
	URL     *string `json:"url"`
	Referer *string `json:"referer"`
}

type jobWire struct {
	Command string  `json:"command"`
	ID      *string `json:"id"`
}

// DecodeCommand validates a frame strictly: unknown commands, unknown fields
// and missing required fields are protocol errors.
func DecodeCommand(frame []byte) (Command, error) {
	var head struct {
		Command *string `json:"command"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return nil, &types.ProtocolError{Reason: "malformed JSON", Err: err}
	}
	if head.Command == nil {
		return nil, &types.ProtocolError{Reason: `missing "command"`}
	}

	switch name := CommandName(*head.Command); name {
	case CommandDownload:
		var wire downloadWire
		if err := decodeStrict(frame, &wire); err != nil {
			return nil, err
		}
		if wire.URL == nil || *wire.URL == "" {
			return nil, &types.ProtocolError{Reason: `download requires "url"`}
		}
		cmd := DownloadCommand{URL: *wire.URL}
		if wire.Referer != nil {
			cmd.Referer = *wire.Referer
		}
		return cmd, nil
	case CommandPause, CommandResume, CommandCancel, CommandRemove:
		var wire jobWire
		if err := decodeStrict(frame, &wire); err != nil {
			return nil, err
		}
		if wire.ID == nil || *wire.ID == "" {
			return nil, &types.ProtocolError{Reason: fmt.Sprintf(`%s requires "id"`, name)}
		}
		return JobCommand{Command: name, ID: *wire.ID}, nil
	default:
		return nil, &types.ProtocolError{Reason: fmt.Sprintf("unknown command %q", name)}
	}
}

func decodeStrict(frame []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(frame))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &types.ProtocolError{Reason: "invalid command", Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return &types.ProtocolError{Reason: "trailing data after command"}
	}
	return nil
}

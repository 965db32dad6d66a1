package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/tanq16/mydm/internal/types"
	"github.com/tanq16/mydm/internal/utils"
)

// Dispatcher is the engine surface the host drives.
type Dispatcher interface {
	Download(url, referer string) (string, error)
	Pause(id string) error
	Resume(id string) error
	Cancel(id string) error
	Remove(id string) error
}

// Sender encodes events onto the outbound frame stream. It is safe for
// concurrent use by every job.
type Sender struct {
	fw  *FrameWriter
	log zerolog.Logger
}

func NewSender(w io.Writer) *Sender {
	return &Sender{fw: NewFrameWriter(w), log: utils.GetLogger("protocol/sender")}
}

func (s *Sender) Emit(ev types.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("error encoding %s event: %w", ev.Kind(), err)
	}
	if err := s.fw.WriteFrame(payload); err != nil {
		return err
	}
	s.log.Debug().Str("event", string(ev.Kind())).Str("job", ev.JobID()).Msg("Event sent")
	return nil
}

type frameResult struct {
	frame []byte
	err   error
}

// Host reads commands from the browser and hands them to the engine. It
// never blocks on transfer work: every engine call only queues.
type Host struct {
	reader *FrameReader
	sender *Sender
	engine Dispatcher
	log    zerolog.Logger
}

func NewHost(in io.Reader, sender *Sender, engine Dispatcher, maxFrameSize int) *Host {
	return &Host{
		reader: NewFrameReader(in, maxFrameSize),
		sender: sender,
		engine: engine,
		log:    utils.GetLogger("protocol/host"),
	}
}

// Run dispatches commands until the inbound stream ends. A clean EOF returns
// nil. A protocol error is reported to the browser as a global error event
// and returned; the caller is expected to exit.
func (h *Host) Run(ctx context.Context) error {
	frames := make(chan frameResult)
	go func() {
		for {
			frame, err := h.reader.ReadFrame()
			select {
			case frames <- frameResult{frame: frame, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	h.log.Info().Msg("Host listening for commands")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-frames:
			if errors.Is(res.err, io.EOF) {
				h.log.Info().Msg("Inbound stream closed")
				return nil
			}
			if res.err != nil {
				return h.fatal(res.err)
			}
			cmd, err := DecodeCommand(res.frame)
			if err != nil {
				return h.fatal(err)
			}
			h.dispatch(cmd)
		}
	}
}

func (h *Host) dispatch(cmd Command) {
	switch c := cmd.(type) {
	case DownloadCommand:
		id, err := h.engine.Download(c.URL, c.Referer)
		if err != nil {
			h.log.Error().Err(err).Str("url", c.URL).Msg("Download rejected")
			h.emit(types.NewError("", err))
			return
		}
		h.log.Debug().Str("job", id).Str("url", c.URL).Msg("Download dispatched")
	case JobCommand:
		var err error
		switch c.Command {
		case CommandPause:
			err = h.engine.Pause(c.ID)
		case CommandResume:
			err = h.engine.Resume(c.ID)
		case CommandCancel:
			err = h.engine.Cancel(c.ID)
		case CommandRemove:
			err = h.engine.Remove(c.ID)
		}
		// the engine reports unknown ids to the browser itself
		if err != nil {
			h.log.Debug().Err(err).Str("command", string(c.Command)).Str("job", c.ID).Msg("Command not applied")
		}
	}
}

func (h *Host) fatal(err error) error {
	h.log.Error().Err(err).Msg("Protocol failure, closing channel")
	h.emit(types.NewError("", err))
	return err
}

func (h *Host) emit(ev types.Event) {
	if err := h.sender.Emit(ev); err != nil {
		h.log.Error().Err(err).Msg("Could not send event")
	}
}

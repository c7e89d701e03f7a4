package provider

import (
	"github.com/mattjoyce/promptq/internal/protocol"
)

// Claude drives the claude CLI in non-interactive stream-json mode.
type Claude struct {
	name   string
	binary string
	model  string
	extra  []string
	env    []string
}

func (c *Claude) Name() string { return c.name }

func (c *Claude) BuildCommand(prompt string, opts BuildOptions) (Command, error) {
	args := []string{"-p", prompt, "--output-format", "stream-json", "--verbose"}
	if opts.PermissionMode != "" {
		args = append(args, "--permission-mode", opts.PermissionMode)
	}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}
	args = append(args, c.extra...)
	return Command{Binary: c.binary, Args: args, Env: c.env}, nil
}

func (c *Claude) ParseEvent(line string) (Event, bool) {
	msg, err := protocol.DecodeLine([]byte(line))
	if err != nil {
		return Event{}, false
	}

	switch msg.Type {
	case protocol.TypeSystem:
		if msg.Subtype == "init" && msg.Model != "" {
			return Event{Model: msg.Model}, true
		}
	case protocol.TypeAssistant:
		if msg.Message == nil {
			return Event{}, false
		}
		ev := Event{Text: msg.Message.Text(), Model: msg.Message.Model}
		if ev.Text != "" || ev.Model != "" {
			return ev, true
		}
	case protocol.TypeStreamEvent:
		switch {
		case msg.Event == nil:
		case msg.Event.Type == protocol.EventMessageStart:
			return Event{NewMessage: true}, true
		case msg.Event.StartsTextBlock():
			return Event{NewBlock: true}, true
		default:
			if d := msg.Event.DeltaText(); d != "" {
				return Event{Delta: d}, true
			}
		}
	case protocol.TypeResult:
		if msg.IsError {
			errText := msg.Result
			if errText == "" {
				errText = msg.Subtype
			}
			if errText == "" {
				return Event{}, false
			}
			return Event{Error: errText}, true
		}
		if msg.Result != "" {
			return Event{Text: msg.Result, Final: true}, true
		}
	}
	return Event{}, false
}

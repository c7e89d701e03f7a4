package provider

import "strings"

const (
	placeholderPrompt     = "{prompt}"
	placeholderCwd        = "{cwd}"
	placeholderPermission = "{permission_mode}"
)

// CommandAdapter runs an arbitrary CLI that prints plain text. Every line,
// blank ones included, is treated as new output.
type CommandAdapter struct {
	name   string
	binary string
	args   []string
	model  string
	env    []string
}

func (c *CommandAdapter) Name() string { return c.name }

func (c *CommandAdapter) BuildCommand(prompt string, opts BuildOptions) (Command, error) {
	r := strings.NewReplacer(
		placeholderPrompt, prompt,
		placeholderCwd, opts.WorkingDir,
		placeholderPermission, opts.PermissionMode,
	)
	args := make([]string, 0, len(c.args)+1)
	usesPrompt := false
	for _, a := range c.args {
		if strings.Contains(a, placeholderPrompt) {
			usesPrompt = true
		}
		args = append(args, r.Replace(a))
	}
	if !usesPrompt {
		args = append(args, prompt)
	}
	return Command{Binary: c.binary, Args: args, Env: c.env}, nil
}

func (c *CommandAdapter) ParseEvent(line string) (Event, bool) {
	return Event{Delta: line + "\n", Model: c.model}, true
}

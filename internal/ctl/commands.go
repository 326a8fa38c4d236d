package ctl

import (
	"bufio"
	"fmt"
	"slices"
	"strings"

	"github.com/large-farva/operator-console/internal/api"
	"github.com/large-farva/operator-console/internal/logs"
	"github.com/large-farva/operator-console/internal/operator"
)

// CommandOptions controls the command, start and brake commands.
type CommandOptions struct {
	RaiseOnError bool
	Yes          bool // skip confirmation prompts
	JSON         bool
}

// Command sends one raw CLI line to the robot and prints the reply.
func Command(baseURL, command string, opts CommandOptions) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return fmt.Errorf("command text required")
	}
	return send(baseURL, command, opts)
}

// Start sends START, or START <task> when a task id is given.
func Start(baseURL, task string, opts CommandOptions) error {
	command := "START"
	if task = strings.TrimSpace(task); task != "" {
		command += " " + task
	}
	return send(baseURL, command, opts)
}

// Brake asks for confirmation, then sends BRAKE.
func Brake(baseURL string, opts CommandOptions) error {
	if !opts.Yes {
		ok, err := confirmPrompt(operator.BrakeTitle, operator.BrakeMessage)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(stdout, colorize(dim, "  cancelled"))
			return nil
		}
	}
	return send(baseURL, "BRAKE", opts)
}

func send(baseURL, command string, opts CommandOptions) error {
	ctx, cancel := requestContext()
	defer cancel()

	res, err := newClient(baseURL).Command(ctx, command, opts.RaiseOnError)
	if err != nil {
		if opts.JSON {
			return printJSON(map[string]any{"command": command, "error": err.Error(), "http_status": api.StatusOf(err)})
		}
		return err
	}
	if opts.JSON {
		return printJSON(res)
	}
	printResult(res)
	return nil
}

// printResult shows the firmware reply lines and the parsed key=value data.
func printResult(res *api.CommandResult) {
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "  %s %s\n", colorize(cyan, ">"), colorize(bold, res.Command))
	for _, line := range res.Raw {
		color := white
		switch {
		case strings.HasPrefix(line, "OK"):
			color = green
		case strings.HasPrefix(line, "ERR"):
			color = red
		}
		fmt.Fprintf(stdout, "    %s\n", colorize(color, line))
	}
	if len(res.Data) > 0 {
		keys := make([]string, 0, len(res.Data))
		for k := range res.Data {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		fmt.Fprintln(stdout)
		for _, k := range keys {
			fmt.Fprintf(stdout, "    %s %s\n", colorize(dim, padRight(k, 16)), logs.ValueText(res.Data[k]))
		}
	}
	fmt.Fprintln(stdout)
}

// confirmPrompt asks a yes/no question on the terminal. Anything but y or
// yes declines.
func confirmPrompt(title, message string) (bool, error) {
	fmt.Fprintf(stdout, "\n  %s\n  %s [y/N] ", colorize(yellow, header(title)), message)
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(stdout)
		return false, nil
	}
	return isYes(line), nil
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

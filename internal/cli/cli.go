// Package cli parses healthmate command-line arguments.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandAssistant Command = "assistant"
	CommandMic       Command = "mic"
	CommandStop      Command = "stop"
	CommandStatus    Command = "status"
	CommandLanguage  Command = "language"
	CommandAsk       Command = "ask"
	CommandAction    Command = "action"
	CommandReplay    Command = "replay"
	CommandTextOpen  Command = "text-open"
	CommandTextClose Command = "text-close"
	CommandQuit      Command = "quit"
	CommandQuery     Command = "query"
	CommandDevices   Command = "devices"
	CommandDoctor    Command = "doctor"
	CommandVersion   Command = "version"
	CommandHelp      Command = "help"
)

// arity is the accepted positional argument count; -1 means one or more.
var arity = map[Command]int{
	CommandAssistant: 0,
	CommandMic:       0,
	CommandStop:      0,
	CommandStatus:    0,
	CommandLanguage:  1,
	CommandAsk:       -1,
	CommandAction:    1,
	CommandReplay:    0,
	CommandTextOpen:  0,
	CommandTextClose: 0,
	CommandQuit:      0,
	CommandQuery:     -1,
	CommandDevices:   0,
	CommandDoctor:    0,
	CommandVersion:   0,
	CommandHelp:      0,
}

type Parsed struct {
	Command    Command
	Args       []string
	ConfigPath string
	ShowHelp   bool
}

// Forwarded reports whether the command is sent to a running assistant over IPC.
func (c Command) Forwarded() bool {
	switch c {
	case CommandMic, CommandStop, CommandStatus, CommandLanguage, CommandAsk, CommandAction,
		CommandReplay, CommandTextOpen, CommandTextClose, CommandQuit:
		return true
	default:
		return false
	}
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			want, ok := arity[cmd]
			if !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			rest := args[i+1:]
			switch {
			case want == -1 && len(rest) == 0:
				return Parsed{}, fmt.Errorf("command %q requires text", arg)
			case want >= 0 && len(rest) < want:
				return Parsed{}, fmt.Errorf("command %q requires %d argument(s)", arg, want)
			case want >= 0 && len(rest) > want:
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}

			parsed.Command = cmd
			parsed.Args = append([]string(nil), rest...)
			parsed.ShowHelp = cmd == CommandHelp
			return parsed, nil
		}
	}

	return parsed, nil
}

// Text joins free-form arguments for ask and query.
func (p Parsed) Text() string {
	return strings.Join(p.Args, " ")
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command> [args]

Assistant:
  assistant        Run the voice assistant in the foreground
  mic              Start listening
  stop             Stop listening and answer what was heard
  status           Print the current session state
  language TAG     Switch language (en-US, hi-IN, es-ES)
  ask TEXT...      Ask a typed question and print the answer
  action ID        Select a suggested action from the last answer
  replay           Speak the last answer again
  text-open        Open the typed-question fallback
  text-close       Close the typed-question fallback
  quit             Close the running assistant

Tools:
  query TEXT...    Answer one question without a running assistant
  devices          List available input devices
  doctor           Run configuration and environment checks
  version          Print version information
  help             Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/healthmate/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}

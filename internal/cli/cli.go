package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandScan    Command = "scan"
	CommandStop    Command = "stop"
	CommandStatus  Command = "status"
	CommandDevices Command = "devices"
	CommandHistory Command = "history"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandScan:    {},
	CommandStop:    {},
	CommandStatus:  {},
	CommandDevices: {},
	CommandHistory: {},
	CommandDoctor:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

type Parsed struct {
	Command    Command
	ConfigPath string
	ShowHelp   bool
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
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			if i != len(args)-1 {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command>

Commands:
  scan      Start the scanner daemon and report decoded barcodes
  stop      Stop a running scanner daemon
  status    Print setup and run state of a running daemon
  devices   List available camera devices
  history   Print recently scanned barcodes
  doctor    Run configuration and environment checks
  version   Print version information
  help      Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/scancam/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}

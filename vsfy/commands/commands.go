package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"vsfy/vsfy/client"
	"vsfy/vsfy/transfer"
)

type Kind int

const (
	Help Kind = iota
	List
	Request
	Info
	Exit
	Invalid
)

func (k Kind) String() string {
	switch k {
	case Help:
		return "help"
	case List:
		return "list"
	case Request:
		return "request"
	case Info:
		return "info"
	case Exit:
		return "exit"
	default:
		return "invalid"
	}
}

// Parse maps the first word of input to a command kind, ignoring case.
func Parse(input string) Kind {
	kind, _ := ParseLine(input)
	return kind
}

// ParseLine splits input into a command kind and its argument, which is the
// rest of the line with surrounding spaces removed.
func ParseLine(input string) (Kind, string) {
	word, arg, _ := strings.Cut(strings.TrimSpace(input), " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(word) {
	case "help":
		return Help, arg
	case "list":
		return List, arg
	case "request":
		return Request, arg
	case "info":
		return Info, arg
	case "exit", "quit":
		return Exit, arg
	default:
		return Invalid, arg
	}
}

// Directory is what the shell needs from a connected client.
type Directory interface {
	RequestList(ctx context.Context) iter.Seq2[string, error]
	RequestInfo(ctx context.Context, clientID string) (string, error)
	Fetch(ctx context.Context, item string, consumer transfer.Consumer) (transfer.Result, error)
}

type handler func(ctx context.Context, s *Shell, arg string) (stop bool, err error)

var handlers = map[Kind]handler{
	Help:    handleHelp,
	List:    handleList,
	Request: handleRequest,
	Info:    handleInfo,
	Exit:    handleExit,
	Invalid: handleInvalid,
}

const menu = `
Menu:
--------------------------------------------------------
'help'          - Show this menu.
'list'          - List all available songs.
'request'       - Request a song from another client.
'info'          - Get info about a specific client.
'exit'          - Quit the application.
--------------------------------------------------------
`

// Shell is the interactive command loop.
type Shell struct {
	dir      Directory
	consumer transfer.Consumer
	in       *bufio.Scanner
	out      io.Writer
	logger   *slog.Logger
}

func NewShell(dir Directory, consumer transfer.Consumer, in io.Reader, out io.Writer, logger *slog.Logger) *Shell {
	return &Shell{
		dir:      dir,
		consumer: consumer,
		in:       bufio.NewScanner(in),
		out:      out,
		logger:   logger,
	}
}

// Run shows the menu and executes commands until exit, end of input, or a
// closed directory connection.
func (s *Shell) Run(ctx context.Context) error {
	fmt.Fprint(s.out, menu)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(s.out, "Enter command: ")
		line, ok := s.readLine()
		if !ok {
			return s.in.Err()
		}
		stop, err := s.Execute(ctx, line)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

// Execute runs one command line. Request failures are printed; only a
// closed directory connection is returned as an error.
func (s *Shell) Execute(ctx context.Context, line string) (bool, error) {
	kind, arg := ParseLine(line)
	s.logger.Debug("Executing command", "kind", kind, "arg", arg)
	stop, err := handlers[kind](ctx, s, arg)
	if err != nil {
		if errors.Is(err, client.ErrConnectionClosed) {
			fmt.Fprintln(s.out, "Connection lost. Exiting.")
			return true, err
		}
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
	return stop, nil
}

func (s *Shell) readLine() (string, bool) {
	if !s.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(s.in.Text()), true
}

// argument returns arg, or prompts for it when the command line had none.
func (s *Shell) argument(arg, prompt string) (string, bool) {
	if arg != "" {
		return arg, true
	}
	fmt.Fprint(s.out, prompt)
	line, ok := s.readLine()
	return line, ok && line != ""
}

func handleHelp(_ context.Context, s *Shell, _ string) (bool, error) {
	fmt.Fprint(s.out, menu)
	return false, nil
}

func handleList(ctx context.Context, s *Shell, _ string) (bool, error) {
	fmt.Fprintln(s.out, "\nMusic list : ")
	fmt.Fprintln(s.out, "--------------------------------------------------------")
	for line, err := range s.dir.RequestList(ctx) {
		if err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, line)
	}
	return false, nil
}

func handleRequest(ctx context.Context, s *Shell, arg string) (bool, error) {
	item, ok := s.argument(arg, "Enter the name of the song you want to request: ")
	if !ok {
		return false, errors.New("no song name given")
	}
	result, err := s.dir.Fetch(ctx, item, s.consumer)
	if err != nil {
		if errors.Is(err, client.ErrTimeout) || errors.Is(err, transfer.ErrNotFound) {
			fmt.Fprintln(s.out, "The requested song was not found or no response received.")
			return false, nil
		}
		return false, err
	}
	fmt.Fprintf(s.out, "Received %s from %s (%d bytes)\n", result.Item, result.Peer, result.Bytes)
	return false, nil
}

func handleInfo(ctx context.Context, s *Shell, arg string) (bool, error) {
	clientID, ok := s.argument(arg, "Enter the client ID to get info: ")
	if !ok {
		return false, errors.New("no client ID given")
	}
	line, err := s.dir.RequestInfo(ctx, clientID)
	if err != nil {
		if errors.Is(err, client.ErrTimeout) {
			fmt.Fprintln(s.out, "No response received.")
			return false, nil
		}
		return false, err
	}
	fmt.Fprintln(s.out, line)
	return false, nil
}

func handleExit(_ context.Context, s *Shell, _ string) (bool, error) {
	fmt.Fprintln(s.out, "Exiting client...")
	return true, nil
}

func handleInvalid(_ context.Context, s *Shell, _ string) (bool, error) {
	fmt.Fprintln(s.out, "Invalid command, please try again.")
	return false, nil
}

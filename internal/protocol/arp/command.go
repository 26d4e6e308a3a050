package arp

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is a parsed protocol command line.
//
// Args hold the raw argument fields in wire order. Use the typed accessors
// (Path, Checksum, Size, Text) instead of indexing Args directly.
type Command struct {
	Name string
	Args []string
}

// ============================================================================
// Parsing
// ============================================================================

// Parse decodes a single command line (without its terminator).
//
// The first field is matched case-sensitively by prefix against the known
// command set. The line splits into at most three fields, so further colons
// stay in the third one verbatim. Single-argument commands ignore a third
// field; send keeps everything after its name as text.
//
// Errors:
//   - ErrUnknownCommand: first field matches no command
//   - ErrMalformedCommand: missing arguments or a non-numeric size/checksum
//   - ErrInvalidPath: empty path, or a path field holding a separator
func Parse(line string) (Command, error) {
	head, rest, hasArgs := strings.Cut(line, string(Separator))

	name, arity, ok := lookupCommand(head)
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, head)
	}

	cmd := Command{Name: name}
	if arity == 0 {
		return cmd, nil
	}

	if !hasArgs {
		return Command{}, fmt.Errorf("%w: %s expects %d argument(s)", ErrMalformedCommand, name, arity)
	}

	if name == CmdSend {
		cmd.Args = []string{rest}
		return cmd, nil
	}

	fields := strings.SplitN(rest, string(Separator), 2)
	if len(fields) < arity {
		return Command{}, fmt.Errorf("%w: %s expects %d argument(s), got %d",
			ErrMalformedCommand, name, arity, len(fields))
	}
	cmd.Args = fields[:arity]

	if err := cmd.validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// lookupCommand resolves the first field of a line to a command name.
func lookupCommand(head string) (string, int, bool) {
	for _, c := range commandArity {
		if strings.HasPrefix(head, c.name) {
			return c.name, c.arity, true
		}
	}
	return "", 0, false
}

// validate checks typed arguments after splitting.
func (c Command) validate() error {
	if c.Name == CmdSend {
		return nil
	}
	if err := ValidatePath(c.Args[0]); err != nil {
		return err
	}

	switch c.Name {
	case CmdRequestSubmit:
		if _, err := strconv.ParseUint(c.Args[1], 16, 32); err != nil {
			return fmt.Errorf("%w: bad checksum %q", ErrMalformedCommand, c.Args[1])
		}
	case CmdWriteFile:
		if _, err := strconv.ParseUint(c.Args[1], 10, 63); err != nil {
			return fmt.Errorf("%w: bad size %q", ErrMalformedCommand, c.Args[1])
		}
	}
	return nil
}

// ============================================================================
// Accessors
// ============================================================================

// Path returns the path argument, or "" for commands without one.
func (c Command) Path() string {
	switch c.Name {
	case CmdRequestSubmit, CmdAcceptWrite, CmdDenyWrite, CmdWriteFile, CmdGet, CmdNotFound:
		if len(c.Args) > 0 {
			return c.Args[0]
		}
	}
	return ""
}

// Checksum returns the CRC32 carried by requestsubmit.
func (c Command) Checksum() uint32 {
	if c.Name != CmdRequestSubmit || len(c.Args) < 2 {
		return 0
	}
	v, _ := strconv.ParseUint(c.Args[1], 16, 32)
	return uint32(v)
}

// Size returns the payload length carried by writefile.
func (c Command) Size() int64 {
	if c.Name != CmdWriteFile || len(c.Args) < 2 {
		return 0
	}
	v, _ := strconv.ParseUint(c.Args[1], 10, 63)
	return int64(v)
}

// Text returns the free-form text of a send command.
func (c Command) Text() string {
	if c.Name != CmdSend || len(c.Args) == 0 {
		return ""
	}
	return c.Args[0]
}

// String renders the command without its terminator (for logs).
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + string(Separator) + strings.Join(c.Args, string(Separator))
}

// ============================================================================
// Encoding
// ============================================================================

// Encode renders the command as a newline-terminated wire line.
//
// Encode does not validate; commands built through the constructors below are
// always encodable. Use Marshal for commands assembled by hand.
func (c Command) Encode() []byte {
	s := c.String()
	buf := make([]byte, 0, len(s)+1)
	buf = append(buf, s...)
	return append(buf, '\n')
}

// Marshal validates the command and renders it as a wire line.
func (c Command) Marshal() ([]byte, error) {
	_, arity, ok := lookupCommand(c.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, c.Name)
	}
	if len(c.Args) != arity {
		return nil, fmt.Errorf("%w: %s expects %d argument(s), got %d",
			ErrMalformedCommand, c.Name, arity, len(c.Args))
	}

	for i, arg := range c.Args {
		last := i == len(c.Args)-1
		if strings.ContainsAny(arg, "\n\x00") {
			return nil, fmt.Errorf("%w: argument %d contains a line terminator", ErrMalformedCommand, i)
		}
		// Only the final field may carry separators.
		if !last && strings.ContainsRune(arg, Separator) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, arg)
		}
	}
	if arity > 0 && c.Name != CmdSend {
		if err := ValidatePath(c.Args[0]); err != nil {
			return nil, err
		}
	}
	return c.Encode(), nil
}

// ValidatePath reports whether a path can travel on the wire.
// Paths may never contain the field separator or a line terminator.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if strings.ContainsAny(path, ":\n\r\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return nil
}

// FormatChecksum renders a checksum the way it travels on the wire:
// uppercase hexadecimal without padding (0xAAAA -> "AAAA").
func FormatChecksum(sum uint32) string {
	return strings.ToUpper(strconv.FormatUint(uint64(sum), 16))
}

// ============================================================================
// Constructors
// ============================================================================

func pathCommand(name, path string) (Command, error) {
	if err := ValidatePath(path); err != nil {
		return Command{}, err
	}
	return Command{Name: name, Args: []string{path}}, nil
}

// List builds "list".
func List() Command { return Command{Name: CmdList} }

// Finished builds "finished".
func Finished() Command { return Command{Name: CmdFinished} }

// RequestSubmit builds "requestsubmit:<path>:<CHECKSUM>".
func RequestSubmit(path string, sum uint32) (Command, error) {
	if err := ValidatePath(path); err != nil {
		return Command{}, err
	}
	return Command{Name: CmdRequestSubmit, Args: []string{path, FormatChecksum(sum)}}, nil
}

// AcceptWrite builds "acceptWrite:<path>".
func AcceptWrite(path string) (Command, error) { return pathCommand(CmdAcceptWrite, path) }

// DenyWrite builds "denyWrite:<path>".
func DenyWrite(path string) (Command, error) { return pathCommand(CmdDenyWrite, path) }

// Get builds "get:<path>".
func Get(path string) (Command, error) { return pathCommand(CmdGet, path) }

// NotFound builds "notFound:<path>".
func NotFound(path string) (Command, error) { return pathCommand(CmdNotFound, path) }

// WriteFile builds "writefile:<path>:<size>".
func WriteFile(path string, size int64) (Command, error) {
	if err := ValidatePath(path); err != nil {
		return Command{}, err
	}
	if size < 0 {
		return Command{}, fmt.Errorf("%w: negative size %d", ErrMalformedCommand, size)
	}
	return Command{Name: CmdWriteFile, Args: []string{path, strconv.FormatInt(size, 10)}}, nil
}

// Send builds "send:<text>". Line terminators inside text are replaced by spaces.
func Send(text string) Command {
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == 0 {
			return ' '
		}
		return r
	}, text)
	return Command{Name: CmdSend, Args: []string{text}}
}

package arp

// Command names. Matching is case-sensitive.
const (
	// CmdList - requester asks for the provider's full registry
	CmdList = "list"

	// CmdRequestSubmit - "I want to upload path; here is my checksum" (either direction)
	CmdRequestSubmit = "requestsubmit"

	// CmdAcceptWrite - provider permits an upload
	CmdAcceptWrite = "acceptWrite"

	// CmdDenyWrite - provider refuses an upload (identical or in flight)
	CmdDenyWrite = "denyWrite"

	// CmdWriteFile - the next N raw bytes are the content of path
	CmdWriteFile = "writefile"

	// CmdGet - requester asks the provider to send path
	CmdGet = "get"

	// CmdFinished - sender exhausted its current queue of offers/requests
	CmdFinished = "finished"

	// CmdSend - free-form text, no transfer semantics
	CmdSend = "send"

	// CmdNotFound - provider cannot read a requested path (opt-in extension)
	CmdNotFound = "notFound"
)

// commandArity lists every known command with its argument count.
// Order matters for prefix matching and is kept stable.
var commandArity = []struct {
	name  string
	arity int
}{
	{CmdRequestSubmit, 2},
	{CmdAcceptWrite, 1},
	{CmdDenyWrite, 1},
	{CmdWriteFile, 2},
	{CmdNotFound, 1},
	{CmdFinished, 0},
	{CmdList, 0},
	{CmdSend, 1},
	{CmdGet, 1},
}

const (
	// DefaultMaxLineLength bounds an unterminated command line. Real commands are
	// a name plus a path and a number, so anything near this size is garbage.
	DefaultMaxLineLength = 64 * 1024

	// Separator between command fields.
	Separator = ':'
)

// Package arp implements the wire layer of the Asset Replication Protocol.
//
// # Wire Format
//
// A connection carries newline-terminated text commands interleaved with raw
// binary payloads:
//
//	requestsubmit:textures/rock.dds:1A2B3C4D\n
//	writefile:textures/rock.dds:4096\n
//	<4096 raw bytes>
//	finished\n
//
// Commands follow the grammar `name ":" arg1 [":" arg2] "\n"`. A trailing
// carriage return is stripped and a NUL byte terminates a line just like a
// newline. The byte count announced by writefile is authoritative: exactly that
// many bytes are routed to the payload sink before the next line is parsed.
//
// # Components
//
//   - Codec (command.go): parse and build commands
//   - Demuxer (demux.go): split a byte stream into lines and payload bytes,
//     carrying partial lines and payloads across read boundaries
//
// # Thread Safety
//
// Command values are immutable and safe to share. A Demuxer belongs to a single
// connection and must not be fed concurrently.
package arp

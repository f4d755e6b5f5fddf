// Package guac implements the length-prefixed instruction framing used by
// the remote-desktop gateway wire protocol, and a pass-through bridge that
// relays framed instructions between a browser socket and the gateway leg.
package guac

import (
	"strings"
)

// Instruction is one parsed wire instruction: an opcode and its ordered
// arguments. Values are immutable once parsed.
type Instruction struct {
	Opcode string
	Args   []string
}

// Parse decodes a raw instruction of the form
//
//	<len>.<opcode>[,<arg>]*;
//
// where <len> is the exact byte length of the opcode token. It returns nil
// for anything malformed; callers drop the frame and keep relaying.
func Parse(raw string) *Instruction {
	if len(raw) < 4 || raw[len(raw)-1] != ';' {
		return nil
	}

	dot := strings.IndexByte(raw, '.')
	if dot <= 0 {
		return nil
	}

	declared := 0
	for _, c := range raw[:dot] {
		if c < '0' || c > '9' {
			return nil
		}
		declared = declared*10 + int(c-'0')
	}

	body := raw[dot+1 : len(raw)-1]
	if strings.ContainsRune(body, ';') {
		return nil
	}

	tokens := strings.Split(body, ",")
	opcode := tokens[0]
	if opcode == "" || len(opcode) != declared {
		return nil
	}

	args := make([]string, len(tokens)-1)
	copy(args, tokens[1:])
	return &Instruction{Opcode: opcode, Args: args}
}

// Build encodes an instruction to its wire form. Build and Parse round-trip
// losslessly for any opcode/args free of the framing delimiters.
func Build(opcode string, args ...string) string {
	var b strings.Builder
	b.Grow(len(opcode) + 8)
	writeInt(&b, len(opcode))
	b.WriteByte('.')
	b.WriteString(opcode)
	for _, arg := range args {
		b.WriteByte(',')
		b.WriteString(arg)
	}
	b.WriteByte(';')
	return b.String()
}

// String returns the wire form of the instruction.
func (in *Instruction) String() string {
	return Build(in.Opcode, in.Args...)
}

func writeInt(b *strings.Builder, n int) {
	if n >= 10 {
		writeInt(b, n/10)
	}
	b.WriteByte(byte('0' + n%10))
}

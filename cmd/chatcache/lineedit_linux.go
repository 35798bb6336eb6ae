//go:build linux

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/samcharles93/chatcache/internal/session"
)

var interactiveHistory []string

func readInteractiveLine(prompt string) (string, error) {
	if !stdinIsTTY() {
		return readPlainLine()
	}

	fd := int(os.Stdin.Fd())
	oldState, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return "", err
	}
	newState := *oldState
	newState.Lflag &^= unix.ICANON | unix.ECHO
	newState.Cc[unix.VMIN] = 1
	newState.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &newState); err != nil {
		return "", err
	}
	defer func() {
		_ = unix.IoctlSetTermios(fd, unix.TCSETS, oldState)
	}()

	b := newLineBuffer(&interactiveHistory)
	redraw := func() {
		fmt.Printf("\r%s%s\x1b[K", prompt, b.String())
		if b.cursor < len(b.line) {
			fmt.Printf("\r%s%s", prompt, string(b.line[:b.cursor]))
		}
	}
	fmt.Print(prompt)

	// Multi-byte input arrives one byte at a time.
	var asm session.Assembler
	escState := 0
	var escBuf strings.Builder
	var buf [16]byte

	for {
		n, err := os.Stdin.Read(buf[:])
		if err != nil {
			return "", err
		}
		for _, c := range buf[:n] {
			switch escState {
			case 1:
				escState = 0
				switch c {
				case '[':
					escState = 2
					escBuf.Reset()
				case 'b', 'B':
					b.wordLeft()
				case 'f', 'F':
					b.wordRight()
				case 127:
					b.deleteWordBack()
				}
				redraw()
				continue
			case 2:
				escBuf.WriteByte(c)
				if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || c == '~' {
					handleCSI(b, escBuf.String())
					escState = 0
					redraw()
				}
				continue
			}

			switch c {
			case 27: // ESC
				escState = 1
			case '\r', '\n':
				fmt.Print("\r\n")
				return b.commit(), nil
			case 3: // Ctrl+C
				fmt.Print("^C\r\n")
				return "", io.EOF
			case 4: // Ctrl+D
				if len(b.line) == 0 {
					fmt.Print("\r\n")
					return "", io.EOF
				}
			case 127, 8:
				b.backspace()
				redraw()
			case 1: // Ctrl+A
				b.home()
				redraw()
			case 5: // Ctrl+E
				b.end()
				redraw()
			case 21: // Ctrl+U
				b.set("")
				redraw()
			case 23: // Ctrl+W
				b.deleteWordBack()
				redraw()
			default:
				if c >= 32 {
					if text := asm.Push(string([]byte{c})); text != "" {
						b.insert(text)
						redraw()
					}
				}
			}
		}
	}
}

func handleCSI(b *lineBuffer, seq string) {
	switch seq {
	case "A":
		b.historyUp()
	case "B":
		b.historyDown()
	case "D":
		b.left()
	case "C":
		b.right()
	case "H", "1~":
		b.home()
	case "F", "4~":
		b.end()
	case "3~":
		b.deleteAtCursor()
	case "1;5D", "5D":
		b.wordLeft()
	case "1;5C", "5C":
		b.wordRight()
	case "3;5~":
		b.deleteWordForward()
	}
}

var stdinReader = bufio.NewReader(os.Stdin)

func readPlainLine() (string, error) {
	s, err := stdinReader.ReadString('\n')
	if err != nil && (err != io.EOF || s == "") {
		return "", err
	}
	return trimTrailingNewline(s), nil
}

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Login(ctx context.Context, args []string) error
	Send(ctx context.Context, args []string) error
	Thread(ctx context.Context, args []string) error
	Read(ctx context.Context, args []string) error
	Convos(ctx context.Context) error
	URL(ctx context.Context, args []string) error
	Whoami(ctx context.Context) error
	Logout(ctx context.Context) error
}

// runREPL reads commands line by line from reader and dispatches them to a.
// It shares reader with commands that prompt for more input, such as a
// multi-line message body. The loop exits on EOF or "exit"/"quit".
//
// Command errors are printed and the loop continues.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("msg %s> ", statusFn()))

		line, err := reader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var cmdErr error
		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: send, thread, read, convos, url, whoami, logout, exit")
			} else {
				printlnFn("Available commands: login [user], whoami, exit")
			}

		case "login":
			cmdErr = a.Login(ctx, args)

		case "send":
			cmdErr = a.Send(ctx, args)

		case "thread", "t":
			cmdErr = a.Thread(ctx, args)

		case "read":
			cmdErr = a.Read(ctx, args)

		case "convos", "c":
			cmdErr = a.Convos(ctx)

		case "url":
			cmdErr = a.URL(ctx, args)

		case "whoami":
			cmdErr = a.Whoami(ctx)

		case "logout":
			cmdErr = a.Logout(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if cmdErr != nil {
			printlnFn("error:", cmdErr)
		}
		if errors.Is(err, io.EOF) {
			return
		}
	}
}

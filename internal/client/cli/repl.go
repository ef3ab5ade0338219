package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface is the command surface the REPL drives. App satisfies it.
type execIface interface {
	Send(ctx context.Context, scope, to, text string) error
	SendFile(ctx context.Context, scope, to, path string) error
	Download(ctx context.Context, messageID, path string) error
	History(ctx context.Context, contactID string) error
	GroupHistory(ctx context.Context, groupID string) error
}

const helpText = `Available commands:
  send <user> <text>        send a personal message
  group <group> <text>      send a group message
  sendfile <user> <path>    send a file
  download <id> <path>      save a received file
  history <user>            show the conversation with a user
  history -g <group>        show the messages of a group
  exit | quit               leave`

// runREPL reads commands from scanner until EOF or exit. Handler errors are
// printed and the loop goes on.
func runREPL(ctx context.Context, a execIface, scanner *bufio.Scanner) {
	for {
		fmt.Print("securechat > ")
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		cmd, args := parts[0], parts[1:]
		var err error

		switch cmd {
		case "help":
			printlnFn(helpText)
		case "send", "group":
			if len(args) < 2 {
				printlnFn("Usage:", cmd, "<to> <text>")
				continue
			}
			scope := "PERSONAL"
			if cmd == "group" {
				scope = "GROUP"
			}
			err = a.Send(ctx, scope, args[0], strings.Join(args[1:], " "))
		case "sendfile":
			if len(args) != 2 {
				printlnFn("Usage: sendfile <user> <path>")
				continue
			}
			err = a.SendFile(ctx, "PERSONAL", args[0], args[1])
		case "download":
			if len(args) != 2 {
				printlnFn("Usage: download <id> <path>")
				continue
			}
			err = a.Download(ctx, args[0], args[1])
		case "history":
			switch {
			case len(args) == 1 && args[0] != "-g":
				err = a.History(ctx, args[0])
			case len(args) == 2 && args[0] == "-g":
				err = a.GroupHistory(ctx, args[1])
			default:
				printlnFn("Usage: history <user> | history -g <group>")
				continue
			}
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn("error:", err)
		}
	}
}

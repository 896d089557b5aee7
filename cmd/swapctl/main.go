// Command swapctl is the trader and operator client of exchanged.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	defaultNode    = "http://127.0.0.1:8645"
	defaultPassEnv = "SWAPCTL_PASSPHRASE"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	node := envOr("SWAPCTL_NODE", defaultNode)
	token := os.Getenv("SWAPCTL_ADMIN_TOKEN")
	args, err := applyGlobalFlags(args, &node, &token)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	cli := &cli{client: newClient(node, token), stdout: stdout, stderr: stderr}

	switch args[0] {
	case "generate-key":
		return cli.generateKey(args[1:])
	case "address":
		return cli.address(args[1:])
	case "hash-offer":
		return cli.hashOffer(args[1:])
	case "match":
		return cli.match(args[1:])
	case "submit":
		return cli.submit(args[1:])
	case "status":
		return cli.get("/v1/status")
	case "offer":
		return cli.getByID(args[1:], "/v1/offers/%s")
	case "assets":
		return cli.getByID(args[1:], "/v1/offers/%s/assets")
	case "trader":
		return cli.getByID(args[1:], "/v1/traders/%s")
	case "activity":
		return cli.activity(args[1:])
	case "admin-token":
		return cli.adminToken(args[1:])
	case "admin":
		return cli.admin(args[1:])
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

// applyGlobalFlags consumes --node and --token ahead of the command name so
// subcommands remain free to define flags of the same name.
func applyGlobalFlags(args []string, node, token *string) ([]string, error) {
	for len(args) > 0 && strings.HasPrefix(args[0], "--") {
		name, value, hasValue := strings.Cut(args[0], "=")
		var target *string
		switch name {
		case "--node":
			target = node
		case "--token":
			target = token
		default:
			return args, nil
		}
		args = args[1:]
		if !hasValue {
			if len(args) == 0 {
				return nil, fmt.Errorf("%s requires a value", name)
			}
			value, args = args[0], args[1:]
		}
		*target = value
	}
	return args, nil
}

func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func usage() string {
	return `Usage: swapctl [--node URL] [--token JWT] <command> [flags]

Keys:
  generate-key --keystore PATH [--pass-env VAR]
  address      --keystore PATH [--pass-env VAR]

Offers:
  hash-offer --offer FILE
  match      --maker FILE --taker FILE
  submit     <list|make|accept|cancel|cancel-batch|increment-nonce|reclaim|approve-all|approve-token> --keystore PATH [flags]

Queries:
  status
  offer ID
  assets ID
  trader ADDRESS
  activity [--trader ADDR] [--hash HASH] [--type TYPE] [--limit N]

Operators:
  admin-token [--secret-env VAR] [--subject NAME] [--ttl DURATION]
  admin <trading|blacklist|token|partner|remove-partner|mint> [flags]`
}

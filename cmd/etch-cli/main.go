// etch-cli is a command-line client for an etchd instance.
//
// Usage:
//
//	etch-cli [--api URL] submit <message>
//	etch-cli [--api URL] status <request-id>
//	etch-cli [--api URL] health
//	etch-cli [--api URL] list
//	etch-cli [--api URL] get <request-id>
//	etch-cli [--api URL] delete <request-id>
//	etch-cli [--api URL] retry <request-id>
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/etchlabs/etchd/internal/client"
	"github.com/etchlabs/etchd/internal/request"
)

func main() {
	apiURL := "http://127.0.0.1:3000"

	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--api" && len(args) > 1:
			apiURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--api="):
			apiURL = args[0][len("--api="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	c := client.New(apiURL)
	cmd, rest := args[0], args[1:]

	var err error
	switch cmd {
	case "submit":
		err = cmdSubmit(c, rest)
	case "status":
		err = cmdStatus(c, rest)
	case "health":
		err = cmdHealth(c)
	case "list":
		err = cmdList(c)
	case "get":
		err = cmdGet(c, rest)
	case "delete":
		err = cmdDelete(c, rest)
	case "retry":
		err = cmdRetry(c, rest)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func cmdSubmit(c *client.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: etch-cli submit <message>")
	}
	resp, err := c.Submit(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Request ID: %s\n", resp.RequestID)
	fmt.Printf("Deposit address: %s\n", resp.Address)
	fmt.Printf("Required amount: %d sat\n", resp.RequiredAmountSatoshis)
	return nil
}

func cmdStatus(c *client.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: etch-cli status <request-id>")
	}
	req, err := c.Status(args[0])
	if err != nil {
		return err
	}
	return printJSON(req)
}

func cmdHealth(c *client.Client) error {
	info, err := c.Health()
	if err != nil {
		return err
	}
	return printJSON(info)
}

func cmdList(c *client.Client) error {
	reqs, err := c.AdminList()
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		fmt.Println("No requests.")
		return nil
	}
	for _, req := range reqs {
		fmt.Printf("%s  %-22s  %s  %q\n", req.ID, req.Status, req.CreatedAt.Format("2006-01-02 15:04:05"), req.Message)
	}
	return nil
}

func cmdGet(c *client.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: etch-cli get <request-id>")
	}
	req, err := c.AdminGet(args[0])
	if err != nil {
		return err
	}
	return printJSON(req)
}

func cmdDelete(c *client.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: etch-cli delete <request-id>")
	}
	if err := c.AdminDelete(args[0]); err != nil {
		return err
	}
	fmt.Println("Deleted.")
	return nil
}

func cmdRetry(c *client.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: etch-cli retry <request-id>")
	}
	req, err := c.Retry(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Status: %s\n", req.Status)
	if req.Status == request.StatusOpReturnBroadcasted {
		fmt.Printf("OP_RETURN tx: %s\n", req.OpReturnTxID)
	}
	return nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, `etch-cli - client for an etchd instance

Usage:
  etch-cli [--api URL] <command> [args]

Commands:
  submit <message>      Create a message-embedding request
  status <request-id>   Show request status
  health                Check server health
  list                  List all requests (admin)
  get <request-id>      Show full request record (admin)
  delete <request-id>   Delete a request (admin)
  retry <request-id>    Retry a failed OP_RETURN broadcast (admin)

Flags:
  --api URL             API base URL (default http://127.0.0.1:3000)`)
}

// Command client is a small CLI for exercising the demo wire facade
// exposed by cmd/server, adapted from the teacher's subcommand-per-
// operation CLI idiom.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
)

func main() {
	serverURL := flag.String("server", "http://localhost:50051", "server base URL")

	accountCmd := flag.NewFlagSet("account", flag.ExitOnError)
	accountID := accountCmd.Uint64("id", 1, "account id")

	increaseCmd := flag.NewFlagSet("increase", flag.ExitOnError)
	increaseAccount := increaseCmd.Uint64("account", 1, "account id")
	increaseCurrency := increaseCmd.Uint("currency", 1, "currency id")
	increaseAmount := increaseCmd.String("amount", "0", "amount")

	orderCmd := flag.NewFlagSet("order", flag.ExitOnError)
	orderSymbol := orderCmd.Uint("symbol", 1, "symbol id")
	orderAccount := orderCmd.Uint64("account", 1, "account id")
	orderSide := orderCmd.String("side", "BID", "BID or ASK")
	orderType := orderCmd.String("type", "LIMIT", "LIMIT or MARKET")
	orderPrice := orderCmd.String("price", "", "limit price")
	orderQty := orderCmd.String("qty", "", "quantity")
	orderVolume := orderCmd.String("volume", "", "volume, market-bid only")

	cancelCmd := flag.NewFlagSet("cancel", flag.ExitOnError)
	cancelSymbol := cancelCmd.Uint("symbol", 1, "symbol id")
	cancelAccount := cancelCmd.Uint64("account", 1, "account id")
	cancelOrderID := cancelCmd.Uint64("order-id", 0, "order id")

	bookCmd := flag.NewFlagSet("book", flag.ExitOnError)
	bookSymbol := bookCmd.Uint("symbol", 1, "symbol id")
	bookLevels := bookCmd.Int("levels", 10, "depth levels")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	flag.Parse()

	switch os.Args[1] {
	case "account":
		accountCmd.Parse(os.Args[2:])
		get(*serverURL, fmt.Sprintf("/account?account_id=%d", *accountID))
	case "increase":
		increaseCmd.Parse(os.Args[2:])
		postJSON(*serverURL+"/account/increase", map[string]any{"account_id": *increaseAccount, "currency_id": *increaseCurrency, "amount": *increaseAmount})
	case "order":
		orderCmd.Parse(os.Args[2:])
		postJSON(*serverURL+"/order", map[string]any{
			"symbol_id": *orderSymbol, "account_id": *orderAccount, "side": *orderSide, "type": *orderType,
			"price": *orderPrice, "quantity": *orderQty, "volume": *orderVolume,
		})
	case "cancel":
		cancelCmd.Parse(os.Args[2:])
		get(*serverURL, fmt.Sprintf("/order/cancel?symbol_id=%d&account_id=%d&order_id=%d", *cancelSymbol, *cancelAccount, *cancelOrderID))
	case "book":
		bookCmd.Parse(os.Args[2:])
		get(*serverURL, fmt.Sprintf("/book?symbol_id=%d&levels=%d", *bookSymbol, *bookLevels))
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`clob-exchange client

Usage:
  client <command> [options]

Commands:
  account   View account balances
  increase  Credit an account
  order     Place an order
  cancel    Cancel an order
  book      View an order book`)
}

func get(serverURL, path string) {
	resp, err := http.Get(serverURL + path)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	defer resp.Body.Close()
	printJSON(resp.Body)
}

func postJSON(url string, body map[string]any) {
	buf, err := json.Marshal(body)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	defer resp.Body.Close()
	printJSON(resp.Body)
}

func printJSON(r io.Reader) {
	raw, err := io.ReadAll(r)
	if err != nil {
		fmt.Printf("error reading response: %v\n", err)
		return
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(pretty.String())
}

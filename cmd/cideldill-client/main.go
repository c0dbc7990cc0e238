// cideldill-client is a small demo binary exercising internal/proxy
// end to end: it wraps a local add function, drives one interceptable
// call against a running cideldill-server, and prints the result.
package main

import (
	"fmt"
	"os"

	"github.com/curtcox/cideldill/internal/config"
	"github.com/curtcox/cideldill/internal/proxy"
)

func add(x, y int) int {
	return x + y
}

func main() {
	serverURL, err := config.DiscoverServerURL()
	if err != nil {
		fmt.Fprintln(os.Stderr, "cideldill-client: discover server:", err)
		os.Exit(1)
	}

	client := proxy.NewClient(serverURL)
	wrappedAdd := proxy.WrapFunc(add, "add", client)

	result := wrappedAdd(1, 2)
	fmt.Printf("1 + 2 = %d\n", result)
}

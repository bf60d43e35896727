// Command storops runs declarative operational test workflows against the
// CTA and Enstore storage services.
package main

import (
	"context"
	"os"
)

func main() {
	os.Exit(Execute(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

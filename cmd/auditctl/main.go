// auditctl inspects and migrates the audit store.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(openPostgres).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

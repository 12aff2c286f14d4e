// Command devguardctl validates and runs device workflows, evaluates
// admission gates, inspects the audit trail and issues operator tokens.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

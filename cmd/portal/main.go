// Command portal はecomlabsの社内ツールポータルを起動する。
//
//	portal [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/ecomlabs/toolsportal/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "portal: %v\n", err)
		os.Exit(1)
	}
}

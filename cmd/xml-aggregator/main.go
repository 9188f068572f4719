// Package main is the entry point for the XML aggregation server.
package main

import (
	"os"

	"github.com/nicolasjuan/xml-api-aggregator/cmd/xml-aggregator/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

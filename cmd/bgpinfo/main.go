// SPDX-License-Identifier: MIT

// bgpinfo is the command-line front end for the data modules: RPKI origin
// validation (live or historical), bogon checks, country and AS name
// lookups, AS relationships, and MRT collector listings.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

const version = "1.0.0"

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: bgpinfo <command> [options] <args>

Commands:
  validate <prefix> <asn>   RPKI origin validation
  lookup <prefix>           List ROA entries covering a prefix
  aspa <asn>                ASPA provider list for a customer ASN
  bogon <prefix-or-asn>     Check against the IANA special registries
  country <code-or-name>    Country lookup
  asname <asn>              AS name and country lookup
  org <asn>                 AS-to-organization lookup with siblings
  rel <asn1> <asn2>         AS-level relationship lookup
  collectors                List public MRT collectors
  peers                     List collector BGP peers
  version                   Show version

Run bgpinfo <command> -h for command options.

Environment (also read from .env):
  BGPINFO_CACHE_DIR         Snapshot cache directory for historical loads
  BGPINFO_USER_AGENT        HTTP User-Agent override
`)
	os.Exit(1)
}

func main() {
	// A missing .env is fine.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
	}

	ctx := context.Background()
	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "validate":
		err = runValidate(ctx, args)
	case "lookup":
		err = runLookup(ctx, args)
	case "aspa":
		err = runAspa(ctx, args)
	case "bogon":
		err = runBogon(ctx, args)
	case "country":
		err = runCountry(ctx, args)
	case "asname":
		err = runAsname(ctx, args)
	case "org":
		err = runOrg(ctx, args)
	case "rel":
		err = runRel(ctx, args)
	case "collectors":
		err = runCollectors(ctx, args)
	case "peers":
		err = runPeers(ctx, args)
	case "version":
		fmt.Printf("bgpinfo version %s\n", version)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

// newFlagSet builds a flag set that prints its own defaults on error.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bgpinfo %s [options] <args>\n\nOptions:\n", name)
		fs.PrintDefaults()
	}
	return fs
}

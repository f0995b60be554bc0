// Command gatesql-keygen creates or inspects the gateway key bundle.
// Client tooling on other hosts needs a copy of the same bundle to
// speak to the gateway; this command is how operators mint it ahead of
// the first daemon start.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/gatesql/gatesql/internal/crypt"
)

func main() {
	keyFile := flag.String("keyfile", "gatesql.key.pem", "path to the key bundle")
	inspect := flag.Bool("inspect", false, "verify an existing bundle instead of creating one")
	flag.Parse()

	if *inspect {
		if _, _, err := crypt.BundleMaterial(*keyFile); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%s: root key and payload descriptor present\n", *keyFile)
		return
	}

	if _, err := os.Stat(*keyFile); err == nil {
		log.Fatalf("%s already exists; use -inspect to verify it", *keyFile)
	}
	if _, err := crypt.EnsureKeyBundle(*keyFile); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("wrote %s\n", *keyFile)
}

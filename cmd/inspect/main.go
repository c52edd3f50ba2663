// Command inspect opens a bridged event store offline and dumps threads,
// events or raw keys. Intended for operators debugging a stopped instance;
// pebble does not allow a second live opener.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
)

func main() {
	dbPath := flag.String("db", "./.bridged", "Pebble DB path")
	thread := flag.String("thread", "", "dump events of one thread")
	prefix := flag.String("prefix", "", "dump raw keys with this prefix")
	flag.Parse()

	db, err := pebble.Open(*dbPath, &pebble.Options{ReadOnly: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", *dbPath, err)
		os.Exit(1)
	}
	defer db.Close()

	switch {
	case *prefix != "":
		dumpPrefix(db, *prefix)
	case *thread != "":
		dumpPrefix(db, "thread:"+*thread+":evt:")
	default:
		dumpThreads(db)
	}
}

func dumpThreads(db *pebble.DB) {
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "iter: %v\n", err)
		os.Exit(1)
	}
	defer iter.Close()
	p := []byte("thread:")
	for iter.SeekGE(p); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), p) {
			break
		}
		if !bytes.HasSuffix(iter.Key(), []byte(":meta")) {
			continue
		}
		fmt.Println(compact(iter.Value()))
	}
}

func dumpPrefix(db *pebble.DB, prefix string) {
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "iter: %v\n", err)
		os.Exit(1)
	}
	defer iter.Close()
	p := []byte(prefix)
	for iter.SeekGE(p); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), p) {
			break
		}
		fmt.Printf("%s\t%s\n", iter.Key(), compact(iter.Value()))
	}
}

func compact(v []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return string(v)
	}
	return buf.String()
}

// Command mdbstat opens an environment read-only and prints its info
// and per-database statistics.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/openkv/mdbkv"
)

var cli struct {
	Path     string   `arg:"" help:"Environment path."`
	NoSubdir bool     `help:"Path names the data file itself, not a directory."`
	DB       []string `short:"d" help:"Named databases to report (default: environment only)."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("mdbstat"),
		kong.Description("Dump statistics of an mdbkv environment."))

	env, err := mdbkv.Open(cli.Path, mdbkv.Options{
		ReadOnly: true,
		NoSubdir: cli.NoSubdir,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer env.Close()

	info, err := env.Info()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("map size:     %d\n", info.MapSize)
	fmt.Printf("last page:    %d\n", info.LastPNO)
	fmt.Printf("last txn:     %d\n", info.LastTxnID)
	fmt.Printf("max readers:  %d\n", info.MaxReaders)
	fmt.Printf("used readers: %d\n", info.NumReaders)

	st, err := env.Stat()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	printStat("(root)", st)

	if len(cli.DB) == 0 {
		return
	}
	err = env.View(func(tx *mdbkv.Tx) error {
		for _, name := range cli.DB {
			db, found, err := mdbkv.OpenDBIfExists(tx, name, 0)
			if err != nil {
				return err
			}
			if !found {
				fmt.Printf("\n%s: not found\n", name)
				continue
			}
			st, err := db.Stat(tx)
			if err != nil {
				return err
			}
			printStat(name, st)
		}
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printStat(name string, st *mdbkv.Stat) {
	fmt.Printf("\n%s:\n", name)
	fmt.Printf("  entries:        %d\n", st.Entries)
	fmt.Printf("  depth:          %d\n", st.Depth)
	fmt.Printf("  branch pages:   %d\n", st.BranchPages)
	fmt.Printf("  leaf pages:     %d\n", st.LeafPages)
	fmt.Printf("  overflow pages: %d\n", st.OverflowPages)
}

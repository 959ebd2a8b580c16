// Command ecukvctl is a non-interactive inspection and maintenance tool
// for key-value store and resource configuration table files.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/GENIVI/persistence-common-object-sub001/pkg/kvstore"
	"github.com/GENIVI/persistence-common-object-sub001/pkg/rct"
)

func main() {
	fs := flag.NewFlagSet("ecukvctl", flag.ExitOnError)

	dbPath := fs.StringP("db", "d", "", "path to database file")
	isRCT := fs.Bool("rct", false, "open path as a resource configuration table")
	jsonOut := fs.Bool("json", false, "output as JSON")
	tuning := fs.String("tuning", "", "path to a JSONC tuning file overriding the built-in key/value/table limits")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: ecukvctl --db <path> [--rct] <command>")
		fmt.Fprintln(os.Stderr, "commands: keys, size <key>, get <key>, rm <key>, export <path>, import <path>")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	if *tuning != "" {
		if err := kvstore.LoadLimits(*tuning); err != nil {
			fmt.Fprintf(os.Stderr, "load tuning: %v\n", err)
			os.Exit(1)
		}
	}

	args := fs.Args()
	if *dbPath == "" || len(args) == 0 {
		fs.Usage()
		os.Exit(2)
	}

	if err := run(*dbPath, *isRCT, *jsonOut, args); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(dbPath string, isRCT, jsonOut bool, args []string) error {
	if isRCT {
		h, err := rct.Open(dbPath, false)
		if err != nil {
			return fmt.Errorf("open: %w", err)
		}
		defer rct.Close(h)

		return runRCT(h, jsonOut, args)
	}

	h, err := kvstore.Open(dbPath, 0)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer kvstore.Close(h)

	return runKV(h, jsonOut, args)
}

func runKV(h kvstore.Handle, jsonOut bool, args []string) error {
	switch args[0] {
	case "keys":
		keys, err := kvstore.GetKeysList(h)
		if err != nil {
			return err
		}

		return printKeys(keys, jsonOut)

	case "size":
		if len(args) != 2 {
			return fmt.Errorf("usage: size <key>")
		}

		n, err := kvstore.GetKeySize(h, []byte(args[1]))
		if err != nil {
			return err
		}

		fmt.Println(n)

		return nil

	case "get":
		if len(args) != 2 {
			return fmt.Errorf("usage: get <key>")
		}

		n, err := kvstore.GetKeySize(h, []byte(args[1]))
		if err != nil {
			return err
		}

		buf := make([]byte, n)
		if _, err := kvstore.ReadKey(h, []byte(args[1]), buf); err != nil {
			return err
		}

		os.Stdout.Write(buf)
		fmt.Println()

		return nil

	case "rm":
		if len(args) != 2 {
			return fmt.Errorf("usage: rm <key>")
		}

		return kvstore.DeleteKey(h, []byte(args[1]))

	case "export":
		if len(args) != 2 {
			return fmt.Errorf("usage: export <path>")
		}

		return kvstore.ExportSnapshot(h, args[1])

	case "import":
		if len(args) != 2 {
			return fmt.Errorf("usage: import <path>")
		}

		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}

		return kvstore.ImportSnapshot(h, data)

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runRCT(h rct.Handle, jsonOut bool, args []string) error {
	switch args[0] {
	case "keys":
		keys, err := rct.GetResourcesList(h)
		if err != nil {
			return err
		}

		return printKeys(keys, jsonOut)

	case "get":
		if len(args) != 2 {
			return fmt.Errorf("usage: get <key>")
		}

		rec, err := rct.Read(h, []byte(args[1]))
		if err != nil {
			return err
		}

		if jsonOut {
			enc := json.NewEncoder(os.Stdout)
			return enc.Encode(rec)
		}

		fmt.Printf("%+v\n", rec)

		return nil

	case "rm":
		if len(args) != 2 {
			return fmt.Errorf("usage: rm <key>")
		}

		return rct.Delete(h, []byte(args[1]))

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printKeys(keys [][]byte, jsonOut bool) error {
	if jsonOut {
		strs := make([]string, len(keys))
		for i, k := range keys {
			strs[i] = string(k)
		}

		enc := json.NewEncoder(os.Stdout)

		return enc.Encode(strs)
	}

	for _, k := range keys {
		fmt.Println(string(k))
	}

	return nil
}

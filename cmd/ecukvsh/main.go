// Command ecukvsh is an interactive shell for poking at a local key-value
// store or resource configuration table file.
//
// Commands (in REPL):
//
//	put <key> <value>     write a key in the open LDB store
//	get <key>              read a key
//	del <key>              delete a key
//	keys                   list every key
//	rct-write <key> <policy> <storage> <perm> <max_size> <name> <custom_id> <resp>
//	rct-read <key>         read and print an RCT record
//	rct-del <key>          delete an RCT record
//	info                   show handle and path info
//	help                   show this message
//	exit                   quit
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/GENIVI/persistence-common-object-sub001/pkg/kvstore"
	"github.com/GENIVI/persistence-common-object-sub001/pkg/rct"
)

func main() {
	dbPath := flag.String("db", "", "path to database file (LDB format unless -rct)")
	isRCT := flag.Bool("rct", false, "open path as a resource configuration table")
	create := flag.Bool("create", true, "create the file if it does not exist")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: ecukvsh -db <path> [-rct] [-create=false]")
		os.Exit(2)
	}

	r := &repl{path: *dbPath, rctMode: *isRCT}

	if err := r.open(*create); err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}

	if err := r.run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type repl struct {
	path    string
	rctMode bool
	kv      kvstore.Handle
	rc      rct.Handle
	liner   *liner.State
}

func (r *repl) open(create bool) error {
	var flags kvstore.OpenFlags
	if create {
		flags |= kvstore.FlagCreate
	}

	if r.rctMode {
		h, err := rct.Open(r.path, create)
		if err != nil {
			return err
		}

		r.rc = h

		return nil
	}

	h, err := kvstore.Open(r.path, flags)
	if err != nil {
		return err
	}

	r.kv = h

	return nil
}

func (r *repl) close() error {
	if r.rctMode {
		return rct.Close(r.rc)
	}

	return kvstore.Close(r.kv)
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".ecukvsh_history")
}

func (r *repl) run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("ecukvsh - %s (rct=%v)\n", r.path, r.rctMode)
	fmt.Println("Type 'help' for available commands.")

	for {
		line, err := r.liner.Prompt("ecukv> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			r.saveHistory()
			return r.close()

		case "help", "?":
			r.printHelp()

		case "put":
			r.cmdPut(args)

		case "get":
			r.cmdGet(args)

		case "del", "delete":
			r.cmdDelete(args)

		case "keys", "ls", "list":
			r.cmdKeys()

		case "rct-write":
			r.cmdRCTWrite(args)

		case "rct-read":
			r.cmdRCTRead(args)

		case "rct-del":
			r.cmdRCTDelete(args)

		case "info":
			fmt.Printf("path=%s rct=%v\n", r.path, r.rctMode)

		default:
			fmt.Printf("unknown command: %s (type 'help')\n", cmd)
		}
	}

	r.saveHistory()

	return r.close()
}

func (r *repl) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *repl) completer(line string) []string {
	commands := []string{
		"put", "get", "del", "delete", "keys", "ls", "list",
		"rct-write", "rct-read", "rct-del", "info", "help",
		"exit", "quit", "q",
	}

	var out []string

	for _, c := range commands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}

	return out
}

func (r *repl) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  put <key> <value>      write a key (LDB mode)")
	fmt.Println("  get <key>              read a key (LDB mode)")
	fmt.Println("  del <key>              delete a key")
	fmt.Println("  keys                   list every key")
	fmt.Println("  rct-write <key> <policy:wt|wb> <storage:local|shared|custom> <perm:ro|rw> <max_size> <name> <custom_id> <resp>")
	fmt.Println("  rct-read <key>         read and print an RCT record")
	fmt.Println("  rct-del <key>          delete an RCT record")
	fmt.Println("  info                   show handle and path info")
	fmt.Println("  exit                   quit")
}

func (r *repl) cmdPut(args []string) {
	if r.rctMode || len(args) < 2 {
		fmt.Println("usage: put <key> <value> (LDB mode only)")
		return
	}

	n, err := kvstore.WriteKey(r.kv, []byte(args[0]), []byte(strings.Join(args[1:], " ")))
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	fmt.Printf("wrote %d bytes\n", n)
}

func (r *repl) cmdGet(args []string) {
	if r.rctMode || len(args) != 1 {
		fmt.Println("usage: get <key> (LDB mode only)")
		return
	}

	n, err := kvstore.GetKeySize(r.kv, []byte(args[0]))
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	buf := make([]byte, n)
	if _, err := kvstore.ReadKey(r.kv, []byte(args[0]), buf); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	fmt.Printf("%s\n", buf)
}

func (r *repl) cmdDelete(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: del <key>")
		return
	}

	var err error
	if r.rctMode {
		err = rct.Delete(r.rc, []byte(args[0]))
	} else {
		err = kvstore.DeleteKey(r.kv, []byte(args[0]))
	}

	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	fmt.Println("ok")
}

func (r *repl) cmdKeys() {
	var keys [][]byte

	var err error
	if r.rctMode {
		keys, err = rct.GetResourcesList(r.rc)
	} else {
		keys, err = kvstore.GetKeysList(r.kv)
	}

	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	for _, k := range keys {
		fmt.Printf("%s\n", k)
	}

	fmt.Printf("(%d keys)\n", len(keys))
}

func (r *repl) cmdRCTWrite(args []string) {
	if !r.rctMode || len(args) < 8 {
		fmt.Println("usage: rct-write <key> <policy> <storage> <perm> <max_size> <name> <custom_id> <resp> (rct mode only)")
		return
	}

	policy, err := parsePolicy(args[1])
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	storage, err := parseStorage(args[2])
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	perm, err := parsePermission(args[3])
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	maxSize, err := strconv.ParseUint(args[4], 10, 32)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	record := rct.Record{
		Policy:      policy,
		Storage:     storage,
		Permission:  perm,
		Type:        rct.ResourceTypeKey,
		MaxSize:     uint32(maxSize),
		CustomName:  args[5],
		CustomID:    args[6],
		Responsible: strings.Join(args[7:], " "),
	}

	if err := rct.Write(r.rc, []byte(args[0]), record); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	fmt.Println("ok")
}

func (r *repl) cmdRCTRead(args []string) {
	if !r.rctMode || len(args) != 1 {
		fmt.Println("usage: rct-read <key> (rct mode only)")
		return
	}

	rec, err := rct.Read(r.rc, []byte(args[0]))
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	fmt.Printf("%+v\n", rec)
}

func (r *repl) cmdRCTDelete(args []string) {
	r.cmdDelete(args)
}

func parsePolicy(s string) (rct.Policy, error) {
	switch s {
	case "wt":
		return rct.PolicyWriteThrough, nil
	case "wb":
		return rct.PolicyWriteBack, nil
	default:
		return 0, fmt.Errorf("unknown policy %q (want wt|wb)", s)
	}
}

func parseStorage(s string) (rct.Storage, error) {
	switch s {
	case "local":
		return rct.StorageLocal, nil
	case "shared":
		return rct.StorageShared, nil
	case "custom":
		return rct.StorageCustom, nil
	default:
		return 0, fmt.Errorf("unknown storage %q (want local|shared|custom)", s)
	}
}

func parsePermission(s string) (rct.Permission, error) {
	switch s {
	case "ro":
		return rct.PermissionReadOnly, nil
	case "rw":
		return rct.PermissionReadWrite, nil
	default:
		return 0, fmt.Errorf("unknown permission %q (want ro|rw)", s)
	}
}

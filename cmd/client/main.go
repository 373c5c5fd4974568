package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/regiscop/decuma/client"
	"github.com/regiscop/decuma/core"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  client -addr <host:port> echo <msg>\n")
	fmt.Fprintf(os.Stderr, "  client -addr <host:port> toc\n")
	fmt.Fprintf(os.Stderr, "  client -addr <host:port> new <path> <field,field,...>\n")
	fmt.Fprintf(os.Stderr, "  client -addr <host:port> insert <path> <t> <x,x,...>\n")
	fmt.Fprintf(os.Stderr, "  client -addr <host:port> get_all <path>\n")
	os.Exit(1)
}

func splitPath(p string) core.Path {
	return strings.Split(strings.Trim(p, "/"), "/")
}

func splitFloats(s string) []float64 {
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			log.Fatalf("invalid number %q: %v", p, err)
		}
		out[i] = v
	}
	return out
}

func main() {
	if len(os.Args) < 4 || os.Args[1] != "-addr" {
		usage()
	}
	addr := os.Args[2]
	action := os.Args[3]
	args := os.Args[4:]

	c := client.New(addr, 10*time.Second)

	switch action {
	case "echo":
		if len(args) != 1 {
			usage()
		}
		msg, err := c.Echo(args[0])
		if err != nil {
			log.Fatalf("echo: %v", err)
		}
		fmt.Println(msg)

	case "toc":
		root, err := c.TOC()
		if err != nil {
			log.Fatalf("toc: %v", err)
		}
		printTOC(root, "")

	case "new":
		if len(args) != 2 {
			usage()
		}
		fields := strings.Split(args[1], ",")
		if err := c.Folder(splitPath(args[0])...).New(fields); err != nil {
			log.Fatalf("new: %v", err)
		}
		fmt.Println("done")

	case "insert":
		if len(args) != 3 {
			usage()
		}
		t, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			log.Fatalf("invalid timestamp %q: %v", args[1], err)
		}
		if err := c.Folder(splitPath(args[0])...).Insert(t, splitFloats(args[2]), core.KeepBoth); err != nil {
			log.Fatalf("insert: %v", err)
		}
		fmt.Println("done")

	case "get_all":
		if len(args) != 1 {
			usage()
		}
		t, x, err := c.Folder(splitPath(args[0])...).GetAll(nil)
		if err != nil {
			log.Fatalf("get_all: %v", err)
		}
		for i := range t {
			fmt.Println(t[i], x[i])
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown action %q\n", action)
		usage()
	}
}

func printTOC(node *core.TOCNode, indent string) {
	for name, child := range node.Children {
		if child.Entry != nil {
			fmt.Printf("%s%s (%d points)\n", indent, name, child.Entry.Length)
		} else {
			fmt.Printf("%s%s/\n", indent, name)
			printTOC(child, indent+"  ")
		}
	}
}

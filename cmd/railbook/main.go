package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/yuhao-qian/railbook"
)

func main() {
	out := bufio.NewWriter(os.Stdout)
	sys, err := railbook.Open("./bin", out)

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 1<<16), 1<<16)

	for in.Scan() {
		if !sys.Execute(in.Text()) {
			break
		}
	}

	out.Flush()

	if err := sys.Close(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

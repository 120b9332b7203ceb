// Command campusfind はキャンパスの落とし物・拾得物APIサーバーを起動する。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/campusfind/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

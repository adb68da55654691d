package main

import (
	"os"

	"horse.fit/sift/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}

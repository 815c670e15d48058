// Command organizerctl inspects and adjusts pipeline state in redis.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(openRedisStore).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

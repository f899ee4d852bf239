// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	lakesync "github.com/lakesync/lakesync/cmd/lakesync"
)

func main() {
	if err := lakesync.Execute(); err != nil {
		os.Exit(1)
	}
}

// Command gateway-cli is the operator-facing management tool for the
// openrelay gateway: provider/model/settings administration, migrations,
// and history/stats reporting against the same store the server uses.
package main

import (
	"os"

	"github.com/openrelay/gateway/internal/interfaces/cli"
)

func main() {
	os.Exit(cli.Execute())
}
